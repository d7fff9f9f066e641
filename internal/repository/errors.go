// Package repository defines the SQL data access for tiers, holds,
// sessions, fees, promo codes and sales, plus the error values shared
// across them.  Handlers and services branch on these sentinels with
// errors.Is; InsufficientInventoryError carries the numbers a caller needs
// to retry with a smaller quantity and is matched with errors.As.
package repository

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "strings"
    "time"

    "github.com/go-sql-driver/mysql"
    msqlite "modernc.org/sqlite"
    sqlite3lib "modernc.org/sqlite/lib"
)

// ErrNotFound is returned when a lookup by primary key matches no row.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert collides with a unique key.
var ErrConflict = errors.New("conflict")

// ErrTierNotFound is returned when a ticket tier does not exist.
var ErrTierNotFound = errors.New("ticket tier not found")

// ErrEventNotFound is returned when an event does not exist.
var ErrEventNotFound = errors.New("event not found")

// ErrTierUnavailable is returned for a tier that is inactive or is hidden
// until an earlier tier sells out.
var ErrTierUnavailable = errors.New("ticket tier not on sale")

// InsufficientInventoryError reports a hold request larger than the tier's
// available inventory.  No state is changed when it is returned.
type InsufficientInventoryError struct {
    Requested int
    Available int
}

func (e *InsufficientInventoryError) Error() string {
    return fmt.Sprintf("insufficient inventory: requested %d, available %d", e.Requested, e.Available)
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
    ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
    QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
    QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// isUniqueViolation reports whether err is a duplicate-key error from
// either supported driver.
func isUniqueViolation(err error) bool {
    if err == nil {
        return false
    }
    var myErr *mysql.MySQLError
    if errors.As(err, &myErr) {
        return myErr.Number == 1062
    }
    var sqliteErr *msqlite.Error
    if errors.As(err, &sqliteErr) {
        switch sqliteErr.Code() {
        case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
            return true
        }
    }
    return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// Timestamps are stored as unix milliseconds in BIGINT columns so both
// dialects compare them the same way.
func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(ms sql.NullInt64) *time.Time {
    if !ms.Valid {
        return nil
    }
    t := fromMillis(ms.Int64)
    return &t
}

func millisOrNil(t *time.Time) any {
    if t == nil {
        return nil
    }
    return toMillis(*t)
}

func nullInt64(v sql.NullInt64) *int64 {
    if !v.Valid {
        return nil
    }
    n := v.Int64
    return &n
}

func int64OrNil(p *int64) any {
    if p == nil {
        return nil
    }
    return *p
}

func nullString(v sql.NullString) *string {
    if !v.Valid {
        return nil
    }
    s := v.String
    return &s
}

func stringOrNil(p *string) any {
    if p == nil || *p == "" {
        return nil
    }
    return *p
}

func boolInt(b bool) int {
    if b {
        return 1
    }
    return 0
}
