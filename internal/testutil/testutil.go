// Package testutil opens migrated in-memory databases and seeds fixtures
// for package tests.
package testutil

import (
    "context"
    "database/sql"
    "io"
    "testing"
    "time"

    "github.com/sirupsen/logrus"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/ticketing-core/internal/database"
)

// OpenDB returns a private, migrated in-memory SQLite database that is
// closed when the test ends.
func OpenDB(t testing.TB) *sql.DB {
    t.Helper()
    db, err := database.OpenSQLite(":memory:")
    require.NoError(t, err)
    t.Cleanup(func() { _ = db.Close() })
    require.NoError(t, database.Migrate(context.Background(), db, database.SQLite))
    return db
}

// Logger returns a logger that discards its output.
func Logger() *logrus.Logger {
    l := logrus.New()
    l.SetOutput(io.Discard)
    return l
}

// Clock is a settable time source.
type Clock struct {
    T time.Time
}

// NewClock starts a clock at a fixed instant.
func NewClock() *Clock {
    return &Clock{T: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time { return c.T }

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) { c.T = c.T.Add(d) }

// SeedEvent inserts an event that uses the default fees.
func SeedEvent(t testing.TB, db *sql.DB, name string) int64 {
    t.Helper()
    res, err := db.Exec(`INSERT INTO events (name, use_default_fees, created_at) VALUES (?, 1, ?)`,
        name, time.Now().UnixMilli())
    require.NoError(t, err)
    id, err := res.LastInsertId()
    require.NoError(t, err)
    return id
}

// TierSeed describes a tier fixture.  Zero values give an active tier with
// no group that inherits its fees.
type TierSeed struct {
    EventID                  int64
    GroupID                  *int64
    Name                     string
    PriceCents               int64
    Total                    int
    Order                    int
    Inactive                 bool
    HideUntilPreviousSoldOut bool
    FeeFlat                  *int64
    FeeBps                   *int64
    NoInherit                bool
}

// SeedTier inserts a tier with all of its stock available.
func SeedTier(t testing.TB, db *sql.DB, s TierSeed) int64 {
    t.Helper()
    if s.Name == "" {
        s.Name = "General"
    }
    res, err := db.Exec(`INSERT INTO ticket_tiers
        (event_id, group_id, name, price_cents, total_tickets, available_inventory, reserved_inventory,
         sold_inventory, tier_order, is_active, hide_until_previous_sold_out, fee_flat_cents, fee_pct_bps,
         inherit_group_fees)
        VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?, ?, ?, ?, ?, ?)`,
        s.EventID, ptr(s.GroupID), s.Name, s.PriceCents, s.Total, s.Total, s.Order,
        flag(!s.Inactive), flag(s.HideUntilPreviousSoldOut), ptr(s.FeeFlat), ptr(s.FeeBps), flag(!s.NoInherit))
    require.NoError(t, err)
    id, err := res.LastInsertId()
    require.NoError(t, err)
    return id
}

// TierCounts reads a tier's buckets.
func TierCounts(t testing.TB, db *sql.DB, tierID int64) (available, reserved, sold int) {
    t.Helper()
    require.NoError(t, db.QueryRow(`SELECT available_inventory, reserved_inventory, sold_inventory
        FROM ticket_tiers WHERE id = ?`, tierID).Scan(&available, &reserved, &sold))
    return available, reserved, sold
}

// SetQueue writes an event's queue configuration.
func SetQueue(t testing.TB, db *sql.DB, eventID int64, max, checkoutMin, sessionMin int, enabled bool) {
    t.Helper()
    _, err := db.Exec(`INSERT INTO queue_configurations
        (event_id, max_concurrent_users, checkout_timeout_minutes, session_timeout_minutes, enable_queue)
        VALUES (?, ?, ?, ?, ?)`, eventID, max, checkoutMin, sessionMin, flag(enabled))
    require.NoError(t, err)
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }

func ptr(p *int64) any {
    if p == nil {
        return nil
    }
    return *p
}

func flag(b bool) int {
    if b {
        return 1
    }
    return 0
}
