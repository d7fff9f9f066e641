package repository

import (
    "context"
    "database/sql"
    "errors"

    "github.com/iliyamo/ticketing-core/internal/database"
)

// FeeRepo reads and writes the global fee defaults in ticketing_fees, one
// row per deployment environment.
type FeeRepo struct {
    db      *sql.DB
    dialect database.Dialect
}

// NewFeeRepo constructs a FeeRepo.
func NewFeeRepo(db *sql.DB, d database.Dialect) *FeeRepo { return &FeeRepo{db: db, dialect: d} }

// GetDefault returns the flat and percentage fee for environment.  ok is
// false when no row exists.
func (r *FeeRepo) GetDefault(ctx context.Context, environment string) (flat, bps int64, ok bool, err error) {
    err = r.db.QueryRowContext(ctx,
        `SELECT fee_flat_cents, fee_pct_bps FROM ticketing_fees WHERE environment = ?`, environment).
        Scan(&flat, &bps)
    if errors.Is(err, sql.ErrNoRows) {
        return 0, 0, false, nil
    }
    if err != nil {
        return 0, 0, false, err
    }
    return flat, bps, true, nil
}

// SetDefault replaces the fee defaults for environment.
func (r *FeeRepo) SetDefault(ctx context.Context, environment string, flat, bps int64) error {
    stmt := `INSERT INTO ticketing_fees (environment, fee_flat_cents, fee_pct_bps) VALUES (?, ?, ?)
        ON CONFLICT(environment) DO UPDATE SET fee_flat_cents = excluded.fee_flat_cents, fee_pct_bps = excluded.fee_pct_bps`
    if r.dialect == database.MySQL {
        stmt = `INSERT INTO ticketing_fees (environment, fee_flat_cents, fee_pct_bps) VALUES (?, ?, ?)
            ON DUPLICATE KEY UPDATE fee_flat_cents = VALUES(fee_flat_cents), fee_pct_bps = VALUES(fee_pct_bps)`
    }
    _, err := r.db.ExecContext(ctx, stmt, environment, flat, bps)
    return err
}
