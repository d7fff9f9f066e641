package repository

import (
    "context"
    "database/sql"
    "errors"
    "time"

    "github.com/iliyamo/ticketing-core/internal/model"
)

// HoldRepo provides data access to the ticket_holds table.  A hold row is
// deleted at the moment the hold ends, so the DELETE's affected-row count
// is what decides which of two concurrent release/convert calls wins.
type HoldRepo struct {
    db *sql.DB
}

// NewHoldRepo returns a new HoldRepo bound to the provided database.
func NewHoldRepo(db *sql.DB) *HoldRepo { return &HoldRepo{db: db} }

const holdColumns = `id, ticket_tier_id, quantity, user_id, fingerprint, expires_at, created_at`

func scanHold(s rowScanner) (*model.Hold, error) {
    var (
        h         model.Hold
        userID    sql.NullInt64
        expiresAt int64
        createdAt int64
    )
    if err := s.Scan(&h.ID, &h.TicketTierID, &h.Quantity, &userID, &h.Fingerprint, &expiresAt, &createdAt); err != nil {
        return nil, err
    }
    h.UserID = nullInt64(userID)
    h.ExpiresAt = fromMillis(expiresAt)
    h.CreatedAt = fromMillis(createdAt)
    return &h, nil
}

// CreateTx inserts a hold within the provided transaction.  The caller is
// responsible for committing or rolling back the transaction.
func (r *HoldRepo) CreateTx(ctx context.Context, tx *sql.Tx, h *model.Hold) error {
    _, err := tx.ExecContext(ctx, `INSERT INTO ticket_holds
        (id, ticket_tier_id, quantity, user_id, fingerprint, expires_at, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
        h.ID, h.TicketTierID, h.Quantity, int64OrNil(h.UserID), h.Fingerprint,
        toMillis(h.ExpiresAt), toMillis(h.CreatedAt))
    return err
}

// GetByID returns the hold or ErrNotFound.
func (r *HoldRepo) GetByID(ctx context.Context, id string) (*model.Hold, error) {
    return r.get(ctx, r.db, id)
}

// GetTx reads a hold inside tx.  It returns ErrNotFound when the hold has
// already ended.
func (r *HoldRepo) GetTx(ctx context.Context, tx *sql.Tx, id string) (*model.Hold, error) {
    return r.get(ctx, tx, id)
}

func (r *HoldRepo) get(ctx context.Context, q querier, id string) (*model.Hold, error) {
    h, err := scanHold(q.QueryRowContext(ctx, `SELECT `+holdColumns+` FROM ticket_holds WHERE id = ?`, id))
    if errors.Is(err, sql.ErrNoRows) {
        return nil, ErrNotFound
    }
    return h, err
}

// DeleteTx removes the hold and reports whether this call was the one that
// removed it.  Under MySQL a concurrent DELETE of the same id blocks on the
// row lock and then affects zero rows.
func (r *HoldRepo) DeleteTx(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
    res, err := tx.ExecContext(ctx, `DELETE FROM ticket_holds WHERE id = ?`, id)
    if err != nil {
        return false, err
    }
    n, err := res.RowsAffected()
    if err != nil {
        return false, err
    }
    return n == 1, nil
}

// ListExpiredIDs returns up to limit hold ids whose expires_at is at or
// before now, oldest first.
func (r *HoldRepo) ListExpiredIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
    rows, err := r.db.QueryContext(ctx,
        `SELECT id FROM ticket_holds WHERE expires_at <= ? ORDER BY expires_at, id LIMIT ?`,
        toMillis(now), limit)
    if err != nil {
        return nil, err
    }
    var ids []string
    for rows.Next() {
        var id string
        if scanErr := rows.Scan(&id); scanErr != nil {
            rows.Close()
            return nil, scanErr
        }
        ids = append(ids, id)
    }
    if err = rows.Close(); err != nil {
        return nil, err
    }
    return ids, rows.Err()
}

// SumQuantityByTier returns the total quantity of open holds on a tier.  It
// always equals the tier's reserved_inventory.
func (r *HoldRepo) SumQuantityByTier(ctx context.Context, tierID int64) (int, error) {
    var n int
    err := r.db.QueryRowContext(ctx,
        `SELECT COALESCE(SUM(quantity), 0) FROM ticket_holds WHERE ticket_tier_id = ?`, tierID).Scan(&n)
    return n, err
}
