package repository

import (
    "context"
    "database/sql"
    "errors"
    "fmt"

    "github.com/iliyamo/ticketing-core/internal/database"
    "github.com/iliyamo/ticketing-core/internal/ledger"
    "github.com/iliyamo/ticketing-core/internal/model"
)

const tierColumns = `id, event_id, group_id, name, price_cents, total_tickets,
    available_inventory, reserved_inventory, sold_inventory, tier_order,
    is_active, hide_until_previous_sold_out, fee_flat_cents, fee_pct_bps, inherit_group_fees`

// TierRepo encapsulates database operations for ticket_tiers.  Every
// inventory mutation goes through ApplyTx, which re-reads the row and
// verifies the ledger invariant before the caller may commit.
type TierRepo struct {
    db      *sql.DB
    dialect database.Dialect
}

// NewTierRepo constructs a TierRepo given a DB handle and its dialect.
func NewTierRepo(db *sql.DB, d database.Dialect) *TierRepo {
    return &TierRepo{db: db, dialect: d}
}

type rowScanner interface {
    Scan(dest ...any) error
}

func scanTier(s rowScanner) (*model.TicketTier, error) {
    var (
        t       model.TicketTier
        groupID sql.NullInt64
        flat    sql.NullInt64
        bps     sql.NullInt64
    )
    err := s.Scan(&t.ID, &t.EventID, &groupID, &t.Name, &t.PriceCents, &t.TotalTickets,
        &t.AvailableInventory, &t.ReservedInventory, &t.SoldInventory, &t.TierOrder,
        &t.IsActive, &t.HideUntilPreviousSoldOut, &flat, &bps, &t.InheritGroupFees)
    if err != nil {
        return nil, err
    }
    t.GroupID = nullInt64(groupID)
    t.FeeFlatCents = nullInt64(flat)
    t.FeePctBps = nullInt64(bps)
    return &t, nil
}

// Create inserts a tier with all of its stock available and sets t.ID.
func (r *TierRepo) Create(ctx context.Context, t *model.TicketTier) error {
    counts := ledger.New(t.TotalTickets)
    if err := counts.Verify(); err != nil {
        return err
    }
    res, err := r.db.ExecContext(ctx, `INSERT INTO ticket_tiers
        (event_id, group_id, name, price_cents, total_tickets, available_inventory,
         reserved_inventory, sold_inventory, tier_order, is_active,
         hide_until_previous_sold_out, fee_flat_cents, fee_pct_bps, inherit_group_fees)
        VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?, ?, ?, ?, ?, ?)`,
        t.EventID, int64OrNil(t.GroupID), t.Name, t.PriceCents, counts.Total, counts.Available,
        t.TierOrder, boolInt(t.IsActive), boolInt(t.HideUntilPreviousSoldOut),
        int64OrNil(t.FeeFlatCents), int64OrNil(t.FeePctBps), boolInt(t.InheritGroupFees))
    if err != nil {
        return err
    }
    id, err := res.LastInsertId()
    if err != nil {
        return err
    }
    t.ID = id
    t.AvailableInventory, t.ReservedInventory, t.SoldInventory = counts.Available, 0, 0
    return nil
}

// GetByID returns the tier or ErrTierNotFound.
func (r *TierRepo) GetByID(ctx context.Context, id int64) (*model.TicketTier, error) {
    return r.get(ctx, r.db, id, false)
}

// GetTx reads the tier inside tx without locking it.
func (r *TierRepo) GetTx(ctx context.Context, tx *sql.Tx, id int64) (*model.TicketTier, error) {
    return r.get(ctx, tx, id, false)
}

// GetForUpdateTx reads the tier inside tx holding an exclusive row lock
// until the transaction ends.
func (r *TierRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id int64) (*model.TicketTier, error) {
    return r.get(ctx, tx, id, true)
}

// selectByID is the single-tier read; with lock it carries the dialect's
// row-lock suffix.
func (r *TierRepo) selectByID(lock bool) string {
    q := `SELECT ` + tierColumns + ` FROM ticket_tiers WHERE id = ?`
    if lock {
        q += r.dialect.ForUpdate()
    }
    return q
}

func (r *TierRepo) get(ctx context.Context, q querier, id int64, lock bool) (*model.TicketTier, error) {
    row := q.QueryRowContext(ctx, r.selectByID(lock), id)
    t, err := scanTier(row)
    if errors.Is(err, sql.ErrNoRows) {
        return nil, ErrTierNotFound
    }
    return t, err
}

// ListByEvent returns every tier of an event ordered by tier_order.
func (r *TierRepo) ListByEvent(ctx context.Context, eventID int64) ([]model.TicketTier, error) {
    rows, err := r.db.QueryContext(ctx,
        `SELECT `+tierColumns+` FROM ticket_tiers WHERE event_id = ? ORDER BY tier_order, id`, eventID)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var out []model.TicketTier
    for rows.Next() {
        t, err := scanTier(rows)
        if err != nil {
            return nil, err
        }
        out = append(out, *t)
    }
    return out, rows.Err()
}

// EarlierTierAvailableTx reports whether an active tier ordered before t in
// the same event still has tickets available.
func (r *TierRepo) EarlierTierAvailableTx(ctx context.Context, tx *sql.Tx, t *model.TicketTier) (bool, error) {
    var n int
    err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM ticket_tiers
        WHERE event_id = ? AND id <> ? AND is_active = 1 AND available_inventory > 0
          AND (tier_order < ? OR (tier_order = ? AND id < ?))`,
        t.EventID, t.ID, t.TierOrder, t.TierOrder, t.ID).Scan(&n)
    if err != nil {
        return false, err
    }
    return n > 0, nil
}

// ApplyTx adds d to the tier's buckets and then verifies the invariant on
// the row as stored.  On violation it returns an error wrapping
// ledger.ErrInventoryCorruption and the caller must roll back.
func (r *TierRepo) ApplyTx(ctx context.Context, tx *sql.Tx, id int64, d ledger.Delta) (ledger.Counts, error) {
    res, err := tx.ExecContext(ctx, `UPDATE ticket_tiers
        SET available_inventory = available_inventory + ?,
            reserved_inventory = reserved_inventory + ?,
            sold_inventory = sold_inventory + ?
        WHERE id = ?`, d.Available, d.Reserved, d.Sold, id)
    if err != nil {
        return ledger.Counts{}, err
    }
    if n, err := res.RowsAffected(); err != nil {
        return ledger.Counts{}, err
    } else if n == 0 {
        return ledger.Counts{}, ErrTierNotFound
    }
    var c ledger.Counts
    err = tx.QueryRowContext(ctx, `SELECT total_tickets, available_inventory, reserved_inventory, sold_inventory
        FROM ticket_tiers WHERE id = ?`, id).Scan(&c.Total, &c.Available, &c.Reserved, &c.Sold)
    if err != nil {
        return ledger.Counts{}, err
    }
    if err := c.Verify(); err != nil {
        return c, fmt.Errorf("tier %d: %w", id, err)
    }
    return c, nil
}
