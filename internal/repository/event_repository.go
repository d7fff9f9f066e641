package repository

import (
    "context"
    "database/sql"
    "errors"
    "time"

    "github.com/iliyamo/ticketing-core/internal/model"
)

// EventRepo stores events and their tier groups.
type EventRepo struct {
    db *sql.DB
}

// NewEventRepo constructs an EventRepo.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

// Create inserts an event and sets e.ID and e.CreatedAt.
func (r *EventRepo) Create(ctx context.Context, e *model.Event, now time.Time) error {
    res, err := r.db.ExecContext(ctx, `INSERT INTO events
        (name, use_default_fees, fee_flat_cents, fee_pct_bps, created_at) VALUES (?, ?, ?, ?, ?)`,
        e.Name, boolInt(e.UseDefaultFees), int64OrNil(e.FeeFlatCents), int64OrNil(e.FeePctBps), toMillis(now))
    if err != nil {
        return err
    }
    id, err := res.LastInsertId()
    if err != nil {
        return err
    }
    e.ID = id
    e.CreatedAt = now.UTC()
    return nil
}

// GetByID returns the event or ErrEventNotFound.
func (r *EventRepo) GetByID(ctx context.Context, id int64) (*model.Event, error) {
    var (
        e         model.Event
        flat, bps sql.NullInt64
        createdAt int64
    )
    err := r.db.QueryRowContext(ctx, `SELECT id, name, use_default_fees, fee_flat_cents, fee_pct_bps, created_at
        FROM events WHERE id = ?`, id).Scan(&e.ID, &e.Name, &e.UseDefaultFees, &flat, &bps, &createdAt)
    if errors.Is(err, sql.ErrNoRows) {
        return nil, ErrEventNotFound
    }
    if err != nil {
        return nil, err
    }
    e.FeeFlatCents = nullInt64(flat)
    e.FeePctBps = nullInt64(bps)
    e.CreatedAt = fromMillis(createdAt)
    return &e, nil
}

// CreateGroup inserts a tier group and sets g.ID.
func (r *EventRepo) CreateGroup(ctx context.Context, g *model.TicketTierGroup) error {
    res, err := r.db.ExecContext(ctx, `INSERT INTO ticket_tier_groups
        (event_id, name, inherit_event_fees, fee_flat_cents, fee_pct_bps) VALUES (?, ?, ?, ?, ?)`,
        g.EventID, g.Name, boolInt(g.InheritEventFees), int64OrNil(g.FeeFlatCents), int64OrNil(g.FeePctBps))
    if err != nil {
        return err
    }
    id, err := res.LastInsertId()
    if err != nil {
        return err
    }
    g.ID = id
    return nil
}

// GetGroup returns the tier group or ErrNotFound.
func (r *EventRepo) GetGroup(ctx context.Context, id int64) (*model.TicketTierGroup, error) {
    var (
        g         model.TicketTierGroup
        flat, bps sql.NullInt64
    )
    err := r.db.QueryRowContext(ctx, `SELECT id, event_id, name, inherit_event_fees, fee_flat_cents, fee_pct_bps
        FROM ticket_tier_groups WHERE id = ?`, id).Scan(&g.ID, &g.EventID, &g.Name, &g.InheritEventFees, &flat, &bps)
    if errors.Is(err, sql.ErrNoRows) {
        return nil, ErrNotFound
    }
    if err != nil {
        return nil, err
    }
    g.FeeFlatCents = nullInt64(flat)
    g.FeePctBps = nullInt64(bps)
    return &g, nil
}
