package repository

import (
    "context"
    "database/sql"
    "errors"
    "fmt"

    "github.com/iliyamo/ticketing-core/internal/model"
)

// SaleRepo persists ticket_sales, the record left behind when a hold is
// converted.
type SaleRepo struct {
    db *sql.DB
}

// NewSaleRepo constructs a SaleRepo.
func NewSaleRepo(db *sql.DB) *SaleRepo { return &SaleRepo{db: db} }

const saleColumns = `id, hold_id, ticket_tier_id, event_id, quantity, user_id, unit_price_cents,
    unit_fee_cents, discount_cents, total_cents, promo_code, payment_ref, created_at`

// CreateTx inserts a sale within the provided transaction and sets s.ID.
// A second sale for the same hold yields ErrConflict.
func (r *SaleRepo) CreateTx(ctx context.Context, tx *sql.Tx, s *model.TicketSale) error {
    res, err := tx.ExecContext(ctx, `INSERT INTO ticket_sales
        (hold_id, ticket_tier_id, event_id, quantity, user_id, unit_price_cents, unit_fee_cents,
         discount_cents, total_cents, promo_code, payment_ref, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
        s.HoldID, s.TicketTierID, s.EventID, s.Quantity, int64OrNil(s.UserID), s.UnitPriceCents,
        s.UnitFeeCents, s.DiscountCents, s.TotalCents, stringOrNil(s.PromoCode), stringOrNil(s.PaymentRef),
        toMillis(s.CreatedAt))
    if err != nil {
        if isUniqueViolation(err) {
            return fmt.Errorf("sale for hold %s: %w", s.HoldID, ErrConflict)
        }
        return err
    }
    id, err := res.LastInsertId()
    if err != nil {
        return err
    }
    s.ID = id
    return nil
}

func scanSale(s rowScanner) (*model.TicketSale, error) {
    var (
        sale      model.TicketSale
        userID    sql.NullInt64
        promo     sql.NullString
        payRef    sql.NullString
        createdAt int64
    )
    err := s.Scan(&sale.ID, &sale.HoldID, &sale.TicketTierID, &sale.EventID, &sale.Quantity, &userID,
        &sale.UnitPriceCents, &sale.UnitFeeCents, &sale.DiscountCents, &sale.TotalCents, &promo, &payRef, &createdAt)
    if err != nil {
        return nil, err
    }
    sale.UserID = nullInt64(userID)
    sale.PromoCode = nullString(promo)
    sale.PaymentRef = nullString(payRef)
    sale.CreatedAt = fromMillis(createdAt)
    return &sale, nil
}

// GetByHoldID returns the sale recorded for a hold, or ErrNotFound.
func (r *SaleRepo) GetByHoldID(ctx context.Context, holdID string) (*model.TicketSale, error) {
    sale, err := scanSale(r.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM ticket_sales WHERE hold_id = ?`, holdID))
    if errors.Is(err, sql.ErrNoRows) {
        return nil, ErrNotFound
    }
    return sale, err
}

// ListByUser returns the user's sales, newest first.
func (r *SaleRepo) ListByUser(ctx context.Context, userID int64) ([]model.TicketSale, error) {
    rows, err := r.db.QueryContext(ctx,
        `SELECT `+saleColumns+` FROM ticket_sales WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    out := []model.TicketSale{}
    for rows.Next() {
        sale, err := scanSale(rows)
        if err != nil {
            return nil, err
        }
        out = append(out, *sale)
    }
    return out, rows.Err()
}
