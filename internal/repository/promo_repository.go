package repository

import (
    "context"
    "database/sql"
    "errors"
    "strings"
    "time"

    "github.com/iliyamo/ticketing-core/internal/model"
)

// PromoRepo stores promo codes and their event links.
type PromoRepo struct {
    db *sql.DB
}

// NewPromoRepo constructs a PromoRepo.
func NewPromoRepo(db *sql.DB) *PromoRepo { return &PromoRepo{db: db} }

// Create inserts a promo code linked to eventIDs (none means every event)
// and sets p.ID.  A duplicate code, compared case-insensitively, yields
// ErrConflict.
func (r *PromoRepo) Create(ctx context.Context, p *model.PromoCode, eventIDs []int64, now time.Time) (err error) {
    tx, err := r.db.BeginTx(ctx, nil)
    if err != nil {
        return err
    }
    committed := false
    defer func() {
        if !committed {
            _ = tx.Rollback()
        }
    }()

    var dup int
    if err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM promo_codes WHERE LOWER(code) = LOWER(?)`, p.Code).Scan(&dup); err != nil {
        return err
    }
    if dup > 0 {
        return ErrConflict
    }
    res, err := tx.ExecContext(ctx, `INSERT INTO promo_codes
        (code, discount_type, discount_value, is_active, expires_at, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
        strings.TrimSpace(p.Code), p.DiscountType, p.DiscountValue, boolInt(p.IsActive), millisOrNil(p.ExpiresAt), toMillis(now))
    if err != nil {
        if isUniqueViolation(err) {
            return ErrConflict
        }
        return err
    }
    id, err := res.LastInsertId()
    if err != nil {
        return err
    }
    for _, eid := range eventIDs {
        if _, err = tx.ExecContext(ctx,
            `INSERT INTO event_promo_codes (promo_code_id, event_id) VALUES (?, ?)`, id, eid); err != nil {
            if isUniqueViolation(err) {
                continue
            }
            return err
        }
    }
    if err = tx.Commit(); err != nil {
        return err
    }
    committed = true
    p.ID = id
    p.CreatedAt = now.UTC()
    return nil
}

// FindByCode looks a code up case-insensitively.  It returns nil, nil when
// no code matches.
func (r *PromoRepo) FindByCode(ctx context.Context, code string) (*model.PromoCode, error) {
    var (
        p         model.PromoCode
        expiresAt sql.NullInt64
        createdAt int64
    )
    err := r.db.QueryRowContext(ctx, `SELECT id, code, discount_type, discount_value, is_active, expires_at, created_at
        FROM promo_codes WHERE LOWER(code) = LOWER(?)`, strings.TrimSpace(code)).
        Scan(&p.ID, &p.Code, &p.DiscountType, &p.DiscountValue, &p.IsActive, &expiresAt, &createdAt)
    if errors.Is(err, sql.ErrNoRows) {
        return nil, nil
    }
    if err != nil {
        return nil, err
    }
    p.ExpiresAt = nullMillis(expiresAt)
    p.CreatedAt = fromMillis(createdAt)
    return &p, nil
}

// LinkStats returns how many events the code is linked to and whether
// eventID is one of them.  Callers run it even for unknown codes (id 0) so
// that the work done does not depend on whether the code exists.
func (r *PromoRepo) LinkStats(ctx context.Context, promoID, eventID int64) (links int, linked bool, err error) {
    var matches int
    err = r.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(CASE WHEN event_id = ? THEN 1 ELSE 0 END), 0)
        FROM event_promo_codes WHERE promo_code_id = ?`, eventID, promoID).Scan(&links, &matches)
    if err != nil {
        return 0, false, err
    }
    return links, matches > 0, nil
}
