package service

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "time"

    "github.com/google/uuid"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/ticketing-core/internal/ledger"
    "github.com/iliyamo/ticketing-core/internal/model"
    "github.com/iliyamo/ticketing-core/internal/queue"
    "github.com/iliyamo/ticketing-core/internal/repository"
)

// DefaultHoldDuration is how long a hold lasts when the caller does not say.
const DefaultHoldDuration = 540 * time.Second

// MaxHoldDuration caps a caller-chosen hold length.
const MaxHoldDuration = 30 * time.Minute

// ErrInvalidQuantity is returned for a non-positive ticket quantity.
var ErrInvalidQuantity = errors.New("quantity must be positive")

// ErrInvalidDuration is returned for a hold length outside (0, MaxHoldDuration].
var ErrInvalidDuration = errors.New("hold duration out of range")

// CreateHoldRequest describes a hold to place.  UserID is nil for guests.
// A zero Duration uses the service default; anything else must lie in
// (0, MaxHoldDuration].
type CreateHoldRequest struct {
    TierID      int64
    Quantity    int
    UserID      *int64
    Fingerprint string
    Duration    time.Duration
}

// SaleOptions carries what the payment path knows about a conversion.
type SaleOptions struct {
    PromoCode  string
    PaymentRef string
}

// HoldService moves tickets between the ledger buckets: CreateHold takes
// them from available into reserved, ReleaseHold puts them back, and
// Checkout moves them on to sold.  Every mutation runs in one short
// transaction that verifies the tier invariant before committing.
type HoldService struct {
    logger       *logrus.Logger
    db           *sql.DB
    tiers        *repository.TierRepo
    holds        *repository.HoldRepo
    sales        *repository.SaleRepo
    pricing      *PricingService
    publisher    Publisher
    listings     ListingCache
    holdDuration time.Duration
    now          func() time.Time
}

type HoldServiceProperty struct {
    Logger       *logrus.Logger
    DB           *sql.DB
    Tiers        *repository.TierRepo
    Holds        *repository.HoldRepo
    Sales        *repository.SaleRepo
    Pricing      *PricingService
    Publisher    Publisher
    Listings     ListingCache
    HoldDuration time.Duration
    Now          func() time.Time
}

func NewHoldService(props HoldServiceProperty) *HoldService {
    d := props.HoldDuration
    if d <= 0 {
        d = DefaultHoldDuration
    }
    now := props.Now
    if now == nil {
        now = time.Now
    }
    pub := props.Publisher
    if pub == nil {
        pub = NoopPublisher{}
    }
    return &HoldService{
        logger:       props.Logger,
        db:           props.DB,
        tiers:        props.Tiers,
        holds:        props.Holds,
        sales:        props.Sales,
        pricing:      props.Pricing,
        publisher:    pub,
        listings:     listingCacheOrNoop(props.Listings),
        holdDuration: d,
        now:          now,
    }
}

func (s *HoldService) logLedgerError(ctx context.Context, err error, fields logrus.Fields) {
    entry := s.logger.WithContext(ctx).WithError(err).WithFields(fields)
    if errors.Is(err, ledger.ErrInventoryCorruption) {
        entry.WithField("alert", "inventory_corruption").Error("ledger invariant violated; transaction aborted")
        return
    }
    entry.Error("ledger mutation failed")
}

// CreateHold reserves req.Quantity tickets from a tier.  The tier row is
// locked before availability is read, so two concurrent requests can never
// both take the last tickets.  When the tier has too few tickets the
// returned error is an *repository.InsufficientInventoryError and nothing
// changes.
func (s *HoldService) CreateHold(ctx context.Context, req CreateHoldRequest) (*model.Hold, error) {
    if req.Quantity <= 0 {
        return nil, ErrInvalidQuantity
    }
    if req.Duration < 0 || req.Duration > MaxHoldDuration {
        return nil, ErrInvalidDuration
    }
    duration := req.Duration
    if duration == 0 {
        duration = s.holdDuration
    }
    fingerprint := req.Fingerprint
    if fingerprint == "" {
        fingerprint = "unknown"
    }

    tx, err := s.db.BeginTx(ctx, nil)
    if err != nil {
        return nil, err
    }
    committed := false
    defer func() {
        if !committed {
            _ = tx.Rollback()
        }
    }()

    tier, err := s.tiers.GetForUpdateTx(ctx, tx, req.TierID)
    if err != nil {
        return nil, err
    }
    if !tier.IsActive {
        return nil, repository.ErrTierUnavailable
    }
    if tier.HideUntilPreviousSoldOut {
        earlier, err := s.tiers.EarlierTierAvailableTx(ctx, tx, tier)
        if err != nil {
            return nil, err
        }
        if earlier {
            return nil, repository.ErrTierUnavailable
        }
    }
    if tier.AvailableInventory < req.Quantity {
        return nil, &repository.InsufficientInventoryError{Requested: req.Quantity, Available: tier.AvailableInventory}
    }

    if _, err := s.tiers.ApplyTx(ctx, tx, tier.ID, ledger.Reserve(req.Quantity)); err != nil {
        s.logLedgerError(ctx, err, logrus.Fields{"tier_id": tier.ID, "op": "reserve", "quantity": req.Quantity})
        return nil, err
    }

    now := s.now().UTC()
    hold := &model.Hold{
        ID:           uuid.NewString(),
        TicketTierID: tier.ID,
        Quantity:     req.Quantity,
        UserID:       req.UserID,
        Fingerprint:  fingerprint,
        ExpiresAt:    now.Add(duration).Truncate(time.Millisecond),
        CreatedAt:    now.Truncate(time.Millisecond),
    }
    if err := s.holds.CreateTx(ctx, tx, hold); err != nil {
        return nil, err
    }
    if err := tx.Commit(); err != nil {
        return nil, err
    }
    committed = true
    s.listings.Invalidate(ctx, tier.EventID)

    s.logger.WithContext(ctx).WithFields(logrus.Fields{
        "hold_id": hold.ID, "tier_id": tier.ID, "quantity": hold.Quantity,
    }).Info("hold created")
    return hold, nil
}

// ReleaseHold returns a hold's tickets to the available pool.  It reports
// false, without changing anything, when the hold has already ended.
func (s *HoldService) ReleaseHold(ctx context.Context, holdID string) (bool, error) {
    return s.release(ctx, holdID, queue.ReasonCancelled)
}

// ExpireHold is ReleaseHold on behalf of the reaper.
func (s *HoldService) ExpireHold(ctx context.Context, holdID string) (bool, error) {
    return s.release(ctx, holdID, queue.ReasonExpired)
}

func (s *HoldService) release(ctx context.Context, holdID, reason string) (bool, error) {
    tx, err := s.db.BeginTx(ctx, nil)
    if err != nil {
        return false, err
    }
    committed := false
    defer func() {
        if !committed {
            _ = tx.Rollback()
        }
    }()

    hold, err := s.holds.GetTx(ctx, tx, holdID)
    if errors.Is(err, repository.ErrNotFound) {
        return false, nil
    }
    if err != nil {
        return false, err
    }
    deleted, err := s.holds.DeleteTx(ctx, tx, holdID)
    if err != nil {
        return false, err
    }
    if !deleted {
        return false, nil
    }
    if _, err := s.tiers.ApplyTx(ctx, tx, hold.TicketTierID, ledger.Release(hold.Quantity)); err != nil {
        s.logLedgerError(ctx, err, logrus.Fields{"tier_id": hold.TicketTierID, "hold_id": holdID, "op": "release"})
        return false, err
    }
    tier, err := s.tiers.GetTx(ctx, tx, hold.TicketTierID)
    if err != nil {
        return false, err
    }
    if err := tx.Commit(); err != nil {
        return false, err
    }
    committed = true
    s.listings.Invalidate(ctx, tier.EventID)

    publish(s.publisher, s.logger, queue.HoldReleasedQueue, queue.HoldReleasedEvent{
        HoldID:     hold.ID,
        TierID:     hold.TicketTierID,
        Quantity:   hold.Quantity,
        Reason:     reason,
        ReleasedAt: s.now().UTC().Format(time.RFC3339),
    })
    return true, nil
}

// ConvertHoldToSale marks a hold's tickets sold.  It is Checkout with no
// promo code or payment reference.
func (s *HoldService) ConvertHoldToSale(ctx context.Context, holdID string) (bool, error) {
    _, ok, err := s.Checkout(ctx, holdID, SaleOptions{})
    return ok, err
}

// Checkout converts a hold into a sale priced by the pricing service.  It
// runs after payment, so a promo code that stopped being valid since the
// quote is dropped and logged rather than failing the sale.  The hold row is
// deleted first, so a concurrent release or second conversion
// of the same hold sees it gone and reports false.  A hold past its expiry
// that the reaper has not collected yet still converts.
func (s *HoldService) Checkout(ctx context.Context, holdID string, opts SaleOptions) (*model.TicketSale, bool, error) {
    hold, err := s.holds.GetByID(ctx, holdID)
    if errors.Is(err, repository.ErrNotFound) {
        return nil, false, nil
    }
    if err != nil {
        return nil, false, err
    }
    quote, err := s.pricing.Quote(ctx, hold.TicketTierID, hold.Quantity, opts.PromoCode)
    if errors.Is(err, ErrInvalidPromoCode) {
        // Funds are already captured; the sale goes through at full price.
        s.logger.WithContext(ctx).WithFields(logrus.Fields{
            "hold_id": holdID, "promo_code": opts.PromoCode, "alert": "promo_mismatch",
        }).Warn("promo code no longer valid at conversion; recording sale without discount")
        quote, err = s.pricing.Quote(ctx, hold.TicketTierID, hold.Quantity, "")
    }
    if err != nil {
        return nil, false, fmt.Errorf("price hold %s: %w", holdID, err)
    }

    tx, err := s.db.BeginTx(ctx, nil)
    if err != nil {
        return nil, false, err
    }
    committed := false
    defer func() {
        if !committed {
            _ = tx.Rollback()
        }
    }()

    deleted, err := s.holds.DeleteTx(ctx, tx, holdID)
    if err != nil {
        return nil, false, err
    }
    if !deleted {
        return nil, false, nil
    }
    if _, err := s.tiers.ApplyTx(ctx, tx, hold.TicketTierID, ledger.Sell(hold.Quantity)); err != nil {
        s.logLedgerError(ctx, err, logrus.Fields{"tier_id": hold.TicketTierID, "hold_id": holdID, "op": "sell"})
        return nil, false, err
    }

    sale := &model.TicketSale{
        HoldID:         hold.ID,
        TicketTierID:   hold.TicketTierID,
        EventID:        quote.EventID,
        Quantity:       hold.Quantity,
        UserID:         hold.UserID,
        UnitPriceCents: quote.UnitPriceCents,
        UnitFeeCents:   quote.UnitFeeCents,
        DiscountCents:  quote.DiscountCents,
        TotalCents:     quote.TotalCents,
        CreatedAt:      s.now().UTC().Truncate(time.Millisecond),
    }
    if quote.PromoCode != "" {
        sale.PromoCode = &quote.PromoCode
    }
    if opts.PaymentRef != "" {
        ref := opts.PaymentRef
        sale.PaymentRef = &ref
    }
    if err := s.sales.CreateTx(ctx, tx, sale); err != nil {
        return nil, false, err
    }
    if err := tx.Commit(); err != nil {
        return nil, false, err
    }
    committed = true
    s.listings.Invalidate(ctx, sale.EventID)

    s.logger.WithContext(ctx).WithFields(logrus.Fields{
        "hold_id": hold.ID, "sale_id": sale.ID, "tier_id": hold.TicketTierID, "quantity": hold.Quantity,
    }).Info("hold converted to sale")

    publish(s.publisher, s.logger, queue.TicketSoldQueue, queue.TicketSoldEvent{
        SaleID:         sale.ID,
        HoldID:         sale.HoldID,
        TierID:         sale.TicketTierID,
        EventID:        sale.EventID,
        Quantity:       sale.Quantity,
        UserID:         sale.UserID,
        UnitPriceCents: sale.UnitPriceCents,
        UnitFeeCents:   sale.UnitFeeCents,
        DiscountCents:  sale.DiscountCents,
        TotalCents:     sale.TotalCents,
        PromoCode:      quote.PromoCode,
        PaymentRef:     opts.PaymentRef,
        SoldAt:         sale.CreatedAt.Format(time.RFC3339),
    })
    return sale, true, nil
}

// GetHold returns an open hold, or repository.ErrNotFound once it ended.
func (s *HoldService) GetHold(ctx context.Context, holdID string) (*model.Hold, error) {
    return s.holds.GetByID(ctx, holdID)
}

// TierEventID returns the event a tier belongs to.
func (s *HoldService) TierEventID(ctx context.Context, tierID int64) (int64, error) {
    t, err := s.tiers.GetByID(ctx, tierID)
    if err != nil {
        return 0, err
    }
    return t.EventID, nil
}
