package service

import (
    "context"
    "errors"
    "fmt"
    "strings"
    "time"

    "github.com/sirupsen/logrus"

    "github.com/iliyamo/ticketing-core/internal/model"
    "github.com/iliyamo/ticketing-core/internal/repository"
)

// ErrInvalidPromoCode is the single answer for every promo code that cannot
// be applied: unknown, inactive, expired or linked to other events.
var ErrInvalidPromoCode = errors.New("invalid promo code")

// ErrInvalidFeeTarget is returned when ResolveFees is not given exactly one
// of tier, group or event.
var ErrInvalidFeeTarget = errors.New("exactly one of tier_id, group_id or event_id is required")

// FeeTarget names the level to resolve fees for.  Exactly one field is set.
type FeeTarget struct {
    TierID  int64
    GroupID int64
    EventID int64
}

// PricingService resolves fees through the tier → group → event → default
// chain, validates promo codes and prices purchases.
type PricingService struct {
    logger      *logrus.Logger
    tiers       *repository.TierRepo
    events      *repository.EventRepo
    fees        *repository.FeeRepo
    promos      *repository.PromoRepo
    environment string
    now         func() time.Time
}

type PricingServiceProperty struct {
    Logger      *logrus.Logger
    Tiers       *repository.TierRepo
    Events      *repository.EventRepo
    Fees        *repository.FeeRepo
    Promos      *repository.PromoRepo
    Environment string
    Now         func() time.Time
}

func NewPricingService(props PricingServiceProperty) *PricingService {
    now := props.Now
    if now == nil {
        now = time.Now
    }
    return &PricingService{
        logger:      props.Logger,
        tiers:       props.Tiers,
        events:      props.Events,
        fees:        props.Fees,
        promos:      props.Promos,
        environment: props.Environment,
        now:         now,
    }
}

// UnitFee is the per-ticket fee for a ticket priced priceCents:
// flat + price*bps/10000 rounded half-up.
func UnitFee(priceCents int64, fs model.FeeSchedule) int64 {
    return fs.FlatCents + (priceCents*fs.PctBps+5000)/10000
}

// Discount returns the discount a promo code gives on subtotalCents.
// Percentage codes round half-up; no discount exceeds the subtotal.
func Discount(p *model.PromoCode, subtotalCents int64) int64 {
    if p == nil || subtotalCents <= 0 {
        return 0
    }
    var d int64
    switch p.DiscountType {
    case model.DiscountPercentage:
        d = (subtotalCents*p.DiscountValue + 50) / 100
    case model.DiscountFixed:
        d = p.DiscountValue
    }
    if d > subtotalCents {
        d = subtotalCents
    }
    if d < 0 {
        d = 0
    }
    return d
}

func deref(p *int64) int64 {
    if p == nil {
        return 0
    }
    return *p
}

// ResolveFees returns the fee schedule in force for the target and the
// level that supplied it.
func (s *PricingService) ResolveFees(ctx context.Context, target FeeTarget) (model.FeeSchedule, error) {
    set := 0
    for _, id := range []int64{target.TierID, target.GroupID, target.EventID} {
        if id > 0 {
            set++
        }
    }
    if set != 1 {
        return model.FeeSchedule{}, ErrInvalidFeeTarget
    }
    switch {
    case target.TierID > 0:
        t, err := s.tiers.GetByID(ctx, target.TierID)
        if err != nil {
            return model.FeeSchedule{}, err
        }
        return s.tierFees(ctx, t)
    case target.GroupID > 0:
        g, err := s.events.GetGroup(ctx, target.GroupID)
        if err != nil {
            return model.FeeSchedule{}, err
        }
        return s.groupFees(ctx, g)
    default:
        return s.eventFees(ctx, target.EventID)
    }
}

func (s *PricingService) tierFees(ctx context.Context, t *model.TicketTier) (model.FeeSchedule, error) {
    if !t.InheritGroupFees {
        return model.FeeSchedule{FlatCents: deref(t.FeeFlatCents), PctBps: deref(t.FeePctBps), Source: model.FeeSourceTier}, nil
    }
    if t.GroupID == nil {
        return s.eventFees(ctx, t.EventID)
    }
    g, err := s.events.GetGroup(ctx, *t.GroupID)
    if errors.Is(err, repository.ErrNotFound) {
        return s.eventFees(ctx, t.EventID)
    }
    if err != nil {
        return model.FeeSchedule{}, err
    }
    return s.groupFees(ctx, g)
}

func (s *PricingService) groupFees(ctx context.Context, g *model.TicketTierGroup) (model.FeeSchedule, error) {
    if !g.InheritEventFees {
        return model.FeeSchedule{FlatCents: deref(g.FeeFlatCents), PctBps: deref(g.FeePctBps), Source: model.FeeSourceGroup}, nil
    }
    return s.eventFees(ctx, g.EventID)
}

func (s *PricingService) eventFees(ctx context.Context, eventID int64) (model.FeeSchedule, error) {
    e, err := s.events.GetByID(ctx, eventID)
    if err != nil {
        return model.FeeSchedule{}, err
    }
    if !e.UseDefaultFees {
        return model.FeeSchedule{FlatCents: deref(e.FeeFlatCents), PctBps: deref(e.FeePctBps), Source: model.FeeSourceEvent}, nil
    }
    flat, bps, ok, err := s.fees.GetDefault(ctx, s.environment)
    if err != nil {
        return model.FeeSchedule{}, err
    }
    if !ok {
        s.logger.WithContext(ctx).WithField("environment", s.environment).Debug("no default fees configured")
    }
    return model.FeeSchedule{FlatCents: flat, PctBps: bps, Source: model.FeeSourceDefault}, nil
}

// ValidatePromoCode returns the promo code when it can be applied to
// eventID.  Every rejection is ErrInvalidPromoCode, and the link query runs
// whether or not the code exists.
func (s *PricingService) ValidatePromoCode(ctx context.Context, code string, eventID int64) (*model.PromoCode, error) {
    code = strings.TrimSpace(code)
    if code == "" {
        return nil, ErrInvalidPromoCode
    }
    p, err := s.promos.FindByCode(ctx, code)
    if err != nil {
        return nil, err
    }
    var promoID int64
    if p != nil {
        promoID = p.ID
    }
    links, linked, err := s.promos.LinkStats(ctx, promoID, eventID)
    if err != nil {
        return nil, err
    }
    now := s.now()
    switch {
    case p == nil,
        !p.IsActive,
        p.ExpiresAt != nil && !now.Before(*p.ExpiresAt),
        links > 0 && !linked:
        return nil, ErrInvalidPromoCode
    }
    return p, nil
}

// Quote prices quantity tickets from a tier, applying promoCode when it is
// not empty.  The discount applies to the ticket subtotal only.
func (s *PricingService) Quote(ctx context.Context, tierID int64, quantity int, promoCode string) (model.Quote, error) {
    if quantity <= 0 {
        return model.Quote{}, ErrInvalidQuantity
    }
    t, err := s.tiers.GetByID(ctx, tierID)
    if err != nil {
        return model.Quote{}, err
    }
    fs, err := s.tierFees(ctx, t)
    if err != nil {
        return model.Quote{}, fmt.Errorf("resolve fees: %w", err)
    }
    q := model.Quote{
        TierID:         t.ID,
        EventID:        t.EventID,
        Quantity:       quantity,
        UnitPriceCents: t.PriceCents,
        UnitFeeCents:   UnitFee(t.PriceCents, fs),
    }
    q.SubtotalCents = t.PriceCents * int64(quantity)
    q.FeesCents = q.UnitFeeCents * int64(quantity)
    if promoCode != "" {
        p, err := s.ValidatePromoCode(ctx, promoCode, t.EventID)
        if err != nil {
            return model.Quote{}, err
        }
        q.PromoCode = p.Code
        q.DiscountCents = Discount(p, q.SubtotalCents)
    }
    q.TotalCents = q.SubtotalCents + q.FeesCents - q.DiscountCents
    return q, nil
}
