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

// ErrInvalidInput wraps validation failures of setup requests.
var ErrInvalidInput = errors.New("invalid input")

func invalid(format string, args ...any) error {
    return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// ListingCache drops the cached public tier listing of an event.
type ListingCache interface {
    Invalidate(ctx context.Context, eventID int64)
}

type noListingCache struct{}

func (noListingCache) Invalidate(context.Context, int64) {}

func listingCacheOrNoop(c ListingCache) ListingCache {
    if c == nil {
        return noListingCache{}
    }
    return c
}

// CatalogService covers the organizer setup operations and the read paths
// buyers browse: events, tier groups, tiers, promo codes, default fees and
// sales history.
type CatalogService struct {
    logger      *logrus.Logger
    events      *repository.EventRepo
    tiers       *repository.TierRepo
    fees        *repository.FeeRepo
    promos      *repository.PromoRepo
    sales       *repository.SaleRepo
    listings    ListingCache
    environment string
    now         func() time.Time
}

type CatalogServiceProperty struct {
    Logger      *logrus.Logger
    Events      *repository.EventRepo
    Tiers       *repository.TierRepo
    Fees        *repository.FeeRepo
    Promos      *repository.PromoRepo
    Sales       *repository.SaleRepo
    Listings    ListingCache
    Environment string
    Now         func() time.Time
}

func NewCatalogService(props CatalogServiceProperty) *CatalogService {
    now := props.Now
    if now == nil {
        now = time.Now
    }
    return &CatalogService{
        logger:      props.Logger,
        events:      props.Events,
        tiers:       props.Tiers,
        fees:        props.Fees,
        promos:      props.Promos,
        sales:       props.Sales,
        listings:    listingCacheOrNoop(props.Listings),
        environment: props.Environment,
        now:         now,
    }
}

func checkFees(flat, bps *int64) error {
    if flat != nil && *flat < 0 {
        return invalid("fee_flat_cents must not be negative")
    }
    if bps != nil && (*bps < 0 || *bps > 10000) {
        return invalid("fee_pct_bps must be between 0 and 10000")
    }
    return nil
}

// CreateEvent stores a new event.
func (s *CatalogService) CreateEvent(ctx context.Context, e *model.Event) error {
    e.Name = strings.TrimSpace(e.Name)
    if e.Name == "" {
        return invalid("name is required")
    }
    if err := checkFees(e.FeeFlatCents, e.FeePctBps); err != nil {
        return err
    }
    return s.events.Create(ctx, e, s.now())
}

// CreateGroup stores a tier group under an existing event.
func (s *CatalogService) CreateGroup(ctx context.Context, g *model.TicketTierGroup) error {
    g.Name = strings.TrimSpace(g.Name)
    if g.Name == "" {
        return invalid("name is required")
    }
    if err := checkFees(g.FeeFlatCents, g.FeePctBps); err != nil {
        return err
    }
    if _, err := s.events.GetByID(ctx, g.EventID); err != nil {
        return err
    }
    return s.events.CreateGroup(ctx, g)
}

// CreateTier stores a tier with its whole stock available.  A group, when
// given, must belong to the same event.
func (s *CatalogService) CreateTier(ctx context.Context, t *model.TicketTier) error {
    t.Name = strings.TrimSpace(t.Name)
    switch {
    case t.Name == "":
        return invalid("name is required")
    case t.PriceCents < 0:
        return invalid("price_cents must not be negative")
    case t.TotalTickets < 0:
        return invalid("total_tickets must not be negative")
    }
    if err := checkFees(t.FeeFlatCents, t.FeePctBps); err != nil {
        return err
    }
    if _, err := s.events.GetByID(ctx, t.EventID); err != nil {
        return err
    }
    if t.GroupID != nil {
        g, err := s.events.GetGroup(ctx, *t.GroupID)
        if errors.Is(err, repository.ErrNotFound) {
            return invalid("group %d does not exist", *t.GroupID)
        }
        if err != nil {
            return err
        }
        if g.EventID != t.EventID {
            return invalid("group %d belongs to another event", g.ID)
        }
    }
    if err := s.tiers.Create(ctx, t); err != nil {
        return err
    }
    s.listings.Invalidate(ctx, t.EventID)
    return nil
}

// ListVisibleTiers returns the tiers buyers can see: active tiers, minus
// those hidden until an earlier active tier has sold out.
func (s *CatalogService) ListVisibleTiers(ctx context.Context, eventID int64) ([]model.TicketTier, error) {
    if _, err := s.events.GetByID(ctx, eventID); err != nil {
        return nil, err
    }
    all, err := s.tiers.ListByEvent(ctx, eventID)
    if err != nil {
        return nil, err
    }
    visible := []model.TicketTier{}
    earlierAvailable := false
    for _, t := range all {
        if !t.IsActive {
            continue
        }
        if !t.HideUntilPreviousSoldOut || !earlierAvailable {
            visible = append(visible, t)
        }
        if t.AvailableInventory > 0 {
            earlierAvailable = true
        }
    }
    return visible, nil
}

// CreatePromoCode stores a promo code linked to eventIDs, or to every event
// when eventIDs is empty.
func (s *CatalogService) CreatePromoCode(ctx context.Context, p *model.PromoCode, eventIDs []int64) error {
    p.Code = strings.TrimSpace(p.Code)
    if p.Code == "" {
        return invalid("code is required")
    }
    switch p.DiscountType {
    case model.DiscountPercentage:
        if p.DiscountValue <= 0 || p.DiscountValue > 100 {
            return invalid("percentage discount must be between 1 and 100")
        }
    case model.DiscountFixed:
        if p.DiscountValue <= 0 {
            return invalid("fixed discount must be positive")
        }
    default:
        return invalid("discount_type must be percentage or fixed")
    }
    for _, id := range eventIDs {
        if _, err := s.events.GetByID(ctx, id); err != nil {
            return err
        }
    }
    return s.promos.Create(ctx, p, eventIDs, s.now())
}

// SetDefaultFees replaces the global fees for the configured environment.
func (s *CatalogService) SetDefaultFees(ctx context.Context, flat, bps int64) error {
    if err := checkFees(&flat, &bps); err != nil {
        return err
    }
    return s.fees.SetDefault(ctx, s.environment, flat, bps)
}

// ListSales returns a user's purchases.
func (s *CatalogService) ListSales(ctx context.Context, userID int64) ([]model.TicketSale, error) {
    return s.sales.ListByUser(ctx, userID)
}
