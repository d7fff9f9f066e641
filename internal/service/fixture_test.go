package service

import (
    "context"
    "database/sql"
    "testing"

    "github.com/stretchr/testify/mock"

    "github.com/iliyamo/ticketing-core/internal/database"
    "github.com/iliyamo/ticketing-core/internal/repository"
    "github.com/iliyamo/ticketing-core/internal/testutil"
)

type mockPublisher struct {
    mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, queue string, event any) error {
    args := m.Called(ctx, queue, event)
    return args.Error(0)
}

type mockListings struct {
    mock.Mock
}

func (m *mockListings) Invalidate(ctx context.Context, eventID int64) {
    m.Called(ctx, eventID)
}

type fixture struct {
    db        *sql.DB
    clock     *testutil.Clock
    pub       *mockPublisher
    listings  *mockListings
    holdRepo  *repository.HoldRepo
    sessions  *repository.SessionRepo
    pricing   *PricingService
    holds     *HoldService
    admission *AdmissionService
    catalog   *CatalogService
    reaper    *Reaper
}

func newFixture(t *testing.T) *fixture {
    t.Helper()
    db := testutil.OpenDB(t)
    logger := testutil.Logger()
    clock := testutil.NewClock()
    pub := &mockPublisher{}
    pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
    listings := &mockListings{}
    listings.On("Invalidate", mock.Anything, mock.Anything).Return().Maybe()

    tiers := repository.NewTierRepo(db, database.SQLite)
    holdRepo := repository.NewHoldRepo(db)
    sales := repository.NewSaleRepo(db)
    events := repository.NewEventRepo(db)
    fees := repository.NewFeeRepo(db, database.SQLite)
    promos := repository.NewPromoRepo(db)
    sessions := repository.NewSessionRepo(db, database.SQLite)

    f := &fixture{db: db, clock: clock, pub: pub, listings: listings, holdRepo: holdRepo, sessions: sessions}
    f.pricing = NewPricingService(PricingServiceProperty{
        Logger: logger, Tiers: tiers, Events: events, Fees: fees, Promos: promos,
        Environment: "test", Now: clock.Now,
    })
    f.holds = NewHoldService(HoldServiceProperty{
        Logger: logger, DB: db, Tiers: tiers, Holds: holdRepo, Sales: sales,
        Pricing: f.pricing, Publisher: pub, Listings: listings, Now: clock.Now,
    })
    f.admission = NewAdmissionService(AdmissionServiceProperty{
        Logger: logger, DB: db, Events: events, Sessions: sessions, Publisher: pub, Now: clock.Now,
    })
    f.catalog = NewCatalogService(CatalogServiceProperty{
        Logger: logger, Events: events, Tiers: tiers, Fees: fees, Promos: promos, Sales: sales,
        Listings: listings, Environment: "test", Now: clock.Now,
    })
    f.reaper = NewReaper(ReaperProperty{
        Logger: logger, HoldRepo: holdRepo, Sessions: sessions, Holds: f.holds,
        Admission: f.admission, BatchSize: 100, Now: clock.Now,
    })
    return f
}

func (f *fixture) tier(t *testing.T, total int) (eventID, tierID int64) {
    t.Helper()
    eventID = testutil.SeedEvent(t, f.db, "Concert")
    tierID = testutil.SeedTier(t, f.db, testutil.TierSeed{EventID: eventID, PriceCents: 1000, Total: total})
    return eventID, tierID
}
