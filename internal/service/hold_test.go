package service

import (
    "context"
    "errors"
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/mock"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/ticketing-core/internal/ledger"
    "github.com/iliyamo/ticketing-core/internal/model"
    "github.com/iliyamo/ticketing-core/internal/queue"
    "github.com/iliyamo/ticketing-core/internal/repository"
    "github.com/iliyamo/ticketing-core/internal/testutil"
)

func TestCreateHoldReservesInventory(t *testing.T) {
    f := newFixture(t)
    _, tierID := f.tier(t, 10)
    uid := int64(7)

    hold, err := f.holds.CreateHold(context.Background(), CreateHoldRequest{
        TierID: tierID, Quantity: 4, UserID: &uid, Fingerprint: "fp",
    })
    require.NoError(t, err)
    assert.NotEmpty(t, hold.ID)
    assert.Equal(t, f.clock.Now().Add(DefaultHoldDuration), hold.ExpiresAt)

    available, reserved, sold := testutil.TierCounts(t, f.db, tierID)
    assert.Equal(t, []int{6, 4, 0}, []int{available, reserved, sold})

    stored, err := f.holds.GetHold(context.Background(), hold.ID)
    require.NoError(t, err)
    assert.Equal(t, 4, stored.Quantity)
    require.NotNil(t, stored.UserID)
    assert.Equal(t, uid, *stored.UserID)
}

func TestCreateHoldInsufficientInventory(t *testing.T) {
    f := newFixture(t)
    _, tierID := f.tier(t, 3)

    _, err := f.holds.CreateHold(context.Background(), CreateHoldRequest{TierID: tierID, Quantity: 5})
    var insufficient *repository.InsufficientInventoryError
    require.True(t, errors.As(err, &insufficient))
    assert.Equal(t, 5, insufficient.Requested)
    assert.Equal(t, 3, insufficient.Available)

    available, reserved, _ := testutil.TierCounts(t, f.db, tierID)
    assert.Equal(t, 3, available)
    assert.Zero(t, reserved)
}

func TestConcurrentHoldsCannotOversell(t *testing.T) {
    f := newFixture(t)
    _, tierID := f.tier(t, 10)

    var wg sync.WaitGroup
    errs := make([]error, 2)
    for i := range errs {
        wg.Add(1)
        go func(i int) {
            defer wg.Done()
            _, errs[i] = f.holds.CreateHold(context.Background(), CreateHoldRequest{TierID: tierID, Quantity: 6})
        }(i)
    }
    wg.Wait()

    succeeded := 0
    for _, err := range errs {
        if err == nil {
            succeeded++
            continue
        }
        var insufficient *repository.InsufficientInventoryError
        require.True(t, errors.As(err, &insufficient), "unexpected error: %v", err)
        assert.Equal(t, 4, insufficient.Available)
    }
    assert.Equal(t, 1, succeeded)

    available, reserved, sold := testutil.TierCounts(t, f.db, tierID)
    assert.Equal(t, []int{4, 6, 0}, []int{available, reserved, sold})
}

func TestCreateHoldValidation(t *testing.T) {
    f := newFixture(t)
    eventID, tierID := f.tier(t, 10)
    ctx := context.Background()

    _, err := f.holds.CreateHold(ctx, CreateHoldRequest{TierID: tierID, Quantity: 0})
    assert.ErrorIs(t, err, ErrInvalidQuantity)

    for _, d := range []time.Duration{-time.Second, MaxHoldDuration + time.Second} {
        _, err = f.holds.CreateHold(ctx, CreateHoldRequest{TierID: tierID, Quantity: 1, Duration: d})
        assert.ErrorIs(t, err, ErrInvalidDuration, d.String())
    }
    available, _, _ := testutil.TierCounts(t, f.db, tierID)
    assert.Equal(t, 10, available)

    _, err = f.holds.CreateHold(ctx, CreateHoldRequest{TierID: 9999, Quantity: 1})
    assert.ErrorIs(t, err, repository.ErrTierNotFound)

    inactive := testutil.SeedTier(t, f.db, testutil.TierSeed{EventID: eventID, Total: 5, Inactive: true, Order: 1})
    _, err = f.holds.CreateHold(ctx, CreateHoldRequest{TierID: inactive, Quantity: 1})
    assert.ErrorIs(t, err, repository.ErrTierUnavailable)

    hidden := testutil.SeedTier(t, f.db, testutil.TierSeed{EventID: eventID, Total: 5, Order: 2, HideUntilPreviousSoldOut: true})
    _, err = f.holds.CreateHold(ctx, CreateHoldRequest{TierID: hidden, Quantity: 1})
    assert.ErrorIs(t, err, repository.ErrTierUnavailable)

    // selling out the first tier unlocks the hidden one
    _, err = f.holds.CreateHold(ctx, CreateHoldRequest{TierID: tierID, Quantity: 10})
    require.NoError(t, err)
    _, err = f.holds.CreateHold(ctx, CreateHoldRequest{TierID: hidden, Quantity: 1})
    assert.NoError(t, err)
}

func TestReleaseHoldRoundTrip(t *testing.T) {
    f := newFixture(t)
    _, tierID := f.tier(t, 10)
    ctx := context.Background()

    hold, err := f.holds.CreateHold(ctx, CreateHoldRequest{TierID: tierID, Quantity: 3})
    require.NoError(t, err)

    released, err := f.holds.ReleaseHold(ctx, hold.ID)
    require.NoError(t, err)
    assert.True(t, released)

    available, reserved, sold := testutil.TierCounts(t, f.db, tierID)
    assert.Equal(t, []int{10, 0, 0}, []int{available, reserved, sold})

    again, err := f.holds.ReleaseHold(ctx, hold.ID)
    require.NoError(t, err)
    assert.False(t, again)
    converted, err := f.holds.ConvertHoldToSale(ctx, hold.ID)
    require.NoError(t, err)
    assert.False(t, converted)

    available, _, _ = testutil.TierCounts(t, f.db, tierID)
    assert.Equal(t, 10, available)
    f.pub.AssertCalled(t, "Publish", mock.Anything, queue.HoldReleasedQueue, mock.AnythingOfType("queue.HoldReleasedEvent"))
}

func TestCreateHoldHonoursDuration(t *testing.T) {
    f := newFixture(t)
    _, tierID := f.tier(t, 10)
    ctx := context.Background()

    short, err := f.holds.CreateHold(ctx, CreateHoldRequest{TierID: tierID, Quantity: 1, Duration: 2 * time.Minute})
    require.NoError(t, err)
    assert.Equal(t, f.clock.Now().UTC().Add(2*time.Minute).Truncate(time.Millisecond), short.ExpiresAt)

    longest, err := f.holds.CreateHold(ctx, CreateHoldRequest{TierID: tierID, Quantity: 1, Duration: MaxHoldDuration})
    require.NoError(t, err)
    assert.Equal(t, MaxHoldDuration, longest.ExpiresAt.Sub(longest.CreatedAt))

    def, err := f.holds.CreateHold(ctx, CreateHoldRequest{TierID: tierID, Quantity: 1})
    require.NoError(t, err)
    assert.Equal(t, DefaultHoldDuration, def.ExpiresAt.Sub(def.CreatedAt))
}

func TestLedgerMutationsInvalidateListing(t *testing.T) {
    f := newFixture(t)
    eventID, tierID := f.tier(t, 10)
    otherEvent, otherTier := f.tier(t, 10)
    ctx := context.Background()

    hold, err := f.holds.CreateHold(ctx, CreateHoldRequest{TierID: tierID, Quantity: 2})
    require.NoError(t, err)
    f.listings.AssertNumberOfCalls(t, "Invalidate", 1)
    f.listings.AssertCalled(t, "Invalidate", mock.Anything, eventID)

    released, err := f.holds.ReleaseHold(ctx, hold.ID)
    require.NoError(t, err)
    require.True(t, released)
    f.listings.AssertNumberOfCalls(t, "Invalidate", 2)

    other, err := f.holds.CreateHold(ctx, CreateHoldRequest{TierID: otherTier, Quantity: 1})
    require.NoError(t, err)
    _, ok, err := f.holds.Checkout(ctx, other.ID, SaleOptions{})
    require.NoError(t, err)
    require.True(t, ok)
    f.listings.AssertNumberOfCalls(t, "Invalidate", 4)
    f.listings.AssertCalled(t, "Invalidate", mock.Anything, otherEvent)

    // failed and no-op mutations leave the listing alone
    _, err = f.holds.CreateHold(ctx, CreateHoldRequest{TierID: tierID, Quantity: 50})
    require.Error(t, err)
    again, err := f.holds.ReleaseHold(ctx, hold.ID)
    require.NoError(t, err)
    assert.False(t, again)
    f.listings.AssertNumberOfCalls(t, "Invalidate", 4)

    require.NoError(t, f.catalog.CreateTier(ctx, &model.TicketTier{EventID: eventID, Name: "Late", PriceCents: 500, TotalTickets: 5, IsActive: true}))
    f.listings.AssertNumberOfCalls(t, "Invalidate", 5)
}

func TestReleaseAndConvertAreMutuallyExclusive(t *testing.T) {
    f := newFixture(t)
    _, tierID := f.tier(t, 10)
    ctx := context.Background()

    for i := 0; i < 5; i++ {
        hold, err := f.holds.CreateHold(ctx, CreateHoldRequest{TierID: tierID, Quantity: 1})
        require.NoError(t, err)

        var wg sync.WaitGroup
        var released, converted bool
        var relErr, convErr error
        wg.Add(2)
        go func() { defer wg.Done(); released, relErr = f.holds.ReleaseHold(ctx, hold.ID) }()
        go func() { defer wg.Done(); converted, convErr = f.holds.ConvertHoldToSale(ctx, hold.ID) }()
        wg.Wait()

        require.NoError(t, relErr)
        require.NoError(t, convErr)
        assert.True(t, released != converted, "exactly one terminal transition")
    }

    available, reserved, sold := testutil.TierCounts(t, f.db, tierID)
    assert.Zero(t, reserved)
    assert.Equal(t, 10, available+sold)
}

func TestOpenHoldsSumToReserved(t *testing.T) {
    f := newFixture(t)
    _, tierID := f.tier(t, 20)
    ctx := context.Background()

    var ids []string
    for _, q := range []int{1, 2, 3, 4} {
        h, err := f.holds.CreateHold(ctx, CreateHoldRequest{TierID: tierID, Quantity: q})
        require.NoError(t, err)
        ids = append(ids, h.ID)
    }
    _, err := f.holds.ReleaseHold(ctx, ids[1])
    require.NoError(t, err)
    _, err = f.holds.ConvertHoldToSale(ctx, ids[2])
    require.NoError(t, err)

    sum, err := f.holdRepo.SumQuantityByTier(ctx, tierID)
    require.NoError(t, err)
    available, reserved, sold := testutil.TierCounts(t, f.db, tierID)
    assert.Equal(t, sum, reserved)
    assert.Equal(t, 5, reserved)
    assert.Equal(t, 3, sold)
    assert.Equal(t, 20, available+reserved+sold)
}

func TestConvertStaleHoldSucceeds(t *testing.T) {
    f := newFixture(t)
    _, tierID := f.tier(t, 10)
    ctx := context.Background()

    hold, err := f.holds.CreateHold(ctx, CreateHoldRequest{TierID: tierID, Quantity: 2, Duration: time.Minute})
    require.NoError(t, err)
    f.clock.Advance(5 * time.Minute)

    ok, err := f.holds.ConvertHoldToSale(ctx, hold.ID)
    require.NoError(t, err)
    assert.True(t, ok)
    _, reserved, sold := testutil.TierCounts(t, f.db, tierID)
    assert.Zero(t, reserved)
    assert.Equal(t, 2, sold)
}

func TestCheckoutRecordsPricedSale(t *testing.T) {
    f := newFixture(t)
    ctx := context.Background()
    eventID, tierID := f.tier(t, 10)
    require.NoError(t, f.catalog.SetDefaultFees(ctx, 100, 250))
    require.NoError(t, f.catalog.CreatePromoCode(ctx, &model.PromoCode{
        Code: "fm-50", DiscountType: model.DiscountPercentage, DiscountValue: 50, IsActive: true,
    }, nil))

    uid := int64(3)
    hold, err := f.holds.CreateHold(ctx, CreateHoldRequest{TierID: tierID, Quantity: 2, UserID: &uid})
    require.NoError(t, err)

    sale, ok, err := f.holds.Checkout(ctx, hold.ID, SaleOptions{PromoCode: "FM-50", PaymentRef: "pay_123"})
    require.NoError(t, err)
    require.True(t, ok)
    assert.Equal(t, eventID, sale.EventID)
    assert.Equal(t, int64(125), sale.UnitFeeCents)
    assert.Equal(t, int64(1000), sale.DiscountCents)
    assert.Equal(t, int64(2000+250-1000), sale.TotalCents)
    require.NotNil(t, sale.PaymentRef)
    assert.Equal(t, "pay_123", *sale.PaymentRef)

    mine, err := f.catalog.ListSales(ctx, uid)
    require.NoError(t, err)
    require.Len(t, mine, 1)
    assert.Equal(t, hold.ID, mine[0].HoldID)
    f.pub.AssertCalled(t, "Publish", mock.Anything, queue.TicketSoldQueue, mock.AnythingOfType("queue.TicketSoldEvent"))
}

func TestCheckoutWithInvalidPromoSellsAtFullPrice(t *testing.T) {
    f := newFixture(t)
    ctx := context.Background()
    _, tierID := f.tier(t, 10)

    hold, err := f.holds.CreateHold(ctx, CreateHoldRequest{TierID: tierID, Quantity: 1})
    require.NoError(t, err)
    sale, ok, err := f.holds.Checkout(ctx, hold.ID, SaleOptions{PromoCode: "nope", PaymentRef: "pi_9"})
    require.NoError(t, err)
    require.True(t, ok)
    assert.Zero(t, sale.DiscountCents)
    assert.Nil(t, sale.PromoCode)
    assert.Equal(t, int64(1000), sale.TotalCents)

    _, reserved, sold := testutil.TierCounts(t, f.db, tierID)
    assert.Zero(t, reserved)
    assert.Equal(t, 1, sold)
}

func TestCheckoutAfterPromoExpiredSinceQuote(t *testing.T) {
    f := newFixture(t)
    ctx := context.Background()
    eventID, tierID := f.tier(t, 10)
    expires := f.clock.Now().Add(time.Minute)
    require.NoError(t, f.catalog.CreatePromoCode(ctx, &model.PromoCode{
        Code: "EARLY", DiscountType: model.DiscountFixed, DiscountValue: 300, IsActive: true, ExpiresAt: &expires,
    }, []int64{eventID}))

    hold, err := f.holds.CreateHold(ctx, CreateHoldRequest{TierID: tierID, Quantity: 2})
    require.NoError(t, err)
    q, err := f.pricing.Quote(ctx, tierID, 2, "EARLY")
    require.NoError(t, err)
    assert.Equal(t, int64(300), q.DiscountCents)

    f.clock.Advance(2 * time.Minute)
    sale, ok, err := f.holds.Checkout(ctx, hold.ID, SaleOptions{PromoCode: "EARLY"})
    require.NoError(t, err)
    require.True(t, ok)
    assert.Equal(t, int64(2000), sale.TotalCents)
}

func TestCorruptedTierAbortsHold(t *testing.T) {
    f := newFixture(t)
    _, tierID := f.tier(t, 10)
    _, err := f.db.Exec(`UPDATE ticket_tiers SET available_inventory = 20 WHERE id = ?`, tierID)
    require.NoError(t, err)

    _, err = f.holds.CreateHold(context.Background(), CreateHoldRequest{TierID: tierID, Quantity: 1})
    assert.ErrorIs(t, err, ledger.ErrInventoryCorruption)

    available, reserved, _ := testutil.TierCounts(t, f.db, tierID)
    assert.Equal(t, 20, available)
    assert.Zero(t, reserved)
    sum, err := f.holdRepo.SumQuantityByTier(context.Background(), tierID)
    require.NoError(t, err)
    assert.Zero(t, sum)
}
