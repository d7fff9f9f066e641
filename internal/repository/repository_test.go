package repository

import (
    "context"
    "errors"
    "strings"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/ticketing-core/internal/database"
    "github.com/iliyamo/ticketing-core/internal/ledger"
    "github.com/iliyamo/ticketing-core/internal/model"
    "github.com/iliyamo/ticketing-core/internal/testutil"
)

func TestApplyTxVerifiesInvariant(t *testing.T) {
    db := testutil.OpenDB(t)
    ctx := context.Background()
    eventID := testutil.SeedEvent(t, db, "E")
    tierID := testutil.SeedTier(t, db, testutil.TierSeed{EventID: eventID, Total: 5})
    repo := NewTierRepo(db, database.SQLite)

    tx, err := db.BeginTx(ctx, nil)
    require.NoError(t, err)
    counts, err := repo.ApplyTx(ctx, tx, tierID, ledger.Reserve(2))
    require.NoError(t, err)
    assert.Equal(t, ledger.Counts{Total: 5, Available: 3, Reserved: 2}, counts)
    require.NoError(t, tx.Commit())

    tx, err = db.BeginTx(ctx, nil)
    require.NoError(t, err)
    _, err = repo.ApplyTx(ctx, tx, tierID, ledger.Sell(3))
    assert.ErrorIs(t, err, ledger.ErrInventoryCorruption)
    require.NoError(t, tx.Rollback())

    tx, err = db.BeginTx(ctx, nil)
    require.NoError(t, err)
    _, err = repo.ApplyTx(ctx, tx, 404, ledger.Reserve(1))
    assert.ErrorIs(t, err, ErrTierNotFound)
    require.NoError(t, tx.Rollback())

    available, reserved, sold := testutil.TierCounts(t, db, tierID)
    assert.Equal(t, []int{3, 2, 0}, []int{available, reserved, sold})
}

func TestTierLockReadUsesDialectSuffix(t *testing.T) {
    mysql := NewTierRepo(nil, database.MySQL)
    assert.True(t, strings.HasSuffix(mysql.selectByID(true), "WHERE id = ? FOR UPDATE"))
    assert.True(t, strings.HasSuffix(mysql.selectByID(false), "WHERE id = ?"))

    sqlite := NewTierRepo(nil, database.SQLite)
    assert.NotContains(t, sqlite.selectByID(true), "FOR UPDATE")

    db := testutil.OpenDB(t)
    ctx := context.Background()
    tierID := testutil.SeedTier(t, db, testutil.TierSeed{EventID: testutil.SeedEvent(t, db, "E"), Total: 4})
    tx, err := db.BeginTx(ctx, nil)
    require.NoError(t, err)
    defer func() { _ = tx.Rollback() }()
    tier, err := NewTierRepo(db, database.SQLite).GetForUpdateTx(ctx, tx, tierID)
    require.NoError(t, err)
    assert.Equal(t, 4, tier.AvailableInventory)
}

func TestSessionInsertDuplicateIsConflict(t *testing.T) {
    db := testutil.OpenDB(t)
    ctx := context.Background()
    eventID := testutil.SeedEvent(t, db, "E")
    repo := NewSessionRepo(db, database.SQLite)
    now := time.Now()

    tx, err := db.BeginTx(ctx, nil)
    require.NoError(t, err)
    defer tx.Rollback()

    s := &model.TicketingSession{EventID: eventID, UserSessionID: "u", Status: model.SessionWaiting, CreatedAt: now, LastSeenAt: now}
    require.NoError(t, repo.InsertTx(ctx, tx, s))
    dup := *s
    err = repo.InsertTx(ctx, tx, &dup)
    assert.True(t, errors.Is(err, ErrConflict))

    found, err := repo.FindOpenTx(ctx, tx, eventID, "u")
    require.NoError(t, err)
    require.NotNil(t, found)
    assert.Equal(t, s.ID, found.ID)
}

func TestPromoCodesAreCaseInsensitive(t *testing.T) {
    db := testutil.OpenDB(t)
    ctx := context.Background()
    eventID := testutil.SeedEvent(t, db, "E")
    repo := NewPromoRepo(db)
    now := time.Now()

    p := &model.PromoCode{Code: "Spring", DiscountType: model.DiscountFixed, DiscountValue: 100, IsActive: true}
    require.NoError(t, repo.Create(ctx, p, []int64{eventID}, now))
    err := repo.Create(ctx, &model.PromoCode{Code: "SPRING", DiscountType: model.DiscountFixed, DiscountValue: 1}, nil, now)
    assert.ErrorIs(t, err, ErrConflict)

    found, err := repo.FindByCode(ctx, "spring")
    require.NoError(t, err)
    require.NotNil(t, found)
    assert.Equal(t, p.ID, found.ID)

    links, linked, err := repo.LinkStats(ctx, p.ID, eventID)
    require.NoError(t, err)
    assert.Equal(t, 1, links)
    assert.True(t, linked)

    links, linked, err = repo.LinkStats(ctx, 0, eventID)
    require.NoError(t, err)
    assert.Zero(t, links)
    assert.False(t, linked)
}
