package router

import (
    "encoding/json"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"
    "time"

    "github.com/alicebob/miniredis/v2"
    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "golang.org/x/crypto/bcrypt"

    "github.com/iliyamo/ticketing-core/internal/config"
    "github.com/iliyamo/ticketing-core/internal/database"
    "github.com/iliyamo/ticketing-core/internal/handler"
    "github.com/iliyamo/ticketing-core/internal/middleware"
    "github.com/iliyamo/ticketing-core/internal/repository"
    "github.com/iliyamo/ticketing-core/internal/service"
    "github.com/iliyamo/ticketing-core/internal/testutil"
    "github.com/iliyamo/ticketing-core/internal/utils"
)

const (
    testSecret = "router-test-secret"
    testAPIKey = "pay-key"
)

type api struct {
    t     *testing.T
    e     *echo.Echo
    redis *miniredis.Miniredis
}

func newAPI(t *testing.T) *api {
    t.Helper()
    db := testutil.OpenDB(t)
    logger := testutil.Logger()
    clock := testutil.NewClock()

    tiers := repository.NewTierRepo(db, database.SQLite)
    holds := repository.NewHoldRepo(db)
    sales := repository.NewSaleRepo(db)
    events := repository.NewEventRepo(db)
    fees := repository.NewFeeRepo(db, database.SQLite)
    promos := repository.NewPromoRepo(db)
    sessions := repository.NewSessionRepo(db, database.SQLite)

    mr := miniredis.RunT(t)
    rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), DisableIdentity: true})
    t.Cleanup(func() { _ = rdb.Close() })
    cache := middleware.NewTierCache(config.CacheConfig{Enabled: true, TTL: time.Minute, Prefix: "cache"}, rdb, logger)
    limiter := middleware.NewBuyerLimiter(config.RateLimitConfig{
        Enabled: true, Prefix: "rl", SessionBurst: 100, HoldBurst: 100, PromoBurst: 3,
        RefillEvery: time.Minute, RedisTimeout: time.Second,
    }, rdb, logger)

    pricing := service.NewPricingService(service.PricingServiceProperty{
        Logger: logger, Tiers: tiers, Events: events, Fees: fees, Promos: promos,
        Environment: "test", Now: clock.Now,
    })
    holdSvc := service.NewHoldService(service.HoldServiceProperty{
        Logger: logger, DB: db, Tiers: tiers, Holds: holds, Sales: sales, Pricing: pricing,
        Listings: cache, Now: clock.Now,
    })
    admission := service.NewAdmissionService(service.AdmissionServiceProperty{
        Logger: logger, DB: db, Events: events, Sessions: sessions, Now: clock.Now,
    })
    catalog := service.NewCatalogService(service.CatalogServiceProperty{
        Logger: logger, Events: events, Tiers: tiers, Fees: fees, Promos: promos, Sales: sales,
        Listings: cache, Environment: "test", Now: clock.Now,
    })

    hash, err := bcrypt.GenerateFromPassword([]byte(testAPIKey), bcrypt.MinCost)
    require.NoError(t, err)

    catalogH := handler.NewCatalogHandler(catalog, logger)
    sessionH := handler.NewSessionHandler(admission, logger)
    holdH := handler.NewHoldHandler(holdSvc, admission, logger)

    e := New(logger)
    RegisterRoutes(e, db)
    RegisterBuyer(e, Buyer{
        Sessions: sessionH,
        Holds:    holdH,
        Pricing:  handler.NewPricingHandler(pricing, logger),
        Catalog:  catalogH,
    }, testSecret, limiter, cache)
    RegisterOrganizer(e, catalogH, sessionH, testSecret)
    RegisterPayments(e, holdH, string(hash))
    return &api{t: t, e: e, redis: mr}
}

func token(t *testing.T, userID uint64, role string) string {
    t.Helper()
    tok, err := utils.NewAccessToken(testSecret, userID, role, 10)
    require.NoError(t, err)
    return tok.Token
}

func (a *api) serve(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
    a.t.Helper()
    req := httptest.NewRequest(method, path, strings.NewReader(body))
    if body != "" {
        req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
    }
    for k, v := range headers {
        req.Header.Set(k, v)
    }
    rec := httptest.NewRecorder()
    a.e.ServeHTTP(rec, req)
    return rec
}

func (a *api) do(method, path, body string, headers map[string]string) (int, map[string]any) {
    a.t.Helper()
    rec := a.serve(method, path, body, headers)
    out := map[string]any{}
    if rec.Body.Len() > 0 {
        _ = json.Unmarshal(rec.Body.Bytes(), &out)
    }
    return rec.Code, out
}

func bearer(tok string) map[string]string {
    return map[string]string{"Authorization": "Bearer " + tok}
}

func (a *api) setupEvent(organizer string) (eventID, tierID int) {
    a.t.Helper()
    code, ev := a.do(http.MethodPost, "/v1/events", `{"name":"Concert"}`, bearer(organizer))
    require.Equal(a.t, http.StatusCreated, code)
    eventID = int(ev["id"].(float64))

    code, tier := a.do(http.MethodPost, "/v1/tiers",
        `{"event_id":`+itoa(eventID)+`,"name":"GA","price_cents":1000,"total_tickets":10}`, bearer(organizer))
    require.Equal(a.t, http.StatusCreated, code)
    tierID = int(tier["id"].(float64))
    return eventID, tierID
}

func itoa(v int) string {
    b, _ := json.Marshal(v)
    return string(b)
}

func TestHealth(t *testing.T) {
    a := newAPI(t)
    code, body := a.do(http.MethodGet, "/healthz", "", nil)
    assert.Equal(t, http.StatusOK, code)
    assert.Equal(t, "ok", body["status"])
}

func TestOrganizerRoutesRequirePermission(t *testing.T) {
    a := newAPI(t)
    code, _ := a.do(http.MethodPost, "/v1/events", `{"name":"x"}`, nil)
    assert.Equal(t, http.StatusUnauthorized, code)

    code, _ = a.do(http.MethodPost, "/v1/events", `{"name":"x"}`, bearer(token(t, 1, "customer")))
    assert.Equal(t, http.StatusForbidden, code)

    code, _ = a.do(http.MethodPost, "/v1/events", `{"name":""}`, bearer(token(t, 1, "organizer")))
    assert.Equal(t, http.StatusBadRequest, code)
}

func TestQueueHoldAndConvertFlow(t *testing.T) {
    a := newAPI(t)
    org := token(t, 1, "organizer")
    eventID, tierID := a.setupEvent(org)
    ev := itoa(eventID)

    code, _ := a.do(http.MethodPut, "/v1/events/"+ev+"/queue-config",
        `{"max_concurrent_users":1,"checkout_timeout_minutes":9,"session_timeout_minutes":30,"enable_queue":true}`,
        bearer(org))
    require.Equal(t, http.StatusOK, code)

    code, body := a.do(http.MethodPost, "/v1/events/"+ev+"/sessions", `{"user_session_id":"s-a"}`, nil)
    require.Equal(t, http.StatusOK, code)
    assert.Equal(t, "active", body["status"])

    code, body = a.do(http.MethodPost, "/v1/events/"+ev+"/sessions", `{"user_session_id":"s-b"}`, nil)
    require.Equal(t, http.StatusAccepted, code)
    assert.Equal(t, float64(1), body["position"])
    assert.Equal(t, "you are in line, position 1", body["message"])

    // The waiting buyer may not hold tickets.
    holdBody := `{"tier_id":` + itoa(tierID) + `,"quantity":2}`
    code, _ = a.do(http.MethodPost, "/v1/holds", holdBody, map[string]string{handler.SessionHeader: "s-b"})
    assert.Equal(t, http.StatusForbidden, code)

    customer := token(t, 7, "customer")
    hdr := bearer(customer)
    hdr[handler.SessionHeader] = "s-a"
    code, body = a.do(http.MethodPost, "/v1/holds", holdBody, hdr)
    require.Equal(t, http.StatusCreated, code)
    holdID := body["hold_id"].(string)

    code, body = a.do(http.MethodPost, "/v1/holds", `{"tier_id":`+itoa(tierID)+`,"quantity":9}`, hdr)
    assert.Equal(t, http.StatusConflict, code)
    assert.Equal(t, handler.MsgInsufficient, body["error"])
    assert.Equal(t, float64(8), body["available"])

    code, _ = a.do(http.MethodPost, "/v1/payments/holds/"+holdID+"/convert", "", nil)
    assert.Equal(t, http.StatusUnauthorized, code)

    key := map[string]string{middleware.APIKeyHeader: testAPIKey}
    code, body = a.do(http.MethodPost, "/v1/payments/holds/"+holdID+"/convert", `{"payment_ref":"pi_1"}`, key)
    require.Equal(t, http.StatusOK, code)
    assert.Equal(t, float64(2000), body["total_cents"])
    assert.Equal(t, "pi_1", body["payment_ref"])

    code, _ = a.do(http.MethodPost, "/v1/payments/holds/"+holdID+"/convert", "", key)
    assert.Equal(t, http.StatusNotFound, code)

    code, body = a.do(http.MethodGet, "/v1/my-tickets", "", bearer(customer))
    require.Equal(t, http.StatusOK, code)
    assert.Len(t, body["sales"], 1)

    code, _ = a.do(http.MethodPost, "/v1/events/"+ev+"/sessions/complete", `{"user_session_id":"s-a"}`, nil)
    assert.Equal(t, http.StatusOK, code)
    code, body = a.do(http.MethodPost, "/v1/events/"+ev+"/sessions", `{"user_session_id":"s-b"}`, nil)
    assert.Equal(t, http.StatusOK, code)
    assert.Equal(t, "active", body["status"])
}

func TestReleaseHoldOwnership(t *testing.T) {
    a := newAPI(t)
    org := token(t, 1, "organizer")
    eventID, tierID := a.setupEvent(org)
    code, _ := a.do(http.MethodPut, "/v1/events/"+itoa(eventID)+"/queue-config",
        `{"max_concurrent_users":5,"checkout_timeout_minutes":9,"session_timeout_minutes":30,"enable_queue":false}`,
        bearer(org))
    require.Equal(t, http.StatusOK, code)

    owner := bearer(token(t, 7, "customer"))
    code, body := a.do(http.MethodPost, "/v1/holds", `{"tier_id":`+itoa(tierID)+`,"quantity":1}`, owner)
    require.Equal(t, http.StatusCreated, code)
    holdID := body["hold_id"].(string)

    code, _ = a.do(http.MethodDelete, "/v1/holds/"+holdID, "", bearer(token(t, 8, "customer")))
    assert.Equal(t, http.StatusForbidden, code)

    code, _ = a.do(http.MethodDelete, "/v1/holds/"+holdID, "", owner)
    assert.Equal(t, http.StatusOK, code)

    code, _ = a.do(http.MethodDelete, "/v1/holds/"+holdID, "", owner)
    assert.Equal(t, http.StatusNotFound, code)
}

func TestPricingRoutes(t *testing.T) {
    a := newAPI(t)
    org := token(t, 1, "organizer")
    eventID, tierID := a.setupEvent(org)

    code, _ := a.do(http.MethodPut, "/v1/fees/default", `{"fee_flat_cents":100,"fee_pct_bps":250}`, bearer(org))
    require.Equal(t, http.StatusOK, code)

    code, body := a.do(http.MethodGet, "/v1/fees?tier_id="+itoa(tierID), "", nil)
    require.Equal(t, http.StatusOK, code)
    assert.Equal(t, "default", body["source"])

    code, _ = a.do(http.MethodGet, "/v1/fees?tier_id="+itoa(tierID)+"&event_id="+itoa(eventID), "", nil)
    assert.Equal(t, http.StatusBadRequest, code)

    code, _ = a.do(http.MethodPost, "/v1/promo-codes",
        `{"code":"fm-50","discount_type":"percentage","discount_value":50}`, bearer(org))
    require.Equal(t, http.StatusCreated, code)

    code, body = a.do(http.MethodPost, "/v1/quotes", `{"tier_id":`+itoa(tierID)+`,"quantity":2,"promo_code":"FM-50"}`, nil)
    require.Equal(t, http.StatusOK, code)
    assert.Equal(t, float64(250), body["fees_cents"])
    assert.Equal(t, float64(1000), body["discount_cents"])
    assert.Equal(t, float64(1250), body["total_cents"])

    code, body = a.do(http.MethodPost, "/v1/promo-codes/validate", `{"code":"nope","event_id":`+itoa(eventID)+`}`, nil)
    assert.Equal(t, http.StatusBadRequest, code)
    assert.Equal(t, service.ErrInvalidPromoCode.Error(), body["error"])
    assert.Equal(t, false, body["valid"])

    code, body = a.do(http.MethodPost, "/v1/promo-codes/validate", `{"code":"fm-50","event_id":`+itoa(eventID)+`}`, nil)
    require.Equal(t, http.StatusOK, code)
    assert.Equal(t, true, body["valid"])

    code, body = a.do(http.MethodGet, "/v1/events/"+itoa(eventID)+"/tiers", "", nil)
    require.Equal(t, http.StatusOK, code)
    assert.Len(t, body["tiers"], 1)
}

func availableOf(t *testing.T, rec *httptest.ResponseRecorder) float64 {
    t.Helper()
    var body struct {
        Tiers []map[string]any `json:"tiers"`
    }
    require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
    require.Len(t, body.Tiers, 1)
    return body.Tiers[0]["available_inventory"].(float64)
}

func TestTierListingCachedPerEvent(t *testing.T) {
    a := newAPI(t)
    org := token(t, 1, "organizer")
    eventA, tierA := a.setupEvent(org)
    eventB, tierB := a.setupEvent(org)
    for _, ev := range []int{eventA, eventB} {
        code, _ := a.do(http.MethodPut, "/v1/events/"+itoa(ev)+"/queue-config",
            `{"max_concurrent_users":5,"checkout_timeout_minutes":9,"session_timeout_minutes":30,"enable_queue":false}`,
            bearer(org))
        require.Equal(t, http.StatusOK, code)
    }
    listA := "/v1/events/" + itoa(eventA) + "/tiers"
    listB := "/v1/events/" + itoa(eventB) + "/tiers"

    first := a.serve(http.MethodGet, listA, "", nil)
    require.Equal(t, http.StatusOK, first.Code)
    assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
    second := a.serve(http.MethodGet, listB, "", nil)
    require.Equal(t, http.StatusOK, second.Code)
    assert.Equal(t, "MISS", second.Header().Get("X-Cache"))
    assert.NotEqual(t, first.Body.String(), second.Body.String())
    assert.Contains(t, second.Body.String(), `"event_id":`+itoa(eventB))

    hit := a.serve(http.MethodGet, listA, "", nil)
    assert.Equal(t, "HIT", hit.Header().Get("X-Cache"))
    assert.JSONEq(t, first.Body.String(), hit.Body.String())

    // A hold on event B drops only B's listing.
    code, _ := a.do(http.MethodPost, "/v1/holds", `{"tier_id":`+itoa(tierB)+`,"quantity":3,"duration_s":120}`, nil)
    require.Equal(t, http.StatusCreated, code)
    assert.True(t, a.redis.Exists("cache:tiers:event:"+itoa(eventA)))
    assert.False(t, a.redis.Exists("cache:tiers:event:"+itoa(eventB)))

    rec := a.serve(http.MethodGet, listB, "", nil)
    assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
    assert.Equal(t, float64(7), availableOf(t, rec))
    rec = a.serve(http.MethodGet, listA, "", nil)
    assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
    assert.Equal(t, float64(10), availableOf(t, rec))

    code, body := a.do(http.MethodPost, "/v1/holds", `{"tier_id":`+itoa(tierA)+`,"quantity":1}`, nil)
    require.Equal(t, http.StatusCreated, code)
    code, _ = a.do(http.MethodDelete, "/v1/holds/"+body["hold_id"].(string), "", nil)
    require.Equal(t, http.StatusOK, code)
    rec = a.serve(http.MethodGet, listA, "", nil)
    assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
    assert.Equal(t, float64(10), availableOf(t, rec))
}

func TestCreateHoldDuration(t *testing.T) {
    a := newAPI(t)
    org := token(t, 1, "organizer")
    eventID, tierID := a.setupEvent(org)
    code, _ := a.do(http.MethodPut, "/v1/events/"+itoa(eventID)+"/queue-config",
        `{"max_concurrent_users":5,"checkout_timeout_minutes":9,"session_timeout_minutes":30,"enable_queue":false}`,
        bearer(org))
    require.Equal(t, http.StatusOK, code)

    for _, d := range []string{"-1", "1801", "99999999999"} {
        code, body := a.do(http.MethodPost, "/v1/holds", `{"tier_id":`+itoa(tierID)+`,"quantity":1,"duration_s":`+d+`}`, nil)
        assert.Equal(t, http.StatusBadRequest, code, d)
        assert.Equal(t, service.ErrInvalidDuration.Error(), body["error"], d)
    }

    code, body := a.do(http.MethodPost, "/v1/holds", `{"tier_id":`+itoa(tierID)+`,"quantity":1,"duration_s":1800}`, nil)
    require.Equal(t, http.StatusCreated, code)
    assert.NotEmpty(t, body["expires_at"])
}

func TestPromoValidationIsThrottled(t *testing.T) {
    a := newAPI(t)
    org := token(t, 1, "organizer")
    eventID, _ := a.setupEvent(org)
    req := `{"code":"nope","event_id":` + itoa(eventID) + `}`
    ip := map[string]string{echo.HeaderXRealIP: "203.0.113.9"}

    for i := 0; i < 3; i++ {
        code, _ := a.do(http.MethodPost, "/v1/promo-codes/validate", req, ip)
        assert.Equal(t, http.StatusBadRequest, code)
    }
    code, body := a.do(http.MethodPost, "/v1/promo-codes/validate", req, ip)
    assert.Equal(t, http.StatusTooManyRequests, code)
    assert.Equal(t, "too many requests", body["error"])

    // Routes without a bucket are never throttled.
    code, _ = a.do(http.MethodGet, "/v1/fees", "", ip)
    assert.NotEqual(t, http.StatusTooManyRequests, code)
}
