package handler

import (
    "encoding/json"
    "fmt"
    "net/http"
    "net/http/httptest"
    "testing"

    "github.com/labstack/echo/v4"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/ticketing-core/internal/ledger"
    "github.com/iliyamo/ticketing-core/internal/repository"
    "github.com/iliyamo/ticketing-core/internal/service"
    "github.com/iliyamo/ticketing-core/internal/testutil"
)

func TestWriteError(t *testing.T) {
    cases := []struct {
        name   string
        err    error
        status int
        msg    string
    }{
        {"insufficient", fmt.Errorf("hold: %w", &repository.InsufficientInventoryError{Requested: 6, Available: 4}), http.StatusConflict, MsgInsufficient},
        {"tier missing", repository.ErrTierNotFound, http.StatusNotFound, repository.ErrTierNotFound.Error()},
        {"not found", repository.ErrNotFound, http.StatusNotFound, "not found"},
        {"unavailable", repository.ErrTierUnavailable, http.StatusConflict, repository.ErrTierUnavailable.Error()},
        {"promo", fmt.Errorf("price hold: %w", service.ErrInvalidPromoCode), http.StatusBadRequest, "invalid promo code"},
        {"quantity", service.ErrInvalidQuantity, http.StatusBadRequest, service.ErrInvalidQuantity.Error()},
        {"duration", service.ErrInvalidDuration, http.StatusBadRequest, service.ErrInvalidDuration.Error()},
        {"corruption", fmt.Errorf("apply: %w", ledger.ErrInventoryCorruption), http.StatusInternalServerError, "internal error"},
    }
    e := echo.New()
    for _, tc := range cases {
        t.Run(tc.name, func(t *testing.T) {
            rec := httptest.NewRecorder()
            c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
            require.NoError(t, writeError(c, testutil.Logger(), tc.err))
            assert.Equal(t, tc.status, rec.Code)

            var body map[string]any
            require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
            assert.Equal(t, tc.msg, body["error"])
        })
    }
}

func TestPathAndQueryID(t *testing.T) {
    e := echo.New()
    c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?tier_id=5&bad=x", nil), httptest.NewRecorder())
    c.SetParamNames("id")
    c.SetParamValues("12")

    id, ok := pathID(c, "id")
    assert.True(t, ok)
    assert.Equal(t, int64(12), id)

    id, ok = queryID(c, "tier_id")
    assert.True(t, ok)
    assert.Equal(t, int64(5), id)

    id, ok = queryID(c, "missing")
    assert.True(t, ok)
    assert.Zero(t, id)

    _, ok = queryID(c, "bad")
    assert.False(t, ok)
}
