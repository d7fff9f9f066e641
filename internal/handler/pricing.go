package handler

import (
    "errors"
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/ticketing-core/internal/service"
)

// PricingHandler serves fee lookups, quotes and promo code checks.
type PricingHandler struct {
    Pricing *service.PricingService
    Logger  *logrus.Logger
}

func NewPricingHandler(pricing *service.PricingService, logger *logrus.Logger) *PricingHandler {
    if pricing == nil {
        panic("nil pricing service passed to NewPricingHandler")
    }
    return &PricingHandler{Pricing: pricing, Logger: logger}
}

// Fees handles GET /v1/fees.  Exactly one of tier_id, group_id or event_id
// must be given.
func (h *PricingHandler) Fees(c echo.Context) error {
    var target service.FeeTarget
    var ok bool
    if target.TierID, ok = queryID(c, "tier_id"); !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid tier_id"})
    }
    if target.GroupID, ok = queryID(c, "group_id"); !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid group_id"})
    }
    if target.EventID, ok = queryID(c, "event_id"); !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event_id"})
    }
    fs, err := h.Pricing.ResolveFees(c.Request().Context(), target)
    if err != nil {
        return writeError(c, h.Logger, err)
    }
    return c.JSON(http.StatusOK, fs)
}

type quoteRequest struct {
    TierID    int64  `json:"tier_id"`
    Quantity  int    `json:"quantity"`
    PromoCode string `json:"promo_code"`
}

// Quote handles POST /v1/quotes.
func (h *PricingHandler) Quote(c echo.Context) error {
    var body quoteRequest
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    if body.TierID <= 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "tier_id is required"})
    }
    q, err := h.Pricing.Quote(c.Request().Context(), body.TierID, body.Quantity, strings.TrimSpace(body.PromoCode))
    if err != nil {
        return writeError(c, h.Logger, err)
    }
    return c.JSON(http.StatusOK, q)
}

type validatePromoRequest struct {
    Code    string `json:"code"`
    EventID int64  `json:"event_id"`
}

// ValidatePromo handles POST /v1/promo-codes/validate.  Unknown, inactive,
// expired and unlinked codes all get the same 400 response.
func (h *PricingHandler) ValidatePromo(c echo.Context) error {
    var body validatePromoRequest
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    if body.EventID <= 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "event_id is required"})
    }
    p, err := h.Pricing.ValidatePromoCode(c.Request().Context(), body.Code, body.EventID)
    if errors.Is(err, service.ErrInvalidPromoCode) {
        return c.JSON(http.StatusBadRequest, echo.Map{"valid": false, "error": err.Error()})
    }
    if err != nil {
        return writeError(c, h.Logger, err)
    }
    return c.JSON(http.StatusOK, echo.Map{
        "valid":          true,
        "code":           p.Code,
        "discount_type":  p.DiscountType,
        "discount_value": p.DiscountValue,
    })
}
