package handler

import (
    "net/http"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/ticketing-core/internal/middleware"
    "github.com/iliyamo/ticketing-core/internal/model"
    "github.com/iliyamo/ticketing-core/internal/service"
)

// CatalogHandler serves the organizer setup endpoints and the buyer-facing
// catalogue reads.
type CatalogHandler struct {
    Catalog *service.CatalogService
    Logger  *logrus.Logger
}

func NewCatalogHandler(catalog *service.CatalogService, logger *logrus.Logger) *CatalogHandler {
    if catalog == nil {
        panic("nil catalog service passed to NewCatalogHandler")
    }
    return &CatalogHandler{Catalog: catalog, Logger: logger}
}

// ListTiers handles GET /v1/events/:id/tiers.
func (h *CatalogHandler) ListTiers(c echo.Context) error {
    eventID, ok := pathID(c, "id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
    }
    tiers, err := h.Catalog.ListVisibleTiers(c.Request().Context(), eventID)
    if err != nil {
        return writeError(c, h.Logger, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"event_id": eventID, "tiers": tiers})
}

// MyTickets handles GET /v1/my-tickets.
func (h *CatalogHandler) MyTickets(c echo.Context) error {
    uid, ok := middleware.UserID(c)
    if !ok {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    sales, err := h.Catalog.ListSales(c.Request().Context(), uid)
    if err != nil {
        return writeError(c, h.Logger, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"sales": sales})
}

type createEventRequest struct {
    Name           string `json:"name"`
    UseDefaultFees *bool  `json:"use_default_fees"`
    FeeFlatCents   *int64 `json:"fee_flat_cents"`
    FeePctBps      *int64 `json:"fee_pct_bps"`
}

// CreateEvent handles POST /v1/events.  use_default_fees defaults to true.
func (h *CatalogHandler) CreateEvent(c echo.Context) error {
    var body createEventRequest
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    e := &model.Event{
        Name:           body.Name,
        UseDefaultFees: body.UseDefaultFees == nil || *body.UseDefaultFees,
        FeeFlatCents:   body.FeeFlatCents,
        FeePctBps:      body.FeePctBps,
    }
    if err := h.Catalog.CreateEvent(c.Request().Context(), e); err != nil {
        return writeError(c, h.Logger, err)
    }
    return c.JSON(http.StatusCreated, e)
}

type createGroupRequest struct {
    EventID          int64  `json:"event_id"`
    Name             string `json:"name"`
    InheritEventFees *bool  `json:"inherit_event_fees"`
    FeeFlatCents     *int64 `json:"fee_flat_cents"`
    FeePctBps        *int64 `json:"fee_pct_bps"`
}

// CreateGroup handles POST /v1/tier-groups.
func (h *CatalogHandler) CreateGroup(c echo.Context) error {
    var body createGroupRequest
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    if body.EventID <= 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "event_id is required"})
    }
    g := &model.TicketTierGroup{
        EventID:          body.EventID,
        Name:             body.Name,
        InheritEventFees: body.InheritEventFees == nil || *body.InheritEventFees,
        FeeFlatCents:     body.FeeFlatCents,
        FeePctBps:        body.FeePctBps,
    }
    if err := h.Catalog.CreateGroup(c.Request().Context(), g); err != nil {
        return writeError(c, h.Logger, err)
    }
    return c.JSON(http.StatusCreated, g)
}

type createTierRequest struct {
    EventID                  int64  `json:"event_id"`
    GroupID                  *int64 `json:"group_id"`
    Name                     string `json:"name"`
    PriceCents               int64  `json:"price_cents"`
    TotalTickets             int    `json:"total_tickets"`
    TierOrder                int    `json:"tier_order"`
    IsActive                 *bool  `json:"is_active"`
    HideUntilPreviousSoldOut bool   `json:"hide_until_previous_sold_out"`
    InheritGroupFees         *bool  `json:"inherit_group_fees"`
    FeeFlatCents             *int64 `json:"fee_flat_cents"`
    FeePctBps                *int64 `json:"fee_pct_bps"`
}

// CreateTier handles POST /v1/tiers.  is_active and inherit_group_fees
// default to true.
func (h *CatalogHandler) CreateTier(c echo.Context) error {
    var body createTierRequest
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    if body.EventID <= 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "event_id is required"})
    }
    t := &model.TicketTier{
        EventID:                  body.EventID,
        GroupID:                  body.GroupID,
        Name:                     body.Name,
        PriceCents:               body.PriceCents,
        TotalTickets:             body.TotalTickets,
        TierOrder:                body.TierOrder,
        IsActive:                 body.IsActive == nil || *body.IsActive,
        HideUntilPreviousSoldOut: body.HideUntilPreviousSoldOut,
        InheritGroupFees:         body.InheritGroupFees == nil || *body.InheritGroupFees,
        FeeFlatCents:             body.FeeFlatCents,
        FeePctBps:                body.FeePctBps,
    }
    if err := h.Catalog.CreateTier(c.Request().Context(), t); err != nil {
        return writeError(c, h.Logger, err)
    }
    return c.JSON(http.StatusCreated, t)
}

type createPromoRequest struct {
    Code          string  `json:"code"`
    DiscountType  string  `json:"discount_type"`
    DiscountValue int64   `json:"discount_value"`
    IsActive      *bool   `json:"is_active"`
    ExpiresAt     *string `json:"expires_at"` // RFC3339
    EventIDs      []int64 `json:"event_ids"`
}

// CreatePromo handles POST /v1/promo-codes.  A code without event_ids
// applies to every event.
func (h *CatalogHandler) CreatePromo(c echo.Context) error {
    var body createPromoRequest
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    p := &model.PromoCode{
        Code:          body.Code,
        DiscountType:  body.DiscountType,
        DiscountValue: body.DiscountValue,
        IsActive:      body.IsActive == nil || *body.IsActive,
    }
    if body.ExpiresAt != nil && *body.ExpiresAt != "" {
        at, err := time.Parse(time.RFC3339, *body.ExpiresAt)
        if err != nil {
            return c.JSON(http.StatusBadRequest, echo.Map{"error": "expires_at must be RFC3339"})
        }
        at = at.UTC()
        p.ExpiresAt = &at
    }
    if err := h.Catalog.CreatePromoCode(c.Request().Context(), p, body.EventIDs); err != nil {
        return writeError(c, h.Logger, err)
    }
    return c.JSON(http.StatusCreated, echo.Map{"promo_code": p, "event_ids": body.EventIDs})
}

type defaultFeesRequest struct {
    FeeFlatCents int64 `json:"fee_flat_cents"`
    FeePctBps    int64 `json:"fee_pct_bps"`
}

// SetDefaultFees handles PUT /v1/fees/default.
func (h *CatalogHandler) SetDefaultFees(c echo.Context) error {
    var body defaultFeesRequest
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    if err := h.Catalog.SetDefaultFees(c.Request().Context(), body.FeeFlatCents, body.FeePctBps); err != nil {
        return writeError(c, h.Logger, err)
    }
    return c.JSON(http.StatusOK, echo.Map{
        "fee_flat_cents": body.FeeFlatCents,
        "fee_pct_bps":    body.FeePctBps,
        "source":         model.FeeSourceDefault,
    })
}
