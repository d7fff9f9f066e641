package handler

import (
    "crypto/sha256"
    "encoding/hex"
    "net/http"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/ticketing-core/internal/middleware"
    "github.com/iliyamo/ticketing-core/internal/service"
)

// SessionHeader carries the buyer's admission-queue session id.
const SessionHeader = "X-Session-ID"

// HoldHandler serves hold creation, release and the payment-side
// conversion.  Authentication and permission checks are done by
// middleware; the handler enforces admission and hold ownership.
type HoldHandler struct {
    Holds     *service.HoldService
    Admission *service.AdmissionService
    Logger    *logrus.Logger
}

func NewHoldHandler(holds *service.HoldService, admission *service.AdmissionService, logger *logrus.Logger) *HoldHandler {
    if holds == nil || admission == nil {
        panic("nil service passed to NewHoldHandler")
    }
    return &HoldHandler{Holds: holds, Admission: admission, Logger: logger}
}

type createHoldRequest struct {
    TierID        int64  `json:"tier_id"`
    Quantity      int    `json:"quantity"`
    UserSessionID string `json:"user_session_id"`
    Fingerprint   string `json:"fingerprint"`
    DurationS     int    `json:"duration_s"`
}

// fingerprint identifies a guest's device when the client sends none.
func fingerprint(c echo.Context) string {
    sum := sha256.Sum256([]byte(c.RealIP() + "|" + c.Request().UserAgent()))
    return hex.EncodeToString(sum[:16])
}

// Create handles POST /v1/holds.  When the event's admission queue is on,
// the caller must hold an active session, identified by user_session_id or
// the X-Session-ID header.  duration_s optionally sets the hold length, up
// to service.MaxHoldDuration.  It returns 201 with the hold id and expiry, or
// 409 when the tier has fewer tickets than requested.
func (h *HoldHandler) Create(c echo.Context) error {
    var body createHoldRequest
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    if body.TierID <= 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "tier_id is required"})
    }
    if body.Quantity <= 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": service.ErrInvalidQuantity.Error()})
    }
    if body.DurationS < 0 || body.DurationS > int(service.MaxHoldDuration/time.Second) {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": service.ErrInvalidDuration.Error()})
    }
    ctx := c.Request().Context()

    eventID, err := h.Holds.TierEventID(ctx, body.TierID)
    if err != nil {
        return writeError(c, h.Logger, err)
    }
    sessionID := strings.TrimSpace(body.UserSessionID)
    if sessionID == "" {
        sessionID = strings.TrimSpace(c.Request().Header.Get(SessionHeader))
    }
    admitted, err := h.Admission.IsAdmitted(ctx, eventID, sessionID)
    if err != nil {
        return writeError(c, h.Logger, err)
    }
    if !admitted {
        return c.JSON(http.StatusForbidden, echo.Map{"error": "no active checkout session for this event"})
    }

    req := service.CreateHoldRequest{
        TierID:      body.TierID,
        Quantity:    body.Quantity,
        Fingerprint: strings.TrimSpace(body.Fingerprint),
        Duration:    time.Duration(body.DurationS) * time.Second,
    }
    if req.Fingerprint == "" {
        req.Fingerprint = fingerprint(c)
    }
    if uid, ok := middleware.UserID(c); ok {
        req.UserID = &uid
    }
    hold, err := h.Holds.CreateHold(ctx, req)
    if err != nil {
        return writeError(c, h.Logger, err)
    }
    return c.JSON(http.StatusCreated, echo.Map{
        "hold_id":    hold.ID,
        "tier_id":    hold.TicketTierID,
        "quantity":   hold.Quantity,
        "expires_at": hold.ExpiresAt.Format(time.RFC3339),
    })
}

// Release handles DELETE /v1/holds/:id.  A hold placed by a signed-in user
// can only be released by that user or an admin.  Releasing a hold that
// has already ended returns 404.
func (h *HoldHandler) Release(c echo.Context) error {
    holdID := strings.TrimSpace(c.Param("id"))
    if holdID == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid hold id"})
    }
    ctx := c.Request().Context()

    hold, err := h.Holds.GetHold(ctx, holdID)
    if err != nil {
        return writeError(c, h.Logger, err)
    }
    if hold.UserID != nil && middleware.Role(c) != middleware.RoleAdmin {
        uid, ok := middleware.UserID(c)
        if !ok || uid != *hold.UserID {
            return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
        }
    }

    released, err := h.Holds.ReleaseHold(ctx, holdID)
    if err != nil {
        return writeError(c, h.Logger, err)
    }
    if !released {
        return c.JSON(http.StatusNotFound, echo.Map{"error": "hold not found"})
    }
    return c.JSON(http.StatusOK, echo.Map{"released": true, "hold_id": holdID})
}

type convertRequest struct {
    PromoCode  string `json:"promo_code"`
    PaymentRef string `json:"payment_ref"`
}

// Convert handles POST /v1/payments/holds/:id/convert, called by the
// payment service once funds are confirmed.  A body is optional.  It
// returns the recorded sale, or 404 when the hold was already released or
// converted.
func (h *HoldHandler) Convert(c echo.Context) error {
    holdID := strings.TrimSpace(c.Param("id"))
    if holdID == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid hold id"})
    }
    var body convertRequest
    if c.Request().ContentLength > 0 {
        if err := c.Bind(&body); err != nil {
            return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
        }
    }
    sale, ok, err := h.Holds.Checkout(c.Request().Context(), holdID, service.SaleOptions{
        PromoCode:  strings.TrimSpace(body.PromoCode),
        PaymentRef: strings.TrimSpace(body.PaymentRef),
    })
    if err != nil {
        return writeError(c, h.Logger, err)
    }
    if !ok {
        return c.JSON(http.StatusNotFound, echo.Map{"error": "hold not found"})
    }
    return c.JSON(http.StatusOK, sale)
}
