package handler

import (
    "fmt"
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/ticketing-core/internal/model"
    "github.com/iliyamo/ticketing-core/internal/service"
)

// SessionHandler exposes the admission queue and its per-event settings.
type SessionHandler struct {
    Admission *service.AdmissionService
    Logger    *logrus.Logger
}

func NewSessionHandler(admission *service.AdmissionService, logger *logrus.Logger) *SessionHandler {
    if admission == nil {
        panic("nil admission service passed to NewSessionHandler")
    }
    return &SessionHandler{Admission: admission, Logger: logger}
}

type sessionRequest struct {
    UserSessionID string `json:"user_session_id"`
}

// sessionID reads the caller's session id from the body, falling back to
// the X-Session-ID header.
func sessionID(c echo.Context) (string, error) {
    var body sessionRequest
    if c.Request().ContentLength > 0 {
        if err := c.Bind(&body); err != nil {
            return "", err
        }
    }
    id := strings.TrimSpace(body.UserSessionID)
    if id == "" {
        id = strings.TrimSpace(c.Request().Header.Get(SessionHeader))
    }
    return id, nil
}

// Request handles POST /v1/events/:id/sessions.  An admitted caller gets
// 200 with the active session; a queued caller gets 202 with their place
// in line.
func (h *SessionHandler) Request(c echo.Context) error {
    eventID, ok := pathID(c, "id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
    }
    id, err := sessionID(c)
    if err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    adm, err := h.Admission.RequestSession(c.Request().Context(), eventID, id)
    if err != nil {
        return writeError(c, h.Logger, err)
    }
    if adm.Status == model.SessionWaiting {
        return c.JSON(http.StatusAccepted, echo.Map{
            "status":   adm.Status,
            "position": adm.Position,
            "message":  fmt.Sprintf("you are in line, position %d", adm.Position),
            "session":  adm.Session,
        })
    }
    return c.JSON(http.StatusOK, adm)
}

// Complete handles POST /v1/events/:id/sessions/complete, freeing the
// caller's checkout slot.  It returns 404 when the caller holds no active
// session.
func (h *SessionHandler) Complete(c echo.Context) error {
    eventID, ok := pathID(c, "id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
    }
    id, err := sessionID(c)
    if err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    done, err := h.Admission.CompleteSession(c.Request().Context(), eventID, id)
    if err != nil {
        return writeError(c, h.Logger, err)
    }
    if !done {
        return c.JSON(http.StatusNotFound, echo.Map{"error": "no active session"})
    }
    return c.JSON(http.StatusOK, echo.Map{"status": model.SessionCompleted})
}

// GetConfig handles GET /v1/events/:id/queue-config.
func (h *SessionHandler) GetConfig(c echo.Context) error {
    eventID, ok := pathID(c, "id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
    }
    cfg, err := h.Admission.GetQueueConfiguration(c.Request().Context(), eventID)
    if err != nil {
        return writeError(c, h.Logger, err)
    }
    return c.JSON(http.StatusOK, cfg)
}

// PutConfig handles PUT /v1/events/:id/queue-config.  The whole
// configuration is replaced; the event id comes from the path.
func (h *SessionHandler) PutConfig(c echo.Context) error {
    eventID, ok := pathID(c, "id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
    }
    cfg := model.DefaultQueueConfiguration(eventID)
    if err := c.Bind(&cfg); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    cfg.EventID = eventID
    if err := h.Admission.SetQueueConfiguration(c.Request().Context(), cfg); err != nil {
        return writeError(c, h.Logger, err)
    }
    return c.JSON(http.StatusOK, cfg)
}
