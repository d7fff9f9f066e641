package handler

import (
    "errors"
    "net/http"
    "strconv"

    "github.com/labstack/echo/v4"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/ticketing-core/internal/ledger"
    "github.com/iliyamo/ticketing-core/internal/repository"
    "github.com/iliyamo/ticketing-core/internal/service"
)

// MsgInsufficient is shown when a hold asks for more tickets than remain.
const MsgInsufficient = "tickets no longer available, please reduce quantity"

// writeError maps service and repository errors onto HTTP responses.
// Unrecognised errors are logged and reported as 500 without detail.
func writeError(c echo.Context, logger *logrus.Logger, err error) error {
    var insufficient *repository.InsufficientInventoryError
    switch {
    case errors.As(err, &insufficient):
        return c.JSON(http.StatusConflict, echo.Map{
            "error":     MsgInsufficient,
            "requested": insufficient.Requested,
            "available": insufficient.Available,
        })
    case errors.Is(err, repository.ErrTierNotFound),
        errors.Is(err, repository.ErrEventNotFound):
        return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
    case errors.Is(err, repository.ErrNotFound):
        return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
    case errors.Is(err, repository.ErrTierUnavailable):
        return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
    case errors.Is(err, repository.ErrConflict):
        return c.JSON(http.StatusConflict, echo.Map{"error": "already exists"})
    case errors.Is(err, service.ErrInvalidPromoCode):
        return c.JSON(http.StatusBadRequest, echo.Map{"error": service.ErrInvalidPromoCode.Error()})
    case errors.Is(err, service.ErrInvalidQuantity),
        errors.Is(err, service.ErrInvalidDuration),
        errors.Is(err, service.ErrInvalidSession),
        errors.Is(err, service.ErrInvalidQueueConfig),
        errors.Is(err, service.ErrInvalidFeeTarget),
        errors.Is(err, service.ErrInvalidInput):
        return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
    }

    entry := logger.WithContext(c.Request().Context()).WithError(err).WithField("path", c.Path())
    if errors.Is(err, ledger.ErrInventoryCorruption) {
        entry = entry.WithField("alert", "inventory_corruption")
    }
    entry.Error("request failed")
    return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

// pathID parses a positive integer path parameter.
func pathID(c echo.Context, name string) (int64, bool) {
    id, err := strconv.ParseInt(c.Param(name), 10, 64)
    return id, err == nil && id > 0
}

// queryID parses an optional positive integer query parameter; absent
// parameters yield 0.
func queryID(c echo.Context, name string) (int64, bool) {
    raw := c.QueryParam(name)
    if raw == "" {
        return 0, true
    }
    id, err := strconv.ParseInt(raw, 10, 64)
    return id, err == nil && id > 0
}
