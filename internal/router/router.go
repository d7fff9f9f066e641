package router // package router defines how HTTP routes are registered for the API

import (
    "database/sql"

    "github.com/labstack/echo/v4"
    echomw "github.com/labstack/echo/v4/middleware"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/ticketing-core/internal/handler"
    "github.com/iliyamo/ticketing-core/internal/middleware"
)

// New builds an Echo instance with the shared middleware chain: panic
// recovery, request ids and one structured log line per request.
func New(logger *logrus.Logger) *echo.Echo {
    e := echo.New()
    e.HideBanner = true
    e.HidePort = true
    e.Use(echomw.Recover())
    e.Use(echomw.RequestID())
    e.Use(middleware.RequestLogger(logger))
    return e
}

// RegisterRoutes registers routes that need no identity at all.  The
// health check pings the database so load balancers stop routing to an
// instance that lost it.
func RegisterRoutes(e *echo.Echo, db *sql.DB) {
    e.GET("/healthz", handler.Health(db))
}
