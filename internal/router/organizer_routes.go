package router

import (
    "github.com/labstack/echo/v4"

    "github.com/iliyamo/ticketing-core/internal/handler"
    "github.com/iliyamo/ticketing-core/internal/middleware"
)

// RegisterOrganizer registers event setup endpoints.  All routes require a
// valid JWT whose role grants event:manage (ORGANIZER or ADMIN).
func RegisterOrganizer(e *echo.Echo, catalog *handler.CatalogHandler, sessions *handler.SessionHandler, jwtSecret string) {
    g := e.Group(
        "/v1",
        middleware.JWTAuth(jwtSecret),
        middleware.RequirePermission(middleware.PermEventManage),
    )
    g.POST("/events", catalog.CreateEvent)
    g.POST("/tier-groups", catalog.CreateGroup)
    g.POST("/tiers", catalog.CreateTier)
    g.POST("/promo-codes", catalog.CreatePromo)
    g.PUT("/fees/default", catalog.SetDefaultFees)

    g.GET("/events/:id/queue-config", sessions.GetConfig)
    g.PUT("/events/:id/queue-config", sessions.PutConfig)
}
