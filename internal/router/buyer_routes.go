package router

import (
    "github.com/labstack/echo/v4"

    "github.com/iliyamo/ticketing-core/internal/handler"
    "github.com/iliyamo/ticketing-core/internal/middleware"
)

// Buyer groups the handlers behind the buyer-facing endpoints.
type Buyer struct {
    Sessions *handler.SessionHandler
    Holds    *handler.HoldHandler
    Pricing  *handler.PricingHandler
    Catalog  *handler.CatalogHandler
}

// RegisterBuyer registers the endpoints guests and signed-in buyers use.
// A bearer token is optional; without one the caller acts as GUEST.
// limiter gives sessions, holds and promo validation a bucket each, and
// cache keeps each event's tier listing.  Both pass requests straight
// through when Redis is unavailable.
func RegisterBuyer(e *echo.Echo, h Buyer, jwtSecret string, limiter *middleware.BuyerLimiter, cache *middleware.TierCache) {
    e.GET("/v1/events/:id/tiers", h.Catalog.ListTiers, cache.Middleware())

    g := e.Group("/v1", middleware.OptionalJWT(jwtSecret))
    g.POST("/events/:id/sessions", h.Sessions.Request,
        middleware.RequirePermission(middleware.PermSessionRequest), limiter.Sessions())
    g.POST("/events/:id/sessions/complete", h.Sessions.Complete,
        middleware.RequirePermission(middleware.PermSessionRequest))

    g.POST("/holds", h.Holds.Create, middleware.RequirePermission(middleware.PermHoldCreate), limiter.Holds())
    g.DELETE("/holds/:id", h.Holds.Release, middleware.RequirePermission(middleware.PermHoldRelease))

    g.POST("/promo-codes/validate", h.Pricing.ValidatePromo,
        middleware.RequirePermission(middleware.PermPromoValidate), limiter.Promos())
    g.GET("/fees", h.Pricing.Fees, middleware.RequirePermission(middleware.PermFeesRead))
    g.POST("/quotes", h.Pricing.Quote, middleware.RequirePermission(middleware.PermFeesRead))

    // Purchase history needs a real identity.
    e.GET("/v1/my-tickets", h.Catalog.MyTickets,
        middleware.JWTAuth(jwtSecret), middleware.RequirePermission(middleware.PermSalesRead))
}
