package router

import (
    "github.com/labstack/echo/v4"

    "github.com/iliyamo/ticketing-core/internal/handler"
    "github.com/iliyamo/ticketing-core/internal/middleware"
)

// RegisterPayments registers the callback the payment service uses to turn
// a paid hold into a sale.  It is authenticated by API key rather than JWT;
// buyers can never convert their own holds.
func RegisterPayments(e *echo.Echo, holds *handler.HoldHandler, apiKeyHash string) {
    g := e.Group("/v1/payments", middleware.RequireAPIKey(apiKeyHash))
    g.POST("/holds/:id/convert", holds.Convert)
}
