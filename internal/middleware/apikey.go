package middleware

import (
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/ticketing-core/internal/utils"
)

// APIKeyHeader carries the payment service's key.
const APIKeyHeader = "X-API-Key"

// RequireAPIKey admits requests whose X-API-Key matches the bcrypt hash.
// With an empty hash the route is closed to everyone.
func RequireAPIKey(hash string) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            if hash == "" {
                return c.JSON(http.StatusForbidden, echo.Map{"error": "payment api disabled"})
            }
            key := strings.TrimSpace(c.Request().Header.Get(APIKeyHeader))
            if key == "" || !utils.VerifySecret(hash, key) {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid api key"})
            }
            return next(c)
        }
    }
}
