package middleware // reusable HTTP middleware for the ticketing API

import (
    "net/http"
    "strings"

    "github.com/golang-jwt/jwt/v5"
    "github.com/labstack/echo/v4"
)

// Context keys written by the JWT middleware.
const (
    ctxUserID = "user_id"
    ctxRole   = "role"
)

// parseBearer validates a raw HS256 token and returns its claims.
func parseBearer(raw, secret string) (jwt.MapClaims, bool) {
    tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
        // Reject anything that is not HMAC so a token cannot pick its own algorithm.
        if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
            return nil, echo.ErrUnauthorized
        }
        return []byte(secret), nil
    })
    if err != nil || !tok.Valid {
        return nil, false
    }
    claims, ok := tok.Claims.(jwt.MapClaims)
    return claims, ok
}

func setIdentity(c echo.Context, claims jwt.MapClaims) {
    c.Set(ctxUserID, claims["sub"])
    role, _ := claims["role"].(string)
    c.Set(ctxRole, strings.ToUpper(role))
}

// JWTAuth returns an Echo middleware that requires a valid Bearer access
// token and injects its subject and role claims into the request context.
// Tokens are issued elsewhere; this service only verifies them.
func JWTAuth(secret string) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            auth := c.Request().Header.Get("Authorization")
            if !strings.HasPrefix(auth, "Bearer ") {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
            }
            claims, ok := parseBearer(strings.TrimPrefix(auth, "Bearer "), secret)
            if !ok {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
            }
            setIdentity(c, claims)
            return next(c)
        }
    }
}

// OptionalJWT behaves like JWTAuth when a Bearer token is present and
// otherwise lets the request through as a GUEST.  A present but invalid
// token is still rejected.
func OptionalJWT(secret string) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            auth := c.Request().Header.Get("Authorization")
            if auth == "" {
                c.Set(ctxRole, RoleGuest)
                return next(c)
            }
            if !strings.HasPrefix(auth, "Bearer ") {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
            }
            claims, ok := parseBearer(strings.TrimPrefix(auth, "Bearer "), secret)
            if !ok {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
            }
            setIdentity(c, claims)
            return next(c)
        }
    }
}
