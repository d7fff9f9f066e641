package middleware

// identity.go reads the caller identity that the JWT middleware stored in
// the Echo context.

import (
    "fmt"
    "strconv"

    "github.com/labstack/echo/v4"
)

// UserID returns the authenticated user's numeric id.  ok is false for
// guests and for tokens whose subject is not a number.
func UserID(c echo.Context) (int64, bool) {
    switch v := c.Get(ctxUserID).(type) {
    case string:
        id, err := strconv.ParseInt(v, 10, 64)
        return id, err == nil && id > 0
    case float64:
        return int64(v), v > 0
    case int64:
        return v, v > 0
    }
    return 0, false
}

// Role returns the caller's role, GUEST when none was set.
func Role(c echo.Context) string {
    if r, ok := c.Get(ctxRole).(string); ok && r != "" {
        return r
    }
    return RoleGuest
}

// subject identifies the caller for rate limiting: the user id when there
// is one, otherwise "guest".
func subject(c echo.Context) string {
    if id, ok := UserID(c); ok {
        return fmt.Sprint(id)
    }
    return "guest"
}
