package middleware

import (
    "net/http"

    "github.com/labstack/echo/v4"
)

// Roles carried in the JWT "role" claim.  Requests without a token are
// GUEST.
const (
    RoleGuest     = "GUEST"
    RoleCustomer  = "CUSTOMER"
    RoleOrganizer = "ORGANIZER"
    RoleAdmin     = "ADMIN"
)

// Permissions checked by RequirePermission.
const (
    PermSessionRequest = "session:request"
    PermHoldCreate     = "hold:create"
    PermHoldRelease    = "hold:release"
    PermPromoValidate  = "promo:validate"
    PermFeesRead       = "fees:read"
    PermSalesRead      = "sales:read"
    PermEventManage    = "event:manage"
)

var buyerPerms = []string{
    PermSessionRequest, PermHoldCreate, PermHoldRelease, PermPromoValidate, PermFeesRead,
}

// rolePermissions is the complete grant table.  A role not listed here has
// no permissions.
var rolePermissions = map[string]map[string]bool{
    RoleGuest:     set(buyerPerms...),
    RoleCustomer:  set(append(buyerPerms, PermSalesRead)...),
    RoleOrganizer: set(append(buyerPerms, PermSalesRead, PermEventManage)...),
    RoleAdmin:     set(append(buyerPerms, PermSalesRead, PermEventManage)...),
}

func set(perms ...string) map[string]bool {
    m := make(map[string]bool, len(perms))
    for _, p := range perms {
        m[p] = true
    }
    return m
}

// Can reports whether role holds perm.
func Can(role, perm string) bool {
    return rolePermissions[role][perm]
}

// RequirePermission returns a middleware that aborts with 403 unless the
// role placed in the context by JWTAuth or OptionalJWT grants perm.
func RequirePermission(perm string) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            role, _ := c.Get(ctxRole).(string)
            if !Can(role, perm) {
                return c.JSON(http.StatusForbidden, map[string]string{"error": "forbidden"})
            }
            return next(c)
        }
    }
}
