package middleware

// identity.go holds the context keys shared by the auth, rate limit and
// handler layers.

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/table-reservation/internal/utils"
)

const (
	ctxUserID = "user_id"
	ctxRole   = "role"
)

func setIdentity(c echo.Context, id utils.Identity) {
	c.Set(ctxUserID, id.UserID)
	c.Set(ctxRole, id.Role)
}

// userID returns the authenticated user id as a string, or "anon" when
// the request carries no identity.
func userID(c echo.Context) string {
	if v, ok := c.Get(ctxUserID).(uint64); ok && v != 0 {
		return strconv.FormatUint(v, 10)
	}
	return "anon"
}
