package middleware

// identity.go defines the context keys JWTAuth populates and the typed
// getters handlers use to read them. Keeping both sides in one file stops
// the key strings from drifting apart.

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	ctxUserID    = "user_id"
	ctxRole      = "role"
	ctxSessionID = "session_id"
)

// CurrentUserID returns the authenticated user's id, or 0 when the request
// did not pass through JWTAuth.
func CurrentUserID(c echo.Context) uint64 {
	if v, ok := c.Get(ctxUserID).(uint64); ok {
		return v
	}
	return 0
}

// CurrentRole returns the authenticated user's role, or "" when absent.
func CurrentRole(c echo.Context) string {
	if v, ok := c.Get(ctxRole).(string); ok {
		return v
	}
	return ""
}

// CurrentSessionID returns the session id of the presented token, or ""
// when absent.
func CurrentSessionID(c echo.Context) string {
	if v, ok := c.Get(ctxSessionID).(string); ok {
		return v
	}
	return ""
}

// rateKeyUserID renders the authenticated user id for rate-limit keys;
// unauthenticated requests share the "anon" bucket per IP.
func rateKeyUserID(c echo.Context) string {
	if id := CurrentUserID(c); id != 0 {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}
