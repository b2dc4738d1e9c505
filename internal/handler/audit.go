package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/passkey-gate/internal/audit"
	"github.com/iliyamo/passkey-gate/internal/middleware"
)

// AuditHandler exposes the security trail to administrators. Both endpoints
// sit behind RequireRole("ADMIN"), and every view is itself audited.
type AuditHandler struct {
	Trail *audit.Trail
}

func NewAuditHandler(trail *audit.Trail) *AuditHandler {
	return &AuditHandler{Trail: trail}
}

const (
	defaultSearchLimit = 50
	maxSearchLimit     = 200
)

// Query searches the trail. Filters arrive as query parameters and compose
// conjunctively: user_id, action (substring), success, from, to (RFC 3339),
// limit, offset.
func (h *AuditHandler) Query(c echo.Context) error {
	f := audit.Filter{Limit: defaultSearchLimit}

	if v := c.QueryParam("user_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user_id"})
		}
		f.ActorID = &id
	}
	f.Action = c.QueryParam("action")
	if v := c.QueryParam("success"); v != "" {
		ok, err := strconv.ParseBool(v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid success"})
		}
		f.Success = &ok
	}
	if v := c.QueryParam("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid from"})
		}
		f.From = t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid to"})
		}
		f.To = t
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid limit"})
		}
		if n > maxSearchLimit {
			n = maxSearchLimit
		}
		f.Limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid offset"})
		}
		f.Offset = n
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	entries, err := h.Trail.Search(ctx, f)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	actor := middleware.CurrentUserID(c)
	_ = h.Trail.Success(ctx, "admin.audit.view", &actor, map[string]any{"results": len(entries)})

	return c.JSON(http.StatusOK, echo.Map{"entries": entries, "count": len(entries)})
}

// Summary aggregates the recent trail into the security overview. Optional
// query parameters: user_id to scope to one account, days for the window
// (default 7).
func (h *AuditHandler) Summary(c echo.Context) error {
	var actorScope *uint64
	if v := c.QueryParam("user_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user_id"})
		}
		actorScope = &id
	}
	days := 0
	if v := c.QueryParam("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid days"})
		}
		days = n
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	rep, err := h.Trail.Summary(ctx, actorScope, days)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	actor := middleware.CurrentUserID(c)
	_ = h.Trail.Success(ctx, "admin.audit.view", &actor, map[string]any{"kind": "summary"})

	return c.JSON(http.StatusOK, rep)
}
