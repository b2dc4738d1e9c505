package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Health answers liveness probes from load balancers and monitoring. It
// reports only that the process is up; a database or broker outage is
// already visible on every real endpoint and should not flap the instance.
func Health(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok", "service": "passkey-gate"})
}
