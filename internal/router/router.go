package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/passkey-gate/internal/handler"
	"github.com/iliyamo/passkey-gate/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication on the
// provided Echo instance. Currently it exposes only a health check, used by
// load balancers and monitoring to verify the service is up.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers the authentication surface. The ceremony and OTP
// endpoints live under /v1/auth and require no token; everything under /v1
// runs through JWTAuth, which validates the signature AND consults the
// session ledger on every request.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string, sessions middleware.SessionValidator) {
	g := e.Group("/v1/auth")

	// Passkey registration: begin hands the browser its creation options,
	// finish takes the attestation response back.
	g.POST("/register/begin", a.RegisterBegin)
	g.POST("/register/finish", a.RegisterFinish)

	// Passkey login, same two-step shape.
	g.POST("/login/begin", a.LoginBegin)
	g.POST("/login/finish", a.LoginFinish)

	// OTP fallback for users without a working authenticator.
	g.POST("/otp/request", a.OTPRequest)
	g.POST("/otp/verify", a.OTPVerify)

	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret, sessions))
	auth.Use(middleware.RequireRole("ADMIN", "CLIENT"))

	auth.GET("/me", a.Me)
	auth.GET("/sessions", a.Sessions)
	auth.POST("/logout", a.Logout)
	auth.POST("/logout/all", a.LogoutAll)
	auth.GET("/credentials", a.Credentials)
	auth.DELETE("/credentials/:credential_id", a.DeleteCredential)
}

// RegisterAdmin registers the audit endpoints. They share the protected /v1
// prefix but additionally demand the ADMIN role.
func RegisterAdmin(e *echo.Echo, h *handler.AuditHandler, jwtSecret string, sessions middleware.SessionValidator) {
	admin := e.Group("/v1/admin")
	admin.Use(middleware.JWTAuth(jwtSecret, sessions))
	admin.Use(middleware.RequireRole("ADMIN"))

	admin.GET("/audit", h.Query)
	admin.GET("/audit/summary", h.Summary)
}
