package handler

import (
	"context"      // context with cancellation for DB calls
	"database/sql" // sentinel for missing rows
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/passkey-gate/internal/auth"
	"github.com/iliyamo/passkey-gate/internal/config"
	"github.com/iliyamo/passkey-gate/internal/middleware"
	"github.com/iliyamo/passkey-gate/internal/otp"
	"github.com/iliyamo/passkey-gate/internal/repository"
)

// AuthHandler bundles dependencies for the authentication endpoints. The
// ceremony orchestrator and session issuer do the actual work; the handler
// is request parsing, error mapping and nothing else.
type AuthHandler struct {
	Cfg    config.Config
	Flows  *auth.Orchestrator
	Issuer *auth.Issuer
	OTP    *otp.Service
	Users  *repository.UserRepo
	Creds  *repository.CredentialRepo
}

func NewAuthHandler(cfg config.Config, flows *auth.Orchestrator, issuer *auth.Issuer,
	otpSvc *otp.Service, users *repository.UserRepo, creds *repository.CredentialRepo) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Flows: flows, Issuer: issuer, OTP: otpSvc, Users: users, Creds: creds}
}

// ----- DTOs -----

type beginRegisterReq struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"` // CLIENT | ADMIN; anything else becomes CLIENT
}
type beginLoginReq struct {
	Email string `json:"email"`
}
type finishReq struct {
	UserID   uint64          `json:"user_id"`
	Response json.RawMessage `json:"response"` // raw browser credential JSON
}
type otpRequestReq struct {
	Email string `json:"email"`
}
type otpVerifyReq struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}
type userPart struct {
	ID    uint64 `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}
type authResp struct {
	User      userPart  `json:"user"`
	Access    tokenPart `json:"access"`
	SessionID string    `json:"session_id"`
}
type credentialPart struct {
	CredentialID   string     `json:"credential_id"`
	AAGUID         string     `json:"aaguid,omitempty"`
	Transports     string     `json:"transports,omitempty"`
	BackupEligible bool       `json:"backup_eligible"`
	SignCount      uint32     `json:"sign_count"`
	CreatedAt      time.Time  `json:"created_at"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
}

// ceremonyError maps orchestrator failures onto HTTP. Every authentication
// failure gets the same 401 body: which step failed is recorded in the
// audit trail, not shown to the caller.
func ceremonyError(c echo.Context, err error) error {
	var rle *auth.RateLimitError
	if errors.As(err, &rle) {
		secs := int(math.Ceil(rle.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
		return c.JSON(http.StatusTooManyRequests, echo.Map{"error": "too many attempts", "retry_after": secs})
	}
	switch {
	case errors.Is(err, auth.ErrUserNotFound),
		errors.Is(err, auth.ErrNoCredentials),
		errors.Is(err, auth.ErrChallengeNotFound),
		errors.Is(err, auth.ErrUnknownCredential),
		errors.Is(err, auth.ErrVerificationFailed),
		errors.Is(err, auth.ErrPossibleCloning):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication failed"})
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

func reqCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), 5*time.Second)
}

// ----- registration ceremony -----

// RegisterBegin starts passkey enrollment. Unknown emails create the user
// record; known ones add another authenticator.
func (h *AuthHandler) RegisterBegin(c echo.Context) error {
	var req beginRegisterReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email required"})
	}
	role := strings.ToUpper(strings.TrimSpace(req.Role))
	if role != "ADMIN" {
		role = "CLIENT"
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	start, err := h.Flows.BeginRegistration(ctx, req.Email, strings.TrimSpace(req.Name), role)
	if err != nil {
		return ceremonyError(c, err)
	}
	return c.JSON(http.StatusOK, start)
}

// RegisterFinish completes enrollment with the browser's attestation
// response and returns the stored credential.
func (h *AuthHandler) RegisterFinish(c echo.Context) error {
	var req finishReq
	if err := c.Bind(&req); err != nil || req.UserID == 0 || len(req.Response) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "user_id and response required"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	cred, err := h.Flows.FinishRegistration(ctx, req.UserID, req.Response)
	if err != nil {
		return ceremonyError(c, err)
	}
	return c.JSON(http.StatusCreated, credentialPart{
		CredentialID:   cred.CredentialID,
		AAGUID:         cred.AAGUID,
		Transports:     cred.Transports,
		BackupEligible: cred.BackupEligible,
		SignCount:      cred.SignCount,
		CreatedAt:      cred.CreatedAt,
	})
}

// ----- login ceremony -----

// LoginBegin starts passkey authentication for an email.
func (h *AuthHandler) LoginBegin(c echo.Context) error {
	var req beginLoginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email required"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	start, err := h.Flows.BeginAuthentication(ctx, req.Email)
	if err != nil {
		return ceremonyError(c, err)
	}
	return c.JSON(http.StatusOK, start)
}

// LoginFinish verifies the assertion response and, on success, mints an
// access token backed by a fresh session ledger row.
func (h *AuthHandler) LoginFinish(c echo.Context) error {
	var req finishReq
	if err := c.Bind(&req); err != nil || req.UserID == 0 || len(req.Response) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "user_id and response required"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	user, err := h.Flows.FinishAuthentication(ctx, req.UserID, req.Response)
	if err != nil {
		return ceremonyError(c, err)
	}

	sess, err := h.Issuer.Issue(ctx, user, c.RealIP(), c.Request().UserAgent())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue access failed"})
	}
	return c.JSON(http.StatusOK, authResp{
		User:      userPart{ID: user.ID, Email: user.Email, Role: user.Role},
		Access:    tokenPart{Token: sess.Token, Expires: sess.ExpiresAt},
		SessionID: sess.SessionID,
	})
}

// ----- OTP fallback -----

// OTPRequest issues a fallback one-time code. The response is identical
// whether or not the account exists so the endpoint cannot be used to
// enumerate users.
func (h *AuthHandler) OTPRequest(c echo.Context) error {
	var req otpRequestReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email required"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	user, err := h.Users.ByEmail(ctx, req.Email)
	if err == nil && user.IsActive {
		// A throttled email gets the same 202 as everyone else: the
		// denial is already audited, and a 429 here would reveal that
		// the account exists.
		if _, err := h.OTP.Generate(ctx, user); err != nil && !errors.Is(err, otp.ErrThrottled) {
			c.Logger().Errorf("otp generate for user %d: %v", user.ID, err)
		}
	}
	return c.JSON(http.StatusAccepted, echo.Map{"message": "if the account exists, a code has been sent"})
}

// OTPVerify checks a fallback code and, on success, mints a session exactly
// like a passkey login would.
func (h *AuthHandler) OTPVerify(c echo.Context) error {
	var req otpVerifyReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Code == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email and code required"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	user, err := h.Users.ByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication failed"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	if !user.IsActive || !h.OTP.Verify(ctx, user, req.Code) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication failed"})
	}

	sess, err := h.Issuer.Issue(ctx, user, c.RealIP(), c.Request().UserAgent())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue access failed"})
	}
	return c.JSON(http.StatusOK, authResp{
		User:      userPart{ID: user.ID, Email: user.Email, Role: user.Role},
		Access:    tokenPart{Token: sess.Token, Expires: sess.ExpiresAt},
		SessionID: sess.SessionID,
	})
}

// ----- session management (protected) -----

// Logout revokes the session behind the presented token.
func (h *AuthHandler) Logout(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()

	if err := h.Issuer.Revoke(ctx, middleware.CurrentSessionID(c), middleware.CurrentUserID(c)); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "logout failed"})
	}
	return c.NoContent(http.StatusNoContent)
}

// LogoutAll revokes every live session the user owns, across devices.
func (h *AuthHandler) LogoutAll(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()

	n, err := h.Issuer.RevokeAll(ctx, middleware.CurrentUserID(c))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "logout failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"revoked_sessions": n})
}

// Sessions lists the caller's live sessions for the device overview.
func (h *AuthHandler) Sessions(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()

	sessions, err := h.Issuer.ActiveSessions(ctx, middleware.CurrentUserID(c))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	type sessionPart struct {
		IPAddress string    `json:"ip_address"`
		UserAgent string    `json:"user_agent"`
		CreatedAt time.Time `json:"created_at"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	out := make([]sessionPart, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionPart{
			IPAddress: s.IPAddress,
			UserAgent: s.UserAgent,
			CreatedAt: s.CreatedAt,
			ExpiresAt: s.ExpiresAt,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"sessions": out})
}

// Me returns the authenticated user's profile.
func (h *AuthHandler) Me(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()

	user, err := h.Users.ByID(ctx, middleware.CurrentUserID(c))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load user failed"})
	}
	return c.JSON(http.StatusOK, userPart{ID: user.ID, Email: user.Email, Role: user.Role})
}

// ----- credential management (protected) -----

// Credentials lists the caller's registered passkeys.
func (h *AuthHandler) Credentials(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()

	creds, err := h.Creds.ListByUser(ctx, middleware.CurrentUserID(c))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	out := make([]credentialPart, 0, len(creds))
	for _, cr := range creds {
		out = append(out, credentialPart{
			CredentialID:   cr.CredentialID,
			AAGUID:         cr.AAGUID,
			Transports:     cr.Transports,
			BackupEligible: cr.BackupEligible,
			SignCount:      cr.SignCount,
			CreatedAt:      cr.CreatedAt,
			LastUsedAt:     cr.LastUsedAt,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"credentials": out})
}

// DeleteCredential removes one of the caller's passkeys. Only the owner can
// remove a credential; anything else is reported as not found.
func (h *AuthHandler) DeleteCredential(c echo.Context) error {
	credentialID := c.Param("credential_id")
	if credentialID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "credential_id required"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	if err := h.Flows.RemoveCredential(ctx, middleware.CurrentUserID(c), credentialID, h.Creds); err != nil {
		if errors.Is(err, auth.ErrUnknownCredential) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "credential not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "delete failed"})
	}
	return c.NoContent(http.StatusNoContent)
}
