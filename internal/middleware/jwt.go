package middleware // reusable HTTP middleware for the authentication routes

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// SessionValidator answers whether the session id embedded in a token is
// still live. The ledger is authoritative: a structurally valid token with
// a revoked or expired session is rejected like any other bad token.
type SessionValidator interface {
	IsValid(ctx context.Context, sessionID string) bool
}

// Every rejection uses the same message. Distinguishing "missing" from
// "expired" from "revoked" would tell the holder of a dead token more than
// they are entitled to know.
const authFailedMessage = "invalid or expired token"

// JWTAuth returns an Echo middleware that validates a Bearer access token
// and consults the session ledger before letting the request through. On
// success the subject, role and session id are injected into the request
// context for handlers to read via the identity helpers. The provided
// secret must match the one used when issuing tokens.
func JWTAuth(secret string, sessions SessionValidator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": authFailedMessage})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			// Parse with HS256 and our secret; any other signing method is
			// rejected inside the key callback.
			tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, echo.ErrUnauthorized
				}
				return []byte(secret), nil
			})
			if err != nil || !tok.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": authFailedMessage})
			}

			claims, ok := tok.Claims.(jwt.MapClaims)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": authFailedMessage})
			}

			sub, okSub := claims["sub"].(float64)
			role, okRole := claims["role"].(string)
			jti, okJti := claims["jti"].(string)
			if !okSub || !okRole || !okJti || jti == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": authFailedMessage})
			}

			// The ledger check happens on every request, never cached. A
			// token that was revoked a millisecond ago is already dead.
			if !sessions.IsValid(c.Request().Context(), jti) {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": authFailedMessage})
			}

			c.Set(ctxUserID, uint64(sub))
			c.Set(ctxRole, role)
			c.Set(ctxSessionID, jti)
			return next(c)
		}
	}
}
