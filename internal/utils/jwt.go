package utils // package utils provides helpers for token creation and fingerprinting

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessToken represents a signed JWT access token along with its session
// id and expiry. The SessionID is the jti claim embedded in the token; its
// fingerprint is what the session ledger stores, never the token itself.
type AccessToken struct {
	Token     string
	SessionID string
	Exp       time.Time
}

// NewAccessToken builds and signs an HS256 JWT for a user. The claims are
// the standard set (sub, exp, iat) plus the email and role used by the
// authorization boundary and the jti that ties the token to its ledger row.
func NewAccessToken(secret string, userID uint64, email, role, sessionID string, ttl time.Duration) (AccessToken, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":   userID,
		"email": email,
		"role":  role,
		"jti":   sessionID,
		"exp":   exp.Unix(),
		"iat":   now.Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, SessionID: sessionID, Exp: exp}, nil
}

// FingerprintSessionID returns the SHA-256 hash of a session id as a hex
// string. The ledger stores only this one-way fingerprint, so a leaked
// sessions table cannot be turned back into usable tokens.
func FingerprintSessionID(sessionID string) string {
	sum := sha256.Sum256([]byte(sessionID))
	return hex.EncodeToString(sum[:])
}
