package model

import "time"

// Session mirrors the `sessions` table, the ledger of issued access tokens.
// Only a SHA-256 fingerprint of the token's session id (the JWT jti claim)
// is stored, never the token itself, so a leaked ledger cannot be replayed.
//
// A session is usable iff a matching row exists, ExpiresAt is in the future
// and IsRevoked is false. The absence of a row counts as revoked.
type Session struct {
	ID        uint64
	UserID    uint64
	TokenHash string
	IPAddress string
	UserAgent string
	ExpiresAt time.Time
	IsRevoked bool
	RevokedAt *time.Time
	CreatedAt time.Time
}
