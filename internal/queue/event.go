// Package queue defines message payloads exchanged over the message broker.
package queue

// OTPIssuedEvent is published when a fallback one-time code is generated.
// It carries everything a downstream delivery worker (mail, SMS) needs
// without querying the primary database. The code itself is included:
// delivery is the whole point of the event.
type OTPIssuedEvent struct {
	UserID       uint64 `json:"user_id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	Code         string `json:"code"`
	ExpiresInSec int    `json:"expires_in_sec"`
	IssuedAt     string `json:"issued_at"`
}
