package model

import "time"

// AuditEntry mirrors the `audit_logs` table. Entries are append-only: the
// repository exposes no update or delete operation for them.
//
// UserID is the acting principal and may be nil for anonymous events such
// as throttled login attempts for unknown emails. Action is a namespaced
// identifier like "user.login.failed" or "webauthn.credential.added".
// Details carries free-form structured context and is persisted as JSON.
type AuditEntry struct {
	ID        uint64         `json:"id"`
	UserID    *uint64        `json:"user_id,omitempty"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Success   bool           `json:"success"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
