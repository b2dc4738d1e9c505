package model

import "time"

// Credential mirrors the `webauthn_credentials` table. It stores only the
// public half of an authenticator key pair plus the metadata needed for the
// anti-cloning counter discipline. No biometric material of any kind is
// stored here.
//
// CredentialID is the authenticator-assigned identifier, base64url encoded
// without padding. SignCount is the authenticator-reported monotonic
// counter; a value of 0 means the authenticator does not maintain one.
type Credential struct {
	ID              uint64
	UserID          uint64
	CredentialID    string
	PublicKey       []byte
	SignCount       uint32
	AAGUID          string
	AttestationType string
	Transports      string // JSON array, e.g. ["internal","usb"]
	BackupEligible  bool
	CreatedAt       time.Time
	LastUsedAt      *time.Time
}
