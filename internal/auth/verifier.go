package auth

import (
	"encoding/json"

	"github.com/iliyamo/passkey-gate/internal/model"
)

// VerifiedCredential is what the signature verifier reports after a
// successful registration ceremony. SignCount is the authenticator's
// initial counter value; 0 means the authenticator maintains none.
type VerifiedCredential struct {
	CredentialID    string
	PublicKey       []byte
	SignCount       uint32
	AAGUID          string
	AttestationType string
	Transports      []string
	BackupEligible  bool
}

// Verifier is the cryptographic capability the orchestrator calls but does
// not own: COSE key handling, attestation and assertion verification all
// live behind it. The production implementation wraps go-webauthn and is
// configured with the relying-party id and expected origin; tests swap in
// fakes.
type Verifier interface {
	// RegistrationOptions produces client-facing creation options carrying
	// a fresh challenge, excluding the already registered credentials so
	// the same authenticator cannot be enrolled twice. It returns the
	// options JSON and the challenge to retain for verification.
	RegistrationOptions(user model.User, exclude []model.Credential) (json.RawMessage, string, error)

	// VerifyRegistration checks an attestation response against the stored
	// challenge and reports the new credential on success.
	VerifyRegistration(user model.User, response []byte, expectedChallenge string) (*VerifiedCredential, error)

	// AuthenticationOptions produces request options with an allow-list of
	// the user's credentials and returns the challenge to retain.
	AuthenticationOptions(user model.User, allow []model.Credential) (json.RawMessage, string, error)

	// VerifyAuthentication checks an assertion response against the stored
	// challenge and credential and returns the authenticator's new sign
	// counter. Counter discipline is enforced by the caller, not here.
	VerifyAuthentication(user model.User, response []byte, expectedChallenge string, cred model.Credential) (uint32, error)
}
