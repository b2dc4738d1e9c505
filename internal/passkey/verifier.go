// Package passkey adapts the go-webauthn library to the Verifier contract
// the ceremony orchestrator works against. All protocol-level concerns
// (COSE keys, attestation formats, clientData checks, origin validation)
// stay inside this package; the rest of the service only ever sees opaque
// option documents and verified results.
package passkey

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/iliyamo/passkey-gate/internal/auth"
	"github.com/iliyamo/passkey-gate/internal/model"
)

// Config identifies the relying party. RPID must be the effective domain
// the credentials are scoped to and RPOrigin the exact web origin the
// browser reports, scheme and port included.
type Config struct {
	RPID     string
	RPName   string
	RPOrigin string
}

// Verifier wraps a configured webauthn.WebAuthn instance. It is stateless;
// challenge retention between begin and finish belongs to the caller.
type Verifier struct {
	wa *webauthn.WebAuthn
}

func New(cfg Config) (*Verifier, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPName,
		RPOrigins:     []string{cfg.RPOrigin},
	})
	if err != nil {
		return nil, fmt.Errorf("webauthn config: %w", err)
	}
	return &Verifier{wa: wa}, nil
}

// RegistrationOptions builds creation options for the user. Already
// registered credentials go into the exclusion list so the browser refuses
// to enroll the same authenticator twice.
func (v *Verifier) RegistrationOptions(user model.User, exclude []model.Credential) (json.RawMessage, string, error) {
	p, err := newPrincipal(user, exclude)
	if err != nil {
		return nil, "", err
	}
	creation, session, err := v.wa.BeginRegistration(p,
		webauthn.WithExclusions(descriptorsFor(p.creds)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("begin registration: %w", err)
	}
	opts, err := json.Marshal(creation)
	if err != nil {
		return nil, "", err
	}
	return opts, session.Challenge, nil
}

// VerifyRegistration validates an attestation response against the retained
// challenge and reports the newly minted credential.
func (v *Verifier) VerifyRegistration(user model.User, response []byte, expectedChallenge string) (*auth.VerifiedCredential, error) {
	p, err := newPrincipal(user, nil)
	if err != nil {
		return nil, err
	}
	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, fmt.Errorf("parse attestation response: %w", err)
	}
	cred, err := v.wa.CreateCredential(p, webauthn.SessionData{
		Challenge: expectedChallenge,
		UserID:    p.WebAuthnID(),
	}, parsed)
	if err != nil {
		return nil, fmt.Errorf("verify attestation: %w", err)
	}

	transports := make([]string, 0, len(cred.Transport))
	for _, t := range cred.Transport {
		transports = append(transports, string(t))
	}
	return &auth.VerifiedCredential{
		CredentialID:    base64.RawURLEncoding.EncodeToString(cred.ID),
		PublicKey:       cred.PublicKey,
		SignCount:       cred.Authenticator.SignCount,
		AAGUID:          formatAAGUID(cred.Authenticator.AAGUID),
		AttestationType: cred.AttestationType,
		Transports:      transports,
		BackupEligible:  cred.Flags.BackupEligible,
	}, nil
}

// AuthenticationOptions builds request options restricted to the user's
// registered credentials.
func (v *Verifier) AuthenticationOptions(user model.User, allow []model.Credential) (json.RawMessage, string, error) {
	p, err := newPrincipal(user, allow)
	if err != nil {
		return nil, "", err
	}
	assertion, session, err := v.wa.BeginLogin(p,
		webauthn.WithAllowedCredentials(descriptorsFor(p.creds)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("begin login: %w", err)
	}
	opts, err := json.Marshal(assertion)
	if err != nil {
		return nil, "", err
	}
	return opts, session.Challenge, nil
}

// VerifyAuthentication validates an assertion response against the retained
// challenge and the stored credential, returning the authenticator's
// reported sign counter. Counter monotonicity is the caller's rule to
// enforce; this layer only checks the cryptography.
func (v *Verifier) VerifyAuthentication(user model.User, response []byte, expectedChallenge string, cred model.Credential) (uint32, error) {
	p, err := newPrincipal(user, []model.Credential{cred})
	if err != nil {
		return 0, err
	}
	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if err != nil {
		return 0, fmt.Errorf("parse assertion response: %w", err)
	}
	verified, err := v.wa.ValidateLogin(p, webauthn.SessionData{
		Challenge: expectedChallenge,
		UserID:    p.WebAuthnID(),
	}, parsed)
	if err != nil {
		return 0, fmt.Errorf("verify assertion: %w", err)
	}
	return verified.Authenticator.SignCount, nil
}

// principal implements webauthn.User over our user model plus whichever
// stored credentials the current ceremony needs visible.
type principal struct {
	user  model.User
	creds []webauthn.Credential
}

func newPrincipal(user model.User, stored []model.Credential) (*principal, error) {
	creds := make([]webauthn.Credential, 0, len(stored))
	for _, c := range stored {
		wc, err := toLibraryCredential(c)
		if err != nil {
			return nil, fmt.Errorf("credential %s: %w", c.CredentialID, err)
		}
		creds = append(creds, wc)
	}
	return &principal{user: user, creds: creds}, nil
}

// WebAuthnID returns the stable byte form of the numeric user id. It must
// never change for a given user or every registered passkey breaks.
func (p *principal) WebAuthnID() []byte {
	id := make([]byte, 8)
	binary.BigEndian.PutUint64(id, p.user.ID)
	return id
}

func (p *principal) WebAuthnName() string { return p.user.Email }

func (p *principal) WebAuthnDisplayName() string {
	if p.user.Name != "" {
		return p.user.Name
	}
	return p.user.Email
}

func (p *principal) WebAuthnCredentials() []webauthn.Credential { return p.creds }

// toLibraryCredential rebuilds a webauthn.Credential from its stored row.
// Credential ids travel base64url unpadded, the way the browser presents
// them; transports are kept as a JSON string column.
func toLibraryCredential(c model.Credential) (webauthn.Credential, error) {
	rawID, err := base64.RawURLEncoding.DecodeString(c.CredentialID)
	if err != nil {
		return webauthn.Credential{}, fmt.Errorf("decode credential id: %w", err)
	}
	var transports []protocol.AuthenticatorTransport
	if c.Transports != "" {
		var names []string
		if err := json.Unmarshal([]byte(c.Transports), &names); err == nil {
			for _, n := range names {
				transports = append(transports, protocol.AuthenticatorTransport(n))
			}
		}
	}
	var aaguid []byte
	if c.AAGUID != "" {
		if parsed, err := uuid.Parse(c.AAGUID); err == nil {
			aaguid = parsed[:]
		}
	}
	return webauthn.Credential{
		ID:              rawID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transport:       transports,
		Flags: webauthn.CredentialFlags{
			BackupEligible: c.BackupEligible,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:    aaguid,
			SignCount: c.SignCount,
		},
	}, nil
}

func descriptorsFor(creds []webauthn.Credential) []protocol.CredentialDescriptor {
	out := make([]protocol.CredentialDescriptor, 0, len(creds))
	for _, c := range creds {
		out = append(out, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: c.ID,
			Transport:    c.Transport,
		})
	}
	return out
}

// formatAAGUID renders the authenticator's 16-byte AAGUID as a UUID string,
// or empty when the authenticator supplied none.
func formatAAGUID(raw []byte) string {
	if len(raw) != 16 {
		return ""
	}
	id, err := uuid.FromBytes(raw)
	if err != nil {
		return ""
	}
	return id.String()
}
