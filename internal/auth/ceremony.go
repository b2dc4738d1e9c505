// Package auth contains the authentication core: the ceremony orchestrator
// that drives WebAuthn registration and login, and the session issuer that
// mints revocable access tokens. Both are transport-agnostic; the HTTP
// layer is a thin shell around them.
package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/passkey-gate/internal/audit"
	"github.com/iliyamo/passkey-gate/internal/challenge"
	"github.com/iliyamo/passkey-gate/internal/model"
	"github.com/iliyamo/passkey-gate/internal/ratelimit"
	"github.com/iliyamo/passkey-gate/internal/repository"
)

// UserStore is the identity collaborator. The orchestrator reads users and
// creates them on first registration; everything else about user
// management lives outside the core.
type UserStore interface {
	ByID(ctx context.Context, id uint64) (model.User, error)
	ByEmail(ctx context.Context, email string) (model.User, error)
	Create(ctx context.Context, email, name, role string) (uint64, error)
}

// CredentialStore persists verified WebAuthn credentials. UpdateSignCount
// must behave as a compare-and-swap on the previously read value and fail
// with repository.ErrStaleCounter when it no longer matches.
type CredentialStore interface {
	Create(ctx context.Context, c model.Credential) (uint64, error)
	ByCredentialID(ctx context.Context, credentialID string) (model.Credential, error)
	ListByUser(ctx context.Context, userID uint64) ([]model.Credential, error)
	UpdateSignCount(ctx context.Context, credentialID string, oldCount, newCount uint32) error
}

// Limits configures the per-identifier throttling applied before any
// ceremony work happens. The defaults mirror the service configuration:
// login 5 and registration 3 attempts per 15 minute window.
type Limits struct {
	Login    int
	Register int
	Window   time.Duration
}

// CeremonyStart is handed back to the client from a begin step: the
// protocol options to feed into the browser API plus the user id to echo
// on the finish step.
type CeremonyStart struct {
	Options json.RawMessage `json:"options"`
	UserID  uint64          `json:"user_id"`
}

// Orchestrator drives the two ceremony kinds. Each ceremony is a short
// state machine keyed by (kind, user): issuing puts the key into its
// challenge slot, and the first finish attempt — successful or not —
// consumes it. Re-issuing discards whatever came before.
type Orchestrator struct {
	users      UserStore
	creds      CredentialStore
	verifier   Verifier
	challenges *challenge.Store
	limiter    *ratelimit.Limiter
	trail      *audit.Trail
	limits     Limits
	ttl        time.Duration
}

func NewOrchestrator(users UserStore, creds CredentialStore, verifier Verifier,
	challenges *challenge.Store, limiter *ratelimit.Limiter, trail *audit.Trail, limits Limits) *Orchestrator {
	if limits.Login <= 0 {
		limits.Login = 5
	}
	if limits.Register <= 0 {
		limits.Register = 3
	}
	if limits.Window <= 0 {
		limits.Window = 15 * time.Minute
	}
	return &Orchestrator{
		users:      users,
		creds:      creds,
		verifier:   verifier,
		challenges: challenges,
		limiter:    limiter,
		trail:      trail,
		limits:     limits,
		ttl:        challenge.DefaultTTL,
	}
}

func registrationKey(userID uint64) string {
	return fmt.Sprintf("webauthn:registration:%d", userID)
}

func authenticationKey(userID uint64) string {
	return fmt.Sprintf("webauthn:authentication:%d", userID)
}

// gate applies the fixed-window limit for one purpose/identifier pair.
// Denials are always paired with an audit entry naming the blocked purpose.
func (o *Orchestrator) gate(ctx context.Context, purpose, identifier string, limit int, actor *uint64) error {
	key := purpose + ":" + identifier
	if o.limiter.Allow(key, limit, o.limits.Window) {
		return nil
	}
	retry, _ := o.limiter.RetryAfter(key)
	_ = o.trail.RateLimited(ctx, actor, purpose)
	return &RateLimitError{RetryAfter: retry}
}

// BeginRegistration starts the registration ceremony for an email. Unknown
// emails create a fresh user record; known ones enroll an additional
// authenticator. Existing credentials become the exclusion list so the
// same authenticator cannot be registered twice.
func (o *Orchestrator) BeginRegistration(ctx context.Context, email, name, role string) (*CeremonyStart, error) {
	if err := o.gate(ctx, "register", email, o.limits.Register, nil); err != nil {
		return nil, err
	}

	user, err := o.users.ByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		id, cerr := o.users.Create(ctx, email, name, role)
		if cerr != nil {
			_ = o.trail.Failure(ctx, "user.register.failed", nil, map[string]any{"email": email, "reason": "create_failed"})
			return nil, cerr
		}
		user, err = o.users.ByID(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		_ = o.trail.Failure(ctx, "user.register.failed", &user.ID, map[string]any{"reason": "inactive"})
		return nil, ErrUserNotFound
	}

	existing, err := o.creds.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	opts, chal, err := o.verifier.RegistrationOptions(user, existing)
	if err != nil {
		return nil, err
	}
	o.challenges.Issue(registrationKey(user.ID), chal, o.ttl)

	// No verification has happened yet, so the begin step always records
	// success; failures are logged at completion.
	if err := o.trail.Success(ctx, "credential.registration.attempt", &user.ID, map[string]any{"email": user.Email}); err != nil {
		return nil, err
	}
	return &CeremonyStart{Options: opts, UserID: user.ID}, nil
}

// FinishRegistration verifies the attestation response and persists the new
// credential. The challenge is consumed on the first attempt no matter the
// outcome; a missing or expired one fails closed.
func (o *Orchestrator) FinishRegistration(ctx context.Context, userID uint64, response []byte) (model.Credential, error) {
	user, err := o.userByID(ctx, userID)
	if err != nil {
		return model.Credential{}, err
	}

	chal, err := o.challenges.Consume(registrationKey(user.ID))
	if err != nil {
		_ = o.trail.Failure(ctx, "credential.registration.failed", &user.ID, map[string]any{"reason": "challenge_not_found"})
		return model.Credential{}, ErrChallengeNotFound
	}

	verified, err := o.verifier.VerifyRegistration(user, response, chal)
	if err != nil {
		_ = o.trail.Failure(ctx, "credential.registration.failed", &user.ID, map[string]any{"reason": "verification_failed"})
		return model.Credential{}, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	transports, _ := json.Marshal(verified.Transports)
	cred := model.Credential{
		UserID:          user.ID,
		CredentialID:    verified.CredentialID,
		PublicKey:       verified.PublicKey,
		SignCount:       verified.SignCount,
		AAGUID:          verified.AAGUID,
		AttestationType: verified.AttestationType,
		Transports:      string(transports),
		BackupEligible:  verified.BackupEligible,
	}
	if _, err := o.creds.Create(ctx, cred); err != nil {
		return model.Credential{}, err
	}
	if err := o.trail.Record(ctx, model.AuditEntry{
		UserID:   &user.ID,
		Action:   "webauthn.credential.added",
		Resource: credentialResource(cred.CredentialID),
		Success:  true,
	}); err != nil {
		return model.Credential{}, err
	}
	return cred, nil
}

// BeginAuthentication starts the login ceremony for an email. It fails
// with ErrNoCredentials when nothing is registered — there is nothing to
// build an allow-list from.
func (o *Orchestrator) BeginAuthentication(ctx context.Context, email string) (*CeremonyStart, error) {
	if err := o.gate(ctx, "login", email, o.limits.Login, nil); err != nil {
		return nil, err
	}

	user, err := o.users.ByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		_ = o.trail.Failure(ctx, "user.login.failed", nil, map[string]any{"email": email, "reason": "user_not_found"})
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		_ = o.trail.Failure(ctx, "user.login.failed", &user.ID, map[string]any{"reason": "inactive"})
		return nil, ErrUserNotFound
	}

	creds, err := o.creds.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		_ = o.trail.Failure(ctx, "user.login.failed", &user.ID, map[string]any{"reason": "no_credentials"})
		return nil, ErrNoCredentials
	}

	opts, chal, err := o.verifier.AuthenticationOptions(user, creds)
	if err != nil {
		return nil, err
	}
	o.challenges.Issue(authenticationKey(user.ID), chal, o.ttl)

	if err := o.trail.Success(ctx, "user.login.attempt", &user.ID, map[string]any{"email": user.Email}); err != nil {
		return nil, err
	}
	return &CeremonyStart{Options: opts, UserID: user.ID}, nil
}

// FinishAuthentication verifies the assertion response and applies the
// sign-counter discipline: the stored counter must strictly increase
// whenever the authenticator reports a non-zero value. A counter of
// exactly 0 means "this authenticator keeps no counter" and is exempt —
// a narrow carve-out, never a general bypass.
func (o *Orchestrator) FinishAuthentication(ctx context.Context, userID uint64, response []byte) (model.User, error) {
	user, err := o.userByID(ctx, userID)
	if err != nil {
		return model.User{}, err
	}

	credentialID, err := claimedCredentialID(response)
	if err != nil {
		_ = o.trail.Failure(ctx, "user.login.failed", &user.ID, map[string]any{"reason": "malformed_assertion"})
		return model.User{}, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	cred, err := o.creds.ByCredentialID(ctx, credentialID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && cred.UserID != user.ID) {
		_ = o.trail.Failure(ctx, "user.login.failed", &user.ID, map[string]any{"reason": "unknown_credential"})
		return model.User{}, ErrUnknownCredential
	}
	if err != nil {
		return model.User{}, err
	}

	chal, err := o.challenges.Consume(authenticationKey(user.ID))
	if err != nil {
		_ = o.trail.Failure(ctx, "user.login.failed", &user.ID, map[string]any{"reason": "challenge_not_found"})
		return model.User{}, ErrChallengeNotFound
	}

	newCount, err := o.verifier.VerifyAuthentication(user, response, chal, cred)
	if err != nil {
		_ = o.trail.Failure(ctx, "user.login.failed", &user.ID, map[string]any{"reason": "verification_failed"})
		return model.User{}, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	if newCount != 0 && newCount <= cred.SignCount {
		return model.User{}, o.cloningDetected(ctx, user.ID, cred, newCount, "counter_regression")
	}
	if err := o.creds.UpdateSignCount(ctx, cred.CredentialID, cred.SignCount, newCount); err != nil {
		if errors.Is(err, repository.ErrStaleCounter) {
			// A concurrent ceremony already moved the counter; accepting
			// this assertion would replay it.
			return model.User{}, o.cloningDetected(ctx, user.ID, cred, newCount, "concurrent_counter_update")
		}
		return model.User{}, err
	}

	if err := o.trail.Success(ctx, "user.login.success", &user.ID, map[string]any{"method": "webauthn"}); err != nil {
		return model.User{}, err
	}
	return user, nil
}

// RemoveCredential deletes one of the user's credentials. Removal is only
// ever explicit and owner-authorized; nothing in the core deletes
// credentials on its own.
func (o *Orchestrator) RemoveCredential(ctx context.Context, userID uint64, credentialID string, remover CredentialRemover) error {
	removed, err := remover.Delete(ctx, credentialID, userID)
	if err != nil {
		return err
	}
	if !removed {
		_ = o.trail.Failure(ctx, "webauthn.credential.removed", &userID, map[string]any{"reason": "not_owned"})
		return ErrUnknownCredential
	}
	return o.trail.Record(ctx, model.AuditEntry{
		UserID:   &userID,
		Action:   "webauthn.credential.removed",
		Resource: credentialResource(credentialID),
		Success:  true,
	})
}

// CredentialRemover is the deletion capability, separated from
// CredentialStore so the ceremony paths cannot delete anything.
type CredentialRemover interface {
	Delete(ctx context.Context, credentialID string, userID uint64) (bool, error)
}

func (o *Orchestrator) cloningDetected(ctx context.Context, userID uint64, cred model.Credential, reported uint32, reason string) error {
	_ = o.trail.Record(ctx, model.AuditEntry{
		UserID:   &userID,
		Action:   "webauthn.counter.regression",
		Resource: credentialResource(cred.CredentialID),
		Success:  false,
		Details: map[string]any{
			"stored_count":   cred.SignCount,
			"reported_count": reported,
			"reason":         reason,
		},
	})
	return ErrPossibleCloning
}

func (o *Orchestrator) userByID(ctx context.Context, id uint64) (model.User, error) {
	user, err := o.users.ByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrUserNotFound
	}
	if err != nil {
		return model.User{}, err
	}
	if !user.IsActive {
		return model.User{}, ErrUserNotFound
	}
	return user, nil
}

// claimedCredentialID pulls the credential id out of the raw client
// response so the target credential can be resolved before full
// verification runs.
func claimedCredentialID(response []byte) (string, error) {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(response, &probe); err != nil {
		return "", err
	}
	if probe.ID == "" {
		return "", errors.New("assertion carries no credential id")
	}
	return probe.ID, nil
}

func credentialResource(credentialID string) string {
	if len(credentialID) > 20 {
		credentialID = credentialID[:20]
	}
	return "credential:" + credentialID
}
