package auth

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors surfaced by the ceremony orchestrator. Handlers map them
// to HTTP responses; every one of them has already produced an audit entry
// by the time it reaches the caller.
var (
	// ErrChallengeNotFound covers both "never issued" and "expired"; the
	// two are deliberately indistinguishable to callers.
	ErrChallengeNotFound = errors.New("challenge expired or not found")

	// ErrNoCredentials means the user has nothing registered to
	// authenticate against.
	ErrNoCredentials = errors.New("no credentials registered for this user")

	// ErrUnknownCredential means the asserted credential does not belong
	// to the claiming user. Accepting it would allow credential
	// substitution across accounts.
	ErrUnknownCredential = errors.New("invalid credential")

	// ErrVerificationFailed wraps any cryptographic verification failure
	// reported by the verifier. The underlying cause is audited, not
	// surfaced.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrPossibleCloning is a security event, not a transient failure:
	// the authenticator reported a sign counter that did not advance,
	// which is the fingerprint of a cloned credential. The ceremony is
	// dead; there is no retry.
	ErrPossibleCloning = errors.New("sign counter did not increase; possible credential cloning")

	// ErrUserNotFound covers unknown and deactivated users alike.
	ErrUserNotFound = errors.New("user not found or inactive")

	// ErrRateLimited is the target for errors.Is on RateLimitError.
	ErrRateLimited = errors.New("too many attempts")
)

// RateLimitError carries the retry hint attached to a throttled request.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many attempts, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }
