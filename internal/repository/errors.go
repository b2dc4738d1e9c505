// Package repository provides raw-SQL data access to the durable stores:
// users, WebAuthn credentials, the session ledger and the audit trail.
// Sentinel errors defined here let higher layers distinguish failure
// scenarios without string matching.
package repository

import "errors"

var (
	// ErrEmailExists indicates that a user with the given email already
	// exists; emails are unique and immutable uniqueness keys.
	ErrEmailExists = errors.New("email already exists")

	// ErrStaleCounter indicates that a compare-and-swap update of a
	// credential's sign counter found a different stored value than the
	// one the caller read. Either a concurrent ceremony won the race or a
	// replayed assertion is being processed; callers must fail the
	// ceremony rather than retry.
	ErrStaleCounter = errors.New("sign counter changed concurrently")
)
