package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/passkey-gate/internal/audit"
	"github.com/iliyamo/passkey-gate/internal/model"
	"github.com/iliyamo/passkey-gate/internal/utils"
)

// SessionStore is the durable ledger behind the issuer. The MySQL
// implementation lives in the repository package.
type SessionStore interface {
	Create(ctx context.Context, s model.Session) error
	ByHash(ctx context.Context, tokenHash string) (model.Session, error)
	Revoke(ctx context.Context, tokenHash string) error
	RevokeAllForUser(ctx context.Context, userID uint64) (int64, error)
	DeleteExpired(ctx context.Context) (int64, error)
	ActiveForUser(ctx context.Context, userID uint64) ([]model.Session, error)
}

// IssuedSession is the result of minting a token: the bearer token itself,
// the session id embedded in it and the expiry both agree on.
type IssuedSession struct {
	SessionID string
	Token     string
	ExpiresAt time.Time
}

// Issuer mints access tokens and mirrors each one into the session ledger.
// The ledger — not the token's own exp claim — is authoritative: a token is
// valid iff a matching, non-revoked, non-expired row exists.
type Issuer struct {
	sessions SessionStore
	trail    *audit.Trail
	secret   string
	ttl      time.Duration
}

func NewIssuer(sessions SessionStore, trail *audit.Trail, secret string, ttl time.Duration) *Issuer {
	return &Issuer{sessions: sessions, trail: trail, secret: secret, ttl: ttl}
}

// TTL exposes the configured access token lifetime.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue mints a token for the user and registers its fingerprint in the
// ledger. This is the only place a session row is ever created. The client
// metadata is recorded for the "active sessions" view; it plays no part in
// validity.
func (i *Issuer) Issue(ctx context.Context, user model.User, ip, userAgent string) (IssuedSession, error) {
	sessionID := uuid.NewString()
	tok, err := utils.NewAccessToken(i.secret, user.ID, user.Email, user.Role, sessionID, i.ttl)
	if err != nil {
		return IssuedSession{}, err
	}
	if err := i.sessions.Create(ctx, model.Session{
		UserID:    user.ID,
		TokenHash: utils.FingerprintSessionID(sessionID),
		IPAddress: ip,
		UserAgent: userAgent,
		ExpiresAt: tok.Exp,
	}); err != nil {
		return IssuedSession{}, err
	}
	if err := i.trail.Success(ctx, "session.issued", &user.ID, nil); err != nil {
		return IssuedSession{}, err
	}
	return IssuedSession{SessionID: sessionID, Token: tok.Token, ExpiresAt: tok.Exp}, nil
}

// IsValid reports whether a session id is still good. Absence, expiry and
// revocation all collapse to false — distinguishing them would leak state
// to whoever holds a dead token. Must be consulted on every authenticated
// request; the answer is never cached across requests.
func (i *Issuer) IsValid(ctx context.Context, sessionID string) bool {
	s, err := i.sessions.ByHash(ctx, utils.FingerprintSessionID(sessionID))
	if err != nil {
		// Unknown fingerprints count as revoked, and so does any lookup
		// failure: fail closed.
		return false
	}
	if s.IsRevoked {
		return false
	}
	return s.ExpiresAt.After(time.Now().UTC())
}

// Revoke kills a single session. Revoking an already dead or unknown
// session id is not an error.
func (i *Issuer) Revoke(ctx context.Context, sessionID string, actorID uint64) error {
	if err := i.sessions.Revoke(ctx, utils.FingerprintSessionID(sessionID)); err != nil {
		return err
	}
	return i.trail.Success(ctx, "user.logout", &actorID, nil)
}

// RevokeAll kills every live session the user owns and returns how many
// were revoked. Used for "log out everywhere" and forced deactivation.
func (i *Issuer) RevokeAll(ctx context.Context, userID uint64) (int, error) {
	n, err := i.sessions.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	if err := i.trail.Success(ctx, "user.logout.all", &userID, map[string]any{"revoked_sessions": n}); err != nil {
		return 0, err
	}
	return int(n), nil
}

// SweepExpired physically deletes ledger rows past their expiry. Purely
// storage reclamation: expired rows already fail IsValid.
func (i *Issuer) SweepExpired(ctx context.Context) (int, error) {
	n, err := i.sessions.DeleteExpired(ctx)
	return int(n), err
}

// ActiveSessions lists the user's live sessions.
func (i *Issuer) ActiveSessions(ctx context.Context, userID uint64) ([]model.Session, error) {
	sessions, err := i.sessions.ActiveForUser(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sessions, err
}
