package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/passkey-gate/internal/model"
)

// SessionRepo persists the session ledger in the `sessions` table. Each row
// records the fingerprint of an issued access token so validity can be
// revoked independent of the token's own expiry claim. The only mutation
// ever applied to a row is flipping is_revoked; physical deletion happens
// exclusively through DeleteExpired housekeeping.
type SessionRepo struct{ DB *sql.DB }

func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{DB: db} }

// Create inserts a ledger row for a freshly issued token.
func (r *SessionRepo) Create(ctx context.Context, s model.Session) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO sessions (user_id, token_hash, ip_address, user_agent, expires_at) VALUES (?,?,?,?,?)",
		s.UserID, s.TokenHash, s.IPAddress, s.UserAgent, s.ExpiresAt)
	return err
}

// ByHash fetches the ledger row for a token fingerprint. sql.ErrNoRows
// passes through; validity decisions belong to the caller.
func (r *SessionRepo) ByHash(ctx context.Context, tokenHash string) (model.Session, error) {
	var (
		s         model.Session
		revokedAt sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT id,user_id,token_hash,ip_address,user_agent,expires_at,is_revoked,revoked_at,created_at
		 FROM sessions WHERE token_hash=? LIMIT 1`,
		tokenHash).Scan(&s.ID, &s.UserID, &s.TokenHash, &s.IPAddress, &s.UserAgent,
		&s.ExpiresAt, &s.IsRevoked, &revokedAt, &s.CreatedAt)
	if err != nil {
		return model.Session{}, err
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		s.RevokedAt = &t
	}
	return s, nil
}

// Revoke marks a single session revoked. Revoking an already revoked or
// unknown fingerprint is not an error; the operation is idempotent.
func (r *SessionRepo) Revoke(ctx context.Context, tokenHash string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE sessions SET is_revoked=1, revoked_at=UTC_TIMESTAMP() WHERE token_hash=? AND is_revoked=0",
		tokenHash)
	return err
}

// RevokeAllForUser revokes every non-revoked session owned by the user and
// returns how many rows were affected.
func (r *SessionRepo) RevokeAllForUser(ctx context.Context, userID uint64) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE sessions SET is_revoked=1, revoked_at=UTC_TIMESTAMP() WHERE user_id=? AND is_revoked=0",
		userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpired purges rows whose expiry has passed. This is storage
// reclamation only: expired rows already fail validity checks.
func (r *SessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM sessions WHERE expires_at <= UTC_TIMESTAMP()")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ActiveForUser lists the user's non-revoked, non-expired sessions, newest
// first, for the "where am I logged in" view.
func (r *SessionRepo) ActiveForUser(ctx context.Context, userID uint64) ([]model.Session, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,user_id,token_hash,ip_address,user_agent,expires_at,is_revoked,revoked_at,created_at
		 FROM sessions
		 WHERE user_id=? AND is_revoked=0 AND expires_at > UTC_TIMESTAMP()
		 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessions []model.Session
	for rows.Next() {
		var (
			s         model.Session
			revokedAt sql.NullTime
		)
		if err := rows.Scan(&s.ID, &s.UserID, &s.TokenHash, &s.IPAddress, &s.UserAgent,
			&s.ExpiresAt, &s.IsRevoked, &revokedAt, &s.CreatedAt); err != nil {
			return nil, err
		}
		if revokedAt.Valid {
			t := revokedAt.Time
			s.RevokedAt = &t
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
