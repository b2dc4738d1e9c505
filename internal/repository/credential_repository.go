package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/passkey-gate/internal/model"
)

// CredentialRepo persists WebAuthn credentials in the
// `webauthn_credentials` table. Rows are created on successful registration
// verification and mutated only through UpdateSignCount on successful
// authentication; they are never deleted automatically — only an explicit,
// owner-verified Delete removes one.
type CredentialRepo struct{ DB *sql.DB }

func NewCredentialRepo(db *sql.DB) *CredentialRepo { return &CredentialRepo{DB: db} }

const credentialColumns = "id,user_id,credential_id,public_key,sign_count,aaguid,attestation_type,transports,backup_eligible,created_at,last_used_at"

// Create inserts a verified credential and returns its row id.
func (r *CredentialRepo) Create(ctx context.Context, c model.Credential) (uint64, error) {
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO webauthn_credentials
		 (user_id, credential_id, public_key, sign_count, aaguid, attestation_type, transports, backup_eligible)
		 VALUES (?,?,?,?,?,?,?,?)`,
		c.UserID, c.CredentialID, c.PublicKey, c.SignCount, c.AAGUID, c.AttestationType, c.Transports, c.BackupEligible)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// ByCredentialID fetches a credential by its authenticator-assigned id.
func (r *CredentialRepo) ByCredentialID(ctx context.Context, credentialID string) (model.Credential, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+credentialColumns+" FROM webauthn_credentials WHERE credential_id=? LIMIT 1",
		credentialID)
	return scanCredential(row)
}

// ListByUser returns all credentials registered by a user, oldest first.
func (r *CredentialRepo) ListByUser(ctx context.Context, userID uint64) ([]model.Credential, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+credentialColumns+" FROM webauthn_credentials WHERE user_id=? ORDER BY id",
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var creds []model.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// UpdateSignCount stores the authenticator-reported counter and stamps
// last_used_at. The WHERE clause pins the previously read value so the
// read-check-write sequence acts as a compare-and-swap: if another request
// already advanced the counter, zero rows match and ErrStaleCounter is
// returned. Monotonicity itself is enforced by the caller before this runs.
func (r *CredentialRepo) UpdateSignCount(ctx context.Context, credentialID string, oldCount, newCount uint32) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE webauthn_credentials SET sign_count=?, last_used_at=UTC_TIMESTAMP() WHERE credential_id=? AND sign_count=?",
		newCount, credentialID, oldCount)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaleCounter
	}
	return nil
}

// Delete removes a credential if and only if it belongs to the given user.
// It reports whether a row was actually deleted.
func (r *CredentialRepo) Delete(ctx context.Context, credentialID string, userID uint64) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM webauthn_credentials WHERE credential_id=? AND user_id=?",
		credentialID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface{ Scan(dest ...any) error }

func scanCredential(s scanner) (model.Credential, error) {
	var (
		c          model.Credential
		transports sql.NullString
		lastUsed   sql.NullTime
	)
	err := s.Scan(&c.ID, &c.UserID, &c.CredentialID, &c.PublicKey, &c.SignCount,
		&c.AAGUID, &c.AttestationType, &transports, &c.BackupEligible, &c.CreatedAt, &lastUsed)
	if err != nil {
		return model.Credential{}, err
	}
	c.Transports = transports.String
	if lastUsed.Valid {
		t := lastUsed.Time
		c.LastUsedAt = &t
	}
	return c, nil
}
