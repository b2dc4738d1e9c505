package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/iliyamo/passkey-gate/internal/audit"
	"github.com/iliyamo/passkey-gate/internal/model"
)

// AuditRepo stores audit entries in the `audit_logs` table. It implements
// audit.Store. Only INSERT and SELECT statements exist here — the table is
// append-only by contract.
type AuditRepo struct{ DB *sql.DB }

func NewAuditRepo(db *sql.DB) *AuditRepo { return &AuditRepo{DB: db} }

// Append inserts one entry. Details are serialized to a JSON column so
// arbitrary structured context survives without schema churn.
func (r *AuditRepo) Append(ctx context.Context, e model.AuditEntry) error {
	var details any
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return err
		}
		details = string(b)
	}
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO audit_logs (user_id, action, resource, ip_address, user_agent, success, details, created_at)
		 VALUES (?,?,?,?,?,?,?,?)`,
		nullableID(e.UserID), e.Action, e.Resource, e.IPAddress, e.UserAgent, e.Success, details, e.CreatedAt)
	return err
}

// Search applies the filter conditions conjunctively and returns matches
// ordered most recent first. The limit is expected to be clamped by the
// caller-facing boundary; a zero limit falls back to 100.
func (r *AuditRepo) Search(ctx context.Context, f audit.Filter) ([]model.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.ActorID != nil {
		where = append(where, "user_id = ?")
		args = append(args, *f.ActorID)
	}
	if f.Action != "" {
		where = append(where, "action LIKE ?")
		args = append(args, "%"+f.Action+"%")
	}
	if f.Success != nil {
		where = append(where, "success = ?")
		args = append(args, *f.Success)
	}
	if !f.From.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, f.To)
	}

	query := "SELECT id,user_id,action,resource,ip_address,user_agent,success,details,created_at FROM audit_logs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var (
			e       model.AuditEntry
			userID  sql.NullInt64
			details sql.NullString
		)
		if err := rows.Scan(&e.ID, &userID, &e.Action, &e.Resource, &e.IPAddress,
			&e.UserAgent, &e.Success, &details, &e.CreatedAt); err != nil {
			return nil, err
		}
		if userID.Valid {
			id := uint64(userID.Int64)
			e.UserID = &id
		}
		if details.Valid && details.String != "" {
			// Corrupt detail blobs should not hide the entry itself.
			_ = json.Unmarshal([]byte(details.String), &e.Details)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullableID(id *uint64) any {
	if id == nil {
		return nil
	}
	return *id
}
