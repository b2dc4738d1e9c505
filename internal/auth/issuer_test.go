package auth

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/passkey-gate/internal/audit"
	"github.com/iliyamo/passkey-gate/internal/model"
	"github.com/iliyamo/passkey-gate/internal/utils"
)

type memSessions struct {
	mu   sync.Mutex
	rows map[string]*model.Session
}

func newMemSessions() *memSessions {
	return &memSessions{rows: make(map[string]*model.Session)}
}

func (m *memSessions) Create(_ context.Context, s model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := s
	m.rows[s.TokenHash] = &row
	return nil
}

func (m *memSessions) ByHash(_ context.Context, tokenHash string) (model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[tokenHash]
	if !ok {
		return model.Session{}, sql.ErrNoRows
	}
	return *row, nil
}

func (m *memSessions) Revoke(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[tokenHash]; ok && !row.IsRevoked {
		now := time.Now().UTC()
		row.IsRevoked = true
		row.RevokedAt = &now
	}
	return nil
}

func (m *memSessions) RevokeAllForUser(_ context.Context, userID uint64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := time.Now().UTC()
	for _, row := range m.rows {
		if row.UserID == userID && !row.IsRevoked {
			row.IsRevoked = true
			row.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

func (m *memSessions) DeleteExpired(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := time.Now().UTC()
	for hash, row := range m.rows {
		if row.ExpiresAt.Before(now) {
			delete(m.rows, hash)
			n++
		}
	}
	return n, nil
}

func (m *memSessions) ActiveForUser(_ context.Context, userID uint64) ([]model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Session
	now := time.Now().UTC()
	for _, row := range m.rows {
		if row.UserID == userID && !row.IsRevoked && row.ExpiresAt.After(now) {
			out = append(out, *row)
		}
	}
	return out, nil
}

func newTestIssuer(sessions SessionStore, store *memAuditStore, ttl time.Duration) *Issuer {
	return NewIssuer(sessions, audit.NewTrail(store), "test-secret", ttl)
}

func TestIssue_ProducesValidSession(t *testing.T) {
	sessions := newMemSessions()
	store := &memAuditStore{}
	iss := newTestIssuer(sessions, store, time.Hour)
	user := activeUser(1, "a@example.com")

	got, err := iss.Issue(context.Background(), user, "203.0.113.7", "test-agent")
	require.NoError(t, err)
	assert.NotEmpty(t, got.SessionID)
	assert.NotEmpty(t, got.Token)
	assert.True(t, iss.IsValid(context.Background(), got.SessionID))
	assert.True(t, store.hasAction("session.issued"))
}

func TestIssue_TokenCarriesSessionID(t *testing.T) {
	iss := newTestIssuer(newMemSessions(), &memAuditStore{}, time.Hour)

	got, err := iss.Issue(context.Background(), activeUser(1, "a@example.com"), "", "")
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(got.Token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, got.SessionID, claims["jti"])
	assert.Equal(t, "a@example.com", claims["email"])
}

func TestIsValid_UnknownSession(t *testing.T) {
	iss := newTestIssuer(newMemSessions(), &memAuditStore{}, time.Hour)
	assert.False(t, iss.IsValid(context.Background(), "never-issued"))
}

func TestRevoke_TakesEffectImmediately(t *testing.T) {
	sessions := newMemSessions()
	store := &memAuditStore{}
	iss := newTestIssuer(sessions, store, time.Hour)
	user := activeUser(1, "a@example.com")

	got, err := iss.Issue(context.Background(), user, "", "")
	require.NoError(t, err)
	require.True(t, iss.IsValid(context.Background(), got.SessionID))

	// Even though the token's exp is an hour away, revocation wins.
	require.NoError(t, iss.Revoke(context.Background(), got.SessionID, user.ID))
	assert.False(t, iss.IsValid(context.Background(), got.SessionID))
	assert.True(t, store.hasAction("user.logout"))

	// Revoking again, or revoking garbage, is a no-op.
	assert.NoError(t, iss.Revoke(context.Background(), got.SessionID, user.ID))
	assert.NoError(t, iss.Revoke(context.Background(), "never-issued", user.ID))
}

func TestRevokeAll_CountsAndInvalidates(t *testing.T) {
	sessions := newMemSessions()
	store := &memAuditStore{}
	iss := newTestIssuer(sessions, store, time.Hour)
	owner := activeUser(42, "owner@example.com")
	other := activeUser(7, "other@example.com")

	first, err := iss.Issue(context.Background(), owner, "", "")
	require.NoError(t, err)
	second, err := iss.Issue(context.Background(), owner, "", "")
	require.NoError(t, err)
	bystander, err := iss.Issue(context.Background(), other, "", "")
	require.NoError(t, err)

	n, err := iss.RevokeAll(context.Background(), owner.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, iss.IsValid(context.Background(), first.SessionID))
	assert.False(t, iss.IsValid(context.Background(), second.SessionID))
	assert.True(t, iss.IsValid(context.Background(), bystander.SessionID))
	assert.True(t, store.hasAction("user.logout.all"))

	// Nothing left to revoke.
	n, err = iss.RevokeAll(context.Background(), owner.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIsValid_ExpiryAndSweep(t *testing.T) {
	sessions := newMemSessions()
	iss := newTestIssuer(sessions, &memAuditStore{}, 20*time.Millisecond)

	got, err := iss.Issue(context.Background(), activeUser(1, "a@example.com"), "", "")
	require.NoError(t, err)
	require.True(t, iss.IsValid(context.Background(), got.SessionID))

	time.Sleep(40 * time.Millisecond)
	assert.False(t, iss.IsValid(context.Background(), got.SessionID))

	swept, err := iss.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	// The row is gone entirely now.
	_, err = sessions.ByHash(context.Background(), utils.FingerprintSessionID(got.SessionID))
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestActiveSessions_ListsOnlyLive(t *testing.T) {
	sessions := newMemSessions()
	iss := newTestIssuer(sessions, &memAuditStore{}, time.Hour)
	user := activeUser(1, "a@example.com")

	first, err := iss.Issue(context.Background(), user, "198.51.100.1", "agent-a")
	require.NoError(t, err)
	_, err = iss.Issue(context.Background(), user, "198.51.100.2", "agent-b")
	require.NoError(t, err)

	live, err := iss.ActiveSessions(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Len(t, live, 2)

	require.NoError(t, iss.Revoke(context.Background(), first.SessionID, user.ID))
	live, err = iss.ActiveSessions(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Len(t, live, 1)
}
