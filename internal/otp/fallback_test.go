package otp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/passkey-gate/internal/audit"
	"github.com/iliyamo/passkey-gate/internal/model"
	"github.com/iliyamo/passkey-gate/internal/ratelimit"
)

// memAuditStore collects entries in memory so tests can assert on what was
// recorded. When failAction is set, appends for that action fail.
type memAuditStore struct {
	mu         sync.Mutex
	entries    []model.AuditEntry
	failAction string
}

func (m *memAuditStore) Append(_ context.Context, e model.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAction != "" && e.Action == m.failAction {
		return errors.New("append refused")
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memAuditStore) Search(_ context.Context, f audit.Filter) ([]model.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.AuditEntry, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

func (m *memAuditStore) last() model.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[len(m.entries)-1]
}

func (m *memAuditStore) countAction(action string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

type recordingSender struct {
	mu    sync.Mutex
	sent  []string
	email string
}

func (r *recordingSender) Send(_ context.Context, user model.User, code string, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, code)
	r.email = user.Email
	return nil
}

func testUser() model.User {
	return model.User{ID: 7, Email: "seven@example.com", Name: "Seven", Role: "CLIENT", IsActive: true}
}

func newService(store *memAuditStore, sender Sender, ttl time.Duration, limits Limits) *Service {
	return New(audit.NewTrail(store), sender, ratelimit.New(), 6, ttl, limits)
}

func TestGenerate_SixDigitCode(t *testing.T) {
	store := &memAuditStore{}
	sender := &recordingSender{}
	svc := newService(store, sender, time.Minute, Limits{})

	code, err := svc.Generate(context.Background(), testUser())
	require.NoError(t, err)
	require.Len(t, code, 6)
	for _, ch := range code {
		assert.GreaterOrEqual(t, ch, '0')
		assert.LessOrEqual(t, ch, '9')
	}
	assert.Equal(t, []string{code}, sender.sent)
	assert.Equal(t, "seven@example.com", sender.email)
	assert.Equal(t, "auth.otp.generated", store.last().Action)
}

func TestVerify_SingleUse(t *testing.T) {
	store := &memAuditStore{}
	svc := newService(store, nil, time.Minute, Limits{})
	user := testUser()

	code, err := svc.Generate(context.Background(), user)
	require.NoError(t, err)

	assert.True(t, svc.Verify(context.Background(), user, code))
	assert.Equal(t, "auth.otp.success", store.last().Action)

	// The code was consumed by the first check.
	assert.False(t, svc.Verify(context.Background(), user, code))
	last := store.last()
	assert.Equal(t, "auth.otp.failed", last.Action)
	assert.Equal(t, "expired_or_not_found", last.Details["reason"])
}

func TestVerify_WrongCodeBurnsStoredCode(t *testing.T) {
	store := &memAuditStore{}
	svc := newService(store, nil, time.Minute, Limits{})
	user := testUser()

	code, err := svc.Generate(context.Background(), user)
	require.NoError(t, err)

	assert.False(t, svc.Verify(context.Background(), user, "000000"))
	assert.Equal(t, "invalid_code", store.last().Details["reason"])

	// Even the correct code no longer works: one check per code.
	assert.False(t, svc.Verify(context.Background(), user, code))
	assert.Equal(t, "expired_or_not_found", store.last().Details["reason"])
}

func TestVerify_Expired(t *testing.T) {
	store := &memAuditStore{}
	svc := newService(store, nil, 20*time.Millisecond, Limits{})
	user := testUser()

	code, err := svc.Generate(context.Background(), user)
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)
	assert.False(t, svc.Verify(context.Background(), user, code))
	last := store.last()
	assert.Equal(t, "auth.otp.failed", last.Action)
	assert.Equal(t, "expired_or_not_found", last.Details["reason"])
}

func TestGenerate_OverwritesPriorCode(t *testing.T) {
	store := &memAuditStore{}
	svc := newService(store, nil, time.Minute, Limits{})
	user := testUser()

	_, err := svc.Generate(context.Background(), user)
	require.NoError(t, err)
	second, err := svc.Generate(context.Background(), user)
	require.NoError(t, err)

	// Only the latest code is live; verifying it succeeds exactly once.
	assert.True(t, svc.Verify(context.Background(), user, second))
	assert.False(t, svc.Verify(context.Background(), user, second))
}

func TestGenerate_PerEmailThrottle(t *testing.T) {
	store := &memAuditStore{}
	svc := newService(store, nil, time.Minute, Limits{Request: 3, Window: time.Minute})
	user := testUser()

	generated := 0
	for i := 0; i < 50; i++ {
		_, err := svc.Generate(context.Background(), user)
		if err == nil {
			generated++
			continue
		}
		require.ErrorIs(t, err, ErrThrottled)
	}
	assert.Equal(t, 3, generated)
	assert.Equal(t, 3, store.countAction("auth.otp.generated"))
	assert.Equal(t, 47, store.countAction("rate_limit.triggered"))
	assert.Equal(t, "otp", store.last().Details["blocked_action"])

	// The window is keyed per email; another account is unaffected.
	other := model.User{ID: 8, Email: "eight@example.com", IsActive: true}
	_, err := svc.Generate(context.Background(), other)
	assert.NoError(t, err)
}

func TestVerify_PerEmailThrottle(t *testing.T) {
	store := &memAuditStore{}
	svc := newService(store, nil, time.Minute, Limits{Verify: 2, Window: time.Minute})
	user := testUser()

	code, err := svc.Generate(context.Background(), user)
	require.NoError(t, err)

	assert.False(t, svc.Verify(context.Background(), user, "000000"))
	assert.False(t, svc.Verify(context.Background(), user, "111111"))

	// The third attempt is refused before the store is consulted, so even
	// the right code no longer gets a comparison.
	assert.False(t, svc.Verify(context.Background(), user, code))
	last := store.last()
	assert.Equal(t, "rate_limit.triggered", last.Action)
	assert.Equal(t, "otp_verify", last.Details["blocked_action"])
}

func TestGenerate_AuditFailureStoresNoCode(t *testing.T) {
	store := &memAuditStore{failAction: "auth.otp.generated"}
	sender := &recordingSender{}
	svc := newService(store, sender, time.Minute, Limits{})
	user := testUser()

	_, err := svc.Generate(context.Background(), user)
	require.Error(t, err)
	assert.Empty(t, sender.sent)

	// Nothing went live: the follow-up check reports a missing code, not a
	// mismatch against a stored one.
	store.failAction = ""
	assert.False(t, svc.Verify(context.Background(), user, "000000"))
	assert.Equal(t, "expired_or_not_found", store.last().Details["reason"])
}
