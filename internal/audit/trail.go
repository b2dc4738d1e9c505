// Package audit implements the append-only security event trail. Every
// ceremony step, session operation, throttling decision and OTP outcome is
// recorded here so that any security-relevant incident can be reconstructed
// after the fact. Entries are immutable: the public contract has no update
// or delete.
package audit

import (
	"context"
	"time"

	"github.com/iliyamo/passkey-gate/internal/model"
)

// Filter narrows a Search. Zero values mean "no constraint"; the set
// conditions compose conjunctively. Action matches as a substring.
type Filter struct {
	ActorID *uint64
	Action  string
	Success *bool
	From    time.Time
	To      time.Time
	Limit   int
	Offset  int
}

// Store is the persistence contract for audit entries. The MySQL
// implementation lives in the repository package; tests use an in-memory
// one.
type Store interface {
	Append(ctx context.Context, e model.AuditEntry) error
	Search(ctx context.Context, f Filter) ([]model.AuditEntry, error)
}

// Trail is the write/query surface handed to the rest of the core. A nil
// check is deliberately absent: components must not run without auditing.
type Trail struct {
	store Store
}

func NewTrail(store Store) *Trail { return &Trail{store: store} }

// Record appends one entry. An error here means the entry was NOT
// persisted; callers must treat the surrounding operation as failed rather
// than continue with an unrecorded security event.
func (t *Trail) Record(ctx context.Context, e model.AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return t.store.Append(ctx, e)
}

// Success records a succeeded action for the given actor.
func (t *Trail) Success(ctx context.Context, action string, actorID *uint64, details map[string]any) error {
	return t.Record(ctx, model.AuditEntry{UserID: actorID, Action: action, Success: true, Details: details})
}

// Failure records a failed action for the given actor.
func (t *Trail) Failure(ctx context.Context, action string, actorID *uint64, details map[string]any) error {
	return t.Record(ctx, model.AuditEntry{UserID: actorID, Action: action, Success: false, Details: details})
}

// RateLimited records a throttling denial. The blocked purpose (login,
// register, otp, ...) goes into the details so abuse patterns can be
// queried per flow.
func (t *Trail) RateLimited(ctx context.Context, actorID *uint64, purpose string) error {
	return t.Failure(ctx, "rate_limit.triggered", actorID, map[string]any{"blocked_action": purpose})
}

// Search returns entries matching the filter, most recent first.
func (t *Trail) Search(ctx context.Context, f Filter) ([]model.AuditEntry, error) {
	return t.store.Search(ctx, f)
}

// Summary aggregates the last `days` of events into the security overview
// used by the admin dashboard. When actorID is non-nil the summary is
// limited to that user.
type SummaryReport struct {
	PeriodDays        int     `json:"period_days"`
	TotalEvents       int     `json:"total_events"`
	SuccessfulLogins  int     `json:"successful_logins"`
	FailedLogins      int     `json:"failed_logins"`
	RateLimitTriggers int     `json:"rate_limit_triggers"`
	UserID            *uint64 `json:"user_id,omitempty"`
}

func (t *Trail) Summary(ctx context.Context, actorID *uint64, days int) (SummaryReport, error) {
	if days <= 0 {
		days = 7
	}
	entries, err := t.store.Search(ctx, Filter{
		ActorID: actorID,
		From:    time.Now().UTC().AddDate(0, 0, -days),
		Limit:   10000,
	})
	if err != nil {
		return SummaryReport{}, err
	}
	rep := SummaryReport{PeriodDays: days, TotalEvents: len(entries), UserID: actorID}
	for _, e := range entries {
		switch e.Action {
		case "user.login.success":
			rep.SuccessfulLogins++
		case "user.login.failed":
			rep.FailedLogins++
		case "rate_limit.triggered":
			rep.RateLimitTriggers++
		}
	}
	return rep, nil
}
