// Package otp implements the one-time-code fallback used when WebAuthn is
// unavailable on a client. Codes are short-lived, single-use and kept in
// process memory only; delivery happens out of band through a Sender.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/iliyamo/passkey-gate/internal/audit"
	"github.com/iliyamo/passkey-gate/internal/model"
	"github.com/iliyamo/passkey-gate/internal/ratelimit"
)

// Defaults mirror the configuration fallbacks: 6 digits, 5 minutes.
const (
	DefaultLength = 6
	DefaultTTL    = 300 * time.Second
)

// ErrThrottled is returned when an email has exhausted its code-generation
// window. The denial is audited; callers decide how much of it to show.
var ErrThrottled = errors.New("too many code requests")

// Sender delivers a generated code to the user. Delivery is fire-and-forget
// from the service's point of view: a failed send never rolls back the
// generated code.
type Sender interface {
	Send(ctx context.Context, user model.User, code string, expiresIn time.Duration) error
}

// Limits configures the per-email throttling applied before any code is
// generated or checked. Defaults mirror the service configuration: 3 code
// requests and 5 verification attempts per 15 minute window.
type Limits struct {
	Request int
	Verify  int
	Window  time.Duration
}

// Service generates and verifies one-time codes. One live code exists per
// user at a time; generating a new one overwrites the old.
type Service struct {
	codes   codeTable
	trail   *audit.Trail
	sender  Sender
	limiter *ratelimit.Limiter
	length  int
	ttl     time.Duration
	limits  Limits
}

func New(trail *audit.Trail, sender Sender, limiter *ratelimit.Limiter, length int, ttl time.Duration, limits Limits) *Service {
	if length <= 0 {
		length = DefaultLength
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if limits.Request <= 0 {
		limits.Request = 3
	}
	if limits.Verify <= 0 {
		limits.Verify = 5
	}
	if limits.Window <= 0 {
		limits.Window = 15 * time.Minute
	}
	s := &Service{trail: trail, sender: sender, limiter: limiter, length: length, ttl: ttl, limits: limits}
	s.codes.init()
	return s
}

// TTL exposes the configured code lifetime for response payloads.
func (s *Service) TTL() time.Duration { return s.ttl }

// Generate draws a fixed-length numeric code from a cryptographically
// secure source, stores it keyed by the user with the configured TTL and
// hands it to the sender. The email's request window is consumed first:
// past the limit nothing is generated and the denial is audited. The
// returned code is also given to the caller so tests and development
// logging can use it.
func (s *Service) Generate(ctx context.Context, user model.User) (string, error) {
	if !s.limiter.Allow(requestKey(user.Email), s.limits.Request, s.limits.Window) {
		_ = s.trail.RateLimited(ctx, &user.ID, "otp")
		return "", ErrThrottled
	}
	code, err := randomDigits(s.length)
	if err != nil {
		return "", err
	}
	// The code goes live only once the generation has been audited; a code
	// the trail knows nothing about is never verifiable.
	if err := s.trail.Success(ctx, "auth.otp.generated", &user.ID, map[string]any{"method": "fallback"}); err != nil {
		return "", err
	}
	s.codes.put(codeKey(user.ID), code, s.ttl)

	if s.sender != nil {
		if err := s.sender.Send(ctx, user, code, s.ttl); err != nil {
			// Delivery is best effort; the code stays valid.
			log.Printf("otp: send to %s failed: %v", user.Email, err)
		}
	}
	return code, nil
}

// Verify checks a candidate against the stored code. The email's attempt
// window is consumed before the store is touched, so a throttled caller
// cannot burn or guess anything. The stored entry is deleted on the first
// real attempt regardless of outcome, so no code is ever checked twice.
// The comparison is constant time. The boolean collapses all failure
// causes; the audit trail keeps the distinction.
func (s *Service) Verify(ctx context.Context, user model.User, candidate string) bool {
	if !s.limiter.Allow(verifyKey(user.Email), s.limits.Verify, s.limits.Window) {
		_ = s.trail.RateLimited(ctx, &user.ID, "otp_verify")
		return false
	}
	stored, ok := s.codes.take(codeKey(user.ID))
	if !ok {
		_ = s.trail.Failure(ctx, "auth.otp.failed", &user.ID, map[string]any{"reason": "expired_or_not_found"})
		return false
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(candidate)) != 1 {
		_ = s.trail.Failure(ctx, "auth.otp.failed", &user.ID, map[string]any{"reason": "invalid_code"})
		return false
	}
	// A success that cannot be audited counts as a failure: the event must
	// not go unrecorded.
	if err := s.trail.Success(ctx, "auth.otp.success", &user.ID, nil); err != nil {
		return false
	}
	return true
}

func codeKey(userID uint64) string { return fmt.Sprintf("otp:%d", userID) }

func requestKey(email string) string { return "otp:" + email }

func verifyKey(email string) string { return "otp_verify:" + email }

// randomDigits builds an n-digit string where each digit comes from
// crypto/rand independently, avoiding modulo bias.
func randomDigits(n int) (string, error) {
	ten := big.NewInt(10)
	buf := make([]byte, n)
	for i := range buf {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		buf[i] = byte('0' + d.Int64())
	}
	return string(buf), nil
}

// codeTable is the sharded TTL map holding live codes. take removes the
// entry under the shard lock so a code can satisfy at most one check.
const shardCount = 16

type codeEntry struct {
	code      string
	expiresAt time.Time
}

type codeShard struct {
	mu      sync.Mutex
	entries map[string]codeEntry
}

type codeTable struct {
	shards [shardCount]*codeShard
}

func (t *codeTable) init() {
	for i := range t.shards {
		t.shards[i] = &codeShard{entries: make(map[string]codeEntry)}
	}
}

func (t *codeTable) shardFor(key string) *codeShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return t.shards[h.Sum32()%shardCount]
}

func (t *codeTable) put(key, code string, ttl time.Duration) {
	sh := t.shardFor(key)
	sh.mu.Lock()
	sh.entries[key] = codeEntry{code: code, expiresAt: time.Now().Add(ttl)}
	sh.mu.Unlock()
}

func (t *codeTable) take(key string) (string, bool) {
	sh := t.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[key]
	if !ok {
		return "", false
	}
	delete(sh.entries, key)
	if time.Now().After(e.expiresAt) {
		return "", false
	}
	return e.code, true
}
