// Package ratelimit implements fixed-window attempt counting for abuse
// throttling. Counters are keyed by purpose plus identifier (for example
// "login:alice@example.com") and live in process memory; a counter never
// outlives its window.
package ratelimit

import (
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 16

type counter struct {
	count     int
	windowEnd time.Time
}

// Limiter counts attempts in discrete, non-overlapping windows. Keys are
// spread across fixed shards; the per-shard mutex makes each check-and
// -increment atomic so two concurrent requests can never both pass the
// final slot of a window.
type Limiter struct {
	shards [shardCount]*shard
}

type shard struct {
	mu       sync.Mutex
	counters map[string]counter
}

func New() *Limiter {
	l := &Limiter{}
	for i := range l.shards {
		l.shards[i] = &shard{counters: make(map[string]counter)}
	}
	return l
}

func (l *Limiter) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return l.shards[h.Sum32()%shardCount]
}

// Allow reports whether another attempt fits within the window. A missing
// or expired counter starts a fresh window at count 1. Once the limit is
// reached further calls are denied without incrementing, so a burst of
// rejected attempts does not extend the lockout.
func (l *Limiter) Allow(key string, limit int, window time.Duration) bool {
	sh := l.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := time.Now()
	c, ok := sh.counters[key]
	if !ok || now.After(c.windowEnd) {
		sh.counters[key] = counter{count: 1, windowEnd: now.Add(window)}
		return true
	}
	if c.count >= limit {
		return false
	}
	c.count++
	sh.counters[key] = c
	return true
}

// Remaining reports how many attempts are left in the current window
// without consuming one.
func (l *Limiter) Remaining(key string, limit int) int {
	sh := l.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	c, ok := sh.counters[key]
	if !ok || time.Now().After(c.windowEnd) {
		delete(sh.counters, key)
		return limit
	}
	if rem := limit - c.count; rem > 0 {
		return rem
	}
	return 0
}

// RetryAfter returns how long until the key's window resets. The second
// return value is false when no live window exists.
func (l *Limiter) RetryAfter(key string) (time.Duration, bool) {
	sh := l.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	c, ok := sh.counters[key]
	if !ok {
		return 0, false
	}
	d := time.Until(c.windowEnd)
	if d <= 0 {
		delete(sh.counters, key)
		return 0, false
	}
	return d, true
}

// Reset clears the counter for a key, releasing the identifier immediately.
func (l *Limiter) Reset(key string) {
	sh := l.shardFor(key)
	sh.mu.Lock()
	delete(sh.counters, key)
	sh.mu.Unlock()
}
