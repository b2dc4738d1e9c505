// Package challenge holds the ephemeral ceremony challenges issued during
// WebAuthn registration and authentication. Entries live in process memory
// only: a challenge that outlives its TTL or a process restart simply makes
// the ceremony fail closed and the client starts over.
package challenge

import (
	"errors"
	"hash/fnv"
	"sync"
	"time"
)

// ErrNotFound is returned when a key has no live challenge, either because
// none was issued, it expired, or it was already consumed. Callers must not
// distinguish these cases.
var ErrNotFound = errors.New("challenge not found or expired")

// DefaultTTL matches the 60s timeout advertised in the ceremony options.
const DefaultTTL = 60 * time.Second

const shardCount = 16

type entry struct {
	value     string
	expiresAt time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]entry
}

// Store is a key-partitioned TTL map. Keys are spread across fixed shards
// so unrelated ceremonies never contend on the same lock; within a shard
// the mutex serializes the read-then-delete of Consume.
type Store struct {
	shards [shardCount]*shard
}

func NewStore() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]entry)}
	}
	return s
}

func (s *Store) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

// Issue stores a challenge under key with the given TTL. Issuing again for
// the same key overwrites the previous challenge: at most one live
// challenge exists per key.
func (s *Store) Issue(key, value string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	sh := s.shardFor(key)
	sh.mu.Lock()
	sh.entries[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
	sh.mu.Unlock()
}

// Consume returns the challenge for key and deletes it, so at most one
// successful read is possible per issued challenge. Expiry is evaluated
// lazily here; expired entries are removed and reported as not found.
func (s *Store) Consume(key string) (string, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[key]
	if !ok {
		return "", ErrNotFound
	}
	delete(sh.entries, key)
	if time.Now().After(e.expiresAt) {
		return "", ErrNotFound
	}
	return e.value, nil
}
