package challenge

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_ConsumeIsDestructive(t *testing.T) {
	s := NewStore()
	s.Issue("webauthn:registration:1", "abc", time.Minute)

	v, err := s.Consume("webauthn:registration:1")
	require.NoError(t, err)
	assert.Equal(t, "abc", v)

	_, err = s.Consume("webauthn:registration:1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_MissingKey(t *testing.T) {
	s := NewStore()
	_, err := s.Consume("webauthn:authentication:42")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Expiry(t *testing.T) {
	s := NewStore()
	s.Issue("k", "v", 20*time.Millisecond)
	time.Sleep(40 * time.Millisecond)

	_, err := s.Consume("k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ReissueOverwrites(t *testing.T) {
	s := NewStore()
	s.Issue("k", "old", time.Minute)
	s.Issue("k", "new", time.Minute)

	v, err := s.Consume("k")
	require.NoError(t, err)
	assert.Equal(t, "new", v)
}

// Concurrent consumers of the same key: exactly one wins.
func TestStore_ConcurrentConsume(t *testing.T) {
	s := NewStore()
	s.Issue("k", "v", time.Minute)

	var wg sync.WaitGroup
	wins := make(chan struct{}, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Consume("k"); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestStore_KeysAreIndependent(t *testing.T) {
	s := NewStore()
	for i := 0; i < 100; i++ {
		s.Issue(fmt.Sprintf("k%d", i), fmt.Sprintf("v%d", i), time.Minute)
	}
	for i := 0; i < 100; i++ {
		v, err := s.Consume(fmt.Sprintf("k%d", i))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("v%d", i), v)
	}
}
