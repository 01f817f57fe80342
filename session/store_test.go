package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_SetRejectsSecond(t *testing.T) {
	m := NewMemory[string]()
	require.NoError(t, m.Set("u1", "first"))

	err := m.Set("u1", "second")
	if !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	got, ok := m.Get("u1")
	require.True(t, ok)
	assert.Equal(t, "first", got, "existing entry must be untouched")
}

func TestMemory_DeleteIdempotent(t *testing.T) {
	m := NewMemory[int]()
	m.Delete("missing")
	m.Put("u1", 1)
	m.Delete("u1")
	m.Delete("u1")
	assert.False(t, m.Has("u1"))
	assert.Equal(t, 0, m.Len())
}

func TestMemory_PutReplaces(t *testing.T) {
	m := NewMemory[int]()
	m.Put("u1", 1)
	m.Put("u1", 2)
	v, _ := m.Get("u1")
	assert.Equal(t, 2, v)
}

func TestMemory_ConcurrentSetOneWinner(t *testing.T) {
	m := NewMemory[int]()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if m.Set("same", i) == nil {
				wins.Add(1)
			}
			m.Put(fmt.Sprintf("own-%d", i), i)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 65, m.Len())
}

func TestKeyedMutex_SerialisesPerKey(t *testing.T) {
	k := NewKeyedMutex()
	var inside atomic.Int32
	var maxSeen atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("u1")
			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen.Load())
	assert.Equal(t, 0, k.size(), "idle keys should be released")
}
