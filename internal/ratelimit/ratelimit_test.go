package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowUpToLimit(t *testing.T) {
	l := New(time.Minute, 3)

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow("k")
		assert.True(t, ok, "request %d within limit must pass", i+1)
	}

	ok, retryAfter := l.Allow("k")
	assert.False(t, ok, "request over the limit must be denied")
	assert.Greater(t, retryAfter, time.Duration(0))
	assert.LessOrEqual(t, retryAfter, time.Minute)
}

func TestKeysAreIndependent(t *testing.T) {
	l := New(time.Minute, 1)

	ok, _ := l.Allow("a")
	require.True(t, ok)
	ok, _ = l.Allow("a")
	require.False(t, ok)

	ok, _ = l.Allow("b")
	assert.True(t, ok, "a different key has its own window")
}

func TestWindowSlides(t *testing.T) {
	l := New(50*time.Millisecond, 1)

	ok, _ := l.Allow("k")
	require.True(t, ok)
	ok, _ = l.Allow("k")
	require.False(t, ok)

	time.Sleep(60 * time.Millisecond)

	ok, _ = l.Allow("k")
	assert.True(t, ok, "the event must leave the window after it elapses")
}

func TestConcurrentAllowNeverExceedsLimit(t *testing.T) {
	const limit = 10
	l := New(time.Minute, limit)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Allow("k"); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, allowed)
}

func TestManyKeys(t *testing.T) {
	l := New(time.Minute, 2)

	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key-%d", i)
		ok, _ := l.Allow(key)
		require.True(t, ok)
	}
}
