// ABOUTME: Tests for the alert suppressor.
// ABOUTME: Covers window expiry, Forget, capacity eviction and concurrent first-raise.

package dedupe

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *manualClock {
	return &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestSuppressor_FirstRaiseWins(t *testing.T) {
	s := New(time.Minute, 10)
	defer s.Close()

	assert.False(t, s.Suppress("agent-1"))
	assert.True(t, s.Suppress("agent-1"))
	assert.False(t, s.Suppress("agent-2"))
}

func TestSuppressor_WindowExpiry(t *testing.T) {
	clock := newClock()
	s := New(time.Minute, 10, WithClock(clock.Now))
	defer s.Close()

	assert.False(t, s.Suppress("k"))
	clock.Advance(59 * time.Second)
	assert.True(t, s.Suppress("k"))

	clock.Advance(time.Second)
	assert.False(t, s.Suppress("k"), "window elapsed")
	assert.True(t, s.Suppress("k"), "window restarted")
}

func TestSuppressor_Forget(t *testing.T) {
	s := New(time.Hour, 10)
	defer s.Close()

	s.Suppress("k")
	s.Forget("k")
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Suppress("k"))

	s.Forget("never-seen")
}

func TestSuppressor_EvictsOldest(t *testing.T) {
	s := New(time.Hour, 2)
	defer s.Close()

	s.Suppress("first")
	s.Suppress("second")
	s.Suppress("third")

	assert.Equal(t, 2, s.Len())
	assert.False(t, s.Suppress("first"), "evicted key is new again")
	assert.True(t, s.Suppress("third"))
}

func TestSuppressor_Sweep(t *testing.T) {
	clock := newClock()
	s := New(time.Minute, 10, WithClock(clock.Now))
	defer s.Close()

	s.Suppress("a")
	s.Suppress("b")
	clock.Advance(30 * time.Second)
	s.Suppress("c")
	clock.Advance(45 * time.Second)

	s.sweep()
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.Suppress("c"))
}

func TestSuppressor_Concurrent(t *testing.T) {
	s := New(time.Hour, 100)
	defer s.Close()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !s.Suppress("contested") {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestSuppressor_CloseTwice(t *testing.T) {
	s := New(time.Minute, 0)
	s.Close()
	s.Close()
}
