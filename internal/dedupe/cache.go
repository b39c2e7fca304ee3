// ABOUTME: TTL-bounded suppression window for repeated alerts.
// ABOUTME: The health monitor uses it so a flapping agent logs one warning per window.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	at      time.Time
	element *list.Element
}

// Suppressor remembers recently raised keys. A key raised again within the
// window is suppressed. Capacity is bounded; the oldest key is evicted first.
type Suppressor struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // oldest at front
	window  time.Duration
	maxKeys int
	now     func() time.Time

	done   chan struct{}
	closed bool
}

// Option configures a Suppressor.
type Option func(*Suppressor)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Suppressor) { s.now = now }
}

// New creates a Suppressor and starts its background sweep.
// A non-positive maxKeys means 1024.
func New(window time.Duration, maxKeys int, opts ...Option) *Suppressor {
	if maxKeys <= 0 {
		maxKeys = 1024
	}
	s := &Suppressor{
		seen:    make(map[string]*entry),
		order:   list.New(),
		window:  window,
		maxKeys: maxKeys,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.sweepLoop()
	return s
}

// Suppress reports whether key was already raised within the window.
// When it returns false the key is recorded, so only the first caller in a
// window gets false.
func (s *Suppressor) Suppress(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.seen[key]; ok {
		if now.Sub(e.at) < s.window {
			return true
		}
		e.at = now
		s.order.MoveToBack(e.element)
		return false
	}

	if len(s.seen) >= s.maxKeys {
		s.evictOldestLocked()
	}
	s.seen[key] = &entry{at: now, element: s.order.PushBack(key)}
	return false
}

// Forget drops key so the next Suppress for it returns false.
// The health monitor calls it when an agent recovers.
func (s *Suppressor) Forget(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.seen[key]; ok {
		s.order.Remove(e.element)
		delete(s.seen, key)
	}
}

// Len returns the number of remembered keys, expired or not.
func (s *Suppressor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func (s *Suppressor) evictOldestLocked() {
	front := s.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	s.order.Remove(front)
	delete(s.seen, key)
}

func (s *Suppressor) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.done:
			return
		}
	}
}

// sweep removes expired keys.
func (s *Suppressor) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, e := range s.seen {
		if now.Sub(e.at) >= s.window {
			s.order.Remove(e.element)
			delete(s.seen, key)
		}
	}
}

// Close stops the background sweep. Safe to call more than once.
func (s *Suppressor) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		close(s.done)
		s.closed = true
	}
}
