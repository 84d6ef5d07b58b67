// Package ratelimit implements per-connection sliding-window admission.
package ratelimit

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cespare/xxhash/v2"
)

const shardCount = 64

type (
	Policy struct {
		Window       time.Duration
		MaxPerWindow int
	}

	// Limiter admits at most MaxPerWindow attempts per connection in any
	// trailing Window. Each connection keeps a ring of its last MaxPerWindow
	// attempt times, so memory per connection is bounded by the policy.
	Limiter struct {
		policy Policy
		clock  clock.Clock
		shards [shardCount]*shard
	}

	shard struct {
		mu      sync.Mutex
		windows map[string]*window
	}

	window struct {
		stamps []time.Time
		head   int // index of the oldest stamp
		n      int
	}
)

func NewLimiter(policy Policy, clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.New()
	}
	if policy.MaxPerWindow <= 0 {
		policy.MaxPerWindow = 1
	}

	l := &Limiter{policy: policy, clock: clk}
	for i := range l.shards {
		l.shards[i] = &shard{windows: make(map[string]*window)}
	}
	return l
}

func (l *Limiter) shardFor(handle string) *shard {
	return l.shards[xxhash.Sum64String(handle)%shardCount]
}

// Admit records an attempt for handle and reports whether it fits in the
// window. Rejected attempts are recorded too, so a sender that keeps pushing
// stays throttled until it pauses for a full window.
func (l *Limiter) Admit(handle string) bool {
	now := l.clock.Now()
	cutoff := now.Add(-l.policy.Window)

	s := l.shardFor(handle)
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[handle]
	if !ok {
		w = &window{stamps: make([]time.Time, l.policy.MaxPerWindow)}
		s.windows[handle] = w
	}

	w.prune(cutoff)
	if w.n == len(w.stamps) {
		// full: the attempt displaces the oldest stamp, still inside the window
		w.stamps[w.head] = now
		w.head = (w.head + 1) % len(w.stamps)
		return false
	}
	w.stamps[(w.head+w.n)%len(w.stamps)] = now
	w.n++
	return true
}

// Forget drops the window for handle. Called when the connection closes.
func (l *Limiter) Forget(handle string) {
	s := l.shardFor(handle)
	s.mu.Lock()
	delete(s.windows, handle)
	s.mu.Unlock()
}

// Tracked returns the number of connections with a live window.
func (l *Limiter) Tracked() int {
	n := 0
	for _, s := range l.shards {
		s.mu.Lock()
		n += len(s.windows)
		s.mu.Unlock()
	}
	return n
}

func (w *window) prune(cutoff time.Time) {
	for w.n > 0 && w.stamps[w.head].Before(cutoff) {
		w.head = (w.head + 1) % len(w.stamps)
		w.n--
	}
}
