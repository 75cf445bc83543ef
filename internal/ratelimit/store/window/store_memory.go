package window

import (
	"context"
	"sync"
	"time"

	"aegis/internal/ratelimit/models"
)

// DefaultMaxAttempts caps the per-key attempts log. It must exceed the largest
// sustained-load threshold or that detector saturates below its trigger.
const DefaultMaxAttempts = 4096

// InMemoryStore keeps one sliding window per key for the process lifetime.
// Every operation holds the store lock, so check-and-append is atomic.
type InMemoryStore struct {
	mu          sync.Mutex
	windows     map[string]*slidingWindow
	maxAttempts int
}

// slidingWindow tracks admitted requests separately from all attempts:
// quota accounting uses only admitted ones, abuse detection uses both.
type slidingWindow struct {
	admitted []time.Time
	attempts []time.Time
	window   time.Duration // window used by the most recent check
	lastSeen time.Time
}

func (sw *slidingWindow) prune(now time.Time, horizon time.Duration) {
	sw.admitted = dropBefore(sw.admitted, now.Add(-sw.window))
	sw.attempts = dropBefore(sw.attempts, now.Add(-horizon))
}

// dropBefore removes timestamps at or before cutoff. Input is ascending.
func dropBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for ; i < len(ts); i++ {
		if ts[i].After(cutoff) {
			break
		}
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0:0], ts[i:]...)
}

type Option func(*InMemoryStore)

func WithMaxAttempts(n int) Option {
	return func(s *InMemoryStore) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func NewInMemoryStore(opts ...Option) *InMemoryStore {
	s := &InMemoryStore{
		windows:     make(map[string]*slidingWindow),
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Attempt prunes the window for key, admits the request when fewer than
// limit.MaxRequests remain in it, and records the attempt either way. recent
// bounds how many of the newest attempts are returned for burst detection;
// horizon bounds the attempts log for sustained-load detection.
func (s *InMemoryStore) Attempt(_ context.Context, key string, limit models.Limit, now time.Time, horizon time.Duration, recent int) (*models.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sw, ok := s.windows[key]
	if !ok {
		sw = &slidingWindow{}
		s.windows[key] = sw
	}
	sw.window = limit.Window
	sw.lastSeen = now
	sw.prune(now, horizon)

	allowed := len(sw.admitted) < limit.MaxRequests
	if allowed {
		sw.admitted = append(sw.admitted, now)
	}
	sw.attempts = append(sw.attempts, now)
	if over := len(sw.attempts) - s.maxAttempts; over > 0 {
		sw.attempts = append(sw.attempts[:0:0], sw.attempts[over:]...)
	}

	result := &models.Attempt{
		Allowed:   allowed,
		Count:     len(sw.admitted),
		InHorizon: len(sw.attempts),
	}
	if len(sw.admitted) > 0 {
		result.Oldest = sw.admitted[0]
	}
	if recent > 0 {
		from := max(len(sw.attempts)-recent, 0)
		result.Recent = append([]time.Time(nil), sw.attempts[from:]...)
	}
	return result, nil
}

// Count returns admitted requests currently inside key's window.
func (s *InMemoryStore) Count(_ context.Context, key string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sw, ok := s.windows[key]
	if !ok {
		return 0, nil
	}
	return len(dropBefore(sw.admitted, now.Add(-sw.window))), nil
}

func (s *InMemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	return nil
}

// Sweep drops windows idle for longer than both their window and horizon.
// Returns the number of windows removed.
func (s *InMemoryStore) Sweep(_ context.Context, now time.Time, horizon time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, sw := range s.windows {
		idle := max(sw.window, horizon)
		if !sw.lastSeen.Add(idle).After(now) {
			delete(s.windows, key)
			removed++
		}
	}
	return removed, nil
}

// Len reports how many keys are tracked.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}
