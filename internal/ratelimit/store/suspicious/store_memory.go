package suspicious

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"aegis/internal/ratelimit/models"
)

// InMemoryStore is the suspicious-source set. Re-flagging a source keeps the
// original FlaggedAt and extends the expiry.
type InMemoryStore struct {
	mu      sync.RWMutex
	sources map[string]*models.SuspiciousSource
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sources: make(map[string]*models.SuspiciousSource)}
}

// Add flags source. Returns true when the source was not already flagged.
func (s *InMemoryStore) Add(_ context.Context, entry models.SuspiciousSource) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sources[entry.Source]
	if ok && !existing.IsExpired(entry.FlaggedAt) {
		if entry.ExpiresAt.IsZero() || (!existing.ExpiresAt.IsZero() && entry.ExpiresAt.After(existing.ExpiresAt)) {
			existing.ExpiresAt = entry.ExpiresAt
		}
		return false, nil
	}
	e := entry
	s.sources[entry.Source] = &e
	return true, nil
}

// Contains reports whether source is flagged and unexpired at now.
func (s *InMemoryStore) Contains(_ context.Context, source string, now time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sources[source]
	return ok && !e.IsExpired(now), nil
}

// Remove clears one source. Returns true when it was present.
func (s *InMemoryStore) Remove(_ context.Context, source string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sources[source]
	delete(s.sources, source)
	return ok, nil
}

// Clear empties the set and returns how many entries were dropped.
func (s *InMemoryStore) Clear(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.sources)
	s.sources = make(map[string]*models.SuspiciousSource)
	return n, nil
}

// List returns unexpired entries sorted by source.
func (s *InMemoryStore) List(_ context.Context, now time.Time) ([]models.SuspiciousSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.SuspiciousSource, 0, len(s.sources))
	for _, e := range s.sources {
		if !e.IsExpired(now) {
			out = append(out, *e)
		}
	}
	slices.SortFunc(out, func(a, b models.SuspiciousSource) int {
		return strings.Compare(a.Source, b.Source)
	})
	return out, nil
}

// SweepExpired removes expired entries.
func (s *InMemoryStore) SweepExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, e := range s.sources {
		if e.IsExpired(now) {
			delete(s.sources, k)
			removed++
		}
	}
	return removed, nil
}
