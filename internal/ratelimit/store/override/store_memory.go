package override

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"aegis/internal/ratelimit/models"
)

// InMemoryStore holds at most one dynamic override per action.
type InMemoryStore struct {
	mu        sync.RWMutex
	overrides map[string]models.Override
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{overrides: make(map[string]models.Override)}
}

// Set installs o, replacing any override for the same action.
func (s *InMemoryStore) Set(_ context.Context, o models.Override) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[o.Action.Key()] = o
	return nil
}

// Get returns the active override for action. Expired overrides are removed
// on read and reported as absent.
func (s *InMemoryStore) Get(_ context.Context, action models.Action, now time.Time) (*models.Override, error) {
	key := action.Key()
	s.mu.RLock()
	o, ok := s.overrides[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if !o.IsActive(now) {
		s.mu.Lock()
		if cur, still := s.overrides[key]; still && !cur.IsActive(now) {
			delete(s.overrides, key)
		}
		s.mu.Unlock()
		return nil, nil
	}
	return &o, nil
}

func (s *InMemoryStore) Delete(_ context.Context, action models.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overrides, action.Key())
	return nil
}

// List returns active overrides sorted by action.
func (s *InMemoryStore) List(_ context.Context, now time.Time) ([]models.Override, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Override, 0, len(s.overrides))
	for _, o := range s.overrides {
		if o.IsActive(now) {
			out = append(out, o)
		}
	}
	slices.SortFunc(out, func(a, b models.Override) int {
		return strings.Compare(string(a.Action), string(b.Action))
	})
	return out, nil
}

func (s *InMemoryStore) SweepExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, o := range s.overrides {
		if !o.IsActive(now) {
			delete(s.overrides, k)
			removed++
		}
	}
	return removed, nil
}
