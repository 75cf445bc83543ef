// Package store persists session records. Every method returns copies so
// callers never share a record with the store.
//
// Error contract: a missing session wraps sentinel.ErrNotFound; validate
// callback errors pass through unchanged.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"aegis/internal/session/models"
	"aegis/pkg/platform/sentinel"
)

// InMemoryStore keeps sessions in process memory with a per-device index.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*models.Session
	byDevice map[string]map[uuid.UUID]struct{}
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[uuid.UUID]*models.Session),
		byDevice: make(map[string]map[uuid.UUID]struct{}),
	}
}

func (s *InMemoryStore) Create(_ context.Context, session *models.Session) error {
	if session == nil {
		return fmt.Errorf("session is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *session
	s.sessions[session.ID] = &cp
	ids, ok := s.byDevice[session.DeviceFingerprint]
	if !ok {
		ids = make(map[uuid.UUID]struct{})
		s.byDevice[session.DeviceFingerprint] = ids
	}
	ids[session.ID] = struct{}{}
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id uuid.UUID) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	cp := *session
	return &cp, nil
}

// Execute runs validate and, when it passes, mutate against one session
// under the store lock and returns the updated copy.
func (s *InMemoryStore) Execute(_ context.Context, id uuid.UUID, validate func(*models.Session) error, mutate func(*models.Session)) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	working := *session
	if validate != nil {
		if err := validate(&working); err != nil {
			return nil, err
		}
	}
	mutate(&working)
	*session = working

	cp := working
	return &cp, nil
}

// CountActiveByDevice counts sessions for fingerprint that are active and
// unexpired at now.
func (s *InMemoryStore) CountActiveByDevice(_ context.Context, fingerprint string, now time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for id := range s.byDevice[fingerprint] {
		if session := s.sessions[id]; session != nil && session.IsActive && !session.IsExpired(now) {
			count++
		}
	}
	return count, nil
}

// DeactivateExpired marks every active session past its expiry as expired
// and returns how many changed.
func (s *InMemoryStore) DeactivateExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, session := range s.sessions {
		if session.IsExpired(now) && session.Deactivate(models.DeactivatedExpired, now) {
			count++
		}
	}
	return count, nil
}

// Purge drops inactive sessions deactivated before cutoff.
func (s *InMemoryStore) Purge(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, session := range s.sessions {
		if session.IsActive || session.DeactivatedAt == nil || !session.DeactivatedAt.Before(cutoff) {
			continue
		}
		delete(s.sessions, id)
		if ids := s.byDevice[session.DeviceFingerprint]; ids != nil {
			delete(ids, id)
			if len(ids) == 0 {
				delete(s.byDevice, session.DeviceFingerprint)
			}
		}
		count++
	}
	return count, nil
}
