// Package history remembers recently accepted passwords per subject so an
// immediate reuse can be penalized. Only bcrypt hashes are held, and only
// in process memory.
package history

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultSize        = 5
	DefaultMaxSubjects = 10_000
)

// Store is safe for concurrent use. Subjects are evicted least recently
// used once MaxSubjects is reached.
type Store struct {
	mu       sync.Mutex
	subjects *lru.Cache[string, [][]byte]
	size     int
	cost     int
}

type Option func(*config)

type config struct {
	size        int
	maxSubjects int
	cost        int
}

// WithSize sets how many passwords are kept per subject. Zero disables the
// history.
func WithSize(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.size = n
		}
	}
}

func WithMaxSubjects(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxSubjects = n
		}
	}
}

func WithCost(cost int) Option {
	return func(c *config) {
		c.cost = cost
	}
}

func New(opts ...Option) (*Store, error) {
	cfg := config{size: DefaultSize, maxSubjects: DefaultMaxSubjects, cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.cost < bcrypt.MinCost || cfg.cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("history: bcrypt cost %d out of range", cfg.cost)
	}
	cache, err := lru.New[string, [][]byte](cfg.maxSubjects)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return &Store{subjects: cache, size: cfg.size, cost: cfg.cost}, nil
}

// Contains reports whether password matches one of subject's recent
// passwords.
func (s *Store) Contains(_ context.Context, subject, password string) (bool, error) {
	if s.size == 0 {
		return false, nil
	}
	s.mu.Lock()
	hashes, ok := s.subjects.Get(subject)
	hashes = append([][]byte(nil), hashes...)
	s.mu.Unlock()
	if !ok {
		return false, nil
	}

	digest := prehash(password)
	for _, h := range hashes {
		err := bcrypt.CompareHashAndPassword(h, digest)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, fmt.Errorf("compare password history: %w", err)
		}
	}
	return false, nil
}

// Add records password for subject, dropping the oldest entry beyond the
// configured size.
func (s *Store) Add(_ context.Context, subject, password string) error {
	if s.size == 0 {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword(prehash(password), s.cost)
	if err != nil {
		return fmt.Errorf("hash password for history: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	hashes, _ := s.subjects.Get(subject)
	hashes = append(hashes, hash)
	if len(hashes) > s.size {
		hashes = hashes[len(hashes)-s.size:]
	}
	s.subjects.Add(subject, hashes)
	return nil
}

// Len returns how many passwords are held for subject.
func (s *Store) Len(subject string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	hashes, _ := s.subjects.Peek(subject)
	return len(hashes)
}

// prehash keeps bcrypt inputs under its 72-byte limit for any password
// length.
func prehash(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	return []byte(hex.EncodeToString(sum[:]))
}
