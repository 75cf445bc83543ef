package history

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"aegis/pkg/testutil"
)

// StoreSuite covers the bounded reuse history.
// Justification: the history must never hold plaintext and must forget
// passwords beyond its bound.
type StoreSuite struct {
	suite.Suite
	store *Store
	ctx   context.Context
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	var err error
	s.store, err = New(WithCost(bcrypt.MinCost))
	s.Require().NoError(err)
	s.ctx = context.Background()
}

func (s *StoreSuite) TestContainsAfterAdd() {
	s.Require().NoError(s.store.Add(s.ctx, "user-1", "xT9!qL2vR#7zK"))

	found, err := s.store.Contains(s.ctx, "user-1", "xT9!qL2vR#7zK")
	s.Require().NoError(err)
	s.True(found)

	found, err = s.store.Contains(s.ctx, "user-2", "xT9!qL2vR#7zK")
	s.Require().NoError(err)
	s.False(found, "history is per subject")
}

func (s *StoreSuite) TestBoundedToSize() {
	for i := range DefaultSize + 1 {
		s.Require().NoError(s.store.Add(s.ctx, "user-1", fmt.Sprintf("pw-%d", i)))
	}
	s.Equal(DefaultSize, s.store.Len("user-1"))

	found, _ := s.store.Contains(s.ctx, "user-1", "pw-0")
	s.False(found, "oldest entry is dropped")
	found, _ = s.store.Contains(s.ctx, "user-1", fmt.Sprintf("pw-%d", DefaultSize))
	s.True(found)
}

func (s *StoreSuite) TestNeverHoldsPlaintext() {
	s.Require().NoError(s.store.Add(s.ctx, "user-1", "correct horse"))
	hashes, _ := s.store.subjects.Peek("user-1")
	s.Require().Len(hashes, 1)
	s.NotContains(string(hashes[0]), "correct horse")
	s.True(strings.HasPrefix(string(hashes[0]), "$2"))
}

func (s *StoreSuite) TestLongPasswordsAreSupported() {
	long := strings.Repeat("a", 200)
	s.Require().NoError(s.store.Add(s.ctx, "user-1", long))
	found, err := s.store.Contains(s.ctx, "user-1", long)
	s.Require().NoError(err)
	s.True(found)

	found, _ = s.store.Contains(s.ctx, "user-1", long+"b")
	s.False(found)
}

func (s *StoreSuite) TestZeroSizeDisablesHistory() {
	store, err := New(WithSize(0), WithCost(bcrypt.MinCost))
	s.Require().NoError(err)
	s.Require().NoError(store.Add(s.ctx, "user-1", "pw"))
	found, _ := store.Contains(s.ctx, "user-1", "pw")
	s.False(found)
}

func (s *StoreSuite) TestSubjectsAreEvicted() {
	store, err := New(WithMaxSubjects(2), WithCost(bcrypt.MinCost))
	s.Require().NoError(err)
	for _, subject := range []string{"a", "b", "c"} {
		s.Require().NoError(store.Add(s.ctx, subject, "pw"))
	}
	s.Zero(store.Len("a"))
	s.Equal(1, store.Len("c"))
}

func (s *StoreSuite) TestRejectsInvalidCost() {
	_, err := New(WithCost(100))
	s.Error(err)
}

func (s *StoreSuite) TestConcurrentAdds() {
	result := testutil.RunConcurrent(20, func(i int) error {
		return s.store.Add(s.ctx, "user-1", fmt.Sprintf("pw-%d", i))
	})
	s.Equal(int32(20), result.Successes)
	s.Equal(DefaultSize, s.store.Len("user-1"))
}
