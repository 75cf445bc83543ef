package memory

import (
	"context"
	"testing"

	audit "aegis/pkg/platform/audit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListRecentNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, subject := range []string{"a", "b", "c"} {
		require.NoError(t, s.Append(ctx, audit.Event{Subject: subject}))
	}

	got, err := s.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].Subject)
	assert.Equal(t, "b", got[1].Subject)

	all, err := s.ListRecent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
