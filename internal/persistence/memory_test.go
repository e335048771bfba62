package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "oplog:1", []byte("payload")))
	v, ok, err := s.Get(ctx, "oplog:1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "payload", string(v))

	require.NoError(t, s.Set(ctx, "oplog:2", []byte("other")))
	keys, err := s.List(ctx, "oplog:")
	require.NoError(t, err)
	assert.Equal(t, []string{"oplog:1", "oplog:2"}, keys)

	require.NoError(t, s.Delete(ctx, "oplog:1"))
	_, ok, err = s.Get(ctx, "oplog:1")
	require.NoError(t, err)
	assert.False(t, ok)
}
