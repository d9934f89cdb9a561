package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/newsroom/pkg/adapters/storage/storetest"
	"github.com/aescanero/newsroom/pkg/ports"
)

func TestInMemoryInstanceStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ports.InstanceStore {
		return NewInMemoryInstanceStore()
	})
}

func TestInMemoryDedupStore(t *testing.T) {
	store := NewInMemoryDedupStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	seen, err := store.Seen(ctx, "reporter:1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, store.MarkDone(ctx, "reporter:1", time.Hour))
	seen, err = store.Seen(ctx, "reporter:1")
	require.NoError(t, err)
	assert.True(t, seen)

	now = now.Add(2 * time.Hour)
	seen, err = store.Seen(ctx, "reporter:1")
	require.NoError(t, err)
	assert.False(t, seen, "expired keys are forgotten")
}
