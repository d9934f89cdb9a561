package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/newsroom/pkg/adapters/storage/storetest"
	"github.com/aescanero/newsroom/pkg/domain"
	"github.com/aescanero/newsroom/pkg/ports"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ports.InstanceStore {
		store, err := Open(filepath.Join(t.TempDir(), "newsroom.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "newsroom.db")
	ctx := context.Background()
	now := time.Now().UTC()

	store, err := Open(path)
	require.NoError(t, err)
	inst := domain.NewInstance(domain.StoryPitch{StoryID: "s1", Keywords: []string{"k"}}, "c", now)
	require.NoError(t, store.Create(ctx, inst))
	require.NoError(t, inst.Record("assign", domain.StageAssigned, domain.Assignment{StoryID: "s1", Desk: "Digital Desk"}, now))
	require.NoError(t, inst.Advance(domain.StageAssigned, "", now))
	require.NoError(t, store.CompareAndSwap(ctx, inst, 1))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StageAssigned, got.Stage)
	assert.Equal(t, int64(2), got.Version)
	assert.True(t, got.Completed("assign"))
}
