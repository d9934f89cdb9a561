// Package storetest checks that an InstanceStore honours the store contract.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/newsroom/pkg/domain"
	"github.com/aescanero/newsroom/pkg/ports"
)

// Run exercises create, get, compare-and-swap and list against a fresh store
// returned by newStore.
func Run(t *testing.T, newStore func(t *testing.T) ports.InstanceStore) {
	t.Run("CreateAndGet", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		inst := newInstance("story-1", time.Now().UTC())
		require.NoError(t, store.Create(ctx, inst))
		assert.Equal(t, int64(1), inst.Version)

		got, err := store.Get(ctx, "story-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StagePitched, got.Stage)
		assert.Equal(t, "corr-story-1", got.CorrelationID)
		assert.Equal(t, []string{"zoning"}, got.Pitch.Keywords)

		err = store.Create(ctx, newInstance("story-1", time.Now().UTC()))
		assert.ErrorIs(t, err, domain.ErrInstanceExists)

		_, err = store.Get(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
	})

	t.Run("CompareAndSwap", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		inst := newInstance("story-2", now)
		require.NoError(t, store.Create(ctx, inst))

		stale, err := store.Get(ctx, "story-2")
		require.NoError(t, err)

		require.NoError(t, inst.Advance(domain.StageAssigned, "", now))
		require.NoError(t, store.CompareAndSwap(ctx, inst, 1))
		assert.Equal(t, int64(2), inst.Version)

		require.NoError(t, stale.Advance(domain.StageRework, "stale", now))
		err = store.CompareAndSwap(ctx, stale, stale.Version)
		assert.ErrorIs(t, err, domain.ErrVersionConflict)

		got, err := store.Get(ctx, "story-2")
		require.NoError(t, err)
		assert.Equal(t, domain.StageAssigned, got.Stage)
		assert.Equal(t, int64(2), got.Version)

		missing := newInstance("missing", now)
		assert.ErrorIs(t, store.CompareAndSwap(ctx, missing, 1), domain.ErrInstanceNotFound)
	})

	t.Run("ConcurrentSwapsHaveOneWinner", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.Create(ctx, newInstance("story-3", time.Now().UTC())))

		const racers = 8
		var wg sync.WaitGroup
		results := make(chan error, racers)
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				inst, err := store.Get(ctx, "story-3")
				if err != nil {
					results <- err
					return
				}
				inst.Lease = &domain.Lease{Owner: "racer", ExpiresAt: time.Now().Add(time.Minute)}
				results <- store.CompareAndSwap(ctx, inst, 1)
			}()
		}
		wg.Wait()
		close(results)

		wins := 0
		for err := range results {
			if err == nil {
				wins++
				continue
			}
			assert.ErrorIs(t, err, domain.ErrVersionConflict)
		}
		assert.Equal(t, 1, wins)
	})

	t.Run("List", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		base := time.Now().UTC()

		for i, id := range []domain.StoryID{"a", "b", "c"} {
			require.NoError(t, store.Create(ctx, newInstance(id, base.Add(time.Duration(i)*time.Second))))
		}

		all, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, domain.StoryID("a"), all[0].StoryID)
		assert.Equal(t, domain.StoryID("c"), all[2].StoryID)
	})
}

func newInstance(id domain.StoryID, now time.Time) *domain.Instance {
	return domain.NewInstance(domain.StoryPitch{
		StoryID:      id,
		Slug:         "zoning",
		HeadlineIdea: "Zoning vote",
		Angle:        "housing",
		Beat:         "city",
		Keywords:     []string{"zoning"},
		Priority:     2,
	}, "corr-"+string(id), now)
}
