// Package storetest holds behavioural tests shared by every store.Store implementation.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"dash0.com/window-drain-backend/internal/store"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

func rec(i int) store.Record { return store.Record(fmt.Sprintf(`{"n":%d}`, i)) }

func recs(from, to int) []store.Record {
	out := make([]store.Record, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, rec(i))
	}

	return out
}

func values(t *testing.T, w store.Window) []int {
	t.Helper()

	out := make([]int, 0, len(w.Records))

	for _, r := range w.Records {
		var v struct{ N int }
		require.NoError(t, json.Unmarshal(r, &v))
		out = append(out, v.N)
	}

	return out
}

// Run executes the suite against stores created by newStore.
func Run(t *testing.T, newStore Factory) {
	open := func(t *testing.T) store.Store {
		t.Helper()

		s := newStore(t)
		t.Cleanup(func() { _ = s.Close() })

		return s
	}

	t.Run("EmptySentinel", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		_, ok, err := s.ReadOldest(ctx)
		require.NoError(t, err)
		require.False(t, ok)

		keys, err := s.ListKeys(ctx)
		require.NoError(t, err)
		require.Empty(t, keys)
	})

	t.Run("MergeAppendsInOrder", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.NoError(t, s.Merge(ctx, "k", recs(0, 3)))
		require.NoError(t, s.Merge(ctx, "k", recs(3, 5)))

		w, ok, err := s.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "k", w.Key)
		require.Equal(t, []int{0, 1, 2, 3, 4}, values(t, w))
	})

	t.Run("ReadOldestIsLexicographicallySmallest", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.NoError(t, s.Merge(ctx, "2024-01-01-00-01-00", recs(0, 1)))
		require.NoError(t, s.Merge(ctx, "2024-01-01-00-00-30", recs(1, 2)))
		require.NoError(t, s.Merge(ctx, "2024-01-01-00-02-00", recs(2, 3)))

		w, ok, err := s.ReadOldest(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "2024-01-01-00-00-30", w.Key)

		keys, err := s.ListKeys(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"2024-01-01-00-00-30", "2024-01-01-00-01-00", "2024-01-01-00-02-00"}, keys)
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.NoError(t, s.Merge(ctx, "a", recs(0, 2)))
		require.NoError(t, s.Merge(ctx, "b", recs(2, 3)))

		require.NoError(t, s.Delete(ctx, "a"))
		once, err := s.ListKeys(ctx)
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, "a"))
		twice, err := s.ListKeys(ctx)
		require.NoError(t, err)

		require.Equal(t, once, twice)
		require.Equal(t, []string{"b"}, twice)

		require.NoError(t, s.Delete(ctx, "never-existed"))
	})

	t.Run("RetireKeepsRecordsMergedAfterRead", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.NoError(t, s.Merge(ctx, "k", recs(0, 3)))

		w, ok, err := s.ReadOldest(ctx)
		require.NoError(t, err)
		require.True(t, ok)

		// a flush lands between the drain read and its delete
		require.NoError(t, s.Merge(ctx, "k", recs(3, 5)))
		require.NoError(t, s.Retire(ctx, w))

		left, ok, err := s.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []int{3, 4}, values(t, left))

		require.NoError(t, s.Retire(ctx, left))

		_, ok, err = s.Get(ctx, "k")
		require.NoError(t, err)
		require.False(t, ok)

		// retiring a window that is already gone is a no-op
		require.NoError(t, s.Retire(ctx, left))
	})

	t.Run("EmptyWindowCanBeRetired", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.NoError(t, s.Merge(ctx, "k", nil))

		w, ok, err := s.ReadOldest(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Zero(t, w.Len())

		require.NoError(t, s.Retire(ctx, w))

		_, ok, err = s.ReadOldest(ctx)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("ConcurrentMergesAreNotLost", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		const writers, perWriter = 8, 25

		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)

			go func(i int) {
				defer wg.Done()

				for j := 0; j < perWriter; j++ {
					_ = s.Merge(ctx, "k", recs(i*perWriter+j, i*perWriter+j+1))
				}
			}(i)
		}

		wg.Wait()

		w, ok, err := s.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok)
		require.Len(t, w.Records, writers*perWriter)
	})

	t.Run("ClosedStoreErrors", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Close())

		require.ErrorIs(t, s.Merge(context.Background(), "k", recs(0, 1)), store.ErrClosed)
		_, _, err := s.ReadOldest(context.Background())
		require.ErrorIs(t, err, store.ErrClosed)
	})
}
