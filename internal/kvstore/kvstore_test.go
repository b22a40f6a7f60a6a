package kvstore

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"syncline/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStores(t *testing.T) map[string]domain.KVStore {
	t.Helper()

	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)

	badger, err := NewBadgerStore(filepath.Join(t.TempDir(), "badger"))
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	redisStore := NewRedisStore(NewRedisClient(RedisOptions{Address: mr.Addr()}))

	return map[string]domain.KVStore{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
		"badger": badger,
		"redis":  redisStore,
	}
}

func TestKVStoreConformance(t *testing.T) {
	for name, store := range openStores(t) {
		store := store
		t.Run(name, func(t *testing.T) {
			defer store.Close()
			ctx := context.Background()

			t.Run("GetMissing", func(t *testing.T) {
				_, ok, err := store.Get(ctx, "nope")
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("SetGetRemove", func(t *testing.T) {
				require.NoError(t, store.Set(ctx, "a", "1"))
				val, ok, err := store.Get(ctx, "a")
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, "1", val)

				require.NoError(t, store.Set(ctx, "a", "2"))
				val, _, _ = store.Get(ctx, "a")
				assert.Equal(t, "2", val, "set overwrites")

				require.NoError(t, store.Remove(ctx, "a"))
				_, ok, err = store.Get(ctx, "a")
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("RemoveMissingIsIdempotent", func(t *testing.T) {
				assert.NoError(t, store.Remove(ctx, "ghost"))
			})

			t.Run("ListKeysByPrefix", func(t *testing.T) {
				require.NoError(t, store.Set(ctx, "cache:x", "1"))
				require.NoError(t, store.Set(ctx, "cache:y", "2"))
				require.NoError(t, store.Set(ctx, "queue:z", "3"))

				keys, err := store.ListKeys(ctx, "cache:")
				require.NoError(t, err)
				sort.Strings(keys)
				assert.Equal(t, []string{"cache:x", "cache:y"}, keys)
			})

			t.Run("MultiOps", func(t *testing.T) {
				pairs := map[string]string{"m1": "a", "m2": "b", "m3": "c"}
				require.NoError(t, store.MultiSet(ctx, pairs))

				got, err := store.MultiGet(ctx, []string{"m1", "m2", "m3", "missing"})
				require.NoError(t, err)
				assert.Equal(t, pairs, got)

				require.NoError(t, store.MultiRemove(ctx, []string{"m1", "m3"}))
				got, err = store.MultiGet(ctx, []string{"m1", "m2", "m3"})
				require.NoError(t, err)
				assert.Equal(t, map[string]string{"m2": "b"}, got)
			})

			t.Run("KeysWithUnderscoreAndPercent", func(t *testing.T) {
				require.NoError(t, store.Set(ctx, "mut_1%", "v"))
				keys, err := store.ListKeys(ctx, "mut_1")
				require.NoError(t, err)
				assert.Equal(t, []string{"mut_1%"}, keys)
			})
		})
	}
}
