package blobstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStores(t *testing.T) {
	local, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	stores := map[string]Store{
		"Memory": NewMemoryStore(),
		"Local":  local,
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.Get(ctx, "missing")
			assert.True(t, errors.Is(err, ErrNotFound))

			require.NoError(t, store.Put(ctx, "artifacts/partitioner.bin", []byte("tree")))
			require.NoError(t, store.Put(ctx, "artifacts/projection.bin", []byte("basis")))
			require.NoError(t, store.Put(ctx, "manifest.json", []byte("{}")))

			got, err := store.Get(ctx, "artifacts/partitioner.bin")
			require.NoError(t, err)
			assert.Equal(t, []byte("tree"), got)

			// Overwrite replaces the previous content.
			require.NoError(t, store.Put(ctx, "manifest.json", []byte(`{"v":2}`)))
			got, err = store.Get(ctx, "manifest.json")
			require.NoError(t, err)
			assert.Equal(t, []byte(`{"v":2}`), got)

			names, err := store.List(ctx, "artifacts/")
			require.NoError(t, err)
			assert.Equal(t, []string{"artifacts/partitioner.bin", "artifacts/projection.bin"}, names)

			all, err := store.List(ctx, "")
			require.NoError(t, err)
			assert.Len(t, all, 3)

			require.NoError(t, store.Delete(ctx, "manifest.json"))
			_, err = store.Get(ctx, "manifest.json")
			assert.True(t, errors.Is(err, ErrNotFound))

			// Deleting a missing blob is not an error.
			assert.NoError(t, store.Delete(ctx, "manifest.json"))
		})
	}
}

func TestMemoryStoreCopiesData(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	data := []byte("original")
	require.NoError(t, store.Put(ctx, "blob", data))
	data[0] = 'X'

	got, err := store.Get(ctx, "blob")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got)

	got[0] = 'Y'
	again, err := store.Get(ctx, "blob")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), again)
}
