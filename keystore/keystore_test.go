package keystore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	frost "github.com/canopy-network/frost-taproot"
)

func exerciseStore(t *testing.T, store frost.KeyShareStore) {
	ctx := context.Background()
	handle := frost.KeyShareHandle(2, "epoch-1")

	_, err := store.Get(ctx, handle)
	assert.ErrorIs(t, err, frost.ErrKeyShareNotFound)

	blob := []byte{0xa1, 0x01, 0x02}
	require.NoError(t, store.Put(ctx, handle, blob))
	blob[0] = 0x00

	got, err := store.Get(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xa1, 0x01, 0x02}, got, "store must keep its own copy")

	got[1] = 0xff
	again, err := store.Get(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), again[1], "callers must not alias stored data")

	require.NoError(t, store.Put(ctx, handle, []byte{0x05}))
	got, err = store.Get(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x05}, got)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, store.Put(cancelled, handle, blob))
	_, err = store.Get(cancelled, handle)
	assert.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	exerciseStore(t, store)
	assert.Equal(t, 1, store.Len())
}

func TestBoltStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "keys.db")
	store, err := OpenBoltStore(path)
	require.NoError(t, err)
	exerciseStore(t, store)
	require.NoError(t, store.Close())

	// shares survive a restart
	reopened, err := OpenBoltStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Get(context.Background(), frost.KeyShareHandle(2, "epoch-1"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x05}, got)

	assert.Error(t, reopened.Put(context.Background(), "", []byte{1}))
}

func TestKeyShareHandle(t *testing.T) {
	a := frost.KeyShareHandle(1, "epoch-1")
	assert.Len(t, a, 64)
	assert.Equal(t, a, frost.KeyShareHandle(1, "epoch-1"))
	assert.NotEqual(t, a, frost.KeyShareHandle(2, "epoch-1"))
	assert.NotEqual(t, a, frost.KeyShareHandle(1, "epoch-2"))
}
