package authstate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const memTestSession = "channel-1"

func TestMemoryStore_LoadAbsent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	blob, err := store.Load(ctx, memTestSession)
	require.NoError(t, err)
	assert.Nil(t, blob)
}

func TestMemoryStore_SaveAndLoad(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, memTestSession, []byte("creds-v1")))

	blob, err := store.Load(ctx, memTestSession)
	require.NoError(t, err)
	assert.Equal(t, []byte("creds-v1"), blob)
}

func TestMemoryStore_SaveLastWriteWins(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, memTestSession, []byte("creds-v1")))
	require.NoError(t, store.Save(ctx, memTestSession, []byte("creds-v2")))

	blob, err := store.Load(ctx, memTestSession)
	require.NoError(t, err)
	assert.Equal(t, []byte("creds-v2"), blob)
}

func TestMemoryStore_LoadReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, memTestSession, []byte("creds-v1")))

	blob, err := store.Load(ctx, memTestSession)
	require.NoError(t, err)
	blob[0] = 'X'

	again, err := store.Load(ctx, memTestSession)
	require.NoError(t, err)
	assert.Equal(t, []byte("creds-v1"), again)
}

func TestMemoryStore_DeleteIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, memTestSession, []byte("creds-v1")))
	require.NoError(t, store.Delete(ctx, memTestSession))
	require.NoError(t, store.Delete(ctx, memTestSession))

	blob, err := store.Load(ctx, memTestSession)
	require.NoError(t, err)
	assert.Nil(t, blob)
}

func TestMemoryStore_ListSessionIDs(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ids, err := store.ListSessionIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, store.Save(ctx, "channel-b", []byte("b")))
	require.NoError(t, store.Save(ctx, "channel-a", []byte("a")))

	ids, err = store.ListSessionIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"channel-a", "channel-b"}, ids)
}
