package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSObjectStore_PutGet(t *testing.T) {
	store, err := NewFSObjectStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	location, err := store.Put(ctx, "tenant-a/0000000000000007/raw", []byte("document bytes"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(location, "file://"))

	data, err := store.Get(ctx, location)
	require.NoError(t, err)
	assert.Equal(t, []byte("document bytes"), data)
}

func TestFSObjectStore_Overwrite(t *testing.T) {
	store, err := NewFSObjectStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = store.Put(ctx, "key", []byte("first"))
	require.NoError(t, err)
	location, err := store.Put(ctx, "key", []byte("second"))
	require.NoError(t, err)

	data, err := store.Get(ctx, location)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)
}

func TestFSObjectStore_BadKey(t *testing.T) {
	store, err := NewFSObjectStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = store.Put(ctx, "", []byte("data"))
	assert.Error(t, err)
	assert.False(t, IsRetryable(err))

	_, err = store.Put(ctx, "../escape", []byte("data"))
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestFSObjectStore_GetMissing(t *testing.T) {
	store, err := NewFSObjectStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "file:///does/not/exist")
	require.Error(t, err)
	assert.False(t, IsRetryable(err), "a missing object will never appear on retry")
}
