package bbolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func newTestBackend(t *testing.T, bucket string) *Backend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	b, err := NewBackendFromFile(path, bucket, nil)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBackend_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, "")

	_, ok, err := b.Get(ctx, "client_token")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Set(ctx, "client_token", "abc"))
	v, ok, err := b.Get(ctx, "client_token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", v)

	require.NoError(t, b.Delete(ctx, "client_token"))
	_, ok, err = b.Get(ctx, "client_token")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, b.Delete(ctx, "never-set"))
}

func TestBackend_EmptyValueIsPresent(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, "")

	require.NoError(t, b.Set(ctx, "auth_failure_count", ""))
	_, ok, err := b.Get(ctx, "auth_failure_count")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBackend_SharedDatabaseBuckets(t *testing.T) {
	ctx := context.Background()
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "shared.db"), 0600, nil)
	require.NoError(t, err)
	defer db.Close()

	a := NewBackend(db, "a")
	b := NewBackend(db, "b")
	require.NoError(t, a.Set(ctx, "auth_token", "a-token"))
	require.NoError(t, b.Set(ctx, "auth_token", "b-token"))

	v, _, _ := a.Get(ctx, "auth_token")
	assert.Equal(t, "a-token", v)

	keys, err := b.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"auth_token"}, keys)

	// Closing a non-owning backend leaves the db open
	require.NoError(t, a.Close())
	v, _, err = b.Get(ctx, "auth_token")
	require.NoError(t, err)
	assert.Equal(t, "b-token", v)
}

func TestBackend_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	b1, err := NewBackendFromFile(path, "shop", nil)
	require.NoError(t, err)
	require.NoError(t, b1.Set(ctx, "user", `{"id":"u1"}`))
	require.NoError(t, b1.Close())

	b2, err := NewBackendFromFile(path, "shop", nil)
	require.NoError(t, err)
	defer b2.Close()
	v, ok, err := b2.Get(ctx, "user")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"id":"u1"}`, v)
}
