package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: srv.Addr()})
}

func TestLockAcquireRelease(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	lock := NewLock(client, "decl:1:2025-03", "holder-a", time.Minute)
	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// A second holder cannot take the same key.
	other := NewLock(client, "decl:1:2025-03", "holder-b", time.Minute)
	ok, err = other.Acquire(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, lock.Release(ctx))
	ok, err = other.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLockReleaseOnlyByOwner(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	lock := NewLock(client, "decl:1:2025-03", "holder-a", time.Minute)
	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// A stale holder releasing after losing the key must not drop the
	// current owner's lock.
	stale := NewLock(client, "decl:1:2025-03", "holder-b", time.Minute)
	require.NoError(t, stale.Release(ctx))

	taken := NewLock(client, "decl:1:2025-03", "holder-c", time.Minute)
	ok, err = taken.Acquire(ctx)
	require.NoError(t, err)
	require.False(t, ok, "owner's lock survives a foreign release")
}
