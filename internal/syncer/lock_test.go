package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLock(t *testing.T) (*miniredis.Miniredis, *RunLock) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return mr, NewRunLock(client, time.Minute)
}

func TestRunLock_AcquireAndRelease(t *testing.T) {
	_, lock := setupLock(t)
	ctx := context.Background()

	token, err := lock.Acquire(ctx, "tenant-1", "source-1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	// 持有期间再抢：非阻塞直接拒绝
	_, err = lock.Acquire(ctx, "tenant-1", "source-1")
	assert.ErrorIs(t, err, ErrLockHeld)

	// 其他 (tenant, source) 不受影响
	other, err := lock.Acquire(ctx, "tenant-1", "source-2")
	require.NoError(t, err)
	require.NotEmpty(t, other)

	require.NoError(t, lock.Release(ctx, "tenant-1", "source-1", token))
	_, err = lock.Acquire(ctx, "tenant-1", "source-1")
	assert.NoError(t, err)
}

func TestRunLock_ReleaseWrongTokenKeepsLock(t *testing.T) {
	_, lock := setupLock(t)
	ctx := context.Background()

	token, err := lock.Acquire(ctx, "tenant-1", "source-1")
	require.NoError(t, err)

	// 坏 token 释放不动锁
	require.NoError(t, lock.Release(ctx, "tenant-1", "source-1", "stale-token"))
	_, err = lock.Acquire(ctx, "tenant-1", "source-1")
	assert.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, lock.Release(ctx, "tenant-1", "source-1", token))
}

func TestRunLock_TTLRecoversFromCrash(t *testing.T) {
	mr, lock := setupLock(t)
	ctx := context.Background()

	_, err := lock.Acquire(ctx, "tenant-1", "source-1")
	require.NoError(t, err)

	// 持有进程崩溃不 Release：TTL 过后可重新持有
	mr.FastForward(2 * time.Minute)
	_, err = lock.Acquire(ctx, "tenant-1", "source-1")
	assert.NoError(t, err)
}

func TestRunLock_ReleaseIdempotentWhenExpired(t *testing.T) {
	mr, lock := setupLock(t)
	ctx := context.Background()

	token, err := lock.Acquire(ctx, "tenant-1", "source-1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)
	assert.NoError(t, lock.Release(ctx, "tenant-1", "source-1", token))
}
