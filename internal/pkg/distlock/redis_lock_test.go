package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestRedisLockAcquireRelease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	a := NewRedisLock(client, "poll-cycle", time.Minute)
	ok, err := a.Acquire(ctx)
	assert.NoError(t, err)
	assert.True(t, ok)

	// second holder is refused while the first owns the key
	b := NewRedisLock(client, "poll-cycle", time.Minute)
	ok, err = b.Acquire(ctx)
	assert.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, a.Release(ctx))
	ok, err = b.Acquire(ctx)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockReleaseOnlyIfOwned(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	a := NewRedisLock(client, "poll-cycle", time.Minute)
	b := NewRedisLock(client, "poll-cycle", time.Minute)

	ok, _ := a.Acquire(ctx)
	assert.True(t, ok)

	// b never acquired, so releasing must not free a's lock
	assert.NoError(t, b.Release(ctx))
	ok, _ = b.Acquire(ctx)
	assert.False(t, ok)
}
