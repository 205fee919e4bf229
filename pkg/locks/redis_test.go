package locks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/declabill/declabill/pkg/engine"
)

func newLocker(t *testing.T, cfg RedisConfig) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	cfg.RetryInterval = 5 * time.Millisecond
	return NewRedisLocker(rdb, cfg), mr
}

func TestRedisLockerExclusive(t *testing.T) {
	l, mr := newLocker(t, RedisConfig{})
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "customer/a@b.c")
	require.NoError(t, err)
	assert.True(t, mr.Exists(DefaultPrefix+"customer/a@b.c"))

	t.Run("second holder times out", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err := l.Lock(ctx, "customer/a@b.c")
		require.Error(t, err)
		var engErr *engine.EngineError
		require.True(t, errors.As(err, &engErr))
		assert.Equal(t, engine.ErrCodeLockFailed, engErr.Code)
		assert.True(t, engine.IsTransient(err))
	})

	t.Run("other keys are independent", func(t *testing.T) {
		other, err := l.Lock(ctx, "customer/b@b.c")
		require.NoError(t, err)
		require.NoError(t, other(ctx))
	})

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists(DefaultPrefix+"customer/a@b.c"))

	again, err := l.Lock(ctx, "customer/a@b.c")
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestRedisLockerMutualExclusion(t *testing.T) {
	l, _ := newLocker(t, RedisConfig{})
	var holders, maxHolders atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			unlock, err := l.Lock(ctx, "invoice/cus_1/inv-1")
			if !assert.NoError(t, err) {
				return
			}
			n := holders.Add(1)
			if n > maxHolders.Load() {
				maxHolders.Store(n)
			}
			time.Sleep(2 * time.Millisecond)
			holders.Add(-1)
			assert.NoError(t, unlock(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxHolders.Load())
}

func TestRedisLockerExpiredRelease(t *testing.T) {
	l, mr := newLocker(t, RedisConfig{TTL: time.Second, Prefix: "test:"})
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "product/p1")
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	next, err := l.Lock(ctx, "product/p1")
	require.NoError(t, err)

	assert.NoError(t, unlock(ctx), "releasing an expired lock is not an error")
	assert.True(t, mr.Exists("test:product/p1"), "the new holder keeps its lock")
	require.NoError(t, next(ctx))
}

func TestDial(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	for _, url := range []string{mr.Addr(), "redis://" + mr.Addr() + "/0"} {
		rdb, err := Dial(ctx, url)
		require.NoError(t, err, url)
		require.NoError(t, rdb.Close())
	}

	gone, err := miniredis.Run()
	require.NoError(t, err)
	addr := gone.Addr()
	gone.Close()
	_, err = Dial(ctx, addr)
	assert.Error(t, err)
}
