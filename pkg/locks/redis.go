// Package locks provides cross-process engine.KeyLocker implementations.
package locks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/declabill/declabill/pkg/engine"
)

const (
	// DefaultTTL bounds how long a crashed holder blocks a key.
	DefaultTTL = 30 * time.Second

	// DefaultRetryInterval is the pause between obtain attempts.
	DefaultRetryInterval = 100 * time.Millisecond

	// DefaultPrefix namespaces lock keys in a shared redis.
	DefaultPrefix = "declabill:lock:"
)

// RedisConfig configures a RedisLocker. Zero values use the defaults.
type RedisConfig struct {
	TTL           time.Duration
	RetryInterval time.Duration
	Prefix        string
}

// RedisLocker serializes finsert and upsert calls sharing a unique key
// across processes. Every process pointed at the same provider account must
// use the same redis and prefix.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	retry  time.Duration
	prefix string
}

// NewRedisLocker creates a locker over an existing redis client.
func NewRedisLocker(rdb redis.UniversalClient, cfg RedisConfig) *RedisLocker {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	return &RedisLocker{
		client: redislock.New(rdb),
		ttl:    cfg.TTL,
		retry:  cfg.RetryInterval,
		prefix: cfg.Prefix,
	}
}

// Dial connects to the redis at url ("redis://host:port/db" or a bare
// host:port) and checks it answers.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		opts = &redis.Options{Addr: url}
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	return rdb, nil
}

// Lock implements engine.KeyLocker. It retries until the key is free or
// ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(context.Context) error, error) {
	lock, err := l.client.Obtain(ctx, l.prefix+key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(l.retry),
	})
	switch {
	case errors.Is(err, redislock.ErrNotObtained):
		return nil, engine.NewTransientError("lock not obtained before the deadline", err).
			WithCode(engine.ErrCodeLockFailed).WithResource(key)
	case err != nil:
		return nil, engine.NewTransientError("failed to obtain lock", err).
			WithCode(engine.ErrCodeLockFailed).WithResource(key)
	}

	log.Ctx(ctx).Debug().Str("key", key).Dur("ttl", l.ttl).Msg("Key lock obtained")

	return func(ctx context.Context) error {
		err := lock.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			// Expired while held: another writer may have run concurrently.
			log.Ctx(ctx).Warn().Str("key", key).Dur("ttl", l.ttl).Msg("Key lock expired before release")
			return nil
		}
		return err
	}, nil
}
