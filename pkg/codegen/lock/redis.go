package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const defaultRedisLockTTL = 30 * time.Second

// releaseScript deletes the key only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// refreshScript extends the key's expiry only while it still holds our token
var refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLock locks a path with SET NX PX so that servers on different hosts
// sharing an output directory exclude each other. The TTL bounds how long a
// crashed holder blocks others; a live holder extends it every TTL/3.
type RedisLock struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLock creates a Redis backed lock
func NewRedisLock(client *redis.Client, prefix string, ttl time.Duration) *RedisLock {
	if prefix == "" {
		prefix = "canopy:lock"
	}
	if ttl <= 0 {
		ttl = defaultRedisLockTTL
	}
	return &RedisLock{client: client, prefix: prefix, ttl: ttl}
}

// NewRedisLockFromURL connects to redisURL and checks the connection
func NewRedisLockFromURL(ctx context.Context, redisURL, prefix string, ttl time.Duration) (*RedisLock, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisLock(client, prefix, ttl), nil
}

// Lock implements ExternalLock
func (l *RedisLock) Lock(ctx context.Context, path string, policy RetryPolicy) (Unlocker, error) {
	key := l.key(path)
	return retry(ctx, path, policy, func() (Unlocker, error) {
		token := uuid.NewString()
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis setnx failed: %w", err)
		}
		if !ok {
			return nil, errLocked
		}
		hb := startHeartbeat(l.ttl/3, func(ctx context.Context) error {
			return l.refresh(ctx, key, token)
		})
		return UnlockFunc(func(ctx context.Context) error {
			hb.stop()
			if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
				return fmt.Errorf("redis unlock failed: %w", err)
			}
			return nil
		}), nil
	})
}

func (l *RedisLock) refresh(ctx context.Context, key, token string) error {
	n, err := refreshScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redis lock refresh failed: %w", err)
	}
	if n == 0 {
		return errLost
	}
	return nil
}

// Close closes the underlying client
func (l *RedisLock) Close() error {
	return l.client.Close()
}

// Ping checks the Redis connection, for readiness probes
func (l *RedisLock) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Client exposes the Redis client for health checks
func (l *RedisLock) Client() *redis.Client {
	return l.client
}

func (l *RedisLock) key(path string) string {
	return fmt.Sprintf("%s:%s", l.prefix, path)
}
