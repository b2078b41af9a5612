// Package lock provides a Redis lease that serializes distribution cycles
// across worker processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultTTL       = 10 * time.Minute
	defaultRetryWait = 500 * time.Millisecond
)

var releaseLeaseScript = goredis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
  return redis.call('del', KEYS[1])
else
  return 0
end
`)

// ErrLeaseLost indicates the lease expired or was taken over before release
var ErrLeaseLost = errors.New("lease lost before release")

// RedisLocker implements simplevideo.Locker with SET NX leases
type RedisLocker struct {
	client    goredis.UniversalClient
	prefix    string
	ttl       time.Duration
	retryWait time.Duration
}

// Option configures a RedisLocker
type Option func(*RedisLocker)

// WithTTL bounds how long a crashed holder blocks others
func WithTTL(ttl time.Duration) Option {
	return func(l *RedisLocker) {
		l.ttl = ttl
	}
}

// WithRetryWait sets the pause between acquisition attempts
func WithRetryWait(d time.Duration) Option {
	return func(l *RedisLocker) {
		l.retryWait = d
	}
}

// WithPrefix namespaces lease keys
func WithPrefix(prefix string) Option {
	return func(l *RedisLocker) {
		l.prefix = prefix
	}
}

// NewRedisLocker creates a locker over client
func NewRedisLocker(client goredis.UniversalClient, opts ...Option) *RedisLocker {
	l := &RedisLocker{
		client:    client,
		prefix:    "simplevideo:lock:",
		ttl:       defaultTTL,
		retryWait: defaultRetryWait,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewClientFromURL creates a Redis client from a redis:// URL and pings it
func NewClientFromURL(ctx context.Context, redisURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Lock blocks until the lease on name is acquired or ctx is done
func (l *RedisLocker) Lock(ctx context.Context, name string) (func(context.Context) error, error) {
	key := l.prefix + name
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lease %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(l.retryWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	release := func(ctx context.Context) error {
		n, err := releaseLeaseScript.Run(ctx, l.client, []string{key}, token).Int()
		if err != nil {
			return fmt.Errorf("release lease %s: %w", key, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrLeaseLost, key)
		}
		return nil
	}
	return release, nil
}
