package keylock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/okian/psyche/pkg/logger"
	"github.com/okian/psyche/pkg/metrics"
)

// Redis lock defaults.
const (
	DefaultLockTTL       = 10 * time.Second
	DefaultRetryInterval = 25 * time.Millisecond
	DefaultKeyPrefix     = "psyche:lock:"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock re-acquired by another process is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Redis is a Locker backed by SET NX PX. The TTL bounds how long a crashed
// holder can block others; it must exceed the longest critical section.
type Redis struct {
	client redis.Cmdable
	ttl    time.Duration
	retry  time.Duration
	prefix string
	log    logger.Logger
}

var _ Locker = (*Redis)(nil)

// RedisOption configures a Redis locker.
type RedisOption func(*Redis)

// WithTTL sets the lock expiry.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithRetryInterval sets the polling interval while a key is contended.
func WithRetryInterval(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.retry = d
		}
	}
}

// WithKeyPrefix namespaces lock keys.
func WithKeyPrefix(p string) RedisOption {
	return func(r *Redis) { r.prefix = p }
}

// WithLogger sets the logger used for release failures.
func WithLogger(l logger.Logger) RedisOption {
	return func(r *Redis) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRedis returns a distributed locker over client.
func NewRedis(client redis.Cmdable, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		ttl:    DefaultLockTTL,
		retry:  DefaultRetryInterval,
		prefix: DefaultKeyPrefix,
		log:    logger.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Lock polls SET NX until it wins the key or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	start := time.Now()
	k := r.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrLockTimeout, key, ctx.Err())
			}
			return nil, fmt.Errorf("%w: set %s: %w", ErrLockBackend, k, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", ErrLockTimeout, key, ctx.Err())
		case <-ticker.C:
		}
	}
	metrics.RecordLockWait("redis", float64(time.Since(start).Microseconds())/1000)

	var once sync.Once
	return func() {
		once.Do(func() { r.release(k, token) })
	}, nil
}

func (r *Redis) release(k, token string) {
	// The caller's ctx may already be cancelled; release on a fresh deadline.
	ctx, cancel := context.WithTimeout(context.Background(), r.ttl)
	defer cancel()
	err := releaseScript.Run(ctx, r.client, []string{k}, token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		r.log.Warn(ctx, "failed to release redis lock", logger.String("key", k), logger.Error(err))
	}
}
