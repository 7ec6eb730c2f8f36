package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/raffis/importer/pkg/importer"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

const (
	DefaultTTL = time.Hour

	// MinTTL is the smallest expiry redis accepts for a key.
	MinTTL = time.Millisecond
)

var (
	releaseScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

	refreshScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)
)

// RedisLocker locks keys in redis so runs are excluded across hosts.
// Each lock holds a random token and expires after the ttl unless it is refreshed by its holder.
type RedisLocker struct {
	client  goredis.UniversalClient
	ttl     time.Duration
	retries uint64
	backoff time.Duration
	logger  logr.Logger
}

type RedisOption func(*RedisLocker)

func WithTTL(ttl time.Duration) RedisOption {
	return func(l *RedisLocker) {
		l.ttl = ttl
	}
}

// WithRetry retries failed redis commands with an exponential backoff.
func WithRetry(retries uint64, backoff time.Duration) RedisOption {
	return func(l *RedisLocker) {
		l.retries = retries
		l.backoff = backoff
	}
}

func WithLogger(logger logr.Logger) RedisOption {
	return func(l *RedisLocker) {
		l.logger = logger
	}
}

func NewRedisLocker(client goredis.UniversalClient, opts ...RedisOption) *RedisLocker {
	l := &RedisLocker{
		client:  client,
		ttl:     DefaultTTL,
		retries: 3,
		backoff: 50 * time.Millisecond,
		logger:  logr.Discard(),
	}

	for _, o := range opts {
		o(l)
	}

	switch {
	case l.ttl <= 0:
		l.ttl = DefaultTTL
	case l.ttl < MinTTL:
		l.ttl = MinTTL
	}

	return l
}

func (l *RedisLocker) TryAcquire(ctx context.Context, key string) (importer.Lock, bool, error) {
	token := uuid.NewString()
	var acquired bool

	err := l.do(ctx, func(ctx context.Context) error {
		var err error
		acquired, err = l.client.SetNX(ctx, key, token, l.ttl).Result()
		return err
	})

	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire redis lock %q: %w", key, err)
	}

	if !acquired {
		return nil, false, nil
	}

	lock := &redisLock{
		locker: l,
		key:    key,
		token:  token,
		done:   make(chan struct{}),
	}

	go lock.keepalive()
	return lock, true, nil
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}

func (l *RedisLocker) do(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(l.retries, retry.NewExponential(l.backoff))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		default:
			return retry.RetryableError(err)
		}
	})
}

type redisLock struct {
	locker *RedisLocker
	key    string
	token  string
	done   chan struct{}
	once   sync.Once
}

// keepalive extends the expiry while the lock is held.
func (l *redisLock) keepalive() {
	ticker := time.NewTicker(l.locker.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			err := refreshScript.Run(context.Background(), l.locker.client, []string{l.key}, l.token, l.locker.ttl.Milliseconds()).Err()
			if err != nil {
				l.locker.logger.Error(err, "failed to refresh redis lock", "key", l.key)
			}
		}
	}
}

func (l *redisLock) Release(ctx context.Context) error {
	var err error

	l.once.Do(func() {
		close(l.done)

		err = l.locker.do(ctx, func(ctx context.Context) error {
			return releaseScript.Run(ctx, l.locker.client, []string{l.key}, l.token).Err()
		})
	})

	if err != nil {
		return fmt.Errorf("failed to release redis lock %q: %w", l.key, err)
	}

	return nil
}
