package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrNotAcquired is returned when a lock could not be taken before the
// context ended.
var ErrNotAcquired = errors.New("lock: not acquired")

// Locker serialises work on a key. Acquire blocks until the lock is held or
// ctx is done; the returned func releases it.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// ---------------------------------------------------------------------------
// Redis
// ---------------------------------------------------------------------------

// unlockScript deletes the key only when it still holds our token, so a lock
// that expired and was taken by another worker is left alone.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// extendScript resets the expiry only while the key still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// RedisLocker holds locks as Redis keys with an expiry, shared by every
// worker using the same Redis. A held lock is extended every ttl/3 until it
// is released.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
	renew  time.Duration
	logger zerolog.Logger
}

func NewRedisLocker(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{
		client: client,
		prefix: "elisfeed:lock:",
		ttl:    ttl,
		retry:  50 * time.Millisecond,
		renew:  ttl / 3,
		logger: logger.With().Str("component", "lock").Logger(),
	}
}

// TryLock makes one attempt to take the lock. On success it returns the
// token that owns it.
func (l *RedisLocker) TryLock(ctx context.Context, key string) (bool, string, error) {
	token := uuid.NewString()
	acquired, err := l.client.SetNX(ctx, l.prefix+key, token, l.ttl).Result()
	if err != nil {
		return false, "", fmt.Errorf("lock %s: %w", key, err)
	}
	if !acquired {
		return false, "", nil
	}
	return true, token, nil
}

// Unlock releases the lock if token still owns it.
func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	if err := unlockScript.Run(ctx, l.client, []string{l.prefix + key}, token).Err(); err != nil {
		return fmt.Errorf("unlock %s: %w", key, err)
	}
	return nil
}

// Extend resets the lock's expiry to the full ttl. It returns false when
// token no longer owns the lock.
func (l *RedisLocker) Extend(ctx context.Context, key, token string) (bool, error) {
	n, err := extendScript.Run(ctx, l.client, []string{l.prefix + key}, token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("extend %s: %w", key, err)
	}
	return n == 1, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		ok, token, err := l.TryLock(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			stop := make(chan struct{})
			done := make(chan struct{})
			go l.keepAlive(key, token, stop, done)

			var once sync.Once
			return func() {
				once.Do(func() {
					close(stop)
					<-done
					// Release even when the caller's context is already cancelled.
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := l.Unlock(ctx, key, token); err != nil {
						l.logger.Error().Err(err).Str("key", key).Msg("failed to release lock")
					}
				})
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
		case <-ticker.C:
		}
	}
}

// keepAlive extends the lock until stop is closed or the lock is lost.
func (l *RedisLocker) keepAlive(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.renew)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), l.renew)
		ok, err := l.Extend(ctx, key, token)
		cancel()
		if err != nil {
			l.logger.Warn().Err(err).Str("key", key).Msg("failed to extend lock")
			continue
		}
		if !ok {
			l.logger.Error().Str("key", key).Msg("lock lost before release")
			return
		}
	}
}

// ---------------------------------------------------------------------------
// In-process
// ---------------------------------------------------------------------------

// LocalLocker serialises work within one process.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]chan struct{})}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	for {
		l.mu.Lock()
		held, busy := l.locks[key]
		if !busy {
			ch := make(chan struct{})
			l.locks[key] = ch
			l.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.locks, key)
					l.mu.Unlock()
					close(ch)
				})
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
		case <-held:
		}
	}
}
