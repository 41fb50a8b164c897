package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"go.uber.org/zap"

	"github.com/noah-isme/hostel-permit-api/pkg/config"
	appErrors "github.com/noah-isme/hostel-permit-api/pkg/errors"
)

// Locker hands out short lived redis locks keyed by resource.
type Locker struct {
	client *redislock.Client
	ttl    time.Duration
	retry  redislock.RetryStrategy
	logger *zap.Logger
}

// NewLocker wraps a redis client. Callers pass nil to run without locking.
func NewLocker(client redislock.RedisClient, cfg config.LockConfig, logger *zap.Logger) *Locker {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	every := cfg.RetryEvery
	if every <= 0 {
		every = 100 * time.Millisecond
	}
	retry := redislock.NoRetry()
	if cfg.MaxRetries > 0 {
		retry = redislock.LimitRetry(redislock.LinearBackoff(every), cfg.MaxRetries)
	}
	return &Locker{client: redislock.New(client), ttl: ttl, retry: retry, logger: logger}
}

// Acquire obtains the lock for key and returns its release func. A nil Locker
// grants every lock. When the lock stays held past the retry budget the error
// is ErrLockNotObtained.
func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	if l == nil {
		return func() {}, nil
	}
	lock, err := l.client.Obtain(ctx, "lock:"+key, l.ttl, &redislock.Options{RetryStrategy: l.retry})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, appErrors.Clone(appErrors.ErrLockNotObtained, fmt.Sprintf("%s is locked", key))
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return func() {
		// release with a fresh context so a cancelled request still frees the key
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.logger.Warn("release lock failed", zap.String("key", key), zap.Error(err))
		}
	}, nil
}
