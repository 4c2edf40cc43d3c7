package lockout

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/face-auth/internal/logging"
)

const keyPrefix = "lockout:"

// RedisLimiter shares attempt sets between serve replicas through redis.
type RedisLimiter struct {
	client         *redis.Client
	max            int
	window         time.Duration
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewRedisLimiter constructs a redis-backed limiter.
func NewRedisLimiter(client *redis.Client, maxAttempts int, window time.Duration, logger *zap.Logger) *RedisLimiter {
	return &RedisLimiter{
		client:         client,
		max:            maxAttempts,
		window:         window,
		logger:         logger.Named("lockout"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// acquireScript reserves ARGV[1] in the attempt set at KEYS[1] unless the set
// already holds ARGV[2] members. The window TTL (ARGV[3], ms) is set in the
// same call, and a repeated attempt ID is a no-op.
var acquireScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 1 then
	return 1
end
if redis.call('SCARD', KEYS[1]) >= tonumber(ARGV[2]) then
	return 0
end
redis.call('SADD', KEYS[1], ARGV[1])
if redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

func (r *RedisLimiter) Acquire(ctx context.Context, key, attempt string) (bool, error) {
	var reserved int
	err := r.withRetry(ctx, "lockout.acquire", func() error {
		var err error
		reserved, err = acquireScript.Run(ctx, r.client, []string{keyPrefix + normalizeKey(key)},
			attempt, r.max, r.window.Milliseconds()).Int()
		return err
	})
	if err != nil {
		return false, err
	}
	return reserved == 1, nil
}

func (r *RedisLimiter) Release(ctx context.Context, key, attempt string) error {
	return r.withRetry(ctx, "lockout.release", func() error {
		return r.client.SRem(ctx, keyPrefix+normalizeKey(key), attempt).Err()
	})
}

func (r *RedisLimiter) Reset(ctx context.Context, key string) error {
	return r.withRetry(ctx, "lockout.reset", func() error {
		return r.client.Del(ctx, keyPrefix+normalizeKey(key)).Err()
	})
}

func (r *RedisLimiter) withRetry(ctx context.Context, operation string, fn func() error) error {
	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, "")
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, "", ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !logging.IsTransient(err) || attempt == r.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, "", err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, "", err)
}
