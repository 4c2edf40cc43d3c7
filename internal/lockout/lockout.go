// Package lockout bounds failed facial verification attempts per claimed
// identity inside a cool-down window.
package lockout

import (
	"context"
	"strings"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/face-auth/internal/config"
)

// Limiter reserves verification attempts per key.
//
// An attempt is reserved before matching and stays counted when the match
// fails. Reserving and checking the bound happen in one step, so concurrent
// attempts never exceed the maximum. Every operation is idempotent per
// attempt ID and safe to retry.
type Limiter interface {
	// Acquire reserves attempt for key. It reports false, reserving
	// nothing, once key holds the maximum attempts for the current window.
	Acquire(ctx context.Context, key, attempt string) (bool, error)
	// Release drops a reservation whose attempt did not end in a failed match.
	Release(ctx context.Context, key, attempt string) error
	// Reset forgets every attempt recorded for key.
	Reset(ctx context.Context, key string) error
}

// New picks the limiter for cfg. A nil client keeps counters in process.
func New(cfg config.LockoutConfig, client *redis.Client, logger *zap.Logger) Limiter {
	if cfg.MaxAttempts <= 0 {
		return Disabled{}
	}
	if client != nil {
		return NewRedisLimiter(client, cfg.MaxAttempts, cfg.Window, logger)
	}
	return NewMemoryLimiter(cfg.MaxAttempts, cfg.Window)
}

// Disabled allows every attempt.
type Disabled struct{}

func (Disabled) Acquire(context.Context, string, string) (bool, error) { return true, nil }
func (Disabled) Release(context.Context, string, string) error         { return nil }
func (Disabled) Reset(context.Context, string) error                   { return nil }

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
