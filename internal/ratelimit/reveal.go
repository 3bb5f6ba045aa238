package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/backoffice/internal/config"
)

const keyVaultReveal = "backoffice:ratelimit:vault_reveal:%s"

var ErrRateLimited = errors.New("rate_limited")

// RevealLimiter throttles vault secret reveals per actor. A nil limiter
// allows everything.
type RevealLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

// NewRevealLimiter returns nil when redis is not configured or the limit is
// disabled with a non-positive rate.
func NewRevealLimiter(client redis.UniversalClient, cfg config.Config) *RevealLimiter {
	if client == nil || cfg.VaultRevealPerMinute <= 0 {
		return nil
	}
	burst := cfg.VaultRevealBurst
	if burst <= 0 {
		burst = 1
	}
	return &RevealLimiter{
		bucket: NewTokenBucket(client),
		rate:   float64(cfg.VaultRevealPerMinute) / 60,
		burst:  burst,
	}
}

// Allow consumes one reveal for actorKey. The returned error wraps
// ErrRateLimited when the bucket is empty.
func (l *RevealLimiter) Allow(ctx context.Context, actorKey string) error {
	if l == nil {
		return nil
	}
	res, err := l.bucket.Allow(ctx, fmt.Sprintf(keyVaultReveal, actorKey), l.rate, l.burst)
	if err != nil {
		return err
	}
	if !res.Allowed {
		return fmt.Errorf("%w: retry after %s", ErrRateLimited, res.RetryAfter.Round(time.Second))
	}
	return nil
}
