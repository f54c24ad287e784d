// Package resilience provides fault tolerance patterns
package resilience

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/GriffinCanCode/insight-capsule/internal/errs"
)

// Retry configuration constants
const (
	DefaultMaxRetries   = 2
	DefaultBaseDelay    = 500 * time.Millisecond
	DefaultMaxDelay     = 10 * time.Second
	DefaultJitterFactor = 0.2 // 20% jitter
)

// Config holds retry settings. A zero BaseDelay means attempts are issued
// back to back with no backoff, which is what the generation path wants:
// call volume is low and the attempt budget is the only bound.
type Config struct {
	MaxRetries  int // additional attempts after the first; total = MaxRetries+1
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
	IsRetryable func(error) bool // nil retries every error
}

// Immediate returns a no-backoff config with the given retry budget.
func Immediate(maxRetries int) Config {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return Config{MaxRetries: maxRetries}
}

// Backoff returns exponential-backoff settings for flaky network services.
func Backoff() Config {
	return Config{
		MaxRetries:  DefaultMaxRetries,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Jitter:      DefaultJitterFactor,
		IsRetryable: errs.IsRetryable,
	}
}

// Retry executes fn up to MaxRetries+1 times. Returns the last error if all
// attempts fail. The attempt index (0-based) is passed to fn for logging.
func Retry(ctx context.Context, cfg Config, fn func(attempt int) error) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if lastErr = fn(attempt); lastErr == nil {
			return nil
		}

		if cfg.IsRetryable != nil && !cfg.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxRetries {
			return lastErr
		}

		delay := backoffDelay(cfg, attempt)
		slog.Debug("retrying after error", "attempt", attempt+1, "max", cfg.MaxRetries, "delay", delay, "error", lastErr)
		if delay <= 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// RetryResult runs fn with retry, returning its value.
func RetryResult[T any](ctx context.Context, cfg Config, fn func(attempt int) (T, error)) (T, error) {
	var result T
	err := Retry(ctx, cfg, func(attempt int) error {
		var fnErr error
		result, fnErr = fn(attempt)
		return fnErr
	})
	return result, err
}

// backoffDelay calculates exponential backoff with jitter.
func backoffDelay(cfg Config, attempt int) time.Duration {
	if cfg.BaseDelay <= 0 {
		return 0
	}
	delay := cfg.BaseDelay << min(attempt, 6) // cap shift to prevent overflow
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	jitter := float64(delay) * cfg.Jitter * (rand.Float64() - 0.5)
	return time.Duration(float64(delay) + jitter)
}
