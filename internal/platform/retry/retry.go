// Package retry provides a small exponential-backoff retry helper for
// external calls.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Config controls backoff behavior.
type Config struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
}

// Default returns sane defaults for a single retry against a flaky
// external dependency.
func Default() Config {
	return Config{
		MaxAttempts:   2,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}
}

// Do executes fn up to cfg.MaxAttempts times, backing off between
// attempts. It returns the last error if every attempt failed, or nil on
// the first success. It respects ctx cancellation between attempts.
func Do(ctx context.Context, cfg Config, fn func(attempt int) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	// InitialDelay 0 means retry immediately; only a negative value is
	// treated as unset.
	delay := cfg.InitialDelay
	if delay < 0 {
		delay = Default().InitialDelay
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := fn(attempt); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		wait := delay
		if cfg.Jitter {
			wait = time.Duration(float64(wait) * (0.5 + rand.Float64()*0.5))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		delay = time.Duration(math.Min(float64(cfg.MaxDelay), float64(delay)*cfg.BackoffFactor))
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return lastErr
}
