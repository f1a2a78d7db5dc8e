// Package retry runs an operation with exponential backoff while it keeps
// failing with a retryable error. The store uses it to ride out SQLITE_BUSY
// when several processes begin write transactions on the same database.
//
//	err := retry.Do(ctx, retry.Config{MaxRetries: 5, InitialBackoff: 10 * time.Millisecond},
//	    func() error { return beginTx() },
//	    isBusy)
package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Config defines the backoff schedule.
type Config struct {
	// MaxRetries is the number of attempts, including the first one.
	MaxRetries int

	// InitialBackoff is the wait before the second attempt; each further
	// attempt doubles it.
	InitialBackoff time.Duration

	// MaxBackoff caps a single wait. Zero means uncapped.
	MaxBackoff time.Duration

	// Jitter in [0, 1] stretches later waits by up to that fraction so that
	// competing writers do not retry in lockstep.
	Jitter float64
}

// DefaultConfig is tuned for lock contention on a local database file.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     10,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
		Jitter:         0.1,
	}
}

// ShouldRetryFunc reports whether err is transient. A nil func retries every
// error.
type ShouldRetryFunc func(error) bool

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// run out, or ctx is done.
func Do(ctx context.Context, cfg Config, fn func() error, shouldRetry ShouldRetryFunc) error {
	attempts := max(cfg.MaxRetries, 1)

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(backoff(cfg, attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

// backoff returns InitialBackoff * 2^(attempt-1), capped, plus a jitter that
// grows linearly with the attempt number.
func backoff(cfg Config, attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt-1)) * float64(cfg.InitialBackoff))
	if cfg.MaxBackoff > 0 && d > cfg.MaxBackoff {
		d = cfg.MaxBackoff
	}
	if cfg.Jitter > 0 && cfg.MaxRetries > 0 {
		d += time.Duration(float64(d) * cfg.Jitter * float64(attempt) / float64(cfg.MaxRetries))
	}
	return d
}
