// Package backoff provides exponential backoff and a small retry loop.
package backoff

import (
	"context"
	"errors"
	"math"
	"time"
)

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial time.Duration // default: 100ms
	Max     time.Duration // default: 5s
}

// Exponential calculates exponential backoff for a given attempt.
// Attempt 1 returns initial, attempt 2 returns initial*2, etc.
func Exponential(attempt int, cfg *Config) time.Duration {
	initial := 100 * time.Millisecond
	maxBackoff := 5 * time.Second
	if cfg != nil {
		if cfg.Initial > 0 {
			initial = cfg.Initial
		}
		if cfg.Max > 0 {
			maxBackoff = cfg.Max
		}
	}

	if attempt < 1 {
		return initial
	}
	d := float64(initial) * math.Pow(2.0, float64(attempt-1))
	if d > float64(maxBackoff) {
		d = float64(maxBackoff)
	}
	return time.Duration(d)
}

// Wait sleeps for the backoff of attempt or until ctx is done.
func Wait(ctx context.Context, attempt int, cfg *Config) error {
	timer := time.NewTimer(Exponential(attempt, cfg))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Permanent marks an error that Retry must not retry.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Retry calls fn up to retries+1 times, waiting Exponential(attempt) between
// calls. It stops early on success, on a Permanent error or when ctx is done.
// It returns the number of retries performed along with the last error.
func Retry(ctx context.Context, retries int, cfg *Config, fn func(ctx context.Context) error) (int, error) {
	var lastErr error
	for attempt := range retries + 1 {
		if attempt > 0 {
			if err := Wait(ctx, attempt, cfg); err != nil {
				return attempt - 1, err
			}
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return attempt, nil
		}
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return attempt, perm.err
		}
	}
	return retries, lastErr
}
