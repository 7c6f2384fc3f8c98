// Package retry wraps external calls with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// FatalError marks an error that must not be retried (authentication
// failure, malformed request). It propagates immediately through Do.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return "fatal: " + e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal wraps err so the retrier propagates it without retrying.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// ExternalServiceError aggregates an exhausted retry sequence, wrapping the
// last cause.
type ExternalServiceError struct {
	Attempts int
	Err      error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("external call failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// Config holds retry parameters.
type Config struct {
	MaxRetries int           // Retry attempts after the first call
	BaseDelay  time.Duration // Doubles each attempt
}

// DefaultConfig mirrors the production defaults: 3 retries, 2s base delay.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, BaseDelay: 2 * time.Second}
}

// Retryer executes operations with bounded exponential backoff.
type Retryer struct {
	cfg   Config
	log   zerolog.Logger
	sleep func(context.Context, time.Duration) error
}

// New creates a new retryer
func New(cfg Config, log zerolog.Logger) *Retryer {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	return &Retryer{
		cfg:   cfg,
		log:   log.With().Str("component", "retry").Logger(),
		sleep: sleepCtx,
	}
}

// Do runs op, retrying transient failures with delays of
// BaseDelay * 2^attempt. Fatal-classified errors propagate immediately.
// After MaxRetries retries are exhausted, the last cause is returned
// wrapped in an *ExternalServiceError. Context cancellation aborts the
// backoff wait and returns the context's error.
func (r *Retryer) Do(ctx context.Context, name string, op func() error) error {
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		err := op()
		if err == nil {
			return nil
		}

		var fatal *FatalError
		if errors.As(err, &fatal) {
			r.log.Error().Err(fatal.Err).Str("call", name).Msg("Fatal error, not retrying")
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = err

		if attempt < r.cfg.MaxRetries {
			delay := r.cfg.BaseDelay * (1 << attempt)
			r.log.Warn().
				Err(err).
				Str("call", name).
				Int("attempt", attempt+1).
				Int("max_attempts", r.cfg.MaxRetries+1).
				Dur("retry_in", delay).
				Msg("Transient error, retrying")
			if err := r.sleep(ctx, delay); err != nil {
				return err
			}
		} else {
			r.log.Error().
				Err(err).
				Str("call", name).
				Int("attempts", r.cfg.MaxRetries+1).
				Msg("All attempts failed")
		}
	}

	return &ExternalServiceError{Attempts: r.cfg.MaxRetries + 1, Err: lastErr}
}

// IsTransient reports whether an error looks like a transient network
// failure. Callers mostly classify explicitly via Fatal; this exists for
// boundaries that only surface raw transport errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
