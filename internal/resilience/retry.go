package resilience

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/clinvox/clinvox/pkg/clinerr"
)

// RetryConfig tunes [Retry] and [RetryWithResult].
type RetryConfig struct {
	// MaxAttempts is the total number of tries including the first.
	// Default: 3.
	MaxAttempts int

	// BaseDelay is the backoff before the second attempt; it doubles per
	// attempt. Default: 1s.
	BaseDelay time.Duration

	// MaxDelay caps the backoff. Default: 10s.
	MaxDelay time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	return c
}

// Retry runs fn up to cfg.MaxAttempts times with jittered exponential backoff
// between attempts. Only errors [clinerr.IsRetryable] reports as transient are
// retried; anything else is returned immediately. op labels log lines.
func Retry(ctx context.Context, cfg RetryConfig, op string, fn func() error) error {
	_, err := RetryWithResult(ctx, cfg, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryWithResult is [Retry] for operations that return a value.
func RetryWithResult[R any](ctx context.Context, cfg RetryConfig, op string, fn func() (R, error)) (R, error) {
	cfg = cfg.withDefaults()
	var zero R
	for attempt := 1; ; attempt++ {
		res, err := fn()
		if err == nil {
			return res, nil
		}
		if attempt >= cfg.MaxAttempts || !clinerr.IsRetryable(err) {
			return zero, err
		}

		delay := backoffDelay(cfg, attempt)
		slog.Warn("transient provider error, backing off",
			"op", op, "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return zero, wrapCtxErr(ctx.Err(), op)
		case <-time.After(delay):
		}
	}
}

// backoffDelay returns the delay after the given attempt. The raw delay
// doubles per attempt up to MaxDelay; the returned value is drawn uniformly
// from [raw/2, raw] to spread synchronized retries.
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	raw := cfg.BaseDelay << (attempt - 1)
	if raw <= 0 || raw > cfg.MaxDelay {
		raw = cfg.MaxDelay
	}
	half := raw / 2
	return half + rand.N(raw-half+1)
}

func wrapCtxErr(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return clinerr.Wrap(clinerr.KindTimeout, err, op)
	}
	return clinerr.Wrap(clinerr.KindCancelled, err, op)
}
