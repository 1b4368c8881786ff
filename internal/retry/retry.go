// Package retry runs an operation with bounded attempts and exponential backoff.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Config bounds a retried operation. MaxRetries is the total number of invocations.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Jitter is the fraction of the exponential delay added or removed at random (0.2 = ±20%).
	Jitter float64
}

// DefaultConfig returns 3 attempts with 1s base delay capped at 8s.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   8 * time.Second,
		Jitter:     0.2,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxRetries < 1 {
		c.MaxRetries = d.MaxRetries
	}
	if c.BaseDelay < 0 {
		c.BaseDelay = 0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	if c.Jitter > 1 {
		c.Jitter = 1
	}
	return c
}

// Observer is notified before each retry with the 1-based attempt that failed.
type Observer func(attempt int, err error)

type options struct {
	retryIf  func(error) bool
	observer Observer
	sleep    func(ctx context.Context, d time.Duration) error
	random   func() float64
}

// Option configures a single Do call.
type Option func(*options)

// WithRetryIf limits retries to errors accepted by pred; others are returned immediately.
func WithRetryIf(pred func(error) bool) Option {
	return func(o *options) { o.retryIf = pred }
}

// WithObserver registers a callback run once per retry.
func WithObserver(fn Observer) Option {
	return func(o *options) { o.observer = fn }
}

// WithSleep replaces the backoff sleep. Tests use it to record delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) { o.sleep = fn }
}

// WithRand replaces the jitter source; fn must return values in [0, 1).
func WithRand(fn func() float64) Option {
	return func(o *options) { o.random = fn }
}

// Do invokes op until it succeeds, the error is not retryable, attempts run out or ctx ends.
// The last error is returned on exhaustion.
func Do[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	cfg = cfg.withDefaults()
	o := options{sleep: sleepCtx, random: rand.Float64}
	for _, opt := range opts {
		opt(&o)
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, errors.Join(lastErr, err)
			}
			return zero, err
		}

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if o.retryIf != nil && !o.retryIf(err) {
			return zero, err
		}
		if attempt == cfg.MaxRetries-1 {
			break
		}
		if o.observer != nil {
			o.observer(attempt+1, err)
		}
		if err := o.sleep(ctx, Backoff(cfg, attempt, o.random)); err != nil {
			return zero, errors.Join(lastErr, err)
		}
	}
	return zero, lastErr
}

// Run is Do for operations without a result.
func Run(ctx context.Context, cfg Config, op func(ctx context.Context) error, opts ...Option) error {
	_, err := Do(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts...)
	return err
}

// Backoff returns the delay after the 0-based failed attempt: min(base*2^attempt ± jitter, max).
func Backoff(cfg Config, attempt int, random func() float64) time.Duration {
	cfg = cfg.withDefaults()
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	if cfg.BaseDelay == 0 {
		return 0
	}
	exp := cfg.BaseDelay << attempt
	if exp <= 0 || exp > cfg.MaxDelay {
		exp = cfg.MaxDelay
	}
	d := exp
	if cfg.Jitter > 0 && random != nil {
		span := float64(exp) * cfg.Jitter
		d = exp + time.Duration((random()*2-1)*span)
	}
	if d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	if d < 0 {
		d = 0
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
