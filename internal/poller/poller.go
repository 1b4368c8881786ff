// Package poller waits for a document job to reach a terminal status.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/cv-screener/internal/common"
	"github.com/joseph-ayodele/cv-screener/internal/entity"
	"github.com/joseph-ayodele/cv-screener/internal/retry"
)

const (
	DefaultInterval    = 1500 * time.Millisecond
	DefaultMaxAttempts = 30

	minInterval = time.Second
	maxInterval = 2 * time.Second
)

// Querier fetches the current status of a job.
type Querier interface {
	Status(ctx context.Context, id string) (entity.StatusView, error)
}

// QuerierFunc adapts a function to Querier.
type QuerierFunc func(ctx context.Context, id string) (entity.StatusView, error)

func (f QuerierFunc) Status(ctx context.Context, id string) (entity.StatusView, error) { return f(ctx, id) }

type Config struct {
	// Interval between polls, clamped to [1s, 2s].
	Interval    time.Duration
	MaxAttempts int
	// Retry bounds each individual status query.
	Retry retry.Config
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	c.Interval = min(max(c.Interval, minInterval), maxInterval)
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return c
}

type Poller struct {
	q        Querier
	cfg      Config
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	progress func(attempt int, v entity.StatusView)
}

type Option func(*Poller)

func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithSleep replaces the wait between polls and between query retries.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Poller) { p.sleep = fn }
}

// WithProgress is called after every successful non-terminal poll.
func WithProgress(fn func(attempt int, v entity.StatusView)) Option {
	return func(p *Poller) { p.progress = fn }
}

func New(q Querier, cfg Config, opts ...Option) *Poller {
	p := &Poller{q: q, cfg: cfg.withDefaults(), logger: slog.Default(), sleep: sleepCtx}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Wait polls until the job is processed or failed. A job in the error state is a normal
// result. ErrTimeout means the caller stopped waiting; the job may still finish later.
func (p *Poller) Wait(ctx context.Context, id string) (entity.StatusView, error) {
	logger := p.logger.With("job_id", id)
	var last entity.StatusView

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		v, err := retry.Do(ctx, p.cfg.Retry, func(ctx context.Context) (entity.StatusView, error) {
			return p.q.Status(ctx, id)
		},
			retry.WithRetryIf(retryable),
			retry.WithSleep(p.sleep),
			retry.WithObserver(func(n int, err error) {
				logger.Warn("poll.query.retry", "attempt", attempt, "query_attempt", n, "error", err)
			}),
		)
		if err != nil {
			logger.Error("poll.query.failed", "attempt", attempt, "error", err)
			return last, err
		}
		last = v
		if v.Terminal() {
			logger.Info("poll.done", "attempt", attempt, "status", v.Status)
			return v, nil
		}
		if p.progress != nil {
			p.progress(attempt, v)
		}
		if attempt == p.cfg.MaxAttempts {
			break
		}
		if err := p.sleep(ctx, p.cfg.Interval); err != nil {
			return last, err
		}
	}

	logger.Warn("poll.timeout", "attempts", p.cfg.MaxAttempts, "status", last.Status)
	return last, fmt.Errorf("%w: job %s still %s after %d attempts", common.ErrTimeout, id, last.Status, p.cfg.MaxAttempts)
}

func retryable(err error) bool {
	return !errors.Is(err, common.ErrNotFound) &&
		!errors.Is(err, common.ErrInvalidInput) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
