package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/cv-screener/internal/common"
	"github.com/joseph-ayodele/cv-screener/internal/entity"
	"github.com/joseph-ayodele/cv-screener/internal/repository"
	"github.com/joseph-ayodele/cv-screener/internal/retry"
)

// Processor drives one document job from processing to a terminal status.
type Processor struct {
	Logger       *slog.Logger
	Jobs         repository.DocumentJobRepository
	Extract      *ExtractStage
	Retry        retry.Config
	WriteTimeout time.Duration
}

func NewProcessor(logger *slog.Logger, jobs repository.DocumentJobRepository, stage *ExtractStage, retryCfg retry.Config) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		Logger:       logger,
		Jobs:         jobs,
		Extract:      stage,
		Retry:        retryCfg,
		WriteTimeout: 30 * time.Second,
	}
}

// Process never leaves the job in processing: every path, including a panic or a store that
// stays unreachable, ends with MarkProcessed or a best-effort MarkError. The returned error is
// for logging only.
func (p *Processor) Process(ctx context.Context, jobID uuid.UUID) (err error) {
	logger := p.Logger.With("job_id", jobID)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("processor.panic", "panic", r)
			err = fmt.Errorf("%w: panic during processing: %v", common.ErrInternal, r)
			p.fail(ctx, logger, jobID, err)
		}
	}()

	job, err := retry.Do(ctx, p.Retry, func(ctx context.Context) (*entity.DocumentJob, error) {
		return p.Jobs.Get(ctx, jobID)
	}, p.persistenceRetry(logger)...)
	if err != nil {
		logger.Error("processor.load.failed", "error", err)
		if !errors.Is(err, common.ErrNotFound) {
			p.fail(ctx, logger, jobID, fmt.Errorf("loading job: %w", err))
		}
		return fmt.Errorf("get job: %w", err)
	}
	if job.Status.IsTerminal() {
		logger.Info("processor.skip.terminal", "status", job.Status)
		return nil
	}
	err = retry.Run(ctx, p.Retry, func(ctx context.Context) error {
		return p.Jobs.MarkProcessing(ctx, jobID)
	}, p.persistenceRetry(logger)...)
	if err != nil {
		if errors.Is(err, common.ErrTerminalState) {
			return nil
		}
		logger.Error("processor.mark_processing.failed", "error", err)
		p.fail(ctx, logger, jobID, fmt.Errorf("marking job processing: %w", err))
		return err
	}

	res, extractErr := p.Extract.Run(ctx, job)
	if extractErr != nil {
		logger.Error("processor.extract.failed", "error", extractErr, "elapsed_ms", time.Since(start).Milliseconds())
		p.fail(ctx, logger, jobID, extractErr)
		return extractErr
	}
	logger.Info("processor.extract.ok",
		"method", string(res.Method),
		"pages", res.Pages,
		"degraded", res.Degraded,
		"text_len", len(res.Text),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if err := p.terminalWrite(ctx, func(wctx context.Context) error {
		return p.Jobs.MarkProcessed(wctx, jobID, res.Text)
	}); err != nil {
		// the text is lost with this job; keep enough context to find it in the logs
		logger.Error("processor.persist.failed", "text_len", len(res.Text), "error", err)
		p.fail(ctx, logger, jobID, fmt.Errorf("saving extracted text: %w", err))
		return err
	}
	return nil
}

// fail records reason as the job's terminal error.
func (p *Processor) fail(ctx context.Context, logger *slog.Logger, jobID uuid.UUID, reason error) {
	err := p.terminalWrite(ctx, func(wctx context.Context) error {
		return p.Jobs.MarkError(wctx, jobID, ErrorMessage(reason))
	})
	if err != nil && !errors.Is(err, common.ErrTerminalState) {
		logger.Error("processor.mark_error.failed", "error", err, "reason", reason.Error())
	}
}

// terminalWrite runs write detached from ctx so a job timeout cannot strand the job,
// retrying persistence failures only.
func (p *Processor) terminalWrite(ctx context.Context, write func(ctx context.Context) error) error {
	wctx, cancel := common.Detached(ctx, p.WriteTimeout)
	defer cancel()
	return retry.Run(wctx, p.Retry, write, p.persistenceRetry(p.Logger)...)
}

// persistenceRetry retries store failures only.
func (p *Processor) persistenceRetry(logger *slog.Logger) []retry.Option {
	return []retry.Option{
		retry.WithRetryIf(func(err error) bool { return errors.Is(err, common.ErrPersistence) }),
		retry.WithObserver(func(attempt int, err error) {
			logger.Warn("processor.persist.retry", "attempt", attempt, "error", err)
		}),
	}
}

// ErrorMessage is the reason stored on a failed job.
func ErrorMessage(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "processing timed out: " + err.Error()
	default:
		return err.Error()
	}
}
