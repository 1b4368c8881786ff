package ingest

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/cv-screener/constants"
	"github.com/joseph-ayodele/cv-screener/internal/async"
	"github.com/joseph-ayodele/cv-screener/internal/common"
	"github.com/joseph-ayodele/cv-screener/internal/repository"
	"github.com/joseph-ayodele/cv-screener/internal/storage"
)

// Service accepts uploads: it stores the bytes, creates a processing job and schedules extraction.
type Service struct {
	Jobs     repository.DocumentJobRepository
	Files    storage.FileStore
	Queue    async.Queue
	MaxBytes int
	Logger   *slog.Logger

	newID func() uuid.UUID
}

var _ Submitter = (*Service)(nil)

func NewService(jobs repository.DocumentJobRepository, files storage.FileStore, queue async.Queue, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Jobs:     jobs,
		Files:    files,
		Queue:    queue,
		MaxBytes: constants.MaxUploadBytes,
		Logger:   logger,
		newID:    uuid.New,
	}
}

// Submit returns as soon as the job is queued. Extraction continues in the background
// independently of ctx.
func (s *Service) Submit(ctx context.Context, up Upload) (Accepted, error) {
	start := time.Now()
	logger := common.LoggerFromContext(ctx, s.Logger)

	if err := common.NewValidator().
		Field("filename", up.Filename, common.Required, common.MaxLength(255)).
		Field("contentType", up.ContentType, common.Required).
		Field("fileData", up.Data, common.Required, common.MaxBytes(s.MaxBytes)).
		Err(); err != nil {
		logger.Warn("ingest.rejected", "filename", up.Filename, "error", err)
		return Accepted{}, err
	}
	if constants.ResolveFormat(up.ContentType, filepath.Ext(up.Filename)) == "" {
		logger.Warn("ingest.unsupported", "filename", up.Filename, "content_type", up.ContentType)
		return Accepted{}, fmt.Errorf("%w: %q", common.ErrUnsupportedFormat, up.ContentType)
	}

	filePath := BuildFilePath(up.Filename, s.newID())
	size, sum, err := s.Files.Save(ctx, filePath, bytes.NewReader(up.Data), int64(len(up.Data)))
	if err != nil {
		logger.Error("ingest.store.failed", "file_path", filePath, "error", err)
		return Accepted{}, err
	}

	job, err := s.Jobs.Create(ctx, up.Filename, constants.NormalizeContentType(up.ContentType), filePath, constants.JobStatusProcessing)
	if err != nil {
		logger.Error("ingest.create.failed", "file_path", filePath, "error", err)
		s.discard(logger, filePath)
		return Accepted{}, err
	}
	logger = logger.With("job_id", job.ID)

	reqID := up.RequestID
	if reqID == "" {
		reqID = common.RequestIDFromContext(ctx)
	}
	if err := s.Queue.Enqueue(ctx, async.Job{JobID: job.ID, SubmittedAt: time.Now(), RequestID: reqID}); err != nil {
		logger.Error("ingest.enqueue.failed", "error", err)
		wctx, cancel := common.Detached(ctx, 10*time.Second)
		defer cancel()
		if markErr := s.Jobs.MarkError(wctx, job.ID, "could not schedule extraction: "+err.Error()); markErr != nil {
			logger.Error("ingest.mark_error.failed", "error", markErr)
		}
		return Accepted{}, fmt.Errorf("%w: schedule extraction: %w", common.ErrInternal, err)
	}

	logger.Info("ingest.accepted",
		"filename", up.Filename,
		"bytes", size,
		"sha256", sum,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return Accepted{ID: job.ID.String(), Filename: job.Filename, Status: job.Status}, nil
}

func (s *Service) discard(logger *slog.Logger, filePath string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Files.Delete(ctx, filePath); err != nil {
		logger.Warn("ingest.discard.failed", "file_path", filePath, "error", err)
	}
}
