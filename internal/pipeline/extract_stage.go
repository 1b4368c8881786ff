package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/cv-screener/constants"
	"github.com/joseph-ayodele/cv-screener/internal/entity"
	"github.com/joseph-ayodele/cv-screener/internal/extract"
	"github.com/joseph-ayodele/cv-screener/internal/storage"
)

// ExtractStage loads the stored bytes of a job and runs text extraction over them.
type ExtractStage struct {
	Files         storage.FileStore
	TextExtractor extract.TextExtractor
	MaxBytes      int64
	Logger        *slog.Logger
}

func NewExtractStage(files storage.FileStore, tx extract.TextExtractor, logger *slog.Logger) *ExtractStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExtractStage{Files: files, TextExtractor: tx, MaxBytes: constants.MaxUploadBytes, Logger: logger}
}

func (s *ExtractStage) Run(ctx context.Context, job *entity.DocumentJob) (extract.Result, error) {
	data, err := storage.ReadAll(ctx, s.Files, job.FilePath, s.MaxBytes)
	if err != nil {
		return extract.Result{}, fmt.Errorf("load %s: %w", job.FilePath, err)
	}

	res, err := s.TextExtractor.Extract(ctx, extract.Document{
		Data:        data,
		ContentType: job.ContentType,
		Filename:    job.Filename,
	})
	if err != nil {
		return res, err
	}
	if len(res.Warnings) > 0 {
		s.Logger.Warn("pipeline.extract.warnings", "job_id", job.ID, "warnings", res.Warnings)
	}
	return res, nil
}
