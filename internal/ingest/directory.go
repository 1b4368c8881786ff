package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joseph-ayodele/cv-screener/constants"
	"github.com/joseph-ayodele/cv-screener/internal/common"
)

// FSIngestor submits documents found on the local filesystem.
type FSIngestor struct {
	Submitter Submitter
	MaxBytes  int64
	Logger    *slog.Logger
}

func NewFSIngestor(s Submitter, logger *slog.Logger) *FSIngestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSIngestor{Submitter: s, MaxBytes: constants.MaxUploadBytes, Logger: logger}
}

// IngestPath submits a single file.
func (i *FSIngestor) IngestPath(ctx context.Context, path string) (IngestionResult, error) {
	out := IngestionResult{SourcePath: path}

	abs, err := filepath.Abs(path)
	if err != nil {
		return out, fmt.Errorf("abs path: %w", err)
	}
	out.SourcePath = abs

	ext := constants.NormalizeExt(filepath.Ext(abs))
	out.FileExt = ext
	if ext == "" || !AllowedExt(ext) {
		return out, fmt.Errorf("%w: unsupported or missing extension %q", common.ErrUnsupportedFormat, ext)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return out, fmt.Errorf("stat: %w", err)
	}
	if i.MaxBytes > 0 && info.Size() > i.MaxBytes {
		return out, common.InvalidInputf("%s is %d bytes, limit %d", filepath.Base(abs), info.Size(), i.MaxBytes)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return out, fmt.Errorf("read: %w", err)
	}

	acc, err := i.Submitter.Submit(ctx, Upload{
		Filename:    filepath.Base(abs),
		ContentType: constants.ContentTypeForExt(ext),
		Data:        data,
	})
	if err != nil {
		return out, err
	}
	out.JobID = acc.ID
	out.UploadedAt = time.Now().UTC()
	i.Logger.Info("ingest.file.submitted", "path", abs, "job_id", acc.ID)
	return out, nil
}

// IngestDirectory walks root, skips hidden entries if requested, and submits every allowed file.
// Per-file failures are reported in the results and do not stop the walk.
func (i *FSIngestor) IngestDirectory(ctx context.Context, root string, skipHidden bool) ([]IngestionResult, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}

	var results []IngestionResult
	var stats DirStats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, IngestionResult{SourcePath: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if skipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !AllowedExt(filepath.Ext(path)) {
			return nil
		}
		stats.Matched++

		r, err := i.IngestPath(ctx, path)
		if err != nil {
			r.Err = err.Error()
			results = append(results, r)
			stats.Failed++
			i.Logger.Warn("ingest.file.failed", "path", path, "error", err)
			return nil
		}
		results = append(results, r)
		stats.Succeeded++
		return nil
	})
	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}
	return results, stats, nil
}
