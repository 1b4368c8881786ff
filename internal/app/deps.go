// Package app builds the service's collaborators from a loaded configuration.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/cv-screener/constants"
	"github.com/joseph-ayodele/cv-screener/internal/common"
	"github.com/joseph-ayodele/cv-screener/internal/extract"
	"github.com/joseph-ayodele/cv-screener/internal/llm"
	"github.com/joseph-ayodele/cv-screener/internal/llm/openai"
	"github.com/joseph-ayodele/cv-screener/internal/ocr"
	"github.com/joseph-ayodele/cv-screener/internal/repository"
	"github.com/joseph-ayodele/cv-screener/internal/retry"
	"github.com/joseph-ayodele/cv-screener/internal/storage"
	"github.com/joseph-ayodele/cv-screener/internal/vision"
)

// NewLogger returns a text logger, or JSON when format is "json".
func NewLogger(w io.Writer, format, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// RetryConfig converts the configured backoff into the executor's config.
func RetryConfig(cfg *common.Config) retry.Config {
	return retry.Config{
		MaxRetries: cfg.Retry.MaxRetries,
		BaseDelay:  cfg.Retry.BaseDelay,
		MaxDelay:   cfg.Retry.MaxDelay,
		Jitter:     0.2,
	}
}

// OpenJobStore opens the configured job store. The returned close func releases it.
func OpenJobStore(ctx context.Context, cfg *common.Config, logger *slog.Logger) (repository.DocumentJobRepository, func(), error) {
	db := cfg.Database
	switch db.Driver {
	case "memory":
		logger.Warn("using in-memory job store; jobs are lost on restart")
		return repository.NewMemoryRepository(), func() {}, nil

	case "sqlite":
		r, err := repository.NewSQLiteRepository(ctx, db.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		return r, func() { _ = r.Close() }, nil

	case "postgres":
		pool, err := repository.Open(ctx, repository.Config{
			DSN:              db.DSN,
			MaxConns:         db.MaxConns,
			MinConns:         db.MinConns,
			MaxConnLifetime:  db.MaxConnLifetime,
			MaxConnIdleTime:  db.MaxConnIdleTime,
			DialTimeout:      db.DialTimeout,
			StatementTimeout: db.StatementTimeout,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		r, err := repository.NewDocumentJobRepository(ctx, pool, logger)
		if err != nil {
			repository.Close(pool, logger)
			return nil, nil, err
		}
		return r, func() { repository.Close(pool, logger) }, nil

	case "redis":
		rdb, err := repository.NewRedisClient(ctx, repository.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		r := repository.NewRedisRepository(rdb, cfg.Redis.KeyPrefix, logger)
		return r, func() { _ = r.Close() }, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown DB_DRIVER %q", common.ErrInvalidInput, db.Driver)
}

// OpenFileStore opens the configured upload store.
func OpenFileStore(ctx context.Context, cfg *common.Config, logger *slog.Logger) (storage.FileStore, error) {
	switch cfg.Storage.Backend {
	case "local":
		return storage.NewLocalStore(cfg.Storage.LocalDir)
	case "minio":
		m := cfg.Storage.MinIO
		return storage.NewMinIOStore(ctx, storage.MinIOConfig{
			Endpoint:        m.Endpoint,
			AccessKeyID:     m.AccessKeyID,
			SecretAccessKey: m.SecretAccessKey,
			UseSSL:          m.UseSSL,
			Bucket:          m.Bucket,
			BasePath:        m.BasePath,
			Retry:           RetryConfig(cfg),
		}, logger)
	}
	return nil, fmt.Errorf("%w: unknown STORAGE_BACKEND %q", common.ErrInvalidInput, cfg.Storage.Backend)
}

// OCRTools returns the local poppler/tesseract wrapper.
func OCRTools(cfg *common.Config, logger *slog.Logger) *ocr.Tools {
	return ocr.NewTools(ocr.Config{
		Pdftotext:           cfg.OCR.Pdftotext,
		Pdftoppm:            cfg.OCR.Pdftoppm,
		Tesseract:           cfg.OCR.Tesseract,
		TesseractLang:       cfg.OCR.TesseractLang,
		TessdataDir:         cfg.OCR.TessdataDir,
		DPI:                 cfg.OCR.DPI,
		MaxPages:            cfg.OCR.MaxPages,
		EnableTSVConfidence: true,
		PSM:                 6,
	}, logger)
}

// NewRecognizer builds the configured OCR backend.
func NewRecognizer(cfg *common.Config, tools *ocr.Tools, logger *slog.Logger) (extract.Recognizer, error) {
	switch cfg.Extraction.OCRProvider {
	case "tesseract":
		return extract.NewTesseractRecognizer(tools, logger), nil
	case "vision":
		sa, err := vision.LoadServiceAccount(cfg.Vision.CredentialsFile, cfg.Vision.CredentialsJSON)
		if err != nil {
			return nil, err
		}
		opts := []vision.Option{vision.WithLogger(logger)}
		if cfg.Vision.RenderPDFPages {
			opts = append(opts, vision.WithPageRenderer(tools))
		}
		c, err := vision.NewClient(vision.Config{
			Endpoint:          cfg.Vision.Endpoint,
			TokenURL:          cfg.Vision.TokenURL,
			Scope:             cfg.Vision.Scope,
			MaxSegmentBytes:   cfg.Vision.MaxSegmentBytes,
			RequestsPerSecond: cfg.Vision.RequestsPerSecond,
			Burst:             cfg.Vision.Burst,
			Timeout:           cfg.Vision.Timeout,
			CacheTokens:       cfg.Vision.CacheTokens,
			Retry:             RetryConfig(cfg),
		}, sa, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("%w: unknown OCR_PROVIDER %q", common.ErrInvalidInput, cfg.Extraction.OCRProvider)
}

// NewTextExtractor wires native parsers (pdftotext for PDFs) in front of the OCR fallback.
func NewTextExtractor(cfg *common.Config, logger *slog.Logger) (*extract.Extractor, error) {
	tools := OCRTools(cfg, logger)
	rec, err := NewRecognizer(cfg, tools, logger)
	if err != nil {
		return nil, err
	}
	return extract.NewExtractor(rec, logger,
		extract.WithParser(constants.PDF, extract.NewPDFParser(tools)),
		extract.WithMinNativeChars(cfg.Extraction.MinNativeChars),
	), nil
}

// NewScorer returns the LLM scorer, or nil when no API key is configured.
func NewScorer(cfg *common.Config, logger *slog.Logger) (llm.Scorer, error) {
	if cfg.LLM.APIKey == "" {
		logger.Warn("OPENAI_API_KEY not set; scoring disabled")
		return nil, nil
	}
	c, err := openai.NewClient(openai.Config{
		APIKey:          cfg.LLM.APIKey,
		BaseURL:         cfg.LLM.BaseURL,
		Model:           cfg.LLM.Model,
		Temperature:     cfg.LLM.Temperature,
		Timeout:         cfg.LLM.Timeout,
		LenientOptional: true,
		Retry:           RetryConfig(cfg),
	}, logger)
	if err != nil {
		return nil, err
	}
	return c, nil
}
