package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/cv-screener/constants"
	"github.com/joseph-ayodele/cv-screener/internal/app"
	"github.com/joseph-ayodele/cv-screener/internal/common"
	"github.com/joseph-ayodele/cv-screener/internal/extract"
)

func main() {
	logger := app.NewLogger(os.Stderr, "json", os.Getenv("LOG_LEVEL"))

	if len(os.Args) != 2 {
		logger.Error("usage", "cmd", "runocr <path-to-document>")
		os.Exit(2)
	}
	path := os.Args[1]

	cfg, err := common.LoadConfig()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(2)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("read file", "path", path, "error", err)
		os.Exit(1)
	}

	extractor, err := app.NewTextExtractor(cfg, logger)
	if err != nil {
		logger.Error("build extractor", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	start := time.Now()
	res, err := extractor.Extract(ctx, extract.Document{
		Data:        data,
		Filename:    filepath.Base(path),
		ContentType: constants.ContentTypeForExt(filepath.Ext(path)),
	})
	dur := time.Since(start)
	if err != nil {
		logger.Error("text extraction failed", "path", path, "error", err, "duration_ms", dur.Milliseconds())
		os.Exit(1)
	}

	logger.Info("text extraction OK",
		"format", res.Format,
		"method", res.Method,
		"pages", res.Pages,
		"bytes", len(res.Text),
		"degraded", res.Degraded,
		"duration_ms", dur.Milliseconds(),
	)
	fmt.Println(res.Text)
}
