package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joseph-ayodele/cv-screener/constants"
	"github.com/joseph-ayodele/cv-screener/internal/app"
	"github.com/joseph-ayodele/cv-screener/internal/common"
	"github.com/joseph-ayodele/cv-screener/internal/extract"
	"github.com/joseph-ayodele/cv-screener/internal/llm"
)

func main() {
	var (
		cvPath     = flag.String("cv", "", "CV document to score (required)")
		title      = flag.String("title", "", "job title (required)")
		skills     = flag.String("skills", "", "comma-separated required skills (required)")
		experience = flag.String("experience", "", "experience requirement")
		location   = flag.String("location", "", "job location")
		education  = flag.String("education", "", "education requirement")
	)
	flag.Parse()

	logger := app.NewLogger(os.Stderr, "json", os.Getenv("LOG_LEVEL"))

	if *cvPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --cv is required")
		os.Exit(2)
	}
	req := llm.Requirements{
		Title:      *title,
		Skills:     strings.Split(*skills, ","),
		Experience: *experience,
		Location:   *location,
		Education:  *education,
	}
	if err := req.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}

	cfg, err := common.LoadConfig()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(2)
	}
	scorer, err := app.NewScorer(cfg, logger)
	if err != nil {
		logger.Error("build scorer", "error", err)
		os.Exit(1)
	}
	if scorer == nil {
		logger.Error("OPENAI_API_KEY env var is required")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	text, err := readCV(ctx, cfg, *cvPath, logger)
	if err != nil {
		logger.Error("read CV", "path", *cvPath, "error", err)
		os.Exit(1)
	}

	analysis, _, err := scorer.Score(ctx, llm.ScoreRequest{
		CVText:       text,
		FilenameHint: filepath.Base(*cvPath),
		Requirements: req,
	})
	if err != nil {
		logger.Error("scoring failed", "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(analysis)
}

func readCV(ctx context.Context, cfg *common.Config, path string, logger *slog.Logger) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	ext := filepath.Ext(path)
	if constants.NormalizeExt(ext) == "txt" {
		return string(data), nil
	}
	extractor, err := app.NewTextExtractor(cfg, logger)
	if err != nil {
		return "", err
	}
	res, err := extractor.Extract(ctx, extract.Document{
		Data:        data,
		Filename:    filepath.Base(path),
		ContentType: constants.ContentTypeForExt(ext),
	})
	if err != nil {
		return "", err
	}
	logger.Info("cv text extracted", "method", res.Method, "chars", len(res.Text))
	return res.Text, nil
}
