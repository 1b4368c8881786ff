package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joseph-ayodele/cv-screener/internal/app"
	"github.com/joseph-ayodele/cv-screener/internal/common"
)

func main() {
	logger := app.NewLogger(os.Stdout, os.Getenv("LOG_FORMAT"), os.Getenv("LOG_LEVEL"))

	cfg, err := common.LoadConfig()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("cv-screener starting",
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
		"db_driver", cfg.Database.Driver,
		"storage", cfg.Storage.Backend,
		"queue", cfg.Queue.Backend,
		"ocr_provider", cfg.Extraction.OCRProvider,
	)
	if err := app.Run(ctx, cfg, logger); err != nil {
		logger.Error("cv-screener stopped", "error", err)
		os.Exit(1)
	}
}
