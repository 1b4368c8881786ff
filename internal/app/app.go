package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/cv-screener/internal/async"
	"github.com/joseph-ayodele/cv-screener/internal/common"
	"github.com/joseph-ayodele/cv-screener/internal/export"
	"github.com/joseph-ayodele/cv-screener/internal/ingest"
	"github.com/joseph-ayodele/cv-screener/internal/pipeline"
	"github.com/joseph-ayodele/cv-screener/internal/server"
)

const healthInterval = 10 * time.Second

// Run builds the service from cfg and serves HTTP, gRPC health, the queue consumer and the
// optional directory watcher until ctx is cancelled.
func Run(ctx context.Context, cfg *common.Config, logger *slog.Logger) error {
	jobs, closeJobs, err := OpenJobStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("job store: %w", err)
	}
	defer closeJobs()

	files, err := OpenFileStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("file store: %w", err)
	}
	extractor, err := NewTextExtractor(cfg, logger)
	if err != nil {
		return fmt.Errorf("extractor: %w", err)
	}
	scorer, err := NewScorer(cfg, logger)
	if err != nil {
		return fmt.Errorf("scorer: %w", err)
	}

	stage := pipeline.NewExtractStage(files, extractor, logger)
	processor := pipeline.NewProcessor(logger, jobs, stage, RetryConfig(cfg))

	var lis net.Listener
	if cfg.Server.GRPCAddr != "" {
		if lis, err = net.Listen("tcp", cfg.Server.GRPCAddr); err != nil {
			return fmt.Errorf("listen %s: %w", cfg.Server.GRPCAddr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	var queue async.Queue
	switch cfg.Queue.Backend {
	case "nats":
		ncfg := async.NATSConfig{
			URL:           cfg.Queue.NATS.URL,
			Name:          "cv-screener",
			Stream:        cfg.Queue.NATS.Stream,
			Subject:       cfg.Queue.NATS.Subject,
			Durable:       cfg.Queue.NATS.Durable,
			MaxReconnects: cfg.Queue.NATS.MaxReconnects,
			Workers:       cfg.Queue.Workers,
			Timeout:       cfg.Queue.ProcessTimeout,
		}
		nc, js, err := async.ConnectJetStream(ncfg)
		if err != nil {
			return err
		}
		defer nc.Close()
		jsq := async.NewJetStreamQueue(js, ncfg, logger)
		g.Go(func() error { return jsq.Consume(gctx, processor) })
		queue = jsq
	default:
		queue = async.NewProcessorQueue(processor, logger,
			async.WithWorkers(cfg.Queue.Workers),
			async.WithQueueSize(cfg.Queue.Size),
			async.WithProcessTimeout(cfg.Queue.ProcessTimeout),
		)
	}

	submitter := ingest.NewService(jobs, files, queue, logger)
	submitter.MaxBytes = cfg.Server.MaxUploadBytes

	api := server.New(server.Deps{
		Ingest: submitter,
		Jobs:   jobs,
		Export: export.NewService(jobs, logger),
		Scorer: scorer,
		Health: jobs.Ping,
	}, server.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxUploadBytes: int64(cfg.Server.MaxUploadBytes),
	}, logger)

	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		logger.Info("http listening", "addr", cfg.Server.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})

	grpcSrv, hs := server.NewGRPCServer()
	if lis != nil {
		g.Go(func() error {
			logger.Info("grpc health listening", "addr", cfg.Server.GRPCAddr)
			return grpcSrv.Serve(lis)
		})
		g.Go(func() error {
			server.MonitorHealth(gctx, hs, jobs.Ping, healthInterval, logger)
			return nil
		})
	}

	if cfg.Server.WatchDir != "" {
		ing := ingest.NewFSIngestor(submitter, logger)
		ing.MaxBytes = int64(cfg.Server.MaxUploadBytes)
		g.Go(func() error {
			err := ing.Watch(gctx, ingest.WatchConfig{
				Roots:       []string{cfg.Server.WatchDir},
				InitialScan: true,
				Debounce:    500 * time.Millisecond,
				SkipHidden:  true,
				Logger:      logger,
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
		grpcSrv.GracefulStop()
		if err := queue.Shutdown(shutdownCtx); err != nil {
			logger.Warn("queue shutdown", "error", err)
		}
		logger.Info("shutdown complete")
		return nil
	})

	return g.Wait()
}
