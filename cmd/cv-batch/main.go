package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/cv-screener/constants"
	"github.com/joseph-ayodele/cv-screener/internal/app"
	"github.com/joseph-ayodele/cv-screener/internal/async"
	"github.com/joseph-ayodele/cv-screener/internal/common"
	"github.com/joseph-ayodele/cv-screener/internal/entity"
	"github.com/joseph-ayodele/cv-screener/internal/export"
	"github.com/joseph-ayodele/cv-screener/internal/ingest"
	"github.com/joseph-ayodele/cv-screener/internal/pipeline"
	"github.com/joseph-ayodele/cv-screener/internal/poller"
	"github.com/joseph-ayodele/cv-screener/internal/repository"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

type outcome struct {
	path   string
	jobID  string
	status constants.JobStatus
	err    error
}

func main() {
	var (
		dir         = flag.String("dir", "", "directory of CVs to process (required)")
		api         = flag.String("api", "", "base URL of a running cv-screener; empty processes in-process")
		token       = flag.String("token", "", "bearer token for -api")
		inmem       = flag.Bool("inmem", false, "use the in-memory job store when processing in-process")
		out         = flag.String("out", "", "output XLSX path for in-process runs (defaults to <dir>/../documents.xlsx)")
		concurrency = flag.Int("concurrency", 4, "documents uploaded and polled at once")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(1)
	}
	if *out == "" {
		*out = filepath.Join(filepath.Dir(filepath.Clean(*dir)), "documents.xlsx")
	}

	logger := app.NewLogger(os.Stdout, "json", os.Getenv("LOG_LEVEL"))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := common.LoadConfig()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	pcfg := poller.Config{Interval: cfg.Poll.Interval, MaxAttempts: cfg.Poll.MaxAttempts, Retry: app.RetryConfig(cfg)}

	files, err := collect(*dir)
	if err != nil {
		logger.Error("failed to scan directory", "dir", *dir, "error", err)
		os.Exit(1)
	}
	logger.Info("documents found", "dir", *dir, "count", len(files))

	var results []outcome
	if *api != "" {
		client := poller.NewHTTPQuerier(*api)
		client.Token = *token
		results = runRemote(ctx, client, poller.New(client, pcfg, poller.WithLogger(logger)), files, *concurrency, logger)
	} else {
		if *inmem {
			cfg.Database.Driver = "memory"
		}
		results, err = runLocal(ctx, cfg, pcfg, files, *concurrency, *out, logger)
		if err != nil {
			logger.Error("batch failed", "error", err)
			os.Exit(1)
		}
	}

	var processed, failed int
	for _, r := range results {
		switch {
		case r.err != nil:
			failed++
			logger.Warn("document failed", "path", r.path, "job_id", r.jobID, "error", r.err)
		case r.status == constants.JobStatusProcessed:
			processed++
		default:
			failed++
			logger.Warn("document not processed", "path", r.path, "job_id", r.jobID, "status", r.status)
		}
	}
	logger.Info("batch processing complete", "documents", len(results), "processed", processed, "failed", failed)
	if failed > 0 {
		os.Exit(1)
	}
}

// collect lists the supported files under root, skipping hidden entries.
func collect(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && ingest.IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && ingest.AllowedExt(filepath.Ext(path)) {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}

func runRemote(ctx context.Context, client *poller.HTTPQuerier, p *poller.Poller, files []string, concurrency int, logger *slog.Logger) []outcome {
	return fanOut(ctx, files, concurrency, func(ctx context.Context, path string) outcome {
		r := outcome{path: path}
		data, err := os.ReadFile(path)
		if err != nil {
			r.err = err
			return r
		}
		acc, err := client.Upload(ctx, filepath.Base(path), constants.ContentTypeForExt(filepath.Ext(path)), data)
		if err != nil {
			r.err = err
			return r
		}
		r.jobID = acc.ID
		logger.Info("document uploaded", "path", path, "job_id", acc.ID)

		v, err := p.Wait(ctx, acc.ID)
		r.status, r.err = v.Status, err
		return r
	})
}

func runLocal(ctx context.Context, cfg *common.Config, pcfg poller.Config, files []string, concurrency int, out string, logger *slog.Logger) ([]outcome, error) {
	jobs, closeJobs, err := app.OpenJobStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer closeJobs()
	store, err := app.OpenFileStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	extractor, err := app.NewTextExtractor(cfg, logger)
	if err != nil {
		return nil, err
	}

	processor := pipeline.NewProcessor(logger, jobs, pipeline.NewExtractStage(store, extractor, logger), app.RetryConfig(cfg))
	queue := async.NewProcessorQueue(processor, logger,
		async.WithWorkers(cfg.Queue.Workers),
		async.WithQueueSize(cfg.Queue.Size),
		async.WithProcessTimeout(cfg.Queue.ProcessTimeout),
	)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = queue.Shutdown(sctx)
	}()

	ingestor := ingest.NewFSIngestor(ingest.NewService(jobs, store, queue, logger), logger)
	status := poller.QuerierFunc(func(ctx context.Context, id string) (entity.StatusView, error) {
		jobID, err := uuid.Parse(id)
		if err != nil {
			return entity.StatusView{}, common.InvalidInputf("document id %q is not a UUID", id)
		}
		job, err := jobs.Get(ctx, jobID)
		if err != nil {
			return entity.StatusView{}, err
		}
		return job.View(), nil
	})
	p := poller.New(status, pcfg, poller.WithLogger(logger))

	results := fanOut(ctx, files, concurrency, func(ctx context.Context, path string) outcome {
		r := outcome{path: path}
		res, err := ingestor.IngestPath(ctx, path)
		if err != nil {
			r.err = err
			return r
		}
		r.jobID = res.JobID
		v, err := p.Wait(ctx, res.JobID)
		r.status, r.err = v.Status, err
		return r
	})

	xlsx, err := export.NewService(jobs, logger).ExportJobsXLSX(ctx, repository.ListFilter{}, export.Window{})
	if err != nil {
		return results, fmt.Errorf("export: %w", err)
	}
	if err := os.WriteFile(out, xlsx, 0o644); err != nil {
		return results, fmt.Errorf("write %s: %w", out, err)
	}
	logger.Info("export written", "output", out, "bytes", len(xlsx))
	return results, nil
}

func fanOut(ctx context.Context, files []string, concurrency int, fn func(context.Context, string) outcome) []outcome {
	if concurrency < 1 {
		concurrency = 1
	}
	var (
		mu      sync.Mutex
		results = make([]outcome, 0, len(files))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	start := time.Now()
	for _, path := range files {
		g.Go(func() error {
			r := fn(gctx, path)
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	slog.Default().Debug("batch fan-out finished", "elapsed_ms", time.Since(start).Milliseconds())
	return results
}
