// Broker-mode worker: subscribes to the processing subject and runs the
// pipeline one job at a time per delivery, each under its own timeout.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/expensobot/receipts-engine/internal/common"
	"github.com/expensobot/receipts-engine/internal/dispatch"
	"github.com/expensobot/receipts-engine/internal/entity"
	"github.com/expensobot/receipts-engine/internal/llm"
	"github.com/expensobot/receipts-engine/internal/llm/gemini"
	"github.com/expensobot/receipts-engine/internal/observability"
	"github.com/expensobot/receipts-engine/internal/ocr"
	"github.com/expensobot/receipts-engine/internal/pipeline"
	"github.com/expensobot/receipts-engine/internal/repository"
	"github.com/expensobot/receipts-engine/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := repository.Open(ctx, repository.Config{
		DSN:             cfg.Database.DSN,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		DialTimeout:     cfg.Database.DialTimeout,
	}, logger)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := repository.Migrate(pool, logger); err != nil {
		logger.Error("apply migrations", "error", err)
		os.Exit(1)
	}

	store, err := storage.NewFromConfig(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Error("init object store", "error", err)
		os.Exit(1)
	}

	extractor, err := ocr.NewExtractor(ocr.Config{
		Engine:           cfg.OCR.Engine,
		TesseractCmd:     cfg.OCR.TesseractCmd,
		EasyOCRCmd:       cfg.OCR.EasyOCRCmd,
		Language:         cfg.OCR.Language,
		TessdataDir:      cfg.OCR.TessdataDir,
		ArtifactCacheDir: cfg.OCR.ArtifactCacheDir,
	}, logger)
	if err != nil {
		logger.Error("init ocr engine", "error", err)
		os.Exit(1)
	}

	model, err := gemini.NewClient(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Gemini.Timeout, logger)
	if err != nil {
		logger.Error("init extraction model", "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := model.Close(); cerr != nil {
			logger.Warn("close model client", "error", cerr)
		}
	}()

	metrics := observability.NewMetrics(nil)
	repo := repository.NewReceiptRepository(pool, logger)
	proc := pipeline.NewProcessor(repo, store, extractor, llm.NewService(model, logger), metrics, logger)

	broker, err := dispatch.ConnectBroker(cfg.Broker, logger)
	if err != nil {
		logger.Error("broker unreachable, worker cannot start", "error", err)
		os.Exit(1)
	}
	defer broker.Close()

	sub, err := broker.Subscribe(func(job entity.Job) {
		jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Pipeline.JobTimeout)
		defer cancel()
		if perr := proc.Process(jobCtx, job); perr != nil {
			logger.Error("job failed", "receipt_id", job.ReceiptID, "error", perr)
		}
	})
	if err != nil {
		logger.Error("subscribe", "error", err)
		os.Exit(1)
	}
	defer func() {
		if uerr := sub.Unsubscribe(); uerr != nil {
			logger.Warn("unsubscribe", "error", uerr)
		}
	}()

	if cfg.Pipeline.MetricsAddr != "" {
		go func() {
			if merr := observability.Serve(ctx, cfg.Pipeline.MetricsAddr, logger); merr != nil {
				logger.Error("metrics server", "error", merr)
			}
		}()
	}

	logger.Info("worker started", "subject", cfg.Broker.Subject, "queue_group", cfg.Broker.QueueGroup)
	<-ctx.Done()
	// Drain in broker.Close waits for the in-flight handler before
	// disconnecting, so the terminal status still gets persisted.
	logger.Info("shutting down")
}
