// Ingest CLI: stores receipt files, creates pending receipts, and submits
// processing jobs. With a reachable broker, jobs go to the worker fleet;
// without one, they run in-process before the command exits.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/expensobot/receipts-engine/internal/common"
	"github.com/expensobot/receipts-engine/internal/dispatch"
	"github.com/expensobot/receipts-engine/internal/ingest"
	"github.com/expensobot/receipts-engine/internal/llm"
	"github.com/expensobot/receipts-engine/internal/llm/gemini"
	"github.com/expensobot/receipts-engine/internal/ocr"
	"github.com/expensobot/receipts-engine/internal/pipeline"
	"github.com/expensobot/receipts-engine/internal/repository"
	"github.com/expensobot/receipts-engine/internal/storage"
)

func main() {
	var (
		userFlag = flag.String("user", "", "user id (UUID) owning the receipts")
		dirFlag  = flag.String("dir", "", "ingest every supported file under this directory")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	userID, err := uuid.Parse(*userFlag)
	if err != nil {
		logger.Error("invalid -user (must be UUID)", "arg", *userFlag, "error", err)
		os.Exit(2)
	}
	if *dirFlag == "" && flag.NArg() == 0 {
		logger.Error("usage", "cmd", "ingest -user <uuid> [-dir <path>] [files...]")
		os.Exit(2)
	}

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

	repo := repository.NewReceiptRepository(pool, logger)
	proc := pipeline.NewProcessor(repo, store, extractor, llm.NewService(model, logger), nil, logger)

	gateway := dispatch.NewGateway(ctx, cfg.Broker, cfg.Pipeline, proc.Process, nil, logger)
	svc := ingest.NewService(repo, store, gateway, logger)

	exitCode := 0
	if *dirFlag != "" {
		_, stats, err := svc.IngestDirectory(ctx, userID, *dirFlag)
		if err != nil {
			logger.Error("directory ingest failed", "error", err)
			exitCode = 1
		} else if stats.Failed > 0 {
			exitCode = 1
		}
	}
	for _, path := range flag.Args() {
		if _, err := svc.IngestFile(ctx, userID, path); err != nil {
			logger.Error("file ingest failed", "path", path, "error", err)
			exitCode = 1
		}
	}

	// In fallback mode this waits for the submitted jobs to finish.
	closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()
	if err := gateway.Close(closeCtx); err != nil {
		logger.Error("dispatch shutdown", "error", err)
		exitCode = 1
	}
	os.Exit(exitCode)
}
