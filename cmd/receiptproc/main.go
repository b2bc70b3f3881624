// Operator CLI: run the pipeline inline for one receipt id. Useful for
// reprocessing a receipt left in a non-terminal state by a crash or timeout.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/expensobot/receipts-engine/constants"
	"github.com/expensobot/receipts-engine/internal/common"
	"github.com/expensobot/receipts-engine/internal/entity"
	"github.com/expensobot/receipts-engine/internal/llm"
	"github.com/expensobot/receipts-engine/internal/llm/gemini"
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

	if len(os.Args) != 2 {
		logger.Error("usage", "cmd", "receiptproc <receipt-id-uuid>")
		os.Exit(2)
	}
	receiptID, err := uuid.Parse(os.Args[1])
	if err != nil {
		logger.Error("invalid receipt id (must be UUID)", "arg", os.Args[1], "error", err)
		os.Exit(2)
	}

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.JobTimeout)
	defer cancel()

	pool, err := repository.Open(ctx, repository.Config{
		DSN:             cfg.Database.DSN,
		MaxConns:        5,
		MinConns:        1,
		MaxConnLifetime: 30 * time.Minute,
		MaxConnIdleTime: 5 * time.Minute,
		DialTimeout:     cfg.Database.DialTimeout,
	}, logger)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

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
	rec, err := repo.GetByID(ctx, receiptID)
	if err != nil {
		logger.Error("load receipt", "receipt_id", receiptID, "error", err)
		os.Exit(1)
	}
	if rec.Status == constants.StatusProcessing {
		logger.Warn("receipt is marked processing; proceeding only makes sense if the prior run is dead",
			"receipt_id", receiptID)
	} else if rec.Status.IsTerminal() {
		logger.Info("reprocessing finished receipt", "receipt_id", receiptID, "status", rec.Status)
	}

	proc := pipeline.NewProcessor(repo, store, extractor, llm.NewService(model, logger), nil, logger)

	if rec.StorageKey == nil {
		logger.Error("receipt has no storage key; nothing to process", "receipt_id", receiptID)
		os.Exit(1)
	}
	job := entity.Job{
		ReceiptID:  rec.ID,
		StorageKey: *rec.StorageKey,
		UserID:     rec.UserID,
		// Anything past pending needs the explicit reset, including a
		// receipt stuck in processing after a dead run.
		Reprocess: rec.Status != constants.StatusPending,
	}
	if err := proc.Process(ctx, job); err != nil {
		logger.Error("processing failed", "receipt_id", receiptID, "error", err)
		os.Exit(1)
	}

	final, err := repo.GetByID(ctx, receiptID)
	if err != nil {
		logger.Error("reload receipt", "error", err)
		os.Exit(1)
	}
	logger.Info("processing finished", "receipt_id", receiptID, "status", final.Status)
}
