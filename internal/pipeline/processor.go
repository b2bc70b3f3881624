// Package pipeline implements the receipt processing orchestrator: a strict
// sequential state machine that takes a receipt from pending through
// processing to done or error, persisting at each checkpoint.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/expensobot/receipts-engine/constants"
	"github.com/expensobot/receipts-engine/internal/common"
	"github.com/expensobot/receipts-engine/internal/dedup"
	"github.com/expensobot/receipts-engine/internal/entity"
	"github.com/expensobot/receipts-engine/internal/llm"
	"github.com/expensobot/receipts-engine/internal/normalize"
	"github.com/expensobot/receipts-engine/internal/observability"
	"github.com/expensobot/receipts-engine/internal/ocr"
	"github.com/expensobot/receipts-engine/internal/repository"
	"github.com/expensobot/receipts-engine/internal/storage"
)

// TextExtractor is the OCR boundary; the image is preprocessed internally.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte) (ocr.Result, error)
}

// StructuredExtractor is the AI-model boundary in hybrid mode.
type StructuredExtractor interface {
	ExtractHybrid(ctx context.Context, imageData []byte, mimeType, ocrText string) (*llm.Candidate, llm.Source, error)
	ModelVersion() string
}

// Processor runs the pipeline for one job at a time. It is the single
// error boundary: any failure after the processing checkpoint is converted
// into a persisted error status before propagating.
type Processor struct {
	repo    repository.ReceiptRepository
	store   storage.Store
	text    TextExtractor
	model   StructuredExtractor
	guard   *dedup.Guard
	metrics *observability.Metrics
	logger  *slog.Logger
}

func NewProcessor(
	repo repository.ReceiptRepository,
	store storage.Store,
	text TextExtractor,
	model StructuredExtractor,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		repo:    repo,
		store:   store,
		text:    text,
		model:   model,
		guard:   dedup.NewGuard(repo),
		metrics: metrics,
		logger:  logger,
	}
}

// Process executes one job to a terminal status. A duplicate image is a
// normal terminal outcome (error status referencing the original), not a
// system failure; the returned error is reserved for real failures, which
// have already been persisted as the receipt's error status by the time
// Process returns.
func (p *Processor) Process(ctx context.Context, job entity.Job) error {
	start := time.Now()
	log := p.logger.With("receipt_id", job.ReceiptID)

	rec, err := p.repo.GetByID(ctx, job.ReceiptID)
	if err != nil {
		// No receipt row means nothing to persist an error onto. The job
		// is dropped.
		log.Error("pipeline.receipt.missing", "error", err)
		p.metrics.ObserveJob("dropped", time.Since(start))
		return fmt.Errorf("load receipt %s: %w", job.ReceiptID, err)
	}

	// An explicit reprocess resets the receipt to pending before re-entry;
	// without the flag, only pending receipts may enter processing, so a
	// redelivered job for a finished receipt is dropped.
	from := rec.Status
	if job.Reprocess && from != constants.StatusPending {
		from = constants.StatusPending
	}
	if !constants.CanTransition(from, constants.StatusProcessing) {
		log.Warn("pipeline.transition.rejected", "status", rec.Status, "reprocess", job.Reprocess)
		p.metrics.ObserveJob("dropped", time.Since(start))
		return fmt.Errorf("receipt %s in status %s cannot enter processing", rec.ID, rec.Status)
	}

	if err := p.repo.MarkProcessing(ctx, rec.ID); err != nil {
		log.Error("pipeline.mark_processing.failed", "error", err)
		p.metrics.ObserveJob("dropped", time.Since(start))
		return fmt.Errorf("mark processing: %w", err)
	}
	log.Info("pipeline.run.start", "storage_key", job.StorageKey, "reprocess", job.Reprocess)

	outcome, err := p.run(ctx, log, rec, job)
	p.metrics.ObserveJob(outcome, time.Since(start))
	if err != nil {
		return p.fail(ctx, log, rec.ID, err)
	}
	log.Info("pipeline.run.finished", "outcome", outcome, "elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

// run covers steps from image fetch through final persistence. Returning an
// error leaves the terminal write to the caller's fail path.
func (p *Processor) run(ctx context.Context, log *slog.Logger, rec *entity.Receipt, job entity.Job) (string, error) {
	data, err := p.store.Get(ctx, job.StorageKey)
	if err != nil {
		return "error", fmt.Errorf("fetch image %q: %w", job.StorageKey, err)
	}

	digest := dedup.Checksum(data)
	dup, err := p.guard.FindDuplicate(ctx, digest, rec.ID)
	if err != nil {
		return "error", fmt.Errorf("duplicate lookup: %w", err)
	}
	if dup != nil {
		dupErr := fmt.Errorf("%w: original receipt %s", common.ErrDuplicate, dup.ID)
		log.Info("pipeline.duplicate.detected", "original_id", dup.ID, "checksum", digest)
		if err := p.repo.MarkFailed(ctx, rec.ID, dupErr.Error(), time.Now().UTC()); err != nil {
			return "error", fmt.Errorf("persist duplicate status: %w", err)
		}
		return "duplicate", nil
	}

	if err := p.repo.SetChecksum(ctx, rec.ID, digest); err != nil {
		return "error", fmt.Errorf("store checksum: %w", err)
	}

	ocrStart := time.Now()
	text, err := p.text.Extract(ctx, data)
	if err != nil {
		return "error", fmt.Errorf("text extraction: %w", err)
	}
	p.metrics.ObserveOCR(time.Since(ocrStart))
	if err := p.repo.SetOCRText(ctx, rec.ID, text.Text); err != nil {
		return "error", fmt.Errorf("store recognized text: %w", err)
	}
	log.Info("pipeline.ocr.done", "engine", text.Engine, "confidence", text.Confidence, "text_len", len(text.Text))

	mimeType := "image/png"
	if rec.ContentType != nil {
		mimeType = *rec.ContentType
	}
	cand, source, err := p.model.ExtractHybrid(ctx, data, mimeType, text.Text)
	if err != nil {
		return "error", fmt.Errorf("structured extraction: %w", err)
	}
	if source == llm.SourceText {
		p.metrics.IncFallback()
	}

	norm := normalize.Normalize(cand)
	logDroppedFields(log, cand, norm)

	upd := &repository.ExtractionUpdate{
		Vendor:         norm.Vendor,
		Date:           norm.Date,
		TotalAmount:    norm.TotalAmount,
		TaxAmount:      norm.TaxAmount,
		SubtotalAmount: norm.SubtotalAmount,
		Currency:       norm.Currency,
		Category:       norm.Category,
		PaymentMethod:  norm.PaymentMethod,
		LineItems:      norm.LineItems,
		Confidence:     norm.Confidence,
		ModelVersion:   p.model.ModelVersion(),
	}
	if err := p.repo.SaveExtraction(ctx, rec.ID, upd, time.Now().UTC()); err != nil {
		return "error", fmt.Errorf("persist extraction: %w", err)
	}
	return "done", nil
}

// fail persists the terminal error status and propagates the original error
// so the dispatch layer can log it. If even the error write fails there is
// nothing left to do but log; the receipt stays in processing for external
// recovery tooling.
func (p *Processor) fail(ctx context.Context, log *slog.Logger, id uuid.UUID, cause error) error {
	log.Error("pipeline.run.failed", "error", cause)
	if perr := p.repo.MarkFailed(ctx, id, cause.Error(), time.Now().UTC()); perr != nil {
		log.Error("pipeline.error_status.unpersisted", "error", perr)
	}
	return cause
}

func logDroppedFields(log *slog.Logger, cand *llm.Candidate, norm normalize.Normalized) {
	if cand == nil {
		return
	}
	if cand.Date != nil && norm.Date == nil {
		log.Warn("normalize.date.dropped", "raw", *cand.Date)
	}
	if cand.TotalAmount != nil && norm.TotalAmount == nil {
		log.Warn("normalize.total_amount.dropped", "raw", *cand.TotalAmount)
	}
	if cand.TaxAmount != nil && norm.TaxAmount == nil {
		log.Warn("normalize.tax_amount.dropped", "raw", *cand.TaxAmount)
	}
	if cand.SubtotalAmount != nil && norm.SubtotalAmount == nil {
		log.Warn("normalize.subtotal_amount.dropped", "raw", *cand.SubtotalAmount)
	}
}
