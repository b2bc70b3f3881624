package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/expensobot/receipts-engine/constants"
	"github.com/expensobot/receipts-engine/internal/common"
	"github.com/expensobot/receipts-engine/internal/entity"
)

// ExtractionUpdate carries the normalized output fields of one successful
// run. Nil fields are absent from the UPDATE entirely, so a reprocess never
// clears data the model did not return this time.
type ExtractionUpdate struct {
	Vendor         *string
	Date           *time.Time
	TotalAmount    *decimal.Decimal
	TaxAmount      *decimal.Decimal
	SubtotalAmount *decimal.Decimal
	Currency       *string
	Category       *string
	PaymentMethod  *string
	LineItems      []entity.LineItem
	Confidence     *entity.ConfidenceScores
	ModelVersion   string
}

// ReceiptRepository is the record-store contract the pipeline depends on.
type ReceiptRepository interface {
	Create(ctx context.Context, rec *entity.Receipt) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Receipt, error)
	FindByChecksum(ctx context.Context, digest string, excludingID uuid.UUID) (*entity.Receipt, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	SetChecksum(ctx context.Context, id uuid.UUID, digest string) error
	SetOCRText(ctx context.Context, id uuid.UUID, text string) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, processedAt time.Time) error
	SaveExtraction(ctx context.Context, id uuid.UUID, upd *ExtractionUpdate, processedAt time.Time) error
}

type receiptRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewReceiptRepository returns a PostgreSQL-backed ReceiptRepository.
func NewReceiptRepository(pool *pgxpool.Pool, logger *slog.Logger) ReceiptRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &receiptRepository{pool: pool, logger: logger}
}

const receiptColumns = `
	id, user_id, created_at, processed_at, status, error_message,
	original_filename, file_size, content_type, storage_key, storage_url,
	vendor, date, total_amount::text, currency, tax_amount::text,
	subtotal_amount::text, category, payment_method, line_items, ocr_text,
	checksum, model_version, confidence`

func (r *receiptRepository) Create(ctx context.Context, rec *entity.Receipt) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Status == "" {
		rec.Status = constants.StatusPending
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO receipts (id, user_id, status, original_filename, file_size, content_type, storage_key, storage_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.UserID, string(rec.Status),
		rec.OriginalFilename, rec.FileSize, rec.ContentType, rec.StorageKey, rec.StorageURL,
	)
	if err != nil {
		r.logger.Error("failed to create receipt", "receipt_id", rec.ID, "error", err)
		return fmt.Errorf("create receipt: %w", err)
	}
	return nil
}

func (r *receiptRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Receipt, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id = $1`, id)
	rec, err := scanReceipt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get receipt: %w", err)
	}
	return rec, nil
}

func (r *receiptRepository) FindByChecksum(ctx context.Context, digest string, excludingID uuid.UUID) (*entity.Receipt, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE checksum = $1 AND id <> $2 LIMIT 1`,
		digest, excludingID)
	rec, err := scanReceipt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by checksum: %w", err)
	}
	return rec, nil
}

func (r *receiptRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, id, `UPDATE receipts SET status = $2 WHERE id = $1`, string(constants.StatusProcessing))
}

func (r *receiptRepository) SetChecksum(ctx context.Context, id uuid.UUID, digest string) error {
	return r.exec(ctx, id, `UPDATE receipts SET checksum = $2 WHERE id = $1`, digest)
}

func (r *receiptRepository) SetOCRText(ctx context.Context, id uuid.UUID, text string) error {
	return r.exec(ctx, id, `UPDATE receipts SET ocr_text = $2 WHERE id = $1`, text)
}

func (r *receiptRepository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, processedAt time.Time) error {
	return r.exec(ctx, id,
		`UPDATE receipts SET status = $2, error_message = $3, processed_at = $4 WHERE id = $1`,
		string(constants.StatusError), errMsg, processedAt)
}

// SaveExtraction writes every field the run produced plus the terminal
// status, in a single statement. Fields missing from upd stay untouched.
func (r *receiptRepository) SaveExtraction(ctx context.Context, id uuid.UUID, upd *ExtractionUpdate, processedAt time.Time) error {
	sets := []string{"status = $2", "processed_at = $3", "model_version = $4"}
	args := []any{id, string(constants.StatusDone), processedAt, upd.ModelVersion}

	add := func(col string, val any) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if upd.Vendor != nil {
		add("vendor", *upd.Vendor)
	}
	if upd.Date != nil {
		add("date", *upd.Date)
	}
	if upd.TotalAmount != nil {
		add("total_amount", upd.TotalAmount.StringFixed(2))
	}
	if upd.TaxAmount != nil {
		add("tax_amount", upd.TaxAmount.StringFixed(2))
	}
	if upd.SubtotalAmount != nil {
		add("subtotal_amount", upd.SubtotalAmount.StringFixed(2))
	}
	if upd.Currency != nil {
		add("currency", *upd.Currency)
	}
	if upd.Category != nil {
		add("category", *upd.Category)
	}
	if upd.PaymentMethod != nil {
		add("payment_method", *upd.PaymentMethod)
	}
	if upd.LineItems != nil {
		b, err := json.Marshal(upd.LineItems)
		if err != nil {
			return fmt.Errorf("marshal line items: %w", err)
		}
		add("line_items", b)
	}
	if upd.Confidence != nil {
		b, err := json.Marshal(upd.Confidence)
		if err != nil {
			return fmt.Errorf("marshal confidence: %w", err)
		}
		add("confidence", b)
	}

	query := `UPDATE receipts SET ` + strings.Join(sets, ", ") + ` WHERE id = $1`
	ct, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		r.logger.Error("failed to save extraction", "receipt_id", id, "error", err)
		return fmt.Errorf("save extraction: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *receiptRepository) exec(ctx context.Context, id uuid.UUID, query string, args ...any) error {
	all := append([]any{id}, args...)
	ct, err := r.pool.Exec(ctx, query, all...)
	if err != nil {
		r.logger.Error("receipt update failed", "receipt_id", id, "error", err)
		return fmt.Errorf("update receipt: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

func scanReceipt(row pgx.Row) (*entity.Receipt, error) {
	var (
		rec                           entity.Receipt
		status                        string
		total, tax, subtotal          *string
		lineItemsJSON, confidenceJSON []byte
	)
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.CreatedAt, &rec.ProcessedAt, &status, &rec.ErrorMessage,
		&rec.OriginalFilename, &rec.FileSize, &rec.ContentType, &rec.StorageKey, &rec.StorageURL,
		&rec.Vendor, &rec.Date, &total, &rec.Currency, &tax,
		&subtotal, &rec.Category, &rec.PaymentMethod, &lineItemsJSON, &rec.OCRText,
		&rec.Checksum, &rec.ModelVersion, &confidenceJSON,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = constants.ReceiptStatus(status)

	parseDec := func(s *string) (*decimal.Decimal, error) {
		if s == nil {
			return nil, nil
		}
		d, err := decimal.NewFromString(strings.TrimSpace(*s))
		if err != nil {
			return nil, err
		}
		return &d, nil
	}
	if rec.TotalAmount, err = parseDec(total); err != nil {
		return nil, fmt.Errorf("total_amount: %w", err)
	}
	if rec.TaxAmount, err = parseDec(tax); err != nil {
		return nil, fmt.Errorf("tax_amount: %w", err)
	}
	if rec.SubtotalAmount, err = parseDec(subtotal); err != nil {
		return nil, fmt.Errorf("subtotal_amount: %w", err)
	}
	if lineItemsJSON != nil {
		if err := json.Unmarshal(lineItemsJSON, &rec.LineItems); err != nil {
			return nil, fmt.Errorf("line_items: %w", err)
		}
	}
	if confidenceJSON != nil {
		rec.Confidence = &entity.ConfidenceScores{}
		if err := json.Unmarshal(confidenceJSON, rec.Confidence); err != nil {
			return nil, fmt.Errorf("confidence: %w", err)
		}
	}
	return &rec, nil
}
