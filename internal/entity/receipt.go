package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/expensobot/receipts-engine/constants"
)

// LineItem is one purchased item on a receipt. Every field is independently
// optional; the model frequently returns partial rows.
type LineItem struct {
	Description *string          `json:"description,omitempty"`
	Quantity    *decimal.Decimal `json:"quantity,omitempty"`
	UnitPrice   *decimal.Decimal `json:"unit_price,omitempty"`
	TotalPrice  *decimal.Decimal `json:"total_price,omitempty"`
}

// ConfidenceScores holds the model's per-field confidence on a 0-100 scale.
type ConfidenceScores struct {
	Vendor      *float64 `json:"vendor,omitempty"`
	Date        *float64 `json:"date,omitempty"`
	TotalAmount *float64 `json:"total_amount,omitempty"`
	Overall     *float64 `json:"overall,omitempty"`
}

// Receipt is the unit of work and its result, mirroring the receipts table.
//
// Input fields (OriginalFilename..ContentType, StorageKey/StorageURL) are set
// at creation and immutable afterwards. Output fields (Vendor..ModelVersion)
// are written only by the orchestrator, all-or-nothing per run.
type Receipt struct {
	ID     uuid.UUID `json:"id"`
	UserID uuid.UUID `json:"user_id"`

	Status       constants.ReceiptStatus `json:"status"`
	ErrorMessage *string                 `json:"error_message,omitempty"`
	CreatedAt    time.Time               `json:"created_at"`
	ProcessedAt  *time.Time              `json:"processed_at,omitempty"`

	OriginalFilename *string `json:"original_filename,omitempty"`
	FileSize         *int64  `json:"file_size,omitempty"`
	ContentType      *string `json:"content_type,omitempty"`
	StorageKey       *string `json:"storage_key,omitempty"`
	StorageURL       *string `json:"storage_url,omitempty"`

	Vendor         *string           `json:"vendor,omitempty"`
	Date           *time.Time        `json:"date,omitempty"`
	TotalAmount    *decimal.Decimal  `json:"total_amount,omitempty"`
	TaxAmount      *decimal.Decimal  `json:"tax_amount,omitempty"`
	SubtotalAmount *decimal.Decimal  `json:"subtotal_amount,omitempty"`
	Currency       *string           `json:"currency,omitempty"`
	Category       *string           `json:"category,omitempty"`
	PaymentMethod  *string           `json:"payment_method,omitempty"`
	LineItems      []LineItem        `json:"line_items,omitempty"`
	OCRText        *string           `json:"ocr_text,omitempty"`
	Confidence     *ConfidenceScores `json:"confidence,omitempty"`
	Checksum       *string           `json:"checksum,omitempty"`
	ModelVersion   *string           `json:"model_version,omitempty"`
}

// HasOutput reports whether any orchestrator-written output field is set.
// Used to assert that duplicate and failed runs never touch output fields.
func (r *Receipt) HasOutput() bool {
	return r.Vendor != nil || r.Date != nil || r.TotalAmount != nil ||
		r.TaxAmount != nil || r.SubtotalAmount != nil || r.Currency != nil ||
		r.Category != nil || r.PaymentMethod != nil || len(r.LineItems) > 0 ||
		r.ModelVersion != nil
}
