// Package llm extracts structured receipt fields from images or OCR text via
// a generative model. Model responses are schema-validated before anything
// downstream touches them.
package llm

import "context"

// LineItem is one purchased item as the model reports it. All fields are
// optional; absent means the model could not read it.
type LineItem struct {
	Description *string  `json:"description,omitempty"`
	Quantity    *float64 `json:"quantity,omitempty"`
	UnitPrice   *float64 `json:"unit_price,omitempty"`
	TotalPrice  *float64 `json:"total_price,omitempty"`
}

// ConfidenceScores carries the model's self-reported per-field confidence
// in 0..100.
type ConfidenceScores struct {
	Vendor      *float64 `json:"vendor,omitempty"`
	Date        *float64 `json:"date,omitempty"`
	TotalAmount *float64 `json:"total_amount,omitempty"`
	Overall     *float64 `json:"overall,omitempty"`
}

// Candidate is the raw extraction before normalization. String amounts and
// dates arrive as the model printed them and are cleaned by the normalizer,
// not here.
type Candidate struct {
	Vendor         *string           `json:"vendor,omitempty"`
	Date           *string           `json:"date,omitempty"`
	TotalAmount    *string           `json:"total_amount,omitempty"`
	TaxAmount      *string           `json:"tax_amount,omitempty"`
	SubtotalAmount *string           `json:"subtotal_amount,omitempty"`
	Currency       *string           `json:"currency,omitempty"`
	PaymentMethod  *string           `json:"payment_method,omitempty"`
	Category       *string           `json:"category,omitempty"`
	TransactionID  *string           `json:"transaction_id,omitempty"`
	Location       *string           `json:"location,omitempty"`
	LineItems      []LineItem        `json:"line_items,omitempty"`
	Confidence     *ConfidenceScores `json:"confidence_scores,omitempty"`
}

// Extractor is the model boundary. Implementations must return candidates
// that already passed schema validation.
type Extractor interface {
	ExtractFromImage(ctx context.Context, imageData []byte, mimeType string) (*Candidate, error)
	ExtractFromText(ctx context.Context, ocrText string) (*Candidate, error)
	ModelVersion() string
}
