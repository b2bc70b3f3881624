package llm

import (
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/expensobot/receipts-engine/internal/common"
)

const candidateSchemaJSON = `{
  "type": "object",
  "properties": {
    "vendor": {"type": ["string", "null"]},
    "date": {"type": ["string", "null"]},
    "total_amount": {"type": ["string", "number", "null"]},
    "tax_amount": {"type": ["string", "number", "null"]},
    "subtotal_amount": {"type": ["string", "number", "null"]},
    "currency": {"type": ["string", "null"]},
    "payment_method": {"type": ["string", "null"]},
    "category": {"type": ["string", "null"]},
    "transaction_id": {"type": ["string", "null"]},
    "location": {"type": ["string", "null"]},
    "line_items": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "properties": {
          "description": {"type": ["string", "null"]},
          "quantity": {"type": ["number", "null"]},
          "unit_price": {"type": ["number", "null"]},
          "total_price": {"type": ["number", "null"]}
        }
      }
    },
    "confidence_scores": {
      "type": ["object", "null"],
      "properties": {
        "vendor": {"type": ["number", "null"]},
        "date": {"type": ["number", "null"]},
        "total_amount": {"type": ["number", "null"]},
        "overall": {"type": ["number", "null"]}
      }
    }
  }
}`

var candidateSchema = jsonschema.MustCompileString("candidate.json", candidateSchemaJSON)

// ParseCandidate turns a raw model response into a validated Candidate.
// Models routinely wrap JSON in markdown fences or surround it with prose, so
// the payload is located rather than parsed verbatim. Any failure maps to
// ErrInvalidResponse.
func ParseCandidate(raw string) (*Candidate, error) {
	payload := extractJSON(raw)
	if payload == "" {
		return nil, common.WrapError(common.ErrInvalidResponse, "no JSON object in response")
	}

	var doc any
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return nil, common.WrapError(common.ErrInvalidResponse, err.Error())
	}
	if err := candidateSchema.Validate(doc); err != nil {
		return nil, common.WrapError(common.ErrInvalidResponse, err.Error())
	}

	var c candidateWire
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return nil, common.WrapError(common.ErrInvalidResponse, err.Error())
	}
	return c.toCandidate(), nil
}

// candidateWire tolerates numeric amounts, which some model runs emit despite
// the prompt asking for strings.
type candidateWire struct {
	Vendor         *string           `json:"vendor"`
	Date           *string           `json:"date"`
	TotalAmount    json.RawMessage   `json:"total_amount"`
	TaxAmount      json.RawMessage   `json:"tax_amount"`
	SubtotalAmount json.RawMessage   `json:"subtotal_amount"`
	Currency       *string           `json:"currency"`
	PaymentMethod  *string           `json:"payment_method"`
	Category       *string           `json:"category"`
	TransactionID  *string           `json:"transaction_id"`
	Location       *string           `json:"location"`
	LineItems      []LineItem        `json:"line_items"`
	Confidence     *ConfidenceScores `json:"confidence_scores"`
}

func (w candidateWire) toCandidate() *Candidate {
	return &Candidate{
		Vendor:         w.Vendor,
		Date:           w.Date,
		TotalAmount:    rawToString(w.TotalAmount),
		TaxAmount:      rawToString(w.TaxAmount),
		SubtotalAmount: rawToString(w.SubtotalAmount),
		Currency:       w.Currency,
		PaymentMethod:  w.PaymentMethod,
		Category:       w.Category,
		TransactionID:  w.TransactionID,
		Location:       w.Location,
		LineItems:      w.LineItems,
		Confidence:     w.Confidence,
	}
}

func rawToString(raw json.RawMessage) *string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return &s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		s := n.String()
		return &s
	}
	return nil
}

// extractJSON strips markdown code fences and slices from the first '{' to
// the last '}'.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
