package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expensobot/receipts-engine/internal/common"
)

func TestParseCandidatePlainJSON(t *testing.T) {
	cand, err := ParseCandidate(`{"vendor": "Monoprix", "total_amount": "42.50", "currency": "TND"}`)
	require.NoError(t, err)
	require.NotNil(t, cand.Vendor)
	assert.Equal(t, "Monoprix", *cand.Vendor)
	require.NotNil(t, cand.TotalAmount)
	assert.Equal(t, "42.50", *cand.TotalAmount)
}

func TestParseCandidateStripsCodeFences(t *testing.T) {
	raw := "```json\n{\"vendor\": \"Shop\", \"date\": \"2024-03-15\"}\n```"
	cand, err := ParseCandidate(raw)
	require.NoError(t, err)
	require.NotNil(t, cand.Vendor)
	assert.Equal(t, "Shop", *cand.Vendor)
	require.NotNil(t, cand.Date)
	assert.Equal(t, "2024-03-15", *cand.Date)
}

func TestParseCandidateSurroundingProse(t *testing.T) {
	raw := "Here is the extracted data:\n{\"vendor\": \"Shop\"}\nLet me know if you need more."
	cand, err := ParseCandidate(raw)
	require.NoError(t, err)
	require.NotNil(t, cand.Vendor)
}

func TestParseCandidateNumericAmounts(t *testing.T) {
	// Models sometimes return numbers despite being asked for strings.
	cand, err := ParseCandidate(`{"total_amount": 70.5, "tax_amount": null}`)
	require.NoError(t, err)
	require.NotNil(t, cand.TotalAmount)
	assert.Equal(t, "70.5", *cand.TotalAmount)
	assert.Nil(t, cand.TaxAmount)
}

func TestParseCandidateLineItemsAndConfidence(t *testing.T) {
	raw := `{
		"line_items": [{"description": "Milk", "quantity": 2, "unit_price": 1.99, "total_price": 3.98}],
		"confidence_scores": {"vendor": 95, "overall": 90}
	}`
	cand, err := ParseCandidate(raw)
	require.NoError(t, err)
	require.Len(t, cand.LineItems, 1)
	require.NotNil(t, cand.LineItems[0].Quantity)
	assert.Equal(t, 2.0, *cand.LineItems[0].Quantity)
	require.NotNil(t, cand.Confidence)
	require.NotNil(t, cand.Confidence.Overall)
	assert.Equal(t, 90.0, *cand.Confidence.Overall)
}

func TestParseCandidateInvalid(t *testing.T) {
	for name, raw := range map[string]string{
		"no json":        "sorry, I could not read the receipt",
		"empty":          "",
		"truncated":      `{"vendor": "Sho`,
		"wrong type":     `{"vendor": 42}`,
		"bad line items": `{"line_items": "none"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCandidate(raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, common.ErrInvalidResponse), "got %v", err)
		})
	}
}
