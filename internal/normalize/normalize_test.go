package normalize

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expensobot/receipts-engine/internal/llm"
)

func strPtr(s string) *string   { return &s }
func f64Ptr(f float64) *float64 { return &f }

func TestNormalizeCurrency(t *testing.T) {
	tests := []struct {
		name string
		in   *string
		want string
	}{
		{"lowercase code uppercased", strPtr("usd"), "USD"},
		{"numeric defaults", strPtr("12"), "USD"},
		{"valid passes through", strPtr("EUR"), "EUR"},
		{"absent defaults", nil, "USD"},
		{"too long defaults", strPtr("EURO"), "USD"},
		{"mixed case", strPtr("tNd"), "TND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Normalize(&llm.Candidate{Currency: tt.in})
			require.NotNil(t, out.Currency)
			assert.Equal(t, tt.want, *out.Currency)
		})
	}
}

func TestNormalizeDate(t *testing.T) {
	want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   string
	}{
		{"iso", "2024-03-15"},
		{"day first", "15/03/2024"},
		{"month first", "03/15/2024"},
		{"long form", "15 March 2024"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Normalize(&llm.Candidate{Date: strPtr(tt.in)})
			require.NotNil(t, out.Date)
			assert.Equal(t, want, out.Date.UTC())
		})
	}

	out := Normalize(&llm.Candidate{Date: strPtr("not-a-date")})
	assert.Nil(t, out.Date, "unparseable date must be dropped, not fail")

	out = Normalize(&llm.Candidate{})
	assert.Nil(t, out.Date)
}

func TestNormalizeAmounts(t *testing.T) {
	out := Normalize(&llm.Candidate{
		TotalAmount:    strPtr("$1,234.56"),
		TaxAmount:      strPtr("garbage"),
		SubtotalAmount: strPtr("70.00"),
	})
	require.NotNil(t, out.TotalAmount)
	assert.True(t, out.TotalAmount.Equal(decimal.RequireFromString("1234.56")))
	assert.Nil(t, out.TaxAmount, "unparseable amount is dropped")
	require.NotNil(t, out.SubtotalAmount)
	assert.True(t, out.SubtotalAmount.Equal(decimal.RequireFromString("70")))
}

func TestNormalizeAmountCommas(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string // "" means dropped
	}{
		{"decimal comma", "42,50", "42.50"},
		{"decimal comma with symbol", "€42,50", "42.50"},
		{"grouped thousands", "1,234", "1234"},
		{"grouped thousands with cents", "1,234,567.89", "1234567.89"},
		{"negative decimal comma", "-7,5", "-7.5"},
		{"comma with four digits", "12,3456", ""},
		{"mixed european grouping", "4.250,75", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Normalize(&llm.Candidate{TotalAmount: strPtr(tt.in)})
			if tt.want == "" {
				assert.Nil(t, out.TotalAmount, "ambiguous comma form must be dropped, not misread")
				return
			}
			require.NotNil(t, out.TotalAmount)
			assert.True(t, out.TotalAmount.Equal(decimal.RequireFromString(tt.want)),
				"got %s", out.TotalAmount)
		})
	}
}

func TestNormalizeStrings(t *testing.T) {
	out := Normalize(&llm.Candidate{
		Vendor:        strPtr("  Monoprix  "),
		Category:      strPtr("  FOOD "),
		PaymentMethod: strPtr("Credit Card"),
	})
	require.NotNil(t, out.Vendor)
	assert.Equal(t, "Monoprix", *out.Vendor)
	require.NotNil(t, out.Category)
	assert.Equal(t, "food", *out.Category)
	require.NotNil(t, out.PaymentMethod)
	assert.Equal(t, "credit card", *out.PaymentMethod)
}

func TestNormalizeAbsentFieldsStayAbsent(t *testing.T) {
	out := Normalize(&llm.Candidate{Vendor: strPtr("Shop")})
	assert.Nil(t, out.Date)
	assert.Nil(t, out.TotalAmount)
	assert.Nil(t, out.TaxAmount)
	assert.Nil(t, out.SubtotalAmount)
	assert.Nil(t, out.Category)
	assert.Nil(t, out.PaymentMethod)
	assert.Nil(t, out.LineItems)
	assert.Nil(t, out.Confidence)
}

func TestNormalizeLineItemsAndConfidence(t *testing.T) {
	out := Normalize(&llm.Candidate{
		LineItems: []llm.LineItem{
			{Description: strPtr(" Milk "), Quantity: f64Ptr(2), TotalPrice: f64Ptr(3.98)},
			{}, // fully empty item is dropped
		},
		Confidence: &llm.ConfidenceScores{
			Vendor:  f64Ptr(95),
			Overall: f64Ptr(90),
		},
	})
	require.Len(t, out.LineItems, 1)
	require.NotNil(t, out.LineItems[0].Description)
	assert.Equal(t, "Milk", *out.LineItems[0].Description)

	require.NotNil(t, out.Confidence)
	require.NotNil(t, out.Confidence.Vendor)
	assert.Equal(t, 95.0, *out.Confidence.Vendor)
	assert.Nil(t, out.Confidence.Date)
}

// Normalizing already-normalized values must be a fixed point.
func TestNormalizeIdempotent(t *testing.T) {
	first := Normalize(&llm.Candidate{
		Vendor:      strPtr("  Carrefour "),
		Date:        strPtr("15 March 2024"),
		TotalAmount: strPtr("€42.50"),
		Currency:    strPtr("eur"),
		Category:    strPtr("Food"),
	})
	require.NotNil(t, first.Date)
	require.NotNil(t, first.TotalAmount)

	again := Normalize(&llm.Candidate{
		Vendor:      first.Vendor,
		Date:        strPtr(first.Date.Format("2006-01-02")),
		TotalAmount: strPtr(first.TotalAmount.String()),
		Currency:    first.Currency,
		Category:    first.Category,
	})
	assert.Equal(t, *first.Vendor, *again.Vendor)
	assert.True(t, first.Date.Equal(*again.Date))
	assert.True(t, first.TotalAmount.Equal(*again.TotalAmount))
	assert.Equal(t, *first.Currency, *again.Currency)
	assert.Equal(t, *first.Category, *again.Category)
}

func TestNormalizeNilCandidate(t *testing.T) {
	out := Normalize(nil)
	assert.Nil(t, out.Vendor)
	assert.Nil(t, out.Currency)
}
