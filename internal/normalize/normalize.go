// Package normalize cleans raw model extractions into typed, storable values.
// Normalization is a pure function: same candidate in, same output out, no
// side effects. Fields that fail cleaning are dropped, never guessed.
package normalize

import (
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/shopspring/decimal"

	"github.com/expensobot/receipts-engine/internal/entity"
	"github.com/expensobot/receipts-engine/internal/llm"
)

// Normalized holds cleaned extraction fields ready for persistence. Nil
// pointers mean the field was absent or unusable and must not overwrite
// existing data.
type Normalized struct {
	Vendor         *string
	Date           *time.Time
	TotalAmount    *decimal.Decimal
	TaxAmount      *decimal.Decimal
	SubtotalAmount *decimal.Decimal
	Currency       *string
	PaymentMethod  *string
	Category       *string
	TransactionID  *string
	Location       *string
	LineItems      []entity.LineItem
	Confidence     *entity.ConfidenceScores
}

var currencyRe = regexp.MustCompile(`^[A-Za-z]{3}$`)

// amountJunk strips currency symbols and whitespace before decimal parsing.
// Commas are resolved separately in normalizeCommas: "1,234.56" groups
// thousands while "42,50" is a decimal comma, and conflating them shifts the
// amount by a factor of 100.
var amountJunk = strings.NewReplacer(
	"$", "", "€", "", "£", "", "₹", "", "¥", "",
	" ", "", " ", "",
)

var (
	groupedThousandsRe = regexp.MustCompile(`^-?\d{1,3}(,\d{3})+(\.\d+)?$`)
	decimalCommaRe     = regexp.MustCompile(`^-?\d+,\d{1,2}$`)
)

// Normalize converts a validated candidate into typed fields.
func Normalize(c *llm.Candidate) Normalized {
	if c == nil {
		return Normalized{}
	}

	out := Normalized{
		Vendor:         cleanString(c.Vendor),
		Date:           parseDate(c.Date),
		TotalAmount:    parseAmount(c.TotalAmount),
		TaxAmount:      parseAmount(c.TaxAmount),
		SubtotalAmount: parseAmount(c.SubtotalAmount),
		Currency:       normalizeCurrency(c.Currency),
		PaymentMethod:  lowerString(c.PaymentMethod),
		Category:       lowerString(c.Category),
		TransactionID:  cleanString(c.TransactionID),
		Location:       cleanString(c.Location),
	}

	for _, it := range c.LineItems {
		item := entity.LineItem{
			Description: cleanString(it.Description),
			Quantity:    floatToDecimal(it.Quantity),
			UnitPrice:   floatToDecimal(it.UnitPrice),
			TotalPrice:  floatToDecimal(it.TotalPrice),
		}
		if item.Description == nil && item.Quantity == nil && item.UnitPrice == nil && item.TotalPrice == nil {
			continue
		}
		out.LineItems = append(out.LineItems, item)
	}

	// Confidence scores are already shape-validated upstream; pass through.
	if c.Confidence != nil {
		out.Confidence = &entity.ConfidenceScores{
			Vendor:      c.Confidence.Vendor,
			Date:        c.Confidence.Date,
			TotalAmount: c.Confidence.TotalAmount,
			Overall:     c.Confidence.Overall,
		}
	}
	return out
}

func cleanString(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func lowerString(s *string) *string {
	v := cleanString(s)
	if v == nil {
		return nil
	}
	low := strings.ToLower(*v)
	return &low
}

// normalizeCurrency keeps only 3-letter alphabetic codes, uppercased.
// Anything else defaults to USD, matching how unlabeled totals are treated.
func normalizeCurrency(s *string) *string {
	usd := "USD"
	v := cleanString(s)
	if v == nil {
		return &usd
	}
	if !currencyRe.MatchString(*v) {
		return &usd
	}
	up := strings.ToUpper(*v)
	return &up
}

// parseAmount strips symbols and parses into an exact decimal. Negative
// totals are kept; returns are a real thing.
func parseAmount(s *string) *decimal.Decimal {
	v := cleanString(s)
	if v == nil {
		return nil
	}
	cleaned := normalizeCommas(amountJunk.Replace(*v))
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return nil
	}
	return &d
}

// normalizeCommas resolves commas into either grouping separators or a
// decimal point. Forms that are neither ("4.250,75", "12,3456") pass through
// unchanged and fail decimal parsing, dropping the field.
func normalizeCommas(s string) string {
	switch {
	case groupedThousandsRe.MatchString(s):
		return strings.ReplaceAll(s, ",", "")
	case decimalCommaRe.MatchString(s):
		return strings.Replace(s, ",", ".", 1)
	}
	return s
}

// parseDate accepts the many formats receipts print dates in. Ambiguous
// numeric dates retry day-first, so "15/03/2024" parses instead of failing
// on month 15. Unparseable dates are dropped rather than defaulted.
func parseDate(s *string) *time.Time {
	v := cleanString(s)
	if v == nil {
		return nil
	}
	t, err := dateparse.ParseAny(*v, dateparse.RetryAmbiguousDateWithSwap(true))
	if err != nil {
		return nil
	}
	return &t
}

func floatToDecimal(f *float64) *decimal.Decimal {
	if f == nil {
		return nil
	}
	d := decimal.NewFromFloat(*f)
	return &d
}
