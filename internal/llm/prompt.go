package llm

import (
	"fmt"
	"strings"

	"github.com/expensobot/receipts-engine/constants"
)

const candidateShape = `{
  "vendor": "name of the vendor/merchant",
  "date": "receipt date in YYYY-MM-DD format (convert DD/MM/YYYY if needed)",
  "total_amount": numeric value (convert comma decimals to dots, e.g., 70,000 -> 70.00 or 70000.00 depending on context),
  "currency": "3-letter ISO currency code (e.g., USD, EUR, TND)",
  "tax_amount": numeric value or null,
  "subtotal_amount": numeric value or null,
  "payment_method": "cash, credit, debit, mobile, recharge, etc.",
  "category": "expense category",
  "line_items": [
    {
      "description": "item description",
      "quantity": numeric value,
      "unit_price": numeric value,
      "total_price": numeric value
    }
  ],
  "transaction_id": "any reference or transaction number visible",
  "location": "store location or address",
  "confidence_scores": {
    "vendor": 0-100,
    "date": 0-100,
    "total_amount": 0-100,
    "overall": 0-100
  }
}`

const promptRules = `Rules:
1. Return ONLY valid JSON, no additional text
2. Use null for missing/uncertain values
3. Convert comma decimals to dots (70,000 -> 70.00 or 70000.00 depending on context)
4. For dates in DD/MM/YYYY format, convert to YYYY-MM-DD
5. Detect currency from country context
6. Handle multi-language receipts (French, Arabic, English, etc.)
7. Extract ALL visible numbers including transaction IDs`

// ImagePrompt instructs the model for direct-from-image extraction.
func ImagePrompt() string {
	return fmt.Sprintf(`Analyze this receipt image and extract the following information in JSON format.
Handle receipts in ANY language (English, French, Arabic, etc.):

%s

%s
%s`, candidateShape, promptRules, categoryLine())
}

// TextPrompt instructs the model for extraction from OCR output, which may
// contain recognition noise.
func TextPrompt(ocrText string) string {
	return fmt.Sprintf(`You are an expert at extracting structured data from receipt OCR text in ANY language (English, French, Arabic, etc.).
The text may contain recognition errors; use context to correct obvious ones.

Given the following OCR text from a receipt, extract the following information in JSON format:

%s

%s
%s

OCR Text:
%s

JSON Output:`, candidateShape, promptRules, categoryLine(), ocrText)
}

func categoryLine() string {
	return "Suggested categories: " + strings.Join(constants.SuggestedCategories, ", ") + "."
}
