package extraction

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Currency is an ISO-4217 code. Only currencies with an anchor in the
// normalizer's symbol/keyword tables are ever produced.
type Currency string

const (
	CurrencyPHP Currency = "PHP"
	CurrencyMYR Currency = "MYR"
	CurrencyIDR Currency = "IDR"
	CurrencySGD Currency = "SGD"
	CurrencyTHB Currency = "THB"
	CurrencyVND Currency = "VND"
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
)

// Field names a slot of ExtractedPayment for confidence and provenance maps.
type Field string

const (
	FieldAmount    Field = "amount"
	FieldCurrency  Field = "currency"
	FieldMethod    Field = "method"
	FieldSender    Field = "sender"
	FieldReference Field = "reference"
)

// Source records which extractor contributed a field.
type Source string

const (
	SourceVision  Source = "vision"
	SourceOCRText Source = "ocr_text"
)

// Token is one OCR token with its confidence and bounding box.
type Token struct {
	Text       string
	Confidence float64
	BBox       BBox
}

// BBox is a token bounding box in image pixel coordinates.
type BBox struct {
	Left   int
	Top    int
	Width  int
	Height int
}

// TextResult is the text extractor output: raw text plus per-token
// confidence. Tokens below the adapter's confidence floor are already
// filtered out.
type TextResult struct {
	FullText string
	Tokens   []Token
}

// StructuredFields is the vision extractor's best-effort partial record.
// Absent fields are nil, never omitted, so the normalizer can distinguish
// "not found" from "not requested".
type StructuredFields struct {
	PaymentMethod   *string
	Amount          *string
	Currency        *string
	SenderInfo      *string
	RecipientInfo   *string
	ReferenceNumber *string
}

// StructuredResult is the vision extractor output with overall confidence.
// Unparsable model payloads are normalized into a low-confidence result at
// the adapter boundary rather than surfaced as errors.
type StructuredResult struct {
	Fields         StructuredFields
	Confidence     float64
	RawDescription string
}

// Hints carries expected-context facts (from a hinted obligation) that the
// vision extractor folds into its prompt to improve precision.
type Hints struct {
	Amount    *decimal.Decimal
	Currency  *Currency
	Reference *string
}

// ExtractedPayment is the normalized merge of both extractor outputs.
// Immutable once created; re-extraction creates a new value.
type ExtractedPayment struct {
	Amount      decimal.Decimal
	Currency    Currency
	Method      string
	SenderName  string
	Reference   string
	Confidence  map[Field]float64
	Sources     map[Field]Source
	ExtractedAt time.Time
}

// Has reports whether a field was recovered by either extractor.
func (p ExtractedPayment) Has(f Field) bool {
	_, ok := p.Sources[f]
	return ok
}

// TextExtractor turns an image into raw text with per-token confidence.
type TextExtractor interface {
	ExtractText(ctx context.Context, image []byte) (*TextResult, error)
}

// StructuredExtractor turns an image into a structured best-guess payment
// record with an overall confidence.
type StructuredExtractor interface {
	ExtractPayment(ctx context.Context, image []byte, hints *Hints) (*StructuredResult, error)
}
