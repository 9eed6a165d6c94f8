package extraction

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// structuredGate is the confidence at or above which a structured-extractor
// field is taken as-is without consulting the OCR text.
const structuredGate = 0.75

// methodKeywords maps payment app / bank keywords found in receipt text to a
// canonical method tag, per the markets this system serves. Ordered so the
// merge stays deterministic when a receipt mentions several providers.
var methodKeywords = []struct {
	keyword string
	tag     string
}{
	{"GCASH", "gcash"},
	{"PAYMAYA", "maya"},
	{"MAYA", "maya"},
	{"GRABPAY", "grabpay"},
	{"SHOPEEPAY", "shopeepay"},
	{"BPI", "bpi"},
	{"BDO", "bdo"},
	{"UNIONBANK", "unionbank"},
	{"MAYBANK", "maybank"},
	{"CIMB", "cimb"},
	{"BCA", "bca"},
	{"BRI", "bri"},
	{"MANDIRI", "mandiri"},
	{"DANA", "dana"},
	{"GOPAY", "gopay"},
	{"OVO", "ovo"},
	{"PAYNOW", "paynow"},
	{"PROMPTPAY", "promptpay"},
}

// referencePatterns are known reference-code shapes, highest-precision first:
// a labeled reference, the 13-digit wallet format, then letter-prefixed codes.
var referencePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bref(?:erence)?\s*(?:no|number|#)?\.?\s*:?\s*([A-Z0-9][A-Z0-9-]{5,24})`),
	regexp.MustCompile(`\b(\d{13})\b`),
	regexp.MustCompile(`\b([A-Z]{2,6}\d{6,18})\b`),
}

// Normalizer deterministically merges the two extractor outputs into one
// ExtractedPayment. Either input may be nil after a soft failure.
type Normalizer struct {
	SaneMin decimal.Decimal
	SaneMax decimal.Decimal
}

func NewNormalizer() *Normalizer {
	return &Normalizer{
		SaneMin: decimal.NewFromInt(1),
		SaneMax: decimal.NewFromInt(1_000_000),
	}
}

// Normalize applies the per-field priority rules: trust the structured
// extractor at or above the confidence gate, otherwise recover from the OCR
// text, otherwise leave the field absent. Nothing is ever guessed.
func (n *Normalizer) Normalize(text *TextResult, structured *StructuredResult, now time.Time) ExtractedPayment {
	out := ExtractedPayment{
		Confidence:  make(map[Field]float64),
		Sources:     make(map[Field]Source),
		ExtractedAt: now,
	}

	rawText := ""
	if text != nil {
		rawText = text.FullText
	}

	var fields StructuredFields
	structuredConf := 0.0
	if structured != nil {
		fields = structured.Fields
		structuredConf = structured.Confidence
	}
	gated := structuredConf >= structuredGate

	n.normalizeAmountAndCurrency(&out, fields, structuredConf, gated, rawText)
	n.normalizeReference(&out, fields, structuredConf, gated, rawText)
	n.normalizeMethod(&out, fields, structuredConf, gated, rawText)
	n.normalizeSender(&out, fields, structuredConf, gated)

	return out
}

func (n *Normalizer) normalizeAmountAndCurrency(out *ExtractedPayment, fields StructuredFields, conf float64, gated bool, rawText string) {
	// Amount: structured first, then symbol-anchored recovery from OCR text.
	// A symbol-anchored hit also carries the currency.
	var textAmount decimal.Decimal
	var textCurrency Currency
	textHit := false
	if rawText != "" {
		textAmount, textCurrency, textHit = FindAnchoredAmount(rawText)
		if textHit && !n.sane(textAmount) {
			textHit = false
		}
	}

	if gated && fields.Amount != nil {
		if amount, err := ParseAmount(*fields.Amount); err == nil && n.sane(amount) {
			out.Amount = amount
			out.Confidence[FieldAmount] = conf
			out.Sources[FieldAmount] = SourceVision
		}
	}
	if !out.Has(FieldAmount) && textHit {
		out.Amount = textAmount
		out.Confidence[FieldAmount] = 0.6
		out.Sources[FieldAmount] = SourceOCRText
	}

	// Currency: an explicit symbol or keyword in either source wins.
	if gated && fields.Currency != nil {
		if cur, ok := ParseCurrency(*fields.Currency); ok {
			out.Currency = cur
			out.Confidence[FieldCurrency] = conf
			out.Sources[FieldCurrency] = SourceVision
		}
	}
	if !out.Has(FieldCurrency) && fields.Amount != nil {
		// Even below the gate a symbol printed inside the amount string is
		// explicit evidence, not a guess.
		if cur, ok := FindCurrency(*fields.Amount); ok {
			out.Currency = cur
			out.Confidence[FieldCurrency] = 0.6
			out.Sources[FieldCurrency] = SourceVision
		}
	}
	if !out.Has(FieldCurrency) && textHit {
		out.Currency = textCurrency
		out.Confidence[FieldCurrency] = 0.6
		out.Sources[FieldCurrency] = SourceOCRText
	}
	if !out.Has(FieldCurrency) && rawText != "" {
		if cur, ok := FindCurrency(rawText); ok {
			out.Currency = cur
			out.Confidence[FieldCurrency] = 0.5
			out.Sources[FieldCurrency] = SourceOCRText
		}
	}
}

func (n *Normalizer) normalizeReference(out *ExtractedPayment, fields StructuredFields, conf float64, gated bool, rawText string) {
	if gated && fields.ReferenceNumber != nil {
		ref := strings.TrimSpace(*fields.ReferenceNumber)
		if ref != "" {
			out.Reference = strings.ToUpper(ref)
			out.Confidence[FieldReference] = conf
			out.Sources[FieldReference] = SourceVision
			return
		}
	}
	for _, re := range referencePatterns {
		if m := re.FindStringSubmatch(strings.ToUpper(rawText)); m != nil {
			out.Reference = m[1]
			out.Confidence[FieldReference] = 0.6
			out.Sources[FieldReference] = SourceOCRText
			return
		}
	}
}

func (n *Normalizer) normalizeMethod(out *ExtractedPayment, fields StructuredFields, conf float64, gated bool, rawText string) {
	if gated && fields.PaymentMethod != nil {
		method := strings.ToLower(strings.TrimSpace(*fields.PaymentMethod))
		if method != "" {
			out.Method = method
			out.Confidence[FieldMethod] = conf
			out.Sources[FieldMethod] = SourceVision
			return
		}
	}
	upper := strings.ToUpper(rawText)
	for _, kw := range methodKeywords {
		if containsWord(upper, kw.keyword) {
			out.Method = kw.tag
			out.Confidence[FieldMethod] = 0.6
			out.Sources[FieldMethod] = SourceOCRText
			return
		}
	}
}

func (n *Normalizer) normalizeSender(out *ExtractedPayment, fields StructuredFields, conf float64, gated bool) {
	// No reliable textual shape exists for sender names, so rule 2 recovery
	// does not apply; below the gate the field stays absent.
	if gated && fields.SenderInfo != nil {
		sender := strings.TrimSpace(*fields.SenderInfo)
		if sender != "" {
			out.SenderName = sender
			out.Confidence[FieldSender] = conf
			out.Sources[FieldSender] = SourceVision
		}
	}
}

func (n *Normalizer) sane(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(n.SaneMin) && amount.LessThanOrEqual(n.SaneMax)
}

// containsWord reports whether keyword appears in s bounded by non-letters.
func containsWord(s, keyword string) bool {
	idx := 0
	for {
		pos := strings.Index(s[idx:], keyword)
		if pos < 0 {
			return false
		}
		at := idx + pos
		end := at + len(keyword)
		beforeOK := at == 0 || !isLetter(s[at-1])
		afterOK := end >= len(s) || !isLetter(s[end])
		if beforeOK && afterOK {
			return true
		}
		idx = end
	}
}
