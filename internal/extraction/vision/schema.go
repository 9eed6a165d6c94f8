package vision

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"payproof/internal/extraction"
)

// lowConfidenceFloor is assigned when the model's payload cannot be parsed.
// The submission still reaches manual review instead of being dropped.
const lowConfidenceFloor = 0.05

// payload is the versioned response contract. Every field is present in the
// prompt's requested shape; absent facts come back as null, never omitted.
type payload struct {
	PaymentMethod   flexString `json:"payment_method"`
	Amount          flexString `json:"amount"`
	Currency        flexString `json:"currency"`
	SenderInfo      flexString `json:"sender_info"`
	RecipientInfo   flexString `json:"recipient_info"`
	ReferenceNumber flexString `json:"reference_number"`
	Confidence      float64    `json:"confidence"`
	Reasoning       string     `json:"reasoning"`
}

// flexString tolerates the model answering with a JSON number or bool where
// a string was requested.
type flexString struct {
	Value *string
}

func (f *flexString) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return nil
		}
		f.Value = &s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		s := n.String()
		f.Value = &s
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		s := fmt.Sprintf("%v", b)
		f.Value = &s
		return nil
	}
	return fmt.Errorf("unsupported JSON value: %s", string(data))
}

// parseResult turns raw model output into a StructuredResult. Malformed
// payloads are normalized into an explicit low-confidence result rather than
// an error, so the pipeline can still route to manual review.
func parseResult(raw string) *extraction.StructuredResult {
	var p payload
	if err := json.Unmarshal([]byte(repairJSON(raw)), &p); err != nil {
		return &extraction.StructuredResult{
			Confidence:     lowConfidenceFloor,
			RawDescription: raw,
		}
	}

	conf := p.Confidence
	if conf > 1 {
		// Some model runs answer 0-100 despite the prompt
		conf = conf / 100
	}
	if conf <= 0 {
		conf = lowConfidenceFloor
	}
	if conf > 1 {
		conf = 1
	}

	return &extraction.StructuredResult{
		Fields: extraction.StructuredFields{
			PaymentMethod:   p.PaymentMethod.Value,
			Amount:          p.Amount.Value,
			Currency:        p.Currency.Value,
			SenderInfo:      p.SenderInfo.Value,
			RecipientInfo:   p.RecipientInfo.Value,
			ReferenceNumber: p.ReferenceNumber.Value,
		},
		Confidence:     conf,
		RawDescription: p.Reasoning,
	}
}

var stringValueRe = regexp.MustCompile(`"([^"]*(?:\\.[^"]*)*)"`)

// repairJSON fixes the common damage in model output: markdown code fences
// around the object, prose before or after it, and literal control
// characters inside string values that break the JSON parser.
func repairJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Strip markdown fences
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	// Keep only the outermost object
	if start := strings.Index(s, "{"); start >= 0 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}

	// Escape literal control characters inside string values
	return stringValueRe.ReplaceAllStringFunc(s, func(match string) string {
		if len(match) < 2 {
			return match
		}
		content := match[1 : len(match)-1]
		content = strings.ReplaceAll(content, "\n", `\n`)
		content = strings.ReplaceAll(content, "\r", `\r`)
		content = strings.ReplaceAll(content, "\t", `\t`)
		var b strings.Builder
		for _, ch := range content {
			if ch < 0x20 {
				fmt.Fprintf(&b, `\u%04x`, ch)
			} else {
				b.WriteRune(ch)
			}
		}
		return `"` + b.String() + `"`
	})
}
