package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResult_WellFormedPayload(t *testing.T) {
	raw := `{
		"payment_method": "gcash",
		"amount": "1,500.00",
		"currency": "PHP",
		"sender_info": "Juan Dela Cruz",
		"recipient_info": null,
		"reference_number": "GC123456789",
		"confidence": 0.92,
		"reasoning": "clear screenshot"
	}`

	result := parseResult(raw)

	require.NotNil(t, result.Fields.Amount)
	assert.Equal(t, "1,500.00", *result.Fields.Amount)
	require.NotNil(t, result.Fields.Currency)
	assert.Equal(t, "PHP", *result.Fields.Currency)
	require.NotNil(t, result.Fields.ReferenceNumber)
	assert.Equal(t, "GC123456789", *result.Fields.ReferenceNumber)
	assert.Nil(t, result.Fields.RecipientInfo)
	assert.InDelta(t, 0.92, result.Confidence, 0.001)
}

func TestParseResult_AmountAsNumber(t *testing.T) {
	raw := `{"payment_method": null, "amount": 125, "currency": "MYR",
		"sender_info": null, "recipient_info": null, "reference_number": null,
		"confidence": 0.8, "reasoning": ""}`

	result := parseResult(raw)

	require.NotNil(t, result.Fields.Amount)
	assert.Equal(t, "125", *result.Fields.Amount)
}

func TestParseResult_MarkdownFencedPayload(t *testing.T) {
	raw := "```json\n{\"payment_method\": \"maya\", \"amount\": \"200\", \"currency\": \"PHP\", \"sender_info\": null, \"recipient_info\": null, \"reference_number\": null, \"confidence\": 0.7, \"reasoning\": \"ok\"}\n```"

	result := parseResult(raw)

	require.NotNil(t, result.Fields.PaymentMethod)
	assert.Equal(t, "maya", *result.Fields.PaymentMethod)
	assert.InDelta(t, 0.7, result.Confidence, 0.001)
}

func TestParseResult_LiteralNewlineInsideString(t *testing.T) {
	raw := "{\"payment_method\": null, \"amount\": \"50\", \"currency\": \"SGD\", \"sender_info\": \"Lee\nMing\", \"recipient_info\": null, \"reference_number\": null, \"confidence\": 0.6, \"reasoning\": \"\"}"

	result := parseResult(raw)

	require.NotNil(t, result.Fields.SenderInfo)
	assert.Equal(t, "Lee\nMing", *result.Fields.SenderInfo)
}

func TestParseResult_UnparsableBecomesLowConfidence(t *testing.T) {
	result := parseResult("I could not find any payment information, sorry!")

	assert.Equal(t, lowConfidenceFloor, result.Confidence)
	assert.Nil(t, result.Fields.Amount)
	assert.Nil(t, result.Fields.Currency)
	assert.NotEmpty(t, result.RawDescription)
}

func TestParseResult_PercentScaleConfidence(t *testing.T) {
	raw := `{"payment_method": null, "amount": null, "currency": null,
		"sender_info": null, "recipient_info": null, "reference_number": null,
		"confidence": 85, "reasoning": ""}`

	result := parseResult(raw)

	assert.InDelta(t, 0.85, result.Confidence, 0.001)
}

func TestParseResult_EmptyStringTreatedAsAbsent(t *testing.T) {
	raw := `{"payment_method": "", "amount": "300", "currency": "THB",
		"sender_info": null, "recipient_info": null, "reference_number": "",
		"confidence": 0.75, "reasoning": ""}`

	result := parseResult(raw)

	assert.Nil(t, result.Fields.PaymentMethod)
	assert.Nil(t, result.Fields.ReferenceNumber)
	require.NotNil(t, result.Fields.Amount)
}
