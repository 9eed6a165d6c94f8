package vision

import (
	"fmt"
	"strings"

	"payproof/internal/extraction"
)

const basePrompt = `You are analyzing a payment receipt screenshot submitted as proof of payment.
Extract the payment facts visible in the image.

Respond with ONLY a JSON object in exactly this shape, no markdown, no prose:
{
  "payment_method": string or null,
  "amount": string or null,
  "currency": string or null,
  "sender_info": string or null,
  "recipient_info": string or null,
  "reference_number": string or null,
  "confidence": number between 0 and 1,
  "reasoning": string
}

Rules:
- Every key must be present. Use null for anything not readable in the image.
- "amount" is the transferred amount as printed, digits and separators only.
- "currency" is the ISO 4217 code if a symbol or code is visible (PHP, MYR, IDR, SGD, THB, VND, USD, EUR).
- "payment_method" is the app or bank shown (e.g. gcash, maya, bca, maybank, grabpay).
- "reference_number" is the transaction reference or receipt number.
- "confidence" reflects how certain you are about the extracted values overall.
- Do not guess values that are not visible.`

// buildPrompt appends expected-context hints when the caller already knows
// which obligation this screenshot probably settles.
func buildPrompt(hints *extraction.Hints) string {
	if hints == nil {
		return basePrompt
	}

	var ctx []string
	if hints.Amount != nil {
		ctx = append(ctx, fmt.Sprintf("the expected amount is around %s", hints.Amount.String()))
	}
	if hints.Currency != nil {
		ctx = append(ctx, fmt.Sprintf("the expected currency is %s", *hints.Currency))
	}
	if hints.Reference != nil {
		ctx = append(ctx, fmt.Sprintf("the expected reference code is %q", *hints.Reference))
	}
	if len(ctx) == 0 {
		return basePrompt
	}

	return basePrompt + "\n\nContext from the pending order (verify against the image, do not copy blindly): " +
		strings.Join(ctx, "; ") + "."
}
