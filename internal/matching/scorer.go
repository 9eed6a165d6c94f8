package matching

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"payproof/internal/extraction"
	"payproof/internal/obligation"
)

// Score weights. Additive, max 100.
const (
	amountWeight    = 40.0
	currencyWeight  = 20.0
	referenceWeight = 25.0
	senderWeight    = 15.0

	referencePartialCredit = 15.0
	senderPartialCredit    = 8.0
)

// ScorerConfig tunes the amount tolerance bands.
type ScorerConfig struct {
	// AmountEpsilon is the fixed minimum tolerance in currency units.
	AmountEpsilon decimal.Decimal
	// TolerancePct is the relative tolerance for full amount credit.
	TolerancePct float64
	// OuterBandPct is where partial amount credit reaches zero.
	OuterBandPct float64
}

func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		AmountEpsilon: decimal.NewFromInt(1),
		TolerancePct:  0.01,
		OuterBandPct:  0.10,
	}
}

// Scorer computes the weighted similarity between an extracted payment and a
// candidate obligation. Pure and deterministic: same inputs always produce
// the same score and reasons, which reproducible audits depend on.
type Scorer struct {
	cfg ScorerConfig
}

func NewScorer(cfg ScorerConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score returns a value in [0,100] and the human-readable reasons behind it.
func (s *Scorer) Score(p extraction.ExtractedPayment, o obligation.PendingObligation) (float64, []string) {
	var score float64
	var reasons []string

	refExact := false
	addRef := func(points float64, reason string) {
		score += points
		reasons = append(reasons, reason)
	}

	// Reference: 25 full on exact, partial on containment
	switch {
	case !p.Has(extraction.FieldReference) || o.Reference == "":
		reasons = append(reasons, "reference: not available (+0)")
	case strings.EqualFold(p.Reference, o.Reference):
		refExact = true
		addRef(referenceWeight, fmt.Sprintf("reference: exact match %q (+%.0f)", o.Reference, referenceWeight))
	case referenceContains(p.Reference, o.Reference):
		addRef(referencePartialCredit, fmt.Sprintf("reference: partial match %q ~ %q (+%.0f)", p.Reference, o.Reference, referencePartialCredit))
	default:
		reasons = append(reasons, fmt.Sprintf("reference: mismatch %q vs %q (+0)", p.Reference, o.Reference))
	}

	// Amount: 40 full within tolerance, sliding to zero at the outer band
	if p.Has(extraction.FieldAmount) {
		points, reason := s.amountPoints(p.Amount, o.Amount)
		score += points
		reasons = append(reasons, reason)
	} else {
		reasons = append(reasons, "amount: not extracted (+0)")
	}

	// Currency: 20, binary
	if p.Has(extraction.FieldCurrency) && p.Currency == o.Currency {
		score += currencyWeight
		reasons = append(reasons, fmt.Sprintf("currency: %s matches (+%.0f)", o.Currency, currencyWeight))
	} else if p.Has(extraction.FieldCurrency) {
		reasons = append(reasons, fmt.Sprintf("currency: %s vs %s (+0)", p.Currency, o.Currency))
	} else {
		reasons = append(reasons, "currency: not extracted (+0)")
	}

	// Sender: 15 full on containment, partial on token overlap. An exact
	// reference match corroborates identity when no sender was readable,
	// since references are unique per obligation.
	switch {
	case p.SenderName != "" && nameContains(p.SenderName, o.BuyerName):
		score += senderWeight
		reasons = append(reasons, fmt.Sprintf("sender: %q matches buyer %q (+%.0f)", p.SenderName, o.BuyerName, senderWeight))
	case p.SenderName != "" && tokenOverlap(p.SenderName, o.BuyerName) > 0:
		score += senderPartialCredit
		reasons = append(reasons, fmt.Sprintf("sender: %q shares tokens with buyer %q (+%.0f)", p.SenderName, o.BuyerName, senderPartialCredit))
	case p.SenderName == "" && refExact:
		score += senderWeight
		reasons = append(reasons, fmt.Sprintf("sender: unreadable, corroborated by exact reference (+%.0f)", senderWeight))
	case p.SenderName == "":
		reasons = append(reasons, "sender: not extracted (+0)")
	default:
		reasons = append(reasons, fmt.Sprintf("sender: %q does not match buyer %q (+0)", p.SenderName, o.BuyerName))
	}

	if score > 100 {
		score = 100
	}
	return score, reasons
}

// amountPoints gives full credit within max(TolerancePct, AmountEpsilon) of
// either amount, then slides linearly to zero at OuterBandPct.
func (s *Scorer) amountPoints(extracted, expected decimal.Decimal) (float64, string) {
	diff := extracted.Sub(expected).Abs()

	base := decimal.Max(extracted, expected)
	tolerance := decimal.Max(
		base.Mul(decimal.NewFromFloat(s.cfg.TolerancePct)),
		s.cfg.AmountEpsilon,
	)
	if diff.LessThanOrEqual(tolerance) {
		return amountWeight, fmt.Sprintf("amount: %s within tolerance of %s (+%.0f)", extracted, expected, amountWeight)
	}

	if expected.IsZero() {
		return 0, fmt.Sprintf("amount: %s vs zero obligation (+0)", extracted)
	}
	pct, _ := diff.Div(expected).Float64()
	tolPct := s.cfg.TolerancePct
	if pct >= s.cfg.OuterBandPct {
		return 0, fmt.Sprintf("amount: %s differs %.1f%% from %s (+0)", extracted, pct*100, expected)
	}

	frac := 1 - (pct-tolPct)/(s.cfg.OuterBandPct-tolPct)
	points := amountWeight * frac
	return points, fmt.Sprintf("amount: %s differs %.1f%% from %s (+%.1f)", extracted, pct*100, expected, points)
}

// referenceContains reports substring/prefix containment either direction,
// requiring enough length to avoid trivial hits.
func referenceContains(a, b string) bool {
	a, b = strings.ToUpper(a), strings.ToUpper(b)
	if len(a) < 6 || len(b) < 6 {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

func nameContains(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// tokenOverlap counts shared name tokens, ignoring case and single letters.
func tokenOverlap(a, b string) int {
	tokens := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(a)) {
		if len(tok) > 1 {
			tokens[tok] = true
		}
	}
	count := 0
	for _, tok := range strings.Fields(strings.ToLower(b)) {
		if len(tok) > 1 && tokens[tok] {
			count++
		}
	}
	return count
}
