package matching

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"payproof/internal/extraction"
	"payproof/internal/obligation"
)

// candidateCap bounds the scored set so one vague extraction cannot fan out
// into unbounded scoring work.
const candidateCap = 50

// Retriever queries the obligation store for pending obligations plausibly
// matching the extracted payment.
type Retriever struct {
	store   obligation.Store
	bandPct decimal.Decimal
	epsilon decimal.Decimal
}

func NewRetriever(store obligation.Store) *Retriever {
	return &Retriever{
		store: store,
		// Retrieval casts wider than scoring tolerance: the scorer still
		// awards partial amount credit out to a 10% deviation, so anything
		// inside that band must reach the scorer at all.
		bandPct: decimal.NewFromFloat(0.10),
		epsilon: decimal.NewFromInt(1),
	}
}

// FindCandidates unions the retrieval strategies: exact reference match
// first (the highest-value path), then amount-within-tolerance in the same
// currency, narrowed by buyer-name overlap when the set is too large.
// An empty result is a valid terminal state, not an error.
func (r *Retriever) FindCandidates(ctx context.Context, p extraction.ExtractedPayment) ([]obligation.PendingObligation, error) {
	seen := make(map[uuid.UUID]bool)
	var out []obligation.PendingObligation

	if p.Has(extraction.FieldReference) {
		byRef, err := r.store.ListAwaitingPayment(ctx, obligation.Filter{
			Reference: p.Reference,
			Limit:     candidateCap,
		})
		if err != nil {
			return nil, fmt.Errorf("retrieve by reference: %w", err)
		}
		for _, o := range byRef {
			if !seen[o.ID] {
				seen[o.ID] = true
				out = append(out, o)
			}
		}
	}

	if p.Has(extraction.FieldAmount) && p.Has(extraction.FieldCurrency) {
		tolerance := decimal.Max(p.Amount.Mul(r.bandPct), r.epsilon)
		byAmount, err := r.store.ListAwaitingPayment(ctx, obligation.Filter{
			Currency:  p.Currency,
			AmountMin: p.Amount.Sub(tolerance),
			AmountMax: p.Amount.Add(tolerance),
			Limit:     candidateCap + 1,
		})
		if err != nil {
			return nil, fmt.Errorf("retrieve by amount: %w", err)
		}

		if len(byAmount) > candidateCap && p.SenderName != "" {
			byAmount = narrowByName(byAmount, p.SenderName)
		}
		for _, o := range byAmount {
			if len(out) >= candidateCap {
				break
			}
			if !seen[o.ID] {
				seen[o.ID] = true
				out = append(out, o)
			}
		}
	}

	return out, nil
}

// narrowByName keeps obligations whose buyer shares at least one name token
// with the extracted sender.
func narrowByName(candidates []obligation.PendingObligation, sender string) []obligation.PendingObligation {
	var out []obligation.PendingObligation
	for _, o := range candidates {
		if tokenOverlap(sender, o.BuyerName) > 0 {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		// Name overlap filtered everything; fall back to the capped raw set
		return candidates[:candidateCap]
	}
	return out
}
