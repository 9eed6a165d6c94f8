package matching

import (
	"payproof/internal/obligation"
)

// Candidate pairs an extracted payment with one pending obligation, holding
// the similarity score and the reasons that produced it. Ephemeral: only the
// winning candidate survives past decision time.
type Candidate struct {
	Obligation obligation.PendingObligation
	Score      float64
	Reasons    []string
}

// ByScoreDesc sorts candidates best-first with obligation id as a stable
// tie-break so ranking is reproducible.
type ByScoreDesc []Candidate

func (c ByScoreDesc) Len() int      { return len(c) }
func (c ByScoreDesc) Swap(i, j int) { c[i], c[j] = c[j], c[i] }
func (c ByScoreDesc) Less(i, j int) bool {
	if c[i].Score != c[j].Score {
		return c[i].Score > c[j].Score
	}
	return c[i].Obligation.ID.String() < c[j].Obligation.ID.String()
}
