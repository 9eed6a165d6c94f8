package verification

import (
	"fmt"
	"sort"

	"payproof/internal/matching"
)

// Thresholds are the tunable decision parameters. The exact values are
// deliberately configuration-driven, not hard-coded.
type Thresholds struct {
	AutoApprove       float64
	Review            float64
	MinSeparation     float64
	RejectBelowReview bool
}

// Verdict is the engine's intent before commit-time checks. An auto-approve
// verdict still has to win the obligation CAS to become final.
type Verdict struct {
	Outcome Outcome
	Winner  *matching.Candidate
	Ranked  []matching.Candidate
	Reasons []string
}

// Decide applies the threshold and tie-break rules to the scored candidates.
// Pure domain logic - no I/O, no side effects. Rule priority:
//  1. No candidates at all is its own terminal outcome.
//  2. Auto-approve needs the top score over the threshold AND clear
//     separation from the runner-up; an ambiguous tie is never approved.
//  3. Scores in the review band go to a human with the ranking attached.
//  4. Low scores default to manual review because a missed payment costs
//     more than reviewer time; hard rejection is an opt-in policy.
func Decide(candidates []matching.Candidate, t Thresholds) Verdict {
	if len(candidates) == 0 {
		return Verdict{
			Outcome: OutcomeNoCandidate,
			Reasons: []string{ReasonNoCandidate},
		}
	}

	ranked := make([]matching.Candidate, len(candidates))
	copy(ranked, candidates)
	sort.Sort(matching.ByScoreDesc(ranked))

	top := ranked[0]
	separated := true
	if len(ranked) > 1 {
		separated = top.Score-ranked[1].Score >= t.MinSeparation
	}

	if top.Score >= t.AutoApprove && separated {
		return Verdict{
			Outcome: OutcomeAutoApproved,
			Winner:  &top,
			Ranked:  ranked,
			Reasons: append([]string{fmt.Sprintf("top score %.1f over auto-approve threshold %.1f", top.Score, t.AutoApprove)}, top.Reasons...),
		}
	}

	if top.Score >= t.Review {
		reasons := []string{ReasonScoreInReviewBand}
		if !separated {
			reasons = []string{ReasonAmbiguousMatch,
				fmt.Sprintf("top scores %.1f and %.1f within separation %.1f", top.Score, ranked[1].Score, t.MinSeparation)}
		}
		return Verdict{
			Outcome: OutcomeManualReview,
			Winner:  &top,
			Ranked:  ranked,
			Reasons: append(reasons, top.Reasons...),
		}
	}

	if t.RejectBelowReview {
		return Verdict{
			Outcome: OutcomeRejected,
			Ranked:  ranked,
			Reasons: append([]string{ReasonLowScore}, top.Reasons...),
		}
	}
	return Verdict{
		Outcome: OutcomeManualReview,
		Winner:  &top,
		Ranked:  ranked,
		Reasons: append([]string{ReasonLowScore}, top.Reasons...),
	}
}
