package verification

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payproof/internal/matching"
	"payproof/internal/obligation"
)

func defaultThresholds() Thresholds {
	return Thresholds{AutoApprove: 90, Review: 60, MinSeparation: 10}
}

func candidate(score float64) matching.Candidate {
	return matching.Candidate{
		Obligation: obligation.PendingObligation{ID: uuid.New()},
		Score:      score,
		Reasons:    []string{"test reason"},
	}
}

func TestDecide_NoCandidates(t *testing.T) {
	v := Decide(nil, defaultThresholds())

	assert.Equal(t, OutcomeNoCandidate, v.Outcome)
	assert.Contains(t, v.Reasons, ReasonNoCandidate)
	assert.Nil(t, v.Winner)
}

func TestDecide_PerfectScoreAutoApproves(t *testing.T) {
	v := Decide([]matching.Candidate{candidate(100)}, defaultThresholds())

	assert.Equal(t, OutcomeAutoApproved, v.Outcome)
	require.NotNil(t, v.Winner)
	assert.Equal(t, 100.0, v.Winner.Score)
}

func TestDecide_ClearWinnerOverThreshold(t *testing.T) {
	v := Decide([]matching.Candidate{candidate(95), candidate(70)}, defaultThresholds())

	assert.Equal(t, OutcomeAutoApproved, v.Outcome)
	assert.NotEmpty(t, v.Reasons)
}

func TestDecide_AmbiguousTieGoesToReview(t *testing.T) {
	// 88 and 86: high top score but margin under the separation threshold
	v := Decide([]matching.Candidate{candidate(88), candidate(86)}, defaultThresholds())

	assert.Equal(t, OutcomeManualReview, v.Outcome)
	assert.Contains(t, v.Reasons, ReasonAmbiguousMatch)
}

func TestDecide_TieAboveAutoThresholdStillReviews(t *testing.T) {
	v := Decide([]matching.Candidate{candidate(95), candidate(92)}, defaultThresholds())

	assert.Equal(t, OutcomeManualReview, v.Outcome)
	assert.Contains(t, v.Reasons, ReasonAmbiguousMatch)
}

func TestDecide_ReviewBand(t *testing.T) {
	v := Decide([]matching.Candidate{candidate(75)}, defaultThresholds())

	assert.Equal(t, OutcomeManualReview, v.Outcome)
	assert.Contains(t, v.Reasons, ReasonScoreInReviewBand)
}

func TestDecide_LowScoreDefaultsToReview(t *testing.T) {
	v := Decide([]matching.Candidate{candidate(30)}, defaultThresholds())

	assert.Equal(t, OutcomeManualReview, v.Outcome)
	assert.Contains(t, v.Reasons, ReasonLowScore)
}

func TestDecide_LowScoreRejectPolicy(t *testing.T) {
	th := defaultThresholds()
	th.RejectBelowReview = true

	v := Decide([]matching.Candidate{candidate(30)}, th)

	assert.Equal(t, OutcomeRejected, v.Outcome)
	assert.Contains(t, v.Reasons, ReasonLowScore)
}

func TestDecide_RanksDescending(t *testing.T) {
	v := Decide([]matching.Candidate{candidate(50), candidate(80), candidate(65)}, defaultThresholds())

	require.Len(t, v.Ranked, 3)
	assert.Equal(t, 80.0, v.Ranked[0].Score)
	assert.Equal(t, 65.0, v.Ranked[1].Score)
	assert.Equal(t, 50.0, v.Ranked[2].Score)
}

func TestDecide_DoesNotMutateInput(t *testing.T) {
	in := []matching.Candidate{candidate(50), candidate(80)}
	Decide(in, defaultThresholds())

	assert.Equal(t, 50.0, in[0].Score)
	assert.Equal(t, 80.0, in[1].Score)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StateReceived, StateExtracting))
	assert.True(t, CanTransition(StateScoring, StateAutoApproved))
	assert.True(t, CanTransition(StateManualReview, StateResolved))
	assert.False(t, CanTransition(StateResolved, StateExtracting))
	assert.False(t, CanTransition(StateAutoApproved, StateRejected))
	assert.False(t, CanTransition(StateReceived, StateAutoApproved))
}
