package verification

import (
	"time"

	"github.com/google/uuid"
)

// State is the submission lifecycle. Terminal pipeline outcomes are states of
// their own so the machine is explicit and auditable, then collapse into
// resolved once nothing further can happen.
type State string

const (
	StateReceived     State = "received"
	StateExtracting   State = "extracting"
	StateScoring      State = "scoring"
	StateAutoApproved State = "auto_approved"
	StateManualReview State = "manual_review"
	StateRejected     State = "rejected"
	StateNoCandidate  State = "no_candidate"
	StateResolved     State = "resolved"
	StateCancelled    State = "cancelled"
)

// validTransitions encodes the submission state machine. Every mutation goes
// through Submission.TransitionTo, so an illegal jump is a programming error
// surfaced early instead of silent data corruption.
var validTransitions = map[State][]State{
	StateReceived:     {StateExtracting, StateCancelled},
	StateExtracting:   {StateScoring, StateManualReview, StateNoCandidate, StateCancelled},
	StateScoring:      {StateAutoApproved, StateManualReview, StateRejected, StateNoCandidate, StateCancelled},
	StateAutoApproved: {StateResolved},
	StateManualReview: {StateResolved, StateCancelled},
	StateRejected:     {StateResolved},
	StateNoCandidate:  {StateResolved},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Outcome is the decision kind. Every pipeline run terminates in exactly one.
type Outcome string

const (
	OutcomeAutoApproved Outcome = "auto_approved"
	OutcomeManualReview Outcome = "manual_review"
	OutcomeRejected     Outcome = "rejected"
	OutcomeNoCandidate  Outcome = "no_candidate"
)

// Reason codes attached to non-obvious outcomes. Human-readable scoring
// reasons ride alongside these in the decision's reasons list.
const (
	ReasonCurrencyUnresolved    = "currency_unresolved"
	ReasonInvalidAmount         = "invalid_amount"
	ReasonAmbiguousMatch        = "ambiguous_match"
	ReasonTargetAlreadySettled  = "target_already_settled"
	ReasonInternalError         = "internal_error"
	ReasonUnreadableImage       = "unreadable_image"
	ReasonExtractionUnavailable = "extraction_unavailable"
	ReasonNoCandidate           = "no_candidate"
	ReasonLowScore              = "low_score"
	ReasonScoreInReviewBand     = "score_in_review_band"
	ReasonReviewerApproved      = "reviewer_approved"
	ReasonReviewerRejected      = "reviewer_rejected"
)

// Submission is one buyer upload and its processing record. Created on
// upload, mutated only through state transitions, never deleted.
type Submission struct {
	ID                 uuid.UUID
	ObligationID       *uuid.UUID
	HintedObligationID *uuid.UUID
	ImageRef           string
	ContentHash        string
	State              State
	DuplicateOf        *uuid.UUID
	Cancelled          bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TransitionTo moves the submission to the next state, enforcing the state
// machine. Returns false without mutating when the move is illegal.
func (s *Submission) TransitionTo(next State, now time.Time) bool {
	if !CanTransition(s.State, next) {
		return false
	}
	s.State = next
	s.UpdatedAt = now
	return true
}

// RankedCandidate is one scored pairing persisted with a manual-review
// decision so reviewers see the ranking the system saw.
type RankedCandidate struct {
	ObligationID uuid.UUID `json:"obligation_id"`
	Score        float64   `json:"score"`
	Reasons      []string  `json:"reasons"`
}

// Decision is one verification outcome. Exactly one non-superseded decision
// exists per submission; manual overrides append a new one and supersede the
// old, keeping history intact.
type Decision struct {
	ID           uuid.UUID
	SubmissionID uuid.UUID
	Outcome      Outcome
	ObligationID *uuid.UUID
	Score        float64
	Reasons      []string
	Candidates   []RankedCandidate
	DecidedAt    time.Time
	DecidedBy    string
	Superseded   bool
}
