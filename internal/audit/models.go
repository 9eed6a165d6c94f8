package audit

import (
	"time"

	"github.com/google/uuid"
)

// Entry is one immutable record of a submission state transition or decision.
// Keep it transport-agnostic so stores and sinks can fan out.
type Entry struct {
	ID           uuid.UUID
	SubmissionID uuid.UUID
	Timestamp    time.Time
	Action       string
	FromState    string
	ToState      string
	Outcome      string
	Score        float64
	Reasons      []string
	Actor        string
}

// Actions recorded by the verification pipeline.
const (
	ActionStateTransition = "state_transition"
	ActionDecision        = "decision"
	ActionManualOverride  = "manual_override"
)

// ActorSystem marks entries produced by the pipeline rather than a reviewer.
const ActorSystem = "system"
