// Package event fans verification outcomes out to external notifiers. The
// local decision store stays the source of truth; losing an event never
// loses a decision.
package event

import (
	"context"

	"github.com/google/uuid"
)

// VerificationDecided is emitted once per terminal pipeline outcome and
// consumed by the notification layer and dashboards.
type VerificationDecided struct {
	SubmissionID uuid.UUID  `json:"submission_id"`
	Outcome      string     `json:"outcome"`
	ObligationID *uuid.UUID `json:"obligation_id"`
	Score        float64    `json:"score"`
	Reasons      []string   `json:"reasons"`
	DecidedAt    int64      `json:"decided_at"`
}

// Publisher delivers decided events to interested consumers.
type Publisher interface {
	PublishDecided(ctx context.Context, event VerificationDecided) error
}

// NopPublisher drops events. Wired when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) PublishDecided(context.Context, VerificationDecided) error { return nil }
