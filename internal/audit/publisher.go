package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Publisher captures structured audit entries. It is append-only and uses the
// store for persistence so tests can swap sinks easily.
type Publisher struct {
	store Store
}

func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store}
}

func (p *Publisher) Emit(ctx context.Context, entry Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.Actor == "" {
		entry.Actor = ActorSystem
	}
	return p.store.Append(ctx, entry)
}

func (p *Publisher) List(ctx context.Context, submissionID uuid.UUID) ([]Entry, error) {
	return p.store.ListBySubmission(ctx, submissionID)
}
