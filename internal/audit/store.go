package audit

import (
	"context"

	"github.com/google/uuid"
)

// Store persists audit entries append-only. Entries are never updated or
// deleted; compliance reads them back by submission.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	ListBySubmission(ctx context.Context, submissionID uuid.UUID) ([]Entry, error)
}
