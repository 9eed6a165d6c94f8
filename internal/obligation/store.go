package obligation

import (
	"context"

	"github.com/google/uuid"
)

// Store is the narrow repository interface over the order system's
// obligations. Interface-driven so the in-memory implementation can stand in
// for tests and single-node runs.
type Store interface {
	// ListAwaitingPayment returns awaiting-payment obligations matching the
	// filter. An empty result is a valid outcome, not an error.
	ListAwaitingPayment(ctx context.Context, filter Filter) ([]PendingObligation, error)

	// Get returns one obligation regardless of status.
	Get(ctx context.Context, id uuid.UUID) (PendingObligation, error)

	// TryMarkPaid flips the obligation to paid iff its status still equals
	// expected (optimistic CAS). Returns false when the check lost the race.
	TryMarkPaid(ctx context.Context, id uuid.UUID, expected Status) (bool, error)
}
