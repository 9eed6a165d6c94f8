package verification

import (
	"context"

	"github.com/google/uuid"
)

// SubmissionStore persists proof submissions. Implementations: in-memory for
// tests and single-node runs, Postgres for production.
type SubmissionStore interface {
	// Create inserts the submission. Returns sentinel.ErrConflict when the
	// id already exists.
	Create(ctx context.Context, s *Submission) error

	// Get returns sentinel.ErrNotFound when no submission has that id.
	Get(ctx context.Context, id uuid.UUID) (*Submission, error)

	// UpdateState moves the submission from one state to another with
	// compare-and-swap semantics: it succeeds only when the stored state
	// still equals from. Returns sentinel.ErrInvalidState otherwise.
	UpdateState(ctx context.Context, id uuid.UUID, from, to State) error

	// MarkCancelled flags a cancellation request. The pipeline observes
	// the flag at stage boundaries; mid-stage work finishes first.
	MarkCancelled(ctx context.Context, id uuid.UUID) error
}

// DecisionStore persists verification decisions as an append-only history.
// Writing a new decision for a submission supersedes all prior ones.
type DecisionStore interface {
	// Append inserts the decision and marks earlier decisions for the same
	// submission as superseded, in one atomic step.
	Append(ctx context.Context, d *Decision) error

	// Latest returns the current (non-superseded) decision for the
	// submission, or sentinel.ErrNotFound when none exists yet.
	Latest(ctx context.Context, submissionID uuid.UUID) (*Decision, error)

	// History returns all decisions for the submission, oldest first.
	History(ctx context.Context, submissionID uuid.UUID) ([]Decision, error)

	// ListPendingReview returns submissions whose current decision is
	// manual_review and which have not been resolved, oldest first.
	ListPendingReview(ctx context.Context, limit int) ([]Decision, error)
}

// TxRunner executes fn inside one transaction when the backing store
// supports it. The Postgres runner puts the open tx on the context so every
// store call inside fn joins it; the memory runner just calls fn.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// NopTxRunner is the TxRunner for stores without transactions.
type NopTxRunner struct{}

func (NopTxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
