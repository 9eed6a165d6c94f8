package verification

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"payproof/pkg/platform/sentinel"
)

// MemorySubmissionStore is a mutex-guarded map. Used by tests and by
// single-node deployments without Postgres.
type MemorySubmissionStore struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]Submission
}

func NewMemorySubmissionStore() *MemorySubmissionStore {
	return &MemorySubmissionStore{rows: make(map[uuid.UUID]Submission)}
}

func (m *MemorySubmissionStore) Create(_ context.Context, s *Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[s.ID]; ok {
		return sentinel.ErrConflict
	}
	m.rows[s.ID] = *s
	return nil
}

func (m *MemorySubmissionStore) Get(_ context.Context, id uuid.UUID) (*Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &row, nil
}

func (m *MemorySubmissionStore) UpdateState(_ context.Context, id uuid.UUID, from, to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if row.State != from {
		return sentinel.ErrInvalidState
	}
	row.State = to
	row.UpdatedAt = time.Now().UTC()
	m.rows[id] = row
	return nil
}

func (m *MemorySubmissionStore) MarkCancelled(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	row.Cancelled = true
	row.UpdatedAt = time.Now().UTC()
	m.rows[id] = row
	return nil
}

// MemoryDecisionStore keeps the full decision history per submission.
type MemoryDecisionStore struct {
	mu   sync.RWMutex
	rows map[uuid.UUID][]Decision
}

func NewMemoryDecisionStore() *MemoryDecisionStore {
	return &MemoryDecisionStore{rows: make(map[uuid.UUID][]Decision)}
}

func (m *MemoryDecisionStore) Append(_ context.Context, d *Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := m.rows[d.SubmissionID]
	for i := range history {
		history[i].Superseded = true
	}
	m.rows[d.SubmissionID] = append(history, *d)
	return nil
}

func (m *MemoryDecisionStore) Latest(_ context.Context, submissionID uuid.UUID) (*Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := m.rows[submissionID]
	if len(history) == 0 {
		return nil, sentinel.ErrNotFound
	}
	d := history[len(history)-1]
	return &d, nil
}

func (m *MemoryDecisionStore) History(_ context.Context, submissionID uuid.UUID) ([]Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := m.rows[submissionID]
	out := make([]Decision, len(history))
	copy(out, history)
	return out, nil
}

func (m *MemoryDecisionStore) ListPendingReview(_ context.Context, limit int) ([]Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Decision
	for _, history := range m.rows {
		latest := history[len(history)-1]
		if latest.Outcome == OutcomeManualReview && !latest.Superseded {
			out = append(out, latest)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DecidedAt.Before(out[j].DecidedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
