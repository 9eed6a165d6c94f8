package obligation

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"payproof/pkg/platform/sentinel"
)

// InMemoryStore implements Store with a mutex-guarded map.
type InMemoryStore struct {
	mu          sync.RWMutex
	obligations map[uuid.UUID]PendingObligation
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{obligations: make(map[uuid.UUID]PendingObligation)}
}

// Seed inserts or replaces an obligation. Test and bootstrap helper.
func (s *InMemoryStore) Seed(o PendingObligation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obligations[o.ID] = o
}

func (s *InMemoryStore) ListAwaitingPayment(_ context.Context, filter Filter) ([]PendingObligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []PendingObligation
	for _, o := range s.obligations {
		if o.Status != StatusAwaitingPayment {
			continue
		}
		if filter.Currency != "" && o.Currency != filter.Currency {
			continue
		}
		if filter.Reference != "" && !strings.EqualFold(o.Reference, filter.Reference) {
			continue
		}
		if !filter.AmountMin.IsZero() && o.Amount.LessThan(filter.AmountMin) {
			continue
		}
		if !filter.AmountMax.IsZero() && o.Amount.GreaterThan(filter.AmountMax) {
			continue
		}
		out = append(out, o)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) Get(_ context.Context, id uuid.UUID) (PendingObligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.obligations[id]
	if !ok {
		return PendingObligation{}, sentinel.ErrNotFound
	}
	return o, nil
}

func (s *InMemoryStore) TryMarkPaid(_ context.Context, id uuid.UUID, expected Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.obligations[id]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if o.Status != expected {
		return false, nil
	}
	o.Status = StatusPaid
	s.obligations[id] = o
	return true, nil
}
