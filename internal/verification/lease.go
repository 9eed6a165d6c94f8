package verification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Leaser grants exclusive processing rights for one submission. A worker
// that cannot acquire the lease skips the submission; another worker (or
// another node) already holds it. Leases expire so a crashed worker never
// wedges a submission forever.
type Leaser interface {
	Acquire(ctx context.Context, submissionID uuid.UUID, ttl time.Duration) (bool, error)
	Release(ctx context.Context, submissionID uuid.UUID) error
}

// MemoryLeaser is the single-node implementation.
type MemoryLeaser struct {
	mu     sync.Mutex
	leases map[uuid.UUID]time.Time
	now    func() time.Time
}

func NewMemoryLeaser() *MemoryLeaser {
	return &MemoryLeaser{leases: make(map[uuid.UUID]time.Time), now: time.Now}
}

func (l *MemoryLeaser) Acquire(_ context.Context, submissionID uuid.UUID, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if expiry, held := l.leases[submissionID]; held && expiry.After(now) {
		return false, nil
	}
	l.leases[submissionID] = now.Add(ttl)
	return true, nil
}

func (l *MemoryLeaser) Release(_ context.Context, submissionID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.leases, submissionID)
	return nil
}

// RedisLeaser coordinates across nodes with SET NX PX.
type RedisLeaser struct {
	client *goredis.Client
}

func NewRedisLeaser(client *goredis.Client) *RedisLeaser {
	return &RedisLeaser{client: client}
}

func leaseKey(submissionID uuid.UUID) string {
	return "payproof:lease:" + submissionID.String()
}

func (l *RedisLeaser) Acquire(ctx context.Context, submissionID uuid.UUID, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, leaseKey(submissionID), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	return ok, nil
}

func (l *RedisLeaser) Release(ctx context.Context, submissionID uuid.UUID) error {
	if err := l.client.Del(ctx, leaseKey(submissionID)).Err(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}
