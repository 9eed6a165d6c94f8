package verification

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// DedupeIndex maps image content hashes to the submission that first carried
// them. Claim is first-writer-wins: the returned id is the canonical
// submission for that hash, which equals submissionID only when this call
// claimed it. Re-uploads of the same screenshot short-circuit the pipeline
// and inherit the canonical decision.
type DedupeIndex interface {
	Claim(ctx context.Context, contentHash string, submissionID uuid.UUID) (uuid.UUID, error)
}

// MemoryDedupeIndex is the single-node implementation.
type MemoryDedupeIndex struct {
	mu     sync.Mutex
	byHash map[string]uuid.UUID
}

func NewMemoryDedupeIndex() *MemoryDedupeIndex {
	return &MemoryDedupeIndex{byHash: make(map[string]uuid.UUID)}
}

func (d *MemoryDedupeIndex) Claim(_ context.Context, contentHash string, submissionID uuid.UUID) (uuid.UUID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.byHash[contentHash]; ok {
		return existing, nil
	}
	d.byHash[contentHash] = submissionID
	return submissionID, nil
}

// RedisDedupeIndex shares the hash index across nodes. Entries never expire:
// a screenshot that was ever verified stays a duplicate.
type RedisDedupeIndex struct {
	client *goredis.Client
}

func NewRedisDedupeIndex(client *goredis.Client) *RedisDedupeIndex {
	return &RedisDedupeIndex{client: client}
}

func dedupeKey(contentHash string) string {
	return "payproof:dedupe:" + contentHash
}

func (d *RedisDedupeIndex) Claim(ctx context.Context, contentHash string, submissionID uuid.UUID) (uuid.UUID, error) {
	key := dedupeKey(contentHash)
	claimed, err := d.client.SetNX(ctx, key, submissionID.String(), 0).Result()
	if err != nil {
		return uuid.Nil, fmt.Errorf("claim content hash: %w", err)
	}
	if claimed {
		return submissionID, nil
	}
	raw, err := d.client.Get(ctx, key).Result()
	if err != nil {
		return uuid.Nil, fmt.Errorf("read canonical submission: %w", err)
	}
	canonical, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse canonical submission id: %w", err)
	}
	return canonical, nil
}
