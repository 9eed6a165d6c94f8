package verification

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"payproof/pkg/platform/sentinel"
)

// ImageStore holds submitted proof images between intake and processing,
// keyed by image ref. A blob store would slot in behind the same interface.
type ImageStore interface {
	Save(ctx context.Context, ref string, image []byte) error
	Load(ctx context.Context, ref string) ([]byte, error)
}

// MemoryImageStore keeps images in process. Content-hash keys make saves
// idempotent, so duplicate uploads cost one copy.
type MemoryImageStore struct {
	mu     sync.RWMutex
	images map[string][]byte
}

func NewMemoryImageStore() *MemoryImageStore {
	return &MemoryImageStore{images: make(map[string][]byte)}
}

func (m *MemoryImageStore) Save(_ context.Context, ref string, image []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.images[ref]; ok {
		return nil
	}
	stored := make([]byte, len(image))
	copy(stored, image)
	m.images[ref] = stored
	return nil
}

func (m *MemoryImageStore) Load(_ context.Context, ref string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	image, ok := m.images[ref]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return image, nil
}

// RedisImageStore shares images across nodes so any worker can process any
// submission. Entries expire once nothing should still need the bytes.
type RedisImageStore struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewRedisImageStore(client *goredis.Client, ttl time.Duration) *RedisImageStore {
	return &RedisImageStore{client: client, ttl: ttl}
}

func imageKey(ref string) string { return "payproof:image:" + ref }

func (r *RedisImageStore) Save(ctx context.Context, ref string, image []byte) error {
	if err := r.client.Set(ctx, imageKey(ref), image, r.ttl).Err(); err != nil {
		return fmt.Errorf("save image: %w", err)
	}
	return nil
}

func (r *RedisImageStore) Load(ctx context.Context, ref string) ([]byte, error) {
	image, err := r.client.Get(ctx, imageKey(ref)).Bytes()
	if err == goredis.Nil {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load image: %w", err)
	}
	return image, nil
}
