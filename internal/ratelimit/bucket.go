package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Bucket is a token bucket capping outbound calls to one external extractor.
// Wait blocks cooperatively until a token is available or the context ends,
// so a drained quota defers submissions instead of busy-waiting.
type Bucket struct {
	mu           sync.Mutex
	capacity     float64
	tokens       float64
	refillPerSec float64
	last         time.Time
}

// NewBucket allows perMinute calls sustained, with bursts up to capacity.
func NewBucket(capacity, perMinute int) *Bucket {
	if capacity < 1 {
		capacity = 1
	}
	if perMinute < 1 {
		perMinute = 1
	}
	return &Bucket{
		capacity:     float64(capacity),
		tokens:       float64(capacity),
		refillPerSec: float64(perMinute) / 60.0,
		last:         time.Now(),
	}
}

// Wait takes one token, blocking until one refills or ctx is done.
func (b *Bucket) Wait(ctx context.Context) error {
	for {
		ok, wait := b.take()
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Allow takes one token without blocking.
func (b *Bucket) Allow() bool {
	ok, _ := b.take()
	return ok
}

func (b *Bucket) take() (ok bool, wait time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tokens += now.Sub(b.last).Seconds() * b.refillPerSec
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.last = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}

	deficit := 1 - b.tokens
	return false, time.Duration(deficit / b.refillPerSec * float64(time.Second))
}
