package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucket_AllowWithinCapacity(t *testing.T) {
	b := NewBucket(3, 60)

	assert.True(t, b.Allow())
	assert.True(t, b.Allow())
	assert.True(t, b.Allow())
	assert.False(t, b.Allow())
}

func TestBucket_WaitBlocksUntilRefill(t *testing.T) {
	// 1 token capacity, 600/min = 10/sec, so refill takes ~100ms
	b := NewBucket(1, 600)
	require.True(t, b.Allow())

	start := time.Now()
	err := b.Wait(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestBucket_WaitHonorsContext(t *testing.T) {
	// Refill so slow the context always wins
	b := NewBucket(1, 1)
	require.True(t, b.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := b.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
