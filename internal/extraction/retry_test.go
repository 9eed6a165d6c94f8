package extraction

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestRetry_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "ocr", DefaultRetryPolicy, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_RetryableErrorRetries(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, InitialDelay: 1, MaxDelay: 1, BackoffMultiple: 1}
	calls := 0
	err := Retry(context.Background(), "vision", policy, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &googleapi.Error{Code: 503}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_NonRetryableAbortsImmediately(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, InitialDelay: 1, MaxDelay: 1, BackoffMultiple: 1}
	calls := 0
	err := Retry(context.Background(), "vision", policy, func(ctx context.Context) error {
		calls++
		return &googleapi.Error{Code: 400}
	})

	assert.Equal(t, 1, calls)
	var extractionErr *ExtractionError
	require.ErrorAs(t, err, &extractionErr)
	assert.Equal(t, CategoryBadRequest, extractionErr.Category)
	assert.False(t, extractionErr.Retryable)
}

func TestRetry_ExhaustedReturnsLastError(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 2, InitialDelay: 1, MaxDelay: 1, BackoffMultiple: 1}
	err := Retry(context.Background(), "ocr", policy, func(ctx context.Context) error {
		return fmt.Errorf("wrapped: %w", context.DeadlineExceeded)
	})

	var extractionErr *ExtractionError
	require.ErrorAs(t, err, &extractionErr)
	assert.Equal(t, CategoryTimeout, extractionErr.Category)
	assert.Equal(t, "ocr", extractionErr.Backend)
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		category  ErrorCategory
		retryable bool
	}{
		{"rate limit", &googleapi.Error{Code: 429}, CategoryRateLimit, true},
		{"server error", &googleapi.Error{Code: 500}, CategoryServerError, true},
		{"bad request", &googleapi.Error{Code: 404}, CategoryBadRequest, false},
		{"timeout", context.DeadlineExceeded, CategoryTimeout, true},
		{"canceled", context.Canceled, CategoryCanceled, false},
		{"unknown", errors.New("boom"), CategoryUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Categorize("vision", tt.err)
			assert.Equal(t, tt.category, got.Category)
			assert.Equal(t, tt.retryable, got.Retryable)
		})
	}
}
