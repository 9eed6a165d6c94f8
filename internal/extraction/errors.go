package extraction

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/googleapi"
)

// ErrorCategory buckets extractor failures for retry decisions and metrics.
type ErrorCategory string

const (
	CategoryTimeout     ErrorCategory = "timeout"
	CategoryRateLimit   ErrorCategory = "rate_limit"
	CategoryServerError ErrorCategory = "server_error"
	CategoryBadRequest  ErrorCategory = "bad_request"
	CategoryUnreachable ErrorCategory = "unreachable"
	CategoryBadPayload  ErrorCategory = "bad_payload"
	CategoryCanceled    ErrorCategory = "canceled"
	CategoryUnknown     ErrorCategory = "unknown"
)

// ExtractionError wraps an extractor backend failure. Callers treat it as a
// soft failure: the pipeline continues with whatever the other extractor
// produced.
type ExtractionError struct {
	Backend   string
	Category  ErrorCategory
	Retryable bool
	Err       error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s extraction failed (%s): %v", e.Backend, e.Category, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// MalformedInputError marks an image the extractors cannot read at all.
// Terminal: the submission routes to manual review with reason
// "unreadable_image".
type MalformedInputError struct {
	Reason string
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("malformed input: %s", e.Reason)
}

// Categorize classifies a backend error and decides whether a retry can help.
// Modeled on the status buckets the upstream APIs document: 429 and 5xx are
// transient, other 4xx are not.
func Categorize(backend string, err error) *ExtractionError {
	if err == nil {
		return nil
	}

	out := &ExtractionError{Backend: backend, Category: CategoryUnknown, Err: err}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			out.Category = CategoryRateLimit
			out.Retryable = true
		case apiErr.Code >= 500:
			out.Category = CategoryServerError
			out.Retryable = true
		default:
			out.Category = CategoryBadRequest
		}
		return out
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		out.Category = CategoryTimeout
		out.Retryable = true
	case errors.Is(err, context.Canceled):
		out.Category = CategoryCanceled
	}
	return out
}
