package extraction

import (
	"context"
	"errors"
)

// Disabled stands in for an extractor backend that is not configured. It
// fails every call with a permanent error, so the pipeline degrades to the
// remaining backend instead of refusing to start.
type Disabled struct {
	Backend string
}

func (d Disabled) failure() error {
	return &ExtractionError{
		Backend:  d.Backend,
		Category: CategoryUnreachable,
		Err:      errors.New("backend not configured"),
	}
}

func (d Disabled) ExtractText(context.Context, []byte) (*TextResult, error) {
	return nil, d.failure()
}

func (d Disabled) ExtractPayment(context.Context, []byte, *Hints) (*StructuredResult, error) {
	return nil, d.failure()
}
