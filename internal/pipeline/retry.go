package pipeline

import (
	"context"
	"time"
)

// failureCounter bounds consecutive failures of one step.
// A success resets it, so the limit means "N in a row", not "N in total".
type failureCounter struct {
	limit int
	delay time.Duration
	count int
}

func newFailureCounter(limit int, delay time.Duration) *failureCounter {
	if limit <= 0 {
		limit = 1
	}
	return &failureCounter{limit: limit, delay: delay}
}

// Fail records a failure. It returns false once the limit is reached or ctx
// is done; otherwise it waits out the retry delay and returns true.
func (f *failureCounter) Fail(ctx context.Context) bool {
	f.count++
	if f.count >= f.limit {
		return false
	}
	if f.delay <= 0 {
		return ctx.Err() == nil
	}

	t := time.NewTimer(f.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Reset clears the counter after a success.
func (f *failureCounter) Reset() {
	f.count = 0
}

// Count returns the current number of consecutive failures.
func (f *failureCounter) Count() int {
	return f.count
}
