package pipeline

import (
	"errors"
	"fmt"
)

// Failure classes. Bounded retries wrap the last cause together with one of these.
var (
	ErrTransientFeed       = errors.New("transient feed error")
	ErrAmbiguousCompletion = errors.New("feed reported completion")
	ErrStorageWrite        = errors.New("storage write failed")
	ErrTooManyFailures     = errors.New("too many consecutive failures")
	ErrNotBootstrapped     = errors.New("distributor is not bootstrapped")
)

// abortError builds the error returned when a bounded retry gives up.
// Durable state is left at the last success, so the run can be resumed.
func abortError(phase string, class error, count int, cause error) error {
	return fmt.Errorf("%s: %w (%d in a row): %w: %w", phase, ErrTooManyFailures, count, class, cause)
}
