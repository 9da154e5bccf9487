package router

import (
	"fmt"
	"time"
)

// ProviderUnavailableError reports that every model in the fallback chain
// failed. It carries the last underlying failure; the condition is
// retryable later.
type ProviderUnavailableError struct {
	Attempts int
	LastErr  error
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("router: all %d models in fallback chain failed: last error: %v", e.Attempts, e.LastErr)
}

func (e *ProviderUnavailableError) Unwrap() error { return e.LastErr }

// TimeoutError reports that a single attempt exceeded its time bound. It
// is distinct from ProviderUnavailableError: the provider is live but
// slow, not down. A timed-out attempt is abandoned and the fallback loop's
// normal catch-and-continue picks the next model.
type TimeoutError struct {
	Model string
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("router: model %s attempt exceeded %v", e.Model, e.Limit)
}
