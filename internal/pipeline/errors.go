package pipeline

import (
	"fmt"
	"time"
)

// RateLimitedError is returned when a request is rejected at admission.
// RetryAfter is never below one second.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("pipeline: rate limit exceeded, retry after %s", e.RetryAfter)
}
