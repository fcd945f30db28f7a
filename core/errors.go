package core

import (
	"fmt"
	"time"
)

// RateLimitError is the rejection a vision-inference request may return.
// RetryAfter carries the service's retry-after hint; zero means no hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}
