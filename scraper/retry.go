package scraper

import "time"

// RetryPolicy bounds how often a failed pipeline attempt is repeated within
// one RunPipeline call. MaxRetries counts repeats after the first attempt.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: 60 * time.Second}
}

// Delay is the wait after failed attempt n (1-based): BaseDelay × n.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(attempt)
}

// attempts is the first attempt plus every retry.
func (p RetryPolicy) attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}
