package session

import (
	"context"
	"time"
)

// Policy bounds retries for one network operation. Policies are constructed
// per call site, never shared mutable state.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Do runs op until it succeeds, the attempt budget is spent, or retryable
// reports the error as permanent. Backoff is linear: base * attempt.
// A non-retryable error aborts immediately without consuming the budget.
func (p Policy) Do(ctx context.Context, op func() error, retryable func(error) bool) error {
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}
		select {
		case <-time.After(p.BaseDelay * time.Duration(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
