package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/dgallion1/chatareport/internal/generate"
)

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var retryErr *generate.RetryableError
	return errors.As(err, &retryErr)
}

// RetryPolicy governs network-level retries of an LLM call.
type RetryPolicy struct {
	MaxRetries      int
	BaseDelay       time.Duration
	OverloadedDelay time.Duration
	MaxDelay        time.Duration
}

// Backoff returns the wait before retry n (0-indexed): base * 2^n, using the
// overloaded base for HTTP 529, capped at MaxDelay.
func (p RetryPolicy) Backoff(err error, attempt int) time.Duration {
	base := p.BaseDelay
	var re *generate.RetryableError
	if errors.As(err, &re) && re.Overloaded() {
		base = p.OverloadedDelay
	}
	d := base
	for range attempt {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
