package notify

import (
	"context"
	"time"
)

// RetryPolicy lists the wait before each attempt. The first entry is usually
// zero; the number of entries is the number of attempts.
type RetryPolicy struct {
	Delays []time.Duration
}

// DefaultRetryPolicy tries immediately, after 30 seconds and after 5 minutes.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Delays: []time.Duration{0, 30 * time.Second, 5 * time.Minute}}
}

// Attempts is the maximum number of tries.
func (p RetryPolicy) Attempts() int {
	return len(p.Delays)
}

// waitFor sleeps for d unless ctx ends first. It reports whether the wait
// completed.
func waitFor(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
