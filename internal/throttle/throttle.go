// Package throttle enforces a minimum interval between calls to an external capability.
package throttle

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Throttle admits one call per interval. The first call passes immediately.
// A Throttle is safe for concurrent use; share one value between callers that
// must respect the same rate.
type Throttle struct {
	interval time.Duration
	limiter  *rate.Limiter
}

// New creates a throttle. A non-positive interval disables throttling.
func New(interval time.Duration) *Throttle {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Throttle{
		interval: interval,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// Wait blocks until the next call may proceed or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}
	return t.limiter.Wait(ctx)
}

// Interval returns the configured minimum spacing.
func (t *Throttle) Interval() time.Duration {
	if t == nil {
		return 0
	}
	return t.interval
}
