package platform

import (
	"context"
	"sync"
	"time"
)

// DefaultMinInterval is the default minimum spacing between outbound
// platform API calls.
const DefaultMinInterval = time.Second

// Limiter enforces a minimum spacing between outbound calls using the
// timestamp of the last call. It is deliberately not a token bucket
// and is shared across all endpoints.
type Limiter struct {
	mu          sync.Mutex
	last        time.Time
	minInterval time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLimiter creates a limiter with the given minimum spacing.
// A non-positive interval falls back to DefaultMinInterval.
func NewLimiter(minInterval time.Duration) *Limiter {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	return &Limiter{
		minInterval: minInterval,
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

// Wait blocks until at least the minimum interval has elapsed since
// the previous call, then records the current call.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	now := l.now()
	wait := l.minInterval - now.Sub(l.last)
	if wait < 0 {
		wait = 0
	}
	// Reserve the slot before sleeping so concurrent callers queue up
	// rather than stampede.
	l.last = now.Add(wait)
	l.mu.Unlock()

	if wait == 0 {
		return nil
	}
	return l.sleep(ctx, wait)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
