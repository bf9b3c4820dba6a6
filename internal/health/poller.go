package health

import (
	"context"
	"errors"
)

// ErrPollerStopped is returned when the audit log poller is not running.
var ErrPollerStopped = errors.New("audit log poller is not running")

// Runner reports whether a background job is currently running.
type Runner interface {
	IsRunning() bool
}

// PollerChecker implements health checking for the audit log poller.
type PollerChecker struct {
	poller Runner
}

// NewPollerChecker creates a new poller health checker.
func NewPollerChecker(poller Runner) *PollerChecker {
	return &PollerChecker{
		poller: poller,
	}
}

// HealthCheck reports an error when the poller loop has stopped.
func (p *PollerChecker) HealthCheck(ctx context.Context) error {
	if !p.poller.IsRunning() {
		return ErrPollerStopped
	}
	return nil
}
