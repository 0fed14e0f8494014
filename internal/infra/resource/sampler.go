// Package resource provides the host-facing collaborators of the simulator:
// process telemetry snapshots and on-screen window visibility.
package resource

import (
	"context"
	"time"
)

// DefaultSettleDelay separates the two CPU-time observations of a snapshot.
const DefaultSettleDelay = 200 * time.Millisecond

// SamplerConfig controls host sampling.
type SamplerConfig struct {
	ProcRoot    string        // procfs mount point (default: /proc)
	SettleDelay time.Duration // delay between CPU-time passes
}

// DefaultSamplerConfig returns the standard sampler settings.
func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		ProcRoot:    "/proc",
		SettleDelay: DefaultSettleDelay,
	}
}

// settle blocks for d or until ctx is done.
func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
