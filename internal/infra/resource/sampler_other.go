//go:build !linux

package resource

import (
	"context"
	"time"

	"github.com/tutu-network/vpcsim/internal/domain"
)

// ProcfsSnapshotter has no process source outside Linux. It reports empty
// snapshots, which halt each cycle without stopping the loop.
type ProcfsSnapshotter struct {
	settle time.Duration
}

// NewProcfsSnapshotter creates the placeholder sampler.
func NewProcfsSnapshotter(cfg SamplerConfig) (*ProcfsSnapshotter, error) {
	return &ProcfsSnapshotter{settle: cfg.SettleDelay}, nil
}

// Snapshot waits the settle delay and returns no samples.
func (s *ProcfsSnapshotter) Snapshot(ctx context.Context) (domain.HostSnapshot, error) {
	if err := settle(ctx, s.settle); err != nil {
		return domain.HostSnapshot{}, err
	}
	return domain.HostSnapshot{Samples: []domain.HostSample{}, TakenAt: time.Now()}, nil
}
