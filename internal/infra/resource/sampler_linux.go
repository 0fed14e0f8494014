//go:build linux

package resource

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/procfs"

	"github.com/tutu-network/vpcsim/internal/domain"
)

// ProcfsSnapshotter samples per-process CPU and memory usage from procfs.
// CPU percent is the CPU time consumed between two passes divided by the
// wall time between them, so a multi-threaded process can exceed 100.
type ProcfsSnapshotter struct {
	fs     procfs.FS
	settle time.Duration
}

// NewProcfsSnapshotter opens the procfs mount named in cfg.
func NewProcfsSnapshotter(cfg SamplerConfig) (*ProcfsSnapshotter, error) {
	root := cfg.ProcRoot
	if root == "" {
		root = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(root)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrTelemetryUnavailable, root, err)
	}
	return &ProcfsSnapshotter{fs: fs, settle: cfg.SettleDelay}, nil
}

// Snapshot takes a baseline CPU-time pass, waits the settle delay, then
// reads every process again. Processes that vanish or cannot be read are
// omitted. A process with no baseline reports zero CPU.
func (s *ProcfsSnapshotter) Snapshot(ctx context.Context) (domain.HostSnapshot, error) {
	mem, err := s.fs.Meminfo()
	if err != nil {
		return domain.HostSnapshot{}, fmt.Errorf("%w: meminfo: %v", domain.ErrTelemetryUnavailable, err)
	}
	if mem.MemTotal == nil || *mem.MemTotal == 0 {
		return domain.HostSnapshot{}, fmt.Errorf("%w: meminfo has no MemTotal", domain.ErrTelemetryUnavailable)
	}
	totalBytes := float64(*mem.MemTotal) * 1024

	baseline, err := s.cpuTimes()
	if err != nil {
		return domain.HostSnapshot{}, err
	}
	start := time.Now()
	if err := settle(ctx, s.settle); err != nil {
		return domain.HostSnapshot{}, err
	}
	elapsed := time.Since(start).Seconds()

	procs, err := s.fs.AllProcs()
	if err != nil {
		return domain.HostSnapshot{}, fmt.Errorf("%w: list processes: %v", domain.ErrTelemetryUnavailable, err)
	}

	samples := make([]domain.HostSample, 0, len(procs))
	for _, p := range procs {
		st, err := p.Stat()
		if err != nil {
			continue
		}
		var cpu float64
		if before, ok := baseline[p.PID]; ok && elapsed > 0 {
			cpu = (st.CPUTime() - before) / elapsed * 100
			if cpu < 0 {
				cpu = 0
			}
		}
		samples = append(samples, domain.HostSample{
			PID:           p.PID,
			Name:          strings.TrimSpace(st.Comm),
			CPUPercent:    cpu,
			MemoryPercent: float64(st.ResidentMemory()) / totalBytes * 100,
		})
	}

	return domain.HostSnapshot{
		Samples:    samples,
		TotalRAMMB: totalBytes / (1024 * 1024),
		TakenAt:    time.Now(),
	}, nil
}

func (s *ProcfsSnapshotter) cpuTimes() (map[int]float64, error) {
	procs, err := s.fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("%w: list processes: %v", domain.ErrTelemetryUnavailable, err)
	}
	times := make(map[int]float64, len(procs))
	for _, p := range procs {
		st, err := p.Stat()
		if err != nil {
			continue
		}
		times[p.PID] = st.CPUTime()
	}
	return times, nil
}
