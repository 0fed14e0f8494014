// Package mapper projects host process telemetry onto the virtual budget.
package mapper

import (
	"fmt"
	"math"
	"strings"

	"github.com/tutu-network/vpcsim/internal/domain"
)

// hostReferenceFraction is the share of real host RAM treated as the
// reference capacity when scaling into the virtual pool.
const hostReferenceFraction = 0.5

// Mapper converts a HostSnapshot into bounded VirtualTasks.
// It is a pure function of its inputs and the policy.
type Mapper struct {
	policy domain.Policy
}

// New creates a mapper for the given policy.
func New(policy domain.Policy) *Mapper {
	return &Mapper{policy: policy}
}

// Map returns one VirtualTask per retained sample. Samples at or below the
// noise threshold are dropped. Malformed numeric fields are treated as zero.
// The only error is domain.ErrInvalidSnapshot for a snapshot whose host RAM
// total is unusable.
func (m *Mapper) Map(snap domain.HostSnapshot) ([]domain.VirtualTask, error) {
	tasks := make([]domain.VirtualTask, 0, len(snap.Samples))
	if len(snap.Samples) == 0 {
		return tasks, nil
	}
	hostTotal := snap.TotalRAMMB
	if math.IsNaN(hostTotal) || math.IsInf(hostTotal, 0) || hostTotal < 0 {
		return nil, fmt.Errorf("%w: total_ram_mb=%v", domain.ErrInvalidSnapshot, hostTotal)
	}

	p := m.policy

	retained := make([]domain.HostSample, 0, len(snap.Samples))
	totalCPU := 0.0
	for _, s := range snap.Samples {
		s.CPUPercent = sanitize(s.CPUPercent)
		s.MemoryPercent = math.Min(sanitize(s.MemoryPercent), 100)
		if s.MemoryPercent <= p.NoiseThreshold {
			continue
		}
		totalCPU += s.CPUPercent
		retained = append(retained, s)
	}
	if totalCPU == 0 {
		totalCPU = 1.0
	}

	cpuCap := p.CPUUnits * p.PerTaskCPUCapFraction
	ramCap := p.RAMMB * p.PerTaskRAMCapFraction
	scaling := ramScaling(hostTotal, p.RAMMB)

	for _, s := range retained {
		var vCPU float64
		switch p.CPUMapping {
		case domain.CPUDirect:
			vCPU = math.Min(s.CPUPercent/100*p.CPUUnits, p.CPUUnits)
		default:
			vCPU = s.CPUPercent / totalCPU * p.CPUUnits
		}
		vCPU = math.Min(vCPU, cpuCap)

		hostProcMB := s.MemoryPercent / 100 * hostTotal
		vRAM := math.Min(hostProcMB*scaling, ramCap)

		tasks = append(tasks, domain.VirtualTask{
			PID:       s.PID,
			Name:      SafeName(s.Name, s.PID),
			VCPUAlloc: Round2(vCPU),
			VRAMAlloc: Round2(vRAM),
		})
	}
	return tasks, nil
}

// ramScaling keeps virtual RAM proportionate to host pressure: processes are
// scaled by RAM_MB against the larger of half the host and RAM_MB itself.
func ramScaling(hostTotalMB, ramMB float64) float64 {
	hostRef := math.Max(hostTotalMB*hostReferenceFraction, ramMB)
	if hostRef <= 0 {
		return 0
	}
	return math.Min(1, ramMB/hostRef)
}

// SafeName trims a process name, substituting proc_<pid> when empty.
func SafeName(name string, pid int) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return fmt.Sprintf("proc_%d", pid)
	}
	return n
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// Round2 rounds to two decimal places, the precision allocations are reported in.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
