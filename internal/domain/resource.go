// Package domain holds the pure types of the simulator: host telemetry,
// virtual allocations, scored decisions, the policy and the session state.
// Nothing in here performs I/O.
package domain

import "time"

// ─── Host Telemetry ─────────────────────────────────────────────────────────

// HostSample is one process observed on the real host during a cycle.
type HostSample struct {
	PID           int     `json:"pid"`
	Name          string  `json:"name"`
	CPUPercent    float64 `json:"cpu_percent"`    // [0, ∞), may exceed 100 on multi-core hosts
	MemoryPercent float64 `json:"memory_percent"` // [0, 100]
}

// HostSnapshot is the telemetry batch for one cycle plus the host facts the
// mapper needs to scale it.
type HostSnapshot struct {
	Samples    []HostSample `json:"samples"`
	TotalRAMMB float64      `json:"total_ram_mb"`
	TakenAt    time.Time    `json:"taken_at,omitempty"`
}

// ─── Virtual Allocations ────────────────────────────────────────────────────

// VirtualTask is a host process projected onto the virtual budget.
type VirtualTask struct {
	PID       int     `json:"pid"`
	Name      string  `json:"name"`
	VCPUAlloc float64 `json:"v_cpu_alloc"`
	VRAMAlloc float64 `json:"v_ram_alloc"`
}

// ─── Window Visibility ──────────────────────────────────────────────────────

// VisibleWindow is an on-screen window attributed to a process.
type VisibleWindow struct {
	PID         int    `json:"pid"`
	ProcessName string `json:"process_name"`
	Title       string `json:"title"`
	Area        int    `json:"area"`
}

// ActiveWindowInfo describes the foreground window.
type ActiveWindowInfo struct {
	PID         int    `json:"pid"`
	ProcessName string `json:"process_name"`
	Title       string `json:"title"`
}

// UnknownActiveWindow is reported when the foreground window cannot be resolved.
func UnknownActiveWindow() ActiveWindowInfo {
	return ActiveWindowInfo{PID: -1, ProcessName: "Unknown"}
}

// ─── Capacity Status ────────────────────────────────────────────────────────

// CapacityStatus summarizes committed virtual RAM against the budget.
type CapacityStatus string

const (
	StatusStable    CapacityStatus = "Stable"
	StatusNearLimit CapacityStatus = "Near Limit"
	StatusOverload  CapacityStatus = "Overload"
)

// StatusFor classifies totalRAM against 80% and 100% of ramMB.
func StatusFor(totalRAM, ramMB float64) CapacityStatus {
	switch {
	case totalRAM < ramMB*0.8:
		return StatusStable
	case totalRAM < ramMB:
		return StatusNearLimit
	default:
		return StatusOverload
	}
}

// Level returns a numeric level for gauges (0=Stable, 1=Near Limit, 2=Overload).
func (s CapacityStatus) Level() int {
	switch s {
	case StatusStable:
		return 0
	case StatusNearLimit:
		return 1
	default:
		return 2
	}
}
