package domain

import "time"

// Action is the classification the scorer assigns to a virtual task.
type Action string

const (
	ActionWait       Action = "wait"
	ActionPreempt    Action = "preempt"
	ActionKill       Action = "kill"
	ActionDeadlocked Action = "deadlocked"

	// ActionEvicted never comes out of the scorer. It labels history
	// records for tasks removed by capacity recovery.
	ActionEvicted Action = "evicted"
)

// Classification reasons.
const (
	ReasonDeadlocked = "sustained wait without CPU progress"
	ReasonKill       = "combined load exceeds recovery threshold"
	ReasonPreempt    = "moderate load — rebalance"
	ReasonWait       = "low load"
	ReasonEvicted    = "evicted to restore capacity"
)

// IsTerminal reports whether the action removes the task from the survivor set.
func (a Action) IsTerminal() bool {
	return a == ActionKill || a == ActionDeadlocked || a == ActionEvicted
}

// ScoredTask is a VirtualTask with its contention weights and decision.
// Created once per cycle and never mutated afterwards.
type ScoredTask struct {
	VirtualTask

	WCPU  float64 `json:"w_cpu"`
	WRAM  float64 `json:"w_ram"`
	WWait float64 `json:"w_wait"`
	WVis  float64 `json:"w_vis"`
	WHist float64 `json:"w_hist"`

	Score    float64 `json:"score"`
	RawScore float64 `json:"raw_score"` // weighted sum before clamping

	Action      Action  `json:"action"`
	Reason      string  `json:"reason"`
	WaitTimeSec float64 `json:"wait_time_sec"`
}

// AdjustedTask is a task still holding an allocation after recovery.
type AdjustedTask struct {
	VirtualTask
	Action Action  `json:"action"`
	Reason string  `json:"reason"`
	Score  float64 `json:"score"`
}

// ResolvedRecord is a history entry for a task removed from the survivor set.
// Allocations are the pre-action values.
type ResolvedRecord struct {
	CycleID   string    `json:"cycle_id,omitempty"`
	Time      time.Time `json:"time"`
	PID       int       `json:"pid"`
	Name      string    `json:"name"`
	VCPUAlloc float64   `json:"v_cpu_alloc"`
	VRAMAlloc float64   `json:"v_ram_alloc"`
	Score     float64   `json:"score"`
	Action    Action    `json:"action"`
	Reason    string    `json:"reason"`
}

// CycleLogEntry is one line of the rolling per-cycle summary log.
type CycleLogEntry struct {
	CycleID  string         `json:"cycle_id"`
	Time     time.Time      `json:"time"`
	Status   CapacityStatus `json:"status"`
	TotalRAM float64        `json:"total_ram"`
	TotalCPU float64        `json:"total_cpu"`
	Line     string         `json:"line"`
}
