package domain

import "context"

// ─── Collaborator Interfaces ────────────────────────────────────────────────
// The cycle engine depends on these; infra packages implement them.

// HostSnapshotter supplies one telemetry batch per cycle. Implementations
// seed their own CPU baseline; processes that vanish mid-sample are omitted.
type HostSnapshotter interface {
	Snapshot(ctx context.Context) (HostSnapshot, error)
}

// WindowSource enumerates visible windows and the foreground window.
// An empty list is valid and zeroes visibility for every task.
type WindowSource interface {
	Windows(ctx context.Context) ([]VisibleWindow, ActiveWindowInfo, error)
}

// StateStore round-trips the session accumulators between process runs.
type StateStore interface {
	// Load returns the persisted state. Missing or corrupt data yields an
	// empty state, not an error.
	Load() (*SessionState, error)
	Save(state *SessionState) error
}

// HistoryRecorder keeps resolved-task history and the per-cycle log.
type HistoryRecorder interface {
	RecordResolved(records []ResolvedRecord) error
	AppendCycle(entry CycleLogEntry) error
}
