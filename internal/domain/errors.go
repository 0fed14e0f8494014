package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Business conditions (over-capacity, starvation, empty telemetry) are data,
// not errors. These cover configuration and structurally invalid input only.

var (
	// Policy errors
	ErrInvalidPolicy = errors.New("invalid policy")
	ErrUnknownPreset = errors.New("unknown policy preset")

	// Mapping errors
	ErrInvalidSnapshot = errors.New("structurally invalid host snapshot")

	// Collaborator errors
	ErrTelemetryUnavailable = errors.New("host telemetry unavailable on this platform")
	ErrReplayEmpty          = errors.New("replay file contains no snapshots")
)
