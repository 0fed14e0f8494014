package domain

import "math"

// DefaultRefreshInterval is used when a session is created without one (seconds).
const DefaultRefreshInterval = 2.0

// SessionState is the memory the scorer threads across cycles. It is owned
// by the driving loop and mutated only by the scorer, once per cycle.
type SessionState struct {
	WaitTimes       map[int]float64 `json:"wait_times"`    // pid → accumulated wait, seconds ≥ 0
	UsageHistory    map[string]int  `json:"usage_history"` // name → observations, never decreases
	RefreshInterval float64         `json:"-"`             // seconds > 0
}

// NewSessionState creates an empty session.
func NewSessionState(refreshInterval float64) *SessionState {
	if !(refreshInterval > 0) {
		refreshInterval = DefaultRefreshInterval
	}
	return &SessionState{
		WaitTimes:       make(map[int]float64),
		UsageHistory:    make(map[string]int),
		RefreshInterval: refreshInterval,
	}
}

// ensure lazily allocates maps on a zero-value session.
func (s *SessionState) ensure() {
	if s.WaitTimes == nil {
		s.WaitTimes = make(map[int]float64)
	}
	if s.UsageHistory == nil {
		s.UsageHistory = make(map[string]int)
	}
	if !(s.RefreshInterval > 0) {
		s.RefreshInterval = DefaultRefreshInterval
	}
}

// AccumulateWait advances the wait accumulator for pid by one refresh
// interval when idle, or drains it by one interval (floored at zero)
// otherwise. Returns the new value.
func (s *SessionState) AccumulateWait(pid int, idle bool) float64 {
	s.ensure()
	w := s.WaitTimes[pid]
	if idle {
		w += s.RefreshInterval
	} else {
		w = math.Max(0, w-s.RefreshInterval)
	}
	s.WaitTimes[pid] = w
	return w
}

// WaitTime returns the accumulated wait for pid.
func (s *SessionState) WaitTime(pid int) float64 {
	if s.WaitTimes == nil {
		return 0
	}
	return s.WaitTimes[pid]
}

// RecordUsage increments the usage counter for name and returns the new count.
func (s *SessionState) RecordUsage(name string) int {
	s.ensure()
	s.UsageHistory[name]++
	return s.UsageHistory[name]
}

// Usage returns the usage counter for name.
func (s *SessionState) Usage(name string) int {
	if s.UsageHistory == nil {
		return 0
	}
	return s.UsageHistory[name]
}

// Clone returns a deep copy.
func (s *SessionState) Clone() *SessionState {
	c := &SessionState{
		WaitTimes:       make(map[int]float64, len(s.WaitTimes)),
		UsageHistory:    make(map[string]int, len(s.UsageHistory)),
		RefreshInterval: s.RefreshInterval,
	}
	for k, v := range s.WaitTimes {
		c.WaitTimes[k] = v
	}
	for k, v := range s.UsageHistory {
		c.UsageHistory[k] = v
	}
	return c
}

// Merge adopts persisted accumulators into an empty session. Entries that
// are already tracked are kept; persisted wait times are clamped at zero.
func (s *SessionState) Merge(other *SessionState) {
	if other == nil {
		return
	}
	s.ensure()
	for pid, w := range other.WaitTimes {
		if _, ok := s.WaitTimes[pid]; !ok {
			s.WaitTimes[pid] = math.Max(0, w)
		}
	}
	for name, n := range other.UsageHistory {
		if _, ok := s.UsageHistory[name]; !ok && n > 0 {
			s.UsageHistory[name] = n
		}
	}
}
