package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── Presets ────────────────────────────────────────────────────────────────

func TestPresets_Validate(t *testing.T) {
	for _, name := range PresetNames() {
		t.Run(name, func(t *testing.T) {
			p, err := PolicyPreset(name)
			require.NoError(t, err)
			assert.NoError(t, p.Validate())
			assert.Equal(t, name, p.Name)
		})
	}
}

func TestPresets_Capacities(t *testing.T) {
	tests := []struct {
		name     string
		policy   Policy
		ramMB    float64
		cpuUnits float64
	}{
		{PresetLowEnd, LowEndPolicy(), 512, 50},
		{PresetStandard, StandardPolicy(), 1024, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ramMB, tt.policy.RAMMB)
			assert.Equal(t, tt.cpuUnits, tt.policy.CPUUnits)
		})
	}
}

func TestPolicyPreset_CaseInsensitive(t *testing.T) {
	p, err := PolicyPreset("  Low-End ")
	require.NoError(t, err)
	assert.Equal(t, 512.0, p.RAMMB)
}

func TestPolicyPreset_Unknown(t *testing.T) {
	_, err := PolicyPreset("mainframe")
	assert.True(t, errors.Is(err, ErrUnknownPreset))
}

func TestPresetNames_Sorted(t *testing.T) {
	assert.Equal(t, []string{PresetLowEnd, PresetStandard}, PresetNames())
}

func TestPresets_IndependentIgnoreLists(t *testing.T) {
	a := LowEndPolicy()
	a.IgnoreNames[0] = "mutated"
	b := LowEndPolicy()
	assert.NotEqual(t, "mutated", b.IgnoreNames[0])
}

// ─── Validation ─────────────────────────────────────────────────────────────

func TestPolicy_Validate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Policy)
	}{
		{"coefficients off by 0.1", func(p *Policy) { p.Alpha += 0.1 }},
		{"negative coefficient", func(p *Policy) { p.Alpha, p.Beta = 0.80, -0.05 }},
		{"zero cpu units", func(p *Policy) { p.CPUUnits = 0 }},
		{"negative ram", func(p *Policy) { p.RAMMB = -1 }},
		{"zero refresh", func(p *Policy) { p.RefreshInterval = 0 }},
		{"kill threshold above 1", func(p *Policy) { p.KillThreshold = 1.5 }},
		{"preempt above kill", func(p *Policy) { p.PreemptThreshold = 0.9 }},
		{"zero history saturation", func(p *Policy) { p.HistorySaturation = 0 }},
		{"zero wait saturation", func(p *Policy) { p.WaitSaturation = 0 }},
		{"preempt factor zero", func(p *Policy) { p.PreemptFactor = 0 }},
		{"unknown cpu mapping", func(p *Policy) { p.CPUMapping = "magic" }},
		{"unknown eviction order", func(p *Policy) { p.EvictionOrder = "random" }},
		{"ram cap above 1", func(p *Policy) { p.PerTaskRAMCapFraction = 1.2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := LowEndPolicy()
			tt.mutate(&p)
			err := p.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidPolicy))
		})
	}
}

func TestPolicy_Validate_ZeroRAMAllowed(t *testing.T) {
	p := LowEndPolicy()
	p.RAMMB = 0
	assert.NoError(t, p.Validate())
}

// ─── Derived values ─────────────────────────────────────────────────────────

func TestPolicy_Derived(t *testing.T) {
	p := LowEndPolicy()
	assert.InDelta(t, 3.0, p.IdleCPUThreshold(), 1e-9)
	assert.InDelta(t, 204.8, p.RAMNormalizer(), 1e-9)

	p.RAMMB = 0
	assert.Equal(t, 1.0, p.RAMNormalizer(), "normalizer floors at 1 MB")

	set := LowEndPolicy().IgnoreSet()
	_, ok := set["svchost.exe"]
	assert.True(t, ok)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		total float64
		want  CapacityStatus
	}{
		{0, StatusStable},
		{409.5, StatusStable},
		{409.6, StatusNearLimit},
		{511.99, StatusNearLimit},
		{512, StatusOverload},
		{700, StatusOverload},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.total, 512), "total=%v", tt.total)
	}
	assert.Equal(t, 0, StatusStable.Level())
	assert.Equal(t, 2, StatusOverload.Level())
}

func TestAction_IsTerminal(t *testing.T) {
	assert.False(t, ActionWait.IsTerminal())
	assert.False(t, ActionPreempt.IsTerminal())
	assert.True(t, ActionKill.IsTerminal())
	assert.True(t, ActionDeadlocked.IsTerminal())
	assert.True(t, ActionEvicted.IsTerminal())
}
