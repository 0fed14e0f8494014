package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// CPUMapping selects how host CPU percentages become virtual CPU units.
type CPUMapping string

const (
	// CPUProportional shares the whole pool by each task's fraction of total host CPU.
	CPUProportional CPUMapping = "proportional"
	// CPUDirect maps cpu_percent/100 of the pool to each task independently.
	CPUDirect CPUMapping = "direct"
)

// EvictionOrder selects which survivor capacity recovery removes first.
type EvictionOrder string

const (
	EvictLowestScoreFirst  EvictionOrder = "lowest-score-first"
	EvictHighestScoreFirst EvictionOrder = "highest-score-first"
)

// Policy is the immutable configuration of a simulation run: capacities,
// coefficients, thresholds and saturation constants. The two historical
// profiles are presets of this one struct.
type Policy struct {
	Name string `toml:"name" yaml:"name" json:"name"`

	RAMMB           float64 `toml:"ram_mb" yaml:"ram_mb" json:"ram_mb"`
	CPUUnits        float64 `toml:"cpu_units" yaml:"cpu_units" json:"cpu_units"`
	RefreshInterval float64 `toml:"refresh_interval" yaml:"refresh_interval" json:"refresh_interval"` // seconds

	// Score coefficients; must sum to 1.0.
	Alpha   float64 `toml:"alpha" yaml:"alpha" json:"alpha"`       // CPU
	Beta    float64 `toml:"beta" yaml:"beta" json:"beta"`          // RAM
	Gamma   float64 `toml:"gamma" yaml:"gamma" json:"gamma"`       // wait
	Delta   float64 `toml:"delta" yaml:"delta" json:"delta"`       // visibility
	Epsilon float64 `toml:"epsilon" yaml:"epsilon" json:"epsilon"` // history

	KillThreshold         float64 `toml:"kill_threshold" yaml:"kill_threshold" json:"kill_threshold"`
	PreemptThreshold      float64 `toml:"preempt_threshold" yaml:"preempt_threshold" json:"preempt_threshold"`
	DeadlockWaitThreshold float64 `toml:"deadlock_wait_threshold" yaml:"deadlock_wait_threshold" json:"deadlock_wait_threshold"`
	DeadlockCPUThreshold  float64 `toml:"deadlock_cpu_threshold" yaml:"deadlock_cpu_threshold" json:"deadlock_cpu_threshold"`

	HistorySaturation     float64 `toml:"history_saturation" yaml:"history_saturation" json:"history_saturation"`
	WaitSaturation        float64 `toml:"wait_saturation" yaml:"wait_saturation" json:"wait_saturation"` // seconds
	RAMNormalizerFraction float64 `toml:"ram_normalizer_fraction" yaml:"ram_normalizer_fraction" json:"ram_normalizer_fraction"`

	IdleCPUFraction      float64 `toml:"idle_cpu_fraction" yaml:"idle_cpu_fraction" json:"idle_cpu_fraction"`
	ActivityCPUThreshold float64 `toml:"activity_cpu_threshold" yaml:"activity_cpu_threshold" json:"activity_cpu_threshold"` // virtual units

	PerTaskCPUCapFraction float64    `toml:"per_task_cpu_cap_fraction" yaml:"per_task_cpu_cap_fraction" json:"per_task_cpu_cap_fraction"`
	PerTaskRAMCapFraction float64    `toml:"per_task_ram_cap_fraction" yaml:"per_task_ram_cap_fraction" json:"per_task_ram_cap_fraction"`
	NoiseThreshold        float64    `toml:"noise_threshold" yaml:"noise_threshold" json:"noise_threshold"` // memory_percent
	CPUMapping            CPUMapping `toml:"cpu_mapping" yaml:"cpu_mapping" json:"cpu_mapping"`

	PreemptFactor   float64       `toml:"preempt_factor" yaml:"preempt_factor" json:"preempt_factor"`
	EvictionOrder   EvictionOrder `toml:"eviction_order" yaml:"eviction_order" json:"eviction_order"`
	CapacityEpsilon float64       `toml:"capacity_epsilon" yaml:"capacity_epsilon" json:"capacity_epsilon"` // MB

	IgnoreNames []string `toml:"ignore_names" yaml:"ignore_names" json:"ignore_names"`
}

// Preset names.
const (
	PresetLowEnd   = "low-end"
	PresetStandard = "standard"
)

// defaultIgnoreNames are host noise processes that never get scored.
var defaultIgnoreNames = []string{
	"System Idle Process", "TextInputHost.exe", "svchost.exe",
	"RuntimeBroker.exe", "winlogon.exe", "SearchIndexer.exe",
	"System", "Idle",
}

// LowEndPolicy is the 512 MB / 50 unit profile, tuned so high CPU shows up
// clearly on small hosts.
func LowEndPolicy() Policy {
	return Policy{
		Name:                  PresetLowEnd,
		RAMMB:                 512,
		CPUUnits:              50,
		RefreshInterval:       3,
		Alpha:                 0.50,
		Beta:                  0.25,
		Gamma:                 0.15,
		Delta:                 0.06,
		Epsilon:               0.04,
		KillThreshold:         0.60,
		PreemptThreshold:      0.30,
		DeadlockWaitThreshold: 0.75,
		DeadlockCPUThreshold:  0.02,
		HistorySaturation:     30,
		WaitSaturation:        90,
		RAMNormalizerFraction: 0.4,
		IdleCPUFraction:       0.06,
		ActivityCPUThreshold:  1.0,
		PerTaskCPUCapFraction: 0.4,
		PerTaskRAMCapFraction: 0.8,
		NoiseThreshold:        0.05,
		CPUMapping:            CPUProportional,
		PreemptFactor:         0.6,
		EvictionOrder:         EvictLowestScoreFirst,
		CapacityEpsilon:       1e-6,
		IgnoreNames:           append([]string(nil), defaultIgnoreNames...),
	}
}

// StandardPolicy is the 1024 MB / 100 unit profile.
func StandardPolicy() Policy {
	return Policy{
		Name:                  PresetStandard,
		RAMMB:                 1024,
		CPUUnits:              100,
		RefreshInterval:       2,
		Alpha:                 0.40,
		Beta:                  0.30,
		Gamma:                 0.15,
		Delta:                 0.10,
		Epsilon:               0.05,
		KillThreshold:         0.70,
		PreemptThreshold:      0.40,
		DeadlockWaitThreshold: 0.80,
		DeadlockCPUThreshold:  0.02,
		HistorySaturation:     50,
		WaitSaturation:        120,
		RAMNormalizerFraction: 0.5,
		IdleCPUFraction:       0.05,
		ActivityCPUThreshold:  1.0,
		PerTaskCPUCapFraction: 0.4,
		PerTaskRAMCapFraction: 0.9,
		NoiseThreshold:        0.02,
		CPUMapping:            CPUProportional,
		PreemptFactor:         0.6,
		EvictionOrder:         EvictLowestScoreFirst,
		CapacityEpsilon:       1e-6,
		IgnoreNames:           append([]string(nil), defaultIgnoreNames...),
	}
}

var presets = map[string]func() Policy{
	PresetLowEnd:   LowEndPolicy,
	PresetStandard: StandardPolicy,
}

// PolicyPreset returns the named preset.
func PolicyPreset(name string) (Policy, error) {
	fn, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return fn(), nil
}

// PresetNames lists the available presets in stable order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// coefficientTolerance bounds float drift when checking that coefficients sum to 1.
const coefficientTolerance = 1e-6

// Validate checks the policy for internal consistency.
func (p Policy) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if !(p.RAMMB >= 0) || math.IsInf(p.RAMMB, 0) {
		add("ram_mb must be a finite value >= 0, got %v", p.RAMMB)
	}
	if !(p.CPUUnits > 0) || math.IsInf(p.CPUUnits, 0) {
		add("cpu_units must be > 0, got %v", p.CPUUnits)
	}
	if !(p.RefreshInterval > 0) {
		add("refresh_interval must be > 0, got %v", p.RefreshInterval)
	}

	coeffs := map[string]float64{
		"alpha": p.Alpha, "beta": p.Beta, "gamma": p.Gamma, "delta": p.Delta, "epsilon": p.Epsilon,
	}
	sum := 0.0
	for _, name := range []string{"alpha", "beta", "gamma", "delta", "epsilon"} {
		c := coeffs[name]
		if c < 0 || c > 1 {
			add("%s must be in [0,1], got %v", name, c)
		}
		sum += c
	}
	if math.Abs(sum-1.0) > coefficientTolerance {
		add("coefficients must sum to 1.0, got %.6f", sum)
	}

	unit := map[string]float64{
		"kill_threshold":            p.KillThreshold,
		"preempt_threshold":         p.PreemptThreshold,
		"deadlock_wait_threshold":   p.DeadlockWaitThreshold,
		"deadlock_cpu_threshold":    p.DeadlockCPUThreshold,
		"ram_normalizer_fraction":   p.RAMNormalizerFraction,
		"idle_cpu_fraction":         p.IdleCPUFraction,
		"per_task_cpu_cap_fraction": p.PerTaskCPUCapFraction,
		"per_task_ram_cap_fraction": p.PerTaskRAMCapFraction,
	}
	keys := make([]string, 0, len(unit))
	for k := range unit {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := unit[k]; v < 0 || v > 1 || math.IsNaN(v) {
			add("%s must be in [0,1], got %v", k, v)
		}
	}

	if p.PreemptThreshold > p.KillThreshold {
		add("preempt_threshold (%v) must not exceed kill_threshold (%v)", p.PreemptThreshold, p.KillThreshold)
	}
	if !(p.HistorySaturation > 0) {
		add("history_saturation must be > 0, got %v", p.HistorySaturation)
	}
	if !(p.WaitSaturation > 0) {
		add("wait_saturation must be > 0, got %v", p.WaitSaturation)
	}
	if p.NoiseThreshold < 0 || p.NoiseThreshold > 100 {
		add("noise_threshold must be in [0,100], got %v", p.NoiseThreshold)
	}
	if p.ActivityCPUThreshold < 0 {
		add("activity_cpu_threshold must be >= 0, got %v", p.ActivityCPUThreshold)
	}
	if !(p.PreemptFactor > 0) || p.PreemptFactor > 1 {
		add("preempt_factor must be in (0,1], got %v", p.PreemptFactor)
	}
	if p.CapacityEpsilon < 0 {
		add("capacity_epsilon must be >= 0, got %v", p.CapacityEpsilon)
	}

	switch p.CPUMapping {
	case CPUProportional, CPUDirect:
	default:
		add("cpu_mapping must be %q or %q, got %q", CPUProportional, CPUDirect, p.CPUMapping)
	}
	switch p.EvictionOrder {
	case EvictLowestScoreFirst, EvictHighestScoreFirst:
	default:
		add("eviction_order must be %q or %q, got %q", EvictLowestScoreFirst, EvictHighestScoreFirst, p.EvictionOrder)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPolicy, strings.Join(problems, "; "))
	}
	return nil
}

// IgnoreSet returns IgnoreNames as a lookup set.
func (p Policy) IgnoreSet() map[string]struct{} {
	set := make(map[string]struct{}, len(p.IgnoreNames))
	for _, n := range p.IgnoreNames {
		set[n] = struct{}{}
	}
	return set
}

// IdleCPUThreshold is the virtual CPU allocation below which a task counts as waiting.
func (p Policy) IdleCPUThreshold() float64 {
	return p.CPUUnits * p.IdleCPUFraction
}

// RAMNormalizer is the RAM allocation that saturates w_ram. Never below 1 MB.
func (p Policy) RAMNormalizer() float64 {
	return math.Max(1.0, p.RAMMB*p.RAMNormalizerFraction)
}
