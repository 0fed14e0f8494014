// Package daemon manages the vpcsim runtime lifecycle and configuration.
package daemon

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/tutu-network/vpcsim/internal/domain"
)

// EnvPrefix prefixes every environment override (VPCSIM_PRESET, ...).
const EnvPrefix = "VPCSIM"

// ConfigFileName is the config file inside the vpcsim home directory.
const ConfigFileName = "config.toml"

// Config holds all runtime configuration.
type Config struct {
	Home string `toml:"-"`

	// Policy is resolved from [policy], a policy file and the environment.
	// It is validated at load time and immutable afterwards.
	Policy domain.Policy `toml:"-"`

	PolicySource PolicySource     `toml:"policy"`
	Simulation   SimulationConfig `toml:"simulation"`
	API          APIConfig        `toml:"api"`
	Logging      LoggingConfig    `toml:"logging"`
	Storage      StorageConfig    `toml:"storage"`
}

// PolicySource selects the base preset and an optional standalone policy
// file. Every other key in [policy] overrides the matching policy field.
type PolicySource struct {
	Preset string `toml:"preset"`
	File   string `toml:"file"`
}

// SimulationConfig controls telemetry sources and synthetic load.
type SimulationConfig struct {
	Interval    time.Duration   `toml:"interval"` // overrides policy refresh_interval when > 0
	SettleDelay time.Duration   `toml:"settle_delay"`
	ReplayFile  string          `toml:"replay_file"`
	WindowsFile string          `toml:"windows_file"`
	DemoTasks   bool            `toml:"demo_tasks"`
	Synthetic   []SyntheticTask `toml:"synthetic"`
}

// SyntheticTask is a virtual task injected into every cycle.
type SyntheticTask struct {
	PID       int     `toml:"pid"`
	Name      string  `toml:"name"`
	VCPUAlloc float64 `toml:"v_cpu_alloc"`
	VRAMAlloc float64 `toml:"v_ram_alloc"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host      string `toml:"host"`
	Port      int    `toml:"port"`
	Metrics   bool   `toml:"metrics"`
	StepLimit int    `toml:"step_limit"` // manual cycles per minute per client
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Pretty bool   `toml:"pretty"`
}

// StorageConfig controls persistence.
type StorageConfig struct {
	StateFile string `toml:"state_file"`
	History   bool   `toml:"history"` // sqlite history of resolved tasks and cycles
	Ephemeral bool   `toml:"ephemeral"`
}

// envOverlay is read from VPCSIM_* variables and applied last.
type envOverlay struct {
	Preset          string  `envconfig:"PRESET"`
	PolicyFile      string  `envconfig:"POLICY_FILE"`
	RAMMB           float64 `envconfig:"RAM_MB"`
	CPUUnits        float64 `envconfig:"CPU_UNITS"`
	RefreshInterval float64 `envconfig:"REFRESH_INTERVAL"`
	LogLevel        string  `envconfig:"LOG_LEVEL"`
	APIHost         string  `envconfig:"API_HOST"`
	APIPort         int     `envconfig:"API_PORT"`
	Metrics         *bool   `envconfig:"METRICS"`
	ReplayFile      string  `envconfig:"REPLAY_FILE"`
	WindowsFile     string  `envconfig:"WINDOWS_FILE"`
	Ephemeral       *bool   `envconfig:"EPHEMERAL"`
}

// DemoTasks are the three synthetic workloads of the classic demo.
func DemoTasks() []domain.VirtualTask {
	return []domain.VirtualTask{
		{PID: 9901, Name: "AI_Optimizer", VCPUAlloc: 5, VRAMAlloc: 40},
		{PID: 9902, Name: "MemoryBalancer", VCPUAlloc: 4, VRAMAlloc: 30},
		{PID: 9903, Name: "DeadlockResolver", VCPUAlloc: 3, VRAMAlloc: 25},
	}
}

// DefaultConfig returns the default configuration rooted at home.
func DefaultConfig(home string) Config {
	return Config{
		Home:         home,
		Policy:       domain.LowEndPolicy(),
		PolicySource: PolicySource{Preset: domain.PresetLowEnd},
		Simulation: SimulationConfig{
			SettleDelay: 200 * time.Millisecond,
		},
		API: APIConfig{
			Host:      "127.0.0.1",
			Port:      7878,
			Metrics:   true,
			StepLimit: 10,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			StateFile: filepath.Join(home, "state.json"),
			History:   true,
		},
	}
}

// LoadConfig reads config from $VPCSIM_HOME/config.toml, falling back to defaults.
func LoadConfig() (Config, error) {
	return LoadConfigFrom(vpcsimHome())
}

// PolicyFlags are the command-line policy selections, the highest layer.
type PolicyFlags struct {
	Preset     string // replaces the base preset; field overrides still apply on top
	PolicyFile string // layered over everything else
}

// LoadConfigFrom resolves configuration in order: defaults, home/config.toml,
// a standalone policy file, then VPCSIM_* environment variables.
func LoadConfigFrom(home string) (Config, error) {
	return LoadConfigWith(home, PolicyFlags{})
}

// LoadConfigWith is LoadConfigFrom with command-line policy flags. The flag
// preset only changes the base the other layers are applied to.
func LoadConfigWith(home string, flags PolicyFlags) (Config, error) {
	cfg := DefaultConfig(home)

	var env envOverlay
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return cfg, fmt.Errorf("read environment: %w", err)
	}

	path := filepath.Join(home, ConfigFileName)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		data = nil // No config file yet, use defaults
	case err != nil:
		return cfg, fmt.Errorf("read config: %w", err)
	default:
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	preset := cfg.PolicySource.Preset
	if env.Preset != "" {
		preset = env.Preset
	}
	if flags.Preset != "" {
		preset = flags.Preset
	}
	policy, err := domain.PolicyPreset(preset)
	if err != nil {
		return cfg, err
	}
	if data != nil {
		overrides := struct {
			Policy *domain.Policy `toml:"policy"`
		}{&policy}
		if _, err := toml.Decode(string(data), &overrides); err != nil {
			return cfg, fmt.Errorf("parse [policy]: %w", err)
		}
	}

	policyFile := cfg.PolicySource.File
	if env.PolicyFile != "" {
		policyFile = env.PolicyFile
	}
	if policyFile != "" {
		if policy, err = LoadPolicyFile(policyFile, policy); err != nil {
			return cfg, err
		}
		cfg.PolicySource.File = policyFile
	}

	env.apply(&cfg, &policy)
	if flags.PolicyFile != "" {
		if policy, err = LoadPolicyFile(flags.PolicyFile, policy); err != nil {
			return cfg, err
		}
		cfg.PolicySource.File = flags.PolicyFile
	}
	if err := policy.Validate(); err != nil {
		return cfg, err
	}
	cfg.Policy = policy
	cfg.PolicySource.Preset = preset

	if cfg.Storage.StateFile == "" {
		cfg.Storage.StateFile = filepath.Join(home, "state.json")
	}
	return cfg, nil
}

func (e envOverlay) apply(cfg *Config, p *domain.Policy) {
	if e.RAMMB > 0 {
		p.RAMMB = e.RAMMB
	}
	if e.CPUUnits > 0 {
		p.CPUUnits = e.CPUUnits
	}
	if e.RefreshInterval > 0 {
		p.RefreshInterval = e.RefreshInterval
	}
	if e.LogLevel != "" {
		cfg.Logging.Level = e.LogLevel
	}
	if e.APIHost != "" {
		cfg.API.Host = e.APIHost
	}
	if e.APIPort > 0 {
		cfg.API.Port = e.APIPort
	}
	if e.Metrics != nil {
		cfg.API.Metrics = *e.Metrics
	}
	if e.ReplayFile != "" {
		cfg.Simulation.ReplayFile = e.ReplayFile
	}
	if e.WindowsFile != "" {
		cfg.Simulation.WindowsFile = e.WindowsFile
	}
	if e.Ephemeral != nil {
		cfg.Storage.Ephemeral = *e.Ephemeral
	}
}

// LoadPolicyFile decodes a TOML or YAML policy file onto base. A "preset"
// key in the file replaces base with that preset first. The result is not
// validated.
func LoadPolicyFile(path string, base domain.Policy) (domain.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read policy file: %w", err)
	}

	var header struct {
		Preset string `toml:"preset" yaml:"preset"`
	}
	decode := func(v interface{}) error {
		_, err := toml.Decode(string(data), v)
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
	case ".yaml", ".yml", ".json":
		decode = func(v interface{}) error {
			dec := yaml.NewDecoder(bytes.NewReader(data))
			if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			return nil
		}
	default:
		return base, fmt.Errorf("policy file %s: unsupported extension %q", path, filepath.Ext(path))
	}

	if err := decode(&header); err != nil {
		return base, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	policy := base
	policy.IgnoreNames = append([]string(nil), base.IgnoreNames...)
	if header.Preset != "" {
		if policy, err = domain.PolicyPreset(header.Preset); err != nil {
			return base, fmt.Errorf("policy file %s: %w", path, err)
		}
	}
	if err := decode(&policy); err != nil {
		return base, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	return policy, nil
}

// SyntheticTasks returns the virtual tasks injected into every cycle.
func (c Config) SyntheticTasks() []domain.VirtualTask {
	var out []domain.VirtualTask
	if c.Simulation.DemoTasks {
		out = append(out, DemoTasks()...)
	}
	for _, s := range c.Simulation.Synthetic {
		out = append(out, domain.VirtualTask{
			PID:       s.PID,
			Name:      s.Name,
			VCPUAlloc: s.VCPUAlloc,
			VRAMAlloc: s.VRAMAlloc,
		})
	}
	return out
}

// Addr returns the API listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

// vpcsimHome returns the vpcsim data directory.
func vpcsimHome() string {
	if env := os.Getenv("VPCSIM_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".vpcsim")
}

// Home is exported for use by other packages.
func Home() string {
	return vpcsimHome()
}
