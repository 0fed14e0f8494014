// Package health provides periodic health checks with auto-recovery for the
// simulator's persistence and cycle loop.
package health

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tutu-network/vpcsim/internal/infra/clock"
	"github.com/tutu-network/vpcsim/internal/infra/metrics"
)

// Check defines a single health check with optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Pinger is satisfied by *sqlite.DB.
type Pinger interface {
	Ping() error
}

// Options wires the checker to the components it watches. Nil fields skip
// the corresponding check.
type Options struct {
	DB       Pinger
	StateDir string

	// LastCycle reports when the most recent cycle ran; ok is false before
	// the first cycle.
	LastCycle func() (t time.Time, ok bool)
	// MaxCycleAge is how old the last cycle may be before it is stale.
	MaxCycleAge time.Duration

	Interval time.Duration // default: 60s
	Clock    clock.Clock   // default: wall clock
}

// Checker runs periodic health checks with auto-recovery.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
	clock    clock.Clock
}

// NewChecker creates a health checker for the configured components.
func NewChecker(opts Options) *Checker {
	c := &Checker{
		interval: opts.Interval,
		clock:    opts.Clock,
	}
	if c.interval <= 0 {
		c.interval = 60 * time.Second
	}
	if c.clock == nil {
		c.clock = clock.Real{}
	}

	if opts.DB != nil {
		db := opts.DB
		c.checks = append(c.checks, Check{
			Name: "sqlite",
			CheckFn: func(ctx context.Context) error {
				return db.Ping()
			},
			RecoverFn: func(ctx context.Context) error {
				return nil // SQLite auto-recovers via WAL
			},
		})
	}
	if opts.StateDir != "" {
		dir := opts.StateDir
		c.checks = append(c.checks, Check{
			Name: "state_dir",
			CheckFn: func(ctx context.Context) error {
				return checkStateDir(dir)
			},
			RecoverFn: func(ctx context.Context) error {
				return os.MkdirAll(dir, 0700)
			},
		})
	}
	if opts.LastCycle != nil {
		last, maxAge, clk := opts.LastCycle, opts.MaxCycleAge, c.clock
		c.checks = append(c.checks, Check{
			Name: "cycle_freshness",
			CheckFn: func(ctx context.Context) error {
				return checkFreshness(last, maxAge, clk)
			},
		})
	}
	return c
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	// Run immediately on start
	c.RunOnce(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce executes every check, attempting recovery for failures.
func (c *Checker) RunOnce(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: c.clock.Now(),
		}
		if err := check.CheckFn(ctx); err != nil {
			s.Healthy = false
			s.Error = err.Error()
			if check.RecoverFn != nil {
				_ = check.RecoverFn(ctx)
			}
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(0)
		} else {
			s.Healthy = true
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(1)
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// ─── Check Implementations ──────────────────────────────────────────────────

func checkStateDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("check state dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("state path %s is not a directory", dir)
	}
	return nil
}

func checkFreshness(last func() (time.Time, bool), maxAge time.Duration, clk clock.Clock) error {
	t, ok := last()
	if !ok || maxAge <= 0 {
		return nil // No cycle yet
	}
	if age := clk.Since(t); age > maxAge {
		return fmt.Errorf("last cycle %s ago exceeds %s", age.Round(time.Millisecond), maxAge)
	}
	return nil
}
