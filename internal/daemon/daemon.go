package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tutu-network/vpcsim/internal/api"
	"github.com/tutu-network/vpcsim/internal/app/cycle"
	"github.com/tutu-network/vpcsim/internal/domain"
	"github.com/tutu-network/vpcsim/internal/health"
	"github.com/tutu-network/vpcsim/internal/infra/resource"
	"github.com/tutu-network/vpcsim/internal/infra/sqlite"
	"github.com/tutu-network/vpcsim/internal/infra/statefile"
	xlog "github.com/tutu-network/vpcsim/internal/log"
)

// Daemon is the vpcsim runtime. It wires telemetry, the cycle engine,
// persistence, health checks and the HTTP API together.
type Daemon struct {
	Config Config
	DB     *sqlite.DB // nil when history is disabled or ephemeral
	Store  domain.StateStore
	Engine *cycle.Engine
	Server *api.Server
	Health *health.Checker

	log zerolog.Logger
}

// Option customizes a Daemon before its engine is built.
type Option func(*options)

type options struct {
	onCycle     func(*cycle.Report)
	snapshotter domain.HostSnapshotter
}

// WithOnCycle registers a callback invoked after every cycle.
func WithOnCycle(fn func(*cycle.Report)) Option {
	return func(o *options) { o.onCycle = fn }
}

// WithSnapshotter replaces the configured telemetry source.
func WithSnapshotter(s domain.HostSnapshotter) Option {
	return func(o *options) { o.snapshotter = s }
}

// New creates and initializes a Daemon from the default config location.
func New(opts ...Option) (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg, opts...)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config, opts ...Option) (*Daemon, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	d := &Daemon{
		Config: cfg,
		log:    xlog.WithComponent("daemon"),
	}

	snap := o.snapshotter
	if snap == nil {
		var err error
		if snap, err = openSnapshotter(cfg.Simulation); err != nil {
			return nil, err
		}
	}

	var windows domain.WindowSource = resource.NoWindows{}
	if cfg.Simulation.WindowsFile != "" {
		windows = resource.NewFileWindowSource(cfg.Simulation.WindowsFile)
	}

	if cfg.Storage.Ephemeral {
		d.Store = statefile.NewMemoryStore(cfg.Policy.RefreshInterval)
	} else {
		d.Store = statefile.New(cfg.Storage.StateFile, cfg.Policy.RefreshInterval)
		if cfg.Storage.History {
			db, err := sqlite.Open(cfg.Home)
			if err != nil {
				return nil, fmt.Errorf("open database: %w", err)
			}
			if err := db.SetMeta("policy", cfg.Policy.Name); err != nil {
				d.log.Warn().Err(err).Msg("record policy name failed")
			}
			d.DB = db
		}
	}

	deps := cycle.Deps{
		Snapshotter: snap,
		Windows:     windows,
		Store:       d.Store,
	}
	if d.DB != nil {
		deps.History = d.DB
	}
	d.Engine = cycle.New(cycle.Config{
		Policy:    cfg.Policy,
		Synthetic: cfg.SyntheticTasks(),
		Interval:  cfg.Simulation.Interval,
		OnCycle:   o.onCycle,
	}, deps)

	hopts := health.Options{
		LastCycle: func() (time.Time, bool) {
			if rep := d.Engine.Latest(); rep != nil {
				return rep.Time, true
			}
			return time.Time{}, false
		},
		MaxCycleAge: 3*d.cycleInterval() + cfg.Simulation.SettleDelay + time.Second,
	}
	if d.DB != nil {
		hopts.DB = d.DB
	}
	if !cfg.Storage.Ephemeral {
		hopts.StateDir = filepath.Dir(cfg.Storage.StateFile)
	}
	d.Health = health.NewChecker(hopts)

	d.Server = api.NewServer(d.Engine)
	d.Server.SetHealth(d.Health)
	d.Server.SetStepLimit(cfg.API.StepLimit)
	if d.DB != nil {
		d.Server.SetHistory(d.DB)
	}
	if cfg.API.Metrics {
		d.Server.EnableMetrics()
	}
	return d, nil
}

func openSnapshotter(sim SimulationConfig) (domain.HostSnapshotter, error) {
	if sim.ReplayFile != "" {
		r, err := resource.LoadReplay(sim.ReplayFile)
		if err != nil {
			return nil, fmt.Errorf("load replay: %w", err)
		}
		return r, nil
	}
	sc := resource.DefaultSamplerConfig()
	if sim.SettleDelay > 0 {
		sc.SettleDelay = sim.SettleDelay
	}
	s, err := resource.NewProcfsSnapshotter(sc)
	if err != nil {
		return nil, fmt.Errorf("open host telemetry: %w", err)
	}
	return s, nil
}

func (d *Daemon) cycleInterval() time.Duration {
	if d.Config.Simulation.Interval > 0 {
		return d.Config.Simulation.Interval
	}
	return time.Duration(d.Config.Policy.RefreshInterval * float64(time.Second))
}

// RunLoop runs up to maxCycles cycles (0 = until interrupted) without the
// HTTP API.
func (d *Daemon) RunLoop(ctx context.Context, maxCycles int) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return d.Engine.Run(ctx, maxCycles)
}

// Serve runs the cycle loop, health checks and HTTP API until ctx is
// cancelled or a signal arrives.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := d.Config.Addr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           d.Server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.Engine.Run(gctx, 0)
	})
	g.Go(func() error {
		d.Health.Run(gctx)
		return nil
	})
	g.Go(func() error {
		d.log.Info().
			Str("addr", addr).
			Str("policy", d.Config.Policy.Name).
			Bool("metrics", d.Config.API.Metrics).
			Msg("api listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.DB != nil {
		_ = d.DB.Close()
	}
}
