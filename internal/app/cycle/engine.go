// Package cycle drives the simulator: sample the host, map it onto the
// virtual budget, score contention, recover capacity and report. One cycle
// runs at a time; readers get copies of the latest results.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/tutu-network/vpcsim/internal/domain"
	"github.com/tutu-network/vpcsim/internal/infra/clock"
	"github.com/tutu-network/vpcsim/internal/infra/mapper"
	"github.com/tutu-network/vpcsim/internal/infra/metrics"
	"github.com/tutu-network/vpcsim/internal/infra/recovery"
	"github.com/tutu-network/vpcsim/internal/infra/resource"
	"github.com/tutu-network/vpcsim/internal/infra/scorer"
	"github.com/tutu-network/vpcsim/internal/infra/statefile"
	xlog "github.com/tutu-network/vpcsim/internal/log"
)

// DefaultLogCapacity is how many summary lines the rolling log keeps.
const DefaultLogCapacity = 500

// HaltEmptyTelemetry is the halt reason for a cycle with nothing to score.
const HaltEmptyTelemetry = "empty telemetry batch"

// Config controls the engine.
type Config struct {
	Policy domain.Policy

	// Synthetic tasks are appended to every cycle's mapped host tasks.
	Synthetic []domain.VirtualTask

	// Interval overrides Policy.RefreshInterval for Run when > 0.
	Interval time.Duration

	// LogCapacity bounds the rolling log (default: 500).
	LogCapacity int

	// OnCycle, when set, is called after every completed Step.
	OnCycle func(*Report)
}

// Deps are the engine's collaborators. Only Snapshotter is required.
type Deps struct {
	Snapshotter domain.HostSnapshotter
	Windows     domain.WindowSource    // default: no windows
	Store       domain.StateStore      // default: in-memory
	History     domain.HistoryRecorder // optional
	Clock       clock.Clock            // default: wall clock
	Logger      *zerolog.Logger        // default: component "cycle"
}

// Report is everything one cycle decided.
type Report struct {
	ID   string    `json:"id"`
	Time time.Time `json:"time"`

	Decisions []domain.ScoredTask     `json:"decisions"`
	Survivors []domain.AdjustedTask   `json:"survivors"`
	Resolved  []domain.ResolvedRecord `json:"resolved"`
	Evicted   []domain.AdjustedTask   `json:"evicted"`

	RequestedRAM     float64               `json:"requested_ram"` // Σ v_ram over decisions, before recovery
	CompressionRatio float64               `json:"compression_ratio"`
	TotalRAM         float64               `json:"total_ram"`
	TotalCPU         float64               `json:"total_cpu"`
	Status           domain.CapacityStatus `json:"status"`

	MeanScore   float64 `json:"mean_score"`
	ScoreStdDev float64 `json:"score_std_dev"`

	LogLine    string `json:"log_line,omitempty"`
	Halted     bool   `json:"halted"`
	HaltReason string `json:"halt_reason,omitempty"`

	ActiveWindow   domain.ActiveWindowInfo `json:"active_window"`
	HostTotalRAMMB float64                 `json:"host_total_ram_mb"`
	Duration       time.Duration           `json:"duration"`
}

// Engine runs cycles against a fixed policy.
type Engine struct {
	cfg      Config
	deps     Deps
	log      zerolog.Logger
	mapper   *mapper.Mapper
	scorer   *scorer.Scorer
	recovery *recovery.Engine

	stepMu sync.Mutex // serializes Step

	mu     sync.RWMutex
	state  *domain.SessionState
	latest *Report
	ring   []string
	cycles int
}

// New creates an engine and loads persisted session state from deps.Store.
func New(cfg Config, deps Deps) *Engine {
	if cfg.LogCapacity <= 0 {
		cfg.LogCapacity = DefaultLogCapacity
	}
	if deps.Windows == nil {
		deps.Windows = resource.NoWindows{}
	}
	if deps.Store == nil {
		deps.Store = statefile.NewMemoryStore(cfg.Policy.RefreshInterval)
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	logger := xlog.WithComponent("cycle")
	if deps.Logger != nil {
		logger = *deps.Logger
	}

	state := domain.NewSessionState(cfg.Policy.RefreshInterval)
	loaded, err := deps.Store.Load()
	if err != nil {
		logger.Warn().Err(err).Msg("load session state failed, starting empty")
	}
	state.Merge(loaded)

	return &Engine{
		cfg:      cfg,
		deps:     deps,
		log:      logger,
		mapper:   mapper.New(cfg.Policy),
		scorer:   scorer.New(cfg.Policy),
		recovery: recovery.New(cfg.Policy),
		state:    state,
		ring:     make([]string, 0, cfg.LogCapacity),
	}
}

// Policy returns the engine's policy.
func (e *Engine) Policy() domain.Policy { return e.cfg.Policy }

// Step runs one full cycle. Telemetry, window and persistence failures are
// logged and degrade to defaults; only cancellation and a structurally
// invalid snapshot are returned as errors.
func (e *Engine) Step(ctx context.Context) (*Report, error) {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()

	p := e.cfg.Policy
	start := e.deps.Clock.Now()
	rep := &Report{ID: uuid.NewString(), Time: start, CompressionRatio: 1, Status: domain.StatusStable}
	log := e.log.With().Str(xlog.FieldCycleID, rep.ID).Logger()

	snap, err := e.deps.Snapshotter.Snapshot(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Warn().Err(err).Msg("host telemetry unavailable")
		snap = domain.HostSnapshot{}
	}
	rep.HostTotalRAMMB = snap.TotalRAMMB
	metrics.HostProcesses.Set(float64(len(snap.Samples)))
	if snap.TotalRAMMB > 0 {
		metrics.HostMemory.Set(snap.TotalRAMMB)
	}

	windows, active, err := e.deps.Windows.Windows(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("window visibility unavailable")
		windows, active = nil, domain.UnknownActiveWindow()
	}
	rep.ActiveWindow = active

	tasks, err := e.mapper.Map(snap)
	if err != nil {
		metrics.CyclesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("map cycle %s: %w", rep.ID, err)
	}
	tasks, skipped := withSynthetic(tasks, e.cfg.Synthetic)
	if skipped > 0 {
		log.Debug().Int("skipped", skipped).Msg("synthetic tasks share a pid with host processes")
	}
	if len(snap.Samples) == 0 || len(tasks) == 0 {
		rep.Halted = true
		rep.HaltReason = HaltEmptyTelemetry
		rep.Decisions = []domain.ScoredTask{}
		rep.Survivors = []domain.AdjustedTask{}
		rep.Resolved = []domain.ResolvedRecord{}
		rep.Evicted = []domain.AdjustedTask{}
		rep.Duration = e.deps.Clock.Since(start)
		metrics.CyclesTotal.WithLabelValues("halted").Inc()
		log.Warn().Str(xlog.FieldEvent, "halted").Msg(HaltEmptyTelemetry)
		e.publish(rep, "")
		return rep, nil
	}

	e.mu.Lock()
	decisions := e.scorer.Score(tasks, windows, e.state)
	snapshot := e.state.Clone()
	e.mu.Unlock()
	metrics.TrackedWaits.Set(float64(len(snapshot.WaitTimes)))

	if err := e.deps.Store.Save(snapshot); err != nil {
		metrics.PersistenceErrors.WithLabelValues("statefile").Inc()
		log.Warn().Err(err).Msg("save session state failed")
	}

	out := e.recovery.Recover(decisions)
	for i := range out.Resolved {
		out.Resolved[i].CycleID = rep.ID
		out.Resolved[i].Time = start
	}

	rep.Decisions = decisions
	rep.Survivors = out.Survivors
	rep.Resolved = out.Resolved
	rep.Evicted = out.Evicted
	rep.CompressionRatio = out.CompressionRatio
	rep.TotalRAM = out.TotalRAM
	rep.TotalCPU = out.TotalCPU
	rep.Status = out.Status

	scores := make([]float64, len(decisions))
	requested := make([]float64, len(decisions))
	for i, d := range decisions {
		scores[i] = d.Score
		requested[i] = d.VRAMAlloc
		metrics.Decisions.WithLabelValues(string(d.Action)).Inc()
		metrics.ContentionScore.Observe(d.Score)
	}
	rep.RequestedRAM = floats.Sum(requested)
	rep.MeanScore, rep.ScoreStdDev = scoreStats(scores)

	rep.LogLine = FormatLogLine(start, rep.Status, rep.TotalRAM, rep.TotalCPU, p)

	if h := e.deps.History; h != nil {
		if err := h.RecordResolved(out.Resolved); err != nil {
			metrics.PersistenceErrors.WithLabelValues("history").Inc()
			log.Warn().Err(err).Msg("record resolved tasks failed")
		}
		if err := h.AppendCycle(domain.CycleLogEntry{
			CycleID:  rep.ID,
			Time:     start,
			Status:   rep.Status,
			TotalRAM: rep.TotalRAM,
			TotalCPU: rep.TotalCPU,
			Line:     rep.LogLine,
		}); err != nil {
			metrics.PersistenceErrors.WithLabelValues("history").Inc()
			log.Warn().Err(err).Msg("append cycle log failed")
		}
	}

	metrics.Evictions.Add(float64(len(out.Evicted)))
	if out.CompressionRatio < 1 {
		metrics.Compressions.Inc()
	}
	metrics.MeanScore.Set(rep.MeanScore)
	metrics.VirtualRAM.Set(rep.TotalRAM)
	metrics.VirtualCPU.Set(rep.TotalCPU)
	metrics.CompressionRatio.Set(rep.CompressionRatio)
	metrics.CapacityStatus.Set(float64(rep.Status.Level()))
	metrics.Survivors.Set(float64(len(rep.Survivors)))
	metrics.CyclesTotal.WithLabelValues("ok").Inc()

	for _, r := range out.Resolved {
		log.Info().
			Str(xlog.FieldEvent, "resolved").
			Int(xlog.FieldPID, r.PID).
			Str(xlog.FieldName, r.Name).
			Str(xlog.FieldAction, string(r.Action)).
			Float64("score", r.Score).
			Msg(r.Reason)
	}

	rep.Duration = e.deps.Clock.Since(start)
	metrics.CycleDuration.Observe(rep.Duration.Seconds())
	log.Debug().
		Str(xlog.FieldStatus, string(rep.Status)).
		Int("tasks", len(decisions)).
		Int("survivors", len(rep.Survivors)).
		Float64("total_ram", rep.TotalRAM).
		Msg("cycle complete")

	e.publish(rep, rep.LogLine)
	return rep, nil
}

// publish makes rep the latest report and appends line to the rolling log.
func (e *Engine) publish(rep *Report, line string) {
	e.mu.Lock()
	e.latest = rep
	e.cycles++
	if line != "" {
		if len(e.ring) == e.cfg.LogCapacity {
			copy(e.ring, e.ring[1:])
			e.ring = e.ring[:len(e.ring)-1]
		}
		e.ring = append(e.ring, line)
	}
	e.mu.Unlock()

	if e.cfg.OnCycle != nil {
		e.cfg.OnCycle(rep)
	}
}

// Run steps immediately and then once per refresh interval until ctx is
// cancelled or maxCycles cycles have run (0 means no limit). A cycle in
// progress is never interrupted by the interval.
func (e *Engine) Run(ctx context.Context, maxCycles int) error {
	interval := e.cfg.Interval
	if interval <= 0 {
		interval = time.Duration(e.cfg.Policy.RefreshInterval * float64(time.Second))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.log.Info().
		Str("policy", e.cfg.Policy.Name).
		Dur("interval", interval).
		Int("max_cycles", maxCycles).
		Msg("simulation started")

	for n := 0; maxCycles <= 0 || n < maxCycles; n++ {
		if n > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
		if _, err := e.Step(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			e.log.Error().Err(err).Msg("cycle failed")
		}
	}
	return nil
}

// Latest returns the most recent report, or nil before the first cycle.
func (e *Engine) Latest() *Report {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.latest
}

// Cycles returns how many cycles have completed, halted ones included.
func (e *Engine) Cycles() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cycles
}

// Log returns up to n of the newest log lines, oldest first. n <= 0 returns all.
func (e *Engine) Log(n int) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if n <= 0 || n > len(e.ring) {
		n = len(e.ring)
	}
	out := make([]string, n)
	copy(out, e.ring[len(e.ring)-n:])
	return out
}

// State returns a copy of the session accumulators.
func (e *Engine) State() *domain.SessionState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Clone()
}

// withSynthetic appends the synthetic tasks to the mapped host tasks. A
// synthetic task whose pid is already taken by a host task is skipped so
// that every pid is scored once per cycle.
func withSynthetic(tasks, synthetic []domain.VirtualTask) ([]domain.VirtualTask, int) {
	if len(synthetic) == 0 {
		return tasks, 0
	}
	taken := make(map[int]struct{}, len(tasks)+len(synthetic))
	for _, t := range tasks {
		taken[t.PID] = struct{}{}
	}
	skipped := 0
	for _, t := range synthetic {
		if _, ok := taken[t.PID]; ok {
			skipped++
			continue
		}
		taken[t.PID] = struct{}{}
		tasks = append(tasks, t)
	}
	return tasks, skipped
}

// FormatLogLine renders one rolling-log entry.
func FormatLogLine(t time.Time, status domain.CapacityStatus, totalRAM, totalCPU float64, p domain.Policy) string {
	return fmt.Sprintf("%s | Status: %s | Virtual RAM %sMB / %sMB | Virtual CPU %s / %s",
		t.Format("15:04:05"), status,
		num(totalRAM), num(p.RAMMB), num(totalCPU), num(p.CPUUnits))
}

// num prints v rounded to two decimals without trailing zeros.
func num(v float64) string {
	return strconv.FormatFloat(mapper.Round2(v), 'f', -1, 64)
}

func scoreStats(scores []float64) (mean, std float64) {
	switch len(scores) {
	case 0:
		return 0, 0
	case 1:
		return scores[0], 0
	}
	return stat.MeanStdDev(scores, nil)
}
