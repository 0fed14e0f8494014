package cycle

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tutu-network/vpcsim/internal/domain"
	"github.com/tutu-network/vpcsim/internal/infra/clock"
	"github.com/tutu-network/vpcsim/internal/infra/resource"
	"github.com/tutu-network/vpcsim/internal/infra/statefile"
	xlog "github.com/tutu-network/vpcsim/internal/log"
)

var epoch = time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

// ─── Fakes ──────────────────────────────────────────────────────────────────

type failingSnapshotter struct{ err error }

func (f failingSnapshotter) Snapshot(context.Context) (domain.HostSnapshot, error) {
	return domain.HostSnapshot{}, f.err
}

type failingWindows struct{}

func (failingWindows) Windows(context.Context) ([]domain.VisibleWindow, domain.ActiveWindowInfo, error) {
	return nil, domain.ActiveWindowInfo{PID: 5, ProcessName: "stale"}, errors.New("display gone")
}

type recorder struct {
	mu       sync.Mutex
	resolved []domain.ResolvedRecord
	cycles   []domain.CycleLogEntry
	fail     bool
}

func (r *recorder) RecordResolved(recs []domain.ResolvedRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("disk full")
	}
	r.resolved = append(r.resolved, recs...)
	return nil
}

func (r *recorder) AppendCycle(e domain.CycleLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("disk full")
	}
	r.cycles = append(r.cycles, e)
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func replay(t *testing.T, snaps ...domain.HostSnapshot) *resource.ReplaySnapshotter {
	t.Helper()
	r, err := resource.NewReplay(snaps)
	require.NoError(t, err)
	return r
}

func newEngine(t *testing.T, cfg Config, deps Deps) *Engine {
	t.Helper()
	if cfg.Policy.Name == "" {
		cfg.Policy = domain.LowEndPolicy()
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewMock(epoch)
	}
	discard := xlog.Discard()
	deps.Logger = &discard
	return New(cfg, deps)
}

var browserSnap = domain.HostSnapshot{
	TotalRAMMB: 1024,
	Samples:    []domain.HostSample{{PID: 100, Name: "browser", CPUPercent: 10, MemoryPercent: 10}},
}

var hog = domain.VirtualTask{PID: 9901, Name: "synthetic-hog", VCPUAlloc: 45, VRAMAlloc: 480}

// ─── Step ───────────────────────────────────────────────────────────────────

func TestStep_EmptyTelemetryHaltsCycle(t *testing.T) {
	store := statefile.NewMemoryStore(3)
	e := newEngine(t, Config{Synthetic: []domain.VirtualTask{hog}}, Deps{
		Snapshotter: replay(t, domain.HostSnapshot{TotalRAMMB: 1024}),
		Store:       store,
	})

	rep, err := e.Step(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Halted)
	assert.Equal(t, HaltEmptyTelemetry, rep.HaltReason)
	assert.Empty(t, rep.Decisions)
	assert.Empty(t, rep.Survivors)
	assert.Empty(t, rep.Resolved)
	assert.Empty(t, e.Log(0), "halted cycles add no log line")
	assert.Zero(t, store.Saves(), "state untouched")
	assert.Equal(t, 1, e.Cycles())
	assert.Same(t, rep, e.Latest())
}

func TestStep_NoiseOnlyTelemetryScoresSynthetic(t *testing.T) {
	store := statefile.NewMemoryStore(3)
	quiet := domain.HostSnapshot{
		TotalRAMMB: 1024,
		Samples:    []domain.HostSample{{PID: 100, Name: "idle", CPUPercent: 0, MemoryPercent: 0.01}},
	}
	e := newEngine(t, Config{Synthetic: []domain.VirtualTask{hog}}, Deps{
		Snapshotter: replay(t, quiet),
		Store:       store,
	})

	rep, err := e.Step(context.Background())
	require.NoError(t, err)
	assert.False(t, rep.Halted)
	assert.Empty(t, rep.HaltReason)
	require.Len(t, rep.Decisions, 1)
	assert.Equal(t, "synthetic-hog", rep.Decisions[0].Name)
	assert.Equal(t, domain.ActionKill, rep.Decisions[0].Action)
	assert.NotEmpty(t, rep.LogLine)
	assert.Equal(t, 1, store.Saves())
	assert.Equal(t, 1, e.State().Usage("synthetic-hog"))
}

func TestStep_NoiseOnlyTelemetryWithoutSyntheticHalts(t *testing.T) {
	quiet := domain.HostSnapshot{
		TotalRAMMB: 1024,
		Samples:    []domain.HostSample{{PID: 100, Name: "idle", MemoryPercent: 0.01}},
	}
	e := newEngine(t, Config{}, Deps{Snapshotter: replay(t, quiet)})

	rep, err := e.Step(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Halted)
	assert.Empty(t, rep.Decisions)
}

func TestStep_SyntheticPIDCollisionScoredOnce(t *testing.T) {
	clash := hog
	clash.PID = browserSnap.Samples[0].PID
	e := newEngine(t, Config{Synthetic: []domain.VirtualTask{clash}}, Deps{
		Snapshotter: replay(t, browserSnap),
	})

	rep, err := e.Step(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.Decisions, 1)
	assert.Equal(t, "browser", rep.Decisions[0].Name)
	assert.Zero(t, e.State().Usage("synthetic-hog"))
}

func TestWithSynthetic(t *testing.T) {
	host := []domain.VirtualTask{{PID: 1, Name: "a"}, {PID: 2, Name: "b"}}
	synthetic := []domain.VirtualTask{{PID: 2, Name: "dup"}, {PID: 3, Name: "c"}, {PID: 3, Name: "c-again"}}

	got, skipped := withSynthetic(host, synthetic)
	assert.Equal(t, 2, skipped)
	names := make([]string, len(got))
	for i, task := range got {
		names[i] = task.Name
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)

	same, skipped := withSynthetic(host, nil)
	assert.Zero(t, skipped)
	assert.Len(t, same, 2)
}

func TestStep_TelemetryErrorDegradesToHalt(t *testing.T) {
	e := newEngine(t, Config{}, Deps{Snapshotter: failingSnapshotter{err: domain.ErrTelemetryUnavailable}})

	rep, err := e.Step(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Halted)
}

func TestStep_CancelledTelemetryReturnsError(t *testing.T) {
	e := newEngine(t, Config{}, Deps{Snapshotter: replay(t, browserSnap)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := e.Step(ctx)
	assert.Nil(t, rep)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStep_InvalidSnapshotIsTypedError(t *testing.T) {
	bad := browserSnap
	bad.TotalRAMMB = math.NaN()
	e := newEngine(t, Config{}, Deps{Snapshotter: replay(t, bad)})

	_, err := e.Step(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidSnapshot)
	assert.Nil(t, e.Latest())
}

func TestStep_FullCycle(t *testing.T) {
	hist := &recorder{}
	store := statefile.NewMemoryStore(3)
	e := newEngine(t, Config{Synthetic: []domain.VirtualTask{hog}}, Deps{
		Snapshotter: replay(t, browserSnap),
		Store:       store,
		History:     hist,
	})

	rep, err := e.Step(context.Background())
	require.NoError(t, err)
	require.False(t, rep.Halted)

	require.Len(t, rep.Decisions, 2)
	assert.Equal(t, "synthetic-hog", rep.Decisions[0].Name)
	assert.Equal(t, domain.ActionKill, rep.Decisions[0].Action)
	assert.Equal(t, domain.ActionPreempt, rep.Decisions[1].Action)

	require.Len(t, rep.Resolved, 1)
	assert.Equal(t, rep.ID, rep.Resolved[0].CycleID)
	assert.Equal(t, epoch, rep.Resolved[0].Time)
	assert.Equal(t, 480.0, rep.Resolved[0].VRAMAlloc)

	require.Len(t, rep.Survivors, 1)
	assert.InDelta(t, 61.44, rep.TotalRAM, 1e-9)
	assert.InDelta(t, 12.0, rep.TotalCPU, 1e-9)
	assert.InDelta(t, 582.4, rep.RequestedRAM, 1e-9)
	assert.Equal(t, domain.StatusStable, rep.Status)
	assert.Equal(t, 1.0, rep.CompressionRatio)
	assert.Equal(t, 1024.0, rep.HostTotalRAMMB)
	assert.Equal(t, domain.UnknownActiveWindow(), rep.ActiveWindow)

	wantMean := (rep.Decisions[0].Score + rep.Decisions[1].Score) / 2
	assert.InDelta(t, wantMean, rep.MeanScore, 1e-12)
	assert.Greater(t, rep.ScoreStdDev, 0.0)

	assert.Equal(t, "15:04:05 | Status: Stable | Virtual RAM 61.44MB / 512MB | Virtual CPU 12 / 50", rep.LogLine)
	assert.Equal(t, []string{rep.LogLine}, e.Log(0))

	assert.Len(t, hist.resolved, 1)
	require.Len(t, hist.cycles, 1)
	assert.Equal(t, rep.LogLine, hist.cycles[0].Line)
	assert.Equal(t, 1, store.Saves())
	assert.Same(t, rep, e.Latest())
}

func TestStep_DegradedCollaborators(t *testing.T) {
	hist := &recorder{fail: true}
	e := newEngine(t, Config{}, Deps{
		Snapshotter: replay(t, browserSnap),
		Windows:     failingWindows{},
		History:     hist,
	})

	rep, err := e.Step(context.Background())
	require.NoError(t, err)
	assert.False(t, rep.Halted)
	assert.Equal(t, domain.UnknownActiveWindow(), rep.ActiveWindow)
	assert.NotEmpty(t, rep.LogLine)
}

func TestStep_VisibleWindowsFeedScores(t *testing.T) {
	path := t.TempDir() + "/windows.json"
	writeFile(t, path, `{"windows":[{"pid":100,"process_name":"browser","title":"News","area":800000}],
		"active":{"pid":100,"process_name":"browser","title":"News"}}`)

	e := newEngine(t, Config{}, Deps{
		Snapshotter: replay(t, browserSnap),
		Windows:     resource.NewFileWindowSource(path),
	})

	rep, err := e.Step(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.Decisions, 1)
	assert.Equal(t, 1.0, rep.Decisions[0].WVis)
	assert.Equal(t, "News", rep.ActiveWindow.Title)
}

func TestStep_StarvedProcessDeadlocks(t *testing.T) {
	store := statefile.NewMemoryStore(3)
	e := newEngine(t, Config{}, Deps{
		Snapshotter: replay(t, domain.HostSnapshot{
			TotalRAMMB: 1024,
			Samples: []domain.HostSample{
				{PID: 1, Name: "busy", CPUPercent: 99, MemoryPercent: 10},
				{PID: 2, Name: "stuck", CPUPercent: 0.01, MemoryPercent: 1},
			},
		}),
		Store: store,
	})

	deadlockedAt := 0
	for i := 1; i <= 24 && deadlockedAt == 0; i++ {
		rep, err := e.Step(context.Background())
		require.NoError(t, err)
		for _, r := range rep.Resolved {
			if r.PID == 2 && r.Action == domain.ActionDeadlocked {
				deadlockedAt = i
			}
		}
	}

	assert.Equal(t, 23, deadlockedAt, "69s of wait is the first value over 0.75 of 90s")
	assert.InDelta(t, 69.0, e.State().WaitTime(2), 1e-9)

	persisted, err := store.Load()
	require.NoError(t, err)
	assert.InDelta(t, 69.0, persisted.WaitTime(2), 1e-9)
}

func TestNew_ResumesPersistedState(t *testing.T) {
	store := statefile.NewMemoryStore(3)
	seed := domain.NewSessionState(3)
	seed.WaitTimes[2] = 60
	seed.UsageHistory["busy"] = 12
	require.NoError(t, store.Save(seed))

	e := newEngine(t, Config{}, Deps{Snapshotter: replay(t, browserSnap), Store: store})

	st := e.State()
	assert.Equal(t, 60.0, st.WaitTime(2))
	assert.Equal(t, 12, st.Usage("busy"))
	assert.Equal(t, 3.0, st.RefreshInterval)
}

func TestLog_RingKeepsNewest(t *testing.T) {
	mock := clock.NewMock(epoch)
	e := newEngine(t, Config{LogCapacity: 3}, Deps{Snapshotter: replay(t, browserSnap), Clock: mock})

	for i := 0; i < 5; i++ {
		_, err := e.Step(context.Background())
		require.NoError(t, err)
		mock.Advance(time.Second)
	}

	lines := e.Log(0)
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "15:04:07")
	assert.Contains(t, lines[2], "15:04:09")

	last := e.Log(1)
	assert.Equal(t, lines[2:], last)
	assert.Len(t, e.Log(50), 3)
}

// ─── Run ────────────────────────────────────────────────────────────────────

func TestRun_StopsAfterMaxCycles(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var seen []string
	e := newEngine(t, Config{
		Interval: time.Millisecond,
		OnCycle:  func(r *Report) { seen = append(seen, r.ID) },
	}, Deps{Snapshotter: replay(t, browserSnap)})

	require.NoError(t, e.Run(context.Background(), 3))
	assert.Equal(t, 3, e.Cycles())
	require.Len(t, seen, 3)
	assert.NotEqual(t, seen[0], seen[1], "each cycle gets its own id")
}

func TestRun_StopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	e := newEngine(t, Config{
		Interval: time.Hour,
		OnCycle:  func(*Report) { cancel() },
	}, Deps{Snapshotter: replay(t, browserSnap)})

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, 0) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	assert.Equal(t, 1, e.Cycles())
}

func TestRun_ConcurrentReaders(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	e := newEngine(t, Config{Interval: time.Millisecond}, Deps{Snapshotter: replay(t, browserSnap)})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			_ = e.Latest()
			_ = e.Log(10)
			_ = e.State()
		}
	}()

	require.NoError(t, e.Run(ctx, 20))
	cancel()
	wg.Wait()
	assert.Equal(t, 20, e.Cycles())
}

// ─── Formatting ─────────────────────────────────────────────────────────────

func TestFormatLogLine(t *testing.T) {
	p := domain.StandardPolicy()
	got := FormatLogLine(epoch, domain.StatusNearLimit, 850.456, 71.2, p)
	assert.Equal(t, "15:04:05 | Status: Near Limit | Virtual RAM 850.46MB / 1024MB | Virtual CPU 71.2 / 100", got)
}

func TestScoreStats(t *testing.T) {
	m, s := scoreStats(nil)
	assert.Zero(t, m)
	assert.Zero(t, s)

	m, s = scoreStats([]float64{0.4})
	assert.Equal(t, 0.4, m)
	assert.Zero(t, s)

	m, s = scoreStats([]float64{0.2, 0.4})
	assert.InDelta(t, 0.3, m, 1e-12)
	assert.InDelta(t, math.Sqrt(0.02), s, 1e-12)
}
