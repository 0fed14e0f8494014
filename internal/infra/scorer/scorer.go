// Package scorer ranks virtual tasks by contention and classifies each one
// into an admission action.
//
// Each task gets five normalized weights:
//
//	w_cpu   allocated CPU against the pool
//	w_ram   allocated RAM against a fraction of the pool
//	w_wait  accumulated starvation time against a saturation window
//	w_vis   share of visible screen area
//	w_hist  how often the task has been seen active, saturating
//
// The combined score is their coefficient-weighted sum clamped to [0,1].
package scorer

import (
	"math"
	"sort"

	"github.com/tutu-network/vpcsim/internal/domain"
	"github.com/tutu-network/vpcsim/internal/infra/mapper"
)

// Scorer computes ScoredTasks and mutates the SessionState accumulators.
type Scorer struct {
	policy domain.Policy
	ignore map[string]struct{}
}

// New creates a scorer for the given policy.
func New(policy domain.Policy) *Scorer {
	return &Scorer{policy: policy, ignore: policy.IgnoreSet()}
}

// visibility indexes windows by pid and by process name.
type visibility struct {
	byPID  map[int]int
	byName map[string]int
	total  float64
}

func indexWindows(windows []domain.VisibleWindow) visibility {
	v := visibility{byPID: make(map[int]int), byName: make(map[string]int)}
	for _, w := range windows {
		area := w.Area
		if area < 0 {
			area = 0
		}
		v.total += float64(area)
		if cur, ok := v.byPID[w.PID]; !ok || area > cur {
			v.byPID[w.PID] = area
		}
		if cur, ok := v.byName[w.ProcessName]; !ok || area > cur {
			v.byName[w.ProcessName] = area
		}
	}
	return v
}

// area attributes screen area to a task: exact pid first, then the largest
// window sharing the task's name.
func (v visibility) area(pid int, name string) int {
	if a, ok := v.byPID[pid]; ok {
		return a
	}
	return v.byName[name]
}

// Score scores every task not in the ignore set, updating state, and
// returns the results sorted by descending score. Ties keep input order.
func (s *Scorer) Score(tasks []domain.VirtualTask, windows []domain.VisibleWindow, state *domain.SessionState) []domain.ScoredTask {
	p := s.policy
	vis := indexWindows(windows)
	idleBelow := p.IdleCPUThreshold()
	ramNorm := p.RAMNormalizer()

	out := make([]domain.ScoredTask, 0, len(tasks))
	for _, t := range tasks {
		t.Name = mapper.SafeName(t.Name, t.PID)
		if _, skip := s.ignore[t.Name]; skip {
			continue
		}
		vCPU := nonNegative(t.VCPUAlloc)
		vRAM := nonNegative(t.VRAMAlloc)

		wCPU := clamp01(vCPU / p.CPUUnits)
		wRAM := clamp01(vRAM / ramNorm)

		area := vis.area(t.PID, t.Name)
		wVis := 0.0
		if vis.total > 0 {
			wVis = clamp01(float64(area) / vis.total)
		}

		if area > 0 || vCPU > p.ActivityCPUThreshold {
			state.RecordUsage(t.Name)
		}
		wHist := clamp01(float64(state.Usage(t.Name)) / p.HistorySaturation)

		wait := state.AccumulateWait(t.PID, vCPU < idleBelow)
		wWait := clamp01(wait / p.WaitSaturation)

		raw := p.Alpha*wCPU + p.Beta*wRAM + p.Gamma*wWait + p.Delta*wVis + p.Epsilon*wHist
		score := clamp01(raw)

		action, reason := s.classify(wWait, wCPU, score)

		out = append(out, domain.ScoredTask{
			VirtualTask: domain.VirtualTask{PID: t.PID, Name: t.Name, VCPUAlloc: vCPU, VRAMAlloc: vRAM},
			WCPU:        wCPU,
			WRAM:        wRAM,
			WWait:       wWait,
			WVis:        wVis,
			WHist:       wHist,
			Score:       score,
			RawScore:    raw,
			Action:      action,
			Reason:      reason,
			WaitTimeSec: wait,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// classify applies the rules in order; the first match wins.
func (s *Scorer) classify(wWait, wCPU, score float64) (domain.Action, string) {
	p := s.policy
	switch {
	case wWait > p.DeadlockWaitThreshold && wCPU < p.DeadlockCPUThreshold:
		return domain.ActionDeadlocked, domain.ReasonDeadlocked
	case score >= p.KillThreshold:
		return domain.ActionKill, domain.ReasonKill
	case score >= p.PreemptThreshold:
		return domain.ActionPreempt, domain.ReasonPreempt
	default:
		return domain.ActionWait, domain.ReasonWait
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

func nonNegative(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
