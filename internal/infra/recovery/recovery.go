// Package recovery enforces the virtual RAM budget on a scored cycle.
//
// Recovery runs in three passes: apply each task's action (preempted tasks
// shrink, killed and deadlocked tasks leave), compress the remaining RAM
// uniformly if the budget is still exceeded, then evict survivors one at a
// time until the budget holds or nothing is left.
package recovery

import (
	"sort"

	"github.com/tutu-network/vpcsim/internal/domain"
)

// Outcome is the result of one recovery pass.
type Outcome struct {
	Survivors        []domain.AdjustedTask   `json:"survivors"`
	Resolved         []domain.ResolvedRecord `json:"resolved"`
	Evicted          []domain.AdjustedTask   `json:"evicted"`
	CompressionRatio float64                 `json:"compression_ratio"` // 1 when no compression happened
	TotalRAM         float64                 `json:"total_ram"`
	TotalCPU         float64                 `json:"total_cpu"`
	Status           domain.CapacityStatus   `json:"status"`
}

// Engine applies a Policy's recovery rules.
type Engine struct {
	policy domain.Policy
}

// New creates a recovery engine.
func New(policy domain.Policy) *Engine {
	return &Engine{policy: policy}
}

// Recover computes survivors and history for one cycle's scored tasks.
// It does not stamp times or cycle ids on the resolved records.
func (e *Engine) Recover(scored []domain.ScoredTask) Outcome {
	p := e.policy
	out := Outcome{
		Survivors:        make([]domain.AdjustedTask, 0, len(scored)),
		Resolved:         []domain.ResolvedRecord{},
		Evicted:          []domain.AdjustedTask{},
		CompressionRatio: 1,
	}

	// ─── Pass 1: per-task action ────────────────────────────────────────
	for _, st := range scored {
		switch st.Action {
		case domain.ActionKill, domain.ActionDeadlocked:
			out.Resolved = append(out.Resolved, domain.ResolvedRecord{
				PID:       st.PID,
				Name:      st.Name,
				VCPUAlloc: st.VCPUAlloc,
				VRAMAlloc: st.VRAMAlloc,
				Score:     st.Score,
				Action:    st.Action,
				Reason:    st.Reason,
			})
		case domain.ActionPreempt:
			t := adjusted(st)
			t.VCPUAlloc *= p.PreemptFactor
			t.VRAMAlloc *= p.PreemptFactor
			out.Survivors = append(out.Survivors, t)
		default:
			out.Survivors = append(out.Survivors, adjusted(st))
		}
	}

	// ─── Pass 2: uniform RAM compression ────────────────────────────────
	ram := totalRAM(out.Survivors)
	if ram > p.RAMMB && ram > 0 {
		ratio := p.RAMMB / ram
		if ratio > 1 {
			ratio = 1
		}
		out.CompressionRatio = ratio
		for i := range out.Survivors {
			out.Survivors[i].VRAMAlloc *= ratio
		}
		ram = totalRAM(out.Survivors)
	}

	// ─── Pass 3: bounded eviction ───────────────────────────────────────
	if ram > p.RAMMB+p.CapacityEpsilon {
		ram = e.evict(&out, ram)
	}

	out.TotalRAM = ram
	out.TotalCPU = totalCPU(out.Survivors)
	out.Status = domain.StatusFor(out.TotalRAM, p.RAMMB)
	return out
}

// evict removes survivors per the policy's eviction order until ram fits
// the budget. The loop is bounded by the survivor count.
func (e *Engine) evict(out *Outcome, ram float64) float64 {
	limit := e.policy.RAMMB + e.policy.CapacityEpsilon
	order := e.evictionOrder(out.Survivors)
	gone := make([]bool, len(out.Survivors))
	for remaining := len(order); remaining > 0 && ram > limit; remaining-- {
		i := order[0]
		order = order[1:]
		victim := out.Survivors[i]
		gone[i] = true
		out.Evicted = append(out.Evicted, victim)
		out.Resolved = append(out.Resolved, domain.ResolvedRecord{
			PID:       victim.PID,
			Name:      victim.Name,
			VCPUAlloc: victim.VCPUAlloc,
			VRAMAlloc: victim.VRAMAlloc,
			Score:     victim.Score,
			Action:    domain.ActionEvicted,
			Reason:    domain.ReasonEvicted,
		})
		ram -= victim.VRAMAlloc
	}
	out.Survivors = keepOrder(out.Survivors, gone)
	return totalRAM(out.Survivors)
}

// evictionOrder returns survivor indices in the order they should be
// evicted. Equal scores fall back to the scorer's ordering.
func (e *Engine) evictionOrder(survivors []domain.AdjustedTask) []int {
	order := make([]int, len(survivors))
	for i := range order {
		order[i] = i
	}
	if e.policy.EvictionOrder == domain.EvictHighestScoreFirst {
		sort.SliceStable(order, func(i, j int) bool { return survivors[order[i]].Score > survivors[order[j]].Score })
	} else {
		sort.SliceStable(order, func(i, j int) bool { return survivors[order[i]].Score < survivors[order[j]].Score })
	}
	return order
}

// keepOrder drops the survivors marked gone without reordering the rest.
func keepOrder(survivors []domain.AdjustedTask, gone []bool) []domain.AdjustedTask {
	kept := make([]domain.AdjustedTask, 0, len(survivors))
	for i, t := range survivors {
		if !gone[i] {
			kept = append(kept, t)
		}
	}
	return kept
}

func adjusted(st domain.ScoredTask) domain.AdjustedTask {
	return domain.AdjustedTask{
		VirtualTask: st.VirtualTask,
		Action:      st.Action,
		Reason:      st.Reason,
		Score:       st.Score,
	}
}

func totalRAM(tasks []domain.AdjustedTask) float64 {
	var sum float64
	for _, t := range tasks {
		sum += t.VRAMAlloc
	}
	return sum
}

func totalCPU(tasks []domain.AdjustedTask) float64 {
	var sum float64
	for _, t := range tasks {
		sum += t.VCPUAlloc
	}
	return sum
}
