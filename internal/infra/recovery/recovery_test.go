package recovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutu-network/vpcsim/internal/domain"
)

func scored(pid int, name string, cpu, ram, score float64, action domain.Action) domain.ScoredTask {
	return domain.ScoredTask{
		VirtualTask: domain.VirtualTask{PID: pid, Name: name, VCPUAlloc: cpu, VRAMAlloc: ram},
		Score:       score,
		Action:      action,
	}
}

func TestRecover_Empty(t *testing.T) {
	out := New(domain.LowEndPolicy()).Recover(nil)

	assert.Empty(t, out.Survivors)
	assert.Empty(t, out.Resolved)
	assert.Empty(t, out.Evicted)
	assert.Equal(t, 1.0, out.CompressionRatio)
	assert.Zero(t, out.TotalRAM)
	assert.Equal(t, domain.StatusStable, out.Status)
}

func TestRecover_ActionsRealized(t *testing.T) {
	p := domain.LowEndPolicy()
	out := New(p).Recover([]domain.ScoredTask{
		scored(1, "hog", 30, 200, 0.8, domain.ActionKill),
		scored(2, "mid", 10, 100, 0.4, domain.ActionPreempt),
		scored(3, "stuck", 0.5, 20, 0.2, domain.ActionDeadlocked),
		scored(4, "idle", 2, 50, 0.1, domain.ActionWait),
	})

	require.Len(t, out.Survivors, 2)
	assert.Equal(t, 2, out.Survivors[0].PID)
	assert.InDelta(t, 6.0, out.Survivors[0].VCPUAlloc, 1e-9)
	assert.InDelta(t, 60.0, out.Survivors[0].VRAMAlloc, 1e-9)
	assert.Equal(t, 4, out.Survivors[1].PID)
	assert.Equal(t, 50.0, out.Survivors[1].VRAMAlloc)

	require.Len(t, out.Resolved, 2)
	assert.Equal(t, domain.ActionKill, out.Resolved[0].Action)
	assert.Equal(t, 200.0, out.Resolved[0].VRAMAlloc, "pre-action allocation is recorded")
	assert.Equal(t, 0.8, out.Resolved[0].Score)
	assert.Equal(t, domain.ActionDeadlocked, out.Resolved[1].Action)

	assert.Equal(t, 1.0, out.CompressionRatio)
	assert.InDelta(t, 110.0, out.TotalRAM, 1e-9)
	assert.InDelta(t, 8.0, out.TotalCPU, 1e-9)
	assert.Equal(t, domain.StatusStable, out.Status)
	assert.Empty(t, out.Evicted)
}

func TestRecover_UniformCompression(t *testing.T) {
	p := domain.LowEndPolicy()
	out := New(p).Recover([]domain.ScoredTask{
		scored(1, "a", 10, 300, 0.2, domain.ActionWait),
		scored(2, "b", 10, 200, 0.2, domain.ActionWait),
		scored(3, "c", 10, 100, 0.2, domain.ActionWait),
	})

	assert.InDelta(t, 512.0/600.0, out.CompressionRatio, 1e-12)
	assert.InDelta(t, 0.8533, out.CompressionRatio, 1e-4)
	assert.InDelta(t, 512.0, out.TotalRAM, 1e-6)
	require.Len(t, out.Survivors, 3)
	assert.InDelta(t, 300*512.0/600.0, out.Survivors[0].VRAMAlloc, 1e-9)
	assert.InDelta(t, 30.0, out.TotalCPU, 1e-9, "cpu is never compressed")
	assert.Empty(t, out.Evicted)
	assert.LessOrEqual(t, out.TotalRAM, p.RAMMB+p.CapacityEpsilon)
}

func TestRecover_StatusBands(t *testing.T) {
	tests := []struct {
		ram  float64
		want domain.CapacityStatus
	}{
		{100, domain.StatusStable},
		{420, domain.StatusNearLimit},
		{512, domain.StatusOverload},
	}
	for _, tt := range tests {
		out := New(domain.LowEndPolicy()).Recover([]domain.ScoredTask{scored(1, "a", 1, tt.ram, 0.1, domain.ActionWait)})
		assert.Equal(t, tt.want, out.Status, "ram=%v", tt.ram)
	}
}

func TestRecover_ZeroBudgetTerminates(t *testing.T) {
	p := domain.LowEndPolicy()
	p.RAMMB = 0

	out := New(p).Recover([]domain.ScoredTask{
		scored(1, "a", 10, 300, 0.2, domain.ActionWait),
		scored(2, "b", 10, 200, 0.1, domain.ActionWait),
	})

	assert.Zero(t, out.CompressionRatio)
	assert.Zero(t, out.TotalRAM)
	for _, s := range out.Survivors {
		assert.Zero(t, s.VRAMAlloc)
	}
}

func TestEvict_Order(t *testing.T) {
	survivors := []domain.AdjustedTask{
		{VirtualTask: domain.VirtualTask{PID: 1, Name: "high", VRAMAlloc: 100}, Score: 0.5},
		{VirtualTask: domain.VirtualTask{PID: 2, Name: "low", VRAMAlloc: 100}, Score: 0.1},
		{VirtualTask: domain.VirtualTask{PID: 3, Name: "mid", VRAMAlloc: 100}, Score: 0.3},
	}
	tests := []struct {
		order   domain.EvictionOrder
		evicted int
	}{
		{domain.EvictLowestScoreFirst, 2},
		{domain.EvictHighestScoreFirst, 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.order), func(t *testing.T) {
			p := domain.LowEndPolicy()
			p.RAMMB = 250
			p.EvictionOrder = tt.order

			out := Outcome{Survivors: append([]domain.AdjustedTask(nil), survivors...)}
			ram := New(p).evict(&out, 300)

			require.Len(t, out.Evicted, 1)
			assert.Equal(t, tt.evicted, out.Evicted[0].PID)
			require.Len(t, out.Resolved, 1)
			assert.Equal(t, domain.ActionEvicted, out.Resolved[0].Action)
			assert.Equal(t, domain.ReasonEvicted, out.Resolved[0].Reason)
			assert.Len(t, out.Survivors, 2)
			assert.InDelta(t, 200.0, ram, 1e-9)
		})
	}
}

func TestEvict_UnreachableBudgetEmptiesSurvivors(t *testing.T) {
	p := domain.LowEndPolicy()
	p.RAMMB = -1

	out := Outcome{Survivors: []domain.AdjustedTask{
		{VirtualTask: domain.VirtualTask{PID: 1, VRAMAlloc: 10}},
		{VirtualTask: domain.VirtualTask{PID: 2, VRAMAlloc: 0}},
	}}
	ram := New(p).evict(&out, 10)

	assert.Empty(t, out.Survivors)
	assert.Len(t, out.Evicted, 2)
	assert.Zero(t, ram)
}

func TestEvict_KeepsSurvivorOrder(t *testing.T) {
	p := domain.LowEndPolicy()
	p.RAMMB = 150

	out := Outcome{Survivors: []domain.AdjustedTask{
		{VirtualTask: domain.VirtualTask{PID: 1, VRAMAlloc: 50}, Score: 0.9},
		{VirtualTask: domain.VirtualTask{PID: 2, VRAMAlloc: 50}, Score: 0.1},
		{VirtualTask: domain.VirtualTask{PID: 3, VRAMAlloc: 100}, Score: 0.5},
	}}
	New(p).evict(&out, 200)

	require.Len(t, out.Survivors, 2)
	assert.Equal(t, []int{1, 3}, []int{out.Survivors[0].PID, out.Survivors[1].PID})
}

func TestEvict_SharedPIDRemovesChosenVictim(t *testing.T) {
	p := domain.LowEndPolicy()
	p.RAMMB = 300

	out := Outcome{Survivors: []domain.AdjustedTask{
		{VirtualTask: domain.VirtualTask{PID: 5, Name: "small", VRAMAlloc: 10}, Score: 0.9},
		{VirtualTask: domain.VirtualTask{PID: 5, Name: "big", VRAMAlloc: 290}, Score: 0.1},
		{VirtualTask: domain.VirtualTask{PID: 6, Name: "other", VRAMAlloc: 100}, Score: 0.5},
	}}
	ram := New(p).evict(&out, 400)

	require.Len(t, out.Evicted, 1)
	assert.Equal(t, "big", out.Evicted[0].Name)
	require.Len(t, out.Survivors, 2)
	assert.Equal(t, []string{"small", "other"}, []string{out.Survivors[0].Name, out.Survivors[1].Name})
	assert.InDelta(t, 110.0, ram, 1e-9)
	assert.LessOrEqual(t, ram, p.RAMMB)
}
