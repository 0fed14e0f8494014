// Package metrics provides Prometheus metrics for vpcsim: cycle throughput,
// virtual capacity, per-action decisions, host telemetry and health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Cycles ─────────────────────────────────────────────────────────────────

// CyclesTotal counts completed cycles by outcome ("ok", "halted", "error").
var CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "vpcsim",
	Name:      "cycles_total",
	Help:      "Total simulation cycles by outcome.",
}, []string{"outcome"})

// CycleDuration tracks wall time of one cycle, including the telemetry settle delay.
var CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "vpcsim",
	Name:      "cycle_duration_seconds",
	Help:      "Duration of one simulation cycle.",
	Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
})

// ─── Decisions ──────────────────────────────────────────────────────────────

// Decisions counts scorer classifications by action.
var Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "vpcsim",
	Name:      "decisions_total",
	Help:      "Total task classifications by action.",
}, []string{"action"})

// Evictions counts tasks removed by capacity recovery.
var Evictions = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "vpcsim",
	Name:      "evictions_total",
	Help:      "Total tasks evicted to restore capacity.",
})

// Compressions counts cycles that compressed survivor RAM.
var Compressions = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "vpcsim",
	Name:      "compressions_total",
	Help:      "Total cycles that applied uniform RAM compression.",
})

// MeanScore tracks the mean contention score of the last cycle.
var MeanScore = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "vpcsim",
	Name:      "mean_score",
	Help:      "Mean contention score of the last cycle.",
})

// ContentionScore tracks the distribution of per-task scores.
var ContentionScore = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "vpcsim",
	Name:      "contention_score",
	Help:      "Distribution of per-task contention scores.",
	Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
})

// ─── Virtual Capacity ───────────────────────────────────────────────────────

// VirtualRAM tracks committed virtual RAM after recovery, in MB.
var VirtualRAM = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "vpcsim",
	Name:      "virtual_ram_mb",
	Help:      "Committed virtual RAM after recovery (MB).",
})

// VirtualCPU tracks committed virtual CPU units after recovery.
var VirtualCPU = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "vpcsim",
	Name:      "virtual_cpu_units",
	Help:      "Committed virtual CPU units after recovery.",
})

// CompressionRatio tracks the last uniform RAM compression ratio (1 = none).
var CompressionRatio = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "vpcsim",
	Name:      "compression_ratio",
	Help:      "Last RAM compression ratio applied to survivors (1 = none).",
})

// CapacityStatus tracks the status level (0=Stable, 1=Near Limit, 2=Overload).
var CapacityStatus = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "vpcsim",
	Name:      "capacity_status",
	Help:      "Capacity status level (0=Stable, 1=Near Limit, 2=Overload).",
})

// Survivors tracks how many tasks hold an allocation after recovery.
var Survivors = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "vpcsim",
	Name:      "survivors",
	Help:      "Tasks holding an allocation after recovery.",
})

// TrackedWaits tracks how many pids have a wait accumulator.
var TrackedWaits = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "vpcsim",
	Name:      "tracked_wait_entries",
	Help:      "Processes with a wait-time accumulator in the session state.",
})

// ─── Host ───────────────────────────────────────────────────────────────────

// HostProcesses tracks how many processes the last snapshot sampled.
var HostProcesses = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "vpcsim",
	Name:      "host_processes",
	Help:      "Processes in the last host snapshot.",
})

// HostMemory tracks the host's total memory in MB.
var HostMemory = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "vpcsim",
	Name:      "host_memory_mb",
	Help:      "Total host memory (MB).",
})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "vpcsim",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})

// PersistenceErrors counts failed state or history writes by store.
var PersistenceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "vpcsim",
	Name:      "persistence_errors_total",
	Help:      "Failed persistence operations by store.",
}, []string{"store"})
