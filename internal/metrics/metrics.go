// Package metrics holds the keeper's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Ticks          prometheus.Counter
	PoolOutcomes   *prometheus.CounterVec
	PoolFailures   *prometheus.CounterVec
	SolveDuration  prometheus.Histogram
	SolverResults  *prometheus.CounterVec
	HaltedPools    prometheus.Gauge
	RegistryLoaded prometheus.Gauge
}

func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		Ticks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "epochkeeper_ticks_total",
				Help: "Settlement ticks started.",
			},
		),
		PoolOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "epochkeeper_pool_outcomes_total",
				Help: "Settlement attempts by pool and action.",
			},
			[]string{"pool", "action"},
		),
		PoolFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "epochkeeper_pool_failures_total",
				Help: "Failed settlement attempts by pool and reason.",
			},
			[]string{"pool", "reason"},
		),
		SolveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "epochkeeper_solve_duration_seconds",
				Help:    "Allocation solve duration in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
		),
		SolverResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "epochkeeper_solver_results_total",
				Help: "Solver results by kind.",
			},
			[]string{"result"},
		),
		HaltedPools: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "epochkeeper_halted_pools",
				Help: "Pools waiting for operator action.",
			},
		),
		RegistryLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "epochkeeper_registry_pools",
				Help: "Enabled pools in the last loaded registry.",
			},
		),
	}

	registry.MustRegister(m.Ticks, m.PoolOutcomes, m.PoolFailures, m.SolveDuration,
		m.SolverResults, m.HaltedPools, m.RegistryLoaded)
	return m
}

func (m *Metrics) Tick() {
	if m == nil {
		return
	}
	m.Ticks.Inc()
}

func (m *Metrics) Outcome(pool, action string) {
	if m == nil {
		return
	}
	m.PoolOutcomes.WithLabelValues(pool, action).Inc()
}

func (m *Metrics) Failure(pool, reason string) {
	if m == nil {
		return
	}
	m.PoolFailures.WithLabelValues(pool, reason).Inc()
}

// Solve records one solver call; result is feasible, drain_down, hold or error.
func (m *Metrics) Solve(d time.Duration, result string) {
	if m == nil {
		return
	}
	m.SolveDuration.Observe(d.Seconds())
	m.SolverResults.WithLabelValues(result).Inc()
}

func (m *Metrics) SetHalted(n int) {
	if m == nil {
		return
	}
	m.HaltedPools.Set(float64(n))
}

func (m *Metrics) SetRegistry(n int) {
	if m == nil {
		return
	}
	m.RegistryLoaded.Set(float64(n))
}
