// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the pipeline.
//
// # Description
//
// Metrics cover the three layers a pipeline operator cares about:
//   - Pipeline progress: phase counters and durations, task outcomes
//   - Resilience: circuit breaker state, retry volume, degraded results
//   - Spend: token and estimated-cost counters by model
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "inkwell"

// Subsystem for pipeline metrics
const pipelineSubsystem = "pipeline"

// PipelineMetrics holds all Prometheus metrics for the content pipeline.
//
// # Fields
//
//   - PhasesTotal: Counter of phase executions by phase and status
//   - PhaseDurationSeconds: Histogram of per-phase wall time
//   - TasksTotal: Counter of finished tasks by terminal phase
//   - RefinementCycles: Histogram of draft/review cycles per task
//   - BreakerState: Gauge of circuit state per service (0=closed, 1=half-open, 2=open)
//   - RetriesTotal: Counter of retry attempts by service
//   - DegradedResultsTotal: Counter of cached/fallback results served, by service and source
//   - TokensTotal: Counter of tokens by direction and model
//   - SpendUSD: Counter of estimated spend by model
//   - CommandsTotal: Counter of processed commands by kind and status
//
// # Thread Safety
//
// All operations are thread-safe.
type PipelineMetrics struct {
	// PhasesTotal counts phase executions.
	// Labels: phase, status (completed, failed, rejected, approved)
	PhasesTotal *prometheus.CounterVec

	// PhaseDurationSeconds measures per-phase wall time.
	// Labels: phase
	PhaseDurationSeconds *prometheus.HistogramVec

	// TasksTotal counts tasks reaching a terminal phase.
	// Labels: outcome (published, failed)
	TasksTotal *prometheus.CounterVec

	// RefinementCycles measures draft/review cycles consumed per task.
	RefinementCycles prometheus.Histogram

	// BreakerState tracks circuit state per service.
	// 0 = closed, 1 = half-open, 2 = open.
	// Labels: service
	BreakerState *prometheus.GaugeVec

	// RetriesTotal counts retry attempts beyond the first try.
	// Labels: service
	RetriesTotal *prometheus.CounterVec

	// DegradedResultsTotal counts non-fresh guard results.
	// Labels: service, source (cached, fallback)
	DegradedResultsTotal *prometheus.CounterVec

	// TokensTotal counts tokens by direction and model.
	// Labels: direction (input, output), model
	TokensTotal *prometheus.CounterVec

	// SpendUSD accumulates estimated model spend.
	// Labels: model
	SpendUSD *prometheus.CounterVec

	// CommandsTotal counts processed commands.
	// Labels: kind (pause, resume, cancel, run_now), status (completed, failed, retried)
	CommandsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance, initialized by InitMetrics().
var DefaultMetrics *PipelineMetrics

// InitMetrics initializes the default metrics instance against the default
// Prometheus registry. Call once at service startup; panics if called twice.
func InitMetrics() *PipelineMetrics {
	DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// NewMetrics creates a metrics instance against the given registerer. Tests
// pass their own registry to stay isolated from the process-wide one.
func NewMetrics(reg prometheus.Registerer) *PipelineMetrics {
	factory := promauto.With(reg)

	return &PipelineMetrics{
		PhasesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "phases_total",
				Help:      "Total phase executions by phase and status",
			},
			[]string{"phase", "status"},
		),

		PhaseDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "phase_duration_seconds",
				Help:      "Wall time per pipeline phase in seconds",
				Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"phase"},
		),

		TasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "tasks_total",
				Help:      "Tasks reaching a terminal phase, by outcome",
			},
			[]string{"outcome"},
		),

		RefinementCycles: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "refinement_cycles",
				Help:      "Draft/review cycles consumed per task",
				Buckets:   []float64{1, 2, 3, 4, 5},
			},
		),

		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "resilience",
				Name:      "breaker_state",
				Help:      "Circuit breaker state per service (0=closed, 1=half-open, 2=open)",
			},
			[]string{"service"},
		),

		RetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "resilience",
				Name:      "retries_total",
				Help:      "Retry attempts beyond the first try, by service",
			},
			[]string{"service"},
		),

		DegradedResultsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "resilience",
				Name:      "degraded_results_total",
				Help:      "Guard results served from cache or fallback, by service and source",
			},
			[]string{"service", "source"},
		),

		TokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "llm",
				Name:      "tokens_total",
				Help:      "Tokens processed by direction and model",
			},
			[]string{"direction", "model"},
		),

		SpendUSD: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "llm",
				Name:      "spend_usd_total",
				Help:      "Estimated model spend in USD, by model",
			},
			[]string{"model"},
		),

		CommandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "commands_total",
				Help:      "Processed control commands by kind and status",
			},
			[]string{"kind", "status"},
		),
	}
}

// ObserveBreakers pushes a breaker snapshot into the state gauge.
// stateOf maps each service name to its numeric state.
func (m *PipelineMetrics) ObserveBreakers(states map[string]float64) {
	for service, state := range states {
		m.BreakerState.WithLabelValues(service).Set(state)
	}
}
