// Copyright (C) 2026 Madhan S (github.com/madhans476)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
This file implements the TurnMetrics interface for counting assistant
turns and their outcomes.

# Metrics Exported

Turn metrics (turn subsystem):

  - counsel_turn_turns_total: Counter by message type and terminal phase
  - counsel_turn_duration_seconds: Histogram of turn durations by message type
  - counsel_turn_tokens_total: Counter of streamed token events
  - counsel_turn_first_update_seconds: Histogram of time to first event
  - counsel_turn_errors_total: Counter by error type

Use these to watch answer latency trends, the split between final
answers and clarification questions, and error spikes against a
misbehaving backend.
*/
package diagnostics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

// Metric namespace and subsystem.
const (
	// metricsNamespace is the namespace for all counsel metrics.
	metricsNamespace = "counsel"

	// metricsSubsystemTurn is the subsystem for turn metrics.
	metricsSubsystemTurn = "turn"
)

// -----------------------------------------------------------------------------
// TurnMetrics Interface
// -----------------------------------------------------------------------------

// TurnMetrics records what happened to assistant turns.
//
// # Description
//
// One RecordTurn call per finished turn, one RecordFirstUpdate per turn
// that produced any event, and RecordError for turns that ended in a
// failure. The NoOp tier keeps totals in memory; the Prometheus tier
// exports everything with labels.
//
// # Thread Safety
//
// All implementations must be safe for concurrent use.
type TurnMetrics interface {
	// RecordTurn records one finished turn. messageType is the backend's
	// classification ("final_response", "clarification_question",
	// "information_gathering"), phase is the terminal phase the turn
	// ended in, tokens is the number of token events streamed.
	RecordTurn(messageType, phase string, durationMs int64, tokens int)

	// RecordFirstUpdate records the latency before the first event of a
	// turn arrived.
	RecordFirstUpdate(latencyMs int64)

	// RecordError records a failed turn by error category, e.g.
	// "transport", "backend", "cancelled".
	RecordError(errorType string)

	// Register registers collectors with the Prometheus default
	// registry. A no-op for the in-memory tier.
	Register() error
}

// -----------------------------------------------------------------------------
// NoOpTurnMetrics Implementation
// -----------------------------------------------------------------------------

// NoOpTurnMetrics keeps totals in memory without exporting.
//
// The default tier: no Prometheus infrastructure needed. Accessors exist
// so tests and the status command can read the totals back.
type NoOpTurnMetrics struct {
	turnsTotal      atomic.Int64
	tokensTotal     atomic.Int64
	errorsTotal     atomic.Int64
	lastDurationMs  atomic.Int64
	lastFirstUpdate atomic.Int64
}

// NewNoOpTurnMetrics creates an in-memory metrics recorder.
func NewNoOpTurnMetrics() *NoOpTurnMetrics {
	return &NoOpTurnMetrics{}
}

// RecordTurn adds to the turn and token totals. Labels are ignored in
// the in-memory tier.
func (m *NoOpTurnMetrics) RecordTurn(messageType, phase string, durationMs int64, tokens int) {
	m.turnsTotal.Add(1)
	m.tokensTotal.Add(int64(tokens))
	m.lastDurationMs.Store(durationMs)
}

// RecordFirstUpdate stores the most recent first-update latency.
func (m *NoOpTurnMetrics) RecordFirstUpdate(latencyMs int64) {
	m.lastFirstUpdate.Store(latencyMs)
}

// RecordError adds to the error total.
func (m *NoOpTurnMetrics) RecordError(errorType string) {
	m.errorsTotal.Add(1)
}

// Register is a no-op; there are no collectors.
func (m *NoOpTurnMetrics) Register() error {
	return nil
}

// GetTurnsTotal returns the total turn count for testing.
func (m *NoOpTurnMetrics) GetTurnsTotal() int64 {
	return m.turnsTotal.Load()
}

// GetTokensTotal returns the total token event count for testing.
func (m *NoOpTurnMetrics) GetTokensTotal() int64 {
	return m.tokensTotal.Load()
}

// GetErrorsTotal returns the total error count for testing.
func (m *NoOpTurnMetrics) GetErrorsTotal() int64 {
	return m.errorsTotal.Load()
}

// GetLastDurationMs returns the most recent turn duration for testing.
func (m *NoOpTurnMetrics) GetLastDurationMs() int64 {
	return m.lastDurationMs.Load()
}

// GetLastFirstUpdateMs returns the most recent first-update latency for
// testing.
func (m *NoOpTurnMetrics) GetLastFirstUpdateMs() int64 {
	return m.lastFirstUpdate.Load()
}

// -----------------------------------------------------------------------------
// PrometheusTurnMetrics Implementation
// -----------------------------------------------------------------------------

// PrometheusTurnMetrics exports turn metrics to Prometheus.
//
// Used by the scenario simulator's /metrics endpoint and by the CLI when
// diagnostics.prometheus_enabled is set in the config.
type PrometheusTurnMetrics struct {
	// turnsTotal counts turns by message type and terminal phase.
	turnsTotal *prometheus.CounterVec

	// turnDuration is a histogram of turn durations.
	turnDuration *prometheus.HistogramVec

	// tokensTotal counts streamed token events.
	tokensTotal *prometheus.CounterVec

	// firstUpdate is a histogram of time-to-first-event latencies.
	firstUpdate prometheus.Histogram

	// errorsTotal counts failed turns by error type.
	errorsTotal *prometheus.CounterVec

	// registered tracks if metrics are registered.
	registered bool

	// mu protects registered flag.
	mu sync.Mutex
}

// NewPrometheusTurnMetrics creates a Prometheus-backed metrics recorder.
// Call Register() once before recording.
func NewPrometheusTurnMetrics() *PrometheusTurnMetrics {
	return &PrometheusTurnMetrics{
		turnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemTurn,
				Name:      "turns_total",
				Help:      "Total number of assistant turns by message type and terminal phase",
			},
			[]string{"message_type", "phase"},
		),

		turnDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemTurn,
				Name:      "duration_seconds",
				Help:      "Duration of assistant turns in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"message_type"},
		),

		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemTurn,
				Name:      "tokens_total",
				Help:      "Total number of streamed token events",
			},
			[]string{"message_type"},
		),

		firstUpdate: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemTurn,
				Name:      "first_update_seconds",
				Help:      "Time until the first event of a turn arrived",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
		),

		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemTurn,
				Name:      "errors_total",
				Help:      "Total number of failed turns by error type",
			},
			[]string{"error_type"},
		),
	}
}

// RecordTurn updates the turn counter, duration histogram, and token
// counter.
func (m *PrometheusTurnMetrics) RecordTurn(messageType, phase string, durationMs int64, tokens int) {
	if messageType == "" {
		messageType = "unknown"
	}
	m.turnsTotal.WithLabelValues(messageType, phase).Inc()
	m.turnDuration.WithLabelValues(messageType).Observe(float64(durationMs) / 1000.0)
	m.tokensTotal.WithLabelValues(messageType).Add(float64(tokens))
}

// RecordFirstUpdate observes a first-update latency.
func (m *PrometheusTurnMetrics) RecordFirstUpdate(latencyMs int64) {
	m.firstUpdate.Observe(float64(latencyMs) / 1000.0)
}

// RecordError increments the error counter for the given type.
func (m *PrometheusTurnMetrics) RecordError(errorType string) {
	m.errorsTotal.WithLabelValues(errorType).Inc()
}

// Register registers all collectors with the Prometheus default
// registry. Safe to call more than once; only the first call registers.
func (m *PrometheusTurnMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.turnsTotal,
		m.turnDuration,
		m.tokensTotal,
		m.firstUpdate,
		m.errorsTotal,
	}

	for _, c := range collectors {
		if err := prometheus.Register(c); err != nil {
			return err
		}
	}

	m.registered = true
	return nil
}

// -----------------------------------------------------------------------------
// Factory Function
// -----------------------------------------------------------------------------

// NewDefaultTurnMetrics returns the Prometheus tier when enabled, the
// in-memory tier otherwise. Prometheus still needs Register() called.
func NewDefaultTurnMetrics(enablePrometheus bool) TurnMetrics {
	if enablePrometheus {
		return NewPrometheusTurnMetrics()
	}
	return NewNoOpTurnMetrics()
}

// Compile-time interface compliance checks.
var _ TurnMetrics = (*NoOpTurnMetrics)(nil)
var _ TurnMetrics = (*PrometheusTurnMetrics)(nil)
