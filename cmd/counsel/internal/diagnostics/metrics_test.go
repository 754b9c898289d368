// Copyright (C) 2026 Madhan S (github.com/madhans476)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package diagnostics

import (
	"sync"
	"testing"
)

// -----------------------------------------------------------------------------
// NoOpTurnMetrics Tests
// -----------------------------------------------------------------------------

// TestNoOpTurnMetrics_RecordTurn verifies the in-memory totals.
func TestNoOpTurnMetrics_RecordTurn(t *testing.T) {
	m := NewNoOpTurnMetrics()

	m.RecordTurn("final_response", "completed", 1200, 42)
	m.RecordTurn("clarification_question", "completed", 300, 7)

	if got := m.GetTurnsTotal(); got != 2 {
		t.Errorf("GetTurnsTotal() = %d, want 2", got)
	}
	if got := m.GetTokensTotal(); got != 49 {
		t.Errorf("GetTokensTotal() = %d, want 49", got)
	}
	if got := m.GetLastDurationMs(); got != 300 {
		t.Errorf("GetLastDurationMs() = %d, want 300", got)
	}
}

// TestNoOpTurnMetrics_RecordError verifies error counting.
func TestNoOpTurnMetrics_RecordError(t *testing.T) {
	m := NewNoOpTurnMetrics()

	m.RecordError("transport")
	m.RecordError("backend")
	m.RecordError("transport")

	if got := m.GetErrorsTotal(); got != 3 {
		t.Errorf("GetErrorsTotal() = %d, want 3", got)
	}
}

// TestNoOpTurnMetrics_RecordFirstUpdate verifies latency capture.
func TestNoOpTurnMetrics_RecordFirstUpdate(t *testing.T) {
	m := NewNoOpTurnMetrics()

	m.RecordFirstUpdate(85)

	if got := m.GetLastFirstUpdateMs(); got != 85 {
		t.Errorf("GetLastFirstUpdateMs() = %d, want 85", got)
	}
}

// TestNoOpTurnMetrics_Register verifies the no-op registration.
func TestNoOpTurnMetrics_Register(t *testing.T) {
	m := NewNoOpTurnMetrics()

	if err := m.Register(); err != nil {
		t.Errorf("Register() error = %v, want nil", err)
	}
}

// TestNoOpTurnMetrics_ConcurrentRecording verifies thread safety.
func TestNoOpTurnMetrics_ConcurrentRecording(t *testing.T) {
	m := NewNoOpTurnMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.RecordTurn("final_response", "completed", 10, 1)
			}
		}()
	}
	wg.Wait()

	if got := m.GetTurnsTotal(); got != 1000 {
		t.Errorf("GetTurnsTotal() = %d, want 1000", got)
	}
	if got := m.GetTokensTotal(); got != 1000 {
		t.Errorf("GetTokensTotal() = %d, want 1000", got)
	}
}

// -----------------------------------------------------------------------------
// PrometheusTurnMetrics Tests
// -----------------------------------------------------------------------------

// TestPrometheusTurnMetrics_Recording verifies recording does not panic
// before registration.
func TestPrometheusTurnMetrics_Recording(t *testing.T) {
	m := NewPrometheusTurnMetrics()

	m.RecordTurn("final_response", "completed", 1200, 42)
	m.RecordTurn("", "errored", 50, 0) // empty message type maps to "unknown"
	m.RecordFirstUpdate(85)
	m.RecordError("transport")
}

// -----------------------------------------------------------------------------
// Factory Tests
// -----------------------------------------------------------------------------

// TestNewDefaultTurnMetrics verifies tier selection.
func TestNewDefaultTurnMetrics(t *testing.T) {
	t.Run("disabled returns in-memory tier", func(t *testing.T) {
		m := NewDefaultTurnMetrics(false)
		if _, ok := m.(*NoOpTurnMetrics); !ok {
			t.Errorf("metrics type = %T, want *NoOpTurnMetrics", m)
		}
	})

	t.Run("enabled returns prometheus tier", func(t *testing.T) {
		m := NewDefaultTurnMetrics(true)
		if _, ok := m.(*PrometheusTurnMetrics); !ok {
			t.Errorf("metrics type = %T, want *PrometheusTurnMetrics", m)
		}
	})
}
