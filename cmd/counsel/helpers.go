// Copyright (C) 2026 Madhan S (github.com/madhans476)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/madhans476/family-law-assistant/cmd/counsel/config"
	"github.com/madhans476/family-law-assistant/cmd/counsel/internal/diagnostics"
)

// Version is stamped into --version output and the User-Agent header.
const Version = "0.3.0"

// Constants for default connection settings
const (
	DefaultAssistantPort = 8000
	DefaultAssistantHost = "localhost"
)

// newTurnDiagnostics builds the tracer and metrics tiers the loaded
// config asks for. Without an OTLP endpoint or Prometheus enabled both
// come back as the in-memory tier, so the CLI stays fully offline.
func newTurnDiagnostics() (diagnostics.TurnTracer, diagnostics.TurnMetrics) {
	tracer, err := diagnostics.NewDefaultTurnTracer(context.Background(),
		"counsel", config.Global.Diagnostics.OTLPEndpoint)
	if err != nil {
		slog.Warn("Trace export unavailable, continuing without it", "error", err)
		tracer = diagnostics.NewNoOpTurnTracer("counsel")
	}

	metrics := diagnostics.NewDefaultTurnMetrics(config.Global.Diagnostics.PrometheusEnabled)
	if err := metrics.Register(); err != nil {
		slog.Warn("Metrics registration failed, continuing without it", "error", err)
		metrics = diagnostics.NewNoOpTurnMetrics()
	}

	return tracer, metrics
}

// getAssistantBaseURL returns the address of the assistant backend.
func getAssistantBaseURL() string {
	// 1. Priority: Environment Variable (Used by Tests & Docker overrides)
	if url := os.Getenv("COUNSEL_ASSISTANT_URL"); url != "" {
		return url
	}
	// 2. Config file, when it has been loaded and carries a value
	if config.Global.Assistant.BaseURL != "" {
		return config.Global.Assistant.BaseURL
	}
	// 3. Default: Standard Host/Port
	return fmt.Sprintf("http://%s:%d", DefaultAssistantHost, DefaultAssistantPort)
}
