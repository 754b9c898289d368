// Copyright (C) 2026 Madhan S (github.com/madhans476)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

type CounselConfig struct {
	// Assistant: where the family-law assistant backend lives
	Assistant AssistantConfig `yaml:"assistant"`

	// Output: how turns are rendered on the terminal
	Output OutputConfig `yaml:"output"`

	// Logging: destination and verbosity for the CLI's own logs
	Logging LoggingConfig `yaml:"logging"`

	// Diagnostics: optional tracing and metrics exports
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
}

type AssistantConfig struct {
	BaseURL        string `yaml:"base_url"`        // e.g. http://localhost:8000
	TimeoutSeconds int    `yaml:"timeout_seconds"` // 0 means no per-turn timeout
}

type OutputConfig struct {
	// Personality can be "full", "standard", "minimal", or "machine".
	Personality   string `yaml:"personality"`
	ShowTips      bool   `yaml:"show_tips"`
	ShowCitations bool   `yaml:"show_citations"`
	Theme         string `yaml:"theme"` // e.g. "default"
}

type LoggingConfig struct {
	Level string `yaml:"level"`         // debug, info, warn, error
	Dir   string `yaml:"dir,omitempty"` // e.g. ~/.counsel/logs; empty disables file logs
	JSON  bool   `yaml:"json"`
}

type DiagnosticsConfig struct {
	// OTLPEndpoint enables span export when set, e.g. "localhost:4317".
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`

	// PrometheusEnabled registers turn metrics with the default registry.
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
}

func DefaultConfig() CounselConfig {
	return CounselConfig{
		Assistant: AssistantConfig{
			BaseURL:        "http://localhost:8000",
			TimeoutSeconds: 0,
		},
		Output: OutputConfig{
			Personality:   "full",
			ShowTips:      true,
			ShowCitations: true,
			Theme:         "default",
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "~/.counsel/logs",
			JSON:  false,
		},
		Diagnostics: DiagnosticsConfig{
			OTLPEndpoint:      "",
			PrometheusEnabled: false,
		},
	}
}
