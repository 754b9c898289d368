// Copyright (C) 2026 Madhan S (github.com/madhans476)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestPath(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)

	path, err := Path()
	if err != nil {
		t.Fatalf("Path() error = %v", err)
	}

	want := filepath.Join(tmp, ".counsel", "counsel.yaml")
	if path != want {
		t.Errorf("Path() = %q, want %q", path, want)
	}
	if !strings.HasSuffix(path, filepath.Join(".counsel", "counsel.yaml")) {
		t.Errorf("Path() = %q, want .counsel/counsel.yaml suffix", path)
	}
}

func TestCreateDefault(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, ".counsel", "counsel.yaml")

	if err := createDefault(path); err != nil {
		t.Fatalf("createDefault() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading created config: %v", err)
	}

	var cfg CounselConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("unmarshaling created config: %v", err)
	}

	if cfg.Assistant.BaseURL != "http://localhost:8000" {
		t.Errorf("Assistant.BaseURL = %q, want %q", cfg.Assistant.BaseURL, "http://localhost:8000")
	}
	if cfg.Output.Personality != "full" {
		t.Errorf("Output.Personality = %q, want %q", cfg.Output.Personality, "full")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
}

func TestCreateDefault_DirectoryCreation(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "deeply", "nested", "counsel.yaml")

	if err := createDefault(path); err != nil {
		t.Fatalf("createDefault() error = %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file not created at nested path: %v", err)
	}
}

func TestSave(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)

	cfg := DefaultConfig()
	cfg.Assistant.BaseURL = "http://assistant.internal:9000"
	cfg.Output.Personality = "minimal"

	if err := Save(cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	path := filepath.Join(tmp, ".counsel", "counsel.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading saved config: %v", err)
	}

	var loaded CounselConfig
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("unmarshaling saved config: %v", err)
	}

	if loaded.Assistant.BaseURL != "http://assistant.internal:9000" {
		t.Errorf("Assistant.BaseURL = %q, want the saved override", loaded.Assistant.BaseURL)
	}
	if loaded.Output.Personality != "minimal" {
		t.Errorf("Output.Personality = %q, want %q", loaded.Output.Personality, "minimal")
	}
}

func TestSave_Overwrite(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)

	first := DefaultConfig()
	if err := Save(first); err != nil {
		t.Fatalf("first Save() error = %v", err)
	}

	second := DefaultConfig()
	second.Logging.Level = "debug"
	if err := Save(second); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	path := filepath.Join(tmp, ".counsel", "counsel.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading saved config: %v", err)
	}

	var loaded CounselConfig
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("unmarshaling saved config: %v", err)
	}
	if loaded.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q after overwrite", loaded.Logging.Level, "debug")
	}
}
