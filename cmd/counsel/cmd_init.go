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
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/madhans476/family-law-assistant/cmd/counsel/config"
	"github.com/madhans476/family-law-assistant/pkg/ux"
)

// initProbeTimeout bounds the backend reachability check at the end of the
// wizard. Init succeeds either way; the probe only informs the user.
const initProbeTimeout = 5 * time.Second

func runInitCommand(cmd *cobra.Command, args []string) {
	path, err := config.Path()
	if err != nil {
		log.Fatalf("Cannot determine config path: %v", err)
	}

	if !ux.IsInteractive() {
		log.Fatalf("'counsel init' needs an interactive terminal. Edit %s directly instead.", path)
	}

	if _, statErr := os.Stat(path); statErr == nil {
		ok, cerr := ux.Confirm("A configuration file already exists. Overwrite it?", path, false)
		if cerr != nil {
			log.Fatalf("Error: %v", cerr)
		}
		if !ok {
			fmt.Println("Keeping the existing configuration.")
			return
		}
	}

	cfg := config.DefaultConfig()

	baseURL, perr := ux.PromptInput("Where is the assistant backend?", cfg.Assistant.BaseURL, validateBaseURL)
	if perr != nil {
		log.Fatalf("Error: %v", perr)
	}
	if baseURL != "" {
		cfg.Assistant.BaseURL = strings.TrimRight(baseURL, "/")
	}

	personality, perr := ux.SelectOption("How should counsel present answers?", []ux.PromptOption{
		{Label: "Full", Description: "colors, spinners, citations, tips", Value: string(ux.PersonalityFull), Recommended: true},
		{Label: "Standard", Description: "streaming text without decoration", Value: string(ux.PersonalityStandard)},
		{Label: "Minimal", Description: "answers only", Value: string(ux.PersonalityMinimal)},
		{Label: "Machine", Description: "KEY: value lines for scripts", Value: string(ux.PersonalityMachine)},
	})
	if perr != nil {
		log.Fatalf("Error: %v", perr)
	}
	cfg.Output.Personality = personality

	showCitations, perr := ux.Confirm("Show source citations after answers?", "", true)
	if perr != nil {
		log.Fatalf("Error: %v", perr)
	}
	cfg.Output.ShowCitations = showCitations

	logDir, perr := ux.PromptInput("Where should counsel write its logs?", cfg.Logging.Dir, nil)
	if perr != nil {
		log.Fatalf("Error: %v", perr)
	}
	if logDir != "" {
		cfg.Logging.Dir = logDir
	}

	if err := config.Save(cfg); err != nil {
		log.Fatalf("Failed to write %s: %v", path, err)
	}
	fmt.Printf("Wrote %s\n", path)

	probeCtx, probeCancel := context.WithTimeout(context.Background(), initProbeTimeout)
	defer probeCancel()
	probeErr := ux.WithSpinner(fmt.Sprintf("Checking the backend at %s", cfg.Assistant.BaseURL), func() error {
		_, herr := NewHistoryService(HistoryServiceConfig{BaseURL: cfg.Assistant.BaseURL}).CheckHealth(probeCtx)
		return herr
	})
	if probeErr != nil {
		fmt.Println("The backend is not answering yet. Start it, or try 'counsel simulate' for an offline stand-in.")
		return
	}

	fmt.Println("All set. Run 'counsel chat' to start a conversation.")
}

// validateBaseURL accepts an empty string (keep the default) or an
// absolute http(s) URL.
func validateBaseURL(s string) error {
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("the URL must start with http:// or https://")
	}
	if u.Host == "" {
		return fmt.Errorf("the URL needs a host, e.g. http://localhost:8000")
	}
	return nil
}
