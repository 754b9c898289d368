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
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/madhans476/family-law-assistant/pkg/api"
	"github.com/madhans476/family-law-assistant/pkg/ux"
)

func runStatusCommand(cmd *cobra.Command, args []string) {
	baseURL := getAssistantBaseURL()
	service := newHistoryService()

	ctx, cancel := context.WithTimeout(context.Background(), historyCommandTimeout)
	defer cancel()

	machine := ux.GetPersonality().Level == ux.PersonalityMachine

	start := time.Now()
	health, err := service.CheckHealth(ctx)
	latency := time.Since(start)

	if err != nil {
		if machine {
			fmt.Printf("BACKEND: %s\n", baseURL)
			fmt.Println("STATUS: unreachable")
			fmt.Printf("ERROR: %v\n", err)
			fmt.Println("DONE")
		} else {
			fmt.Printf("Backend:  %s\n", baseURL)
			fmt.Printf("Status:   unreachable (%v)\n", err)
			fmt.Println()
			fmt.Println("Start the assistant backend, or point counsel at it with 'counsel init' or COUNSEL_ASSISTANT_URL.")
		}
		os.Exit(1)
	}

	// Service info is decorative; health alone decides the exit code
	info, infoErr := service.GetServiceInfo(ctx)

	if machine {
		fmt.Printf("BACKEND: %s\n", baseURL)
		fmt.Printf("STATUS: %s\n", health.Status)
		fmt.Printf("VERSION: %s\n", health.Version)
		fmt.Printf("LATENCY_MS: %d\n", latency.Milliseconds())
		if infoErr == nil {
			fmt.Printf("SERVICE: %s\n", info.Name)
			for _, f := range info.Features {
				fmt.Printf("FEATURE: %s\n", f)
			}
		}
		fmt.Println("DONE")
	} else {
		fmt.Printf("Backend:  %s\n", baseURL)
		fmt.Printf("Status:   %s\n", health.Status)
		fmt.Printf("Version:  %s\n", health.Version)
		fmt.Printf("Latency:  %s\n", latency.Round(time.Millisecond))
		if infoErr == nil {
			fmt.Printf("Service:  %s\n", info.Name)
			if len(info.Features) > 0 {
				fmt.Printf("Features: %s\n", strings.Join(info.Features, ", "))
			}
		}
	}

	if health.Status != api.HealthStatusHealthy {
		os.Exit(1)
	}
}
