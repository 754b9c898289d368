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
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/madhans476/family-law-assistant/cmd/counsel/internal/simulator"
)

func runSimulateCommand(cmd *cobra.Command, args []string) {
	scenarioPath, _ := cmd.Flags().GetString("scenario")
	addr, _ := cmd.Flags().GetString("addr")

	srv, err := simulator.New(simulator.Config{
		Addr:         addr,
		ScenarioPath: scenarioPath,
		Debug:        debugMode,
	})
	if err != nil {
		log.Fatalf("Cannot start the simulator: %v", err)
	}

	fmt.Printf("Simulated assistant backend listening on %s\n", addr)
	fmt.Printf("Scenario: %s\n", srv.ScenarioName())
	if scenarioPath != "" {
		fmt.Printf("Watching %s for changes.\n", scenarioPath)
	}
	fmt.Println()
	fmt.Println("Point counsel at it from another terminal:")
	fmt.Printf("  COUNSEL_ASSISTANT_URL=%s counsel chat\n", simulatorURL(addr))
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := srv.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("Simulator error: %v", err)
	}
}

// simulatorURL turns a listen address into the URL clients should use.
func simulatorURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}
