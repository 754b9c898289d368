// Copyright (C) 2026 Madhan S (github.com/madhans476)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/madhans476/family-law-assistant/cmd/counsel/config"
)

// sigintDoubleTapWindow is how quickly a second Ctrl-C must follow the
// first to end the session instead of interrupting the in-flight answer.
const sigintDoubleTapWindow = 2 * time.Second

func runChatCommand(cmd *cobra.Command, args []string) {
	baseURL := getAssistantBaseURL()
	resumeID, _ := cmd.Flags().GetString("resume")

	// Confirm a resumed conversation exists before starting the session,
	// and pick up its message count for the resume banner.
	resumeMessageCount := 0
	if resumeID != "" {
		history := NewHistoryService(HistoryServiceConfig{BaseURL: baseURL})
		lookupCtx, lookupCancel := context.WithTimeout(context.Background(), 10*time.Second)
		h, err := history.GetHistory(lookupCtx, resumeID)
		lookupCancel()
		if err != nil {
			if errors.Is(err, ErrConversationNotFound) {
				log.Fatalf("Conversation %q was not found. Run 'counsel history list' to see stored conversations.", resumeID)
			}
			log.Fatalf("Cannot resume conversation %q: %v", resumeID, err)
		}
		resumeMessageCount = len(h.Messages)
	}

	runner := NewAssistantChatRunner(AssistantChatRunnerConfig{
		BaseURL:            baseURL,
		ConversationID:     resumeID,
		ResumeMessageCount: resumeMessageCount,
		Timeout:            time.Duration(config.Global.Assistant.TimeoutSeconds) * time.Second,
	})
	defer runner.Close()

	// Set up graceful shutdown with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		var lastInterrupt time.Time
		for sig := range sigCh {
			// One Ctrl-C cancels the in-flight answer and keeps the
			// session alive. A quick second Ctrl-C, or SIGTERM, ends it.
			if sig == syscall.SIGTERM || time.Since(lastInterrupt) < sigintDoubleTapWindow {
				cancel()
				return
			}
			lastInterrupt = time.Now()
			runner.Interrupt()
		}
	}()

	// Run the chat loop
	if err := runner.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("Chat error: %v", err)
	}
}
