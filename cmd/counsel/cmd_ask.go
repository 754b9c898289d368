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
	"time"

	"github.com/spf13/cobra"

	"github.com/madhans476/family-law-assistant/cmd/counsel/config"
	"github.com/madhans476/family-law-assistant/pkg/ux"
	"github.com/madhans476/family-law-assistant/pkg/validation"
)

func runAskCommand(cmd *cobra.Command, args []string) {
	question := strings.Join(args, " ")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	conversationID, _ := cmd.Flags().GetString("conversation")

	if conversationID != "" {
		if err := validation.ValidateConversationID(conversationID); err != nil {
			log.Fatalf("Error: %v", err)
		}
	}
	if timeout == 0 {
		timeout = time.Duration(config.Global.Assistant.TimeoutSeconds) * time.Second
	}

	tracer, metrics := newTurnDiagnostics()
	service := NewAssistantTurnService(AssistantTurnServiceConfig{
		BaseURL:        getAssistantBaseURL(),
		ConversationID: conversationID,
		Timeout:        timeout,
		Tracer:         tracer,
		Metrics:        metrics,
	})
	defer service.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	result, err := service.SendMessage(ctx, question)
	if err != nil {
		// Stream failures have already been rendered inline; only report
		// errors that never reached the renderer.
		if result == nil || result.Error == "" {
			ux.NewChatUI().Error(err)
		}
		os.Exit(1)
	}

	p := ux.GetPersonality()
	if p.ShowTips && p.Level == ux.PersonalityFull && conversationID == "" && result.ConversationID != "" {
		ux.NewChatUI().Tip(fmt.Sprintf("Continue this conversation: counsel chat --resume %s", result.ConversationID))
	}
}
