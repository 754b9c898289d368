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
	"fmt"
	"log"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/madhans476/family-law-assistant/pkg/api"
	"github.com/madhans476/family-law-assistant/pkg/ux"
)

// historyCommandTimeout bounds each history API call.
const historyCommandTimeout = 15 * time.Second

// clearConcurrency is how many deletions run at once during history clear.
const clearConcurrency = 4

func newHistoryService() HistoryService {
	return NewHistoryService(HistoryServiceConfig{
		BaseURL: getAssistantBaseURL(),
		Timeout: historyCommandTimeout,
	})
}

func runHistoryList(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), historyCommandTimeout)
	defer cancel()

	summaries, err := newHistoryService().ListConversations(ctx)
	if err != nil {
		log.Fatalf("Failed to list conversations: %v", err)
	}

	// Newest first, whatever order the backend returned
	slices.SortStableFunc(summaries, func(a, b api.ConversationSummary) int {
		ta, _ := a.LastModifiedTime()
		tb, _ := b.LastModifiedTime()
		return tb.Compare(ta)
	})

	if ux.GetPersonality().Level == ux.PersonalityMachine {
		for _, s := range summaries {
			fmt.Printf("CONVERSATION: %s messages=%d status=%s modified=%s\n",
				s.ConversationID, s.MessageCount, s.Status, s.LastModified)
		}
		fmt.Println("DONE")
		return
	}

	if len(summaries) == 0 {
		fmt.Println("No stored conversations. Start one with 'counsel chat'.")
		return
	}

	fmt.Printf("Stored conversations (%d):\n", len(summaries))
	fmt.Println(strings.Repeat("-", 66))
	for _, s := range summaries {
		modified := "unknown"
		if t, terr := s.LastModifiedTime(); terr == nil {
			modified = ux.FormatRelativeTime(t.UnixMilli())
		}
		fmt.Println(s.ConversationID)
		fmt.Printf("  %d messages | %s | %s\n", s.MessageCount, s.Status, modified)
		if s.UserIntent != "" {
			fmt.Printf("  %s\n", s.UserIntent)
		}
		fmt.Println()
	}
	fmt.Println("Resume one with 'counsel chat --resume <conversation_id>'.")
}

func runHistoryShow(cmd *cobra.Command, args []string) {
	conversationID := args[0]

	ctx, cancel := context.WithTimeout(context.Background(), historyCommandTimeout)
	defer cancel()

	history, err := newHistoryService().GetHistory(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			log.Fatalf("Conversation %q was not found. Run 'counsel history list' to see stored conversations.", conversationID)
		}
		log.Fatalf("Failed to fetch conversation %q: %v", conversationID, err)
	}

	if ux.GetPersonality().Level == ux.PersonalityMachine {
		fmt.Printf("CONVERSATION: %s\n", conversationID)
		for _, m := range history.Messages {
			fmt.Printf("%s: %s\n", machineRoleLabel(m.Role), m.Content)
		}
		fmt.Printf("STATUS: %s\n", history.State.Status())
		fmt.Println("DONE")
		return
	}

	updated := "unknown"
	if t, terr := history.LastUpdatedTime(); terr == nil {
		updated = ux.FormatRelativeTime(t.UnixMilli())
	}
	fmt.Printf("Conversation %s (%d messages, updated %s)\n", conversationID, len(history.Messages), updated)
	fmt.Println(strings.Repeat("-", 66))
	for _, m := range history.Messages {
		fmt.Printf("%s %s\n\n", displayRoleLabel(m.Role), m.Content)
	}

	fmt.Printf("Status: %s\n", history.State.Status())
	if history.State.InGatheringPhase && len(history.State.InfoNeededList) > 0 {
		fmt.Printf("Still needed: %s\n", strings.Join(history.State.InfoNeededList, ", "))
	}
}

func runHistoryDelete(cmd *cobra.Command, args []string) {
	conversationID := args[0]

	ctx, cancel := context.WithTimeout(context.Background(), historyCommandTimeout)
	defer cancel()

	if _, err := newHistoryService().DeleteConversation(ctx, conversationID); err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			log.Fatalf("Conversation %q was not found.", conversationID)
		}
		log.Fatalf("Failed to delete conversation %q: %v", conversationID, err)
	}

	if ux.GetPersonality().Level == ux.PersonalityMachine {
		fmt.Printf("DELETED: %s\n", conversationID)
		fmt.Println("DONE")
		return
	}
	fmt.Printf("Successfully deleted conversation: %s\n", conversationID)
}

func runHistoryClear(cmd *cobra.Command, args []string) {
	force, _ := cmd.Flags().GetBool("force")
	service := newHistoryService()

	listCtx, listCancel := context.WithTimeout(context.Background(), historyCommandTimeout)
	summaries, err := service.ListConversations(listCtx)
	listCancel()
	if err != nil {
		log.Fatalf("Failed to list conversations: %v", err)
	}
	if len(summaries) == 0 {
		fmt.Println("No stored conversations.")
		return
	}

	if !force {
		ok, cerr := ux.Confirm(
			fmt.Sprintf("Delete all %d stored conversations?", len(summaries)),
			"Deleted conversations cannot be recovered.",
			false,
		)
		if cerr != nil {
			log.Fatalf("Confirmation unavailable (%v); re-run with --force.", cerr)
		}
		if !ok {
			fmt.Println("Aborted.")
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	progress := ux.NewProgressSpinner("Deleting conversations", len(summaries))
	progress.Start()

	// Failures are recorded, not returned, so every conversation gets a
	// deletion attempt.
	var mu sync.Mutex
	var failed []string

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(clearConcurrency)
	for _, s := range summaries {
		id := s.ConversationID
		g.Go(func() error {
			if _, derr := service.DeleteConversation(gctx, id); derr != nil {
				mu.Lock()
				failed = append(failed, id)
				mu.Unlock()
				slog.Warn("failed to delete conversation", "conversation_id", id, "error", derr)
			}
			progress.Increment()
			return nil
		})
	}
	_ = g.Wait()

	deleted := len(summaries) - len(failed)
	if len(failed) > 0 {
		progress.StopWithWarning(fmt.Sprintf("Deleted %d of %d conversations (%d failed)", deleted, len(summaries), len(failed)))
		os.Exit(1)
	}
	progress.StopWithSuccess(fmt.Sprintf("Deleted %d conversations", deleted))
}

// displayRoleLabel maps a stored message role to its transcript label.
func displayRoleLabel(role string) string {
	switch role {
	case api.RoleHuman:
		return "You:"
	case api.RoleAI:
		return "Counsel:"
	case api.RoleSystem:
		return "System:"
	default:
		return role + ":"
	}
}

// machineRoleLabel maps a stored message role to a machine-output key.
func machineRoleLabel(role string) string {
	switch role {
	case api.RoleHuman:
		return "HUMAN"
	case api.RoleAI:
		return "AI"
	case api.RoleSystem:
		return "SYSTEM"
	default:
		return strings.ToUpper(role)
	}
}
