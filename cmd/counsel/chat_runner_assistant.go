// Copyright (C) 2026 Madhan S (github.com/madhans476)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package main contains the AssistantChatRunner implementation.
//
// This file implements the ChatRunner interface for the interactive
// consultation loop. It coordinates between the TurnService (streaming
// turns), ChatUI (session framing), and InputReader (user input).
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/madhans476/family-law-assistant/pkg/stream"
	"github.com/madhans476/family-law-assistant/pkg/ux"
)

// =============================================================================
// AssistantChatRunner Implementation
// =============================================================================

// AssistantChatRunner implements ChatRunner for the streaming consultation
// loop.
//
// # Description
//
// AssistantChatRunner manages the interactive chat loop. It coordinates
// between the turn service (HTTP streaming), the UI (headers, prompts,
// session summaries), and user input.
//
// The runner follows a single-responsibility pattern:
//   - Input reading is delegated to InputReader
//   - Turn execution is delegated to TurnService
//   - Session framing is delegated to ChatUI
//   - Answer rendering happens inside the turn service, live
//   - Runner only handles coordination and control flow
//
// # Fields
//
//   - service: TurnService running streaming turns (from turn_service.go)
//   - ui: ChatUI for session framing (from pkg/ux)
//   - input: InputReader for user input (injectable for testing)
//   - baseURL: Assistant base URL for display in the header
//   - initialConversationID: Conversation ID provided at creation (for resume)
//   - resumeMessageCount: Prior message count when resuming (0 otherwise)
//   - sessionStartTime: When the session started (for duration tracking)
//   - sessionStats: Accumulated statistics for the session summary
//   - uniqueSources: Set of unique statute titles cited across the session
//   - closed: Flag to ensure Close() is idempotent
//   - mu: Mutex protecting closed flag
//
// # Thread Safety
//
// The runner is not designed for concurrent Run() calls. Interrupt() and
// Close() are safe to call from other goroutines.
//
// # Limitations
//
//   - Single use: cannot restart after Run() completes
//   - Stdin reads cannot be interrupted mid-line (OS limitation)
//
// # Assumptions
//
//   - Service is properly initialized before Run() is called
//   - UI is ready for output (terminal is available)
//   - Context cancellation is set up by caller for graceful shutdown
type AssistantChatRunner struct {
	service               TurnService
	ui                    ux.ChatUI
	input                 InputReader
	baseURL               string
	initialConversationID string
	resumeMessageCount    int
	sessionStartTime      time.Time
	sessionStats          ux.SessionStats
	uniqueSources         map[string]bool
	closed                bool
	mu                    sync.Mutex
}

// AssistantChatRunnerConfig holds configuration for creating a chat runner.
type AssistantChatRunnerConfig struct {
	// BaseURL of the assistant backend, e.g. "http://localhost:8000".
	BaseURL string

	// ConversationID to resume. Empty starts a new conversation.
	ConversationID string

	// ResumeMessageCount is the number of prior messages in a resumed
	// conversation, shown in the resume banner. Zero for new sessions.
	ResumeMessageCount int

	// Timeout bounds each individual turn. Zero means no per-turn limit.
	Timeout time.Duration
}

// NewAssistantChatRunner creates a chat runner with production dependencies.
//
// # Description
//
// Creates a fully configured AssistantChatRunner for production use.
// Initializes the streaming turn service, terminal UI, and the
// interactive input reader (which degrades to stdin off-terminal).
//
// # Inputs
//
//   - config: AssistantChatRunnerConfig with baseURL, conversation ID, timeout
//
// # Outputs
//
//   - ChatRunner: Ready to run chat session (returns interface type)
//
// # Examples
//
//	runner := NewAssistantChatRunner(AssistantChatRunnerConfig{
//	    BaseURL:        "http://localhost:8000",
//	    ConversationID: "",  // New conversation
//	})
//	defer runner.Close()
//
//	ctx := context.Background()
//	if err := runner.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Limitations
//
//   - Creates real HTTP client and stdin reader (not for unit tests)
//   - Use NewAssistantChatRunnerWithDeps for testing
//
// # Assumptions
//
//   - BaseURL is valid and the assistant backend is reachable
//   - Terminal is available for UI output
func NewAssistantChatRunner(config AssistantChatRunnerConfig) ChatRunner {
	tracer, metrics := newTurnDiagnostics()
	service := NewAssistantTurnService(AssistantTurnServiceConfig{
		BaseURL:        config.BaseURL,
		ConversationID: config.ConversationID,
		Timeout:        config.Timeout,
		Tracer:         tracer,
		Metrics:        metrics,
	})

	ui := ux.NewChatUI()
	input := NewInteractiveInputReader(50) // Keep last 50 prompts in history

	return &AssistantChatRunner{
		service:               service,
		ui:                    ui,
		input:                 input,
		baseURL:               config.BaseURL,
		initialConversationID: config.ConversationID,
		resumeMessageCount:    config.ResumeMessageCount,
		uniqueSources:         make(map[string]bool),
		closed:                false,
	}
}

// NewAssistantChatRunnerWithDeps creates a chat runner with injected
// dependencies.
//
// # Description
//
// Creates an AssistantChatRunner with injected dependencies for testing.
// Allows mocking of service, UI, and input reader for unit tests.
//
// # Inputs
//
//   - service: TurnService implementation (real or mock)
//   - ui: ChatUI instance (can use NewChatUIWithWriter for testing)
//   - input: InputReader implementation (use MockInputReader for testing)
//
// # Outputs
//
//   - *AssistantChatRunner: Ready to run chat session (concrete type for tests)
//
// # Examples
//
//	mockService := &mockTurnService{
//	    sendMessageFunc: func(ctx context.Context, query string) (*ux.RenderResult, error) {
//	        return &ux.RenderResult{Answer: "You may qualify."}, nil
//	    },
//	}
//	mockInput := NewMockInputReader([]string{"what about custody?", "exit"})
//	var buf bytes.Buffer
//	ui := ux.NewChatUIWithWriter(&buf, ux.PersonalityMachine)
//
//	runner := NewAssistantChatRunnerWithDeps(mockService, ui, mockInput)
//	err := runner.Run(context.Background())
//
// # Limitations
//
//   - Caller is responsible for dependency lifecycle
//
// # Assumptions
//
//   - All dependencies are non-nil and properly initialized
func NewAssistantChatRunnerWithDeps(
	service TurnService,
	ui ux.ChatUI,
	input InputReader,
) *AssistantChatRunner {
	return &AssistantChatRunner{
		service:       service,
		ui:            ui,
		input:         input,
		uniqueSources: make(map[string]bool),
		closed:        false,
	}
}

// Run executes the interactive consultation loop.
//
// # Description
//
// Runs the main chat loop. The loop:
//  1. Displays the session header (and resume banner when resuming)
//  2. Prompts for user input
//  3. Checks for exit commands ("exit", "quit")
//  4. Sends the message through the turn service; the answer streams
//     to the terminal as it arrives
//  5. Repeats until exit, EOF, or context cancellation
//
// Graceful shutdown:
//   - On context cancellation, notes the conversation ID and returns
//   - In-flight turns are given 5 seconds to wind down
//   - Conversation ID is logged for potential resume
//
// # Inputs
//
//   - ctx: Context for cancellation. Cancel to trigger graceful shutdown.
//
// # Outputs
//
//   - error: nil on normal exit ("exit"/"quit"/EOF), context.Canceled on
//     shutdown, or error if input reading fails
//
// # Examples
//
//	runner := NewAssistantChatRunner(config)
//	defer runner.Close()
//
//	// Two-stage interrupt: first Ctrl-C cancels the turn, second the session
//	ctx, cancel := context.WithCancel(context.Background())
//	go func() {
//	    sigCh := make(chan os.Signal, 1)
//	    signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
//	    <-sigCh
//	    runner.Interrupt()
//	    <-sigCh
//	    cancel()
//	}()
//	err := runner.Run(ctx)
//
// # Limitations
//
//   - Blocks until exit condition
//   - Stdin reads cannot be interrupted mid-line
//   - Runner cannot be reused after Run() returns
//
// # Assumptions
//
//   - Service is ready to send turns
//   - Input source provides newline-terminated lines
func (r *AssistantChatRunner) Run(ctx context.Context) error {
	// Record session start time for duration tracking
	r.sessionStartTime = time.Now()

	// Display header with backend and conversation info
	r.ui.Header(ux.HeaderConfig{
		ConversationID: r.initialConversationID,
		BaseURL:        r.baseURL,
	})

	// Resumed sessions show how much history the assistant already holds
	if r.initialConversationID != "" {
		r.ui.SessionResume(r.initialConversationID, r.resumeMessageCount)
	}

	if ux.GetPersonality().ShowTips {
		r.ui.Tip("Press Ctrl+C once to interrupt a long answer, twice to quit.")
	}

	// Main chat loop
	for {
		// Check for context cancellation before blocking on input
		select {
		case <-ctx.Done():
			return r.handleShutdown(ctx)
		default:
			// Continue to read input
		}

		// Display prompt and read input
		// If the reader handles prompts (interactive mode), set it; otherwise print manually
		if p, ok := r.input.(PromptingInputReader); ok {
			p.SetPrompt(r.ui.Prompt())
		} else {
			fmt.Print(r.ui.Prompt())
		}
		input, err := r.input.ReadLine()
		if err != nil {
			if err == io.EOF {
				// Input exhausted (e.g., piped input ended)
				r.displaySessionEndWithStats()
				return nil
			}
			slog.Error("failed to read input", "error", err)
			return fmt.Errorf("read input: %w", err)
		}

		// Skip empty input
		if input == "" {
			continue
		}

		// Echo the user's input for interactive readers
		// Bubbletea clears its rendering area on exit, so we restore the visual line
		if _, isInteractive := r.input.(*InteractiveInputReader); isInteractive {
			fmt.Printf("%s%s\n", r.ui.Prompt(), input)
		}

		// Check for exit command
		if isExitCommand(input) {
			r.displaySessionEndWithStats()
			return nil
		}

		// Process the message
		if err := r.handleMessage(ctx, input); err != nil {
			// Check if the error is due to session cancellation
			if ctx.Err() != nil {
				return r.handleShutdown(ctx)
			}
			// Non-fatal: the turn failed but the session continues.
			// handleMessage has already reported the failure.
			continue
		}
	}
}

// Interrupt cancels the in-flight turn without ending the session.
//
// # Description
//
// Delegates to the turn service, which cancels only the context of the
// turn currently streaming. The chat loop sees the turn end with a
// cancellation and prompts again. Safe to call when no turn is running.
//
// # Inputs
//
// None.
//
// # Outputs
//
// None.
func (r *AssistantChatRunner) Interrupt() {
	r.service.Interrupt()
}

// handleMessage processes a single user message.
//
// # Description
//
// Sends the message through the streaming turn service. The answer is
// rendered in real-time as update events arrive, so no spinner is
// needed. Accumulates statistics from the result for the session
// summary.
//
// Failures that occur after the stream opens (backend errors, transport
// drops, timeouts, interrupted turns) are rendered inline by the turn's
// renderer; only failures before any rendering happened are reported
// through the UI here.
//
// # Inputs
//
//   - ctx: Context for cancellation
//   - message: User's input message
//
// # Outputs
//
//   - error: Non-nil if the turn failed
//
// # Assumptions
//
//   - Message is non-empty (caller validates)
func (r *AssistantChatRunner) handleMessage(ctx context.Context, message string) error {
	// Streaming service renders the answer in real-time via TurnRenderer
	result, err := r.service.SendMessage(ctx, message)
	if err != nil {
		if result == nil || result.Error == "" {
			// Nothing reached the renderer; report here
			r.ui.Error(err)
		}
		return err
	}

	// Accumulate session statistics from this turn
	r.accumulateStats(result)

	// Answer and citations already displayed during streaming
	fmt.Println()

	return nil
}

// accumulateStats updates session statistics from a completed turn.
//
// # Description
//
// Aggregates metrics from a single turn into the session totals.
// Called after each successful turn for the session summary.
//
// # Inputs
//
//   - result: Render result from the turn
//
// # Outputs
//
// None. Updates r.sessionStats and r.uniqueSources in place.
//
// # Limitations
//
//   - Sources are deduplicated by title only
//
// # Assumptions
//
//   - Result is non-nil (caller validates)
func (r *AssistantChatRunner) accumulateStats(result *ux.RenderResult) {
	r.sessionStats.TurnCount++
	r.sessionStats.TokenEvents += result.UpdateCount

	// Track unique cited statutes
	for _, src := range result.Sources {
		r.uniqueSources[src.Title] = true
	}
	r.sessionStats.SourcesCited = len(r.uniqueSources)

	// Clarifying turns ask the user a question instead of answering
	if result.MessageType == stream.MessageTypeClarification ||
		result.MessageType == stream.MessageTypeInformationGathering {
		r.sessionStats.Clarifications++
	}

	// Track first response latency (only for the first turn)
	if r.sessionStats.TurnCount == 1 {
		r.sessionStats.FirstTurnLatency = result.TimeToFirstUpdate()
	}
}

// displaySessionEndWithStats displays session end with accumulated statistics.
//
// # Description
//
// Finalizes session statistics and displays the rich session end
// summary. Calculates session duration from start time.
//
// # Inputs
//
// None. Uses r.sessionStartTime, r.sessionStats, and the service's
// conversation ID.
//
// # Outputs
//
// None. Writes to UI.
//
// # Limitations
//
//   - Duration is approximate (wall clock time)
//
// # Assumptions
//
//   - Session start time was recorded
func (r *AssistantChatRunner) displaySessionEndWithStats() {
	// Finalize duration
	r.sessionStats.Duration = time.Since(r.sessionStartTime)

	// Display rich session end
	r.ui.SessionEndRich(r.service.GetConversationID(), &r.sessionStats)
}

// handleShutdown performs graceful shutdown.
//
// # Description
//
// Called when context is cancelled. Performs cleanup:
//  1. Logs shutdown initiation
//  2. Notes the conversation ID for resume (best effort)
//  3. Displays session end message with statistics
//  4. Returns context error
//
// # Inputs
//
//   - ctx: The cancelled context
//
// # Outputs
//
//   - error: The context's error (typically context.Canceled)
//
// # Limitations
//
//   - State save is best-effort (may timeout)
//
// # Assumptions
//
//   - Context is already cancelled
func (r *AssistantChatRunner) handleShutdown(ctx context.Context) error {
	slog.Info("graceful shutdown initiated",
		"conversation_id", r.service.GetConversationID(),
	)

	// Create a timeout context for shutdown operations
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Save conversation state (best effort)
	if err := r.saveConversationState(shutdownCtx); err != nil {
		slog.Warn("failed to save conversation state during shutdown",
			"error", err,
		)
	}

	// Display session end with statistics
	fmt.Println() // New line after interrupted input
	r.displaySessionEndWithStats()

	return ctx.Err()
}

// saveConversationState records the conversation state before shutdown.
//
// # Description
//
// Called during graceful shutdown to preserve conversation data.
// Currently logs the conversation ID for potential resume. The backend
// persists the history after each turn, so nothing is written locally.
//
// # Inputs
//
//   - ctx: Context with timeout for save operation
//
// # Outputs
//
//   - error: Non-nil if save failed (currently always nil)
//
// # Limitations
//
//   - Currently only logs the conversation ID
//
// # Assumptions
//
//   - Conversation history already persisted server-side
func (r *AssistantChatRunner) saveConversationState(_ context.Context) error {
	conversationID := r.service.GetConversationID()
	if conversationID != "" {
		slog.Info("conversation state preserved",
			"conversation_id", conversationID,
			"note", "conversation can be resumed with --resume flag",
		)
	}
	// Server-side storage already handles persistence
	return nil
}

// Close releases all resources held by the runner.
//
// # Description
//
// Closes the underlying turn service and marks the runner as closed.
// Safe to call multiple times (idempotent).
// Should be called after Run() returns, typically via defer.
//
// # Inputs
//
// None.
//
// # Outputs
//
//   - error: Non-nil if service Close() failed
//
// # Examples
//
//	runner := NewAssistantChatRunner(config)
//	defer runner.Close()  // Always close, even on error
//	err := runner.Run(ctx)
//
// # Limitations
//
//   - Does not interrupt Run() if still executing
//
// # Assumptions
//
//   - Run() has returned (or was never called)
func (r *AssistantChatRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil // Already closed, idempotent
	}

	r.closed = true
	return r.service.Close()
}

// Compile-time check that AssistantChatRunner satisfies ChatRunner.
var _ ChatRunner = (*AssistantChatRunner)(nil)
