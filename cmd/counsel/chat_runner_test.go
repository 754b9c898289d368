// Copyright (C) 2026 Madhan S (github.com/madhans476)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/madhans476/family-law-assistant/pkg/stream"
	"github.com/madhans476/family-law-assistant/pkg/ux"
)

// =============================================================================
// Mock Implementations
// =============================================================================

// mockTurnService implements TurnService for testing.
//
// Allows configuring responses and tracking calls for verification.
type mockTurnService struct {
	sendMessageFunc func(ctx context.Context, query string) (*ux.RenderResult, error)
	conversationID  string
	closeErr        error
	closed          bool
	interrupted     bool
	messagesSent    []string
}

func (m *mockTurnService) SendMessage(ctx context.Context, query string) (*ux.RenderResult, error) {
	m.messagesSent = append(m.messagesSent, query)
	if m.sendMessageFunc != nil {
		return m.sendMessageFunc(ctx, query)
	}
	return &ux.RenderResult{
		Answer:         "Mock answer",
		ConversationID: m.conversationID,
		MessageType:    stream.MessageTypeFinalResponse,
		Phase:          stream.PhaseCompleted,
	}, nil
}

func (m *mockTurnService) GetConversationID() string {
	return m.conversationID
}

func (m *mockTurnService) Interrupt() {
	m.interrupted = true
}

func (m *mockTurnService) Close() error {
	m.closed = true
	return m.closeErr
}

// =============================================================================
// InputReader Tests
// =============================================================================

func TestStdinReader_ReadLine(t *testing.T) {
	// StdinReader wraps os.Stdin which we can't easily mock
	// This test verifies the type implements the interface
	var _ InputReader = &StdinReader{}
}

func TestMockInputReader_ReadLine_ReturnsInputsInOrder(t *testing.T) {
	inputs := []string{"first", "second", "third"}
	reader := NewMockInputReader(inputs)

	for i, expected := range inputs {
		got, err := reader.ReadLine()
		if err != nil {
			t.Fatalf("ReadLine() %d: unexpected error: %v", i, err)
		}
		if got != expected {
			t.Errorf("ReadLine() %d: got %q, want %q", i, got, expected)
		}
	}
}

func TestMockInputReader_ReadLine_ReturnsEOFWhenExhausted(t *testing.T) {
	reader := NewMockInputReader([]string{"only"})

	// First read succeeds
	_, err := reader.ReadLine()
	if err != nil {
		t.Fatalf("first ReadLine(): unexpected error: %v", err)
	}

	// Second read returns EOF
	_, err = reader.ReadLine()
	if err != io.EOF {
		t.Errorf("second ReadLine(): got error %v, want io.EOF", err)
	}
}

func TestMockInputReader_ReadLine_EmptyInputs(t *testing.T) {
	reader := NewMockInputReader([]string{})

	_, err := reader.ReadLine()
	if err != io.EOF {
		t.Errorf("ReadLine() on empty: got error %v, want io.EOF", err)
	}
}

// =============================================================================
// isExitCommand Tests
// =============================================================================

func TestIsExitCommand(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"exit", true},
		{"quit", true},
		{"EXIT", false}, // Case-sensitive
		{"QUIT", false},
		{"Exit", false},
		{"hello", false},
		{"", false},
		{"exit please", false},
		{"please exit", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := isExitCommand(tt.input)
			if got != tt.want {
				t.Errorf("isExitCommand(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// =============================================================================
// AssistantChatRunner Tests
// =============================================================================

func TestAssistantChatRunner_Run_ExitCommand(t *testing.T) {
	mockService := &mockTurnService{conversationID: "conv-123"}
	mockInput := NewMockInputReader([]string{"exit"})
	var buf bytes.Buffer
	ui := ux.NewChatUIWithWriter(&buf, ux.PersonalityStandard)

	runner := NewAssistantChatRunnerWithDeps(mockService, ui, mockInput)

	err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	// Verify no messages were sent (exit before any message)
	if len(mockService.messagesSent) != 0 {
		t.Errorf("expected 0 messages sent, got %d", len(mockService.messagesSent))
	}
}

func TestAssistantChatRunner_Run_QuitCommand(t *testing.T) {
	mockService := &mockTurnService{conversationID: "conv-456"}
	mockInput := NewMockInputReader([]string{"quit"})
	var buf bytes.Buffer
	ui := ux.NewChatUIWithWriter(&buf, ux.PersonalityStandard)

	runner := NewAssistantChatRunnerWithDeps(mockService, ui, mockInput)

	err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
}

func TestAssistantChatRunner_Run_SendsMessage(t *testing.T) {
	mockService := &mockTurnService{
		conversationID: "conv-789",
		sendMessageFunc: func(ctx context.Context, query string) (*ux.RenderResult, error) {
			return &ux.RenderResult{
				Answer:         "Spousal support depends on several factors.",
				ConversationID: "conv-789",
				MessageType:    stream.MessageTypeFinalResponse,
				Phase:          stream.PhaseCompleted,
				UpdateCount:    7,
			}, nil
		},
	}
	mockInput := NewMockInputReader([]string{"what is alimony?", "exit"})
	var buf bytes.Buffer
	ui := ux.NewChatUIWithWriter(&buf, ux.PersonalityMachine)

	runner := NewAssistantChatRunnerWithDeps(mockService, ui, mockInput)

	err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	// Verify message was sent
	if len(mockService.messagesSent) != 1 {
		t.Fatalf("expected 1 message sent, got %d", len(mockService.messagesSent))
	}
	if mockService.messagesSent[0] != "what is alimony?" {
		t.Errorf("message sent = %q, want %q", mockService.messagesSent[0], "what is alimony?")
	}

	// Session end carries the accumulated turn count
	output := buf.String()
	if !strings.Contains(output, "turns=1") {
		t.Errorf("output missing turn count, got: %s", output)
	}
	if !strings.Contains(output, "tokens=7") {
		t.Errorf("output missing token count, got: %s", output)
	}
}

func TestAssistantChatRunner_Run_SkipsEmptyInput(t *testing.T) {
	mockService := &mockTurnService{conversationID: "conv-empty"}
	mockInput := NewMockInputReader([]string{"", "", "exit"})
	var buf bytes.Buffer
	ui := ux.NewChatUIWithWriter(&buf, ux.PersonalityStandard)

	runner := NewAssistantChatRunnerWithDeps(mockService, ui, mockInput)

	err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	// Verify no messages were sent (all empty, then exit)
	if len(mockService.messagesSent) != 0 {
		t.Errorf("expected 0 messages sent, got %d", len(mockService.messagesSent))
	}
}

func TestAssistantChatRunner_Run_ServiceError_ContinuesLoop(t *testing.T) {
	callCount := 0
	mockService := &mockTurnService{
		conversationID: "conv-err",
		sendMessageFunc: func(ctx context.Context, query string) (*ux.RenderResult, error) {
			callCount++
			if callCount == 1 {
				return nil, errors.New("temporary error")
			}
			return &ux.RenderResult{
				Answer:      "Success!",
				MessageType: stream.MessageTypeFinalResponse,
				Phase:       stream.PhaseCompleted,
			}, nil
		},
	}
	mockInput := NewMockInputReader([]string{"first", "second", "exit"})
	var buf bytes.Buffer
	ui := ux.NewChatUIWithWriter(&buf, ux.PersonalityMachine)

	runner := NewAssistantChatRunnerWithDeps(mockService, ui, mockInput)

	err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	// Verify both messages were attempted
	if len(mockService.messagesSent) != 2 {
		t.Errorf("expected 2 messages sent, got %d", len(mockService.messagesSent))
	}

	// A failure with no rendered output is reported through the UI
	if !strings.Contains(buf.String(), "CHAT_ERROR: temporary error") {
		t.Errorf("output missing error report, got: %s", buf.String())
	}
}

func TestAssistantChatRunner_Run_RenderedErrorNotRepeated(t *testing.T) {
	mockService := &mockTurnService{
		conversationID: "conv-rendered",
		sendMessageFunc: func(ctx context.Context, query string) (*ux.RenderResult, error) {
			// A result with a non-empty Error means the turn's renderer
			// already displayed the failure inline
			return &ux.RenderResult{
				Phase: stream.PhaseErrored,
				Error: "the assistant reported a problem",
			}, errors.New("assistant error: the assistant reported a problem")
		},
	}
	mockInput := NewMockInputReader([]string{"question", "exit"})
	var buf bytes.Buffer
	ui := ux.NewChatUIWithWriter(&buf, ux.PersonalityMachine)

	runner := NewAssistantChatRunnerWithDeps(mockService, ui, mockInput)

	err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	if strings.Contains(buf.String(), "CHAT_ERROR") {
		t.Errorf("error was reported twice, got: %s", buf.String())
	}
}

func TestAssistantChatRunner_Run_ContextCancellation(t *testing.T) {
	// Note: Context cancellation is difficult to test with synchronous MockInputReader
	// because all inputs are processed before the cancel goroutine fires.
	// This test verifies that pre-cancelled context returns immediately.
	mockService := &mockTurnService{conversationID: "conv-cancel"}
	mockInput := NewMockInputReader([]string{"msg1", "msg2"})
	var buf bytes.Buffer
	ui := ux.NewChatUIWithWriter(&buf, ux.PersonalityStandard)

	runner := NewAssistantChatRunnerWithDeps(mockService, ui, mockInput)

	// Pre-cancel the context
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := runner.Run(ctx)

	// Should return context.Canceled immediately
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}

	// No message should have been sent
	if len(mockService.messagesSent) != 0 {
		t.Errorf("expected 0 messages sent, got %d", len(mockService.messagesSent))
	}
}

func TestAssistantChatRunner_Run_EOFExitsGracefully(t *testing.T) {
	mockService := &mockTurnService{conversationID: "conv-eof"}
	// No exit command, just EOF after messages
	mockInput := NewMockInputReader([]string{"hello"})
	var buf bytes.Buffer
	ui := ux.NewChatUIWithWriter(&buf, ux.PersonalityStandard)

	runner := NewAssistantChatRunnerWithDeps(mockService, ui, mockInput)

	err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	// Verify message was sent before EOF
	if len(mockService.messagesSent) != 1 {
		t.Errorf("expected 1 message sent, got %d", len(mockService.messagesSent))
	}
}

func TestAssistantChatRunner_Run_ResumeBanner(t *testing.T) {
	mockService := &mockTurnService{conversationID: "conv-resume"}
	mockInput := NewMockInputReader([]string{"exit"})
	var buf bytes.Buffer
	ui := ux.NewChatUIWithWriter(&buf, ux.PersonalityMachine)

	runner := NewAssistantChatRunnerWithDeps(mockService, ui, mockInput)
	runner.initialConversationID = "conv-resume"
	runner.resumeMessageCount = 4

	err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "SESSION_RESUME: conversation=conv-resume messages=4") {
		t.Errorf("output missing resume banner, got: %s", output)
	}
}

func TestAssistantChatRunner_TracksSessionStats(t *testing.T) {
	turn := 0
	mockService := &mockTurnService{
		conversationID: "conv-stats",
		sendMessageFunc: func(ctx context.Context, query string) (*ux.RenderResult, error) {
			turn++
			if turn == 1 {
				// Clarifying turn: the assistant asks a question
				return &ux.RenderResult{
					Answer:      "How long were you married?",
					MessageType: stream.MessageTypeInformationGathering,
					Phase:       stream.PhaseCompleted,
					UpdateCount: 3,
				}, nil
			}
			return &ux.RenderResult{
				Answer:      "Final answer",
				MessageType: stream.MessageTypeFinalResponse,
				Phase:       stream.PhaseCompleted,
				UpdateCount: 5,
				Sources: []stream.Source{
					{Title: "Family Code Section 4320", Category: "statute"},
					{Title: "Family Code Section 4336", Category: "statute"},
					{Title: "Family Code Section 4320", Category: "statute"}, // Duplicate
				},
			}, nil
		},
	}
	mockInput := NewMockInputReader([]string{"tell me about alimony", "10 years", "exit"})
	var buf bytes.Buffer
	ui := ux.NewChatUIWithWriter(&buf, ux.PersonalityMachine)

	runner := NewAssistantChatRunnerWithDeps(mockService, ui, mockInput)

	err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	if runner.sessionStats.TurnCount != 2 {
		t.Errorf("TurnCount = %d, want 2", runner.sessionStats.TurnCount)
	}
	if runner.sessionStats.TokenEvents != 8 {
		t.Errorf("TokenEvents = %d, want 8", runner.sessionStats.TokenEvents)
	}
	if runner.sessionStats.SourcesCited != 2 {
		t.Errorf("SourcesCited = %d, want 2 (unique titles)", runner.sessionStats.SourcesCited)
	}
	if runner.sessionStats.Clarifications != 1 {
		t.Errorf("Clarifications = %d, want 1", runner.sessionStats.Clarifications)
	}
}

func TestAssistantChatRunner_Interrupt_DelegatesToService(t *testing.T) {
	mockService := &mockTurnService{conversationID: "conv-int"}
	mockInput := NewMockInputReader([]string{})
	var buf bytes.Buffer
	ui := ux.NewChatUIWithWriter(&buf, ux.PersonalityStandard)

	runner := NewAssistantChatRunnerWithDeps(mockService, ui, mockInput)
	runner.Interrupt()

	if !mockService.interrupted {
		t.Error("expected Interrupt() to reach the service")
	}
}

func TestAssistantChatRunner_Close_Idempotent(t *testing.T) {
	mockService := &mockTurnService{conversationID: "conv-close"}
	mockInput := NewMockInputReader([]string{})
	var buf bytes.Buffer
	ui := ux.NewChatUIWithWriter(&buf, ux.PersonalityStandard)

	runner := NewAssistantChatRunnerWithDeps(mockService, ui, mockInput)

	// Close multiple times
	err1 := runner.Close()
	err2 := runner.Close()
	err3 := runner.Close()

	if err1 != nil || err2 != nil || err3 != nil {
		t.Errorf("Close() should succeed multiple times: %v, %v, %v", err1, err2, err3)
	}

	// Verify service was closed
	if !mockService.closed {
		t.Error("expected service to be closed")
	}
}
