// Copyright (C) 2026 Madhan S (github.com/madhans476)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package main contains the TurnService implementation.
//
// TurnService is the seam between the chat loop and the streaming stack:
// one SendMessage call runs one assistant turn end to end (POST, stream,
// render) through pkg/stream and pkg/ux, threading the conversation ID
// across turns and recording diagnostics for each.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/madhans476/family-law-assistant/cmd/counsel/internal/diagnostics"
	"github.com/madhans476/family-law-assistant/pkg/stream"
	"github.com/madhans476/family-law-assistant/pkg/ux"
	"github.com/madhans476/family-law-assistant/pkg/validation"
)

// =============================================================================
// TurnService Interface
// =============================================================================

// TurnService runs assistant turns for a chat session.
//
// # Description
//
// SendMessage blocks for the whole turn; the answer is rendered
// incrementally while it runs, so the returned result is for bookkeeping
// (stats, exit codes), not display. The service remembers the
// conversation ID the backend assigns, so consecutive calls form one
// conversation.
//
// # Thread Safety
//
// One turn runs at a time: SendMessage rejects a call made while another
// turn is in flight with ErrTurnInFlight. GetConversationID, Interrupt,
// and Close may be called from any goroutine.
type TurnService interface {
	// SendMessage runs one turn for the given query. The returned result
	// is populated even when err is non-nil, as far as the turn got.
	// Returns ErrTurnInFlight when a previous turn has not finished.
	SendMessage(ctx context.Context, query string) (*ux.RenderResult, error)

	// GetConversationID returns the current conversation ID, or empty
	// before the first completed turn of a new conversation.
	GetConversationID() string

	// Interrupt cancels the in-flight turn, if any. A no-op between
	// turns. The session survives; the next SendMessage starts fresh.
	Interrupt()

	// Close releases resources held by the service.
	Close() error
}

// ErrTurnInFlight is returned by SendMessage when a turn is already
// running on this service. Callers must wait for the running turn or
// Interrupt it first.
var ErrTurnInFlight = errors.New("a turn is already in flight for this conversation")

// =============================================================================
// Configuration
// =============================================================================

// AssistantTurnServiceConfig configures NewAssistantTurnService. Only
// BaseURL is required.
type AssistantTurnServiceConfig struct {
	// BaseURL of the assistant backend, without trailing slash (required).
	BaseURL string

	// ConversationID resumes a stored conversation when set.
	ConversationID string

	// Timeout bounds each turn. Zero means no per-turn deadline; the
	// stream runs until a terminal event or cancellation.
	Timeout time.Duration

	// Writer receives rendered output. Defaults to os.Stdout.
	Writer io.Writer

	// Personality controls rendering. Defaults to ux.GetPersonality().
	Personality ux.Personality

	// Tracer records one span per turn. Defaults to the NoOp tier.
	Tracer diagnostics.TurnTracer

	// Metrics records turn counters. Defaults to the in-memory tier.
	Metrics diagnostics.TurnMetrics
}

// =============================================================================
// Implementation
// =============================================================================

// assistantTurnService implements TurnService over the /chat/stream
// endpoint.
//
// The conversation ID starts from the config (resume) or empty (new) and
// is replaced by whatever ID the backend's completion event carries, so
// the thread follows the server's assignment. turnCancel holds the
// in-flight turn's cancel function for Interrupt.
type assistantTurnService struct {
	baseURL     string
	client      stream.HTTPClient
	timeout     time.Duration
	newRenderer func() ux.TurnRenderer
	tracer      diagnostics.TurnTracer
	metrics     diagnostics.TurnMetrics

	mu             sync.Mutex
	conversationID string
	turnCancel     context.CancelFunc
}

// =============================================================================
// Constructors
// =============================================================================

// NewAssistantTurnService creates a turn service with production
// dependencies: a fresh terminal renderer per turn, writing to the
// configured writer.
func NewAssistantTurnService(config AssistantTurnServiceConfig) TurnService {
	writer := config.Writer
	if writer == nil {
		writer = os.Stdout
	}

	personality := config.Personality
	if personality == (ux.Personality{}) {
		personality = ux.GetPersonality()
	}

	tracer := config.Tracer
	if tracer == nil {
		tracer = diagnostics.NewNoOpTurnTracer("counsel")
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = diagnostics.NewNoOpTurnMetrics()
	}

	return &assistantTurnService{
		baseURL: config.BaseURL,
		timeout: config.Timeout,
		newRenderer: func() ux.TurnRenderer {
			return ux.NewTerminalTurnRenderer(writer, personality)
		},
		tracer:         tracer,
		metrics:        metrics,
		conversationID: config.ConversationID,
	}
}

// NewAssistantTurnServiceWithDeps creates a turn service with an injected
// HTTP client and renderer factory, for tests.
func NewAssistantTurnServiceWithDeps(
	client stream.HTTPClient,
	newRenderer func() ux.TurnRenderer,
	config AssistantTurnServiceConfig,
) *assistantTurnService {
	tracer := config.Tracer
	if tracer == nil {
		tracer = diagnostics.NewNoOpTurnTracer("counsel")
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = diagnostics.NewNoOpTurnMetrics()
	}

	return &assistantTurnService{
		baseURL:        config.BaseURL,
		client:         client,
		timeout:        config.Timeout,
		newRenderer:    newRenderer,
		tracer:         tracer,
		metrics:        metrics,
		conversationID: config.ConversationID,
	}
}

// =============================================================================
// TurnService Methods
// =============================================================================

// SendMessage runs one turn: opens the stream, renders updates as they
// arrive, and returns the aggregated result.
func (s *assistantTurnService) SendMessage(ctx context.Context, query string) (*ux.RenderResult, error) {
	query, err := validation.SanitizeQuery(query)
	if err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}

	conversationID := s.GetConversationID()

	// Bound the turn when a per-turn deadline is configured, and keep the
	// cancel function reachable for Interrupt either way
	var cancel context.CancelFunc
	if s.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	if !s.beginTurn(cancel) {
		cancel()
		return nil, ErrTurnInFlight
	}
	defer func() {
		s.endTurn()
		cancel()
	}()

	ctx, finish := s.tracer.StartSpan(ctx, "counsel.turn", map[string]string{
		"conversation_id": conversationID,
	})

	slog.Debug("sending turn",
		"conversation_id", conversationID,
		"trace_id", s.tracer.GetTraceID(ctx),
		"query_length", len(query),
	)

	renderer := s.newRenderer()
	result, err := ux.RunTurn(ctx, stream.SessionConfig{
		BaseURL: s.baseURL,
		Client:  s.client,
	}, stream.Request{
		Query:          query,
		ConversationID: conversationID,
	}, renderer)
	finish(err)

	if result != nil {
		s.metrics.RecordTurn(result.MessageType, string(result.Phase),
			result.Duration().Milliseconds(), result.UpdateCount)
		if result.FirstUpdateAt != 0 {
			s.metrics.RecordFirstUpdate(result.TimeToFirstUpdate().Milliseconds())
		}
	}

	if err != nil {
		s.metrics.RecordError(classifyTurnError(err))
		return result, err
	}

	s.updateConversationID(result.ConversationID)

	return result, nil
}

// GetConversationID returns the current conversation ID.
func (s *assistantTurnService) GetConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Interrupt cancels the in-flight turn, if any.
func (s *assistantTurnService) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.turnCancel != nil {
		slog.Debug("interrupting in-flight turn", "conversation_id", s.conversationID)
		s.turnCancel()
	}
}

// Close flushes pending diagnostics. The plain HTTP client holds no
// resources of its own.
func (s *assistantTurnService) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.tracer.Shutdown(ctx)
}

// beginTurn claims the single turn slot and publishes the cancel
// function for Interrupt. It fails when a turn is already in flight.
func (s *assistantTurnService) beginTurn(cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.turnCancel != nil {
		return false
	}
	s.turnCancel = cancel
	return true
}

// endTurn releases the turn slot.
func (s *assistantTurnService) endTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnCancel = nil
}

// updateConversationID adopts the backend-assigned conversation ID.
func (s *assistantTurnService) updateConversationID(id string) {
	if id == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id != s.conversationID {
		slog.Debug("conversation established",
			"old_conversation_id", s.conversationID,
			"new_conversation_id", id,
		)
		s.conversationID = id
	}
}

// =============================================================================
// Helpers
// =============================================================================

// classifyTurnError maps a turn error to a metrics label.
func classifyTurnError(err error) string {
	var backendErr *stream.BackendError
	var transportErr *stream.TransportError
	var decodeErr *stream.DecodeError

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.As(err, &backendErr):
		return "backend"
	case errors.As(err, &transportErr):
		return "transport"
	case errors.As(err, &decodeErr):
		return "decode"
	default:
		return "other"
	}
}

// Compile-time interface compliance check.
var _ TurnService = (*assistantTurnService)(nil)
