// Copyright (C) 2026 Madhan S (github.com/madhans476)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package stream implements the client side of the assistant's streaming
// chat protocol.
//
// This file contains the turn session, which owns one exchange with the
// assistant: it posts the query, pumps the response body through the line
// assembler, frame parser, and reducer in arrival order, and reports
// progress through callbacks.
//
// Concurrency:
//
//	Each session runs one pump goroutine. Callbacks run on that goroutine,
//	one at a time, so no two events are ever processed concurrently for the
//	same turn and the reducer needs no locking. Cancel is race-free: once
//	it returns, no further callback will run.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// chatStreamPath is the assistant's streaming endpoint.
const chatStreamPath = "/chat/stream"

// readBufferSize is the chunk size for reading the response body. Chunks
// need not align with frames; the assembler restores line boundaries.
const readBufferSize = 4096

// Request is one user turn to send to the assistant.
type Request struct {
	// Query is the user's question. Required.
	Query string

	// ConversationID continues an existing conversation. Leave empty for a
	// new conversation; the backend mints an ID and announces it in the
	// first metadata event.
	ConversationID string
}

// Callbacks deliver turn progress to the caller. Both fields are optional;
// nil callbacks are skipped.
//
// Callbacks run on the session's pump goroutine, one at a time and in event
// order. They must not call Cancel on the same session (that deadlocks);
// spawn a goroutine if a callback needs to cancel.
type Callbacks struct {
	// OnUpdate receives a snapshot of the turn after every applied event.
	OnUpdate func(Turn)

	// OnComplete receives the final snapshot exactly once. success is true
	// only when the turn completed normally; cancelled and failed turns
	// report false and the cause is available from Err.
	OnComplete func(turn Turn, success bool)
}

// HTTPClient executes HTTP requests. *http.Client satisfies it; tests
// substitute their own.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// SessionConfig carries the collaborators for a session.
type SessionConfig struct {
	// BaseURL of the assistant service, for example "http://localhost:8000".
	BaseURL string

	// Client is the HTTP client to use. Defaults to a client with no
	// timeout: a turn has no internal deadline, so bounding a stalled
	// stream is the caller's job, via ctx.
	Client HTTPClient

	// Logger receives stream diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	Callbacks Callbacks
}

// TurnSession is the handle for one in-flight exchange. Sessions are
// created with Start and are single-use: one request, one terminal state.
type TurnSession struct {
	requestID string
	cancel    context.CancelFunc
	done      chan struct{}

	mu   sync.Mutex
	turn Turn
	err  error
}

// Start begins one exchange with the assistant and returns immediately.
//
// The session posts the request and processes the streaming response on its
// own goroutine, invoking cfg.Callbacks as the turn evolves. The turn ends
// when a terminal event arrives, the body ends, ctx is cancelled, or Cancel
// is called. Start fails only on unusable arguments; exchange failures are
// reported through OnComplete and Err.
func Start(ctx context.Context, cfg SessionConfig, req Request) (*TurnSession, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("start session: base URL is required")
	}
	if req.Query == "" {
		return nil, fmt.Errorf("start session: query is required")
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &TurnSession{
		requestID: uuid.New().String(),
		cancel:    cancel,
		done:      make(chan struct{}),
		turn:      NewTurn(),
	}
	go s.run(ctx, cfg, req)
	return s, nil
}

// Cancel aborts the exchange and blocks until the session has fully
// stopped. If the turn was still in flight it moves to the errored phase
// with a *CancellationError; by the time Cancel returns, OnComplete has
// fired and no further callback will run. Cancelling a finished session is
// a no-op.
//
// Cancel must not be called from inside this session's callbacks.
func (s *TurnSession) Cancel() {
	s.cancel()
	<-s.done
}

// Done is closed once the turn has reached its terminal state and all
// callbacks have returned.
func (s *TurnSession) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal error of the turn: nil after normal completion,
// otherwise one of *DecodeError, *BackendError, *TransportError, or
// *CancellationError. Meaningful once Done is closed.
func (s *TurnSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Turn returns the most recent snapshot of the turn.
func (s *TurnSession) Turn() Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turn
}

// RequestID identifies this exchange in logs.
func (s *TurnSession) RequestID() string {
	return s.requestID
}

// =============================================================================
// Pump
// =============================================================================

func (s *TurnSession) run(ctx context.Context, cfg SessionConfig, req Request) {
	defer close(s.done)
	defer s.cancel()

	log := cfg.Logger.With("request_id", s.requestID)
	log.Debug("starting turn",
		"conversation_id", req.ConversationID,
		"query_length", len(req.Query),
	)

	body, err := s.open(ctx, cfg, req, log)
	if err != nil {
		s.finish(cfg, Fail(NewTurn(), failureMessage(err)), err, log)
		return
	}
	defer func() {
		if cerr := body.Close(); cerr != nil {
			log.Error("failed to close response body", "error", cerr)
		}
	}()

	s.pump(ctx, cfg, body, log)
}

// open posts the query and validates the response, returning a body ready
// for streaming reads.
func (s *TurnSession) open(ctx context.Context, cfg SessionConfig, req Request, log *slog.Logger) (io.ReadCloser, error) {
	payload := struct {
		Query          string `json:"query"`
		ConversationID string `json:"conversation_id,omitempty"`
	}{
		Query:          req.Query,
		ConversationID: req.ConversationID,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+chatStreamPath, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("X-Request-ID", s.requestID)

	resp, err := cfg.Client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &CancellationError{Err: context.Cause(ctx)}
		}
		return nil, &TransportError{Op: "connect", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if cerr := resp.Body.Close(); cerr != nil {
			log.Error("failed to close response body", "error", cerr)
		}
		return nil, &TransportError{
			Op:         "status",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", bytes.TrimSpace(detail)),
		}
	}
	return resp.Body, nil
}

// pump drives the assembler, parser, and reducer until the turn reaches a
// terminal state. It is the only goroutine that touches the turn, so events
// are applied strictly in arrival order.
func (s *TurnSession) pump(ctx context.Context, cfg SessionConfig, body io.Reader, log *slog.Logger) {
	var (
		asm        = NewLineAssembler()
		parser     = NewFrameParser()
		turn       = NewTurn()
		buf        = make([]byte, readBufferSize)
		eventIndex = 0
		started    = time.Now()
	)

	// apply parses one line, folds any event into the turn, and publishes
	// the new snapshot. It reports whether the turn became terminal.
	apply := func(line string) bool {
		ev, err := parser.ParseLine(line)
		if err != nil {
			log.Warn("dropping malformed frame", "error", err)
			return false
		}
		if ev == nil {
			return false
		}
		ev.Index = eventIndex
		eventIndex++

		if ev.Type == StreamEventError && turn.AnswerText != "" {
			log.Debug("discarding partial answer after backend error",
				"discarded_bytes", len(turn.AnswerText),
			)
		}

		turn = Reduce(turn, *ev)
		s.store(turn)
		if cb := cfg.Callbacks.OnUpdate; cb != nil {
			cb(turn)
		}
		return turn.Phase.Terminal()
	}

	for {
		select {
		case <-ctx.Done():
			s.finish(cfg, Fail(turn, "turn cancelled"), &CancellationError{Err: context.Cause(ctx)}, log)
			return
		default:
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			lines, aerr := asm.Push(buf[:n])
			if aerr != nil {
				s.finish(cfg, Fail(turn, "response stream was not valid text"), aerr, log)
				return
			}
			for _, line := range lines {
				if apply(line) {
					s.finishTerminal(cfg, turn, started, eventIndex, log)
					return
				}
			}
		}

		if readErr == nil {
			continue
		}
		if readErr != io.EOF {
			if ctx.Err() != nil {
				s.finish(cfg, Fail(turn, "turn cancelled"), &CancellationError{Err: context.Cause(ctx)}, log)
				return
			}
			terr := &TransportError{Op: "read", Err: readErr}
			s.finish(cfg, Fail(turn, "connection to the assistant was lost"), terr, log)
			return
		}

		// EOF: the final unterminated fragment may still hold a frame.
		final, ok, ferr := asm.Flush()
		if ferr != nil {
			s.finish(cfg, Fail(turn, "response stream was not valid text"), ferr, log)
			return
		}
		if ok && apply(final) {
			s.finishTerminal(cfg, turn, started, eventIndex, log)
			return
		}

		terr := &TransportError{Op: "read", Err: io.ErrUnexpectedEOF}
		s.finish(cfg, Fail(turn, "the assistant stopped before finishing the turn"), terr, log)
		return
	}
}

// finishTerminal completes a turn that ended through a terminal event.
func (s *TurnSession) finishTerminal(cfg SessionConfig, turn Turn, started time.Time, events int, log *slog.Logger) {
	var err error
	if turn.Phase == PhaseErrored {
		err = &BackendError{Message: turn.ErrorMessage}
	}
	log.Debug("turn finished",
		"phase", turn.Phase.String(),
		"message_type", turn.MessageType,
		"events", events,
		"answer_length", len(turn.AnswerText),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	s.finish(cfg, turn, err, log)
}

// finish records the terminal state and fires OnComplete. The pump
// goroutine is the only caller and calls it exactly once per session.
func (s *TurnSession) finish(cfg SessionConfig, turn Turn, err error, log *slog.Logger) {
	s.mu.Lock()
	s.turn = turn
	s.err = err
	s.mu.Unlock()

	if err != nil {
		var cancelled *CancellationError
		if errors.As(err, &cancelled) {
			log.Debug("turn cancelled")
		} else {
			log.Warn("turn failed", "error", err)
		}
	}

	if cb := cfg.Callbacks.OnComplete; cb != nil {
		cb(turn, turn.Phase == PhaseCompleted)
	}
}

func (s *TurnSession) store(turn Turn) {
	s.mu.Lock()
	s.turn = turn
	s.mu.Unlock()
}

// failureMessage picks the caller-visible description for an exchange that
// ended without a backend error event.
func failureMessage(err error) string {
	var cancelled *CancellationError
	var transport *TransportError
	switch {
	case errors.As(err, &cancelled):
		return "turn cancelled"
	case errors.As(err, &transport) && transport.Op == "status":
		return fmt.Sprintf("the assistant rejected the request (status %d)", transport.StatusCode)
	case errors.As(err, &transport):
		return "could not reach the assistant"
	default:
		return "the turn failed unexpectedly"
	}
}
