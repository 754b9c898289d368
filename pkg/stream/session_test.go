// Copyright (C) 2026 Madhan S (github.com/madhans476)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// Turn Session Tests
// =============================================================================

// streamHandler writes each script entry as one flushed write, simulating
// the assistant's chunked streaming responses.
func streamHandler(t *testing.T, script []string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Error("response writer does not support flushing")
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, chunk := range script {
			if _, err := io.WriteString(w, chunk); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// frame serializes one payload as a wire frame.
func frame(payload string) string {
	return DataPrefix + payload + "\n\n"
}

// splitBytes shatters a stream into one-byte chunks, cutting through lines
// and multi-byte characters alike.
func splitBytes(s string) []string {
	chunks := make([]string, 0, len(s))
	for i := 0; i < len(s); i++ {
		chunks = append(chunks, s[i:i+1])
	}
	return chunks
}

type turnResult struct {
	turn    Turn
	err     error
	success bool
	updates int
}

// runTurn drives one session to completion against baseURL and verifies
// OnComplete fired exactly once.
func runTurn(t *testing.T, baseURL string, req Request) turnResult {
	t.Helper()

	var (
		mu        sync.Mutex
		updates   int
		success   bool
		completes int
		final     Turn
	)

	sess, err := Start(context.Background(), SessionConfig{
		BaseURL: baseURL,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Callbacks: Callbacks{
			OnUpdate: func(Turn) {
				mu.Lock()
				updates++
				mu.Unlock()
			},
			OnComplete: func(turn Turn, ok bool) {
				mu.Lock()
				final = turn
				success = ok
				completes++
				mu.Unlock()
			},
		},
	}, req)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish in time")
	}

	mu.Lock()
	defer mu.Unlock()
	if completes != 1 {
		t.Fatalf("OnComplete fired %d times, want exactly 1", completes)
	}
	return turnResult{turn: final, err: sess.Err(), success: success, updates: updates}
}

func TestStart_RequiresBaseURL(t *testing.T) {
	_, err := Start(context.Background(), SessionConfig{}, Request{Query: "hi"})
	if err == nil {
		t.Fatal("expected an error for a missing base URL")
	}
}

func TestStart_RequiresQuery(t *testing.T) {
	_, err := Start(context.Background(), SessionConfig{BaseURL: "http://localhost:1"}, Request{})
	if err == nil {
		t.Fatal("expected an error for an empty query")
	}
}

func TestTurnSession_FinalAnswerScenario(t *testing.T) {
	srv := httptest.NewServer(streamHandler(t, []string{
		frame(`{"type":"metadata","conversation_id":"conv_1"}`),
		frame(`{"type":"token","content":"Hello"}`),
		frame(`{"type":"token","content":" world"}`),
		frame(`{"type":"sources","sources":[{"title":"Case A"}]}`),
		frame(`{"type":"done","message_type":"final_response"}`),
	}))
	defer srv.Close()

	res := runTurn(t, srv.URL, Request{Query: "Can I file for divorce?"})

	if !res.success {
		t.Errorf("expected success, err=%v", res.err)
	}
	if res.err != nil {
		t.Errorf("unexpected session error: %v", res.err)
	}
	if res.turn.Phase != PhaseCompleted {
		t.Errorf("Phase = %v, want %v", res.turn.Phase, PhaseCompleted)
	}
	if res.turn.AnswerText != "Hello world" {
		t.Errorf("AnswerText = %q, want %q", res.turn.AnswerText, "Hello world")
	}
	if res.turn.ConversationID != "conv_1" {
		t.Errorf("ConversationID = %q", res.turn.ConversationID)
	}
	if len(res.turn.Sources) != 1 || res.turn.Sources[0].Title != "Case A" {
		t.Errorf("Sources = %v", res.turn.Sources)
	}
	if res.turn.MessageType != MessageTypeFinalResponse {
		t.Errorf("MessageType = %q", res.turn.MessageType)
	}
	if res.updates != 5 {
		t.Errorf("expected 5 snapshots (one per event), got %d", res.updates)
	}
}

func TestTurnSession_InformationGatheringScenario(t *testing.T) {
	srv := httptest.NewServer(streamHandler(t, []string{
		frame(`{"type":"metadata","conversation_id":"conv_2"}`),
		frame(`{"type":"information_gathering","content":"What is your marriage date?","info_collected":{"petitioner_name":"Asha"},"info_needed":["marriage_date"]}`),
		frame(`{"type":"done","message_type":"information_gathering","info_collected":{"petitioner_name":"Asha"},"info_needed":["marriage_date"]}`),
	}))
	defer srv.Close()

	res := runTurn(t, srv.URL, Request{Query: "I want a divorce", ConversationID: "conv_2"})

	if !res.success {
		t.Fatalf("expected success, err=%v", res.err)
	}
	if res.turn.MessageType != MessageTypeInformationGathering {
		t.Errorf("MessageType = %q", res.turn.MessageType)
	}
	if res.turn.AnswerText != "What is your marriage date?" {
		t.Errorf("AnswerText = %q", res.turn.AnswerText)
	}
	if res.turn.InfoCollected["petitioner_name"] != "Asha" {
		t.Errorf("InfoCollected = %v", res.turn.InfoCollected)
	}
	if len(res.turn.InfoNeeded) != 1 || res.turn.InfoNeeded[0] != "marriage_date" {
		t.Errorf("InfoNeeded = %v", res.turn.InfoNeeded)
	}
}

func TestTurnSession_ChunkBoundaryInvariance(t *testing.T) {
	stream := frame(`{"type":"metadata","conversation_id":"conv_3"}`) +
		frame(`{"type":"token","content":"héllo "}`) +
		frame(`{"type":"token","content":"wörld €battle"}`) +
		frame(`{"type":"sources","sources":[{"title":"Köhler v. Köhler"}]}`) +
		frame(`{"type":"done","message_type":"final_response"}`)

	whole := httptest.NewServer(streamHandler(t, []string{stream}))
	defer whole.Close()
	bytewise := httptest.NewServer(streamHandler(t, splitBytes(stream)))
	defer bytewise.Close()

	a := runTurn(t, whole.URL, Request{Query: "q"})
	b := runTurn(t, bytewise.URL, Request{Query: "q"})

	if !a.success || !b.success {
		t.Fatalf("both runs must succeed: whole=%v bytewise=%v", a.err, b.err)
	}
	if !reflect.DeepEqual(a.turn, b.turn) {
		t.Errorf("chunking changed the final turn:\nwhole    %+v\nbytewise %+v", a.turn, b.turn)
	}
}

func TestTurnSession_MalformedFrameIsolation(t *testing.T) {
	clean := []string{
		frame(`{"type":"metadata","conversation_id":"conv_4"}`),
		frame(`{"type":"token","content":"Hello"}`),
		frame(`{"type":"token","content":" world"}`),
		frame(`{"type":"done","message_type":"final_response"}`),
	}
	dirty := []string{
		clean[0],
		"data: this is not json\n\n",
		clean[1],
		frame(`{"content":"no type field"}`),
		clean[2],
		frame(`{"type":"heartbeat","ts":99}`),
		": keep-alive comment\n\n",
		clean[3],
	}

	cleanSrv := httptest.NewServer(streamHandler(t, clean))
	defer cleanSrv.Close()
	dirtySrv := httptest.NewServer(streamHandler(t, dirty))
	defer dirtySrv.Close()

	a := runTurn(t, cleanSrv.URL, Request{Query: "q"})
	b := runTurn(t, dirtySrv.URL, Request{Query: "q"})

	if !a.success || !b.success {
		t.Fatalf("both runs must succeed: clean=%v dirty=%v", a.err, b.err)
	}
	if !reflect.DeepEqual(a.turn, b.turn) {
		t.Errorf("malformed frames leaked into the turn:\nclean %+v\ndirty %+v", a.turn, b.turn)
	}
}

func TestTurnSession_SplitFrameParsesExactlyOnce(t *testing.T) {
	srv := httptest.NewServer(streamHandler(t, []string{
		`data: {"type":"tok`,
		"en\",\"content\":\"Hi\"}\n\n",
		frame(`{"type":"done","message_type":"final_response"}`),
	}))
	defer srv.Close()

	res := runTurn(t, srv.URL, Request{Query: "q"})

	if !res.success {
		t.Fatalf("expected success, err=%v", res.err)
	}
	if res.turn.AnswerText != "Hi" {
		t.Errorf("AnswerText = %q, want %q", res.turn.AnswerText, "Hi")
	}
	// One token event and one done event.
	if res.updates != 2 {
		t.Errorf("expected 2 snapshots, got %d", res.updates)
	}
}

func TestTurnSession_BackendErrorMidStream(t *testing.T) {
	srv := httptest.NewServer(streamHandler(t, []string{
		frame(`{"type":"token","content":"Partial answ"}`),
		frame(`{"type":"error","message":"rate limited"}`),
	}))
	defer srv.Close()

	res := runTurn(t, srv.URL, Request{Query: "q"})

	if res.success {
		t.Error("expected failure")
	}
	if res.turn.Phase != PhaseErrored {
		t.Errorf("Phase = %v, want %v", res.turn.Phase, PhaseErrored)
	}
	if res.turn.ErrorMessage != "rate limited" {
		t.Errorf("ErrorMessage = %q", res.turn.ErrorMessage)
	}
	if res.turn.AnswerText != "" {
		t.Errorf("expected no usable answer, got %q", res.turn.AnswerText)
	}
	var backendErr *BackendError
	if !errors.As(res.err, &backendErr) {
		t.Errorf("expected *BackendError, got %v", res.err)
	}
}

func TestTurnSession_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	res := runTurn(t, srv.URL, Request{Query: "q"})

	if res.success {
		t.Error("expected failure")
	}
	var transportErr *TransportError
	if !errors.As(res.err, &transportErr) {
		t.Fatalf("expected *TransportError, got %v", res.err)
	}
	if transportErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want %d", transportErr.StatusCode, http.StatusServiceUnavailable)
	}
	if res.turn.Phase != PhaseErrored {
		t.Errorf("Phase = %v, want %v", res.turn.Phase, PhaseErrored)
	}
	if !strings.Contains(res.turn.ErrorMessage, "503") {
		t.Errorf("ErrorMessage should mention the status, got %q", res.turn.ErrorMessage)
	}
}

func TestTurnSession_StreamEndsBeforeTerminalEvent(t *testing.T) {
	srv := httptest.NewServer(streamHandler(t, []string{
		frame(`{"type":"metadata","conversation_id":"conv_5"}`),
		frame(`{"type":"token","content":"Hello"}`),
	}))
	defer srv.Close()

	res := runTurn(t, srv.URL, Request{Query: "q"})

	if res.success {
		t.Error("a stream without a terminal event must not succeed")
	}
	var transportErr *TransportError
	if !errors.As(res.err, &transportErr) {
		t.Fatalf("expected *TransportError, got %v", res.err)
	}
	if !errors.Is(res.err, io.ErrUnexpectedEOF) {
		t.Errorf("expected io.ErrUnexpectedEOF in the chain, got %v", res.err)
	}
	if res.turn.Phase != PhaseErrored {
		t.Errorf("Phase = %v, want %v", res.turn.Phase, PhaseErrored)
	}
}

func TestTurnSession_TerminalFrameWithoutTrailingNewline(t *testing.T) {
	srv := httptest.NewServer(streamHandler(t, []string{
		frame(`{"type":"token","content":"Hi"}`),
		`data: {"type":"done","message_type":"final_response"}`,
	}))
	defer srv.Close()

	res := runTurn(t, srv.URL, Request{Query: "q"})

	if !res.success {
		t.Fatalf("the final flush must still deliver the done frame, err=%v", res.err)
	}
	if res.turn.AnswerText != "Hi" {
		t.Errorf("AnswerText = %q", res.turn.AnswerText)
	}
}

func TestTurnSession_UndecodableBytesAbort(t *testing.T) {
	srv := httptest.NewServer(streamHandler(t, []string{
		frame(`{"type":"token","content":"ok"}`),
		"\xff\xfe",
	}))
	defer srv.Close()

	res := runTurn(t, srv.URL, Request{Query: "q"})

	if res.success {
		t.Error("expected failure")
	}
	var decodeErr *DecodeError
	if !errors.As(res.err, &decodeErr) {
		t.Fatalf("expected *DecodeError, got %v", res.err)
	}
	if res.turn.Phase != PhaseErrored {
		t.Errorf("Phase = %v, want %v", res.turn.Phase, PhaseErrored)
	}
}

func TestTurnSession_Cancel(t *testing.T) {
	firstUpdate := make(chan struct{})
	var once sync.Once

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		if _, err := io.WriteString(w, frame(`{"type":"token","content":"Partial"}`)); err != nil {
			return
		}
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	var updates atomic.Int64
	var completes atomic.Int64
	var successRecorded atomic.Bool

	sess, err := Start(context.Background(), SessionConfig{
		BaseURL: srv.URL,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Callbacks: Callbacks{
			OnUpdate: func(Turn) {
				updates.Add(1)
				once.Do(func() { close(firstUpdate) })
			},
			OnComplete: func(_ Turn, ok bool) {
				successRecorded.Store(ok)
				completes.Add(1)
			},
		},
	}, Request{Query: "q"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case <-firstUpdate:
	case <-time.After(5 * time.Second):
		t.Fatal("no update arrived before cancelling")
	}

	sess.Cancel()
	seen := updates.Load()

	if completes.Load() != 1 {
		t.Fatalf("OnComplete fired %d times, want exactly 1", completes.Load())
	}
	if successRecorded.Load() {
		t.Error("a cancelled turn must not report success")
	}

	turn := sess.Turn()
	if turn.Phase != PhaseErrored {
		t.Errorf("Phase = %v, want %v", turn.Phase, PhaseErrored)
	}

	var cancelErr *CancellationError
	if !errors.As(sess.Err(), &cancelErr) {
		t.Fatalf("expected *CancellationError, got %v", sess.Err())
	}
	if !errors.Is(sess.Err(), context.Canceled) {
		t.Errorf("expected context.Canceled in the chain, got %v", sess.Err())
	}

	// No snapshot may arrive once Cancel has returned.
	time.Sleep(50 * time.Millisecond)
	if got := updates.Load(); got != seen {
		t.Errorf("updates kept arriving after Cancel: %d -> %d", seen, got)
	}

	// Cancelling again is a no-op.
	sess.Cancel()
}

func TestTurnSession_CancelViaParentContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	sess, err := Start(ctx, SessionConfig{
		BaseURL: srv.URL,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, Request{Query: "q"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	cancel()

	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop after parent cancellation")
	}

	if !errors.Is(sess.Err(), context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", sess.Err())
	}
}

func TestTurnSession_TurnSnapshotDuringStream(t *testing.T) {
	gate := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, frame(`{"type":"token","content":"Hello"}`))
		flusher.Flush()
		<-gate
		io.WriteString(w, frame(`{"type":"done","message_type":"final_response"}`))
		flusher.Flush()
	}))
	defer srv.Close()

	firstUpdate := make(chan struct{})
	var once sync.Once

	sess, err := Start(context.Background(), SessionConfig{
		BaseURL: srv.URL,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Callbacks: Callbacks{
			OnUpdate: func(Turn) { once.Do(func() { close(firstUpdate) }) },
		},
	}, Request{Query: "q"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case <-firstUpdate:
	case <-time.After(5 * time.Second):
		t.Fatal("no update arrived")
	}

	mid := sess.Turn()
	if mid.Phase != PhaseStreamingAnswer || mid.AnswerText != "Hello" {
		t.Errorf("mid-stream snapshot = %+v", mid)
	}

	close(gate)
	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}

	if sess.Turn().Phase != PhaseCompleted {
		t.Errorf("final phase = %v", sess.Turn().Phase)
	}
}
