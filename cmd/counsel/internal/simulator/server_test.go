// Copyright (C) 2026 Madhan S (github.com/madhans476)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/madhans476/family-law-assistant/pkg/api"
	"github.com/madhans476/family-law-assistant/pkg/stream"
)

// testScenarioYAML is a compact scenario exercising every streaming path:
// a final answer, an information gathering turn, a backend error, a
// malformed frame, and a mid-stream disconnect. Pacing is off so tests
// run fast.
const testScenarioYAML = `
name: test consultation
tokens_per_second: 0
turns:
  - match: adoption
    events:
      - type: token
        content: "Adoption requires "
      - type: token
        content: "court approval."
      - type: done
        message_type: final_response
        response: "Adoption requires court approval."
  - match: gather
    events:
      - type: information_gathering
        content: "Which county are you filing in?"
        info_collected:
          topic: adoption
        info_needed:
          - county
      - type: done
        message_type: information_gathering
        response: "Which county are you filing in?"
        info_collected:
          topic: adoption
        info_needed:
          - county
  - match: fail
    events:
      - type: token
        content: "Let me check "
      - type: error
        message: "Scripted failure."
  - match: garble
    events:
      - raw: '{"type": "token", "content": '
      - type: token
        content: "Recovered after a bad frame."
        split_at: 20
      - type: done
        message_type: final_response
        response: "Recovered after a bad frame."
  - match: vanish
    events:
      - type: token
        content: "The connection is about to "
        close_stream: true
conversations:
  - conversation_id: conv_20260801_090000
    last_modified: "2026-08-01T09:00:00.000000"
    user_intent: "visitation basics"
    messages:
      - role: HumanMessage
        content: "How does visitation work?"
      - role: AIMessage
        content: "Visitation schedules follow the parenting plan."
    state:
      analysis_complete: true
      has_sufficient_info: true
      message_type: final_response
`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer builds a Server from yaml and serves it over httptest.
func newTestServer(t *testing.T, yaml string) (*Server, *httptest.Server) {
	t.Helper()
	srv, err := New(Config{
		ScenarioPath: writeScenarioFile(t, yaml),
		Logger:       discardLogger(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

// runClientTurn drives one turn through the real streaming client against
// the simulator, returning the final snapshot and terminal error.
func runClientTurn(t *testing.T, baseURL, query, conversationID string) (stream.Turn, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sess, err := stream.Start(ctx, stream.SessionConfig{
		BaseURL: baseURL,
		Logger:  discardLogger(),
	}, stream.Request{Query: query, ConversationID: conversationID})
	if err != nil {
		t.Fatalf("stream.Start() error = %v", err)
	}
	<-sess.Done()
	return sess.Turn(), sess.Err()
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode GET %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

// -----------------------------------------------------------------------------
// Construction Tests
// -----------------------------------------------------------------------------

func TestNew_DefaultsToBuiltInScenario(t *testing.T) {
	srv, err := New(Config{Logger: discardLogger()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if srv.Addr() != DefaultAddr {
		t.Errorf("Addr() = %q, want %q", srv.Addr(), DefaultAddr)
	}
	if srv.ScenarioName() != "family law consultation" {
		t.Errorf("ScenarioName() = %q, want the built-in scenario", srv.ScenarioName())
	}
}

func TestNew_RejectsBrokenScenarioFile(t *testing.T) {
	_, err := New(Config{
		ScenarioPath: writeScenarioFile(t, "turns: []"),
		Logger:       discardLogger(),
	})
	if err == nil {
		t.Fatal("New() error = nil, want scenario validation error")
	}
}

// -----------------------------------------------------------------------------
// Chat Streaming Tests
// -----------------------------------------------------------------------------

func TestChatStream_PlaysScriptedTurn(t *testing.T) {
	_, ts := newTestServer(t, testScenarioYAML)

	turn, err := runClientTurn(t, ts.URL, "tell me about adoption", "")
	if err != nil {
		t.Fatalf("turn error = %v", err)
	}
	if turn.Phase != stream.PhaseCompleted {
		t.Errorf("Phase = %v, want %v", turn.Phase, stream.PhaseCompleted)
	}
	if turn.AnswerText != "Adoption requires court approval." {
		t.Errorf("AnswerText = %q", turn.AnswerText)
	}
	if turn.MessageType != stream.MessageTypeFinalResponse {
		t.Errorf("MessageType = %q, want %q", turn.MessageType, stream.MessageTypeFinalResponse)
	}
	if !strings.HasPrefix(turn.ConversationID, "conv_") {
		t.Errorf("ConversationID = %q, want a minted conv_ id", turn.ConversationID)
	}
}

func TestChatStream_ThreadsConversationID(t *testing.T) {
	_, ts := newTestServer(t, testScenarioYAML)

	turn, err := runClientTurn(t, ts.URL, "adoption question", "conv_client_123")
	if err != nil {
		t.Fatalf("turn error = %v", err)
	}
	if turn.ConversationID != "conv_client_123" {
		t.Errorf("ConversationID = %q, want the one the client sent", turn.ConversationID)
	}

	var history api.ConversationHistory
	status := getJSON(t, ts.URL+"/history/conv_client_123", &history)
	if status != http.StatusOK {
		t.Fatalf("GET /history status = %d, want 200", status)
	}
	if len(history.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(history.Messages))
	}
	if history.Messages[0].Role != api.RoleHuman || history.Messages[0].Content != "adoption question" {
		t.Errorf("Messages[0] = %+v, want the user query", history.Messages[0])
	}
	if history.Messages[1].Role != api.RoleAI || history.Messages[1].Content != "Adoption requires court approval." {
		t.Errorf("Messages[1] = %+v, want the assistant answer", history.Messages[1])
	}
}

func TestChatStream_InformationGatheringTurn(t *testing.T) {
	_, ts := newTestServer(t, testScenarioYAML)

	turn, err := runClientTurn(t, ts.URL, "please gather my details", "")
	if err != nil {
		t.Fatalf("turn error = %v", err)
	}
	if turn.Phase != stream.PhaseCompleted {
		t.Errorf("Phase = %v, want %v", turn.Phase, stream.PhaseCompleted)
	}
	if turn.MessageType != stream.MessageTypeInformationGathering {
		t.Errorf("MessageType = %q, want %q", turn.MessageType, stream.MessageTypeInformationGathering)
	}
	if turn.AnswerText != "Which county are you filing in?" {
		t.Errorf("AnswerText = %q", turn.AnswerText)
	}
	if len(turn.InfoNeeded) != 1 || turn.InfoNeeded[0] != "county" {
		t.Errorf("InfoNeeded = %v, want [county]", turn.InfoNeeded)
	}
	if turn.InfoCollected["topic"] != "adoption" {
		t.Errorf("InfoCollected = %v", turn.InfoCollected)
	}
}

func TestChatStream_BackendErrorTurn(t *testing.T) {
	_, ts := newTestServer(t, testScenarioYAML)

	turn, err := runClientTurn(t, ts.URL, "this will fail", "")
	if turn.Phase != stream.PhaseErrored {
		t.Errorf("Phase = %v, want %v", turn.Phase, stream.PhaseErrored)
	}
	var backendErr *stream.BackendError
	if !errors.As(err, &backendErr) {
		t.Fatalf("error = %v, want *stream.BackendError", err)
	}
	if backendErr.Message != "Scripted failure." {
		t.Errorf("Message = %q", backendErr.Message)
	}
}

func TestChatStream_MalformedFrameRecovery(t *testing.T) {
	_, ts := newTestServer(t, testScenarioYAML)

	turn, err := runClientTurn(t, ts.URL, "garble the stream", "")
	if err != nil {
		t.Fatalf("turn error = %v, want recovery from the bad frame", err)
	}
	if turn.Phase != stream.PhaseCompleted {
		t.Errorf("Phase = %v, want %v", turn.Phase, stream.PhaseCompleted)
	}
	if turn.AnswerText != "Recovered after a bad frame." {
		t.Errorf("AnswerText = %q", turn.AnswerText)
	}
}

func TestChatStream_MidStreamDisconnect(t *testing.T) {
	_, ts := newTestServer(t, testScenarioYAML)

	turn, err := runClientTurn(t, ts.URL, "now vanish", "")
	if turn.Phase != stream.PhaseErrored {
		t.Errorf("Phase = %v, want %v", turn.Phase, stream.PhaseErrored)
	}
	var transportErr *stream.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("error = %v, want *stream.TransportError", err)
	}
}

func TestChatStream_InvalidBody(t *testing.T) {
	_, ts := newTestServer(t, testScenarioYAML)

	resp, err := http.Post(ts.URL+"/chat/stream", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["detail"] != "Invalid request body" {
		t.Errorf("detail = %q", body["detail"])
	}
}

func TestChatStream_RejectsOversizedQuery(t *testing.T) {
	_, ts := newTestServer(t, testScenarioYAML)

	payload := fmt.Sprintf(`{"query": %q}`, strings.Repeat("a", 2001))
	resp, err := http.Post(ts.URL+"/chat/stream", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["detail"] == "" {
		t.Error("detail is empty, want a validation message")
	}
}

func TestChatStream_NoMatchingTurn(t *testing.T) {
	noFallback := `
name: narrow
turns:
  - match: adoption
    events:
      - type: done
        message_type: final_response
        response: "ok"
`
	_, ts := newTestServer(t, noFallback)

	resp, err := http.Post(ts.URL+"/chat/stream", "application/json",
		strings.NewReader(`{"query": "zoning permit"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["detail"] != "No scenario turn matches the query" {
		t.Errorf("detail = %q", body["detail"])
	}
}

// -----------------------------------------------------------------------------
// History Endpoint Tests
// -----------------------------------------------------------------------------

func TestHistory_ListsSeededAndLiveConversations(t *testing.T) {
	_, ts := newTestServer(t, testScenarioYAML)

	if _, err := runClientTurn(t, ts.URL, "adoption basics", "conv_live_1"); err != nil {
		t.Fatalf("turn error = %v", err)
	}

	var resp api.ConversationsResponse
	if status := getJSON(t, ts.URL+"/conversations", &resp); status != http.StatusOK {
		t.Fatalf("GET /conversations status = %d", status)
	}
	if len(resp.Conversations) != 2 {
		t.Fatalf("len(Conversations) = %d, want 2", len(resp.Conversations))
	}

	live := resp.Conversations[0]
	if live.ConversationID != "conv_live_1" {
		t.Errorf("Conversations[0] = %q, want the live conversation first", live.ConversationID)
	}
	if live.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", live.MessageCount)
	}
	if live.Status != api.StatusCompleted {
		t.Errorf("Status = %q, want %q", live.Status, api.StatusCompleted)
	}
	if live.UserIntent != "adoption basics" {
		t.Errorf("UserIntent = %q", live.UserIntent)
	}

	if resp.Conversations[1].ConversationID != "conv_20260801_090000" {
		t.Errorf("Conversations[1] = %q, want the seeded conversation", resp.Conversations[1].ConversationID)
	}
}

func TestHistory_ErrorTurnIsNotPersisted(t *testing.T) {
	_, ts := newTestServer(t, testScenarioYAML)

	if _, err := runClientTurn(t, ts.URL, "this will fail", ""); err == nil {
		t.Fatal("turn error = nil, want a backend error")
	}

	var resp api.ConversationsResponse
	getJSON(t, ts.URL+"/conversations", &resp)
	if len(resp.Conversations) != 1 {
		t.Errorf("len(Conversations) = %d, want only the seeded conversation", len(resp.Conversations))
	}
}

func TestHistory_GetConversation(t *testing.T) {
	_, ts := newTestServer(t, testScenarioYAML)

	var history api.ConversationHistory
	if status := getJSON(t, ts.URL+"/history/conv_20260801_090000", &history); status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if len(history.Messages) != 2 {
		t.Errorf("len(Messages) = %d, want 2", len(history.Messages))
	}
	if !history.State.AnalysisComplete {
		t.Error("State.AnalysisComplete = false, want true")
	}
	if history.LastUpdated != "2026-08-01T09:00:00.000000" {
		t.Errorf("LastUpdated = %q", history.LastUpdated)
	}
}

func TestHistory_GetNotFound(t *testing.T) {
	_, ts := newTestServer(t, testScenarioYAML)

	var body map[string]string
	if status := getJSON(t, ts.URL+"/history/conv_absent", &body); status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
	if body["detail"] != "Conversation not found" {
		t.Errorf("detail = %q", body["detail"])
	}
}

func TestHistory_DeleteConversation(t *testing.T) {
	_, ts := newTestServer(t, testScenarioYAML)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/history/conv_20260801_090000", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var deleted api.DeleteResponse
	if err := json.NewDecoder(resp.Body).Decode(&deleted); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(deleted.Message, "deleted successfully") {
		t.Errorf("Message = %q", deleted.Message)
	}

	if status := getJSON(t, ts.URL+"/history/conv_20260801_090000", nil); status != http.StatusNotFound {
		t.Errorf("GET after delete status = %d, want 404", status)
	}

	again, err := http.DefaultClient.Do(req.Clone(context.Background()))
	if err != nil {
		t.Fatalf("second DELETE: %v", err)
	}
	defer again.Body.Close()
	if again.StatusCode != http.StatusNotFound {
		t.Errorf("second DELETE status = %d, want 404", again.StatusCode)
	}
}

// -----------------------------------------------------------------------------
// Monitoring Endpoint Tests
// -----------------------------------------------------------------------------

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, testScenarioYAML)

	var health api.HealthResponse
	if status := getJSON(t, ts.URL+"/health", &health); status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if health.Status != api.HealthStatusHealthy {
		t.Errorf("Status = %q, want %q", health.Status, api.HealthStatusHealthy)
	}
	if health.Version != serviceVersion {
		t.Errorf("Version = %q, want %q", health.Version, serviceVersion)
	}
	if _, err := time.Parse(timestampLayout, health.Timestamp); err != nil {
		t.Errorf("Timestamp %q does not parse: %v", health.Timestamp, err)
	}
}

func TestServiceInfo(t *testing.T) {
	_, ts := newTestServer(t, testScenarioYAML)

	var info api.ServiceInfo
	if status := getJSON(t, ts.URL+"/", &info); status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if info.Name != serviceName {
		t.Errorf("Name = %q, want %q", info.Name, serviceName)
	}
	if info.Status != "running" {
		t.Errorf("Status = %q, want running", info.Status)
	}
	if len(info.Features) == 0 {
		t.Error("Features is empty")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, testScenarioYAML)

	if _, err := runClientTurn(t, ts.URL, "adoption metrics check", ""); err != nil {
		t.Fatalf("turn error = %v", err)
	}

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	text := string(body)
	if !strings.Contains(text, "counsel_simulator_turns_total 1") {
		t.Errorf("metrics missing turn count:\n%s", text)
	}
	if !strings.Contains(text, "counsel_simulator_tokens_streamed_total") {
		t.Error("metrics missing token counter")
	}
}

// -----------------------------------------------------------------------------
// Scenario Reload Tests
// -----------------------------------------------------------------------------

func TestReloadScenario_SwapsScenarioAndStore(t *testing.T) {
	path := writeScenarioFile(t, testScenarioYAML)
	srv, err := New(Config{ScenarioPath: path, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	replacement := `
name: replacement consultation
turns:
  - match: ""
    events:
      - type: done
        message_type: final_response
        response: "replaced"
`
	if err := os.WriteFile(path, []byte(replacement), 0o644); err != nil {
		t.Fatalf("rewrite scenario: %v", err)
	}

	srv.reloadScenario()

	if srv.ScenarioName() != "replacement consultation" {
		t.Errorf("ScenarioName() = %q, want the replacement", srv.ScenarioName())
	}

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	var resp api.ConversationsResponse
	getJSON(t, ts.URL+"/conversations", &resp)
	if len(resp.Conversations) != 0 {
		t.Errorf("len(Conversations) = %d, want 0 after reseeding from the replacement", len(resp.Conversations))
	}
}

func TestReloadScenario_KeepsPreviousOnFailure(t *testing.T) {
	path := writeScenarioFile(t, testScenarioYAML)
	srv, err := New(Config{ScenarioPath: path, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := os.WriteFile(path, []byte("turns: [broken"), 0o644); err != nil {
		t.Fatalf("rewrite scenario: %v", err)
	}

	srv.reloadScenario()

	if srv.ScenarioName() != "test consultation" {
		t.Errorf("ScenarioName() = %q, want the previous scenario kept", srv.ScenarioName())
	}
}

// -----------------------------------------------------------------------------
// Helper Tests
// -----------------------------------------------------------------------------

func TestMintConversationID(t *testing.T) {
	at := time.Date(2026, 8, 15, 10, 11, 12, 0, time.UTC)
	if got := mintConversationID(at); got != "conv_20260815_101112" {
		t.Errorf("mintConversationID() = %q, want conv_20260815_101112", got)
	}
}

func TestDeriveUserIntent(t *testing.T) {
	if got := deriveUserIntent("  short question  "); got != "short question" {
		t.Errorf("deriveUserIntent(short) = %q", got)
	}

	long := strings.Repeat("custody ", 20)
	got := deriveUserIntent(long)
	if !strings.HasSuffix(got, "...") {
		t.Errorf("deriveUserIntent(long) = %q, want truncation marker", got)
	}
	if len([]rune(got)) != 63 {
		t.Errorf("len(deriveUserIntent(long)) = %d, want 63", len([]rune(got)))
	}
}

func TestDeriveOutcome(t *testing.T) {
	gathering := &Turn{Events: []Event{
		{
			Type:          "information_gathering",
			Content:       "Which county?",
			InfoCollected: map[string]string{"topic": "adoption"},
			InfoNeeded:    []string{"county"},
		},
		{Type: "done", MessageType: "information_gathering", Response: "Which county?"},
	}}
	response, state := deriveOutcome(gathering)
	if response != "Which county?" {
		t.Errorf("response = %q", response)
	}
	if !state.InGatheringPhase {
		t.Error("InGatheringPhase = false, want true")
	}
	if state.MessageType != "information_gathering" {
		t.Errorf("MessageType = %q", state.MessageType)
	}

	final := &Turn{Events: []Event{
		{Type: "token", Content: "Adoption requires "},
		{Type: "token", Content: "court approval."},
		{Type: "done", MessageType: "final_response"},
	}}
	response, state = deriveOutcome(final)
	if response != "Adoption requires court approval." {
		t.Errorf("response = %q, want the tokens joined when done has no response", response)
	}
	if !state.AnalysisComplete || !state.HasSufficientInfo {
		t.Errorf("state = %+v, want analysis complete", state)
	}
	if state.InGatheringPhase {
		t.Error("InGatheringPhase = true, want false after a final response")
	}
}
