// Copyright (C) 2026 Madhan S (github.com/madhans476)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides user experience components for the counsel CLI.
//
// This file contains turn renderers that display the progress of one
// assistant exchange to various outputs (terminal, buffer, etc.).
//
// Single Responsibility:
//
//	Renderers ONLY render. They do not parse frames, read sockets, or
//	manage HTTP. They consume turn snapshots and decide what is new since
//	the last snapshot.
//
// Renderer Types:
//
//   - terminalTurnRenderer: Interactive terminal with spinner, colors, and
//     real-time answer streaming (machine mode prints KEY: value lines)
//   - bufferTurnRenderer: In-memory capture for testing
package ux

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/madhans476/family-law-assistant/pkg/stream"
)

// =============================================================================
// Render Result
// =============================================================================

// RenderResult is the aggregated outcome of rendering one turn.
//
// It carries the final answer and enough timing data for the caller to
// report latency (time to first update, total duration) without holding
// on to the renderer itself.
type RenderResult struct {
	// Id uniquely identifies this render on the client.
	Id string

	// CreatedAt is when the renderer was created, in Unix milliseconds.
	CreatedAt int64

	// FirstUpdateAt is when the first turn snapshot arrived, in Unix
	// milliseconds. Zero if no update ever arrived.
	FirstUpdateAt int64

	// CompletedAt is when the turn finished, in Unix milliseconds.
	CompletedAt int64

	// ConversationID identifies the conversation for follow-up turns.
	ConversationID string

	// Answer is the final visible text of the turn: the streamed answer,
	// or the question the assistant asked instead.
	Answer string

	// MessageType is the backend's classification of the turn.
	MessageType string

	// Phase is the terminal phase the turn ended in.
	Phase stream.Phase

	// Sources are the references cited by the answer.
	Sources []stream.Source

	// UpdateCount is how many turn snapshots the renderer received.
	UpdateCount int

	// Error is the user-facing failure message, empty on success.
	Error string
}

// Duration returns the total render duration.
func (r *RenderResult) Duration() time.Duration {
	if r.CompletedAt == 0 {
		return 0
	}
	return time.Duration(r.CompletedAt-r.CreatedAt) * time.Millisecond
}

// TimeToFirstUpdate returns the latency before the first snapshot arrived.
func (r *RenderResult) TimeToFirstUpdate() time.Duration {
	if r.FirstUpdateAt == 0 {
		return 0
	}
	return time.Duration(r.FirstUpdateAt-r.CreatedAt) * time.Millisecond
}

// =============================================================================
// Turn Renderer Interface
// =============================================================================

// TurnRenderer displays the progress of one assistant turn.
//
// OnUpdate and OnComplete have the same signatures as stream.Callbacks, so
// a renderer plugs directly into a session. Snapshots arrive in order on a
// single goroutine; the renderer diffs each snapshot against what it has
// already shown and renders only the new part.
//
// Lifecycle:
//
//  1. Create renderer with New*TurnRenderer()
//  2. Wire OnUpdate/OnComplete into stream.Callbacks
//  3. Call Finalize() when the turn ends (always, even on error)
//  4. Call Result() to get the aggregated result
//
// Example:
//
//	renderer := NewTerminalTurnRenderer(os.Stdout, GetPersonality())
//	defer renderer.Finalize()
//
//	cfg.Callbacks = stream.Callbacks{
//	    OnUpdate:   renderer.OnUpdate,
//	    OnComplete: renderer.OnComplete,
//	}
//	sess, err := stream.Start(ctx, cfg, req)
type TurnRenderer interface {
	// OnUpdate renders what changed in the turn since the last snapshot.
	//
	// In interactive modes, answer text streams as it grows and questions
	// print whole. In machine mode, content is buffered until completion
	// and only phase transitions print ("STATUS: streaming_answer").
	OnUpdate(turn stream.Turn)

	// OnComplete renders the final state of the turn exactly once.
	//
	// On success this prints the trailing material (sources, reasoning,
	// precedent boxes, conversation footer). On failure it prints the
	// turn's error message. Further OnUpdate calls are ignored.
	OnComplete(turn stream.Turn, success bool)

	// Finalize performs cleanup (stop spinner, stamp timing).
	//
	// MUST be called when the turn ends, even if abnormally. Safe to call
	// multiple times; subsequent calls are no-ops.
	Finalize()

	// Result returns the accumulated result. May be called before
	// Finalize() for partial results; the returned value is a copy.
	Result() *RenderResult
}

// =============================================================================
// Terminal Turn Renderer
// =============================================================================

// terminalTurnRenderer renders a turn to an interactive terminal.
//
// This is the primary renderer for user-facing output. A spinner runs from
// construction until the first visible content arrives, then answer tokens
// stream in real time. Clarification and info-gathering questions print
// whole with question styling, since they arrive whole.
//
// Personality Modes:
//
//   - PersonalityFull: styled questions, source and precedent boxes,
//     reasoning trace, conversation footer with tips
//   - PersonalityStandard: styled questions and source boxes, no reasoning
//   - PersonalityMinimal: plain text, plain source list
//   - PersonalityMachine: KEY: value lines for scripting
//
// All methods are protected by a mutex.
type terminalTurnRenderer struct {
	writer      io.Writer
	personality Personality
	spinner     *Spinner
	result      *RenderResult
	mu          sync.Mutex

	// rendered is the prefix of the turn's answer text already written.
	rendered string
	// lineOpen is true while the last write did not end the line.
	lineOpen  bool
	phase     stream.Phase
	completed bool
	finalized bool
}

// NewTerminalTurnRenderer creates a renderer for interactive terminal output.
//
// In the full and standard personalities a spinner starts immediately and
// runs until the first visible content arrives, covering the wait between
// sending the query and the backend's first event. The spinner only runs
// when rendering to stdout; buffer-backed renderers stay silent.
//
// Parameters:
//   - w: the output writer. If nil, defaults to os.Stdout.
//   - p: controls styling. Pass GetPersonality() for the user's configured
//     personality, or a literal for specific behavior.
func NewTerminalTurnRenderer(w io.Writer, p Personality) TurnRenderer {
	if w == nil {
		w = os.Stdout
	}
	r := &terminalTurnRenderer{
		writer:      w,
		personality: p,
		phase:       stream.PhaseIdle,
		result: &RenderResult{
			Id:        uuid.New().String(),
			CreatedAt: time.Now().UnixMilli(),
		},
	}
	if (p.Level == PersonalityFull || p.Level == PersonalityStandard) && w == io.Writer(os.Stdout) {
		r.spinner = NewSpinner("Reviewing your question...")
		r.spinner.Start()
	}
	return r
}

// OnUpdate renders the new part of the turn snapshot.
func (r *terminalTurnRenderer) OnUpdate(turn stream.Turn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized || r.completed {
		return
	}

	r.result.UpdateCount++
	if r.result.FirstUpdateAt == 0 {
		r.result.FirstUpdateAt = time.Now().UnixMilli()
	}
	if turn.ConversationID != "" {
		r.result.ConversationID = turn.ConversationID
	}

	if r.personality.Level == PersonalityMachine {
		// Buffer content until completion; only phase transitions print.
		if turn.Phase != r.phase {
			fmt.Fprintf(r.writer, "STATUS: %s\n", turn.Phase)
			r.phase = turn.Phase
		}
		return
	}

	switch turn.Phase {
	case stream.PhaseStreamingClarification, stream.PhaseStreamingInfoGathering:
		r.renderQuestion(turn)
	case stream.PhaseStreamingAnswer:
		r.renderAnswerDelta(turn.AnswerText)
	}
	r.phase = turn.Phase
}

// renderQuestion prints a clarification or info-gathering question. The
// question arrives whole, so it prints in one piece with question styling.
// Caller holds the mutex.
func (r *terminalTurnRenderer) renderQuestion(turn stream.Turn) {
	if turn.AnswerText == r.rendered {
		return
	}
	r.stopSpinner()

	if r.personality.Level == PersonalityMinimal {
		fmt.Fprintln(r.writer, turn.AnswerText)
	} else {
		fmt.Fprintf(r.writer, "%s %s\n", IconQuestion.Render(), Styles.Question.Render(turn.AnswerText))
	}
	r.rendered = turn.AnswerText
	r.lineOpen = false

	// Show gathering progress when the backend reports what it has and
	// what it still needs.
	total := len(turn.InfoCollected) + len(turn.InfoNeeded)
	if turn.Phase == stream.PhaseStreamingInfoGathering && total > 0 && r.personality.Level != PersonalityMinimal {
		fmt.Fprintf(r.writer, "%s %s\n",
			ProgressBar(len(turn.InfoCollected), total, 20),
			Styles.Muted.Render("details gathered"))
	}
}

// renderAnswerDelta prints the portion of the answer not yet written.
// Caller holds the mutex.
func (r *terminalTurnRenderer) renderAnswerDelta(text string) {
	if text == r.rendered {
		return
	}
	r.stopSpinner()

	if strings.HasPrefix(text, r.rendered) {
		fmt.Fprint(r.writer, text[len(r.rendered):])
	} else {
		// The backend replaced the text wholesale; start a fresh line.
		fmt.Fprintln(r.writer)
		fmt.Fprint(r.writer, text)
	}
	r.rendered = text
	r.lineOpen = !strings.HasSuffix(text, "\n")
}

// OnComplete renders the final state of the turn.
func (r *terminalTurnRenderer) OnComplete(turn stream.Turn, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized || r.completed {
		return
	}
	r.completed = true
	r.stopSpinner()

	r.result.Phase = turn.Phase
	r.result.Answer = turn.AnswerText
	r.result.MessageType = turn.MessageType
	r.result.Sources = slices.Clone(turn.Sources)
	r.result.CompletedAt = time.Now().UnixMilli()
	if turn.ConversationID != "" {
		r.result.ConversationID = turn.ConversationID
	}

	if !success {
		r.result.Error = turn.ErrorMessage
		if r.personality.Level == PersonalityMachine {
			fmt.Fprintf(r.writer, "ERROR: %s\n", turn.ErrorMessage)
		} else {
			fmt.Fprintf(r.writer, "\n%s %s\n",
				IconError.Render(),
				Styles.Error.Render(turn.ErrorMessage))
		}
		return
	}

	if r.personality.Level == PersonalityMachine {
		r.finishMachine(turn)
		return
	}
	r.finishInteractive(turn)
}

// finishInteractive prints the trailing material after a successful turn:
// any answer text the stream never displayed, then sources, reasoning,
// precedents, and the conversation footer. Caller holds the mutex.
func (r *terminalTurnRenderer) finishInteractive(turn stream.Turn) {
	// A turn that never streamed visible content (the done event carried
	// the whole response) still owes the user its text.
	if turn.AnswerText != r.rendered {
		r.renderAnswerDelta(turn.AnswerText)
	}
	if r.lineOpen {
		fmt.Fprintln(r.writer)
		r.lineOpen = false
	}

	full := r.personality.Level == PersonalityFull
	citations := r.personality.ShowCitations

	if full && len(turn.ReasoningSteps) > 0 {
		fmt.Fprintln(r.writer)
		fmt.Fprintln(r.writer, Styles.Muted.Render("Reasoning"))
		for _, step := range turn.ReasoningSteps {
			fmt.Fprintln(r.writer, Styles.Muted.Render(
				fmt.Sprintf("  %d. %s (%.0f%%)", step.StepNumber, step.Title, step.Confidence*100)))
		}
	}

	if citations && len(turn.Sources) > 0 {
		r.renderSources(turn.Sources)
	}

	if citations && full && len(turn.PrecedentExplanations) > 0 {
		r.renderPrecedents(turn.PrecedentExplanations)
	}

	if turn.MessageType == stream.MessageTypeInformationGathering && len(turn.InfoNeeded) > 0 && r.personality.Level != PersonalityMinimal {
		fmt.Fprintln(r.writer, Styles.Muted.Render(
			fmt.Sprintf("Still needed: %s", strings.Join(turn.InfoNeeded, ", "))))
	}

	if turn.ConversationID != "" {
		fmt.Fprintln(r.writer)
		fmt.Fprintln(r.writer, Styles.Muted.Render(fmt.Sprintf("conversation %s", turn.ConversationID)))
		if full && r.personality.ShowTips && turn.MessageType != stream.MessageTypeFinalResponse {
			fmt.Fprintln(r.writer, Styles.Muted.Render(
				fmt.Sprintf("Tip: answer with --conversation %s to continue", turn.ConversationID)))
		}
	}
}

// renderSources prints the cited references. Caller holds the mutex.
func (r *terminalTurnRenderer) renderSources(sources []stream.Source) {
	if r.personality.Level == PersonalityMinimal {
		fmt.Fprintln(r.writer)
		fmt.Fprintln(r.writer, "Sources:")
		for i, src := range sources {
			fmt.Fprintf(r.writer, "  %d. %s\n", i+1, src.Title)
		}
		return
	}

	fmt.Fprintln(r.writer)
	var content strings.Builder
	for i, src := range sources {
		content.WriteString(fmt.Sprintf("%s %s", IconSection.Render(), src.Title))
		if src.Category != "" {
			content.WriteString(Styles.Muted.Render(fmt.Sprintf(" (%s)", src.Category)))
		}
		if i < len(sources)-1 {
			content.WriteString("\n")
		}
	}
	boxStyle := Styles.CitationBox.Width(60)
	titleLine := Styles.Citation.Render("Sources")
	fmt.Fprintln(r.writer, boxStyle.Render(titleLine+"\n"+content.String()))
}

// renderPrecedents prints precedent comparisons. Caller holds the mutex.
func (r *terminalTurnRenderer) renderPrecedents(precedents []stream.PrecedentExplanation) {
	fmt.Fprintln(r.writer)
	var content strings.Builder
	for i, p := range precedents {
		content.WriteString(fmt.Sprintf("%s %s", IconScales, p.PrecedentTitle))
		content.WriteString(Styles.Muted.Render(fmt.Sprintf(" (%.0f%% similar)", p.SimilarityScore*100)))
		if p.Citation != "" {
			content.WriteString("\n   " + Styles.Citation.Render(p.Citation))
		}
		if i < len(precedents)-1 {
			content.WriteString("\n")
		}
	}
	boxStyle := Styles.CitationBox.Width(60)
	titleLine := Styles.Citation.Render("Precedent Analysis")
	fmt.Fprintln(r.writer, boxStyle.Render(titleLine+"\n"+content.String()))
}

// finishMachine prints the buffered result as KEY: value lines in a fixed
// order, ending with DONE. Caller holds the mutex.
func (r *terminalTurnRenderer) finishMachine(turn stream.Turn) {
	if turn.AnswerText != "" {
		fmt.Fprintf(r.writer, "ANSWER: %s\n", turn.AnswerText)
	}
	if turn.MessageType != "" {
		fmt.Fprintf(r.writer, "TYPE: %s\n", turn.MessageType)
	}
	if turn.ConversationID != "" {
		fmt.Fprintf(r.writer, "CONVERSATION: %s\n", turn.ConversationID)
	}
	for _, src := range turn.Sources {
		if src.Category != "" {
			fmt.Fprintf(r.writer, "SOURCE: %s [%s]\n", src.Title, src.Category)
		} else {
			fmt.Fprintf(r.writer, "SOURCE: %s\n", src.Title)
		}
	}
	for _, step := range turn.ReasoningSteps {
		fmt.Fprintf(r.writer, "REASONING: %d. %s confidence=%.2f\n", step.StepNumber, step.Title, step.Confidence)
	}
	for _, p := range turn.PrecedentExplanations {
		fmt.Fprintf(r.writer, "PRECEDENT: %s similarity=%.2f\n", p.PrecedentTitle, p.SimilarityScore)
	}
	for _, key := range slices.Sorted(maps.Keys(turn.InfoCollected)) {
		fmt.Fprintf(r.writer, "INFO_COLLECTED: %s=%s\n", key, turn.InfoCollected[key])
	}
	if len(turn.InfoNeeded) > 0 {
		fmt.Fprintf(r.writer, "INFO_NEEDED: %s\n", strings.Join(turn.InfoNeeded, ","))
	}
	fmt.Fprintln(r.writer, "DONE")
}

// Finalize performs cleanup and marks the renderer as complete.
//
// Safe to call multiple times; subsequent calls are no-ops.
func (r *terminalTurnRenderer) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}
	r.finalized = true
	r.stopSpinner()

	if r.result.CompletedAt == 0 {
		r.result.CompletedAt = time.Now().UnixMilli()
	}
}

// Result returns a copy of the accumulated RenderResult.
func (r *terminalTurnRenderer) Result() *RenderResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := *r.result
	return &result
}

// stopSpinner halts the wait spinner if running. Caller holds the mutex.
func (r *terminalTurnRenderer) stopSpinner() {
	if r.spinner != nil {
		r.spinner.Stop()
		r.spinner = nil
	}
}

// =============================================================================
// Buffer Turn Renderer (for testing)
// =============================================================================

// bufferTurnRenderer captures turn snapshots in memory without output.
//
// Ideal for unit tests that verify rendering logic or callback wiring
// without terminal side effects.
type bufferTurnRenderer struct {
	result *RenderResult
	turns  []stream.Turn
	final  stream.Turn
	mu     sync.Mutex

	success   bool
	completed bool
	finalized bool
}

// NewBufferTurnRenderer creates a renderer that buffers snapshots to memory.
//
// Example:
//
//	renderer := NewBufferTurnRenderer()
//	defer renderer.Finalize()
//
//	renderer.OnUpdate(turn1)
//	renderer.OnComplete(finalTurn, true)
//
//	buf := renderer.(*bufferTurnRenderer)
//	turns := buf.Turns()
func NewBufferTurnRenderer() TurnRenderer {
	return &bufferTurnRenderer{
		result: &RenderResult{
			Id:        uuid.New().String(),
			CreatedAt: time.Now().UnixMilli(),
		},
	}
}

// OnUpdate captures one turn snapshot.
func (r *bufferTurnRenderer) OnUpdate(turn stream.Turn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized || r.completed {
		return
	}

	if r.result.FirstUpdateAt == 0 {
		r.result.FirstUpdateAt = time.Now().UnixMilli()
	}
	r.turns = append(r.turns, turn)
	r.result.UpdateCount++
	if turn.ConversationID != "" {
		r.result.ConversationID = turn.ConversationID
	}
}

// OnComplete captures the final turn state.
func (r *bufferTurnRenderer) OnComplete(turn stream.Turn, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized || r.completed {
		return
	}
	r.completed = true
	r.final = turn
	r.success = success

	r.result.Phase = turn.Phase
	r.result.Answer = turn.AnswerText
	r.result.MessageType = turn.MessageType
	r.result.Sources = slices.Clone(turn.Sources)
	r.result.CompletedAt = time.Now().UnixMilli()
	if turn.ConversationID != "" {
		r.result.ConversationID = turn.ConversationID
	}
	if !success {
		r.result.Error = turn.ErrorMessage
	}
}

// Finalize marks the buffer renderer as complete.
func (r *bufferTurnRenderer) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}
	r.finalized = true

	if r.result.CompletedAt == 0 {
		r.result.CompletedAt = time.Now().UnixMilli()
	}
}

// Result returns a copy of the accumulated RenderResult.
func (r *bufferTurnRenderer) Result() *RenderResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := *r.result
	return &result
}

// Turns returns copies of all captured snapshots in arrival order.
//
// Not part of the TurnRenderer interface; cast to access it.
func (r *bufferTurnRenderer) Turns() []stream.Turn {
	r.mu.Lock()
	defer r.mu.Unlock()

	turns := make([]stream.Turn, len(r.turns))
	copy(turns, r.turns)
	return turns
}

// Final returns the final turn and whether it completed successfully.
//
// Not part of the TurnRenderer interface; cast to access it.
func (r *bufferTurnRenderer) Final() (stream.Turn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.final, r.success
}

// =============================================================================
// Convenience Functions
// =============================================================================

// RunTurn sends one query and renders the whole turn, blocking until it
// ends. The renderer's callbacks are wired into the session; any Callbacks
// already on cfg are replaced.
//
// Returns the aggregated result and the session's terminal error, if any.
// The result is populated even when err is non-nil.
//
// Example:
//
//	renderer := NewTerminalTurnRenderer(os.Stdout, GetPersonality())
//	result, err := RunTurn(ctx, cfg, stream.Request{Query: query}, renderer)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(result.ConversationID)
func RunTurn(ctx context.Context, cfg stream.SessionConfig, req stream.Request, renderer TurnRenderer) (*RenderResult, error) {
	cfg.Callbacks = stream.Callbacks{
		OnUpdate:   renderer.OnUpdate,
		OnComplete: renderer.OnComplete,
	}

	sess, err := stream.Start(ctx, cfg, req)
	if err != nil {
		renderer.Finalize()
		return renderer.Result(), err
	}

	<-sess.Done()
	renderer.Finalize()
	return renderer.Result(), sess.Err()
}

// =============================================================================
// Compile-time Interface Checks
// =============================================================================

var _ TurnRenderer = (*terminalTurnRenderer)(nil)
var _ TurnRenderer = (*bufferTurnRenderer)(nil)
