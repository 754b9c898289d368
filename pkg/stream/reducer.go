// Copyright (C) 2026 Madhan S (github.com/madhans476)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package stream implements the client side of the assistant's streaming
// chat protocol.
//
// This file contains the turn reducer, the pure state machine at the heart
// of the pipeline. Reduce has no I/O, no locks, and no logging; everything
// it does is visible in the returned value.
package stream

import (
	"maps"
	"slices"
)

// Phase is the conversational mode a turn is in. Phases only move forward:
// idle, then exactly one streaming phase, then a terminal phase.
type Phase string

const (
	PhaseIdle                   Phase = "idle"
	PhaseStreamingClarification Phase = "streaming_clarification"
	PhaseStreamingInfoGathering Phase = "streaming_info_gathering"
	PhaseStreamingAnswer        Phase = "streaming_answer"
	PhaseCompleted              Phase = "completed"
	PhaseErrored                Phase = "errored"
)

func (p Phase) String() string {
	return string(p)
}

// Terminal reports whether the phase ends the turn.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseErrored
}

// Turn is the accumulated state of one exchange with the assistant.
//
// Turn values are snapshots: Reduce returns a new value and never mutates a
// collection in place, so a snapshot handed out earlier stays valid no
// matter what later events do.
type Turn struct {
	Phase Phase

	// ConversationID is set once from the first metadata event and is
	// immutable afterwards.
	ConversationID string

	// AnswerText is the visible text of the turn: concatenated token
	// fragments in streaming_answer, or the question text in the
	// clarification and info-gathering phases.
	AnswerText string

	// MessageType is the backend's final classification of the turn
	// (clarification, information_gathering, or final_response). Empty
	// until a done event arrives.
	MessageType string

	// InfoCollected and InfoNeeded mirror the backend's latest complete
	// snapshot of gathered facts and outstanding questions.
	InfoCollected map[string]string
	InfoNeeded    []string

	Sources               []Source
	ReasoningSteps        []ReasoningStep
	PrecedentExplanations []PrecedentExplanation

	// ErrorMessage is set only in the errored phase.
	ErrorMessage string
}

// NewTurn returns the initial state for one exchange.
func NewTurn() Turn {
	return Turn{Phase: PhaseIdle}
}

// Reduce folds one event into the turn and returns the result.
//
// Events arriving after a terminal phase are no-ops: the stream should
// already be closed by then, so anything further is noise. Collection
// payloads replace the previous value wholesale; the backend resends its
// complete current snapshot on every such event, never a delta.
func Reduce(t Turn, ev Event) Turn {
	if t.Phase.Terminal() {
		return t
	}

	switch ev.Type {
	case StreamEventMetadata:
		if t.ConversationID == "" {
			t.ConversationID = ev.ConversationID
		}

	case StreamEventClarification:
		// Clarification questions arrive whole, not token by token.
		t.Phase = PhaseStreamingClarification
		t.AnswerText = ev.Content

	case StreamEventInformationGathering:
		t.Phase = PhaseStreamingInfoGathering
		t.AnswerText = ev.Content
		t.InfoCollected = maps.Clone(ev.InfoCollected)
		t.InfoNeeded = slices.Clone(ev.InfoNeeded)

	case StreamEventToken:
		// Tokens only stream in answer mode; the phases are mutually
		// exclusive within one turn.
		if t.Phase != PhaseIdle && t.Phase != PhaseStreamingAnswer {
			return t
		}
		t.Phase = PhaseStreamingAnswer
		t.AnswerText += ev.Content

	case StreamEventSources:
		t.Sources = slices.Clone(ev.Sources)

	case StreamEventReasoning:
		t.ReasoningSteps = slices.Clone(ev.ReasoningSteps)

	case StreamEventPrecedentExplanations:
		t.PrecedentExplanations = slices.Clone(ev.PrecedentExplanations)

	case StreamEventDone:
		return finishTurn(t, ev)

	case StreamEventError:
		return Fail(t, ev.Message)
	}

	return t
}

// finishTurn applies a done event. The done payload is authoritative: any
// collection it carries supersedes mid-stream values, and its response text
// is used whenever the turn streamed no tokens (clarification and
// info-gathering questions arrive whole, so for them done.response repeats
// the question).
func finishTurn(t Turn, ev Event) Turn {
	tokenStreamed := t.Phase == PhaseStreamingAnswer

	t.Phase = PhaseCompleted
	t.MessageType = ev.MessageType
	if !tokenStreamed && ev.Response != "" {
		t.AnswerText = ev.Response
	}
	if ev.InfoCollected != nil {
		t.InfoCollected = maps.Clone(ev.InfoCollected)
	}
	if ev.InfoNeeded != nil {
		t.InfoNeeded = slices.Clone(ev.InfoNeeded)
	}
	if ev.ReasoningSteps != nil {
		t.ReasoningSteps = slices.Clone(ev.ReasoningSteps)
	}
	if ev.PrecedentExplanations != nil {
		t.PrecedentExplanations = slices.Clone(ev.PrecedentExplanations)
	}
	return t
}

// Fail moves a turn into the errored phase. The partial answer is dropped:
// an errored turn did not produce a usable answer. Terminal turns are
// returned unchanged.
func Fail(t Turn, message string) Turn {
	if t.Phase.Terminal() {
		return t
	}
	t.Phase = PhaseErrored
	t.ErrorMessage = message
	t.AnswerText = ""
	return t
}
