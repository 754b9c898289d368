// Copyright (C) 2026 Madhan S (github.com/madhans476)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package stream implements the client side of the assistant's streaming
// chat protocol: frame reassembly from raw bytes, parsing into typed
// events, and reduction of the event sequence into one conversation turn.
//
// This file defines the typed events carried by the wire protocol. Events
// are produced by the FrameParser and consumed by the TurnReducer.
package stream

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Event Types
// =============================================================================

// EventType identifies the kind of a streaming event.
type EventType string

const (
	StreamEventMetadata              EventType = "metadata"
	StreamEventToken                 EventType = "token"
	StreamEventClarification         EventType = "clarification"
	StreamEventInformationGathering  EventType = "information_gathering"
	StreamEventSources               EventType = "sources"
	StreamEventReasoning             EventType = "reasoning"
	StreamEventPrecedentExplanations EventType = "precedent_explanations"
	StreamEventDone                  EventType = "done"
	StreamEventError                 EventType = "error"
)

// String returns the wire name of the event type.
func (t EventType) String() string {
	return string(t)
}

// IsTerminal reports whether this event type ends a turn.
func (t EventType) IsTerminal() bool {
	return t == StreamEventDone || t == StreamEventError
}

// Message classifications the backend reports in done events.
const (
	MessageTypeClarification        = "clarification"
	MessageTypeInformationGathering = "information_gathering"
	MessageTypeFinalResponse        = "final_response"
)

// =============================================================================
// Payload Records
// =============================================================================

// Source is one cited reference attached to an answer.
type Source struct {
	Title    string `json:"title"`
	URL      string `json:"url,omitempty"`
	Category string `json:"category,omitempty"`
}

// ReasoningStep is one entry of the backend's reasoning trace. StepNumber
// starts at 1 and defines display order; Confidence is within [0, 1].
type ReasoningStep struct {
	StepNumber        int      `json:"step_number"`
	StepType          string   `json:"step_type"`
	Title             string   `json:"title"`
	Explanation       string   `json:"explanation"`
	Confidence        float64  `json:"confidence"`
	SupportingSources []string `json:"supporting_sources,omitempty"`
	LegalProvisions   []string `json:"legal_provisions,omitempty"`
}

// PrecedentExplanation compares the user's situation against one precedent
// case. SimilarityScore is within [0, 1]; Citation may be empty.
type PrecedentExplanation struct {
	PrecedentTitle       string   `json:"precedent_title"`
	SimilarityScore      float64  `json:"similarity_score"`
	MatchingFactors      []string `json:"matching_factors,omitempty"`
	DifferentFactors     []string `json:"different_factors,omitempty"`
	KeyExcerpt           string   `json:"key_excerpt,omitempty"`
	RelevanceExplanation string   `json:"relevance_explanation,omitempty"`
	Citation             string   `json:"citation,omitempty"`
}

// =============================================================================
// Event
// =============================================================================

// Event is one parsed frame of the streaming protocol.
//
// Which payload fields are meaningful depends on Type. Collection fields
// distinguish absent (nil) from present-but-empty; this matters for done
// events, where only the collections the payload actually carried supersede
// values seen earlier in the turn.
type Event struct {
	// Id uniquely identifies this event instance on the client.
	Id string

	// CreatedAt is when the event was created, in Unix milliseconds.
	CreatedAt int64

	// Index is the zero-based position of the event within its stream,
	// assigned by the session.
	Index int

	Type EventType

	// ConversationID is carried by metadata events.
	ConversationID string

	// Content carries token fragments, clarification questions, and
	// information-gathering questions.
	Content string

	// InfoCollected and InfoNeeded carry the backend's complete current
	// snapshot of gathered facts and outstanding questions.
	InfoCollected map[string]string
	InfoNeeded    []string

	Sources               []Source
	ReasoningSteps        []ReasoningStep
	PrecedentExplanations []PrecedentExplanation

	// MessageType and Response are carried by done events.
	MessageType string
	Response    string

	// Message is carried by error events.
	Message string
}

// IsTerminal reports whether this event ends a turn.
func (e Event) IsTerminal() bool {
	return e.Type.IsTerminal()
}

// CreatedAtTime returns CreatedAt as a time.Time.
func (e Event) CreatedAtTime() time.Time {
	return time.UnixMilli(e.CreatedAt)
}

// newEvent stamps the client-side envelope for a fresh event.
func newEvent(t EventType) Event {
	return Event{
		Id:        uuid.New().String(),
		CreatedAt: time.Now().UnixMilli(),
		Type:      t,
	}
}

// =============================================================================
// Constructors
// =============================================================================

// NewMetadataEvent creates a metadata event announcing the conversation ID.
func NewMetadataEvent(conversationID string) Event {
	ev := newEvent(StreamEventMetadata)
	ev.ConversationID = conversationID
	return ev
}

// NewTokenEvent creates a token event with one answer fragment.
func NewTokenEvent(content string) Event {
	ev := newEvent(StreamEventToken)
	ev.Content = content
	return ev
}

// NewClarificationEvent creates a clarification question event.
func NewClarificationEvent(content string) Event {
	ev := newEvent(StreamEventClarification)
	ev.Content = content
	return ev
}

// NewInformationGatheringEvent creates a structured follow-up question
// event. collected and needed are the backend's complete current snapshot.
func NewInformationGatheringEvent(content string, collected map[string]string, needed []string) Event {
	ev := newEvent(StreamEventInformationGathering)
	ev.Content = content
	ev.InfoCollected = collected
	ev.InfoNeeded = needed
	return ev
}

// NewSourcesEvent creates a sources event with the cited references.
func NewSourcesEvent(sources []Source) Event {
	ev := newEvent(StreamEventSources)
	ev.Sources = sources
	return ev
}

// NewReasoningEvent creates a reasoning trace event.
func NewReasoningEvent(steps []ReasoningStep) Event {
	ev := newEvent(StreamEventReasoning)
	ev.ReasoningSteps = steps
	return ev
}

// NewPrecedentExplanationsEvent creates a precedent comparison event.
func NewPrecedentExplanationsEvent(explanations []PrecedentExplanation) Event {
	ev := newEvent(StreamEventPrecedentExplanations)
	ev.PrecedentExplanations = explanations
	return ev
}

// NewDoneEvent creates a terminal done event. An empty messageType is
// normalized to final_response, matching the backend's own defaulting.
func NewDoneEvent(messageType, response string) Event {
	ev := newEvent(StreamEventDone)
	if messageType == "" {
		messageType = MessageTypeFinalResponse
	}
	ev.MessageType = messageType
	ev.Response = response
	return ev
}

// NewErrorEvent creates a terminal error event.
func NewErrorEvent(message string) Event {
	ev := newEvent(StreamEventError)
	ev.Message = message
	return ev
}
