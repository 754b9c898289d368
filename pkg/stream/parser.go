// Copyright (C) 2026 Madhan S (github.com/madhans476)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package stream implements the client side of the assistant's streaming
// chat protocol.
//
// This file contains the frame parser.
//
// Single Responsibility:
//
//	The parser ONLY parses. It performs no I/O, holds no state, and never
//	renders. Lines go in, typed events (or nothing) come out.
package stream

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DataPrefix is the 6-character marker every event frame starts with.
const DataPrefix = "data: "

// FrameParser converts decoded lines into typed events.
//
// ParseLine returns (nil, nil) for anything that is not an event frame:
// blank lines, SSE comments, unprefixed noise, and frames whose type is
// unknown (so newer backends keep working against older clients). A frame
// whose payload cannot be used yields a *MalformedFrameError; callers log
// it and keep the stream alive. ParseLine never returns a fatal error.
type FrameParser interface {
	// ParseLine classifies one complete line.
	ParseLine(line string) (*Event, error)

	// ParsePayload parses the JSON payload of a frame whose data: prefix
	// has already been stripped.
	ParsePayload(payload []byte) (*Event, error)
}

// frameParser is stateless; the zero value is ready to use.
type frameParser struct{}

// NewFrameParser creates a parser for assistant event frames.
func NewFrameParser() FrameParser {
	return &frameParser{}
}

// ParseLine classifies one complete line.
//
// Returns:
//   - (nil, nil) for blank lines, comments, lines without the data: prefix,
//     frames with an empty payload, and frames of unknown type
//   - (event, nil) for a well-formed frame
//   - (nil, *MalformedFrameError) for a frame whose payload is unusable
func (p *frameParser) ParseLine(line string) (*Event, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, ":") {
		// SSE comment / keep-alive.
		return nil, nil
	}

	var payload string
	switch {
	case strings.HasPrefix(trimmed, DataPrefix):
		payload = trimmed[len(DataPrefix):]
	case strings.HasPrefix(trimmed, "data:"):
		payload = trimmed[len("data:"):]
	default:
		return nil, nil
	}

	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, nil
	}
	return p.ParsePayload([]byte(payload))
}

// ParsePayload parses one frame payload into a typed event, validating the
// structured fields the reducer relies on. Validation failures make the
// whole frame malformed; a half-trusted event never reaches the reducer.
func (p *frameParser) ParsePayload(payload []byte) (*Event, error) {
	var raw struct {
		Type                  string                 `json:"type"`
		ConversationID        string                 `json:"conversation_id"`
		Content               string                 `json:"content"`
		InfoCollected         map[string]string      `json:"info_collected"`
		InfoNeeded            []string               `json:"info_needed"`
		Sources               []Source               `json:"sources"`
		Steps                 []ReasoningStep        `json:"steps"`
		Explanations          []PrecedentExplanation `json:"explanations"`
		ReasoningSteps        []ReasoningStep        `json:"reasoning_steps"`
		PrecedentExplanations []PrecedentExplanation `json:"precedent_explanations"`
		MessageType           string                 `json:"message_type"`
		Response              string                 `json:"response"`
		Message               string                 `json:"message"`
	}

	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, &MalformedFrameError{
			Line:   clip(string(payload)),
			Reason: "payload is not a JSON object",
			Err:    err,
		}
	}
	if raw.Type == "" {
		return nil, &MalformedFrameError{
			Line:   clip(string(payload)),
			Reason: "missing type field",
		}
	}

	ev := newEvent(EventType(raw.Type))

	switch ev.Type {
	case StreamEventMetadata:
		if raw.ConversationID == "" {
			return nil, &MalformedFrameError{
				Line:   clip(string(payload)),
				Reason: "metadata without conversation_id",
			}
		}
		ev.ConversationID = raw.ConversationID

	case StreamEventToken, StreamEventClarification:
		ev.Content = raw.Content

	case StreamEventInformationGathering:
		ev.Content = raw.Content
		ev.InfoCollected = raw.InfoCollected
		ev.InfoNeeded = raw.InfoNeeded

	case StreamEventSources:
		if err := validateSources(raw.Sources); err != nil {
			return nil, &MalformedFrameError{
				Line:   clip(string(payload)),
				Reason: "invalid sources",
				Err:    err,
			}
		}
		ev.Sources = raw.Sources

	case StreamEventReasoning:
		if err := validateReasoningSteps(raw.Steps); err != nil {
			return nil, &MalformedFrameError{
				Line:   clip(string(payload)),
				Reason: "invalid reasoning steps",
				Err:    err,
			}
		}
		ev.ReasoningSteps = raw.Steps

	case StreamEventPrecedentExplanations:
		if err := validatePrecedents(raw.Explanations); err != nil {
			return nil, &MalformedFrameError{
				Line:   clip(string(payload)),
				Reason: "invalid precedent explanations",
				Err:    err,
			}
		}
		ev.PrecedentExplanations = raw.Explanations

	case StreamEventDone:
		if err := validateReasoningSteps(raw.ReasoningSteps); err != nil {
			return nil, &MalformedFrameError{
				Line:   clip(string(payload)),
				Reason: "invalid reasoning steps",
				Err:    err,
			}
		}
		if err := validatePrecedents(raw.PrecedentExplanations); err != nil {
			return nil, &MalformedFrameError{
				Line:   clip(string(payload)),
				Reason: "invalid precedent explanations",
				Err:    err,
			}
		}
		// The backend defaults a missing classification to final_response.
		ev.MessageType = raw.MessageType
		if ev.MessageType == "" {
			ev.MessageType = MessageTypeFinalResponse
		}
		ev.Response = raw.Response
		ev.InfoCollected = raw.InfoCollected
		ev.InfoNeeded = raw.InfoNeeded
		ev.ReasoningSteps = raw.ReasoningSteps
		ev.PrecedentExplanations = raw.PrecedentExplanations

	case StreamEventError:
		ev.Message = raw.Message
		if ev.Message == "" {
			ev.Message = "An error occurred."
		}

	default:
		return nil, nil
	}

	return &ev, nil
}

func validateSources(sources []Source) error {
	for i, s := range sources {
		if strings.TrimSpace(s.Title) == "" {
			return fmt.Errorf("source %d: missing title", i)
		}
	}
	return nil
}

func validateReasoningSteps(steps []ReasoningStep) error {
	for i, s := range steps {
		if s.StepNumber < 1 {
			return fmt.Errorf("step %d: step_number %d out of range", i, s.StepNumber)
		}
		if s.Confidence < 0 || s.Confidence > 1 {
			return fmt.Errorf("step %d: confidence %v out of range", i, s.Confidence)
		}
	}
	return nil
}

func validatePrecedents(explanations []PrecedentExplanation) error {
	for i, p := range explanations {
		if p.SimilarityScore < 0 || p.SimilarityScore > 1 {
			return fmt.Errorf("explanation %d: similarity_score %v out of range", i, p.SimilarityScore)
		}
	}
	return nil
}

// clip bounds a payload for inclusion in error messages and logs.
func clip(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ FrameParser = (*frameParser)(nil)
