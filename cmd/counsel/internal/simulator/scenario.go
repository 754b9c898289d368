// Copyright (C) 2026 Madhan S (github.com/madhans476)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package simulator implements an offline stand-in for the assistant
// backend: the same endpoints, driven by a scenario file instead of a
// model.
//
// A scenario maps query substrings to scripted turns. Each turn is a list
// of wire events, streamed frame by frame exactly as the real backend
// would send them, plus optional faults (delays, split frames, raw
// payloads, mid-stream disconnects) for exercising client error handling.
package simulator

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/madhans476/family-law-assistant/pkg/stream"
	"github.com/madhans476/family-law-assistant/pkg/validation"
)

// =============================================================================
// Scenario Types
// =============================================================================

// Scenario is a complete simulator script: the turns the chat endpoint can
// play and the conversations the history endpoints start out with.
type Scenario struct {
	// Name identifies the scenario in logs and the startup banner.
	Name string `yaml:"name"`

	// TokensPerSecond paces token events. 0 streams them unpaced.
	TokensPerSecond float64 `yaml:"tokens_per_second,omitempty"`

	// Turns are tried in order; see FindTurn.
	Turns []Turn `yaml:"turns"`

	// Conversations seed the history endpoints. Conversations produced by
	// live chat turns are added alongside these at runtime.
	Conversations []StoredConversation `yaml:"conversations,omitempty"`
}

// Turn is the scripted response to one matching query.
type Turn struct {
	// Match selects this turn when the query contains it,
	// case-insensitively. The first turn with an empty Match is the
	// fallback for queries nothing else matches.
	Match string `yaml:"match,omitempty"`

	// Events are streamed in order. A metadata event announcing the
	// conversation ID is prepended automatically unless the turn scripts
	// its own as the first event.
	Events []Event `yaml:"events"`
}

// Event is one wire event of a scripted turn. The yaml tags are the
// scenario file schema; the json tags are the wire schema the client
// parses. Fault fields never reach the wire.
type Event struct {
	Type                  string                 `yaml:"type,omitempty" json:"type,omitempty"`
	ConversationID        string                 `yaml:"conversation_id,omitempty" json:"conversation_id,omitempty"`
	Content               string                 `yaml:"content,omitempty" json:"content,omitempty"`
	InfoCollected         map[string]string      `yaml:"info_collected,omitempty" json:"info_collected,omitempty"`
	InfoNeeded            []string               `yaml:"info_needed,omitempty" json:"info_needed,omitempty"`
	Sources               []Source               `yaml:"sources,omitempty" json:"sources,omitempty"`
	Steps                 []ReasoningStep        `yaml:"steps,omitempty" json:"steps,omitempty"`
	Explanations          []PrecedentExplanation `yaml:"explanations,omitempty" json:"explanations,omitempty"`
	ReasoningSteps        []ReasoningStep        `yaml:"reasoning_steps,omitempty" json:"reasoning_steps,omitempty"`
	PrecedentExplanations []PrecedentExplanation `yaml:"precedent_explanations,omitempty" json:"precedent_explanations,omitempty"`
	MessageType           string                 `yaml:"message_type,omitempty" json:"message_type,omitempty"`
	Response              string                 `yaml:"response,omitempty" json:"response,omitempty"`
	Message               string                 `yaml:"message,omitempty" json:"message,omitempty"`

	// Raw replaces the JSON payload with this exact text. Use it to send
	// frames the client should reject or skip.
	Raw string `yaml:"raw,omitempty" json:"-"`

	// SplitAt flushes the frame in two pieces, split at this byte offset,
	// to exercise the client's frame reassembly.
	SplitAt int `yaml:"split_at,omitempty" json:"-"`

	// DelayMs pauses before sending this event.
	DelayMs int `yaml:"delay_ms,omitempty" json:"-"`

	// CloseStream ends the response right after this event, before any
	// done event, the way a crashed backend would.
	CloseStream bool `yaml:"close_stream,omitempty" json:"-"`
}

// Source mirrors the wire schema of a citation.
type Source struct {
	Title    string `yaml:"title" json:"title"`
	URL      string `yaml:"url,omitempty" json:"url,omitempty"`
	Category string `yaml:"category,omitempty" json:"category,omitempty"`
}

// ReasoningStep mirrors the wire schema of one reasoning trace entry.
type ReasoningStep struct {
	StepNumber        int      `yaml:"step_number" json:"step_number"`
	StepType          string   `yaml:"step_type,omitempty" json:"step_type"`
	Title             string   `yaml:"title,omitempty" json:"title"`
	Explanation       string   `yaml:"explanation,omitempty" json:"explanation"`
	Confidence        float64  `yaml:"confidence" json:"confidence"`
	SupportingSources []string `yaml:"supporting_sources,omitempty" json:"supporting_sources,omitempty"`
	LegalProvisions   []string `yaml:"legal_provisions,omitempty" json:"legal_provisions,omitempty"`
}

// PrecedentExplanation mirrors the wire schema of one precedent comparison.
type PrecedentExplanation struct {
	PrecedentTitle       string   `yaml:"precedent_title" json:"precedent_title"`
	SimilarityScore      float64  `yaml:"similarity_score" json:"similarity_score"`
	MatchingFactors      []string `yaml:"matching_factors,omitempty" json:"matching_factors,omitempty"`
	DifferentFactors     []string `yaml:"different_factors,omitempty" json:"different_factors,omitempty"`
	KeyExcerpt           string   `yaml:"key_excerpt,omitempty" json:"key_excerpt,omitempty"`
	RelevanceExplanation string   `yaml:"relevance_explanation,omitempty" json:"relevance_explanation,omitempty"`
	Citation             string   `yaml:"citation,omitempty" json:"citation,omitempty"`
}

// StoredConversation seeds one conversation into the history endpoints.
type StoredConversation struct {
	ConversationID string          `yaml:"conversation_id"`
	LastModified   string          `yaml:"last_modified,omitempty"`
	UserIntent     string          `yaml:"user_intent,omitempty"`
	Messages       []StoredMessage `yaml:"messages"`
	State          StoredState     `yaml:"state"`
}

// StoredMessage is one saved message of a seeded conversation.
type StoredMessage struct {
	Role    string `yaml:"role"`
	Content string `yaml:"content"`
}

// StoredState is the saved workflow state of a seeded conversation.
type StoredState struct {
	UserIntent        string            `yaml:"user_intent,omitempty"`
	InGatheringPhase  bool              `yaml:"in_gathering_phase"`
	InfoCollected     map[string]string `yaml:"info_collected,omitempty"`
	InfoNeededList    []string          `yaml:"info_needed_list,omitempty"`
	GatheringStep     int               `yaml:"gathering_step"`
	AnalysisComplete  bool              `yaml:"analysis_complete"`
	HasSufficientInfo bool              `yaml:"has_sufficient_info"`
	MessageType       string            `yaml:"message_type,omitempty"`
}

// =============================================================================
// Loading and Validation
// =============================================================================

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}

	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}

	if err := scenario.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &scenario, nil
}

// Validate checks the scenario's structure. Event types are deliberately
// not restricted to the known set: sending unknown or hostile events is
// half the point of a simulator.
func (s *Scenario) Validate() error {
	if len(s.Turns) == 0 {
		return fmt.Errorf("scenario has no turns")
	}
	if s.TokensPerSecond < 0 {
		return fmt.Errorf("tokens_per_second must not be negative")
	}

	for i, turn := range s.Turns {
		if len(turn.Events) == 0 {
			return fmt.Errorf("turn %d (%q): no events", i, turn.Match)
		}
		for j, ev := range turn.Events {
			if ev.Type == "" && ev.Raw == "" {
				return fmt.Errorf("turn %d (%q) event %d: needs a type or a raw payload", i, turn.Match, j)
			}
			if ev.DelayMs < 0 {
				return fmt.Errorf("turn %d (%q) event %d: delay_ms must not be negative", i, turn.Match, j)
			}
			if ev.SplitAt < 0 {
				return fmt.Errorf("turn %d (%q) event %d: split_at must not be negative", i, turn.Match, j)
			}
		}
	}

	for i, conv := range s.Conversations {
		if err := validation.ValidateConversationID(conv.ConversationID); err != nil {
			return fmt.Errorf("conversation %d: %w", i, err)
		}
	}
	return nil
}

// FindTurn picks the turn for a query: the first turn whose Match the
// query contains (case-insensitive), else the first turn with an empty
// Match, else nil.
func (s *Scenario) FindTurn(query string) *Turn {
	lowered := strings.ToLower(query)

	var fallback *Turn
	for i := range s.Turns {
		turn := &s.Turns[i]
		if turn.Match == "" {
			if fallback == nil {
				fallback = turn
			}
			continue
		}
		if strings.Contains(lowered, strings.ToLower(turn.Match)) {
			return turn
		}
	}
	return fallback
}

// =============================================================================
// Default Scenario
// =============================================================================

// tokenEvents splits text into word-sized token events, the granularity
// the real backend streams at.
func tokenEvents(text string) []Event {
	words := strings.SplitAfter(text, " ")
	events := make([]Event, 0, len(words))
	for _, w := range words {
		if w == "" {
			continue
		}
		events = append(events, Event{Type: string(stream.StreamEventToken), Content: w})
	}
	return events
}

// DefaultScenario is a built-in family law consultation used when no
// scenario file is given. It covers the happy path, an information
// gathering turn, and the fault paths a client must survive.
func DefaultScenario() *Scenario {
	supportAnswer := "For a marriage of 10 years, courts weigh each spouse's earning capacity, " +
		"the marital standard of living, and the supported spouse's needs when setting spousal support. " +
		"Support for a marriage of this length is often set for roughly half the marriage duration, " +
		"but judges keep discretion to extend or shorten it."

	custodyAnswer := "Custody decisions turn on the child's best interests. " +
		"Courts look at each parent's caretaking history, the child's ties to school and community, " +
		"and each parent's willingness to support the child's relationship with the other parent."

	fallbackAnswer := "I can help with questions about divorce, child custody, and spousal or child support. " +
		"Could you share a few more details about your situation?"

	supportTurn := Turn{
		Match: "10 years",
		Events: append(
			tokenEvents(supportAnswer),
			Event{
				Type: string(stream.StreamEventSources),
				Sources: []Source{
					{Title: "Family Code Section 4320", Category: "statute"},
					{Title: "In re Marriage of Ostler & Smith", Category: "case"},
				},
			},
			Event{
				Type: string(stream.StreamEventReasoning),
				Steps: []ReasoningStep{
					{
						StepNumber:      1,
						StepType:        "statute_analysis",
						Title:           "Reviewed statutory support factors",
						Explanation:     "Earning capacity, marital standard of living, and need govern the award.",
						Confidence:      0.92,
						LegalProvisions: []string{"Family Code Section 4320"},
					},
					{
						StepNumber:  2,
						StepType:    "duration_analysis",
						Title:       "Classified the marriage duration",
						Explanation: "A 10 year marriage sits at the boundary of the long-term presumption.",
						Confidence:  0.84,
					},
				},
			},
			Event{
				Type: string(stream.StreamEventPrecedentExplanations),
				Explanations: []PrecedentExplanation{
					{
						PrecedentTitle:  "In re Marriage of Ostler & Smith",
						SimilarityScore: 0.81,
						MatchingFactors: []string{"single-earner household", "comparable marriage length"},
						Citation:        "223 Cal. App. 3d 33",
					},
				},
			},
			Event{
				Type:        string(stream.StreamEventDone),
				MessageType: stream.MessageTypeFinalResponse,
				Response:    supportAnswer,
			},
		),
	}

	return &Scenario{
		Name:            "family law consultation",
		TokensPerSecond: 40,
		Turns: []Turn{
			{
				Match: "spousal support",
				Events: []Event{
					{
						Type:          string(stream.StreamEventInformationGathering),
						Content:       "How long were you married, and does one spouse earn substantially more than the other?",
						InfoCollected: map[string]string{"topic": "spousal_support"},
						InfoNeeded:    []string{"marriage_duration", "income_disparity"},
					},
					{
						Type:          string(stream.StreamEventDone),
						MessageType:   stream.MessageTypeInformationGathering,
						Response:      "How long were you married, and does one spouse earn substantially more than the other?",
						InfoCollected: map[string]string{"topic": "spousal_support"},
						InfoNeeded:    []string{"marriage_duration", "income_disparity"},
					},
				},
			},
			supportTurn,
			{
				Match: "custody",
				Events: append(
					tokenEvents(custodyAnswer),
					Event{
						Type: string(stream.StreamEventSources),
						Sources: []Source{
							{Title: "Family Code Section 3011", Category: "statute"},
						},
					},
					Event{
						Type:        string(stream.StreamEventDone),
						MessageType: stream.MessageTypeFinalResponse,
						Response:    custodyAnswer,
					},
				),
			},
			{
				Match: "slow",
				Events: []Event{
					{Type: string(stream.StreamEventToken), Content: "Thinking ", DelayMs: 400},
					{Type: string(stream.StreamEventToken), Content: "this ", DelayMs: 400},
					{Type: string(stream.StreamEventToken), Content: "over ", DelayMs: 400},
					{Type: string(stream.StreamEventToken), Content: "slowly.", DelayMs: 400},
					{Type: string(stream.StreamEventDone), MessageType: stream.MessageTypeFinalResponse, Response: "Thinking this over slowly.", DelayMs: 400},
				},
			},
			{
				Match: "fail",
				Events: []Event{
					{Type: string(stream.StreamEventToken), Content: "Let me look into "},
					{Type: string(stream.StreamEventError), Message: "The assistant is overloaded. Please try again in a moment."},
				},
			},
			{
				Match: "garble",
				Events: []Event{
					{Raw: `{"type": "token", "content": `},
					{Type: string(stream.StreamEventToken), Content: "Recovered after a bad frame.", SplitAt: 20},
					{Type: string(stream.StreamEventDone), MessageType: stream.MessageTypeFinalResponse, Response: "Recovered after a bad frame."},
				},
			},
			{
				Match: "vanish",
				Events: []Event{
					{Type: string(stream.StreamEventToken), Content: "The connection is about to ", CloseStream: true},
				},
			},
			{
				Match: "",
				Events: append(
					tokenEvents(fallbackAnswer),
					Event{
						Type:        string(stream.StreamEventDone),
						MessageType: stream.MessageTypeClarification,
						Response:    fallbackAnswer,
					},
				),
			},
		},
		Conversations: []StoredConversation{
			{
				ConversationID: "conv_20260810_143000",
				LastModified:   "2026-08-10T14:38:12.000000",
				UserIntent:     "spousal support after long marriage",
				Messages: []StoredMessage{
					{Role: "HumanMessage", Content: "Can I get spousal support after my divorce?"},
					{Role: "AIMessage", Content: "How long were you married, and does one spouse earn substantially more than the other?"},
					{Role: "HumanMessage", Content: "We were married 10 years and I stayed home with the kids."},
					{Role: "AIMessage", Content: supportAnswer},
				},
				State: StoredState{
					UserIntent:        "spousal support after long marriage",
					InfoCollected:     map[string]string{"topic": "spousal_support", "marriage_duration": "10 years"},
					GatheringStep:     2,
					AnalysisComplete:  true,
					HasSufficientInfo: true,
					MessageType:       stream.MessageTypeFinalResponse,
				},
			},
		},
	}
}
