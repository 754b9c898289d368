// Copyright (C) 2026 Madhan S (github.com/madhans476)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Conversation history and monitoring types for the assistant's REST
// surface: GET /conversations, GET /history/{id}, DELETE /history/{id},
// GET /health, and GET /.
package api

import (
	"fmt"
	"time"
)

// Conversation status values derived by the backend from the saved state.
const (
	StatusCompleted     = "completed"
	StatusGatheringInfo = "gathering_info"
	StatusAnalyzing     = "analyzing"
)

// Message roles as the backend records them.
const (
	RoleHuman  = "HumanMessage"
	RoleAI     = "AIMessage"
	RoleSystem = "SystemMessage"
)

// isoTimestampLayout parses the backend's timezone-naive timestamps, e.g.
// "2026-01-14T15:30:45.123456".
const isoTimestampLayout = "2006-01-02T15:04:05.999999999"

// parseISOTime accepts both timezone-aware and timezone-naive timestamps.
func parseISOTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(isoTimestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// =============================================================================
// Conversation Listing
// =============================================================================

// ConversationSummary is one entry of GET /conversations.
type ConversationSummary struct {
	ConversationID string `json:"conversation_id"`
	LastModified   string `json:"last_modified"`
	MessageCount   int    `json:"message_count"`
	Status         string `json:"status"`
	UserIntent     string `json:"user_intent"`
}

// LastModifiedTime parses the LastModified timestamp.
func (s *ConversationSummary) LastModifiedTime() (time.Time, error) {
	return parseISOTime(s.LastModified)
}

// ConversationsResponse is the body of GET /conversations. The backend
// sorts entries newest first.
type ConversationsResponse struct {
	Conversations []ConversationSummary `json:"conversations"`
}

// =============================================================================
// Conversation History
// =============================================================================

// HistoryMessage is one saved message of a conversation.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConversationState is the saved workflow state of a conversation. The
// backend persists it next to the messages and restores it when the
// conversation continues.
type ConversationState struct {
	UserIntent            string            `json:"user_intent,omitempty"`
	InGatheringPhase      bool              `json:"in_gathering_phase"`
	InfoCollected         map[string]string `json:"info_collected,omitempty"`
	InfoNeededList        []string          `json:"info_needed_list,omitempty"`
	GatheringStep         int               `json:"gathering_step"`
	AnalysisComplete      bool              `json:"analysis_complete"`
	HasSufficientInfo     bool              `json:"has_sufficient_info"`
	CurrentQuestionTarget string            `json:"current_question_target,omitempty"`
	MessageType           string            `json:"message_type,omitempty"`
}

// Status derives the conversation status the way the backend does when it
// lists conversations.
func (s *ConversationState) Status() string {
	switch {
	case s.HasSufficientInfo:
		return StatusCompleted
	case s.InGatheringPhase:
		return StatusGatheringInfo
	default:
		return StatusAnalyzing
	}
}

// ConversationHistory is the body of GET /history/{id}.
type ConversationHistory struct {
	Messages    []HistoryMessage  `json:"messages"`
	State       ConversationState `json:"state"`
	LastUpdated string            `json:"last_updated,omitempty"`
}

// LastUpdatedTime parses the LastUpdated timestamp.
func (h *ConversationHistory) LastUpdatedTime() (time.Time, error) {
	return parseISOTime(h.LastUpdated)
}

// DeleteResponse is the body of DELETE /history/{id}.
type DeleteResponse struct {
	Message string `json:"message"`
}

// =============================================================================
// Monitoring
// =============================================================================

// HealthStatusHealthy is the status a healthy backend reports.
const HealthStatusHealthy = "healthy"

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// ServiceInfo is the body of GET /.
type ServiceInfo struct {
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Status   string   `json:"status"`
	Features []string `json:"features"`
}
