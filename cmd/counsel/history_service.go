// Copyright (C) 2026 Madhan S (github.com/madhans476)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package main contains the HistoryService implementation.
//
// HistoryService wraps the assistant's conversation management REST
// surface: listing, fetching, and deleting stored conversations, plus
// the health and service info probes the status command uses. The
// streaming turn endpoint is separate (see turn_service.go).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/madhans476/family-law-assistant/pkg/api"
	"github.com/madhans476/family-law-assistant/pkg/validation"
)

// =============================================================================
// Errors
// =============================================================================

// ErrConversationNotFound reports that the requested conversation does not
// exist on the backend. Callers match it with errors.Is to distinguish a
// missing conversation from a transport failure.
var ErrConversationNotFound = errors.New("conversation not found")

// =============================================================================
// HistoryService Interface
// =============================================================================

// HistoryService provides access to stored conversations and backend
// health.
//
// # Description
//
// All methods perform one HTTP round trip and decode the JSON body into
// the types of pkg/api. Conversation IDs are validated before any path is
// built from them, so a hostile ID never reaches the wire.
//
// # Thread Safety
//
// Implementations are safe for concurrent use; the history clear command
// deletes conversations from several goroutines at once.
type HistoryService interface {
	// ListConversations returns all stored conversations, newest first
	// (the backend sorts them).
	ListConversations(ctx context.Context) ([]api.ConversationSummary, error)

	// GetHistory returns the full stored history of one conversation.
	// Returns ErrConversationNotFound if the ID is unknown.
	GetHistory(ctx context.Context, conversationID string) (*api.ConversationHistory, error)

	// DeleteConversation removes one conversation from the backend.
	// Returns ErrConversationNotFound if the ID is unknown.
	DeleteConversation(ctx context.Context, conversationID string) (*api.DeleteResponse, error)

	// CheckHealth probes GET /health.
	CheckHealth(ctx context.Context) (*api.HealthResponse, error)

	// GetServiceInfo fetches the service banner from GET /.
	GetServiceInfo(ctx context.Context) (*api.ServiceInfo, error)
}

// HistoryHTTPClient abstracts HTTP execution for the history service.
//
// # Description
//
// This interface is separate from stream.HTTPClient because history
// endpoints use the standard Do method pattern (GET and DELETE verbs)
// while the streaming turn uses a single long-lived POST.
//
// # Examples
//
//	type mockHistoryHTTPClient struct {
//	    doFunc func(*http.Request) (*http.Response, error)
//	}
//
//	func (m *mockHistoryHTTPClient) Do(req *http.Request) (*http.Response, error) {
//	    return m.doFunc(req)
//	}
//
// # Assumptions
//
//   - Caller handles response body closing
type HistoryHTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// =============================================================================
// Implementation
// =============================================================================

// assistantHistoryService implements HistoryService against the assistant
// backend.
type assistantHistoryService struct {
	baseURL string
	client  HistoryHTTPClient
}

// HistoryServiceConfig configures NewHistoryService.
type HistoryServiceConfig struct {
	// BaseURL of the assistant backend, without trailing slash (required).
	BaseURL string

	// Timeout bounds each request. Defaults to 15 seconds.
	Timeout time.Duration
}

// NewHistoryService creates a history service with a production HTTP
// client.
//
// # Inputs
//
//   - config: HistoryServiceConfig with base URL and optional timeout
//
// # Outputs
//
//   - HistoryService: Ready for use (returns interface type)
//
// # Examples
//
//	service := NewHistoryService(HistoryServiceConfig{
//	    BaseURL: "http://localhost:8000",
//	})
//	conversations, err := service.ListConversations(ctx)
func NewHistoryService(config HistoryServiceConfig) HistoryService {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &assistantHistoryService{
		baseURL: config.BaseURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// NewHistoryServiceWithClient creates a history service with an injected
// HTTP client, for tests.
func NewHistoryServiceWithClient(client HistoryHTTPClient, baseURL string) *assistantHistoryService {
	return &assistantHistoryService{
		baseURL: baseURL,
		client:  client,
	}
}

// =============================================================================
// HistoryService Methods
// =============================================================================

// ListConversations returns all stored conversations.
func (s *assistantHistoryService) ListConversations(ctx context.Context) ([]api.ConversationSummary, error) {
	var response api.ConversationsResponse
	if err := s.getJSON(ctx, s.baseURL+"/conversations", &response); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return response.Conversations, nil
}

// GetHistory returns the stored history of one conversation.
func (s *assistantHistoryService) GetHistory(ctx context.Context, conversationID string) (*api.ConversationHistory, error) {
	if err := validation.ValidateConversationID(conversationID); err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}

	var history api.ConversationHistory
	if err := s.getJSON(ctx, s.baseURL+"/history/"+conversationID, &history); err != nil {
		return nil, fmt.Errorf("get history %s: %w", conversationID, err)
	}
	return &history, nil
}

// DeleteConversation removes one conversation.
func (s *assistantHistoryService) DeleteConversation(ctx context.Context, conversationID string) (*api.DeleteResponse, error) {
	if err := validation.ValidateConversationID(conversationID); err != nil {
		return nil, fmt.Errorf("delete conversation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.baseURL+"/history/"+conversationID, nil)
	if err != nil {
		return nil, fmt.Errorf("delete conversation %s: %w", conversationID, err)
	}

	var response api.DeleteResponse
	if err := s.doJSON(req, &response); err != nil {
		return nil, fmt.Errorf("delete conversation %s: %w", conversationID, err)
	}
	return &response, nil
}

// CheckHealth probes the backend liveness endpoint.
func (s *assistantHistoryService) CheckHealth(ctx context.Context) (*api.HealthResponse, error) {
	var health api.HealthResponse
	if err := s.getJSON(ctx, s.baseURL+"/health", &health); err != nil {
		return nil, fmt.Errorf("check health: %w", err)
	}
	return &health, nil
}

// GetServiceInfo fetches the service banner.
func (s *assistantHistoryService) GetServiceInfo(ctx context.Context) (*api.ServiceInfo, error) {
	var info api.ServiceInfo
	if err := s.getJSON(ctx, s.baseURL+"/", &info); err != nil {
		return nil, fmt.Errorf("get service info: %w", err)
	}
	return &info, nil
}

// =============================================================================
// Helpers
// =============================================================================

// getJSON performs a GET and decodes the response body into out.
func (s *assistantHistoryService) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return s.doJSON(req, out)
}

// doJSON executes the request and decodes a successful JSON response into
// out. Non-2xx statuses become errors; 404 maps to
// ErrConversationNotFound.
func (s *assistantHistoryService) doJSON(req *http.Request, out any) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrConversationNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("backend returned %s: %s", resp.Status, readErrorDetail(resp.Body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// readErrorDetail extracts the backend's error description from a failure
// body. The backend wraps error text in a detail field; anything else is
// returned as-is, truncated to keep log lines sane.
func readErrorDetail(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(raw) == 0 {
		return "no error detail"
	}

	var detail struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &detail); err == nil && detail.Detail != "" {
		return detail.Detail
	}
	return string(raw)
}

// Compile-time interface compliance check.
var _ HistoryService = (*assistantHistoryService)(nil)
