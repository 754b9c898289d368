// Copyright (C) 2026 Madhan S (github.com/madhans476)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package api defines the request and response types of the assistant
// service's REST surface.
//
// This file contains the chat request type. History and monitoring types
// live in history.go. The streaming frame payloads themselves are decoded in
// pkg/stream; this package covers everything around them.
package api

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/madhans476/family-law-assistant/pkg/validation"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// queryValidate is the validator instance for chat types.
// Initialized in init() with custom validators.
var queryValidate *validator.Validate

func init() {
	queryValidate = validator.New()

	_ = queryValidate.RegisterValidation("convid", validateConversationID)
}

// validateConversationID adapts validation.ValidateConversationID to a
// validator tag so struct validation and path validation cannot drift apart.
func validateConversationID(fl validator.FieldLevel) bool {
	return validation.ValidateConversationID(fl.Field().String()) == nil
}

// =============================================================================
// Chat Request Types
// =============================================================================

// QueryRequest is the body of POST /chat/stream.
//
// # Fields
//
//   - Query: Required. The user's question, at most 2000 characters.
//   - ConversationID: Optional. Continues an existing conversation. When
//     omitted the backend mints a new ID and announces it in the first
//     metadata event of the stream.
//   - RequestID: Optional. Client-generated UUID v4 for correlating the
//     request across client logs and server logs.
//   - Timestamp: Optional. Unix timestamp in milliseconds (UTC) when the
//     request was created.
//
// The backend ignores fields it does not know, so RequestID and Timestamp
// are safe to send even to servers that predate them.
//
// # Validation
//
// Uses go-playground/validator:
//   - Query: required, at most 2000 characters
//   - ConversationID: when present, must satisfy validation.ValidateConversationID
//   - RequestID: when present, must be a valid UUID v4
//
// # Examples
//
//	req := api.QueryRequest{Query: "Can I file for divorce?"}
//	req.EnsureDefaults()
//	if err := req.Validate(); err != nil {
//	    return fmt.Errorf("invalid request: %w", err)
//	}
type QueryRequest struct {
	Query          string `json:"query" validate:"required,max=2000"`
	ConversationID string `json:"conversation_id,omitempty" validate:"omitempty,convid"`
	RequestID      string `json:"request_id,omitempty" validate:"omitempty,uuid4"`
	Timestamp      int64  `json:"timestamp,omitempty" validate:"omitempty,gt=0"`
}

// Validate validates the QueryRequest fields. Call it after binding or
// before sending.
func (r *QueryRequest) Validate() error {
	return queryValidate.Struct(r)
}

// EnsureDefaults populates RequestID and Timestamp if the caller left them
// empty, so every request is traceable.
func (r *QueryRequest) EnsureDefaults() {
	if r.RequestID == "" {
		r.RequestID = uuid.New().String()
	}
	if r.Timestamp == 0 {
		r.Timestamp = time.Now().UnixMilli()
	}
}
