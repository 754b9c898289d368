// Copyright (C) 2026 Madhan S (github.com/madhans476)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation for user-provided values
// before they leave the client.
//
// Queries are forwarded verbatim to the assistant service, and conversation
// IDs are interpolated into request paths. Validating both up front keeps
// binary garbage out of the stream and prevents path manipulation through a
// crafted conversation ID.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxQueryLength is the longest query the assistant accepts, in characters.
const MaxQueryLength = 2000

// conversationIDPattern matches conversation IDs the backend mints
// (conv_20260114_153045) plus anything a reasonable export tool would
// produce. Max length: 100 characters.
var conversationIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]{0,99}$`)

// ValidateQuery validates a user question before it is sent to the
// assistant.
//
// Valid queries:
//   - Non-empty after trimming surrounding whitespace
//   - At most MaxQueryLength characters
//   - No control characters other than tab and line breaks
//
// Returns an error describing the first violation.
func ValidateQuery(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return fmt.Errorf("query cannot be empty")
	}

	if n := utf8.RuneCountInString(trimmed); n > MaxQueryLength {
		return fmt.Errorf("query too long: %d characters (max %d)", n, MaxQueryLength)
	}

	for _, r := range trimmed {
		if r == '\n' || r == '\r' || r == '\t' {
			continue
		}
		if r < 0x20 || r == 0x7F {
			return fmt.Errorf("query contains control character %U", r)
		}
	}

	return nil
}

// ValidateConversationID validates a conversation ID before it is used in a
// request path.
//
// Valid IDs:
//   - 1-100 characters
//   - Letters, digits, underscores, hyphens
//   - First character alphanumeric
//
// An empty ID is invalid here; callers that treat "no ID" as "start a new
// conversation" should skip validation for the empty string.
//
// Example:
//
//	if err := validation.ValidateConversationID(id); err != nil {
//	    return fmt.Errorf("invalid conversation: %w", err)
//	}
//	// Safe to place in a URL path
func ValidateConversationID(id string) error {
	if id == "" {
		return fmt.Errorf("conversation ID cannot be empty")
	}

	if !conversationIDPattern.MatchString(id) {
		return fmt.Errorf("invalid conversation ID: %q (must be 1-100 alphanumeric chars, underscores, or hyphens)", id)
	}

	return nil
}

// SanitizeQuery normalizes and validates a user question.
// Returns the trimmed query with Windows line endings folded to '\n', or an
// error if the result is not a valid query.
func SanitizeQuery(query string) (string, error) {
	normalized := strings.TrimSpace(query)
	normalized = strings.ReplaceAll(normalized, "\r\n", "\n")
	if err := ValidateQuery(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
