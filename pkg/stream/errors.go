// Copyright (C) 2026 Madhan S (github.com/madhans476)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package stream implements the client side of the assistant's streaming
// chat protocol.
//
// This file defines the error kinds a turn can end with. Only
// MalformedFrameError is recoverable; every other kind terminates the turn
// and surfaces exactly once through the session's completion callback.
package stream

import (
	"context"
	"fmt"
)

// DecodeError reports bytes that can never decode to valid text no matter
// what input follows. It is fatal for the stream.
type DecodeError struct {
	// Offset is the absolute byte position of the offending sequence.
	Offset int64

	// Byte is the first byte of the offending sequence.
	Byte byte

	// Truncated is set when the stream ended inside a multi-byte character.
	Truncated bool
}

func (e *DecodeError) Error() string {
	if e.Truncated {
		return fmt.Sprintf("decode stream: truncated UTF-8 sequence starting 0x%02x at byte %d", e.Byte, e.Offset)
	}
	return fmt.Sprintf("decode stream: invalid UTF-8 byte 0x%02x at byte %d", e.Byte, e.Offset)
}

// MalformedFrameError reports one data: frame whose payload could not be
// used. It is local to the offending line: the session logs it and keeps
// reading, so a single corrupt frame never kills a healthy stream.
type MalformedFrameError struct {
	// Line is the offending input, clipped for logging.
	Line string

	// Reason says what was wrong with it.
	Reason string

	// Err is the underlying unmarshal or validation error, may be nil.
	Err error
}

func (e *MalformedFrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed frame (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed frame (%s)", e.Reason)
}

func (e *MalformedFrameError) Unwrap() error { return e.Err }

// BackendError is an explicit error event received from the assistant.
type BackendError struct {
	Message string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("assistant reported an error: %s", e.Message)
}

// TransportError reports a failed exchange: the request could not be sent,
// the server answered with a non-success status, or the body ended before a
// terminal event arrived.
type TransportError struct {
	// Op is the stage that failed: "connect", "status", or "read".
	Op string

	// StatusCode is set when Op is "status".
	StatusCode int

	Err error
}

func (e *TransportError) Error() string {
	switch {
	case e.Op == "status" && e.Err != nil:
		return fmt.Sprintf("transport: server returned status %d: %v", e.StatusCode, e.Err)
	case e.Op == "status":
		return fmt.Sprintf("transport: server returned status %d", e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("transport: %s failed", e.Op)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// CancellationError reports a caller-initiated cancellation. It is terminal
// for the turn but is not a failure of the exchange itself; callers should
// not present it the way they present BackendError or TransportError.
type CancellationError struct {
	Err error
}

func (e *CancellationError) Error() string {
	return "turn cancelled"
}

// Unwrap always reaches context.Canceled so errors.Is(err,
// context.Canceled) holds for cancelled turns.
func (e *CancellationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return context.Canceled
}
