// Copyright (C) 2026 Madhan S (github.com/madhans476)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package stream implements the client side of the assistant's streaming
// chat protocol.
//
// This file contains the line assembler, the lowest layer of the pipeline.
// It restores line boundaries from a byte stream whose chunk boundaries
// carry no meaning.
package stream

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

// LineAssembler reassembles complete text lines from an arbitrarily chunked
// byte stream.
//
// A chunk may end in the middle of a line or in the middle of a multi-byte
// UTF-8 sequence. The assembler carries the undecoded tail bytes of an
// incomplete rune and the decoded text of the current unterminated line
// between Push calls, so the sequence of emitted lines is identical no
// matter how the input was chunked.
//
// Lines are terminated by LF; a trailing CR is stripped. A line is never
// emitted before its terminator arrives. Call Flush once the byte source is
// exhausted to obtain the final unterminated fragment, if any.
//
// Not safe for concurrent use; an assembler belongs to exactly one stream.
type LineAssembler struct {
	tail     []byte          // undecoded bytes of a rune split across chunks
	line     strings.Builder // decoded text of the current unterminated line
	consumed int64           // total bytes pushed, for error positions
	err      error           // sticky decode failure
}

// NewLineAssembler creates an empty assembler.
func NewLineAssembler() *LineAssembler {
	return &LineAssembler{}
}

// Push consumes one chunk and returns the complete lines it finished, in
// order. A nil slice means no line terminator has arrived yet.
//
// The returned error is always a *DecodeError and is fatal: once Push
// fails, the assembler refuses further input with the same error.
func (a *LineAssembler) Push(chunk []byte) ([]string, error) {
	if a.err != nil {
		return nil, a.err
	}
	if len(chunk) == 0 {
		return nil, nil
	}

	start := a.consumed - int64(len(a.tail))
	a.consumed += int64(len(chunk))

	data := chunk
	if len(a.tail) > 0 {
		merged := make([]byte, 0, len(a.tail)+len(chunk))
		merged = append(merged, a.tail...)
		merged = append(merged, chunk...)
		data = merged
		a.tail = nil
	}

	// Hold back an incomplete trailing rune so the next chunk can finish it.
	if keep := incompleteTailLen(data); keep > 0 {
		a.tail = append([]byte(nil), data[len(data)-keep:]...)
		data = data[:len(data)-keep]
	}

	if i := firstInvalidByte(data); i >= 0 {
		a.err = &DecodeError{Offset: start + int64(i), Byte: data[i]}
		return nil, a.err
	}

	var lines []string
	for {
		nl := bytes.IndexByte(data, '\n')
		if nl < 0 {
			break
		}
		a.line.Write(data[:nl])
		lines = append(lines, dropCR(a.line.String()))
		a.line.Reset()
		data = data[nl+1:]
	}
	a.line.Write(data)
	return lines, nil
}

// Flush terminates the stream and returns the final unterminated line. ok
// is false when no fragment was pending. Flush fails when the stream ended
// in the middle of a multi-byte character, which no input can repair.
func (a *LineAssembler) Flush() (line string, ok bool, err error) {
	if a.err != nil {
		return "", false, a.err
	}
	if len(a.tail) > 0 {
		a.err = &DecodeError{
			Offset:    a.consumed - int64(len(a.tail)),
			Byte:      a.tail[0],
			Truncated: true,
		}
		return "", false, a.err
	}
	if a.line.Len() == 0 {
		return "", false, nil
	}
	line = dropCR(a.line.String())
	a.line.Reset()
	return line, true, nil
}

// incompleteTailLen reports how many trailing bytes of data form the prefix
// of a UTF-8 sequence that a later chunk could still complete. It returns 0
// when data ends on a rune boundary or ends with bytes no continuation
// could ever repair.
func incompleteTailLen(data []byte) int {
	end := len(data)
	if end == 0 {
		return 0
	}

	start := end - 1
	for start >= 0 && end-start < utf8.UTFMax && data[start]&0xC0 == 0x80 {
		start--
	}
	if start < 0 {
		// Continuation bytes with no lead in sight; never valid.
		return 0
	}

	// Leads below 0xC2 or above 0xF4 can never start a valid sequence, so
	// they are left in place for validation to reject right away.
	var size int
	switch lead := data[start]; {
	case lead&0x80 == 0x00:
		return 0
	case lead&0xE0 == 0xC0 && lead >= 0xC2:
		size = 2
	case lead&0xF0 == 0xE0:
		size = 3
	case lead&0xF8 == 0xF0 && lead <= 0xF4:
		size = 4
	default:
		return 0
	}

	if n := end - start; n < size {
		return n
	}
	return 0
}

// firstInvalidByte returns the index of the first byte that cannot belong
// to any valid UTF-8 encoding, or -1 when data is entirely valid.
func firstInvalidByte(data []byte) int {
	for i := 0; i < len(data); {
		if data[i] < utf8.RuneSelf {
			i++
			continue
		}
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			return i
		}
		i += size
	}
	return -1
}

// dropCR strips one trailing carriage return, normalizing CRLF line
// endings to LF.
func dropCR(s string) string {
	if n := len(s); n > 0 && s[n-1] == '\r' {
		return s[:n-1]
	}
	return s
}
