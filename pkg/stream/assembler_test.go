// Copyright (C) 2026 Madhan S (github.com/madhans476)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stream

import (
	"errors"
	"strings"
	"testing"
)

// =============================================================================
// Line Assembler Tests
// =============================================================================

// collect pushes the input in chunks of the given sizes (cycling) and
// returns all emitted lines plus the flushed fragment.
func collect(t *testing.T, input []byte, chunkSize int) []string {
	t.Helper()

	asm := NewLineAssembler()
	var lines []string

	for start := 0; start < len(input); start += chunkSize {
		end := start + chunkSize
		if end > len(input) {
			end = len(input)
		}
		got, err := asm.Push(input[start:end])
		if err != nil {
			t.Fatalf("Push(%d:%d) failed: %v", start, end, err)
		}
		lines = append(lines, got...)
	}

	final, ok, err := asm.Flush()
	if err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
	if ok {
		lines = append(lines, final)
	}
	return lines
}

func TestLineAssembler_SingleChunk(t *testing.T) {
	asm := NewLineAssembler()

	lines, err := asm.Push([]byte("first\nsecond\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), lines)
	}
	if lines[0] != "first" || lines[1] != "second" {
		t.Errorf("unexpected lines: %q", lines)
	}
}

func TestLineAssembler_LineSplitAcrossChunks(t *testing.T) {
	asm := NewLineAssembler()

	lines, err := asm.Push([]byte(`data: {"type":"tok`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("expected no line before the terminator, got %q", lines)
	}

	lines, err = asm.Push([]byte("en\",\"content\":\"Hi\"}\n\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), lines)
	}
	if lines[0] != `data: {"type":"token","content":"Hi"}` {
		t.Errorf("reassembled line = %q", lines[0])
	}
	if lines[1] != "" {
		t.Errorf("expected blank second line, got %q", lines[1])
	}
}

func TestLineAssembler_RuneSplitAcrossChunks(t *testing.T) {
	// "§" is 0xC2 0xA7, "€" is 0xE2 0x82 0xAC, "𝕊" is 4 bytes.
	input := []byte("section §12\neuro €\nmath 𝕊\n")

	want := collect(t, input, len(input))
	for size := 1; size <= 5; size++ {
		got := collect(t, input, size)
		if len(got) != len(want) {
			t.Fatalf("chunk size %d: got %d lines, want %d", size, len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("chunk size %d, line %d: got %q, want %q", size, i, got[i], want[i])
			}
		}
	}
}

func TestLineAssembler_ChunkingInvariance(t *testing.T) {
	input := []byte("data: {\"type\":\"token\",\"content\":\"héllo wörld\"}\n\ndata: {\"type\":\"done\"}\n\n")

	want := strings.Join(collect(t, input, len(input)), "\x00")
	for size := 1; size < len(input); size++ {
		got := strings.Join(collect(t, input, size), "\x00")
		if got != want {
			t.Fatalf("chunk size %d changed output:\ngot  %q\nwant %q", size, got, want)
		}
	}
}

func TestLineAssembler_CRLF(t *testing.T) {
	asm := NewLineAssembler()

	lines, err := asm.Push([]byte("one\r\ntwo\r\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != 2 || lines[0] != "one" || lines[1] != "two" {
		t.Errorf("unexpected lines: %q", lines)
	}
}

func TestLineAssembler_CRSplitFromLF(t *testing.T) {
	asm := NewLineAssembler()

	if _, err := asm.Push([]byte("one\r")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines, err := asm.Push([]byte("\ntwo\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != 2 || lines[0] != "one" || lines[1] != "two" {
		t.Errorf("unexpected lines: %q", lines)
	}
}

func TestLineAssembler_FlushReturnsFinalFragment(t *testing.T) {
	asm := NewLineAssembler()

	if _, err := asm.Push([]byte("complete\npartial")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	final, ok, err := asm.Flush()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected a final fragment")
	}
	if final != "partial" {
		t.Errorf("final fragment = %q, want %q", final, "partial")
	}
}

func TestLineAssembler_FlushEmpty(t *testing.T) {
	asm := NewLineAssembler()

	if _, err := asm.Push([]byte("terminated\n")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, ok, err := asm.Flush()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected no final fragment after a terminated line")
	}
}

func TestLineAssembler_EmptyChunk(t *testing.T) {
	asm := NewLineAssembler()

	lines, err := asm.Push(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lines != nil {
		t.Errorf("expected no lines from an empty chunk, got %q", lines)
	}
}

// -----------------------------------------------------------------------------
// Decode Failures
// -----------------------------------------------------------------------------

func TestLineAssembler_InvalidByte(t *testing.T) {
	asm := NewLineAssembler()

	_, err := asm.Push([]byte{'o', 'k', 0xFF, 'x'})
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected *DecodeError, got %v", err)
	}
	if decodeErr.Offset != 2 {
		t.Errorf("Offset = %d, want 2", decodeErr.Offset)
	}
	if decodeErr.Byte != 0xFF {
		t.Errorf("Byte = 0x%02x, want 0xff", decodeErr.Byte)
	}
}

func TestLineAssembler_BareContinuationByte(t *testing.T) {
	asm := NewLineAssembler()

	if _, err := asm.Push([]byte("a")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := asm.Push([]byte{0xA7})
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected *DecodeError for a continuation byte with no lead, got %v", err)
	}
}

func TestLineAssembler_OverlongLeadByte(t *testing.T) {
	// 0xC0 can never start a valid sequence.
	asm := NewLineAssembler()

	_, err := asm.Push([]byte{0xC0})
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected *DecodeError for lead 0xC0, got %v", err)
	}
}

func TestLineAssembler_TruncatedRuneAtEOF(t *testing.T) {
	asm := NewLineAssembler()

	// First two bytes of "€"; the stream ends before the third.
	if _, err := asm.Push([]byte{0xE2, 0x82}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, _, err := asm.Flush()
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected *DecodeError, got %v", err)
	}
	if !decodeErr.Truncated {
		t.Error("expected Truncated to be set")
	}
}

func TestLineAssembler_ErrorIsSticky(t *testing.T) {
	asm := NewLineAssembler()

	_, first := asm.Push([]byte{0xFF})
	if first == nil {
		t.Fatal("expected an error")
	}
	_, second := asm.Push([]byte("fine\n"))
	if second != first {
		t.Errorf("expected the same error on further pushes, got %v", second)
	}
}
