// Copyright (C) 2026 Madhan S (github.com/madhans476)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package main contains the counsel CLI chat runner interfaces.
//
// This file defines the ChatRunner contract for the interactive loop and
// the InputReader implementations it reads from. The runner coordinates
// three collaborators and nothing else:
//
//	cmd_chat.go → ChatRunner → TurnService (streaming turns, turn_service.go)
//	                           InputReader (stdin abstraction, this file)
//	                           ChatUI (chrome, pkg/ux)
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
)

// =============================================================================
// ChatRunner Interface
// =============================================================================

// ChatRunner runs an interactive chat session until the user exits or the
// context is cancelled.
//
// # Description
//
// Run blocks for the whole session. It returns nil when the user types
// "exit" or input reaches EOF, context.Canceled after a graceful
// shutdown, and an error only for unrecoverable failures. Turn-level
// errors (backend down, malformed stream) are displayed and the loop
// continues.
//
// Callers MUST call Close() when done, typically via defer. Runners are
// single-use: Run cannot be called again after it returns.
//
// # Examples
//
//	runner := NewAssistantChatRunner(cfg)
//	defer runner.Close()
//
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	if err := runner.Run(ctx); err != nil && err != context.Canceled {
//	    log.Fatal(err)
//	}
type ChatRunner interface {
	// Run executes the chat loop until exit, EOF, error, or cancellation.
	Run(ctx context.Context) error

	// Interrupt cancels the in-flight turn, if any, without ending the
	// session. The chat command calls this on the first Ctrl-C; a second
	// Ctrl-C cancels the run context itself.
	Interrupt()

	// Close releases the runner's resources. Idempotent.
	Close() error
}

// =============================================================================
// InputReader Interface
// =============================================================================

// InputReader abstracts line-oriented user input so the chat loop can be
// unit tested without a terminal.
//
// ReadLine blocks until a line is available and returns it trimmed.
// io.EOF means the input source is exhausted (Ctrl+D, closed pipe, or a
// mock running out of lines).
type InputReader interface {
	// ReadLine reads one line, trimmed of surrounding whitespace.
	ReadLine() (string, error)
}

// PromptingInputReader marks input readers that draw their own prompt
// (the interactive bubbletea reader does). The chat runner checks for
// this interface to avoid printing the prompt twice:
//
//	if p, ok := reader.(PromptingInputReader); ok {
//	    p.SetPrompt(promptString)
//	} else {
//	    fmt.Print(promptString)
//	}
//	line, err := reader.ReadLine()
type PromptingInputReader interface {
	InputReader
	// SetPrompt sets the prompt string drawn before input.
	SetPrompt(prompt string)
}

// =============================================================================
// StdinReader Implementation
// =============================================================================

// StdinReader reads lines from os.Stdin through a bufio.Reader. The
// fallback for piped input and CI, and the base case the interactive
// reader degrades to off-terminal.
//
// Not safe for concurrent use; one reader per stdin.
type StdinReader struct {
	reader *bufio.Reader
}

// NewStdinReader creates a StdinReader wrapping os.Stdin. Create it once
// per session; each call allocates a fresh buffer.
func NewStdinReader() *StdinReader {
	return &StdinReader{
		reader: bufio.NewReader(os.Stdin),
	}
}

// ReadLine reads until newline and returns the trimmed line. Returns
// io.EOF when stdin closes. The blocking read cannot be interrupted; the
// chat loop checks its context before each call instead.
func (r *StdinReader) ReadLine() (string, error) {
	line, err := r.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// =============================================================================
// InteractiveInputReader Implementation
// =============================================================================

// InteractiveInputReader reads input through a bubbletea textinput with
// up/down-arrow history and line editing. History lives in memory only
// and is capped at maxHistory entries.
//
// Key handling during ReadLine:
//   - Enter submits the line
//   - Ctrl+C clears the line and returns ""
//   - Ctrl+D returns io.EOF
//   - Up/Down navigate history, preserving the in-progress line
//
// Not safe for concurrent use.
type InteractiveInputReader struct {
	history      []string
	historyIndex int
	maxHistory   int
	prompt       string
}

// inputModel is the bubbletea model for one ReadLine call.
type inputModel struct {
	textInput    textinput.Model
	history      []string
	historyIndex int
	currentInput string // In-progress line, saved while navigating history
	done         bool
	cancelled    bool
}

// NewInteractiveInputReader creates an interactive reader with history.
// Falls back to a plain StdinReader when stdin is not a terminal (piped
// input, CI), so callers can use the result unconditionally.
func NewInteractiveInputReader(maxHistory int) InputReader {
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return NewStdinReader()
	}

	return &InteractiveInputReader{
		history:      make([]string, 0, maxHistory),
		historyIndex: -1,
		maxHistory:   maxHistory,
		prompt:       "> ",
	}
}

// SetPrompt sets the prompt drawn by the textinput component.
func (r *InteractiveInputReader) SetPrompt(prompt string) {
	r.prompt = prompt
}

// ReadLine runs one bubbletea program for a single line of input.
// Non-empty submissions are added to history.
func (r *InteractiveInputReader) ReadLine() (string, error) {
	ti := textinput.New()
	ti.Prompt = r.prompt
	ti.Focus()
	ti.CharLimit = 4096
	ti.Width = 80

	m := inputModel{
		textInput:    ti,
		history:      r.history,
		historyIndex: -1,
	}

	// Render on stderr so stdout stays clean for answers and machine mode
	p := tea.NewProgram(m, tea.WithOutput(os.Stderr))
	finalModel, err := p.Run()
	if err != nil {
		return "", err
	}

	// finalModel should never be a different type when err is nil, but a
	// failed assertion here would panic the whole session
	result, ok := finalModel.(inputModel)
	if !ok {
		return "", fmt.Errorf("unexpected model type from bubbletea: %T", finalModel)
	}

	// Ctrl+D on an empty line is EOF
	if result.cancelled && result.textInput.Value() == "" {
		return "", io.EOF
	}

	input := strings.TrimSpace(result.textInput.Value())

	if input != "" {
		r.addToHistory(input)
	}

	return input, nil
}

// addToHistory appends an input, skipping immediate duplicates and
// trimming to maxHistory.
func (r *InteractiveInputReader) addToHistory(input string) {
	if len(r.history) > 0 && r.history[len(r.history)-1] == input {
		return
	}

	r.history = append(r.history, input)

	if len(r.history) > r.maxHistory {
		r.history = r.history[1:]
	}
}

// Init starts the cursor blink.
func (m inputModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles key events for one input line.
func (m inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyEnter:
			m.done = true
			return m, tea.Quit

		case tea.KeyCtrlC:
			// Clear the line, stay in the session
			m.textInput.SetValue("")
			m.done = true
			return m, tea.Quit

		case tea.KeyCtrlD:
			m.cancelled = true
			m.textInput.SetValue("")
			m.done = true
			return m, tea.Quit

		case tea.KeyUp:
			if len(m.history) == 0 {
				return m, nil
			}

			// Save the in-progress line when first entering history
			if m.historyIndex == -1 {
				m.currentInput = m.textInput.Value()
				m.historyIndex = len(m.history) - 1
			} else if m.historyIndex > 0 {
				m.historyIndex--
			}

			m.textInput.SetValue(m.history[m.historyIndex])
			m.textInput.CursorEnd()
			return m, nil

		case tea.KeyDown:
			if m.historyIndex == -1 {
				return m, nil
			}

			if m.historyIndex < len(m.history)-1 {
				m.historyIndex++
				m.textInput.SetValue(m.history[m.historyIndex])
			} else {
				// Past the newest entry: restore the in-progress line
				m.historyIndex = -1
				m.textInput.SetValue(m.currentInput)
			}
			m.textInput.CursorEnd()
			return m, nil
		}
	}

	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

// View renders the input line; empty once done so bubbletea clears it.
func (m inputModel) View() string {
	if m.done {
		return ""
	}
	return m.textInput.View()
}

// =============================================================================
// MockInputReader Implementation (for testing)
// =============================================================================

// MockInputReader returns predetermined inputs in order, then io.EOF.
// For single-threaded tests only.
type MockInputReader struct {
	inputs []string
	index  int
}

// NewMockInputReader creates a reader over a fixed input sequence.
//
//	mock := NewMockInputReader([]string{"my spouse filed for divorce", "exit"})
//	line1, _ := mock.ReadLine() // "my spouse filed for divorce"
//	line2, _ := mock.ReadLine() // "exit"
//	_, err := mock.ReadLine()   // io.EOF
func NewMockInputReader(inputs []string) *MockInputReader {
	return &MockInputReader{
		inputs: inputs,
		index:  0,
	}
}

// ReadLine returns the next input, or io.EOF when exhausted.
func (m *MockInputReader) ReadLine() (string, error) {
	if m.index >= len(m.inputs) {
		return "", io.EOF
	}
	line := m.inputs[m.index]
	m.index++
	return line, nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// isExitCommand reports whether a trimmed input ends the session.
// Case-sensitive: "exit" and "quit" only.
func isExitCommand(input string) bool {
	return input == "exit" || input == "quit"
}
