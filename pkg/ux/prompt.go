// Copyright (C) 2026 Madhan S (github.com/madhans476)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides user experience components for the counsel CLI.
//
// This file contains interactive prompts built on huh forms, themed to
// match the counsel palette.
package ux

import (
	"fmt"

	"github.com/charmbracelet/huh"
)

// =============================================================================
// Helpers
// =============================================================================

// truncate shortens s to maxLen characters, appending "..." when truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}

// counselTheme returns a huh theme matching the counsel palette.
func counselTheme() *huh.Theme {
	t := huh.ThemeBase()

	t.Focused.Base = t.Focused.Base.BorderForeground(ColorIndigoDeep)
	t.Focused.Title = t.Focused.Title.Foreground(ColorIndigoBright).Bold(true)
	t.Focused.Description = t.Focused.Description.Foreground(ColorSlate)
	t.Focused.SelectSelector = t.Focused.SelectSelector.Foreground(ColorIndigoPrimary)
	t.Focused.SelectedOption = t.Focused.SelectedOption.Foreground(ColorIndigoBright)
	t.Focused.FocusedButton = t.Focused.FocusedButton.Background(ColorIndigoVibrant)
	t.Focused.BlurredButton = t.Focused.BlurredButton.Background(ColorInkwell).Foreground(ColorSlate)
	t.Focused.ErrorIndicator = t.Focused.ErrorIndicator.Foreground(ColorError)
	t.Focused.ErrorMessage = t.Focused.ErrorMessage.Foreground(ColorError)
	t.Focused.TextInput.Prompt = t.Focused.TextInput.Prompt.Foreground(ColorIndigoPrimary)
	t.Focused.TextInput.Cursor = t.Focused.TextInput.Cursor.Foreground(ColorIndigoBright)

	t.Blurred.Title = t.Blurred.Title.Foreground(ColorSlate)

	return t
}

// =============================================================================
// Prompt Types
// =============================================================================

// PromptOption is one selectable choice in a prompt.
type PromptOption struct {
	// Label is the display text for the option
	Label string

	// Description is optional help text shown with the option
	Description string

	// Value is returned when this option is selected
	Value string

	// Recommended marks the option the prompt suggests
	Recommended bool
}

// =============================================================================
// Prompts
// =============================================================================

// Confirm asks a yes/no question and returns the user's choice.
//
// Returns an error when the terminal is not interactive; callers should
// offer a --force style flag for scripted use.
func Confirm(title, description string, defaultValue bool) (bool, error) {
	if !IsInteractive() {
		return false, fmt.Errorf("cannot prompt for confirmation: not an interactive terminal")
	}

	confirmed := defaultValue
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(title).
			Description(description).
			Affirmative("Yes").
			Negative("No").
			Value(&confirmed),
	)).WithTheme(counselTheme())

	if err := form.Run(); err != nil {
		return false, fmt.Errorf("confirmation prompt: %w", err)
	}
	return confirmed, nil
}

// SelectOption presents a list of options and returns the chosen value.
//
// Recommended options are labelled as such. Returns an error when the
// terminal is not interactive.
func SelectOption(title string, options []PromptOption) (string, error) {
	if !IsInteractive() {
		return "", fmt.Errorf("cannot prompt for selection: not an interactive terminal")
	}
	if len(options) == 0 {
		return "", fmt.Errorf("no options to select from")
	}

	huhOptions := make([]huh.Option[string], 0, len(options))
	for _, opt := range options {
		label := opt.Label
		if opt.Recommended {
			label += " (recommended)"
		}
		if opt.Description != "" {
			label += " " + Styles.Muted.Render("- "+truncate(opt.Description, 48))
		}
		huhOptions = append(huhOptions, huh.NewOption(label, opt.Value))
	}

	var selected string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title(title).
			Options(huhOptions...).
			Value(&selected),
	)).WithTheme(counselTheme())

	if err := form.Run(); err != nil {
		return "", fmt.Errorf("selection prompt: %w", err)
	}
	return selected, nil
}

// PromptInput asks for a single line of text. validate may be nil.
func PromptInput(title, placeholder string, validate func(string) error) (string, error) {
	if !IsInteractive() {
		return "", fmt.Errorf("cannot prompt for input: not an interactive terminal")
	}

	input := huh.NewInput().
		Title(title).
		Placeholder(placeholder)
	if validate != nil {
		input = input.Validate(validate)
	}

	var value string
	input = input.Value(&value)

	form := huh.NewForm(huh.NewGroup(input)).WithTheme(counselTheme())
	if err := form.Run(); err != nil {
		return "", fmt.Errorf("input prompt: %w", err)
	}
	return value, nil
}
