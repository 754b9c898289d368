// Copyright (C) 2026 Madhan S (github.com/madhans476)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// =============================================================================
// Chat Chrome Types
// =============================================================================

// HeaderConfig groups the optional fields of the chat session header, so
// new fields can be added without breaking Header callers.
type HeaderConfig struct {
	// ConversationID is set when resuming a stored conversation.
	ConversationID string

	// BaseURL is the assistant backend address, shown in full mode.
	BaseURL string
}

// SessionStats aggregates metrics across all turns of a chat session.
// Displayed by SessionEndRich when the session ends.
type SessionStats struct {
	// TurnCount is the number of user messages sent.
	TurnCount int

	// TokenEvents is the total number of streamed token events received.
	TokenEvents int

	// SourcesCited is the number of unique source titles referenced.
	SourcesCited int

	// Clarifications counts the turns the assistant answered with a
	// question instead of a final answer.
	Clarifications int

	// Duration is the total session duration.
	Duration time.Duration

	// FirstTurnLatency is the time to the first update of the first turn.
	FirstTurnLatency time.Duration
}

// =============================================================================
// ChatUI Interface
// =============================================================================

// ChatUI renders the chrome around a chat session: the header, the input
// prompt, errors, and the end-of-session summary. Token-by-token output
// of the turns themselves is the TurnRenderer's job.
type ChatUI interface {
	// Header displays the session header.
	Header(config HeaderConfig)

	// Prompt returns the styled input prompt string.
	Prompt() string

	// Error displays a turn error without ending the session.
	Error(err error)

	// Tip displays a usage hint. Silent outside full mode.
	Tip(text string)

	// SessionResume announces that a stored conversation was picked up.
	SessionResume(conversationID string, messageCount int)

	// SessionEnd displays a plain goodbye.
	SessionEnd(conversationID string)

	// SessionEndRich displays the end-of-session summary with stats.
	// Falls back to SessionEnd when stats is nil.
	SessionEndRich(conversationID string, stats *SessionStats)
}

// =============================================================================
// Terminal Implementation
// =============================================================================

// terminalChatUI implements ChatUI for terminal output.
type terminalChatUI struct {
	writer      io.Writer
	personality PersonalityLevel
}

// NewChatUI creates a ChatUI writing to stdout with the process-wide
// personality.
func NewChatUI() ChatUI {
	return &terminalChatUI{
		writer:      os.Stdout,
		personality: GetPersonality().Level,
	}
}

// NewChatUIWithWriter creates a ChatUI with a custom writer, for tests.
func NewChatUIWithWriter(w io.Writer, personality PersonalityLevel) ChatUI {
	return &terminalChatUI{
		writer:      w,
		personality: personality,
	}
}

// write formats to the writer. Terminal write errors have no meaningful
// recovery, so they are ignored.
func (u *terminalChatUI) write(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(u.writer, format, args...); err != nil {
		return
	}
}

// writeln writes a line to the writer.
func (u *terminalChatUI) writeln(args ...interface{}) {
	if _, err := fmt.Fprintln(u.writer, args...); err != nil {
		return
	}
}

// Header displays the session header, adapted to the personality level.
func (u *terminalChatUI) Header(config HeaderConfig) {
	switch u.personality {
	case PersonalityMachine:
		u.headerMachine(config)
	case PersonalityMinimal:
		u.headerMinimal(config)
	default:
		u.headerFull(config)
	}
}

// headerMachine renders the header as a single parseable line.
func (u *terminalChatUI) headerMachine(config HeaderConfig) {
	parts := []string{}
	if config.ConversationID != "" {
		parts = append(parts, fmt.Sprintf("conversation=%s", config.ConversationID))
	} else {
		parts = append(parts, "conversation=new")
	}
	if config.BaseURL != "" {
		parts = append(parts, fmt.Sprintf("backend=%s", config.BaseURL))
	}
	u.write("CHAT_START: %s\n", strings.Join(parts, " "))
}

// headerMinimal renders the header as plain text.
func (u *terminalChatUI) headerMinimal(config HeaderConfig) {
	u.writeln("Family Law Assistant")
	if config.ConversationID != "" {
		u.write("Conversation: %s\n", config.ConversationID)
	}
	u.writeln("Type 'exit' to end.")
}

// headerFull renders the boxed header with the disclaimer.
func (u *terminalChatUI) headerFull(config HeaderConfig) {
	var content strings.Builder
	content.WriteString(Styles.Highlight.Render(IconScales.Render() + " Family Law Assistant"))
	content.WriteString("\n")
	content.WriteString(Styles.Muted.Render("General legal information, not legal advice."))

	if config.BaseURL != "" {
		content.WriteString("\n")
		content.WriteString(fmt.Sprintf("Backend: %s", Styles.Muted.Render(config.BaseURL)))
	}
	if config.ConversationID != "" {
		content.WriteString("\n")
		content.WriteString(fmt.Sprintf("Conversation: %s", Styles.Muted.Render(config.ConversationID)))
	}

	boxStyle := Styles.Box.Width(60)
	u.writeln(boxStyle.Render(content.String()))
	u.writeln()
	u.writeln(Styles.Muted.Render("Describe your situation. Type 'exit' to end."))
	u.writeln()
}

// Prompt returns the styled input prompt string.
func (u *terminalChatUI) Prompt() string {
	if u.personality == PersonalityMachine {
		return "> "
	}
	return Styles.Highlight.Render("> ")
}

// Error displays a turn error.
func (u *terminalChatUI) Error(err error) {
	if u.personality == PersonalityMachine {
		u.write("CHAT_ERROR: %v\n", err)
		return
	}
	u.write("%s %s\n", IconError.Render(), Styles.Error.Render(fmt.Sprintf("Turn failed: %v", err)))
}

// Tip displays a usage hint in full mode.
func (u *terminalChatUI) Tip(text string) {
	if u.personality != PersonalityFull {
		return
	}
	u.writeln(Styles.Muted.Render(fmt.Sprintf("Tip: %s", text)))
}

// SessionResume announces a resumed conversation.
func (u *terminalChatUI) SessionResume(conversationID string, messageCount int) {
	if u.personality == PersonalityMachine {
		u.write("SESSION_RESUME: conversation=%s messages=%d\n", conversationID, messageCount)
		return
	}
	u.write("%s %s\n", IconSuccess.Render(),
		Styles.Success.Render(fmt.Sprintf("Resumed conversation %s (%d earlier messages)", conversationID, messageCount)))
}

// SessionEnd displays a plain goodbye with the conversation ID for resume.
func (u *terminalChatUI) SessionEnd(conversationID string) {
	if u.personality == PersonalityMachine {
		u.write("CHAT_END: conversation=%s\n", conversationID)
		return
	}
	if conversationID != "" {
		u.writeln(Styles.Muted.Render(fmt.Sprintf("Conversation: %s", conversationID)))
	}
	u.writeln("Goodbye!")
}

// SessionEndRich displays the end-of-session summary.
func (u *terminalChatUI) SessionEndRich(conversationID string, stats *SessionStats) {
	if stats == nil {
		u.SessionEnd(conversationID)
		return
	}

	switch u.personality {
	case PersonalityMachine:
		u.sessionEndMachine(conversationID, stats)
	case PersonalityMinimal:
		u.sessionEndMinimal(conversationID, stats)
	default:
		u.sessionEndFull(conversationID, stats)
	}
}

// sessionEndMachine renders the summary as a single parseable line.
func (u *terminalChatUI) sessionEndMachine(conversationID string, stats *SessionStats) {
	u.write("CHAT_END: conversation=%s turns=%d tokens=%d duration=%s\n",
		conversationID, stats.TurnCount, stats.TokenEvents, stats.Duration.Round(time.Millisecond))
}

// sessionEndMinimal renders the summary as plain lines.
func (u *terminalChatUI) sessionEndMinimal(conversationID string, stats *SessionStats) {
	u.writeln()
	if conversationID != "" {
		u.write("Conversation: %s\n", conversationID)
	}
	u.write("Turns: %d | Tokens: %d | Duration: %s\n",
		stats.TurnCount, stats.TokenEvents, formatDuration(stats.Duration))
	u.writeln("Goodbye!")
}

// sessionEndFull renders the boxed summary with resume instructions.
func (u *terminalChatUI) sessionEndFull(conversationID string, stats *SessionStats) {
	u.writeln()

	var content strings.Builder

	content.WriteString(Styles.Subtitle.Render("Consultation Summary"))
	content.WriteString("\n\n")

	if conversationID != "" {
		content.WriteString(fmt.Sprintf("  %s  %s\n",
			Styles.Muted.Render("ID:"),
			Styles.Highlight.Render(conversationID)))
		content.WriteString("\n")
	}

	content.WriteString(fmt.Sprintf("  %s  %d turns\n",
		IconBullet.Render(), stats.TurnCount))
	content.WriteString(fmt.Sprintf("  %s  %d token events\n",
		IconBullet.Render(), stats.TokenEvents))

	if stats.SourcesCited > 0 {
		content.WriteString(fmt.Sprintf("  %s  %d sources cited\n",
			IconSection.Render(), stats.SourcesCited))
	}
	if stats.Clarifications > 0 {
		content.WriteString(fmt.Sprintf("  %s  %d clarifying questions\n",
			IconQuestion.Render(), stats.Clarifications))
	}

	content.WriteString(fmt.Sprintf("  %s  %s session duration\n",
		IconBullet.Render(), formatDuration(stats.Duration)))
	if stats.FirstTurnLatency > 0 {
		content.WriteString(fmt.Sprintf("  %s  %s to first response\n",
			IconBullet.Render(), formatDuration(stats.FirstTurnLatency)))
	}

	if conversationID != "" {
		content.WriteString("\n")
		content.WriteString(Styles.Subtitle.Render("Continue Later"))
		content.WriteString("\n\n")
		content.WriteString(fmt.Sprintf("  %s\n",
			Styles.Muted.Render("Resume this conversation:")))
		content.WriteString(fmt.Sprintf("  %s\n",
			Styles.Success.Render(fmt.Sprintf("counsel chat --resume %s", conversationID))))
	}

	// Width 68 fits the resume command with a 36-character conversation ID.
	boxStyle := Styles.Box.Width(68)
	u.writeln(boxStyle.Render(content.String()))
	u.writeln()
	u.writeln(Styles.Highlight.Render("Goodbye!"))
}

// =============================================================================
// Formatting Helpers
// =============================================================================

// formatDuration renders a duration at a precision that matches its
// magnitude.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		if secs == 0 {
			return fmt.Sprintf("%dm", mins)
		}
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, mins)
}

// FormatRelativeTime converts a Unix milliseconds timestamp to a relative
// phrase like "2h ago". Older than a month falls back to the date.
func FormatRelativeTime(unixMs int64) string {
	if unixMs == 0 {
		return "unknown"
	}

	t := time.UnixMilli(unixMs)
	diff := time.Since(t)

	if diff < time.Minute {
		return "just now"
	}
	if diff < time.Hour {
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 min ago"
		}
		return fmt.Sprintf("%d mins ago", mins)
	}
	if diff < 24*time.Hour {
		hours := int(diff.Hours())
		if hours == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hours)
	}
	if diff < 7*24*time.Hour {
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
	if diff < 30*24*time.Hour {
		weeks := int(diff.Hours() / (24 * 7))
		if weeks == 1 {
			return "1 week ago"
		}
		return fmt.Sprintf("%d weeks ago", weeks)
	}

	return t.Format("Jan 2, 2006")
}
