// Copyright (C) 2026 Madhan S (github.com/madhans476)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/madhans476/family-law-assistant/cmd/counsel/config"
	"github.com/madhans476/family-law-assistant/pkg/logging"
	"github.com/madhans476/family-law-assistant/pkg/ux"
)

// --- Global Command Variables ---
var (
	personalityLevel string // UX personality level (full/standard/minimal/machine)
	debugMode        bool   // Mirror debug logs to stderr

	// appLogger lives for the whole invocation; PersistentPostRun closes
	// it so file logs are flushed.
	appLogger *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "counsel",
		Short: "A terminal client for a family law legal assistant",
		Long: `Counsel is a terminal client for a conversational family law assistant.
				It streams answers as they are generated, carries multi-turn
				conversations, and manages stored consultation history.

				Counsel provides general legal information, not legal advice.`,
		Version: Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := config.Load(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: could not load config: %v\n", err)
			}

			applyPersonality()

			// Interactive rendering owns stderr; logs go to the file
			// unless --debug mirrors them back
			level := logging.ParseLevel(config.Global.Logging.Level)
			if debugMode {
				level = logging.LevelDebug
			}
			appLogger = logging.New(logging.Config{
				Level:   level,
				LogDir:  config.Global.Logging.Dir,
				Service: "counsel",
				JSON:    config.Global.Logging.JSON,
				Quiet:   !debugMode,
			})
			slog.SetDefault(appLogger.Slog())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if appLogger != nil {
				_ = appLogger.Close()
			}
		},
	}

	// --- Chat ---
	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive consultation session",
		Run:   runChatCommand, // Defined in cmd_chat.go
	}

	// --- Ask ---
	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question and exit",
		Args:  cobra.MinimumNArgs(1),
		Run:   runAskCommand, // Defined in cmd_ask.go
	}

	// --- History ---
	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Manage stored conversations",
	}
	historyListCmd = &cobra.Command{
		Use:   "list",
		Short: "List stored conversations, newest first",
		Run:   runHistoryList, // Defined in cmd_history.go
	}
	historyShowCmd = &cobra.Command{
		Use:   "show [conversation_id]",
		Short: "Replay the stored messages of one conversation",
		Args:  cobra.ExactArgs(1),
		Run:   runHistoryShow, // Defined in cmd_history.go
	}
	historyDeleteCmd = &cobra.Command{
		Use:   "delete [conversation_id]",
		Short: "Delete one stored conversation",
		Args:  cobra.ExactArgs(1),
		Run:   runHistoryDelete, // Defined in cmd_history.go
	}
	historyClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Delete all stored conversations",
		Run:   runHistoryClear, // Defined in cmd_history.go
	}

	// --- Status ---
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Check the assistant backend's health",
		Run:   runStatusCommand, // Defined in cmd_status.go
	}

	// --- Init ---
	initCmd = &cobra.Command{
		Use:   "init",
		Short: "Create the configuration file interactively",
		Run:   runInitCommand, // Defined in cmd_init.go
	}

	// --- Simulator ---
	simulateCmd = &cobra.Command{
		Use:   "simulate",
		Short: "Run a local assistant simulator for offline testing",
		Run:   runSimulateCommand, // Defined in cmd_simulate.go
	}
)

// applyPersonality resolves the output personality. Priority: the
// --personality flag, then the COUNSEL_PERSONALITY environment variable,
// then the config file, then terminal detection.
func applyPersonality() {
	ux.InitPersonality()

	p := ux.GetPersonality()
	if os.Getenv("COUNSEL_PERSONALITY") == "" && p.Level != ux.PersonalityMachine {
		if config.Global.Output.Personality != "" {
			p.Level = ux.ParsePersonalityLevel(config.Global.Output.Personality)
		}
	}
	p.ShowTips = config.Global.Output.ShowTips
	p.ShowCitations = config.Global.Output.ShowCitations
	if config.Global.Output.Theme != "" {
		p.Theme = config.Global.Output.Theme
	}
	ux.SetPersonality(p)

	if personalityLevel != "" {
		ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
	}
}

// init runs when the Go program starts
func init() {
	// Global UX personality flag
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full (default, rich), standard, minimal, or machine (scripting)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false,
		"Mirror debug logs to stderr")

	// chat command
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("resume", "", "Resume a conversation using a specific conversation ID.")

	// ask command
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().Duration("timeout", 0, "Abort the turn after this long (e.g. 30s, 2m). 0 waits indefinitely.")
	askCmd.Flags().String("conversation", "", "Continue an existing conversation.")

	// history commands
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyDeleteCmd)
	historyCmd.AddCommand(historyClearCmd)
	historyClearCmd.Flags().Bool("force", false, "Delete without asking for confirmation.")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(initCmd)

	// simulator command
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().String("scenario", "", "Path to a scenario file describing the turns to replay.")
	simulateCmd.Flags().String("addr", ":12210", "Address the simulator listens on.")
}
