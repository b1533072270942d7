// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/bureau-foundation/quorum/lib/config"
)

// stderrIsTerminal reports whether stderr is attached to a terminal.
func stderrIsTerminal() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// newCommandLogger creates the structured logger for a command. With
// format auto it uses slog.TextHandler when stderr is a terminal and
// slog.JSONHandler when it is piped or redirected.
//
// Callers scope the logger with command context via With():
//
//	logger := newCommandLogger(cfg.Log, stderr, terminal).With(
//	    "command", "approve",
//	    "proposal_id", id,
//	)
func newCommandLogger(settings config.LogConfig, output io.Writer, terminal bool) *slog.Logger {
	options := &slog.HandlerOptions{Level: parseLevel(settings.Level)}
	useText := terminal
	switch settings.Format {
	case "text":
		useText = true
	case "json":
		useText = false
	}
	if useText {
		return slog.New(slog.NewTextHandler(output, options))
	}
	return slog.New(slog.NewJSONHandler(output, options))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
