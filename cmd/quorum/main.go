// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// quorum validates authority migration batches and drives them through
// multi-party approval.
//
// A batch is an ordered list of link, unlink, grant, revoke, and
// reparent operations against an account permission graph. "quorum
// validate" replays it step by step against a graph snapshot. "quorum
// propose" opens a proposal bound to the snapshot fingerprint and the
// threshold policy of the authorizing permission. Approvers sign the
// proposal digest with "quorum approve", and "quorum execute" checks
// the batch against the current graph and emits the signed batch.
//
// Proposals persist in the store named by quorum.yaml (SQLite by
// default, or Redis), so each subcommand is a separate process acting
// on shared state.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/quorum/lib/config"
	"github.com/bureau-foundation/quorum/lib/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr, stderrIsTerminal())
	stop()
	if err != nil {
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// command is one quorum subcommand.
type command struct {
	summary string
	run     func(ctx context.Context, inv *invocation, args []string) error
}

var commands = map[string]command{
	"validate": {"replay a batch against a graph snapshot", runValidate},
	"propose":  {"open a proposal for a batch", runPropose},
	"approve":  {"sign a proposal with local ed25519 keys", runApprove},
	"status":   {"print proposal records as JSON", runStatus},
	"execute":  {"check and emit an approved batch (dry run by default)", runExecute},
	"cancel":   {"cancel an open proposal", runCancel},
	"keygen":   {"generate an ed25519 signing key pair", runKeygen},
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, terminal bool) error {
	if len(args) == 0 {
		printHelp(stderr)
		return &exitError{Code: 2}
	}
	switch args[0] {
	case "--version", "version":
		fmt.Fprintf(stdout, "quorum %s\n", version.Info())
		return nil
	case "-h", "--help", "help":
		printHelp(stdout)
		return nil
	}

	cmd, ok := commands[args[0]]
	if !ok {
		return validation("unknown command %q", args[0]).
			WithHint("Run 'quorum --help' to list commands.")
	}
	inv := &invocation{
		name:     args[0],
		stdout:   stdout,
		stderr:   stderr,
		terminal: terminal,
	}
	return cmd.run(ctx, inv, args[1:])
}

func printHelp(output io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var builder strings.Builder
	builder.WriteString("quorum: permission migration batches with threshold approval\n\n")
	builder.WriteString("Usage: quorum <command> [flags]\n\nCommands:\n")
	for _, name := range names {
		fmt.Fprintf(&builder, "  %-10s %s\n", name, commands[name].summary)
	}
	builder.WriteString("\nRun 'quorum <command> --help' for command flags.\n")
	builder.WriteString("Configuration is read from --config or $QUORUM_CONFIG.\n")
	fmt.Fprint(output, builder.String())
}

// invocation carries what every subcommand needs once its flags are
// parsed.
type invocation struct {
	name     string
	stdout   io.Writer
	stderr   io.Writer
	terminal bool

	configPath string
	config     *config.Config
	logger     *slog.Logger
}

// flagSet returns a flag set for the command with the shared --config
// flag registered.
func (inv *invocation) flagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("quorum "+inv.name, pflag.ContinueOnError)
	flagSet.SetOutput(inv.stderr)
	flagSet.StringVar(&inv.configPath, "config", "", "path to quorum.yaml (default: $QUORUM_CONFIG, else built-in defaults)")
	return flagSet
}

// parse parses args, loads configuration, and builds the logger. It
// returns false if --help was requested and usage has been printed.
func (inv *invocation) parse(flagSet *pflag.FlagSet, args []string) (bool, error) {
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return false, nil
		}
		return false, validation("%v", err).
			WithHint(fmt.Sprintf("Run 'quorum %s --help' for usage.", inv.name))
	}
	if flagSet.NArg() > 0 {
		return false, validation("unexpected argument %q", flagSet.Arg(0))
	}

	cfg, err := loadConfig(inv.configPath)
	if err != nil {
		return false, err
	}
	inv.config = cfg
	inv.logger = newCommandLogger(cfg.Log, inv.stderr, inv.terminal).With("command", inv.name)
	return true, nil
}

// loadConfig reads path, or $QUORUM_CONFIG when path is empty, or
// falls back to defaults when neither is set.
func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case path != "":
		cfg, err = config.LoadFile(path)
	case os.Getenv("QUORUM_CONFIG") != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, internal("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, validation("invalid config:\n%w", err)
	}
	return cfg, nil
}
