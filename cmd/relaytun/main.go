// Package main is the entry point for the relaytun binary. It
// supports two subcommands:
//
//   - relay: runs the public-facing and agent-facing listeners and
//     pairs them.
//   - agent: dials a Relay and a hidden target, keeping a warm pool
//     of connections ready to pair.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/relaytun/relaytun/internal/config"
)

// version is injected at build time via -ldflags
// (e.g. -ldflags "-X main.version=v1.2.3").
var version = "devel"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	conf, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	root := &cobra.Command{
		Use:           "relaytun",
		Short:         "relaytun: a TCP NAT-traversal relay and agent.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	relayCmd, err := newRelayCommand(conf)
	if err != nil {
		return fmt.Errorf("failed to initialize relay command: %w", err)
	}

	agentCmd, err := newAgentCommand(conf)
	if err != nil {
		return fmt.Errorf("failed to initialize agent command: %w", err)
	}

	root.AddCommand(relayCmd, agentCmd)

	return root.ExecuteContext(ctx)
}
