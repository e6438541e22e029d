// Package main provides the CLI entry point for herald, a Telegram gateway
// to a long-running agent session with periodic heartbeat reports.
//
// # Basic Usage
//
// Start the gateway:
//
//	herald serve --config herald.yaml
//
// Check a configuration file:
//
//	herald config validate --config herald.yaml
//
// Run one heartbeat and print the outcome:
//
//	herald heartbeat run --chat 123456789
//
// # Environment Variables
//
//   - HERALD_CONFIG: Path to configuration file (default: herald.yaml)
//   - TELEGRAM_BOT_TOKEN: Telegram bot token
//   - ALLOWED_TELEGRAM_USER_IDS: Comma-separated Telegram user ids
//   - ANTHROPIC_API_KEY: API key for the anthropic backend
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigPath = "herald.yaml"

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "herald",
		Short: "herald - Telegram gateway for a streaming agent session",
		Long: `herald relays Telegram messages to a long-running agent session, streams
the replies back, and runs periodic heartbeat checks that only reach you
when something needs attention.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildConfigCmd(),
		buildHeartbeatCmd(),
	)
	return rootCmd
}

// resolveConfigPath prefers an explicit flag, then HERALD_CONFIG, then
// ./herald.yaml when it exists. An empty result means environment-only
// configuration.
func resolveConfigPath(flagValue string, changed bool) string {
	if changed {
		return strings.TrimSpace(flagValue)
	}
	if env := strings.TrimSpace(os.Getenv("HERALD_CONFIG")); env != "" {
		return env
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}
