package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that runs the gateway.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the herald gateway",
		Long: `Start the herald gateway.

The server will:
1. Load .env and the configuration file
2. Start the agent backend and transcript store
3. Receive Telegram updates by long polling or webhook
4. Run the heartbeat scheduler when enabled
5. Serve /health and /metrics over HTTP

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with ./herald.yaml or environment variables
  herald serve

  # Start with a custom config and debug logging
  herald serve --config /etc/herald/herald.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath(configPath, cmd.Flags().Changed("config"))
			return runServe(cmd.Context(), path, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML or JSON5 configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(buildConfigValidateCmd())
	return cmd
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath(configPath, cmd.Flags().Changed("config"))
			return runConfigValidate(cmd.OutOrStdout(), path)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML or JSON5 configuration file")
	return cmd
}

// buildHeartbeatCmd creates the "heartbeat" command group.
func buildHeartbeatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "heartbeat",
		Short: "Work with heartbeat checks",
	}
	cmd.AddCommand(buildHeartbeatRunCmd())
	return cmd
}

func buildHeartbeatRunCmd() *cobra.Command {
	var (
		configPath string
		chatID     int64
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one heartbeat now and print the outcome",
		Long: `Run one heartbeat tick through the configured backend and print what
would have been delivered. Active hours and the enabled flag are ignored.
Nothing is sent to Telegram.`,
		Example: `  herald heartbeat run --chat 123456789`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath(configPath, cmd.Flags().Changed("config"))
			return runHeartbeatOnce(cmd.Context(), cmd.OutOrStdout(), path, chatID)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML or JSON5 configuration file")
	cmd.Flags().Int64Var(&chatID, "chat", 0, "Chat id to run the heartbeat for (defaults to the configured target)")
	return cmd
}
