package main

import (
	"fmt"
	"io"

	"github.com/haasonsaas/herald/internal/config"
)

// runConfigValidate loads the configuration and prints a short summary.
func runConfigValidate(out io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	source := configPath
	if source == "" {
		source = "(environment)"
	}
	fmt.Fprintf(out, "Configuration OK: %s\n", source)
	fmt.Fprintf(out, "  telegram:  mode=%s allowed_users=%d\n", cfg.Telegram.Mode, len(cfg.Telegram.AllowedUsers))
	fmt.Fprintf(out, "  agent:     backend=%s min_stream_length=%d pre_result_timeout=%s post_result_timeout=%s\n",
		cfg.Agent.Backend, *cfg.Agent.MinStreamLength, *cfg.Agent.PreResultTimeout, *cfg.Agent.PostResultTimeout)
	fmt.Fprintf(out, "  storage:   driver=%s\n", cfg.Storage.Driver)
	if cfg.Heartbeat.Enabled {
		hours := cfg.Heartbeat.ActiveHours
		if hours == "" {
			hours = "always"
		}
		fmt.Fprintf(out, "  heartbeat: every=%s target=%s active_hours=%s (%s)\n",
			cfg.Heartbeat.Every, cfg.Heartbeat.Target, hours, cfg.Heartbeat.Timezone)
	} else {
		fmt.Fprintln(out, "  heartbeat: disabled")
	}
	if cfg.History.Enabled {
		fmt.Fprintf(out, "  history:   %s\n", cfg.History.Dir)
	} else {
		fmt.Fprintln(out, "  history:   disabled")
	}
	fmt.Fprintf(out, "  server:    %s\n", cfg.Server.Addr)
	return nil
}
