// Package config loads herald's configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/haasonsaas/herald/internal/heartbeat"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the main configuration structure for herald.
type Config struct {
	Telegram      TelegramConfig      `yaml:"telegram"`
	Server        ServerConfig        `yaml:"server"`
	Agent         AgentConfig         `yaml:"agent"`
	Storage       StorageConfig       `yaml:"storage"`
	Heartbeat     HeartbeatConfig     `yaml:"heartbeat"`
	History       HistoryConfig       `yaml:"history"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type TelegramConfig struct {
	BotToken      string  `yaml:"bot_token"`
	AllowedUsers  []int64 `yaml:"allowed_users"`
	Mode          string  `yaml:"mode"`
	WebhookURL    string  `yaml:"webhook_url"`
	WebhookPath   string  `yaml:"webhook_path"`
	WebhookSecret string  `yaml:"webhook_secret"`
	RateLimit     float64 `yaml:"rate_limit"`
	RateBurst     int     `yaml:"rate_burst"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type AgentConfig struct {
	// Backend is "claude_cli" or "anthropic".
	Backend string `yaml:"backend"`
	Model   string `yaml:"model"`

	// Pointers so an explicit 0 reaches Validate instead of the default.
	MinStreamLength   *int           `yaml:"min_stream_length"`
	PreResultTimeout  *time.Duration `yaml:"pre_result_timeout"`
	PostResultTimeout *time.Duration `yaml:"post_result_timeout"`

	ClaudeCLI ClaudeCLIConfig `yaml:"claude_cli"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
}

type ClaudeCLIConfig struct {
	Path      string   `yaml:"path"`
	WorkDir   string   `yaml:"work_dir"`
	ExtraArgs []string `yaml:"extra_args"`
	Env       []string `yaml:"env"`
}

type AnthropicConfig struct {
	APIKey          string `yaml:"api_key"`
	BaseURL         string `yaml:"base_url"`
	MaxTokens       int    `yaml:"max_tokens"`
	SystemPrompt    string `yaml:"system_prompt"`
	MaxHistoryTurns int    `yaml:"max_history_turns"`
}

type StorageConfig struct {
	// Driver is "memory", "sqlite" or "postgres".
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type HeartbeatConfig struct {
	Enabled bool `yaml:"enabled"`

	// Every is an interval such as "30m" or "1h30m".
	Every string `yaml:"every"`

	// ActiveHours restricts ticks to a daily window such as "09:00-17:00".
	ActiveHours string `yaml:"active_hours"`
	Timezone    string `yaml:"timezone"`

	// Target is "last", "none" or a chat id.
	Target        string `yaml:"target"`
	AckMaxChars   *int   `yaml:"ack_max_chars"`
	Prompt        string `yaml:"prompt"`
	ChecklistFile string `yaml:"checklist_file"`
	Model         string `yaml:"model"`
	DeliverErrors bool   `yaml:"deliver_errors"`
}

type HistoryConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Dir       string `yaml:"dir"`
	QueueSize int    `yaml:"queue_size"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
}

type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
	Environment  string  `yaml:"environment"`
}

// Load reads .env files, then the configuration file at path, applies
// environment fallbacks and defaults, and validates the result. An empty
// path configures herald from the environment alone.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := LoadDotEnv(envFiles...); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if strings.TrimSpace(path) != "" {
		raw, err := LoadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		cfg, err = decodeRawConfig(raw)
		if err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads the given .env files, or ./.env when none are named.
// Missing files are ignored. Variables already set in the environment win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// applyEnv fills the Telegram and Anthropic credentials from the
// environment when the file leaves them empty.
func applyEnv(cfg *Config) error {
	if cfg.Telegram.BotToken == "" {
		cfg.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	}
	if len(cfg.Telegram.AllowedUsers) == 0 {
		ids, err := parseUserIDs(os.Getenv("ALLOWED_TELEGRAM_USER_IDS"))
		if err != nil {
			return fmt.Errorf("%w: ALLOWED_TELEGRAM_USER_IDS: %v", ErrInvalid, err)
		}
		cfg.Telegram.AllowedUsers = ids
	}
	if cfg.Agent.Anthropic.APIKey == "" {
		cfg.Agent.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return nil
}

// parseUserIDs parses a comma-separated list of user ids.
func parseUserIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Telegram.Mode == "" {
		cfg.Telegram.Mode = "polling"
	}
	if cfg.Telegram.WebhookPath == "" {
		cfg.Telegram.WebhookPath = "/webhook"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "0.0.0.0:8080"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Agent.Backend == "" {
		cfg.Agent.Backend = "claude_cli"
	}
	if cfg.Agent.MinStreamLength == nil {
		n := 200
		cfg.Agent.MinStreamLength = &n
	}
	if cfg.Agent.PreResultTimeout == nil {
		d := 30 * time.Minute
		cfg.Agent.PreResultTimeout = &d
	}
	if cfg.Agent.PostResultTimeout == nil {
		d := 30 * time.Second
		cfg.Agent.PostResultTimeout = &d
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.Heartbeat.Every == "" {
		cfg.Heartbeat.Every = "30m"
	}
	if cfg.Heartbeat.Timezone == "" {
		cfg.Heartbeat.Timezone = "UTC"
	}
	if cfg.Heartbeat.Target == "" {
		cfg.Heartbeat.Target = "last"
	}
	if cfg.Heartbeat.AckMaxChars == nil {
		n := heartbeat.DefaultAckMaxChars
		cfg.Heartbeat.AckMaxChars = &n
	}
	if cfg.History.QueueSize == 0 {
		cfg.History.QueueSize = 256
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Observability.Tracing.SamplingRate == 0 {
		cfg.Observability.Tracing.SamplingRate = 1
	}
}

// Validate reports every problem at once. The returned error wraps
// ErrInvalid.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Telegram.BotToken == "" {
		add("telegram.bot_token is required (or set TELEGRAM_BOT_TOKEN)")
	}
	if len(c.Telegram.AllowedUsers) == 0 {
		add("telegram.allowed_users must list at least one user id (or set ALLOWED_TELEGRAM_USER_IDS)")
	}
	switch c.Telegram.Mode {
	case "polling":
	case "webhook":
		if c.Telegram.WebhookURL == "" {
			add("telegram.webhook_url is required in webhook mode")
		}
		if !strings.HasPrefix(c.Telegram.WebhookPath, "/") {
			add("telegram.webhook_path must start with /")
		}
	default:
		add("telegram.mode must be polling or webhook, got %q", c.Telegram.Mode)
	}
	if c.Telegram.RateLimit < 0 {
		add("telegram.rate_limit must be >= 0")
	}

	if c.Server.ShutdownTimeout < 0 {
		add("server.shutdown_timeout must be positive")
	}

	switch c.Agent.Backend {
	case "claude_cli":
	case "anthropic":
		if c.Agent.Anthropic.APIKey == "" {
			add("agent.anthropic.api_key is required for the anthropic backend (or set ANTHROPIC_API_KEY)")
		}
	default:
		add("agent.backend must be claude_cli or anthropic, got %q", c.Agent.Backend)
	}
	if c.Agent.MinStreamLength != nil && *c.Agent.MinStreamLength < 0 {
		add("agent.min_stream_length must be >= 0")
	}
	if c.Agent.PreResultTimeout == nil || *c.Agent.PreResultTimeout <= 0 {
		add("agent.pre_result_timeout must be positive")
	}
	if c.Agent.PostResultTimeout == nil || *c.Agent.PostResultTimeout <= 0 {
		add("agent.post_result_timeout must be positive")
	}

	switch c.Storage.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Storage.DSN == "" {
			add("storage.dsn is required for driver %s", c.Storage.Driver)
		}
	default:
		add("storage.driver must be memory, sqlite or postgres, got %q", c.Storage.Driver)
	}

	if _, err := heartbeat.ParseInterval(c.Heartbeat.Every); err != nil {
		add("heartbeat.every: %v", err)
	}
	if _, err := heartbeat.ParseActiveHours(c.Heartbeat.ActiveHours, c.Heartbeat.Timezone); err != nil {
		add("heartbeat.active_hours: %v", err)
	}
	if _, err := heartbeat.ParseTarget(c.Heartbeat.Target); err != nil {
		add("heartbeat.target: %v", err)
	}
	if c.Heartbeat.AckMaxChars == nil || *c.Heartbeat.AckMaxChars <= 0 {
		add("heartbeat.ack_max_chars must be positive")
	}

	if c.History.Enabled && strings.TrimSpace(c.History.Dir) == "" {
		add("history.dir is required when history is enabled")
	}
	if c.History.QueueSize < 0 {
		add("history.queue_size must be >= 0")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		add("logging.format must be text or json, got %q", c.Logging.Format)
	}
	if rate := c.Observability.Tracing.SamplingRate; rate < 0 || rate > 1 {
		add("observability.tracing.sampling_rate must be between 0 and 1")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
