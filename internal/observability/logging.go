package observability

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig configures the process logger.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string

	// Format is "json" or "text". Defaults to "text".
	Format string

	// File, when set, sends logs to a rotating file instead of Output.
	File string

	// MaxSizeMB is the size at which the log file is rotated. Defaults to 50.
	MaxSizeMB int

	// MaxBackups is how many rotated files are kept. Defaults to 5.
	MaxBackups int

	// MaxAgeDays removes rotated files older than this. Zero keeps them.
	MaxAgeDays int

	// Output is the writer used when File is empty (defaults to os.Stderr).
	Output io.Writer

	// AddSource includes file and line number in log records.
	AddSource bool

	// RedactPatterns are additional regex patterns for sensitive data.
	RedactPatterns []string
}

// DefaultRedactPatterns match secrets that may end up in log attributes.
var DefaultRedactPatterns = []string{
	// Telegram bot tokens: <bot id>:<35 char secret>
	`\d{6,12}:[A-Za-z0-9_-]{30,}`,

	// Anthropic API keys
	`sk-ant-[a-zA-Z0-9_-]{20,}`,

	`(?i)(bearer|token)[\s:=]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(api[_-]?key|apikey)[\s:=]+["']?([a-zA-Z0-9_\-]{16,})["']?`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["']?([^\s"']{8,})["']?`,
}

const redacted = "[REDACTED]"

var sensitiveKeys = map[string]bool{
	"password":       true,
	"secret":         true,
	"token":          true,
	"bot_token":      true,
	"api_key":        true,
	"apikey":         true,
	"authorization":  true,
	"webhook_secret": true,
}

// NewLogger creates the process logger. The returned closer releases the log
// file and must be called on shutdown; it is a no-op when logging to a writer.
func NewLogger(config LogConfig) (*slog.Logger, io.Closer, error) {
	if config.Level == "" {
		config.Level = "info"
	}
	if config.Format == "" {
		config.Format = "text"
	}

	var (
		out    io.Writer = config.Output
		closer io.Closer = nopCloser{}
	)
	if config.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    defaultInt(config.MaxSizeMB, 50),
			MaxBackups: defaultInt(config.MaxBackups, 5),
			MaxAge:     config.MaxAgeDays,
			Compress:   true,
		}
		out, closer = rotator, rotator
	}
	if out == nil {
		out = os.Stderr
	}

	redacts := make([]*regexp.Regexp, 0, len(DefaultRedactPatterns)+len(config.RedactPatterns))
	for _, pattern := range append(append([]string{}, DefaultRedactPatterns...), config.RedactPatterns...) {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid redact pattern %q: %w", pattern, err)
		}
		redacts = append(redacts, re)
	}

	opts := &slog.HandlerOptions{
		Level:       LogLevelFromString(config.Level),
		AddSource:   config.AddSource,
		ReplaceAttr: redactAttr(redacts),
	}

	var handler slog.Handler
	if strings.EqualFold(config.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler), closer, nil
}

// redactAttr masks sensitive keys and secret-looking substrings.
func redactAttr(redacts []*regexp.Regexp) func([]string, slog.Attr) slog.Attr {
	return func(_ []string, a slog.Attr) slog.Attr {
		key := strings.ToLower(strings.ReplaceAll(a.Key, "-", "_"))
		if sensitiveKeys[key] {
			return slog.String(a.Key, redacted)
		}
		switch a.Value.Kind() {
		case slog.KindString:
			return slog.String(a.Key, RedactString(redacts, a.Value.String()))
		case slog.KindAny:
			if err, ok := a.Value.Any().(error); ok {
				return slog.String(a.Key, RedactString(redacts, err.Error()))
			}
		}
		return a
	}
}

// RedactString applies the patterns to s.
func RedactString(redacts []*regexp.Regexp, s string) string {
	for _, re := range redacts {
		s = re.ReplaceAllString(s, redacted)
	}
	return s
}

// LogLevelFromString converts a string to a slog.Level.
// Returns LevelInfo if the string is not recognized.
func LogLevelFromString(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func defaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
