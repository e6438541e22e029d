package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := NewLogger(LogConfig{Level: "debug", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	defer closer.Close()

	logger.Debug("run finished", "chat_id", 42)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if record["msg"] != "run finished" {
		t.Errorf("msg = %v", record["msg"])
	}
	if record["chat_id"] != float64(42) {
		t.Errorf("chat_id = %v", record["chat_id"])
	}
}

func TestNewLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := NewLogger(LogConfig{Level: "warn", Output: &buf})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record written at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn record missing: %s", out)
	}
}

func TestNewLogger_Redaction(t *testing.T) {
	tests := []struct {
		name   string
		args   []any
		secret string
	}{
		{
			name:   "telegram token in value",
			args:   []any{"url", "https://api.telegram.org/bot123456789:AAHfjk3lsdfjK3l4jlkj3lkjLKJlkj3lkj3l/getMe"},
			secret: "AAHfjk3lsdfjK3l4jlkj3lkjLKJlkj3lkj3l",
		},
		{
			name:   "anthropic key in error",
			args:   []any{"error", errors.New("auth failed for sk-ant-REDACTED")},
			secret: "abcdefghijklmnopqrstuvwxyz",
		},
		{
			name:   "sensitive key name",
			args:   []any{"webhook_secret", "s3cr3t-value"},
			secret: "s3cr3t-value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, _, err := NewLogger(LogConfig{Output: &buf})
			if err != nil {
				t.Fatalf("NewLogger() error = %v", err)
			}
			logger.Info("event", tt.args...)

			out := buf.String()
			if strings.Contains(out, tt.secret) {
				t.Errorf("secret leaked: %s", out)
			}
			if !strings.Contains(out, redacted) {
				t.Errorf("expected %s marker: %s", redacted, out)
			}
		})
	}
}

func TestNewLogger_InvalidPattern(t *testing.T) {
	if _, _, err := NewLogger(LogConfig{RedactPatterns: []string{"("}}); err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "herald.log")
	logger, closer, err := NewLogger(LogConfig{File: path})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	logger.Info("to file")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("log file = %q", data)
	}
}

func TestLogLevelFromString(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := LogLevelFromString(in); got != want {
			t.Errorf("LogLevelFromString(%q) = %v, want %v", in, got, want)
		}
	}
}
