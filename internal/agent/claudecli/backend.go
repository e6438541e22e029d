// Package claudecli runs agent turns through the Claude Code command line
// tool, one process per submission, and translates its stream-json output
// into backend events.
package claudecli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/haasonsaas/herald/internal/agent"
)

// noConversation is printed by the CLI when --resume names an unknown session.
const noConversation = "No conversation found"

// Config configures the CLI backend.
type Config struct {
	// Path is the claude executable. Defaults to "claude" on PATH.
	Path string

	// WorkDir is the directory the agent runs in.
	WorkDir string

	// ExtraArgs are appended to every invocation.
	ExtraArgs []string

	// Env entries are added to the inherited environment.
	Env []string

	// ShutdownGrace bounds how long a killed process may keep its output
	// pipes open. Defaults to 5s.
	ShutdownGrace time.Duration

	// StderrLimit caps the captured stderr. Defaults to 64 KiB.
	StderrLimit int

	Logger *slog.Logger
}

// Backend implements agent.Backend by spawning the CLI.
type Backend struct {
	path        string
	workDir     string
	extraArgs   []string
	env         []string
	grace       time.Duration
	stderrLimit int
	logger      *slog.Logger
}

// New creates the backend.
func New(config Config) (*Backend, error) {
	if config.Path == "" {
		config.Path = "claude"
	}
	if config.WorkDir != "" {
		info, err := os.Stat(config.WorkDir)
		if err != nil {
			return nil, agent.ErrConfiguration("claude CLI working directory", err)
		}
		if !info.IsDir() {
			return nil, agent.ErrConfiguration(fmt.Sprintf("claude CLI working directory %s is not a directory", config.WorkDir), nil)
		}
	}
	if config.ShutdownGrace <= 0 {
		config.ShutdownGrace = 5 * time.Second
	}
	if config.StderrLimit <= 0 {
		config.StderrLimit = 64 * 1024
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Backend{
		path:        config.Path,
		workDir:     config.WorkDir,
		extraArgs:   append([]string(nil), config.ExtraArgs...),
		env:         append([]string(nil), config.Env...),
		grace:       config.ShutdownGrace,
		stderrLimit: config.StderrLimit,
		logger:      config.Logger.With("component", "claudecli"),
	}, nil
}

// Name returns "claude-cli".
func (b *Backend) Name() string {
	return "claude-cli"
}

// Args returns the command line arguments for sub.
func (b *Backend) Args(sub agent.Submission) []string {
	args := []string{
		"-p", sub.Prompt,
		"--output-format", "stream-json",
		"--verbose",
		"--dangerously-skip-permissions",
	}
	if sub.SessionToken != "" {
		args = append(args, "--resume", sub.SessionToken)
	}
	if sub.Model != "" {
		args = append(args, "--model", sub.Model)
	}
	return append(args, b.extraArgs...)
}

// Submit starts the CLI. The process is killed when ctx is cancelled.
func (b *Backend) Submit(ctx context.Context, sub agent.Submission) (<-chan agent.BackendEvent, error) {
	procCtx, cancel := context.WithCancel(ctx)

	cmd := exec.CommandContext(procCtx, b.path, b.Args(sub)...)
	cmd.Dir = b.workDir
	cmd.Env = append(os.Environ(), b.env...)
	cmd.WaitDelay = b.grace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, agent.ErrBackendUnavailable("claude CLI stdout", err)
	}
	stderr := &cappedBuffer{limit: b.stderrLimit}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, agent.ErrBackendUnavailable("failed to start claude CLI", err)
	}
	b.logger.Debug("claude CLI started",
		"chat_id", int64(sub.ChatID),
		"pid", cmd.Process.Pid,
		"resume", sub.SessionToken != "",
	)

	events := make(chan agent.BackendEvent)
	// Children of a killed process may keep stdout open; stop reading once
	// the grace period has passed.
	context.AfterFunc(procCtx, func() {
		time.AfterFunc(b.grace, func() { _ = stdout.Close() })
	})

	go b.run(ctx, cancel, cmd, stdout, stderr, events)
	return events, nil
}

func (b *Backend) run(ctx context.Context, cancel context.CancelFunc, cmd *exec.Cmd, stdout io.ReadCloser, stderr *cappedBuffer, events chan<- agent.BackendEvent) {
	defer close(events)
	defer cancel()

	send := func(ev agent.BackendEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var (
		sawTerminal   bool
		sawNoConv     bool
		protocolError error
		abandoned     bool
	)

scan:
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if line[0] != '{' {
			if bytes.Contains(line, []byte(noConversation)) {
				sawNoConv = true
			}
			b.logger.Debug("ignoring non-JSON CLI output", "line", truncate(string(line), 200))
			continue
		}

		parsed, err := parseLine(line)
		if err != nil {
			protocolError = err
			break
		}
		for _, ev := range parsed {
			if ev.Type == agent.BackendResult || ev.Type == agent.BackendFailure {
				sawTerminal = true
			}
			if !send(ev) {
				abandoned = true
				break scan
			}
		}
	}
	scanErr := scanner.Err()

	if protocolError != nil || abandoned || scanErr != nil {
		cancel()
	}
	waitErr := cmd.Wait()

	if ctx.Err() != nil || abandoned {
		return
	}
	if protocolError != nil {
		send(agent.BackendEvent{
			Type: agent.BackendFailure,
			Err:  agent.ErrProtocolViolation("unparseable claude CLI output", protocolError),
		})
		return
	}
	if sawTerminal {
		if waitErr != nil {
			b.logger.Debug("claude CLI exited with error after result", "error", waitErr)
		}
		return
	}

	stderrText := stderr.String()
	var failure error
	switch {
	case sawNoConv || strings.Contains(stderrText, noConversation):
		failure = agent.ErrSessionInvalid("claude CLI could not resume the session", errors.New(firstLine(stderrText)))
	case waitErr != nil:
		detail := firstLine(stderrText)
		if detail == "" {
			detail = waitErr.Error()
		}
		failure = agent.ErrBackendUnavailable("claude CLI failed: "+detail, waitErr)
	case scanErr != nil:
		failure = agent.ErrBackendUnavailable("reading claude CLI output", scanErr)
	default:
		failure = agent.ErrProtocolViolation("claude CLI exited without a result", nil)
	}
	send(agent.BackendEvent{Type: agent.BackendFailure, Err: failure})
}

// cappedBuffer keeps the first limit bytes written to it.
type cappedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if room := c.limit - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return truncate(s, 500)
}

// truncate keeps at most n bytes of s without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
