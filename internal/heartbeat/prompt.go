package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/haasonsaas/herald/internal/agent"
)

// DefaultPrompt is sent when no custom prompt is configured.
const DefaultPrompt = `You are performing a periodic health check.
Review the current state and any items needing attention.

If everything is OK and no alerts are needed, start with HEARTBEAT_OK.

If there are issues requiring attention, describe them clearly.`

const okInstructions = "\n\nIf all checks pass, respond with " + agent.DefaultSentinel + ". " +
	"Otherwise, describe any issues without the " + agent.DefaultSentinel + " marker."

// BuildPrompt combines the base prompt with an optional checklist and makes
// sure the reply format is spelled out.
func BuildPrompt(base, checklist string) string {
	if strings.TrimSpace(base) == "" {
		base = DefaultPrompt
	}
	parts := []string{base}
	if checklist != "" {
		parts = append(parts, "\n## Heartbeat Checklist\n", checklist)
	}
	prompt := strings.Join(parts, "\n")
	if !strings.Contains(prompt, agent.DefaultSentinel) {
		prompt += "\n" + okInstructions
	}
	return prompt
}

// HasContent reports whether markdown holds anything besides headings and
// blank lines.
func HasContent(markdown string) bool {
	for _, line := range strings.Split(markdown, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return true
	}
	return false
}

// Checklist serves a HEARTBEAT.md style file. The content is cached until
// the file changes on disk.
type Checklist struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	content string
	loaded  bool

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewChecklist creates a checklist for path. Nothing is read until Content
// is called.
func NewChecklist(path string, logger *slog.Logger) *Checklist {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checklist{
		path:   path,
		logger: logger.With("component", "heartbeat", "checklist", path),
	}
}

// Path returns the checklist file path.
func (c *Checklist) Path() string {
	return c.path
}

// Content returns the checklist text, or "" when the file is missing or
// holds only headings.
func (c *Checklist) Content() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return c.content, nil
	}

	data, err := os.ReadFile(c.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		c.content = ""
	case err != nil:
		return "", fmt.Errorf("read heartbeat checklist: %w", err)
	case HasContent(string(data)):
		c.content = string(data)
	default:
		c.content = ""
	}
	c.loaded = true
	return c.content, nil
}

// Invalidate drops the cached content.
func (c *Checklist) Invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.content = ""
	c.mu.Unlock()
}

// Watch invalidates the cache whenever the file is written, created,
// removed or renamed. It watches the parent directory so the file may come
// and go. Stop with Close.
func (c *Checklist) Watch(ctx context.Context) error {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	if c.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create checklist watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch checklist directory: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	c.watcher = watcher
	c.cancel = cancel

	c.wg.Add(1)
	go c.watchLoop(watchCtx, watcher)
	return nil
}

func (c *Checklist) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer c.wg.Done()
	target := filepath.Clean(c.path)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				c.Invalidate()
				c.logger.Debug("heartbeat checklist changed", "op", event.Op.String())
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("checklist watch error", "error", err)
		}
	}
}

// Close stops the watcher.
func (c *Checklist) Close() error {
	c.watchMu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	watcher := c.watcher
	c.watcher = nil
	c.watchMu.Unlock()

	var err error
	if watcher != nil {
		err = watcher.Close()
	}
	c.wg.Wait()
	return err
}
