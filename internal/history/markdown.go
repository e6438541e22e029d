package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// MarkdownWriter stores entries as one markdown file per chat per day:
//
//	<dir>/<chat_id>/<YYYY-MM-DD>.md
type MarkdownWriter struct {
	dir string
	loc *time.Location

	mu sync.Mutex
}

// NewMarkdownWriter creates dir if needed. Timestamps are rendered in loc,
// or local time when loc is nil.
func NewMarkdownWriter(dir string, loc *time.Location) (*MarkdownWriter, error) {
	if dir == "" {
		return nil, fmt.Errorf("history directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &MarkdownWriter{dir: dir, loc: loc}, nil
}

// Path returns the file an entry at ts for chatID is written to.
func (w *MarkdownWriter) Path(chatID int64, ts time.Time) string {
	return filepath.Join(w.dir, strconv.FormatInt(chatID, 10), ts.In(w.loc).Format(time.DateOnly)+".md")
}

// Write appends entry to its daily file, creating the file with a header.
func (w *MarkdownWriter) Write(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	ts = ts.In(w.loc)

	w.mu.Lock()
	defer w.mu.Unlock()

	path := w.Path(entry.ChatID, ts)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create chat directory: %w", err)
	}

	var content string
	if _, err := os.Stat(path); os.IsNotExist(err) {
		content = "# Chat History - " + ts.Format(time.DateOnly) + "\n"
	}
	content += fmt.Sprintf("\n## %s - %s\n\n%s\n", ts.Format(time.TimeOnly), entry.Role.Title(), entry.Text)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history file: %w", err)
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return fmt.Errorf("write history file: %w", err)
	}
	return f.Close()
}
