// Package tasklog writes the progress log files that running tasks expose to
// the job orchestrator. A task appends to app_log_<timestamp>.md inside the
// shared log directory; the orchestrator only ever reads them.
package tasklog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Pattern is the glob matched by the orchestrator when looking for log files.
const Pattern = "app_log_*.md"

const timestampLayout = "20060102_150405.000000000"

// FileName returns the log file name for a task started at t.
func FileName(t time.Time) string {
	return fmt.Sprintf("app_log_%s.md", t.UTC().Format(timestampLayout))
}

// Writer appends progress to a single log file. Every write goes straight to
// the file so a concurrent reader sees it on the next poll.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// Open creates a new log file in dir named after the current time.
func Open(dir string) (*Writer, error) {
	return OpenAt(dir, time.Now())
}

// OpenAt creates a new log file in dir named after t. The directory is created
// if it does not exist yet.
func OpenAt(dir string, t time.Time) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(dir, FileName(t))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &Writer{file: f, path: path}, nil
}

// Path returns the absolute location of the log file.
func (w *Writer) Path() string {
	return w.path
}

// Write appends p to the log file.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return 0, os.ErrClosed
	}
	return w.file.Write(p)
}

// Printf appends a formatted line, adding a trailing newline when missing.
func (w *Writer) Printf(format string, args ...any) error {
	line := fmt.Sprintf(format, args...)
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line += "\n"
	}
	_, err := w.Write([]byte(line))
	return err
}

// Close syncs and closes the log file. Close is idempotent.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	f := w.file
	w.file = nil
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
