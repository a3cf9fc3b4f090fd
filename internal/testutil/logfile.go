package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// WriteLog creates (or replaces) name in dir with content and sets its
// modification time, so tests can control which log file counts as newest.
func WriteLog(tb testing.TB, dir, name, content string, mtime time.Time) string {
	tb.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		tb.Fatalf("write %s: %v", name, err)
	}
	Touch(tb, path, mtime)
	return path
}

// AppendLog appends content to path, creating it when missing.
func AppendLog(tb testing.TB, path, content string) {
	tb.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		tb.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		tb.Fatalf("append %s: %v", path, err)
	}
}

// Touch sets both access and modification time of path.
func Touch(tb testing.TB, path string, mtime time.Time) {
	tb.Helper()
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		tb.Fatalf("chtimes %s: %v", path, err)
	}
}
