package job

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

// logFile is one candidate found while scanning the log directory.
type logFile struct {
	path    string
	size    int64
	modTime time.Time
}

// scanLogs returns the files in dir matching pattern, newest first.
// A missing directory is not an error: the task may not have created it yet.
func scanLogs(dir, pattern string) ([]logFile, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	files := make([]logFile, 0, len(matches))
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		if !info.Mode().IsRegular() {
			continue
		}
		files = append(files, logFile{path: path, size: info.Size(), modTime: info.ModTime()})
	}
	slices.SortFunc(files, func(a, b logFile) int {
		if c := b.modTime.Compare(a.modTime); c != 0 {
			return c
		}
		// equal mtimes: the later timestamp in the name wins
		return strings.Compare(b.path, a.path)
	})
	return files, nil
}

// logCursor follows one job's progress log. It pins the newest non-empty
// file, moves to another file only when that one is strictly newer and
// non-empty, and never hands out a byte twice for the same path.
type logCursor struct {
	dir     string
	pattern string
	logger  *slog.Logger

	path   string
	offset int64
}

func newLogCursor(dir, pattern string, logger *slog.Logger) *logCursor {
	return &logCursor{dir: dir, pattern: pattern, logger: logger}
}

// Path returns the pinned file, empty until a non-empty log appears.
func (c *logCursor) Path() string {
	return c.path
}

// Advance rescans the directory, re-pins when needed and returns the bytes
// appended since the last call. When the cursor moves to a newer file the
// unread tail of the previous file is returned first. A UTF-8 sequence cut
// off at the end of the file is held back until it is complete.
func (c *logCursor) Advance() ([]Chunk, error) {
	return c.advance(false)
}

// Flush is Advance for the last read of a job: held-back bytes are
// delivered even when they do not form a complete rune.
func (c *logCursor) Flush() ([]Chunk, error) {
	return c.advance(true)
}

func (c *logCursor) advance(flush bool) ([]Chunk, error) {
	files, err := scanLogs(c.dir, c.pattern)
	if err != nil {
		return nil, err
	}

	next := c.pick(files)
	var chunks []Chunk
	if next != "" && next != c.path {
		if c.path != "" {
			// Drain what the old file still holds; it is ignored afterwards.
			if chunk, err := c.read(true); err == nil && chunk != nil {
				chunks = append(chunks, *chunk)
			}
			c.logger.Info("Log file switched", "from", c.path, "to", next)
		} else {
			c.logger.Debug("Log file pinned", "path", next)
		}
		c.path = next
		c.offset = 0
	}
	if c.path == "" {
		return chunks, nil
	}

	chunk, err := c.read(flush)
	if err != nil {
		return chunks, err
	}
	if chunk != nil {
		chunks = append(chunks, *chunk)
	}
	return chunks, nil
}

// pick returns the file the cursor should follow after this scan.
func (c *logCursor) pick(files []logFile) string {
	var newest *logFile
	for i := range files {
		if files[i].size > 0 {
			newest = &files[i]
			break
		}
	}
	if newest == nil {
		return c.path
	}
	if c.path == "" || newest.path == c.path {
		return newest.path
	}

	idx := slices.IndexFunc(files, func(f logFile) bool { return f.path == c.path })
	if idx < 0 {
		// pinned file vanished
		return newest.path
	}
	if newest.modTime.After(files[idx].modTime) {
		return newest.path
	}
	return c.path
}

// read returns the bytes in [offset, size) of the pinned file, or nil when
// nothing new was written. Unless flush is set, a trailing partial rune is
// left unread.
func (c *logCursor) read(flush bool) (*Chunk, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if size < c.offset {
		c.logger.Warn("Log file shrank, reading from the start", "path", c.path, "offset", c.offset, "size", size)
		c.offset = 0
	}
	if size == c.offset {
		return nil, nil
	}

	buf := make([]byte, size-c.offset)
	n, err := f.ReadAt(buf, c.offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if !flush {
		n = completeRunes(buf[:n])
	}
	if n == 0 {
		return nil, nil
	}
	chunk := &Chunk{Path: c.path, Offset: c.offset, Data: string(buf[:n])}
	c.offset += int64(n)
	return chunk, nil
}

// completeRunes returns the length of the longest prefix of b that does not
// end inside a UTF-8 sequence. Invalid bytes count as complete.
func completeRunes(b []byte) int {
	for i := len(b) - 1; i >= 0 && i > len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return len(b)
		}
		return i
	}
	return len(b)
}

// readAll returns the complete current content of the pinned file.
func (c *logCursor) readAll() (string, error) {
	if c.path == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
