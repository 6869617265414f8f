// Package logwriter appends a flat, human-readable transcript of a room's
// traffic to disk, one file per room, for the lifetime of a session.
package logwriter

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Writer appends timestamped lines to a room's log file, flushing after
// every write so a crash never loses the last line.
type Writer struct {
	file *os.File
	buf  *bufio.Writer
}

// Open creates (or appends to) "<dir>/<sanitized-room-name>.log".
func Open(dir, roomName string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logwriter: create dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, sanitize(roomName)+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logwriter: open %s: %w", path, err)
	}
	return &Writer{file: f, buf: bufio.NewWriter(f)}, nil
}

// Log appends one timestamped line and flushes immediately.
func (w *Writer) Log(line string) error {
	if _, err := fmt.Fprintf(w.buf, "[%s] %s\n", time.Now().UTC().Format(time.RFC3339), line); err != nil {
		return fmt.Errorf("logwriter: write: %w", err)
	}
	return w.buf.Flush()
}

// LogEvent appends a "*** ..." system line, distinct from chat lines only
// by convention.
func (w *Writer) LogEvent(format string, args ...any) error {
	return w.Log("*** " + fmt.Sprintf(format, args...))
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("logwriter: flush: %w", err)
	}
	return w.file.Close()
}

// sanitize replaces every character that isn't alphanumeric, '-', or '_'
// with '_', so a room name can never escape the log directory or collide
// with shell-special filenames.
func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "room"
	}
	return b.String()
}
