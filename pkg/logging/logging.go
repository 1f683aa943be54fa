// Package logging scopes structured logging to one run: lines go to stderr and to
// the run's logs.txt, tagged with a run id.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const FileName = "logs.txt"

// ParseLevel maps a --log-level value to a slog level. Unknown values are info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Context owns a run's log file. The zero value is not usable; call Init.
type Context struct {
	RunID  string
	Path   string
	Logger *slog.Logger

	file *os.File
}

// Init opens dir/logs.txt for appending and returns a context whose logger writes
// to it and to console. A nil console means stderr.
func Init(dir string, level slog.Level, console io.Writer) (*Context, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	if console == nil {
		console = os.Stderr
	}
	id := uuid.NewString()
	h := slog.NewTextHandler(io.MultiWriter(console, f), &slog.HandlerOptions{Level: level})
	return &Context{
		RunID:  id,
		Path:   path,
		Logger: slog.New(h).With("run_id", id),
		file:   f,
	}, nil
}

// Close flushes and closes the log file. It is safe to call more than once.
func (c *Context) Close() error {
	if c == nil || c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}
