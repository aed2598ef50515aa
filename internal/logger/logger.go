package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes where subprocess output is teed to.
// Files are Dir/<name>.stdout.log and Dir/<name>.stderr.log; rotation
// parameters follow lumberjack semantics. An empty Dir disables file output.
type Config struct {
	Dir        string // base directory for subprocess logs
	MaxSizeMB  int    // megabytes before rotation (default 10)
	MaxBackups int    // number of backups to keep (default 3)
	MaxAgeDays int    // days to keep (default 7)
	Compress   bool   // Gzip rotated files
}

// Writers returns rotating writers for stdout and stderr of the named subprocess.
// Both are nil when Dir is empty.
func (c Config) Writers(name string) (io.WriteCloser, io.WriteCloser, error) {
	if c.Dir == "" {
		return nil, nil, nil
	}
	if err := os.MkdirAll(c.Dir, 0o750); err != nil {
		return nil, nil, fmt.Errorf("create log dir %s: %w", c.Dir, err)
	}
	outW := c.rotating(filepath.Join(c.Dir, fmt.Sprintf("%s.stdout.log", name)))
	errW := c.rotating(filepath.Join(c.Dir, fmt.Sprintf("%s.stderr.log", name)))
	return outW, errW, nil
}

func (c Config) rotating(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// Settings configures the service logger.
type Settings struct {
	Level  string // debug, info, warn, error
	Format string // color, text, json
	File   string // rotate into this file instead of stderr
	Config        // rotation parameters for File
}

// Setup builds the service logger. The returned closer releases the log file
// and is never nil.
func Setup(s Settings, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(s.Level)
	if err != nil {
		return nil, nil, err
	}
	var w io.Writer = stderr
	var closer io.Closer = nopCloser{}
	if s.File != "" {
		if err := os.MkdirAll(filepath.Dir(s.File), 0o750); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		f := s.rotating(s.File)
		w, closer = f, f
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(s.Format) {
	case "", "color":
		if s.File != "" {
			// no escape codes in files
			h = slog.NewTextHandler(w, opts)
		} else {
			h = NewColorTextHandler(w, opts, true)
		}
	case "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, nil, fmt.Errorf("unknown log format %q (want color, text or json)", s.Format)
	}
	return slog.New(h), closer, nil
}

// ParseLevel maps a level name to slog.Level; empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
