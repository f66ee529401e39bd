package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultPrefix    = "folio"
	defaultRetention = 7
	dateLayout       = "20060102"
)

const (
	envLogLevel  = "FOLIO_LOG_LEVEL"
	envLogFormat = "FOLIO_LOG_FORMAT"
)

// Options controls logger construction. Level and Format fall back to the
// FOLIO_LOG_LEVEL and FOLIO_LOG_FORMAT environment variables when empty.
type Options struct {
	Level         string
	Format        string
	RetentionDays int
	// Console receives a copy of every record; defaults to stdout.
	Console io.Writer
}

// DailyWriter appends to <prefix>-YYYYMMDD.log and removes files older than
// the retention window whenever the day changes.
type DailyWriter struct {
	dir           string
	prefix        string
	retentionDays int
	now           func() time.Time

	mu          sync.Mutex
	currentDate string
	file        *os.File
}

func NewDailyWriter(dir string, retentionDays int) (*DailyWriter, error) {
	return NewDailyWriterWithPrefix(dir, defaultPrefix, retentionDays)
}

func NewDailyWriterWithPrefix(dir, prefix string, retentionDays int) (*DailyWriter, error) {
	if retentionDays <= 0 {
		retentionDays = defaultRetention
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	w := &DailyWriter{
		dir:           dir,
		prefix:        prefix,
		retentionDays: retentionDays,
		now:           time.Now,
	}
	if err := w.rotateIfNeeded(w.now()); err != nil {
		return nil, err
	}
	return w, nil
}

// Write implements io.Writer.
func (w *DailyWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.rotateIfNeeded(w.now()); err != nil {
		return 0, err
	}
	return w.file.Write(p)
}

// Path is the file currently written to.
func (w *DailyWriter) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pathFor(w.currentDate)
}

func (w *DailyWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *DailyWriter) pathFor(date string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s.log", w.prefix, date))
}

func (w *DailyWriter) rotateIfNeeded(now time.Time) error {
	date := now.Format(dateLayout)
	if date == w.currentDate && w.file != nil {
		return nil
	}
	if w.file != nil {
		_ = w.file.Close()
	}
	file, err := os.OpenFile(w.pathFor(date), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w.currentDate = date
	w.file = file
	w.prune(now)
	return nil
}

func (w *DailyWriter) prune(now time.Time) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	cutoff := now.AddDate(0, 0, -w.retentionDays)
	prefix := w.prefix + "-"
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".log") {
			continue
		}
		date, err := time.ParseInLocation(dateLayout, strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".log"), now.Location())
		if err != nil {
			continue
		}
		if date.Before(cutoff) {
			_ = os.Remove(filepath.Join(w.dir, name))
		}
	}
}

// NewLogger creates the process logger writing to the console and a daily
// file under logDir, and installs it as the slog default.
func NewLogger(logDir string, opts Options) (*slog.Logger, *DailyWriter, error) {
	writer, err := NewDailyWriter(logDir, opts.RetentionDays)
	if err != nil {
		return nil, nil, err
	}
	console := opts.Console
	if console == nil {
		console = os.Stdout
	}
	logger := slog.New(newHandler(io.MultiWriter(console, writer), opts)).With("service", defaultPrefix)
	slog.SetDefault(logger)
	return logger, writer, nil
}

// NewConsoleLogger logs to w only; used by the CLI.
func NewConsoleLogger(w io.Writer, opts Options) *slog.Logger {
	return slog.New(newHandler(w, opts))
}

// ParseLevel maps a level name or integer to a slog.Level.
func ParseLevel(value string, fallback slog.Level) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return fallback
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	if i, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		return slog.Level(i)
	}
	return fallback
}

func newHandler(w io.Writer, opts Options) slog.Handler {
	level := opts.Level
	if level == "" {
		level = os.Getenv(envLogLevel)
	}
	format := opts.Format
	if format == "" {
		format = os.Getenv(envLogFormat)
	}
	options := &slog.HandlerOptions{Level: ParseLevel(level, slog.LevelInfo)}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return slog.NewJSONHandler(w, options)
	}
	return slog.NewTextHandler(w, options)
}
