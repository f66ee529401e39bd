package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDailyWriterWriteAndDefaults(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewDailyWriterWithPrefix(dir, "", 0)
	if err != nil {
		t.Fatalf("NewDailyWriterWithPrefix: %v", err)
	}
	defer writer.Close()

	if writer.retentionDays != defaultRetention {
		t.Fatalf("retention = %d, want %d", writer.retentionDays, defaultRetention)
	}
	if _, err := writer.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	path := filepath.Join(dir, "folio-"+time.Now().Format(dateLayout)+".log")
	if writer.Path() != path {
		t.Fatalf("Path = %s, want %s", writer.Path(), path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Fatalf("log content missing")
	}
}

func TestDailyWriterRotatesOnDayChange(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewDailyWriterWithPrefix(dir, "test", 2)
	if err != nil {
		t.Fatalf("NewDailyWriterWithPrefix: %v", err)
	}
	defer writer.Close()

	day := time.Date(2030, 3, 1, 23, 0, 0, 0, time.Local)
	writer.now = func() time.Time { return day }
	if _, err := writer.Write([]byte("first\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	day = day.Add(2 * time.Hour)
	if _, err := writer.Write([]byte("second\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	first, _ := os.ReadFile(filepath.Join(dir, "test-20300301.log"))
	second, _ := os.ReadFile(filepath.Join(dir, "test-20300302.log"))
	if string(first) != "first\n" || string(second) != "second\n" {
		t.Fatalf("unexpected contents %q / %q", first, second)
	}
}

func TestDailyWriterPrunesOldFiles(t *testing.T) {
	dir := t.TempDir()
	prefix := "test"

	oldPath := filepath.Join(dir, prefix+"-"+time.Now().AddDate(0, 0, -3).Format(dateLayout)+".log")
	recentPath := filepath.Join(dir, prefix+"-"+time.Now().Format(dateLayout)+".log")
	otherPath := filepath.Join(dir, "other-20000101.log")
	for _, p := range []string{oldPath, recentPath, otherPath} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}

	writer, err := NewDailyWriterWithPrefix(dir, prefix, 1)
	if err != nil {
		t.Fatalf("NewDailyWriterWithPrefix: %v", err)
	}
	defer writer.Close()

	if _, err := os.Stat(oldPath); err == nil {
		t.Fatalf("expected old log to be removed")
	}
	if _, err := os.Stat(recentPath); err != nil {
		t.Fatalf("expected recent log to remain: %v", err)
	}
	if _, err := os.Stat(otherPath); err != nil {
		t.Fatalf("foreign prefix must be kept: %v", err)
	}
}

func TestDailyWriterCloseNil(t *testing.T) {
	w := &DailyWriter{}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelWarn,
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"-8":      slog.Level(-8),
		"verbose": slog.LevelWarn,
	}
	for in, want := range cases {
		if got := ParseLevel(in, slog.LevelWarn); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerJSON(t *testing.T) {
	t.Setenv(envLogLevel, "")
	t.Setenv(envLogFormat, "")
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var console bytes.Buffer
	logger, writer, err := NewLogger(t.TempDir(), Options{Format: "json", Level: "debug", Console: &console})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer writer.Close()

	logger.Debug("recalculated", "user_id", "u1", "positions", 3)

	var record map[string]any
	if err := json.Unmarshal(console.Bytes(), &record); err != nil {
		t.Fatalf("console output is not json: %v (%q)", err, console.String())
	}
	if record["msg"] != "recalculated" || record["service"] != "folio" || record["user_id"] != "u1" {
		t.Fatalf("unexpected record %v", record)
	}
	data, err := os.ReadFile(writer.Path())
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"recalculated"`) {
		t.Fatalf("file copy missing record")
	}
}

func TestConsoleLoggerHonoursEnv(t *testing.T) {
	t.Setenv(envLogLevel, "warn")
	t.Setenv(envLogFormat, "text")

	var buf bytes.Buffer
	logger := NewConsoleLogger(&buf, Options{})
	logger.Info("hidden")
	logger.Warn("shown", "asset", "VOO")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info should be filtered: %q", out)
	}
	if !strings.Contains(out, "msg=shown") || !strings.Contains(out, "asset=VOO") {
		t.Fatalf("unexpected output %q", out)
	}
}
