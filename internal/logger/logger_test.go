package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestFileWriterDefaults(t *testing.T) {
	if w := (FileConfig{}).Writer(); w != nil {
		t.Fatalf("expected nil writer without a path")
	}
	path := filepath.Join(t.TempDir(), "panel.log")
	w := FileConfig{Path: path}.Writer()
	l, ok := w.(*lj.Logger)
	if !ok {
		t.Fatalf("expected *lumberjack.Logger, got %T", w)
	}
	if l.MaxSize != DefaultMaxSizeMB || l.MaxBackups != DefaultMaxBackups || l.MaxAge != DefaultMaxAgeDays || l.Compress {
		t.Fatalf("unexpected defaults: %+v", l)
	}

	w = FileConfig{Path: path, MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 2, Compress: true}.Writer()
	l = w.(*lj.Logger)
	if l.MaxSize != 1 || l.MaxBackups != 9 || l.MaxAge != 2 || !l.Compress {
		t.Fatalf("values not applied: %+v", l)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"info":    slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNewJSONToConsoleAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panel.log")
	var console bytes.Buffer
	log, closer, err := newWithOutput(Config{Level: "debug", Format: "json", File: FileConfig{Path: path}}, &console)
	if err != nil {
		t.Fatal(err)
	}
	log.Debug("server status changed", "from", "stopped", "to", "starting")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	var rec map[string]any
	if err := json.Unmarshal(console.Bytes(), &rec); err != nil {
		t.Fatalf("console output is not json: %v (%q)", err, console.String())
	}
	if rec["msg"] != "server status changed" || rec["to"] != "starting" {
		t.Fatalf("unexpected record: %v", rec)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file: %v", err)
	}
	if !bytes.Equal(b, console.Bytes()) {
		t.Fatalf("file and console differ:\n%s\n%s", b, console.Bytes())
	}
}

func TestNewLevelFilters(t *testing.T) {
	var console bytes.Buffer
	log, closer, err := newWithOutput(Config{Level: "warn"}, &console)
	if err != nil {
		t.Fatal(err)
	}
	if closer != nil {
		t.Fatalf("no closer expected without a file")
	}
	log.Info("hidden")
	log.Warn("shown")
	if strings.Contains(console.String(), "hidden") || !strings.Contains(console.String(), "shown") {
		t.Fatalf("unexpected output %q", console.String())
	}
}

func TestNewColorKeepsFilePlain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panel.log")
	var console bytes.Buffer
	log, closer, err := newWithOutput(Config{Format: "color", File: FileConfig{Path: path}}, &console)
	if err != nil {
		t.Fatal(err)
	}
	log.With("component", "status").Info("hello")
	_ = closer.Close()

	// the text handler quotes the message, so escape codes appear escaped
	if !strings.Contains(console.String(), `\x1b[32mINFO`) {
		t.Fatalf("console should be colored: %q", console.String())
	}
	b, _ := os.ReadFile(path)
	if strings.Contains(string(b), "x1b[") || !strings.Contains(string(b), "component=status") {
		t.Fatalf("file should be plain text with attrs: %q", b)
	}
}

func TestNewRejectsUnknown(t *testing.T) {
	if _, _, err := New(Config{Format: "xml"}); err == nil {
		t.Fatalf("expected error for unknown format")
	}
	if _, _, err := New(Config{Level: "verbose"}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestColorTextHandlerWithoutTime(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, nil, false)
	slog.New(h).WithGroup("g").Warn("careful", "k", "v")
	out := buf.String()
	if strings.Contains(out, "time=") {
		t.Fatalf("time should be dropped: %q", out)
	}
	if !strings.Contains(out, `\x1b[33mWARN`) || !strings.Contains(out, "g.k=v") {
		t.Fatalf("unexpected output %q", out)
	}
}
