package log

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestInit_FileCapturesDebug(t *testing.T) {
	dir := t.TempDir()
	var stderr bytes.Buffer

	if err := Init(Options{Dir: dir, Stderr: &stderr}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer Close()

	Debug("debug detail", "agent_id", "a1")
	Info("started", "port", 18800)
	Close()

	content, err := os.ReadFile(filepath.Join(dir, "agento-"+time.Now().Format(time.DateOnly)+".jsonl"))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(content), "debug detail") {
		t.Errorf("file log missing debug record: %s", content)
	}
	if strings.Contains(stderr.String(), "debug detail") {
		t.Errorf("stderr should not include debug at info level: %s", stderr.String())
	}
	if !strings.Contains(stderr.String(), "started") {
		t.Errorf("stderr missing info record: %s", stderr.String())
	}
}

func TestInit_VerboseAndJSON(t *testing.T) {
	var stderr bytes.Buffer
	if err := Init(Options{Verbose: true, JSONFormat: true, Stderr: &stderr}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	Component("monitor").Debug("tick")

	out := stderr.String()
	if !strings.Contains(out, `"msg":"tick"`) || !strings.Contains(out, `"component":"monitor"`) {
		t.Errorf("unexpected JSON output: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
