package ui

import (
	"bytes"
	"testing"
)

func TestWarn(t *testing.T) {
	var buf bytes.Buffer
	SetWriter(&buf)
	defer SetWriter(nil)
	SetColorEnabled(false)

	Warnf("skipping %q: %s", "agent-1", "no provider")

	want := "Warning: skipping \"agent-1\": no provider\n"
	if got := buf.String(); got != want {
		t.Errorf("Warnf output = %q, want %q", got, want)
	}
}

func TestError(t *testing.T) {
	var buf bytes.Buffer
	SetWriter(&buf)
	defer SetWriter(nil)
	SetColorEnabled(false)

	Errorf("failed to connect: %s", "timeout")

	want := "Error: failed to connect: timeout\n"
	if got := buf.String(); got != want {
		t.Errorf("Errorf output = %q, want %q", got, want)
	}
}

func TestStatusMarker(t *testing.T) {
	SetColorEnabled(false)
	tests := map[string]string{
		"running":  "●",
		"creating": "●",
		"error":    "●",
		"stopped":  "○",
		"":         "○",
	}
	for status, want := range tests {
		if got := StatusMarker(status); got != want {
			t.Errorf("StatusMarker(%q) = %q, want %q", status, got, want)
		}
	}
}

func TestColor(t *testing.T) {
	SetColorEnabled(true)
	defer SetColorEnabled(false)

	if got, want := StatusMarker("running"), "\033[32m●\033[0m"; got != want {
		t.Errorf("StatusMarker(running) = %q, want %q", got, want)
	}
	if got, want := Dim("x"), "\033[90mx\033[0m"; got != want {
		t.Errorf("Dim = %q, want %q", got, want)
	}
	if !ColorEnabled() {
		t.Error("ColorEnabled() = false after SetColorEnabled(true)")
	}
}
