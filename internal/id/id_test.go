package id

import (
	"encoding/base64"
	"regexp"
	"testing"

	"github.com/google/uuid"
)

func TestNew(t *testing.T) {
	a, b := New(), New()
	if a == b {
		t.Errorf("expected unique IDs, got %s twice", a)
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Errorf("New() = %q is not a UUID: %v", a, err)
	}
}

func TestShort(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"3f2a9c1e-1111-2222-3333-444455556666", "3f2a9c1e"},
		{"abc", "abc"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Short(tt.in); got != tt.want {
			t.Errorf("Short(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGatewayToken(t *testing.T) {
	tok, err := GatewayToken()
	if err != nil {
		t.Fatalf("GatewayToken: %v", err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		t.Fatalf("token %q is not base64url: %v", tok, err)
	}
	if len(raw) != 24 {
		t.Errorf("decoded token length = %d, want 24", len(raw))
	}

	other, _ := GatewayToken()
	if tok == other {
		t.Error("expected distinct tokens")
	}
}

func TestSecret(t *testing.T) {
	s, err := Secret(32)
	if err != nil {
		t.Fatalf("Secret: %v", err)
	}
	if !regexp.MustCompile(`^[0-9a-f]{64}$`).MatchString(s) {
		t.Errorf("Secret(32) = %q, want 64 hex chars", s)
	}
}
