package provider

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind names a provider.
type Kind string

const (
	Anthropic Kind = "anthropic"
	OpenAI    Kind = "openai"
	Google    Kind = "google"
)

// AuthTypeAPIKey is the only auth type currently stored with a provider.
const AuthTypeAPIKey = "api_key"

// ErrUnknownKind is returned when a kind is not in the table.
var ErrUnknownKind = errors.New("unknown provider kind")

// Spec is the fixed per-kind configuration.
type Spec struct {
	Kind Kind
	// Model is the gateway model identifier used as the agent's primary model.
	Model string
	// EnvVar receives the decrypted API key inside the container.
	EnvVar string
}

var table = map[Kind]Spec{
	Anthropic: {Kind: Anthropic, Model: "anthropic/claude-sonnet-4-5-20250929", EnvVar: "ANTHROPIC_API_KEY"},
	OpenAI:    {Kind: OpenAI, Model: "openai/gpt-4.1", EnvVar: "OPENAI_API_KEY"},
	Google:    {Kind: Google, Model: "google/gemini-2.5-pro", EnvVar: "GEMINI_API_KEY"},
}

// Lookup returns the Spec for kind.
func Lookup(kind string) (Spec, error) {
	s, ok := table[Kind(kind)]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q (want one of %s)", ErrUnknownKind, kind, strings.Join(Kinds(), ", "))
	}
	return s, nil
}

// Valid reports whether kind is a known provider kind.
func Valid(kind string) bool {
	_, ok := table[Kind(kind)]
	return ok
}

// Kinds returns the known kinds in sorted order.
func Kinds() []string {
	names := make([]string, 0, len(table))
	for k := range table {
		names = append(names, string(k))
	}
	sort.Strings(names)
	return names
}

// KeyPreview masks an API key for display. Keys of 8 characters or fewer are
// fully masked; longer keys show the first and last four characters.
func KeyPreview(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
