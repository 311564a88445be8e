// Package ui formats human-facing CLI output: colors when stdout is a
// terminal, agent status markers, and prefixed warnings on stderr.
package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

var writer io.Writer = os.Stderr

// SetWriter overrides the stderr writer. nil restores os.Stderr.
func SetWriter(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	writer = w
}

var colorEnabled = detectColor(os.Stdout)

func detectColor(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// SetColorEnabled overrides color detection (for testing).
func SetColorEnabled(enabled bool) {
	colorEnabled = enabled
}

// ColorEnabled reports whether stdout gets ANSI colors.
func ColorEnabled() bool {
	return colorEnabled
}

func ansi(code, s string) string {
	if !colorEnabled {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

// Bold returns s in bold.
func Bold(s string) string { return ansi("1", s) }

// Dim returns s dimmed.
func Dim(s string) string { return ansi("90", s) }

// Green returns s in green.
func Green(s string) string { return ansi("32", s) }

// Red returns s in red.
func Red(s string) string { return ansi("31", s) }

// Yellow returns s in yellow.
func Yellow(s string) string { return ansi("33", s) }

// StatusMarker returns the bullet printed next to an agent with status.
func StatusMarker(status string) string {
	switch status {
	case "running":
		return Green("●")
	case "creating":
		return Yellow("●")
	case "error":
		return Red("●")
	default:
		return Dim("○")
	}
}

// Warn prints a warning to stderr.
func Warn(msg string) {
	fmt.Fprintf(writer, "%s %s\n", ansi("33", "Warning:"), msg)
}

// Warnf is Warn with formatting.
func Warnf(format string, args ...any) {
	Warn(fmt.Sprintf(format, args...))
}

// Error prints an error to stderr.
func Error(msg string) {
	fmt.Fprintf(writer, "%s %s\n", ansi("31", "Error:"), msg)
}

// Errorf is Error with formatting.
func Errorf(format string, args ...any) {
	Error(fmt.Sprintf(format, args...))
}
