// Package doctor runs diagnostic checks against a local agento installation.
package doctor

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/majorcontext/agento/internal/ui"
)

// Check is one diagnostic. Run returns a short detail line on success.
type Check struct {
	Name string
	Run  func(ctx context.Context) (string, error)
	// Optional checks print a warning instead of failing.
	Optional bool
}

// Result is the outcome of a single check.
type Result struct {
	Name     string `json:"name"`
	OK       bool   `json:"ok"`
	Optional bool   `json:"optional,omitempty"`
	Detail   string `json:"detail"`
}

// Failed reports whether a required check failed.
func (r Result) Failed() bool { return !r.OK && !r.Optional }

const checkTimeout = 5 * time.Second

// Run executes checks in order. Each check gets its own timeout.
func Run(ctx context.Context, checks []Check) []Result {
	results := make([]Result, 0, len(checks))
	for _, c := range checks {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		detail, err := c.Run(cctx)
		cancel()

		r := Result{Name: c.Name, OK: err == nil, Optional: c.Optional, Detail: detail}
		if err != nil {
			r.Detail = err.Error()
		}
		results = append(results, r)
	}
	return results
}

// Print writes one line per result and returns the number of failed
// required checks.
func Print(w io.Writer, results []Result) int {
	failed := 0
	for _, r := range results {
		marker := ui.Green("✓")
		switch {
		case r.Failed():
			marker = ui.Red("✗")
			failed++
		case !r.OK:
			marker = ui.Yellow("!")
		}
		fmt.Fprintf(w, "%s %-16s %s\n", marker, r.Name, ui.Dim(r.Detail))
	}
	return failed
}
