// Package container drives agent containers on the Docker engine.
//
// Every container agento creates carries two labels: the owning agent id and
// a managed marker. ListManaged filters on the marker so containers that
// belong to anything else on the host are never touched. Stop and Remove are
// idempotent, and Inspect reports a missing container as a state rather than
// an error.
package container

import (
	"context"
)

const (
	// LabelAgentID records the owning agent on each container.
	LabelAgentID = "agento.agent.id"
	// LabelManaged marks containers created by agento.
	LabelManaged = "agento.managed"

	// StatusNotFound is the Inspect status for a container that no longer exists.
	StatusNotFound = "not_found"
)

// Driver is the container runtime surface used by the lifecycle controller
// and the status monitor.
type Driver interface {
	// Ping verifies the runtime is reachable.
	Ping(ctx context.Context) error

	// Start prepares the agent directory, creates and starts the container,
	// and returns its id.
	Start(ctx context.Context, spec LaunchSpec) (string, error)

	// Stop stops a container. A missing or stopped container is not an error.
	Stop(ctx context.Context, id string) error

	// Remove force-removes a container. A missing container is not an error.
	Remove(ctx context.Context, id string) error

	// Inspect returns the container state. A missing container yields
	// State{Status: StatusNotFound}.
	Inspect(ctx context.Context, id string) (State, error)

	// Stats samples CPU and memory usage.
	Stats(ctx context.Context, id string) (Stats, error)

	// Logs returns recent output, stdout and stderr combined.
	Logs(ctx context.Context, id string, opts LogOptions) (string, error)

	// ListManaged returns every container carrying the managed label,
	// running or not.
	ListManaged(ctx context.Context) ([]Managed, error)

	// Close releases runtime resources.
	Close() error
}

// State is the inspected container state.
type State struct {
	Running   bool
	Status    string
	StartedAt string
}

// Stats is a point-in-time usage sample, formatted for display.
type Stats struct {
	CPU    string
	Memory string
}

// LogOptions bounds a log fetch.
type LogOptions struct {
	// Tail limits output to the last N lines. Zero means all.
	Tail int
	// Since is a timestamp or relative duration understood by the engine.
	Since string
}

// Managed describes a container found by ListManaged.
type Managed struct {
	ID      string
	Name    string
	Status  string
	AgentID string
}
