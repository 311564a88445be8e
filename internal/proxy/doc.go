// Package proxy relays long-lived streams between API clients and agent
// containers.
//
// There are three relays. Chat forwards a message to the agent's
// in-container gateway and copies the upstream SSE stream back verbatim.
// Logs follows container output and emits one SSE event per line. Terminal
// bridges a WebSocket to an interactive shell.
//
// Once a relay is open it never touches the lifecycle controller. A client
// disconnect always tears down the upstream connection or subprocess it
// opened.
package proxy

import "errors"

var (
	// ErrNotRunning is returned when the agent has no running gateway to reach.
	ErrNotRunning = errors.New("agent is not running")

	// ErrMissingCredential is returned when no gateway token is on record.
	ErrMissingCredential = errors.New("agent gateway token not found")

	// ErrNoContainer is returned when the agent has no container to attach to.
	ErrNoContainer = errors.New("agent has no container")
)
