package api

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/majorcontext/agento/internal/container"
)

type fakeDriver struct {
	mu         sync.Mutex
	next       int
	containers map[string]string // container id -> agent id
	running    map[string]bool
	startErr   error
	logOpts    container.LogOptions
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{containers: map[string]string{}, running: map[string]bool{}}
}

func (f *fakeDriver) Ping(context.Context) error { return nil }

func (f *fakeDriver) Start(_ context.Context, spec container.LaunchSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.next++
	id := fmt.Sprintf("container-%d", f.next)
	f.containers[id] = spec.AgentID
	f.running[id] = true
	return id, nil
}

func (f *fakeDriver) Stop(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[id] = false
	return nil
}

func (f *fakeDriver) Remove(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, id)
	delete(f.running, id)
	return nil
}

func (f *fakeDriver) Inspect(_ context.Context, id string) (container.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[id]; !ok {
		return container.State{Status: container.StatusNotFound}, nil
	}
	if f.running[id] {
		return container.State{Running: true, Status: "running", StartedAt: "2026-01-02T03:04:05Z"}, nil
	}
	return container.State{Status: "exited"}, nil
}

func (f *fakeDriver) Stats(context.Context, string) (container.Stats, error) {
	return container.Stats{CPU: "0.50%", Memory: "64MiB / 8GiB"}, nil
}

// Logs serves a fixed history, trimmed to opts.Tail.
func (f *fakeDriver) Logs(_ context.Context, id string, opts container.LogOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[id]; !ok {
		return "", fmt.Errorf("no such container: %s", id)
	}
	f.logOpts = opts
	lines := []string{"booting", "", "loading model", "ready"}
	if opts.Tail > 0 && opts.Tail < len(lines) {
		lines = lines[len(lines)-opts.Tail:]
	}
	return strings.Join(lines, "\r\n") + "\n", nil
}

func (f *fakeDriver) ListManaged(context.Context) ([]container.Managed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []container.Managed
	for id, agentID := range f.containers {
		out = append(out, container.Managed{ID: id, AgentID: agentID})
	}
	return out, nil
}

func (f *fakeDriver) Close() error { return nil }

// cannedStream replays fixed output and exits 0.
type cannedStream struct {
	io.Reader
}

func (cannedStream) Write(b []byte) (int, error) { return len(b), nil }
func (cannedStream) Wait() (int, error)          { return 0, nil }
func (cannedStream) Close() error                { return nil }

type fakeStreamer struct {
	output string
}

func (f fakeStreamer) FollowLogs(context.Context, string, int) (container.Stream, error) {
	return cannedStream{strings.NewReader(f.output)}, nil
}

func (f fakeStreamer) Shell(context.Context, string) (container.Stream, error) {
	return cannedStream{strings.NewReader(f.output)}, nil
}
