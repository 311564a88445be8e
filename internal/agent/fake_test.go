package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/majorcontext/agento/internal/container"
)

// fakeDriver is an in-memory container.Driver.
type fakeDriver struct {
	mu         sync.Mutex
	next       int
	containers map[string]*fakeContainer
	startErr   error
	stopErr    error
	removeErr  error
	onStart    func(spec container.LaunchSpec)
	specs      []container.LaunchSpec
}

type fakeContainer struct {
	agentID string
	running bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{containers: make(map[string]*fakeContainer)}
}

func (f *fakeDriver) Ping(context.Context) error { return nil }

func (f *fakeDriver) Start(_ context.Context, spec container.LaunchSpec) (string, error) {
	if f.onStart != nil {
		f.onStart(spec)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.specs = append(f.specs, spec)
	if f.startErr != nil {
		return "", f.startErr
	}
	f.next++
	id := fmt.Sprintf("container-%d", f.next)
	f.containers[id] = &fakeContainer{agentID: spec.AgentID, running: true}
	return id, nil
}

func (f *fakeDriver) Stop(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return f.stopErr
	}
	if c, ok := f.containers[id]; ok {
		c.running = false
	}
	return nil
}

func (f *fakeDriver) Remove(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	delete(f.containers, id)
	return nil
}

func (f *fakeDriver) Inspect(_ context.Context, id string) (container.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return container.State{Status: container.StatusNotFound}, nil
	}
	if c.running {
		return container.State{Running: true, Status: "running"}, nil
	}
	return container.State{Status: "exited"}, nil
}

func (f *fakeDriver) Stats(context.Context, string) (container.Stats, error) {
	return container.Stats{CPU: "0.00%", Memory: "0B / 0B"}, nil
}

func (f *fakeDriver) Logs(_ context.Context, id string, _ container.LogOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[id]; !ok {
		return "", errors.New("no such container")
	}
	return "ready\n", nil
}

func (f *fakeDriver) ListManaged(context.Context) ([]container.Managed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []container.Managed
	for id, c := range f.containers {
		out = append(out, container.Managed{ID: id, AgentID: c.agentID})
	}
	return out, nil
}

func (f *fakeDriver) Close() error { return nil }

func (f *fakeDriver) kill(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[id]; ok {
		c.running = false
	}
}

func (f *fakeDriver) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}
