// Package agent implements the agent lifecycle: create, start, stop,
// restart, update and delete.
//
// Operations on one agent are serialized by a per-agent lock; operations on
// different agents run in parallel. Every container action is followed by a
// row update recording its actual outcome, so the agents table is the
// durable history of what happened rather than of what was requested.
package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/majorcontext/agento/internal/container"
	"github.com/majorcontext/agento/internal/id"
	"github.com/majorcontext/agento/internal/log"
	"github.com/majorcontext/agento/internal/provider"
	"github.com/majorcontext/agento/internal/storage"
)

// Store is the subset of the durable store the controller uses.
type Store interface {
	CreateAgent(ctx context.Context, a *storage.Agent) error
	GetAgent(ctx context.Context, id string) (*storage.Agent, error)
	ListAgents(ctx context.Context) ([]*storage.Agent, error)
	UpdateAgent(ctx context.Context, a *storage.Agent) error
	DeleteAgent(ctx context.Context, id string) error
	GetProvider(ctx context.Context, id string) (*storage.Provider, error)
}

// Ports hands out and reclaims host ports.
type Ports interface {
	Allocate(ctx context.Context) (int, error)
	Free(port int)
}

// Secrets opens encrypted provider keys.
type Secrets interface {
	Decrypt(envelope string) (string, error)
}

// Options configures a Controller.
type Options struct {
	// Image is the container image for new agents.
	Image string
	// AgentsDir holds one directory per agent.
	AgentsDir string
	// CallbackURL is injected so the gateway can report credential events.
	CallbackURL string
	Limits      container.Limits
}

// Controller drives agents through their lifecycle.
type Controller struct {
	store   Store
	ports   Ports
	secrets Secrets
	driver  container.Driver
	opts    Options
	locks   *keyedMutex

	now      func() time.Time
	newToken func() (string, error)
}

// New creates a Controller.
func New(store Store, ports Ports, secrets Secrets, driver container.Driver, opts Options) *Controller {
	return &Controller{
		store:    store,
		ports:    ports,
		secrets:  secrets,
		driver:   driver,
		opts:     opts,
		locks:    newKeyedMutex(),
		now:      func() time.Time { return time.Now().UTC() },
		newToken: id.GatewayToken,
	}
}

// CreateParams describes a new agent.
type CreateParams struct {
	Name       string
	ProviderID string
	SoulMD     string
	IdentityMD string
}

// Create inserts a stopped agent with no container or port.
func (c *Controller) Create(ctx context.Context, p CreateParams) (*storage.Agent, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}

	a := &storage.Agent{
		ID:         id.New(),
		Name:       name,
		Status:     storage.StatusStopped,
		Image:      c.opts.Image,
		Config:     map[string]any{},
		SoulMD:     optional(p.SoulMD),
		IdentityMD: optional(p.IdentityMD),
	}
	if p.ProviderID != "" {
		if err := c.checkProvider(ctx, p.ProviderID); err != nil {
			return nil, err
		}
		a.ProviderID = &p.ProviderID
	}

	if err := c.store.CreateAgent(ctx, a); err != nil {
		return nil, err
	}
	log.Info("agent created", "agent_id", a.ID, "name", a.Name)
	return a, nil
}

// Get returns one agent.
func (c *Controller) Get(ctx context.Context, agentID string) (*storage.Agent, error) {
	return c.store.GetAgent(ctx, agentID)
}

// List returns all agents.
func (c *Controller) List(ctx context.Context) ([]*storage.Agent, error) {
	return c.store.ListAgents(ctx)
}

// Patch is a partial update. Nil fields are left unchanged; an empty string
// clears an optional field.
type Patch struct {
	Name       *string
	SoulMD     *string
	IdentityMD *string
	ProviderID *string
}

// Update applies p. Text changes reach a running container on its next start.
func (c *Controller) Update(ctx context.Context, agentID string, p Patch) (*storage.Agent, error) {
	unlock := c.locks.Lock(agentID)
	defer unlock()

	a, err := c.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name must not be empty", ErrInvalidArgument)
		}
		a.Name = name
	}
	if p.SoulMD != nil {
		a.SoulMD = optional(*p.SoulMD)
	}
	if p.IdentityMD != nil {
		a.IdentityMD = optional(*p.IdentityMD)
	}
	if p.ProviderID != nil {
		if *p.ProviderID != "" {
			if err := c.checkProvider(ctx, *p.ProviderID); err != nil {
				return nil, err
			}
		}
		a.ProviderID = optional(*p.ProviderID)
	}

	if err := c.store.UpdateAgent(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Start launches the agent's container.
//
// It fails with ErrNotFound for an unknown agent, ErrConflict when the row
// says running and the engine agrees, and ErrInvalidState when no provider
// is linked. A row marked running whose container is dead is restarted.
func (c *Controller) Start(ctx context.Context, agentID string) (*storage.Agent, error) {
	unlock := c.locks.Lock(agentID)
	defer unlock()

	a, err := c.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	if a.Status == storage.StatusRunning && a.ContainerID != nil {
		state, err := c.driver.Inspect(ctx, *a.ContainerID)
		if err != nil {
			log.Debug("inspect before start failed", "agent_id", a.ID, "error", err)
		} else if state.Running {
			return nil, ErrConflict
		}
	}

	prov, err := c.linkedProvider(ctx, a)
	if err != nil {
		return nil, err
	}
	return c.launch(ctx, a, prov)
}

// Restart replaces the agent's container, keeping its port.
func (c *Controller) Restart(ctx context.Context, agentID string) (*storage.Agent, error) {
	unlock := c.locks.Lock(agentID)
	defer unlock()

	a, err := c.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	prov, err := c.linkedProvider(ctx, a)
	if err != nil {
		return nil, err
	}
	return c.launch(ctx, a, prov)
}

// Stop stops the container and marks the agent stopped. Engine failures are
// logged and otherwise ignored; the container reference and port are kept
// so a later start reuses the port.
func (c *Controller) Stop(ctx context.Context, agentID string) (*storage.Agent, error) {
	unlock := c.locks.Lock(agentID)
	defer unlock()

	a, err := c.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	if a.ContainerID != nil {
		if err := c.driver.Stop(context.WithoutCancel(ctx), *a.ContainerID); err != nil {
			log.Warn("stopping container", "agent_id", a.ID, "container_id", *a.ContainerID, "error", err)
		}
	}

	now := c.now()
	a.Status = storage.StatusStopped
	a.StoppedAt = &now
	if err := c.store.UpdateAgent(context.WithoutCancel(ctx), a); err != nil {
		return nil, err
	}
	log.Info("agent stopped", "agent_id", a.ID)
	return a, nil
}

// Delete removes the container, frees the port, deletes the row and the
// agent directory. Teardown failures are logged; the row is still deleted.
func (c *Controller) Delete(ctx context.Context, agentID string) error {
	unlock := c.locks.Lock(agentID)
	defer unlock()

	a, err := c.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)

	refs := []string{container.ContainerName(a.ID)}
	if a.ContainerID != nil && *a.ContainerID != refs[0] {
		refs = append(refs, *a.ContainerID)
	}
	for _, ref := range refs {
		if err := c.driver.Remove(ctx, ref); err != nil {
			log.Warn("removing container", "agent_id", a.ID, "container", ref, "error", err)
		}
	}
	if a.Port != nil {
		c.ports.Free(*a.Port)
	}
	if err := c.store.DeleteAgent(ctx, a.ID); err != nil {
		return err
	}
	if err := os.RemoveAll(c.agentDir(a.ID)); err != nil {
		log.Warn("removing agent directory", "agent_id", a.ID, "error", err)
	}
	log.Info("agent deleted", "agent_id", a.ID)
	return nil
}

// Logs returns the agent's recent container output without following it.
func (c *Controller) Logs(ctx context.Context, agentID string, opts container.LogOptions) (string, error) {
	a, err := c.store.GetAgent(ctx, agentID)
	if err != nil {
		return "", err
	}
	if a.ContainerID == nil {
		return "", ErrNoContainer
	}
	out, err := c.driver.Logs(ctx, *a.ContainerID, opts)
	if err != nil {
		return "", &RuntimeError{Op: "fetch logs", Cause: err}
	}
	return out, nil
}

// launch runs the shared start path. The caller holds the agent lock.
func (c *Controller) launch(ctx context.Context, a *storage.Agent, prov *storage.Provider) (*storage.Agent, error) {
	// Once the row is touched the outcome must be recorded even if the
	// caller goes away.
	ctx = context.WithoutCancel(ctx)

	// The row keeps pointing at the previous container until it is gone, so a
	// later delete can still find it.
	previous := a.ContainerID
	if previous != nil {
		if err := c.driver.Remove(ctx, *previous); err != nil {
			log.Warn("removing previous container", "agent_id", a.ID, "container_id", *previous, "error", err)
		} else {
			previous = nil
		}
	}

	fresh := a.Port == nil
	var port int
	if fresh {
		p, err := c.ports.Allocate(ctx)
		if err != nil {
			return nil, err
		}
		port = p
	} else {
		port = *a.Port
	}

	token, err := c.newToken()
	if err != nil {
		if fresh {
			c.ports.Free(port)
		}
		return nil, fmt.Errorf("generating gateway token: %w", err)
	}

	a.Status = storage.StatusCreating
	a.ContainerID = previous
	a.Port = &port
	a.LastError = nil
	if err := c.store.UpdateAgent(ctx, a); err != nil {
		if fresh {
			c.ports.Free(port)
		}
		return nil, err
	}

	apiKey, err := c.secrets.Decrypt(prov.EncryptedKey)
	if err != nil {
		return nil, c.fail(ctx, a, &RuntimeError{Op: "decrypt provider key", Cause: err})
	}
	spec, err := c.launchSpec(a, prov, apiKey, token)
	if err != nil {
		return nil, c.fail(ctx, a, &RuntimeError{Op: "start container", Cause: err})
	}

	log.Info("starting agent", "agent_id", a.ID, "port", port)
	containerID, err := c.driver.Start(ctx, spec)
	if err != nil {
		return nil, c.fail(ctx, a, &RuntimeError{Op: "start container", Cause: err})
	}

	now := c.now()
	a.Status = storage.StatusRunning
	a.ContainerID = &containerID
	a.StartedAt = &now
	a.StoppedAt = nil
	a.LastError = nil
	a.SetGatewayToken(token)
	if err := c.store.UpdateAgent(ctx, a); err != nil {
		return nil, fmt.Errorf("recording started container %s: %w", containerID, err)
	}
	log.Info("agent running", "agent_id", a.ID, "container_id", containerID, "port", port)
	return a, nil
}

// fail records a start failure on the row and returns the error.
func (c *Controller) fail(ctx context.Context, a *storage.Agent, cause error) error {
	msg := cause.Error()
	var rerr *RuntimeError
	if errors.As(cause, &rerr) {
		msg = rerr.Cause.Error()
	}

	a.Status = storage.StatusError
	a.LastError = &msg
	if err := c.store.UpdateAgent(ctx, a); err != nil {
		log.Error("recording start failure", "agent_id", a.ID, "error", err)
	}
	log.Warn("agent start failed", "agent_id", a.ID, "error", msg)
	return cause
}

func (c *Controller) launchSpec(a *storage.Agent, prov *storage.Provider, apiKey, token string) (container.LaunchSpec, error) {
	kind, err := provider.Lookup(prov.Kind)
	if err != nil {
		return container.LaunchSpec{}, err
	}
	return container.LaunchSpec{
		AgentID:      a.ID,
		Name:         a.Name,
		Image:        a.Image,
		SoulMD:       deref(a.SoulMD),
		IdentityMD:   deref(a.IdentityMD),
		Provider:     kind,
		APIKey:       apiKey,
		HostPort:     *a.Port,
		GatewayToken: token,
		AgentDir:     c.agentDir(a.ID),
		CallbackURL:  c.opts.CallbackURL,
		Limits:       c.opts.Limits,
	}, nil
}

// linkedProvider returns the agent's provider or ErrInvalidState.
func (c *Controller) linkedProvider(ctx context.Context, a *storage.Agent) (*storage.Provider, error) {
	if a.ProviderID == nil {
		return nil, fmt.Errorf("%w: no provider configured", ErrInvalidState)
	}
	p, err := c.store.GetProvider(ctx, *a.ProviderID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: provider %s no longer exists", ErrInvalidState, *a.ProviderID)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (c *Controller) checkProvider(ctx context.Context, providerID string) error {
	_, err := c.store.GetProvider(ctx, providerID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: provider %s not found", ErrInvalidArgument, providerID)
	}
	return err
}

func (c *Controller) agentDir(agentID string) string {
	return filepath.Join(c.opts.AgentsDir, agentID)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
