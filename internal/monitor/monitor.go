// Package monitor reconciles container reality with the agents table.
//
// On every tick the monitor lists managed containers, inspects and samples
// each one, refreshes the status cache, and flips agents whose container
// stopped behind our back from running to error. Ticks never overlap; a
// tick that overruns the interval causes the next one to be skipped.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/majorcontext/agento/internal/container"
	"github.com/majorcontext/agento/internal/log"
)

const (
	defaultInterval    = 10 * time.Second
	defaultCallTimeout = 5 * time.Second
	// maxConcurrentChecks bounds engine calls in flight during one tick.
	maxConcurrentChecks = 8
)

// Store records asynchronous container exits.
type Store interface {
	MarkAgentExited(ctx context.Context, id, containerID, lastError string, at time.Time) (bool, error)
}

// Options configures a Monitor.
type Options struct {
	Interval    time.Duration
	CallTimeout time.Duration
}

// Monitor runs the periodic reconciliation.
type Monitor struct {
	driver      container.Driver
	store       Store
	cache       *Cache
	interval    time.Duration
	callTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
	first  sync.WaitGroup
}

// New creates a Monitor. Zero options take the defaults.
func New(driver container.Driver, store Store, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	return &Monitor{
		driver:      driver,
		store:       store,
		cache:       NewCache(),
		interval:    opts.Interval,
		callTimeout: opts.CallTimeout,
		logger:      log.Component("monitor"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Cache returns the status cache.
func (m *Monitor) Cache() *Cache {
	return m.cache
}

// Start runs one tick immediately, then schedules ticks every interval
// until Stop is called or ctx is canceled.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cron != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	logger := cronLogger{m.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	job := cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		_ = m.Tick(ctx)
	})
	c.Schedule(cron.Every(m.interval), job)
	m.cron = c

	// The initial tick shares the chain so it cannot overlap a scheduled one.
	wrapped := c.Entries()[0].WrappedJob
	m.first.Add(1)
	go func() {
		defer m.first.Done()
		wrapped.Run()
	}()
	c.Start()
	m.logger.Info("monitor started", "interval", m.interval)
}

// Stop cancels any running tick and waits for it to return.
func (m *Monitor) Stop() {
	m.mu.Lock()
	c, cancel := m.cron, m.cancel
	m.cron, m.cancel = nil, nil
	m.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	m.first.Wait()
	m.logger.Info("monitor stopped")
}

type observation struct {
	managed container.Managed
	state   container.State
	stats   container.Stats
	err     error
}

// Tick performs one reconciliation pass. A failure to list containers
// leaves the cache untouched and is returned; per-container failures are
// logged and keep that agent's previous cache entry.
func (m *Monitor) Tick(ctx context.Context) error {
	listCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	managed, err := m.driver.ListManaged(listCtx)
	cancel()
	if err != nil {
		m.logger.Warn("listing managed containers", "error", err)
		return err
	}

	obs := make([]observation, len(managed))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentChecks)
	for i, c := range managed {
		if c.AgentID == "" {
			continue
		}
		i, c := i, c
		g.Go(func() error {
			obs[i] = m.observe(gctx, c)
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]bool, len(managed))
	best := make(map[string]observation, len(managed))
	for _, o := range obs {
		id := o.managed.AgentID
		if id == "" {
			continue
		}
		seen[id] = true
		if o.err != nil {
			m.logger.Warn("checking container", "agent_id", id, "container_id", o.managed.ID, "error", o.err)
			continue
		}
		// A stale container for the same agent must not mask the live one.
		if prev, ok := best[id]; ok && prev.state.Running && !o.state.Running {
			continue
		}
		best[id] = o
	}

	for id, o := range best {
		m.cache.set(id, Status{
			Running: o.state.Running,
			CPU:     o.stats.CPU,
			Memory:  o.stats.Memory,
			Uptime:  o.state.StartedAt,
		})
	}
	for _, o := range obs {
		if o.managed.AgentID == "" || o.err != nil || o.state.Running {
			continue
		}
		m.recordExit(ctx, o)
	}
	m.cache.retain(seen)
	return nil
}

func (m *Monitor) observe(ctx context.Context, c container.Managed) observation {
	o := observation{managed: c, stats: container.Stats{CPU: "0%", Memory: "0B / 0B"}}

	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	o.state, o.err = m.driver.Inspect(callCtx, c.ID)
	cancel()
	if o.err != nil || !o.state.Running {
		return o
	}

	callCtx, cancel = context.WithTimeout(ctx, m.callTimeout)
	stats, err := m.driver.Stats(callCtx, c.ID)
	cancel()
	if err != nil {
		m.logger.Debug("sampling container stats", "container_id", c.ID, "error", err)
		return o
	}
	o.stats = stats
	return o
}

func (m *Monitor) recordExit(ctx context.Context, o observation) {
	msg := "Container exited: " + o.state.Status
	changed, err := m.store.MarkAgentExited(ctx, o.managed.AgentID, o.managed.ID, msg, m.now())
	if err != nil {
		m.logger.Error("recording container exit", "agent_id", o.managed.AgentID, "error", err)
		return
	}
	if changed {
		m.logger.Warn("agent container exited", "agent_id", o.managed.AgentID,
			"container_id", o.managed.ID, "status", o.state.Status)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
