// Package ports hands out host ports for agent gateways.
//
// Ports are issued upward from a base. The high-water mark lives in the
// durable store and is advanced with a single atomic statement, so two
// concurrent allocations never see the same value. Ports released by deleted
// agents go into an in-memory free set and are reused before the counter
// advances again. The free set is rebuilt by Init at startup.
package ports

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/majorcontext/agento/internal/log"
)

// Store is the durable state the allocator needs.
type Store interface {
	NextPortCounter(ctx context.Context, base int) (int, error)
	PortCounter(ctx context.Context, base int) (int, error)
	UsedPorts(ctx context.Context) ([]int, error)
}

// Allocator issues unique ports.
type Allocator struct {
	store Store
	base  int

	mu   sync.Mutex
	free map[int]struct{}
}

// New creates an allocator issuing ports from base upward.
func New(store Store, base int) *Allocator {
	return &Allocator{
		store: store,
		base:  base,
		free:  make(map[int]struct{}),
	}
}

// Init seeds the free set with every port in [base, counter) not held by
// an agent. Call once at startup before serving requests.
func (a *Allocator) Init(ctx context.Context) error {
	counter, err := a.store.PortCounter(ctx, a.base)
	if err != nil {
		return err
	}
	used, err := a.store.UsedPorts(ctx)
	if err != nil {
		return err
	}
	inUse := make(map[int]bool, len(used))
	for _, p := range used {
		inUse[p] = true
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for p := a.base; p < counter; p++ {
		if !inUse[p] {
			a.free[p] = struct{}{}
		}
	}
	log.Debug("port allocator initialized", "base", a.base, "counter", counter, "recycled", len(a.free))
	return nil
}

// Allocate returns a port no other agent holds.
func (a *Allocator) Allocate(ctx context.Context) (int, error) {
	a.mu.Lock()
	for p := range a.free {
		delete(a.free, p)
		a.mu.Unlock()
		return p, nil
	}
	a.mu.Unlock()

	p, err := a.store.NextPortCounter(ctx, a.base)
	if err != nil {
		return 0, fmt.Errorf("allocating port: %w", err)
	}
	return p, nil
}

// Free returns port to the pool. The persisted counter is left alone.
func (a *Allocator) Free(port int) {
	if port < a.base {
		return
	}
	a.mu.Lock()
	a.free[port] = struct{}{}
	a.mu.Unlock()
}

// Recycled returns the free set in ascending order.
func (a *Allocator) Recycled() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]int, 0, len(a.free))
	for p := range a.free {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}
