// Package router owns the full set of configured routes: registration,
// bulk start, bulk stop and a stats snapshot across all of them. It does
// no cross-route coordination — each route.Route is independent, and a
// failure starting one does not roll back the others already started.
package router

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mohanson/routerd/internal/route"
)

// Router is the top-level registry of routes in one process.
type Router struct {
	mu     sync.RWMutex
	routes map[string]*route.Route
	order  []string // preserves registration order for Start/Stats
}

// New returns an empty Router.
func New() *Router {
	return &Router{routes: map[string]*route.Route{}}
}

// Register adds r to the registry under its configured name. Names must
// be unique; registering the same name twice is an error.
func (rt *Router) Register(r *route.Route) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if _, exists := rt.routes[r.Name()]; exists {
		return fmt.Errorf("router: route %q already registered", r.Name())
	}
	rt.routes[r.Name()] = r
	rt.order = append(rt.order, r.Name())
	return nil
}

// Start starts every registered route in registration order. It does
// not stop on the first failure: every route gets a Start attempt, and
// the caller sees every error that occurred.
func (rt *Router) Start() error {
	rt.mu.RLock()
	names := append([]string(nil), rt.order...)
	rt.mu.RUnlock()

	var errs []error
	for _, name := range names {
		rt.mu.RLock()
		r := rt.routes[name]
		rt.mu.RUnlock()
		if err := r.Start(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("router: %d route(s) failed to start: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// StopAll stops every registered route. Each route's Stop is already
// idempotent and blocks until its pair workers drain, so StopAll blocks
// until the whole process's in-flight connections have drained.
func (rt *Router) StopAll() {
	rt.mu.RLock()
	names := append([]string(nil), rt.order...)
	rt.mu.RUnlock()

	var wg sync.WaitGroup
	for _, name := range names {
		rt.mu.RLock()
		r := rt.routes[name]
		rt.mu.RUnlock()
		wg.Add(1)
		go func(r *route.Route) {
			defer wg.Done()
			r.Stop()
		}(r)
	}
	wg.Wait()
}

// Stats returns a point-in-time snapshot of every registered route's
// counters, in registration order.
func (rt *Router) Stats() []route.Stats {
	rt.mu.RLock()
	names := append([]string(nil), rt.order...)
	rt.mu.RUnlock()

	stats := make([]route.Stats, 0, len(names))
	for _, name := range names {
		rt.mu.RLock()
		r := rt.routes[name]
		rt.mu.RUnlock()
		stats = append(stats, r.Stats())
	}
	return stats
}

// Lookup returns the registered route named name, if any.
func (rt *Router) Lookup(name string) (*route.Route, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	r, ok := rt.routes[name]
	return r, ok
}
