// Package health aggregates readiness checks for the API server.
//
// Components register a named Checker at startup. The health endpoint runs
// every checker on each request and reports per-component status alongside
// an overall verdict.
package health

import (
	"context"
	"sync"
)

// Status is the result of a single component check.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker probes one component. Implementations should respect the context
// deadline and never panic.
type Checker func(ctx context.Context) Status

// Registry holds named checkers.
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]Checker
}

func NewRegistry() *Registry {
	return &Registry{checkers: make(map[string]Checker)}
}

// Register adds a checker under name, replacing any previous checker with
// the same name.
func (r *Registry) Register(name string, c Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[name] = c
}

// CheckAll runs every registered checker and reports whether all components
// are healthy.
func (r *Registry) CheckAll(ctx context.Context) (bool, []Status) {
	r.mu.RLock()
	names := make([]string, 0, len(r.checkers))
	checkers := make([]Checker, 0, len(r.checkers))
	for name, c := range r.checkers {
		names = append(names, name)
		checkers = append(checkers, c)
	}
	r.mu.RUnlock()

	healthy := true
	statuses := make([]Status, 0, len(checkers))
	for i, c := range checkers {
		st := c(ctx)
		if st.Name == "" {
			st.Name = names[i]
		}
		if !st.Healthy {
			healthy = false
		}
		statuses = append(statuses, st)
	}
	return healthy, statuses
}
