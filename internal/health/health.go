// Package health aggregates component health checks (attestation, policy,
// telemetry, threat detection, database).
package health

import (
	"context"
	"sync"
	"time"
)

// Component states reported in health responses.
const (
	StateUp   = "UP"
	StateDown = "DOWN"
)

// Status represents the health of a single component.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// State returns "UP" or "DOWN".
func (s Status) State() string {
	if s.Healthy {
		return StateUp
	}
	return StateDown
}

// Checker checks the health of one component.
type Checker func(ctx context.Context) Status

// Registry holds named health checkers and runs them on demand.
type Registry struct {
	mu       sync.RWMutex
	checkers []Checker
	timeout  time.Duration
}

// NewRegistry creates a registry whose checks share a per-call timeout.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Registry{timeout: timeout}
}

// Register adds a checker.
func (r *Registry) Register(check Checker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, check)
	r.mu.Unlock()
}

// Static returns a checker that always reports healthy.
func Static(name, detail string) Checker {
	return func(context.Context) Status {
		return Status{Name: name, Healthy: true, Detail: detail}
	}
}

// CheckAll runs every checker concurrently and returns the aggregate
// health plus the individual results in registration order.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]Checker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	statuses = make([]Status, len(checkers))
	var wg sync.WaitGroup
	for i, check := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			statuses[i] = check(ctx)
		}()
	}
	wg.Wait()

	healthy = true
	for _, s := range statuses {
		if !s.Healthy {
			healthy = false
		}
	}
	return healthy, statuses
}

// Components flattens statuses into a name to state map.
func Components(statuses []Status) map[string]string {
	out := make(map[string]string, len(statuses))
	for _, s := range statuses {
		out[s.Name] = s.State()
	}
	return out
}
