// Package flight is the in-flight dedup registry: concurrent requests for
// the same resource key share one upstream generation instead of each
// paying for their own.
package flight

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// Registry maps resource keys to in-progress generations. It wraps
// singleflight with a pending-key set so callers can observe that every
// ticket is released after settlement.
type Registry struct {
	group   singleflight.Group
	mu      sync.Mutex
	pending map[string]struct{}
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{pending: make(map[string]struct{})}
}

// Do runs fn for key, or attaches to an already in-flight call for the
// same key and receives its outcome. joined is true for callers that
// attached rather than executed. The key is released after fn settles,
// success, failure or panic alike.
func (r *Registry) Do(key string, fn func() (any, error)) (v any, joined bool, err error) {
	owner := false
	v, err, _ = r.group.Do(key, func() (any, error) {
		owner = true
		r.track(key)
		defer r.untrack(key)
		return fn()
	})
	return v, !owner, err
}

// Pending returns the number of resource keys with work in flight.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// InFlight reports whether key currently has work in flight.
func (r *Registry) InFlight(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[key]
	return ok
}

func (r *Registry) track(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[key] = struct{}{}
}

func (r *Registry) untrack(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, key)
}
