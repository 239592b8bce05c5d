package browsing

import "sync"

// CreatedRegistry tracks session IDs the engine opened itself. Cleanup
// consults it so a reused pre-existing tab is never closed by the engine.
type CreatedRegistry struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewCreatedRegistry creates an empty registry.
func NewCreatedRegistry() *CreatedRegistry {
	return &CreatedRegistry{ids: make(map[string]struct{})}
}

// Add records a session the engine created.
func (r *CreatedRegistry) Add(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids[id] = struct{}{}
}

// Contains reports whether the engine created this session.
func (r *CreatedRegistry) Contains(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ids[id]
	return ok
}

// Remove forgets a session, typically after closing it.
func (r *CreatedRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ids, id)
}

// Len returns the number of tracked sessions.
func (r *CreatedRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}
