// Package modreg tracks, per module, whether any node it contributed
// failed to apply, so a supervising process can disable the module on
// the next boot. Construction and persistence of that decision are
// outside this design; this package only records the fact.
package modreg

import "sync"

// Registry records which modules failed during an apply run and
// releases whatever bookkeeping the run accumulated once it's done.
type Registry interface {
	// MarkFailed records that the named module produced a node that
	// failed to apply. reason is a short human-readable cause, kept
	// for diagnostics only.
	MarkFailed(module, reason string)
	// Cleanup releases any resources held by the registry. Called by
	// Context.Cleanup when the run's context is released.
	Cleanup()
}

// Status is a single module's recorded outcome.
type Status struct {
	Failed bool
	Reason string
}

// MemRegistry is the default in-memory Registry: a process-local map
// from module name to Status. It does not persist across runs; a
// supervising orchestrator wanting durable disablement should wrap or
// replace it.
type MemRegistry struct {
	mu       sync.Mutex
	statuses map[string]Status
}

// NewMemRegistry returns an empty MemRegistry.
func NewMemRegistry() *MemRegistry {
	return &MemRegistry{statuses: make(map[string]Status)}
}

// MarkFailed implements Registry.
func (r *MemRegistry) MarkFailed(module, reason string) {
	if module == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[module] = Status{Failed: true, Reason: reason}
}

// Cleanup implements Registry. MemRegistry holds no external resources,
// so this only clears the map.
func (r *MemRegistry) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = make(map[string]Status)
}

// Failed reports whether module was marked failed, and why.
func (r *MemRegistry) Failed(module string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.statuses[module]
	return s, ok
}

// All returns a snapshot of every recorded status, keyed by module
// name.
func (r *MemRegistry) All() map[string]Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Status, len(r.statuses))
	for k, v := range r.statuses {
		out[k] = v
	}
	return out
}
