// Package registry holds the process-wide component-id -> handler map that
// the message router dispatches through. Its lifetime is explicit: owned by
// whatever constructs the orchestrator, not a package-level global.
package registry

import (
	"sync"

	"github.com/aegis-run/aegis/internal/budget"
	"github.com/aegis-run/aegis/internal/domain"
)

// Handler processes a dispatched Message and returns a response Message.
type Handler func(msg *domain.Message, signal budget.Signal) (*domain.Message, error)

// Registry maps component-id to Handler. Mutated rarely (startup/shutdown)
// and protected by a mutex rather than left lock-free.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler under id. Fails with KindConflict if id is
// already registered, or KindValidation if id doesn't match the component
// naming grammar.
func (r *Registry) Register(id string, h Handler) error {
	if !domain.ValidComponentID(id) {
		return domain.NewError("registry.Register", domain.KindValidation, id, domain.ErrInvalidComponent)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[id]; exists {
		return domain.NewError("registry.Register", domain.KindConflict, id, domain.ErrAlreadyRegistered)
	}
	r.handlers[id] = h
	return nil
}

// Unregister removes id. Fails with KindNotFound if absent.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[id]; !exists {
		return domain.NewError("registry.Unregister", domain.KindNotFound, id, domain.ErrComponentNotFound)
	}
	delete(r.handlers, id)
	return nil
}

// GetHandler returns the handler for id, if any.
func (r *Registry) GetHandler(id string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[id]
	return h, ok
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.GetHandler(id)
	return ok
}

// ListIDs returns all registered component-ids in no particular order.
func (r *Registry) ListIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	return ids
}

// Clear removes every registered handler.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[string]Handler)
}
