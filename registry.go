// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package outbox

import (
	"reflect"
	"sync"

	"github.com/z5labs/outbox/concurrent"
)

// HandlerRegistry resolves applicable [Handler]s for a payload at schedule
// time and fallback handlers for a handler ID at dispatch time. See §4.7.
//
// Construction happens once at startup by calling Register for every
// handler instance; this collapses the source framework's reflection-based
// annotation scan into iterating an explicit registration list, per the
// design notes in §9.
type HandlerRegistry struct {
	mu         sync.RWMutex
	typed      []Handler
	generic    []Handler
	byID       map[string]Handler
	fallbacks  map[string]FallbackFunc
	matchCache *concurrent.Cache[reflect.Type, []Handler]
}

// NewHandlerRegistry constructs an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		byID:       make(map[string]Handler),
		fallbacks:  make(map[string]FallbackFunc),
		matchCache: concurrent.NewCache[reflect.Type, []Handler](),
	}
}

// Register adds h to the registry. Returns a [ConfigurationError] if a
// handler with the same ID is already registered.
func (r *HandlerRegistry) Register(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[h.ID]; exists {
		return &ConfigurationError{Reason: "duplicate handler id: " + h.ID}
	}

	r.byID[h.ID] = h
	switch h.Kind {
	case HandlerTyped:
		r.typed = append(r.typed, h)
	case HandlerGeneric:
		r.generic = append(r.generic, h)
	default:
		return &ConfigurationError{Reason: "unsupported handler kind for Register: " + string(h.Kind)}
	}
	r.matchCache = concurrent.NewCache[reflect.Type, []Handler]()
	return nil
}

// RegisterFallback associates fn as the terminal compensation for the
// TYPED or GENERIC handler named forHandlerID. Returns a
// [ConfigurationError] if that handler already has a fallback registered
// or does not exist.
func (r *HandlerRegistry) RegisterFallback(forHandlerID string, fn FallbackFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[forHandlerID]; !ok {
		return &ConfigurationError{Reason: "no handler registered with id: " + forHandlerID}
	}
	if _, exists := r.fallbacks[forHandlerID]; exists {
		return &ConfigurationError{Reason: "duplicate fallback registration for handler id: " + forHandlerID}
	}
	r.fallbacks[forHandlerID] = fn
	return nil
}

// HandlersFor returns every TYPED handler whose PayloadType is assignable
// from payloadType, plus every GENERIC handler, per §4.1/§4.7. Results are
// cached by runtime type since the set is typically small (1-2) and stable
// for the registry's lifetime.
func (r *HandlerRegistry) HandlersFor(payloadType reflect.Type) []Handler {
	r.mu.RLock()
	cache := r.matchCache
	r.mu.RUnlock()

	matches, _ := cache.GetOr(payloadType, func() ([]Handler, error) {
		r.mu.RLock()
		defer r.mu.RUnlock()

		ms := make([]Handler, 0, len(r.generic)+1)
		for _, h := range r.typed {
			if h.Matches(payloadType) {
				ms = append(ms, h)
			}
		}
		ms = append(ms, r.generic...)
		return ms, nil
	})
	return matches
}

// HandlerByID returns the handler registered under id.
func (r *HandlerRegistry) HandlerByID(id string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byID[id]
	return h, ok
}

// FallbackFor returns the fallback function associated with handler id, if
// any.
func (r *HandlerRegistry) FallbackFor(id string) (FallbackFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.fallbacks[id]
	return fn, ok
}
