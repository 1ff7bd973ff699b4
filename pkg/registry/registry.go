// Package registry maps (operation name, address pattern) pairs to step handlers.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/keel/pkg/domain"
	"github.com/aretw0/keel/pkg/operation"
)

type entry struct {
	pattern domain.Address
	handler operation.Handler
}

// Registry manages the available handlers.
// Resolution picks the most specific pattern matching an address: an exact address wins over
// any wildcard, then fewer wildcards win, then the pattern whose first wildcard comes later.
// Handlers registered with RegisterGlobal apply to every address and have the lowest priority.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]entry
	globals  map[string]operation.Handler
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string][]entry),
		globals:  make(map[string]operation.Handler),
	}
}

// Register adds a handler for op at pattern.
// Registering the same (op, pattern) twice fails with domain.ErrDuplicateHandler.
func (r *Registry) Register(op string, pattern domain.Address, h operation.Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.handlers[op] {
		if e.pattern.Equal(pattern) {
			return fmt.Errorf("%s at %s: %w", op, pattern, domain.ErrDuplicateHandler)
		}
	}
	r.handlers[op] = append(r.handlers[op], entry{pattern: pattern.Clone(), handler: h})
	return nil
}

// RegisterFunc is Register for a plain function.
func (r *Registry) RegisterFunc(op string, pattern domain.Address, fn operation.HandlerFunc) error {
	return r.Register(op, pattern, fn)
}

// RegisterGlobal adds a handler for op valid at every address.
func (r *Registry) RegisterGlobal(op string, h operation.Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.globals[op]; ok {
		return fmt.Errorf("global %s: %w", op, domain.ErrDuplicateHandler)
	}
	r.globals[op] = h
	return nil
}

// Resolve looks up the handler for op at addr.
// Returns an error wrapping domain.ErrNoHandler if nothing matches.
func (r *Registry) Resolve(op string, addr domain.Address) (operation.Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *entry
	for i := range r.handlers[op] {
		e := &r.handlers[op][i]
		if !addr.Matches(e.pattern) {
			continue
		}
		if best == nil || moreSpecific(e.pattern, best.pattern) {
			best = e
		}
	}
	if best != nil {
		return best.handler, nil
	}
	if h, ok := r.globals[op]; ok {
		return h, nil
	}
	return nil, fmt.Errorf("%s at %s: %w", op, addr, domain.ErrNoHandler)
}

// Operations lists the operation names resolvable at addr, sorted.
func (r *Registry) Operations(addr domain.Address) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for op, entries := range r.handlers {
		for _, e := range entries {
			if addr.Matches(e.pattern) {
				seen[op] = struct{}{}
				break
			}
		}
	}
	for op := range r.globals {
		seen[op] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for op := range seen {
		names = append(names, op)
	}
	sort.Strings(names)
	return names
}

func moreSpecific(a, b domain.Address) bool {
	wa, fa := wildcards(a)
	wb, fb := wildcards(b)
	if wa != wb {
		return wa < wb
	}
	return fa > fb
}

// wildcards returns the number of wildcard values and the index of the first one.
func wildcards(p domain.Address) (count, first int) {
	first = len(p)
	for i, seg := range p {
		if seg.Value == domain.Wildcard {
			if count == 0 {
				first = i
			}
			count++
		}
	}
	return count, first
}
