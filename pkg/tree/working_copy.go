package tree

import (
	"errors"
	"fmt"

	"github.com/aretw0/keel/pkg/domain"
)

// ErrRootRemoval is returned when removing the root resource.
var ErrRootRemoval = errors.New("the root resource cannot be removed")

// WorkingCopy is a private, copy-on-write overlay of a Tree.
// Mutations are visible only through the WorkingCopy until Commit.
// A WorkingCopy is not safe for concurrent mutation; the owning operation is single-threaded.
type WorkingCopy struct {
	view
	base     *Tree
	modified bool
}

// Base returns the tree the working copy was opened on.
func (w *WorkingCopy) Base() *Tree {
	return w.base
}

// Modified reports whether any mutation happened.
func (w *WorkingCopy) Modified() bool {
	return w.modified
}

// Put creates or replaces the attributes of the resource at addr. Children are untouched.
// The parent must exist: a missing intermediate segment is ErrNotFound, never an implicit create.
func (w *WorkingCopy) Put(addr domain.Address, attrs map[string]any) error {
	if !addr.IsRoot() && !w.Exists(addr.Parent()) {
		return fmt.Errorf("parent of %s: %w", addr, domain.ErrNotFound)
	}
	stored := domain.CloneAttributes(attrs)
	if stored == nil {
		stored = map[string]any{}
	}
	w.nodes = w.nodes.Set(addr.Clone(), stored)
	w.modified = true
	return nil
}

// SetAttribute writes one attribute of an existing resource and returns the previous value.
func (w *WorkingCopy) SetAttribute(addr domain.Address, name string, value any) (old any, existed bool, err error) {
	attrs, ok := w.nodes.Get(addr)
	if !ok {
		return nil, false, fmt.Errorf("%s: %w", addr, domain.ErrNotFound)
	}
	old, existed = attrs[name]
	next := domain.CloneAttributes(attrs)
	next[name] = domain.CloneValue(value)
	w.nodes = w.nodes.Set(addr, next)
	w.modified = true
	return domain.CloneValue(old), existed, nil
}

// UnsetAttribute removes one attribute of an existing resource and returns the previous value.
func (w *WorkingCopy) UnsetAttribute(addr domain.Address, name string) (old any, existed bool, err error) {
	attrs, ok := w.nodes.Get(addr)
	if !ok {
		return nil, false, fmt.Errorf("%s: %w", addr, domain.ErrNotFound)
	}
	old, existed = attrs[name]
	if !existed {
		return nil, false, nil
	}
	next := domain.CloneAttributes(attrs)
	delete(next, name)
	w.nodes = w.nodes.Set(addr, next)
	w.modified = true
	return domain.CloneValue(old), true, nil
}

// Remove detaches the resource at addr together with its whole subtree and returns it,
// children included, so that Restore can re-graft the exact pre-removal content.
func (w *WorkingCopy) Remove(addr domain.Address) (*domain.Resource, error) {
	if addr.IsRoot() {
		return nil, ErrRootRemoval
	}
	removed, err := w.Read(addr, true)
	if err != nil {
		return nil, err
	}
	for _, key := range w.subtree(addr) {
		w.nodes = w.nodes.Delete(key)
	}
	w.modified = true
	return removed, nil
}

// Restore grafts a detached subtree (as returned by Remove) back into the working copy.
// Any resources currently under the subtree's address are replaced.
func (w *WorkingCopy) Restore(res *domain.Resource) error {
	if res == nil {
		return nil
	}
	if !res.Address.IsRoot() && !w.Exists(res.Address.Parent()) {
		return fmt.Errorf("parent of %s: %w", res.Address, domain.ErrNotFound)
	}
	if !res.Address.IsRoot() {
		for _, key := range w.subtree(res.Address) {
			w.nodes = w.nodes.Delete(key)
		}
	}
	for _, r := range res.Flatten() {
		attrs := r.Attributes
		if attrs == nil {
			attrs = map[string]any{}
		}
		w.nodes = w.nodes.Set(r.Address, attrs)
	}
	w.modified = true
	return nil
}

// Commit returns the resulting tree. An unmodified working copy commits to its base.
func (w *WorkingCopy) Commit() *Tree {
	if !w.modified {
		return w.base
	}
	return &Tree{view: view{nodes: w.nodes}, revision: w.base.revision + 1}
}
