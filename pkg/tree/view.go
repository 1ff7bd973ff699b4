package tree

import (
	"fmt"
	"sort"

	"github.com/aretw0/keel/pkg/domain"
	"github.com/benbjohnson/immutable"
)

type addressComparer struct{}

func (addressComparer) Compare(a, b domain.Address) int {
	return a.Compare(b)
}

type nodeMap = immutable.SortedMap[domain.Address, map[string]any]

func emptyNodes() *nodeMap {
	return immutable.NewSortedMap[domain.Address, map[string]any](addressComparer{})
}

// view holds the read-only accessors shared by Tree and WorkingCopy.
// Stored attribute maps are never mutated in place; readers get deep copies.
type view struct {
	nodes *nodeMap
}

// Exists reports whether a resource is present at addr.
func (v view) Exists(addr domain.Address) bool {
	_, ok := v.nodes.Get(addr)
	return ok
}

// Len returns the number of resources, root included.
func (v view) Len() int {
	return v.nodes.Len()
}

// Get returns the resource at addr without its children.
func (v view) Get(addr domain.Address) (*domain.Resource, error) {
	attrs, ok := v.nodes.Get(addr)
	if !ok {
		return nil, fmt.Errorf("%s: %w", addr, domain.ErrNotFound)
	}
	return domain.NewResource(addr, attrs), nil
}

// Read returns the resource at addr; with recursive it carries its whole subtree in Children.
func (v view) Read(addr domain.Address, recursive bool) (*domain.Resource, error) {
	if !recursive {
		return v.Get(addr)
	}
	if !v.Exists(addr) {
		return nil, fmt.Errorf("%s: %w", addr, domain.ErrNotFound)
	}

	var root *domain.Resource
	index := make(map[string]*domain.Resource)
	v.walk(addr, func(a domain.Address, attrs map[string]any) bool {
		res := domain.NewResource(a, attrs)
		index[a.String()] = res
		if root == nil {
			root = res
			return true
		}
		if parent, ok := index[a.Parent().String()]; ok {
			parent.Children = append(parent.Children, res)
		}
		return true
	})
	return root, nil
}

// Children returns the direct children of addr of the given type, in address order.
// A missing parent is ErrNotFound; a parent without such children yields an empty slice.
func (v view) Children(addr domain.Address, childType string) ([]*domain.Resource, error) {
	if !v.Exists(addr) {
		return nil, fmt.Errorf("%s: %w", addr, domain.ErrNotFound)
	}
	out := []*domain.Resource{}
	depth := len(addr) + 1
	v.walk(addr, func(a domain.Address, attrs map[string]any) bool {
		if len(a) == depth && a[depth-1].Key == childType {
			out = append(out, domain.NewResource(a, attrs))
		}
		return true
	})
	return out, nil
}

// ChildTypes returns the distinct child types present under addr, sorted.
func (v view) ChildTypes(addr domain.Address) ([]string, error) {
	if !v.Exists(addr) {
		return nil, fmt.Errorf("%s: %w", addr, domain.ErrNotFound)
	}
	seen := make(map[string]struct{})
	depth := len(addr) + 1
	v.walk(addr, func(a domain.Address, _ map[string]any) bool {
		if len(a) == depth {
			seen[a[depth-1].Key] = struct{}{}
		}
		return true
	})
	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)
	return types, nil
}

// Walk visits addr and its descendants in address order until fn returns false.
// fn receives copies and may not retain internal state.
func (v view) Walk(addr domain.Address, fn func(*domain.Resource) bool) {
	v.walk(addr, func(a domain.Address, attrs map[string]any) bool {
		return fn(domain.NewResource(a, attrs))
	})
}

// walk iterates the contiguous key range of the subtree rooted at addr.
// The callback receives internal maps and must not mutate them.
func (v view) walk(addr domain.Address, fn func(domain.Address, map[string]any) bool) {
	itr := v.nodes.Iterator()
	itr.Seek(addr)
	for !itr.Done() {
		a, attrs, ok := itr.Next()
		if !ok || !a.HasPrefix(addr) {
			return
		}
		if !fn(a, attrs) {
			return
		}
	}
}

// subtree returns the keys of addr and all its descendants.
func (v view) subtree(addr domain.Address) []domain.Address {
	var keys []domain.Address
	v.walk(addr, func(a domain.Address, _ map[string]any) bool {
		keys = append(keys, a)
		return true
	})
	return keys
}
