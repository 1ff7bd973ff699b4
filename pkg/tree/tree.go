package tree

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/aretw0/keel/pkg/domain"
	"github.com/segmentio/fasthash/fnv1a"
)

// Tree is an immutable resource tree. It is safe for concurrent readers.
type Tree struct {
	view
	revision uint64
}

// New returns a tree holding only an empty root resource.
func New() *Tree {
	return &Tree{view: view{nodes: emptyNodes().Set(domain.RootAddress, map[string]any{})}}
}

// Revision counts the commits that produced this tree.
func (t *Tree) Revision() uint64 {
	return t.revision
}

// Edit opens a copy-on-write working copy over t.
func (t *Tree) Edit() *WorkingCopy {
	return &WorkingCopy{view: view{nodes: t.nodes}, base: t}
}

// Snapshot returns the flat, address-ordered image of the tree.
func (t *Tree) Snapshot() *domain.Snapshot {
	snap := &domain.Snapshot{Revision: t.revision, Resources: make([]*domain.Resource, 0, t.Len())}
	t.walk(domain.RootAddress, func(a domain.Address, attrs map[string]any) bool {
		snap.Resources = append(snap.Resources, domain.NewResource(a, attrs))
		return true
	})
	return snap
}

// FromSnapshot rebuilds a tree. Every resource's parent must be present in the snapshot.
func FromSnapshot(snap *domain.Snapshot) (*Tree, error) {
	if snap == nil {
		return New(), nil
	}
	nodes := emptyNodes().Set(domain.RootAddress, map[string]any{})
	for _, r := range snap.Resources {
		if r == nil {
			continue
		}
		attrs := domain.CloneAttributes(r.Attributes)
		if attrs == nil {
			attrs = map[string]any{}
		}
		nodes = nodes.Set(r.Address.Clone(), attrs)
	}

	t := &Tree{view: view{nodes: nodes}, revision: snap.Revision}
	var orphan error
	t.walk(domain.RootAddress, func(a domain.Address, _ map[string]any) bool {
		if !a.IsRoot() && !t.Exists(a.Parent()) {
			orphan = fmt.Errorf("snapshot resource %s has no parent: %w", a, domain.ErrNotFound)
			return false
		}
		return true
	})
	if orphan != nil {
		return nil, orphan
	}
	return t, nil
}

// Fingerprint hashes the full content of the tree (addresses and canonical attribute JSON).
// Two trees with equal fingerprints hold the same model; the revision is not included.
func (t *Tree) Fingerprint() uint64 {
	h := fnv1a.Init64
	t.walk(domain.RootAddress, func(a domain.Address, attrs map[string]any) bool {
		h = fnv1a.AddString64(h, a.String())
		// encoding/json sorts map keys, which makes the encoding canonical.
		data, err := json.Marshal(attrs)
		if err != nil {
			data = []byte(fmt.Sprintf("%v", attrs))
		}
		h = fnv1a.AddString64(h, string(data))
		return true
	})
	return h
}

// Equal reports whether t and other hold the same resources and attributes.
func (t *Tree) Equal(other *Tree) bool {
	if t == other {
		return true
	}
	if t == nil || other == nil || t.Len() != other.Len() {
		return false
	}
	return Diff(t, other).IsEmpty()
}

// Diff computes the changes from old to new by merging both key ranges.
func Diff(old, new *Tree) *domain.TreeDiff {
	diff := &domain.TreeDiff{}
	oi, ni := old.nodes.Iterator(), new.nodes.Iterator()
	oldKey, oattrs, oOK := oi.Next()
	newKey, nattrs, nOK := ni.Next()

	for oOK || nOK {
		var c int
		switch {
		case !oOK:
			c = 1
		case !nOK:
			c = -1
		default:
			c = oldKey.Compare(newKey)
		}

		switch {
		case c < 0:
			diff.Removed = append(diff.Removed, oldKey)
			oldKey, oattrs, oOK = oi.Next()
		case c > 0:
			diff.Added = append(diff.Added, newKey)
			newKey, nattrs, nOK = ni.Next()
		default:
			if !reflect.DeepEqual(oattrs, nattrs) {
				if diff.Changed == nil {
					diff.Changed = make(map[string]map[string]any)
				}
				diff.Changed[newKey.String()] = domain.DiffAttributes(oattrs, nattrs)
			}
			oldKey, oattrs, oOK = oi.Next()
			newKey, nattrs, nOK = ni.Next()
		}
	}
	return diff
}
