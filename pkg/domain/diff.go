package domain

import (
	"reflect"
)

// TreeDiff describes the changes between two trees.
// It is designed to be serialized to JSON for change notifications.
type TreeDiff struct {
	Added   []Address `json:"added,omitempty"`
	Removed []Address `json:"removed,omitempty"`

	// Changed maps an address string to its attribute delta.
	// For deletions, the attribute is present with a nil value.
	Changed map[string]map[string]any `json:"changed,omitempty"`
}

// IsEmpty checks if the diff contains any changes.
func (d *TreeDiff) IsEmpty() bool {
	return d == nil || (len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0)
}

// Size returns the number of touched resources.
func (d *TreeDiff) Size() int {
	if d == nil {
		return 0
	}
	return len(d.Added) + len(d.Removed) + len(d.Changed)
}

// DiffAttributes returns the attribute delta from old to new, or nil if they are equal.
func DiffAttributes(old, new map[string]any) map[string]any {
	delta := make(map[string]any)

	// Check for Added or Modified
	for k, newVal := range new {
		oldVal, exists := old[k]
		if !exists || !reflect.DeepEqual(oldVal, newVal) {
			delta[k] = newVal
		}
	}

	// Check for Deletions
	for k := range old {
		if _, exists := new[k]; !exists {
			delta[k] = nil
		}
	}

	if len(delta) == 0 {
		return nil
	}
	return delta
}
