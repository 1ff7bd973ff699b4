package schema

import (
	"fmt"
	"sync"

	"github.com/aretw0/keel/pkg/domain"
)

type described struct {
	pattern domain.Address
	desc    Description
}

// Catalog attaches descriptions to address patterns. Safe for concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	entries []described
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{}
}

// Register describes every resource matching pattern.
func (c *Catalog) Register(pattern domain.Address, d Description) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.pattern.Equal(pattern) {
			return fmt.Errorf("%s: %w", pattern, ErrDuplicateDescription)
		}
	}
	c.entries = append(c.entries, described{pattern: pattern.Clone(), desc: d})
	return nil
}

// Lookup returns the description of the most specific pattern matching addr: fewer wildcards
// win, then the pattern whose first wildcard comes later.
func (c *Catalog) Lookup(addr domain.Address) (Description, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var best *described
	for i := range c.entries {
		e := &c.entries[i]
		if !addr.Matches(e.pattern) {
			continue
		}
		if best == nil || narrower(e.pattern, best.pattern) {
			best = e
		}
	}
	if best == nil {
		return nil, false
	}
	return best.desc, true
}

// Len returns the number of described patterns.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func narrower(a, b domain.Address) bool {
	ca, fa := wildcards(a)
	cb, fb := wildcards(b)
	if ca != cb {
		return ca < cb
	}
	return fa > fb
}

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
