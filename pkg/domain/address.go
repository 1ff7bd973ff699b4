package domain

import (
	"fmt"
	"strings"
)

// Wildcard matches any value of a segment when used in an address pattern.
const Wildcard = "*"

// Segment is one key=value step of an Address.
type Segment struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

func (s Segment) String() string {
	return s.Key + "=" + s.Value
}

// Address locates a resource in the tree. The zero value is the root.
// Addresses are immutable: every method returning an Address returns a fresh copy.
type Address []Segment

// RootAddress is the address of the tree root.
var RootAddress = Address{}

// NewAddress builds an address from alternating key, value pairs.
// It panics on an odd number of arguments; it is meant for literals.
func NewAddress(pairs ...string) Address {
	if len(pairs)%2 != 0 {
		panic("domain: NewAddress needs key/value pairs")
	}
	addr := make(Address, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		addr = append(addr, Segment{Key: pairs[i], Value: pairs[i+1]})
	}
	return addr
}

// ParseAddress parses the textual form "/key=value/key=value". "/" and "" denote the root.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "/")
	if s == "" {
		return RootAddress, nil
	}
	parts := strings.Split(s, "/")
	addr := make(Address, 0, len(parts))
	for _, part := range parts {
		key, value, ok := strings.Cut(part, "=")
		if !ok || key == "" || value == "" {
			return nil, fmt.Errorf("invalid address segment %q in %q", part, s)
		}
		addr = append(addr, Segment{Key: key, Value: value})
	}
	return addr, nil
}

// MustParseAddress is like ParseAddress but panics on error.
func MustParseAddress(s string) Address {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// String renders the address in its textual form.
func (a Address) String() string {
	if len(a) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, seg := range a {
		b.WriteByte('/')
		b.WriteString(seg.String())
	}
	return b.String()
}

// IsRoot reports whether a is the root address.
func (a Address) IsRoot() bool {
	return len(a) == 0
}

// Compare orders addresses lexicographically by segment sequence (key first, then value).
// A prefix sorts before every address it prefixes.
func (a Address) Compare(b Address) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := strings.Compare(a[i].Key, b[i].Key); c != 0 {
			return c
		}
		if c := strings.Compare(a[i].Value, b[i].Value); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// Equal reports whether a and b are the same address. Matching is case-sensitive.
func (a Address) Equal(b Address) bool {
	return a.Compare(b) == 0
}

// HasPrefix reports whether p is an ancestor of (or equal to) a.
func (a Address) HasPrefix(p Address) bool {
	if len(p) > len(a) {
		return false
	}
	for i := range p {
		if a[i] != p[i] {
			return false
		}
	}
	return true
}

// Append returns a new address with the given segment appended.
func (a Address) Append(key, value string) Address {
	out := make(Address, len(a), len(a)+1)
	copy(out, a)
	return append(out, Segment{Key: key, Value: value})
}

// Parent returns the address of the parent resource. The root is its own parent.
func (a Address) Parent() Address {
	if len(a) == 0 {
		return RootAddress
	}
	return a.Clone()[:len(a)-1]
}

// Last returns the final segment. ok is false for the root.
func (a Address) Last() (seg Segment, ok bool) {
	if len(a) == 0 {
		return Segment{}, false
	}
	return a[len(a)-1], true
}

// Clone returns a copy that shares no backing array with a.
func (a Address) Clone() Address {
	out := make(Address, len(a))
	copy(out, a)
	return out
}

// IsPattern reports whether any segment value is the Wildcard.
func (a Address) IsPattern() bool {
	for _, seg := range a {
		if seg.Value == Wildcard {
			return true
		}
	}
	return false
}

// Matches reports whether a matches pattern segment by segment.
// Keys must match exactly; a Wildcard value matches any value.
func (a Address) Matches(pattern Address) bool {
	if len(a) != len(pattern) {
		return false
	}
	return matchSegments(a, pattern)
}

// Intersects reports whether the subtree rooted at a and the subtree rooted at pattern overlap,
// i.e. one of them (after wildcard matching) is an ancestor of the other.
func (a Address) Intersects(pattern Address) bool {
	n := len(a)
	if len(pattern) < n {
		n = len(pattern)
	}
	return matchSegments(a[:n], pattern[:n])
}

func matchSegments(a, pattern Address) bool {
	for i := range pattern {
		if a[i].Key != pattern[i].Key {
			return false
		}
		if pattern[i].Value != Wildcard && a[i].Value != pattern[i].Value {
			return false
		}
	}
	return true
}

// MarshalText implements encoding.TextMarshaler so addresses travel as strings.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	addr, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = addr
	return nil
}
