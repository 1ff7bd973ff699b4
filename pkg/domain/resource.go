package domain

import "sort"

// Resource is a node of the resource tree.
// Children is only populated on detached copies (recursive reads, removed subtrees).
type Resource struct {
	Address    Address        `json:"address" yaml:"address"`
	Attributes map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	Children   []*Resource    `json:"children,omitempty" yaml:"children,omitempty"`
}

// NewResource creates a detached resource holding a deep copy of attrs.
func NewResource(addr Address, attrs map[string]any) *Resource {
	return &Resource{
		Address:    addr.Clone(),
		Attributes: CloneAttributes(attrs),
	}
}

// Clone returns a deep copy of r, including its detached children.
func (r *Resource) Clone() *Resource {
	if r == nil {
		return nil
	}
	out := &Resource{
		Address:    r.Address.Clone(),
		Attributes: CloneAttributes(r.Attributes),
	}
	if len(r.Children) > 0 {
		out.Children = make([]*Resource, len(r.Children))
		for i, c := range r.Children {
			out.Children[i] = c.Clone()
		}
	}
	return out
}

// Attribute returns the named attribute value.
func (r *Resource) Attribute(name string) (any, bool) {
	v, ok := r.Attributes[name]
	return v, ok
}

// ChildTypes returns the distinct child types of the detached children, sorted.
func (r *Resource) ChildTypes() []string {
	seen := make(map[string]struct{})
	var types []string
	for _, c := range r.Children {
		seg, ok := c.Address.Last()
		if !ok {
			continue
		}
		if _, dup := seen[seg.Key]; !dup {
			seen[seg.Key] = struct{}{}
			types = append(types, seg.Key)
		}
	}
	sort.Strings(types)
	return types
}

// ChildrenOf returns the detached children of the given type, in address order.
func (r *Resource) ChildrenOf(childType string) []*Resource {
	var out []*Resource
	for _, c := range r.Children {
		if seg, ok := c.Address.Last(); ok && seg.Key == childType {
			out = append(out, c)
		}
	}
	return out
}

// Flatten returns r and all its detached descendants in pre-order, without Children populated.
func (r *Resource) Flatten() []*Resource {
	var out []*Resource
	stack := []*Resource{r}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, &Resource{Address: n.Address.Clone(), Attributes: CloneAttributes(n.Attributes)})
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}
	return out
}

// CloneAttributes deep-copies an attribute map. A nil map stays nil.
func CloneAttributes(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies attribute values: primitives, lists and nested structured values.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneAttributes(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}
