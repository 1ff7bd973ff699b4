package schema

import (
	"fmt"
	"sort"

	"go.uber.org/multierr"
)

// Attribute describes one attribute.
type Attribute struct {
	Type     Type
	Required bool
}

// Description maps attribute names to what they must hold.
type Description map[string]Attribute

// Check validates the full attribute set of a new resource. Every required attribute must be
// present; errors are reported in attribute order.
func (d Description) Check(attrs map[string]any) error {
	var errs error
	for _, name := range d.names() {
		a := d[name]
		v, ok := attrs[name]
		if !ok {
			if a.Required {
				errs = multierr.Append(errs, &FieldError{Attribute: name, Reason: "required"})
			}
			continue
		}
		errs = multierr.Append(errs, a.check(name, v))
	}
	return errs
}

// CheckWrite validates a single attribute write.
func (d Description) CheckWrite(name string, value any) error {
	a, ok := d[name]
	if !ok {
		return nil
	}
	if value == nil && a.Required {
		return &FieldError{Attribute: name, Reason: "required"}
	}
	return a.check(name, value)
}

// CheckUndefine refuses to undefine a required attribute.
func (d Description) CheckUndefine(name string) error {
	if a, ok := d[name]; ok && a.Required {
		return &FieldError{Attribute: name, Reason: "required"}
	}
	return nil
}

func (a Attribute) check(name string, v any) error {
	if v == nil || a.Type == nil {
		return nil
	}
	if err := a.Type.Validate(v); err != nil {
		return &FieldError{Attribute: name, Reason: err.Error()}
	}
	return nil
}

func (d Description) names() []string {
	names := make([]string, 0, len(d))
	for n := range d {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ParseDescription builds a description from attribute name to type text. A trailing "!" marks
// the attribute required, e.g. {"jndi-name": "string!", "max-pool-size": "int"}.
func ParseDescription(types map[string]string) (Description, error) {
	d := make(Description, len(types))
	for name, text := range types {
		required := false
		if n := len(text); n > 0 && text[n-1] == '!' {
			required, text = true, text[:n-1]
		}
		t, err := ParseType(text)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, err)
		}
		d[name] = Attribute{Type: t, Required: required}
	}
	return d, nil
}
