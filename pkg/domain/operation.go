package domain

import "fmt"

// Well-known operation names.
const (
	OpAdd               = "add"
	OpRemove            = "remove"
	OpWriteAttribute    = "write-attribute"
	OpUndefineAttribute = "undefine-attribute"
	OpReadResource      = "read-resource"
	OpReadAttribute     = "read-attribute"
	OpReadChildrenNames = "read-children-names"
	OpReadOperations    = "read-operation-names"
	OpComposite         = "composite"
	OpStart             = "start"
	OpStop              = "stop"
)

// Operation is a named request against an Address. It is treated as immutable once submitted;
// coordinators clone it on entry.
type Operation struct {
	Name    string         `json:"operation" yaml:"operation" mapstructure:"operation"`
	Address Address        `json:"address" yaml:"address" mapstructure:"address"`
	Params  map[string]any `json:"params,omitempty" yaml:"params,omitempty" mapstructure:"params"`
	Headers map[string]any `json:"headers,omitempty" yaml:"headers,omitempty" mapstructure:"headers"`
}

// NewOperation builds an operation, copying params.
func NewOperation(name string, addr Address, params map[string]any) Operation {
	return Operation{
		Name:    name,
		Address: addr.Clone(),
		Params:  CloneAttributes(params),
	}
}

// Clone returns a deep copy of o.
func (o Operation) Clone() Operation {
	return Operation{
		Name:    o.Name,
		Address: o.Address.Clone(),
		Params:  CloneAttributes(o.Params),
		Headers: CloneAttributes(o.Headers),
	}
}

// Param returns a parameter value.
func (o Operation) Param(name string) (any, bool) {
	v, ok := o.Params[name]
	return v, ok
}

// IsReadOnly reports whether the operation never mutates the tree.
func (o Operation) IsReadOnly() bool {
	switch o.Name {
	case OpReadResource, OpReadAttribute, OpReadChildrenNames, OpReadOperations:
		return true
	}
	return false
}

func (o Operation) String() string {
	return fmt.Sprintf("%s:%s", o.Address, o.Name)
}
