package operation

import (
	"github.com/aretw0/keel/pkg/domain"
)

// StepFunc is one phase of a Step.
type StepFunc func(*Context) error

// Step is a unit of work produced by decomposing an operation.
// Every phase is optional.
//
// Validate must be free of side effects. Apply is the MODEL mutation of the Working Copy.
// Runtime acts on the live process. Verify checks a post-condition once every Runtime
// phase ran. Rollback compensates whatever Apply and Runtime did, and must tolerate being
// called after either of them failed midway.
type Step struct {
	Name     string
	Address  domain.Address
	Validate StepFunc
	Apply    StepFunc
	Runtime  StepFunc
	Verify   StepFunc
	Rollback StepFunc

	frame     *frame
	validated bool
}

// Handler decomposes an operation into Steps by calling AddStep or AddOperation on the context.
type Handler interface {
	Handle(ctx *Context, op domain.Operation) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx *Context, op domain.Operation) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx *Context, op domain.Operation) error {
	return f(ctx, op)
}

// Resolver finds the handler registered for an operation at an address.
type Resolver interface {
	Resolve(name string, addr domain.Address) (Handler, error)
}

// frame tracks one operation in the decomposition tree so results nest like the operations do.
type frame struct {
	op       domain.Operation
	parent   *frame
	children []*frame
	result   any
	hasValue bool
}

func (f *frame) value() any {
	if len(f.children) == 0 {
		return f.result
	}
	out := make(map[string]any, len(f.children))
	for i, ch := range f.children {
		out[stepKey(i)] = ch.value()
	}
	if f.hasValue {
		out["result"] = f.result
	}
	return out
}
