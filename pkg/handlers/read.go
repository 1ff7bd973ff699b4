package handlers

import (
	"fmt"

	"github.com/aretw0/keel/pkg/domain"
	"github.com/aretw0/keel/pkg/operation"
	"github.com/aretw0/keel/pkg/registry"
)

// ReadResource returns the resource, with its subtree when recursive is set.
var ReadResource = operation.HandlerFunc(func(c *operation.Context, op domain.Operation) error {
	var p readParams
	if err := decodeParams(op.Params, &p); err != nil {
		return err
	}
	c.AddStep(readStep(op, func(c *operation.Context) (any, error) {
		return c.Tree().Read(op.Address, p.Recursive)
	}))
	return nil
})

// ReadAttribute returns one attribute value.
var ReadAttribute = operation.HandlerFunc(func(c *operation.Context, op domain.Operation) error {
	var p readParams
	if err := decodeParams(op.Params, &p); err != nil {
		return err
	}
	if p.Name == "" {
		return fmt.Errorf("parameter name is required")
	}
	c.AddStep(readStep(op, func(c *operation.Context) (any, error) {
		res, err := c.Tree().Get(op.Address)
		if err != nil {
			return nil, err
		}
		v, ok := res.Attribute(p.Name)
		if !ok {
			return nil, fmt.Errorf("attribute %s of %s: %w", p.Name, op.Address, domain.ErrNotFound)
		}
		return v, nil
	}))
	return nil
})

// ReadChildrenNames lists the names of the children of one type.
var ReadChildrenNames = operation.HandlerFunc(func(c *operation.Context, op domain.Operation) error {
	var p readParams
	if err := decodeParams(op.Params, &p); err != nil {
		return err
	}
	if p.ChildType == "" {
		return fmt.Errorf("parameter child-type is required")
	}
	c.AddStep(readStep(op, func(c *operation.Context) (any, error) {
		children, err := c.Tree().Children(op.Address, p.ChildType)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(children))
		for _, ch := range children {
			seg, _ := ch.Address.Last()
			names = append(names, seg.Value)
		}
		return names, nil
	}))
	return nil
})

// ReadOperationNames lists the operations reg resolves at an existing address.
func ReadOperationNames(reg *registry.Registry) operation.Handler {
	return operation.HandlerFunc(func(c *operation.Context, op domain.Operation) error {
		c.AddStep(readStep(op, func(c *operation.Context) (any, error) {
			if _, err := c.Tree().Get(op.Address); err != nil {
				return nil, err
			}
			return reg.Operations(op.Address), nil
		}))
		return nil
	})
}

// readStep reads during MODEL so that reads inside a composite observe earlier writes.
func readStep(op domain.Operation, read func(*operation.Context) (any, error)) *operation.Step {
	return &operation.Step{
		Name:    op.Name,
		Address: op.Address,
		Validate: func(*operation.Context) error {
			return concrete(op.Address)
		},
		Apply: func(c *operation.Context) error {
			v, err := read(c)
			if err != nil {
				return err
			}
			c.SetResult(v)
			return nil
		},
	}
}
