package handlers

import (
	"fmt"

	"github.com/aretw0/keel/pkg/domain"
	"github.com/aretw0/keel/pkg/operation"
)

// Add creates the resource at the operation address with the params as attributes.
var Add = operation.HandlerFunc(func(c *operation.Context, op domain.Operation) error {
	c.AddStep(addStep(op.Address, op.Params))
	return nil
})

// Remove detaches the resource and its whole subtree. Rollback re-grafts the detached snapshot.
var Remove = operation.HandlerFunc(func(c *operation.Context, op domain.Operation) error {
	c.AddStep(removeStep(op.Address))
	return nil
})

// WriteAttribute sets one attribute.
var WriteAttribute = operation.HandlerFunc(func(c *operation.Context, op domain.Operation) error {
	var p attributeParams
	if err := decodeParams(op.Params, &p); err != nil {
		return err
	}
	if err := p.validate(); err != nil {
		return err
	}
	c.AddStep(writeAttributeStep(op.Address, p.Name, p.Value))
	return nil
})

// UndefineAttribute removes one attribute. Undefining an absent attribute is a no-op.
var UndefineAttribute = operation.HandlerFunc(func(c *operation.Context, op domain.Operation) error {
	var p attributeParams
	if err := decodeParams(op.Params, &p); err != nil {
		return err
	}
	if err := p.validate(); err != nil {
		return err
	}
	c.AddStep(undefineAttributeStep(op.Address, p.Name))
	return nil
})

// Composite decomposes a batch of operations in order. Each nested operation reports its result
// as step-N of the composite result.
var Composite = operation.HandlerFunc(func(c *operation.Context, op domain.Operation) error {
	steps, err := compositeSteps(op.Params)
	if err != nil {
		return err
	}
	for _, sub := range steps {
		if sub.Name == "" {
			return fmt.Errorf("composite step at %s has no operation name", sub.Address)
		}
		c.AddOperation(sub)
	}
	return nil
})

func addStep(addr domain.Address, attrs map[string]any) *operation.Step {
	var created bool
	return &operation.Step{
		Name:    domain.OpAdd,
		Address: addr,
		Validate: func(*operation.Context) error {
			if addr.IsRoot() {
				return fmt.Errorf("root: %w", domain.ErrDuplicate)
			}
			return concrete(addr)
		},
		Apply: func(c *operation.Context) error {
			if c.Tree().Exists(addr) {
				return fmt.Errorf("%s: %w", addr, domain.ErrDuplicate)
			}
			if err := c.Tree().Put(addr, attrs); err != nil {
				return err
			}
			created = true
			return nil
		},
		Rollback: func(c *operation.Context) error {
			if !created {
				return nil
			}
			_, err := c.Tree().Remove(addr)
			return err
		},
	}
}

func removeStep(addr domain.Address) *operation.Step {
	var removed *domain.Resource
	return &operation.Step{
		Name:    domain.OpRemove,
		Address: addr,
		Validate: func(*operation.Context) error {
			return concrete(addr)
		},
		Apply: func(c *operation.Context) (err error) {
			removed, err = c.Tree().Remove(addr)
			return err
		},
		Rollback: func(c *operation.Context) error {
			if removed == nil {
				return nil
			}
			return c.Tree().Restore(removed)
		},
	}
}

func writeAttributeStep(addr domain.Address, name string, value any) *operation.Step {
	var (
		written bool
		old     any
		existed bool
	)
	return &operation.Step{
		Name:    domain.OpWriteAttribute,
		Address: addr,
		Validate: func(*operation.Context) error {
			return concrete(addr)
		},
		Apply: func(c *operation.Context) (err error) {
			old, existed, err = c.Tree().SetAttribute(addr, name, value)
			written = err == nil
			return err
		},
		Rollback: func(c *operation.Context) error {
			if !written {
				return nil
			}
			return restoreAttribute(c, addr, name, old, existed)
		},
	}
}

func undefineAttributeStep(addr domain.Address, name string) *operation.Step {
	var (
		old     any
		existed bool
	)
	return &operation.Step{
		Name:    domain.OpUndefineAttribute,
		Address: addr,
		Validate: func(*operation.Context) error {
			return concrete(addr)
		},
		Apply: func(c *operation.Context) (err error) {
			old, existed, err = c.Tree().UnsetAttribute(addr, name)
			return err
		},
		Rollback: func(c *operation.Context) error {
			if !existed {
				return nil
			}
			return restoreAttribute(c, addr, name, old, true)
		},
	}
}

func restoreAttribute(c *operation.Context, addr domain.Address, name string, old any, existed bool) error {
	if existed {
		_, _, err := c.Tree().SetAttribute(addr, name, old)
		return err
	}
	_, _, err := c.Tree().UnsetAttribute(addr, name)
	return err
}
