package handlers

import (
	"fmt"

	"github.com/aretw0/keel/pkg/domain"
	"github.com/aretw0/keel/pkg/operation"
	"github.com/aretw0/keel/pkg/schema"
)

// WithSchemas wraps next so that add, write-attribute and undefine-attribute at a described
// address first validate the attributes against the catalog. The check runs in MODEL
// validation, before anything is applied.
func WithSchemas(next operation.Resolver, cat *schema.Catalog) operation.Resolver {
	return schemaResolver{next: next, cat: cat}
}

type schemaResolver struct {
	next operation.Resolver
	cat  *schema.Catalog
}

func (r schemaResolver) Resolve(name string, addr domain.Address) (operation.Handler, error) {
	h, err := r.next.Resolve(name, addr)
	if err != nil {
		return nil, err
	}
	switch name {
	case domain.OpAdd, domain.OpWriteAttribute, domain.OpUndefineAttribute:
	default:
		return h, nil
	}
	d, ok := r.cat.Lookup(addr)
	if !ok {
		return h, nil
	}
	return operation.HandlerFunc(func(c *operation.Context, op domain.Operation) error {
		check, err := schemaCheck(d, op)
		if err != nil {
			return err
		}
		c.AddStep(&operation.Step{
			Name:    "schema",
			Address: op.Address,
			Validate: func(*operation.Context) error {
				if err := check(); err != nil {
					return fmt.Errorf("%s: %w", op.Address, err)
				}
				return nil
			},
		})
		return h.Handle(c, op)
	}), nil
}

func schemaCheck(d schema.Description, op domain.Operation) (func() error, error) {
	if op.Name == domain.OpAdd {
		return func() error { return d.Check(op.Params) }, nil
	}
	var p attributeParams
	if err := decodeParams(op.Params, &p); err != nil {
		return nil, err
	}
	if op.Name == domain.OpUndefineAttribute {
		return func() error { return d.CheckUndefine(p.Name) }, nil
	}
	return func() error { return d.CheckWrite(p.Name, p.Value) }, nil
}
