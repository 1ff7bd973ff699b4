package handlers

import (
	"github.com/aretw0/keel/pkg/domain"
	"github.com/aretw0/keel/pkg/operation"
	"github.com/aretw0/keel/pkg/registry"
	"go.uber.org/multierr"
)

var systemPropertyPatterns = []string{
	"/system-property=*",
	"/host=*/system-property=*",
	"/host=*/server-config=*/system-property=*",
}

var serverConfigPatterns = []string{
	"/server-config=*",
	"/host=*/server-config=*",
}

// RegisterDefaults installs the built-in handlers.
func RegisterDefaults(r *registry.Registry) error {
	var errs error
	globals := map[string]operation.Handler{
		domain.OpAdd:               Add,
		domain.OpRemove:            Remove,
		domain.OpWriteAttribute:    WriteAttribute,
		domain.OpUndefineAttribute: UndefineAttribute,
		domain.OpReadResource:      ReadResource,
		domain.OpReadAttribute:     ReadAttribute,
		domain.OpReadChildrenNames: ReadChildrenNames,
		domain.OpComposite:         Composite,
	}
	for name, h := range globals {
		errs = multierr.Append(errs, r.RegisterGlobal(name, h))
	}
	errs = multierr.Append(errs, r.RegisterGlobal(domain.OpReadOperations, ReadOperationNames(r)))

	for _, p := range systemPropertyPatterns {
		addr := domain.MustParseAddress(p)
		errs = multierr.Append(errs, r.Register(domain.OpAdd, addr, SystemPropertyAdd))
		errs = multierr.Append(errs, r.Register(domain.OpRemove, addr, SystemPropertyRemove))
		errs = multierr.Append(errs, r.Register(domain.OpWriteAttribute, addr, SystemPropertyWrite))
	}
	for _, p := range serverConfigPatterns {
		addr := domain.MustParseAddress(p)
		errs = multierr.Append(errs, r.Register(domain.OpStart, addr, ServerStart))
		errs = multierr.Append(errs, r.Register(domain.OpStop, addr, ServerStop))
	}
	return errs
}

// NewRegistry returns a registry with the built-in handlers installed.
func NewRegistry() *registry.Registry {
	r := registry.NewRegistry()
	if err := RegisterDefaults(r); err != nil {
		panic(err)
	}
	return r
}
