package handlers

import (
	"fmt"

	"github.com/aretw0/keel/pkg/domain"
	"github.com/aretw0/keel/pkg/operation"
	"github.com/aretw0/keel/pkg/process"
)

// Resource types with live state.
const (
	SystemProperty = "system-property"
	ServerConfig   = "server-config"
)

// SystemPropertyAdd adds the resource and sets the live property from its value attribute.
var SystemPropertyAdd = operation.HandlerFunc(func(c *operation.Context, op domain.Operation) error {
	c.AddStep(addStep(op.Address, op.Params))
	value := ""
	if v, ok := op.Params["value"]; ok {
		value = fmt.Sprint(v)
	}
	c.AddStep(propertyStep(op.Address, func(s *process.State, name string) (string, bool) {
		return s.SetProperty(name, value)
	}))
	return nil
})

// SystemPropertyRemove removes the resource and unsets the live property.
var SystemPropertyRemove = operation.HandlerFunc(func(c *operation.Context, op domain.Operation) error {
	c.AddStep(removeStep(op.Address))
	c.AddStep(propertyStep(op.Address, func(s *process.State, name string) (string, bool) {
		return s.UnsetProperty(name)
	}))
	return nil
})

// SystemPropertyWrite writes an attribute; writing value also updates the live property.
var SystemPropertyWrite = operation.HandlerFunc(func(c *operation.Context, op domain.Operation) error {
	var p attributeParams
	if err := decodeParams(op.Params, &p); err != nil {
		return err
	}
	if err := p.validate(); err != nil {
		return err
	}
	c.AddStep(writeAttributeStep(op.Address, p.Name, p.Value))
	if p.Name == "value" {
		value := fmt.Sprint(p.Value)
		c.AddStep(propertyStep(op.Address, func(s *process.State, name string) (string, bool) {
			return s.SetProperty(name, value)
		}))
	}
	return nil
})

// propertyStep runs mutate on the live property named by the last address segment during RUNTIME
// and restores the previous live value on rollback.
func propertyStep(addr domain.Address, mutate func(*process.State, string) (string, bool)) *operation.Step {
	var (
		ran     bool
		old     string
		existed bool
	)
	seg, _ := addr.Last()
	return &operation.Step{
		Name:    "system-property-runtime",
		Address: addr,
		Runtime: func(c *operation.Context) error {
			old, existed = mutate(c.Process(), seg.Value)
			ran = true
			return nil
		},
		Rollback: func(c *operation.Context) error {
			if ran {
				c.Process().RestoreProperty(seg.Value, old, existed)
			}
			return nil
		},
	}
}

// ServerStart starts a configured server and verifies it reports running.
var ServerStart = operation.HandlerFunc(func(c *operation.Context, op domain.Operation) error {
	c.AddStep(serverStep(op.Address, true))
	return nil
})

// ServerStop stops a configured server and verifies it reports stopped.
var ServerStop = operation.HandlerFunc(func(c *operation.Context, op domain.Operation) error {
	c.AddStep(serverStep(op.Address, false))
	return nil
})

func serverStep(addr domain.Address, start bool) *operation.Step {
	var (
		ran   bool
		prior process.ServerStatus
	)
	seg, _ := addr.Last()
	name := seg.Value
	opName, want := domain.OpStop, process.ServerStopped
	if start {
		opName, want = domain.OpStart, process.ServerRunning
	}
	return &operation.Step{
		Name:    opName,
		Address: addr,
		Validate: func(*operation.Context) error {
			return concrete(addr)
		},
		Apply: func(c *operation.Context) error {
			if !c.Tree().Exists(addr) {
				return fmt.Errorf("%s: %w", addr, domain.ErrNotFound)
			}
			return nil
		},
		Runtime: func(c *operation.Context) error {
			prior = c.Process().ServerStatus(name)
			if prior == want {
				c.Warn(fmt.Sprintf("server %s already %s", name, want))
				return nil
			}
			ran = true
			if start {
				return c.Process().StartServer(c.Ctx(), name)
			}
			return c.Process().StopServer(c.Ctx(), name)
		},
		Verify: func(c *operation.Context) error {
			if got := c.Process().ServerStatus(name); got != want {
				return fmt.Errorf("server %s reports %s, expected %s", name, got, want)
			}
			return nil
		},
		Rollback: func(c *operation.Context) error {
			if !ran {
				return nil
			}
			if prior == process.ServerRunning {
				return c.Process().StartServer(c.Ctx(), name)
			}
			return c.Process().StopServer(c.Ctx(), name)
		},
	}
}
