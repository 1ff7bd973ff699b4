package keel

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aretw0/keel/internal/logging"
	"github.com/aretw0/keel/pkg/adapters/memory"
	"github.com/aretw0/keel/pkg/domain"
	"github.com/aretw0/keel/pkg/fleet"
	"github.com/aretw0/keel/pkg/handlers"
	"github.com/aretw0/keel/pkg/ports"
	"github.com/aretw0/keel/pkg/operation"
	"github.com/aretw0/keel/pkg/process"
	"github.com/aretw0/keel/pkg/schema"
	"github.com/aretw0/keel/pkg/txn"
)

// Version of the kernel, reported by the keel command and the MCP server.
const Version = "0.4.0"

// Kernel is an embedded process. Submit runs operations on it and on its participants.
type Kernel struct {
	*fleet.Coordinator
}

type options struct {
	store        ports.SnapshotStore
	logger       *slog.Logger
	hooks        domain.LifecycleHooks
	launcher     process.Launcher
	participants []fleet.Participant
	schemas      *schema.Catalog
}

// Option configures New.
type Option func(*options)

// WithStore persists committed snapshots. Defaults to an in-memory store.
func WithStore(s ports.SnapshotStore) Option {
	return func(o *options) { o.store = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(h domain.LifecycleHooks) Option {
	return func(o *options) { o.hooks = h }
}

// WithLauncher starts and stops the servers the tree describes.
func WithLauncher(l process.Launcher) Option {
	return func(o *options) { o.launcher = l }
}

// WithParticipants makes the kernel a controller of ps.
func WithParticipants(ps ...fleet.Participant) Option {
	return func(o *options) { o.participants = append(o.participants, ps...) }
}

// WithSchemas checks writes at described addresses against cat.
func WithSchemas(cat *schema.Catalog) Option {
	return func(o *options) { o.schemas = cat }
}

// New builds a kernel named name and recovers its last committed snapshot.
func New(ctx context.Context, name string, opts ...Option) (*Kernel, error) {
	o := options{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.store == nil {
		o.store = memory.NewStore()
	}
	var procOpts []process.Option
	if o.launcher != nil {
		procOpts = append(procOpts, process.WithLauncher(o.launcher))
	}

	var resolver operation.Resolver = handlers.NewRegistry()
	if o.schemas != nil {
		resolver = handlers.WithSchemas(resolver, o.schemas)
	}
	local := txn.New(name, resolver,
		txn.WithStore(o.store),
		txn.WithLogger(o.logger),
		txn.WithHooks(o.hooks),
		txn.WithProcess(process.New(name, procOpts...)),
	)
	if err := local.Load(ctx); err != nil {
		return nil, fmt.Errorf("recover %s: %w", name, err)
	}
	return &Kernel{Coordinator: fleet.New(local,
		fleet.WithParticipants(o.participants...),
		fleet.WithLogger(o.logger),
		fleet.WithHooks(o.hooks),
	)}, nil
}
