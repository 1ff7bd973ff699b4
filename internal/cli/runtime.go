// Package cli wires configuration into running keel processes for the keel command.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/aretw0/keel/internal/config"
	"github.com/aretw0/keel/internal/retry"
	"github.com/aretw0/keel/pkg/adapters/badger"
	"github.com/aretw0/keel/pkg/adapters/file"
	"github.com/aretw0/keel/pkg/adapters/memory"
	launcher "github.com/aretw0/keel/pkg/adapters/process"
	"github.com/aretw0/keel/pkg/adapters/redis"
	"github.com/aretw0/keel/pkg/adapters/websocket"
	"github.com/aretw0/keel/pkg/domain"
	"github.com/aretw0/keel/pkg/fleet"
	"github.com/aretw0/keel/pkg/handlers"
	"github.com/aretw0/keel/pkg/observability"
	"github.com/aretw0/keel/pkg/operation"
	"github.com/aretw0/keel/pkg/persistence/middleware"
	"github.com/aretw0/keel/pkg/ports"
	"github.com/aretw0/keel/pkg/process"
	"github.com/aretw0/keel/pkg/proxy"
	"github.com/aretw0/keel/pkg/schema"
	"github.com/aretw0/keel/pkg/txn"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
)

// Runtime is a configured process: its local coordinator, its fleet view and its metrics.
type Runtime struct {
	Config   config.Root
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	Hooks    domain.LifecycleHooks
	Local    *txn.Coordinator
	Fleet    *fleet.Coordinator

	closers []io.Closer
}

// Build opens storage, recovers the last snapshot and, for controllers, connects to every
// configured participant.
func Build(ctx context.Context, cfg config.Root, logger *slog.Logger) (rt *Runtime, err error) {
	rt = &Runtime{Config: cfg, Logger: logger, Registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			err = multierr.Append(err, rt.Close())
			rt = nil
		}
	}()

	if rt.Metrics, err = observability.NewMetrics(rt.Registry); err != nil {
		return rt, err
	}
	rt.Hooks = rt.Metrics.Hooks().Merge(observability.LogHooks(logger))

	store, locker, err := rt.openStore(cfg)
	if err != nil {
		return rt, err
	}
	proc, err := newProcess(cfg, logger)
	if err != nil {
		return rt, err
	}
	opts := []txn.Option{
		txn.WithStore(store),
		txn.WithLogger(logger),
		txn.WithHooks(rt.Hooks),
		txn.WithProcess(proc),
		txn.WithPrepareTimeout(cfg.Timeouts.Prepare),
	}
	if locker != nil {
		opts = append(opts, txn.WithLocker(locker), txn.WithLockTTL(cfg.Storage.Redis.LockTTL))
	}
	resolver, err := newResolver(cfg)
	if err != nil {
		return rt, err
	}
	rt.Local = txn.New(cfg.Name, resolver, opts...)
	if err := rt.Local.Load(ctx); err != nil {
		return rt, fmt.Errorf("recover %s: %w", cfg.Name, err)
	}

	var participants []fleet.Participant
	if cfg.Role == config.RoleController {
		if participants, err = rt.connect(ctx, cfg); err != nil {
			return rt, err
		}
	}
	rt.Fleet = fleet.New(rt.Local,
		fleet.WithParticipants(participants...),
		fleet.WithProposeTimeout(cfg.Timeouts.Propose),
		fleet.WithLogger(logger),
		fleet.WithHooks(rt.Hooks),
	)
	logger.InfoContext(ctx, "process ready",
		"process", cfg.Name, "role", cfg.Role, "storage", cfg.Storage.Backend,
		"revision", rt.Local.Tree().Revision(), "participants", len(participants))
	return rt, nil
}

// Close releases storage and participant connections.
func (rt *Runtime) Close() error {
	var err error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, rt.closers[i].Close())
	}
	rt.closers = nil
	return err
}

// newResolver installs the built-in handlers, checked against the configured schemas.
func newResolver(cfg config.Root) (operation.Resolver, error) {
	reg := handlers.NewRegistry()
	if len(cfg.Schemas) == 0 {
		return reg, nil
	}
	cat := schema.NewCatalog()
	for _, sc := range cfg.Schemas {
		types := make(map[string]string, len(sc.Attributes))
		for _, a := range sc.Attributes {
			types[a.Name] = a.Type
		}
		d, err := schema.ParseDescription(types)
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", sc.Pattern, err)
		}
		if err := cat.Register(sc.Pattern, d); err != nil {
			return nil, err
		}
	}
	return handlers.WithSchemas(reg, cat), nil
}

// newProcess plugs the script launcher in when a servers file is configured.
func newProcess(cfg config.Root, logger *slog.Logger) (*process.State, error) {
	if cfg.Servers == "" {
		return process.New(cfg.Name), nil
	}
	servers, err := launcher.LoadServers(cfg.Servers)
	if err != nil {
		return nil, err
	}
	l := launcher.NewLauncher(cfg.Name,
		launcher.WithServers(servers),
		launcher.WithBaseDir(filepath.Dir(cfg.Servers)),
		launcher.WithLogger(logger),
	)
	return process.New(cfg.Name, process.WithLauncher(l)), nil
}

func (rt *Runtime) openStore(cfg config.Root) (ports.SnapshotStore, ports.DistributedLocker, error) {
	var (
		store  ports.SnapshotStore
		locker ports.DistributedLocker
	)
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		store = memory.NewStore()
	case config.BackendFile:
		store = file.New(cfg.Storage.Path, file.WithFormat(file.Format(cfg.Storage.Format)))
	case config.BackendBadger:
		s, err := badger.Open(cfg.Storage.Path)
		if err != nil {
			return nil, nil, err
		}
		rt.closers = append(rt.closers, s)
		store = s
	case config.BackendRedis:
		r := cfg.Storage.Redis
		opts := []redis.Option{redis.WithPrefix(r.Prefix)}
		if r.TTL > 0 {
			opts = append(opts, redis.WithTTL(r.TTL))
		}
		if r.History > 0 {
			opts = append(opts, redis.WithHistory(r.History))
		}
		s := redis.New(r.Addr, r.Password, r.DB, opts...)
		rt.closers = append(rt.closers, s)
		store = s
		if r.Lock {
			locker = redis.NewLocker(s.Client(), r.Prefix)
		}
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	active, fallback, err := cfg.Encryption.Keys()
	if err != nil {
		return nil, nil, err
	}
	if active != nil {
		store = middleware.Chain(store, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
			ActiveKey:    active,
			FallbackKeys: fallback,
		}))
	}
	return store, locker, nil
}

// connect dials every participant, retrying while subordinates come up.
func (rt *Runtime) connect(ctx context.Context, cfg config.Root) ([]fleet.Participant, error) {
	participants := make([]fleet.Participant, 0, len(cfg.Participants))
	for _, p := range cfg.Participants {
		log := rt.Logger.With("participant", p.Name, "url", p.URL)
		backoff := retry.Limit(5, retry.ExponentialBackoff(200*time.Millisecond, 2))
		conn, err := retry.Blocking(ctx, backoff, func() (*websocket.Conn, error) {
			conn, err := websocket.Dial(ctx, p.URL, websocket.WithLogger(log), websocket.WithPingInterval(cfg.Timeouts.Ping))
			if err != nil {
				log.WarnContext(ctx, "participant not reachable yet", "err", err)
				return nil, retry.Transient(err)
			}
			return conn, nil
		})
		if err != nil {
			return nil, fmt.Errorf("connect participant %s: %w", p.Name, err)
		}

		px := proxy.New(p.Name, conn,
			proxy.WithScope(p.Scope...),
			proxy.WithProposeTimeout(cfg.Timeouts.Propose),
			proxy.WithConfirm(cfg.Timeouts.Confirm, cfg.Timeouts.ConfirmAttempts, 100*time.Millisecond),
			proxy.WithLogger(rt.Logger),
		)
		rt.closers = append(rt.closers, px)
		participants = append(participants, px)
	}
	return participants, nil
}
