package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aretw0/keel/internal/logging"
	"github.com/aretw0/keel/pkg/domain"
	"github.com/aretw0/keel/pkg/operation"
	"github.com/aretw0/keel/pkg/ports"
	"github.com/aretw0/keel/pkg/process"
	"github.com/aretw0/keel/pkg/tree"
	"github.com/google/uuid"
)

// DefaultPrepareTimeout bounds how long a prepared transaction waits for its verdict.
const DefaultPrepareTimeout = 30 * time.Second

// Coordinator is the Local Transaction Coordinator of one process.
type Coordinator struct {
	name     string
	resolver operation.Resolver
	process  *process.State
	store    ports.SnapshotStore
	locker   ports.DistributedLocker
	logger   *slog.Logger
	hooks    domain.LifecycleHooks

	prepareTimeout time.Duration
	lockTTL        time.Duration

	queue   queue
	current atomic.Pointer[tree.Tree]
}

// Option configures the Coordinator.
type Option func(*Coordinator)

// WithStore persists every committed tree before it is published.
func WithStore(store ports.SnapshotStore) Option {
	return func(c *Coordinator) {
		c.store = store
	}
}

// WithLocker enables distributed locking around persistence, for stores shared by several instances.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(c *Coordinator) {
		c.locker = locker
	}
}

// WithLockTTL bounds how long a crashed holder can keep the distributed lock.
func WithLockTTL(d time.Duration) Option {
	return func(c *Coordinator) {
		c.lockTTL = d
	}
}

// WithLogger configures a logger for the Coordinator.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithHooks registers lifecycle hooks; they are passed on to every Operation Context.
func WithHooks(h domain.LifecycleHooks) Option {
	return func(c *Coordinator) {
		c.hooks = h
	}
}

// WithProcess sets the live process state RUNTIME steps act upon.
func WithProcess(p *process.State) Option {
	return func(c *Coordinator) {
		c.process = p
	}
}

// WithPrepareTimeout bounds how long a prepared transaction may wait for Commit or Rollback
// before it rolls itself back.
func WithPrepareTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.prepareTimeout = d
	}
}

// WithTree sets the initial committed tree.
func WithTree(t *tree.Tree) Option {
	return func(c *Coordinator) {
		c.current.Store(t)
	}
}

// New creates the coordinator of the named process.
func New(name string, resolver operation.Resolver, opts ...Option) *Coordinator {
	c := &Coordinator{
		name:           name,
		resolver:       resolver,
		logger:         logging.NewNop(),
		prepareTimeout: DefaultPrepareTimeout,
		lockTTL:        30 * time.Second,
	}
	c.current.Store(tree.New())
	for _, opt := range opts {
		opt(c)
	}
	if c.process == nil {
		c.process = process.New(name)
	}
	c.logger = c.logger.With("process", name)
	return c
}

// Name returns the process name.
func (c *Coordinator) Name() string {
	return c.name
}

// Tree returns the committed tree. It never blocks and never exposes a Working Copy.
func (c *Coordinator) Tree() *tree.Tree {
	return c.current.Load()
}

// Process returns the live process state.
func (c *Coordinator) Process() *process.State {
	return c.process
}

// Pending returns the number of operations waiting for admission.
func (c *Coordinator) Pending() int {
	return c.queue.depth()
}

// Load replaces the committed tree with the latest persisted snapshot.
// A store holding no snapshot leaves the current tree in place.
func (c *Coordinator) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	if err := c.queue.acquire(ctx); err != nil {
		return err
	}
	defer c.queue.release()

	snap, err := c.store.Load(ctx, c.name)
	if errors.Is(err, domain.ErrSnapshotNotFound) {
		c.logger.InfoContext(ctx, "no snapshot found, starting empty")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	t, err := tree.FromSnapshot(snap)
	if err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	c.current.Store(t)
	c.logger.InfoContext(ctx, "snapshot loaded", "revision", t.Revision(), "resources", t.Len())
	return nil
}

// Execute runs op to completion: it is prepared and, if every stage passed, committed.
// The error is only set when op was never admitted; failures of the operation itself are
// reported in the outcome.
func (c *Coordinator) Execute(ctx context.Context, op domain.Operation) (domain.Outcome, error) {
	p, out, err := c.Prepare(ctx, uuid.NewString(), op)
	if err != nil || p == nil {
		return out, err
	}
	out, _ = p.Commit(ctx)
	return out, nil
}

// Prepare admits op and runs it up to PREPARED. The returned Prepared holds the queue until it
// is committed, rolled back, or times out. When the operation fails, Prepared is nil and the
// outcome describes the failure.
func (c *Coordinator) Prepare(ctx context.Context, txID string, op domain.Operation) (*Prepared, domain.Outcome, error) {
	if op.IsReadOnly() {
		return c.read(ctx, txID, op)
	}

	if err := c.queue.acquire(ctx); err != nil {
		return nil, domain.Outcome{}, fmt.Errorf("admission of %s: %w", op, err)
	}

	oc := c.newContext(txID, op, c.Tree())
	if err := oc.Prepare(ctx); err != nil {
		c.queue.release()
		out := oc.Outcome()
		c.emitOutcome(ctx, oc, out)
		return nil, out, nil
	}

	p := &Prepared{c: c, txID: txID, oc: oc, log: c.logger.With("tx_id", txID, "operation", op.Name)}
	if c.prepareTimeout > 0 {
		p.timer = time.AfterFunc(c.prepareTimeout, p.expire)
	}
	return p, oc.Outcome(), nil
}

// read runs a read-only operation against the committed tree without entering the queue.
func (c *Coordinator) read(ctx context.Context, txID string, op domain.Operation) (*Prepared, domain.Outcome, error) {
	oc := c.newContext(txID, op, c.Tree())
	if err := oc.Prepare(ctx); err != nil {
		out := oc.Outcome()
		c.emitOutcome(ctx, oc, out)
		return nil, out, nil
	}
	return &Prepared{c: c, txID: txID, oc: oc, readOnly: true, log: c.logger}, oc.Outcome(), nil
}

func (c *Coordinator) newContext(txID string, op domain.Operation, base *tree.Tree) *operation.Context {
	return operation.New(op, base.Edit(), c.resolver,
		operation.WithTxID(txID),
		operation.WithProcess(c.process),
		operation.WithLogger(c.logger),
		operation.WithHooks(c.hooks),
	)
}

// publish persists next and swaps it in. The caller holds the queue.
func (c *Coordinator) publish(ctx context.Context, next *tree.Tree) error {
	if c.store != nil {
		if c.locker != nil {
			unlock, err := c.locker.Lock(ctx, "keel:snapshot:"+c.name, c.lockTTL)
			if err != nil {
				return fmt.Errorf("failed to acquire distributed lock: %w", err)
			}
			defer func() {
				if err := unlock(ctx); err != nil {
					c.logger.Warn("Failed to release distributed lock (will expire via TTL)", "err", err)
				}
			}()
		}
		if err := c.store.Persist(ctx, c.name, next.Snapshot()); err != nil {
			return fmt.Errorf("persist snapshot: %w", err)
		}
	}
	prev := c.current.Swap(next)
	if c.hooks.OnCommit != nil {
		c.hooks.OnCommit(ctx, &domain.CommitEvent{
			EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventCommit, Process: c.name},
			Revision:  next.Revision(),
			Diff:      tree.Diff(prev, next),
		})
	}
	return nil
}

func (c *Coordinator) emitOutcome(ctx context.Context, oc *operation.Context, out domain.Outcome) {
	op := oc.Operation()
	c.logger.DebugContext(ctx, "operation finished", "tx_id", oc.TxID(), "operation", op.Name, "status", out.Status)
	if c.hooks.OnOutcome == nil {
		return
	}
	c.hooks.OnOutcome(ctx, &domain.OutcomeEvent{
		EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventOutcome, Process: c.name, TxID: oc.TxID()},
		Operation: op.Name,
		Address:   op.Address,
		Outcome:   out,
		Duration:  oc.Elapsed(),
	})
}
