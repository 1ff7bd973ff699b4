package operation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aretw0/keel/internal/logging"
	"github.com/aretw0/keel/pkg/domain"
	"github.com/aretw0/keel/pkg/process"
	"github.com/aretw0/keel/pkg/tree"
	"go.uber.org/multierr"
)

var (
	// ErrLateStep is returned when a step tries to add work after the MODEL stage.
	ErrLateStep = errors.New("steps can only be added before the RUNTIME stage")

	// ErrVerdictRollback is the failure recorded when a prepared context is rolled back by its owner.
	ErrVerdictRollback = errors.New("rolled back by verdict")
)

// Context carries one operation through its stages.
// It is owned by a single goroutine.
type Context struct {
	txID        string
	op          domain.Operation
	wc          *tree.WorkingCopy
	resolver    Resolver
	process     *process.State
	processName string
	logger      *slog.Logger
	hooks       domain.LifecycleHooks

	ctx     context.Context
	stage   domain.Stage
	root    *frame
	current *frame
	steps   []*Step
	cursor  int
	inserts int
	pending []pendingItem
	applied []*Step

	failure     error
	failedAt    domain.Stage
	compensated error
	warnings    []string
	started     time.Time
}

type pendingItem struct {
	step *Step
	op   *domain.Operation
}

// Option configures a Context.
type Option func(*Context)

// WithProcess gives RUNTIME steps access to the live process state.
func WithProcess(p *process.State) Option {
	return func(c *Context) {
		c.process = p
		if c.processName == "" {
			c.processName = p.Name()
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Context) {
		c.logger = l
	}
}

// WithHooks registers lifecycle hooks.
func WithHooks(h domain.LifecycleHooks) Option {
	return func(c *Context) {
		c.hooks = h
	}
}

// WithTxID tags events and logs with a transaction id.
func WithTxID(id string) Option {
	return func(c *Context) {
		c.txID = id
	}
}

// New creates a Context for op over wc. The context starts in the MODEL stage.
func New(op domain.Operation, wc *tree.WorkingCopy, resolver Resolver, opts ...Option) *Context {
	c := &Context{
		op:       op.Clone(),
		wc:       wc,
		resolver: resolver,
		logger:   logging.NewNop(),
		stage:    domain.StageModel,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.process == nil {
		c.process = process.New(c.processName)
	}
	c.root = &frame{op: c.op}
	c.current = c.root
	return c
}

// Operation returns the top-level operation.
func (c *Context) Operation() domain.Operation {
	return c.op
}

// TxID returns the transaction id, if any.
func (c *Context) TxID() string {
	return c.txID
}

// Tree returns the Working Copy. Only Apply and Rollback phases may mutate it.
func (c *Context) Tree() *tree.WorkingCopy {
	return c.wc
}

// Process returns the live process state.
func (c *Context) Process() *process.State {
	return c.process
}

// Logger returns the context logger.
func (c *Context) Logger() *slog.Logger {
	return c.logger
}

// Ctx returns the context.Context of the stage currently running.
func (c *Context) Ctx() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// Stage returns the current stage.
func (c *Context) Stage() domain.Stage {
	return c.stage
}

// Steps returns the number of steps decomposed so far.
func (c *Context) Steps() int {
	return len(c.steps)
}

// AddStep schedules s right after the unit currently running.
// Steps added by the same unit keep their relative order.
func (c *Context) AddStep(s *Step) {
	c.pending = append(c.pending, pendingItem{step: s})
}

// AddOperation schedules a nested operation; it is resolved and decomposed in place.
func (c *Context) AddOperation(op domain.Operation) {
	cp := op.Clone()
	c.pending = append(c.pending, pendingItem{op: &cp})
}

// SetResult records the payload of the operation that owns the running step.
func (c *Context) SetResult(v any) {
	c.current.result = v
	c.current.hasValue = true
}

// Warn attaches a warning to the outcome.
func (c *Context) Warn(msg string) {
	c.warnings = append(c.warnings, msg)
}

func stepKey(i int) string {
	return "step-" + strconv.Itoa(i+1)
}

// expand decomposes the top-level operation depth-first: whatever a unit adds is placed
// immediately after it, before its later siblings.
func (c *Context) expand() error {
	type item struct {
		pendingItem
		parent *frame
	}
	stack := []item{{pendingItem: pendingItem{op: &c.op}}}

	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if it.step != nil {
			it.step.frame = it.parent
			c.steps = append(c.steps, it.step)
			continue
		}

		fr := c.root
		if it.parent != nil {
			fr = &frame{op: *it.op, parent: it.parent}
			it.parent.children = append(it.parent.children, fr)
		}

		h, err := c.resolver.Resolve(it.op.Name, it.op.Address)
		if err != nil {
			return &domain.ValidationError{Address: it.op.Address, Operation: it.op.Name, Err: err}
		}

		c.pending = nil
		c.current = fr
		if err := h.Handle(c, *it.op); err != nil {
			var ve *domain.ValidationError
			if errors.As(err, &ve) {
				return err
			}
			return &domain.ValidationError{Address: it.op.Address, Operation: it.op.Name, Err: err}
		}
		for i := len(c.pending) - 1; i >= 0; i-- {
			stack = append(stack, item{pendingItem: c.pending[i], parent: fr})
		}
		c.pending = nil
	}
	return nil
}

// splice inserts steps added while step i was applying right after it.
// Nested operations are decomposed in place.
func (c *Context) splice(owner *Step) error {
	if len(c.pending) == 0 {
		return nil
	}
	items := c.pending
	c.pending = nil

	var added []*Step
	for _, it := range items {
		if it.step != nil {
			it.step.frame = owner.frame
			added = append(added, it.step)
			continue
		}
		sub := c.child(*it.op, owner.frame)
		if err := sub.expand(); err != nil {
			return err
		}
		owner.frame.children = append(owner.frame.children, sub.root)
		added = append(added, sub.steps...)
	}

	at := c.cursor + 1 + c.inserts
	rest := append([]*Step{}, c.steps[at:]...)
	c.steps = append(append(c.steps[:at], added...), rest...)
	c.inserts += len(added)
	return nil
}

// child shares everything with c except the decomposition state.
func (c *Context) child(op domain.Operation, parent *frame) *Context {
	sub := &Context{
		txID:        c.txID,
		op:          op,
		wc:          c.wc,
		resolver:    c.resolver,
		process:     c.process,
		processName: c.processName,
		logger:      c.logger,
		ctx:         c.ctx,
		stage:       c.stage,
	}
	sub.root = &frame{op: op, parent: parent}
	sub.current = sub.root
	return sub
}

func (c *Context) enter(stage domain.Stage) {
	c.stage = stage
	c.logger.Debug("operation stage", "tx", c.txID, "operation", c.op.Name, "address", c.op.Address.String(), "stage", stage)
	if c.hooks.OnStage != nil {
		c.hooks.OnStage(c.Ctx(), &domain.StageEvent{
			EventBase: c.event(domain.EventStage),
			Operation: c.op.Name,
			Address:   c.op.Address,
			Stage:     stage,
		})
	}
}

func (c *Context) event(t domain.EventType) domain.EventBase {
	return domain.EventBase{
		Timestamp: time.Now(),
		Type:      t,
		Process:   c.processName,
		TxID:      c.txID,
	}
}

func (c *Context) run(fn StepFunc, s *Step) error {
	if fn == nil {
		return nil
	}
	prev := c.current
	c.current = s.frame
	defer func() { c.current = prev }()
	return fn(c)
}

func (c *Context) fail(stage domain.Stage, err error) error {
	c.failure = err
	c.failedAt = stage
	c.logger.Info("operation failed", "tx", c.txID, "operation", c.op.Name, "stage", stage, "err", err)
	return err
}

// compensate rolls back every step whose Apply was invoked, in reverse order.
// Compensation errors are aggregated; a step failing to compensate does not stop the others.
func (c *Context) compensate() {
	var errs error
	for i := len(c.applied) - 1; i >= 0; i-- {
		s := c.applied[i]
		err := c.run(s.Rollback, s)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("rollback %s at %s: %w", s.Name, s.Address, err))
			c.logger.Error("step rollback failed", "tx", c.txID, "step", s.Name, "address", s.Address.String(), "err", err)
		}
		if c.hooks.OnStepRollback != nil {
			c.hooks.OnStepRollback(c.Ctx(), &domain.StepEvent{
				EventBase: c.event(domain.EventStepRollback),
				Step:      s.Name,
				Address:   s.Address,
				Err:       err,
			})
		}
	}
	c.applied = nil
	c.compensated = errs
	c.enter(domain.StageRolledBack)
}
