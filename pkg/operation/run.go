package operation

import (
	"context"
	"fmt"
	"time"

	"github.com/aretw0/keel/pkg/domain"
	"github.com/aretw0/keel/pkg/tree"
)

// Prepare decomposes the operation and runs every stage up to PREPARED.
// On failure the context is compensated, ends ROLLED_BACK and the typed error is returned.
func (c *Context) Prepare(ctx context.Context) error {
	if c.stage != domain.StageModel || c.steps != nil {
		return fmt.Errorf("prepare in stage %s: %w", c.stage, domain.ErrClosed)
	}
	c.ctx = ctx
	c.started = time.Now()
	c.enter(domain.StageModel)

	if err := c.expand(); err != nil {
		c.enter(domain.StageRolledBack)
		return c.fail(domain.StageModel, err)
	}

	// Nothing is applied unless every step validates.
	for _, s := range c.steps {
		if err := c.validate(s); err != nil {
			c.enter(domain.StageRolledBack)
			return c.fail(domain.StageModel, err)
		}
	}
	if err := ctx.Err(); err != nil {
		c.enter(domain.StageRolledBack)
		return c.fail(domain.StageModel, err)
	}

	for c.cursor = 0; c.cursor < len(c.steps); c.cursor++ {
		s := c.steps[c.cursor]
		if err := c.validate(s); err != nil {
			return c.abort(domain.StageModel, err)
		}
		c.applied = append(c.applied, s)
		c.inserts = 0
		if err := c.run(s.Apply, s); err != nil {
			c.pending = nil
			return c.abort(domain.StageModel, &domain.ValidationError{Address: s.Address, Operation: s.Name, Err: err})
		}
		if err := c.splice(s); err != nil {
			return c.abort(domain.StageModel, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return c.abort(domain.StageModel, err)
	}

	c.enter(domain.StageRuntime)
	for _, s := range c.steps {
		if err := c.run(s.Runtime, s); err != nil {
			return c.abort(domain.StageRuntime, &domain.ApplyError{Address: s.Address, Step: s.Name, Err: err})
		}
		if err := c.lateSteps(); err != nil {
			return c.abort(domain.StageRuntime, err)
		}
	}

	c.enter(domain.StageVerify)
	for _, s := range c.steps {
		if err := c.run(s.Verify, s); err != nil {
			return c.abort(domain.StageVerify, &domain.VerifyError{Address: s.Address, Step: s.Name, Err: err})
		}
		if err := c.lateSteps(); err != nil {
			return c.abort(domain.StageVerify, err)
		}
	}

	c.enter(domain.StagePrepared)
	return nil
}

func (c *Context) validate(s *Step) error {
	if s.validated {
		return nil
	}
	s.validated = true
	if err := c.run(s.Validate, s); err != nil {
		return &domain.ValidationError{Address: s.Address, Operation: s.Name, Err: err}
	}
	return nil
}

func (c *Context) lateSteps() error {
	if len(c.pending) == 0 {
		return nil
	}
	c.pending = nil
	return ErrLateStep
}

func (c *Context) abort(stage domain.Stage, err error) error {
	c.fail(stage, err)
	c.compensate()
	return err
}

// Pending returns the tree the Working Copy would commit to. Only valid in PREPARED.
func (c *Context) Pending() (*tree.Tree, error) {
	if c.stage != domain.StagePrepared {
		return nil, fmt.Errorf("stage %s: %w", c.stage, domain.ErrNotPrepared)
	}
	return c.wc.Commit(), nil
}

// Complete moves a prepared context to COMPLETED.
func (c *Context) Complete() error {
	if c.stage != domain.StagePrepared {
		return fmt.Errorf("complete in stage %s: %w", c.stage, domain.ErrNotPrepared)
	}
	c.applied = nil
	c.enter(domain.StageCompleted)
	return nil
}

// Rollback compensates a prepared context. Rolling back twice is a no-op.
// It returns the aggregated compensation error, if any.
func (c *Context) Rollback(ctx context.Context) error {
	switch c.stage {
	case domain.StageRolledBack:
		return nil
	case domain.StagePrepared:
	default:
		return fmt.Errorf("rollback in stage %s: %w", c.stage, domain.ErrNotPrepared)
	}
	c.ctx = ctx
	if c.failure == nil {
		c.failure = ErrVerdictRollback
		c.failedAt = domain.StagePrepared
	}
	c.compensate()
	return c.compensated
}

// Err returns the failure that stopped the operation, if any.
func (c *Context) Err() error {
	return c.failure
}

// Outcome reports the current state of the context.
func (c *Context) Outcome() domain.Outcome {
	out := domain.Outcome{Warnings: c.warnings}
	switch c.stage {
	case domain.StagePrepared:
		out.Status = domain.OutcomePrepared
		out.Result = c.root.value()
	case domain.StageCompleted:
		out.Status = domain.OutcomeCommitted
		out.Result = c.root.value()
	case domain.StageRolledBack:
		out.Status = domain.OutcomeRolledBack
		out.Failure = domain.NewFailure(c.failedAt, c.failure)
		if c.compensated != nil {
			out.Status = domain.OutcomeFailedToApply
			out.Warnings = append(out.Warnings, c.compensated.Error())
		}
	default:
		out.Status = domain.OutcomeFailedToApply
		out.Failure = &domain.Failure{Kind: domain.FailureInternal, Stage: c.stage, Message: "operation did not finish"}
	}
	return out
}

// Elapsed returns the time since Prepare started.
func (c *Context) Elapsed() time.Duration {
	if c.started.IsZero() {
		return 0
	}
	return time.Since(c.started)
}
