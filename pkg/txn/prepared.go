package txn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/keel/pkg/domain"
	"github.com/aretw0/keel/pkg/operation"
)

// Prepared is an operation that passed every stage and holds its Working Copy open.
// Exactly one of Commit, Rollback or the prepare timeout finalises it; later calls report
// the outcome already reached.
type Prepared struct {
	c        *Coordinator
	txID     string
	oc       *operation.Context
	timer    *time.Timer
	readOnly bool
	log      *slog.Logger

	mu      sync.Mutex
	done    bool
	outcome domain.Outcome
}

// TxID returns the transaction id.
func (p *Prepared) TxID() string {
	return p.txID
}

// Outcome returns the prepared outcome, or the final one once finalised.
func (p *Prepared) Outcome() domain.Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return p.outcome
	}
	return p.oc.Outcome()
}

// Commit publishes the Working Copy. If persisting fails the operation is compensated and the
// outcome is failed-to-apply; the error is returned as well so a fleet can tell the verdict
// was not honoured.
func (p *Prepared) Commit(ctx context.Context) (domain.Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		if p.outcome.Status == domain.OutcomeCommitted {
			return p.outcome, nil
		}
		return p.outcome, fmt.Errorf("commit %s after %s: %w", p.txID, p.outcome.Status, domain.ErrNotPrepared)
	}
	p.stopTimer()

	if !p.readOnly {
		next, err := p.oc.Pending()
		if err == nil && next != p.oc.Tree().Base() {
			err = p.c.publish(ctx, next)
		}
		if err != nil {
			p.log.ErrorContext(ctx, "commit failed, compensating", "err", err)
			rbErr := p.oc.Rollback(ctx)
			p.finish(ctx, domain.Outcome{
				Status:   domain.OutcomeFailedToApply,
				Failure:  domain.NewFailure(domain.StagePrepared, err),
				Warnings: warnings(rbErr),
			})
			return p.outcome, err
		}
	}
	if err := p.oc.Complete(); err != nil {
		return p.oc.Outcome(), err
	}
	p.finish(ctx, p.oc.Outcome())
	return p.outcome, nil
}

// Rollback discards the Working Copy and compensates every applied step.
// Rolling back twice is a no-op. Rolling back a committed transaction fails.
func (p *Prepared) Rollback(ctx context.Context) (domain.Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rollbackLocked(ctx)
}

func (p *Prepared) rollbackLocked(ctx context.Context) (domain.Outcome, error) {
	if p.done {
		if p.outcome.Status == domain.OutcomeCommitted {
			return p.outcome, fmt.Errorf("rollback %s after commit: %w", p.txID, domain.ErrNotPrepared)
		}
		return p.outcome, nil
	}
	p.stopTimer()
	err := p.oc.Rollback(ctx)
	p.finish(ctx, p.oc.Outcome())
	return p.outcome, err
}

// expire is the presumed abort of a transaction whose verdict never arrived.
func (p *Prepared) expire() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return
	}
	p.log.Warn("prepared transaction timed out, rolling back", "timeout", p.c.prepareTimeout)
	_, _ = p.rollbackLocked(context.Background())
}

func (p *Prepared) stopTimer() {
	if p.timer != nil {
		p.timer.Stop()
	}
}

// finish records the final outcome and hands the queue to the next operation.
func (p *Prepared) finish(ctx context.Context, out domain.Outcome) {
	p.done = true
	p.outcome = out
	if !p.readOnly {
		p.c.queue.release()
	}
	p.c.emitOutcome(ctx, p.oc, out)
}

func warnings(err error) []string {
	if err == nil {
		return nil
	}
	return []string{err.Error()}
}
