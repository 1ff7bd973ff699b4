// Package subordinate serves a local coordinator to a remote controller.
//
// An Endpoint reads protocol messages from a channel, prepares proposed operations on its
// coordinator and holds them until the controller's verdict arrives. Verdicts are idempotent:
// a repeated commit or rollback is acknowledged again, a rollback for an unknown transaction is
// acknowledged, and a commit for an unknown one is rejected.
package subordinate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/keel/internal/logging"
	"github.com/aretw0/keel/pkg/domain"
	"github.com/aretw0/keel/pkg/ports"
	"github.com/aretw0/keel/pkg/protocol"
	"github.com/aretw0/keel/pkg/txn"
)

// DefaultRetention is how long finished transactions are remembered for duplicate verdicts.
const DefaultRetention = 5 * time.Minute

// Endpoint is the subordinate side of a channel.
type Endpoint struct {
	coord     *txn.Coordinator
	ch        ports.Channel
	logger    *slog.Logger
	retention time.Duration

	sendMu sync.Mutex
	mu     sync.Mutex
	txs    map[string]*entry
	wg     sync.WaitGroup
}

type entry struct {
	ready    chan struct{}
	prepared *txn.Prepared
	outcome  domain.Outcome
	err      error
	seen     time.Time
}

func (e *entry) finished() bool {
	select {
	case <-e.ready:
	default:
		return false
	}
	return e.prepared == nil || e.prepared.Outcome().Status != domain.OutcomePrepared
}

// Option configures the Endpoint.
type Option func(*Endpoint)

// WithLogger configures a logger for the Endpoint.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Endpoint) {
		e.logger = logger
	}
}

// WithRetention sets how long finished transactions are remembered.
func WithRetention(d time.Duration) Option {
	return func(e *Endpoint) {
		e.retention = d
	}
}

// New creates an endpoint serving coord over ch.
func New(coord *txn.Coordinator, ch ports.Channel, opts ...Option) *Endpoint {
	e := &Endpoint{
		coord:     coord,
		ch:        ch,
		logger:    logging.NewNop(),
		retention: DefaultRetention,
		txs:       make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("process", coord.Name())
	return e
}

// Serve handles messages until ctx is done or the channel fails. Transactions still prepared
// when Serve returns are left to their prepare timeout.
func (e *Endpoint) Serve(ctx context.Context) error {
	defer e.wg.Wait()
	for {
		msg, err := e.ch.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("subordinate %s: %w", e.coord.Name(), err)
		}
		e.sweep()
		if err := msg.Validate(); err != nil {
			e.logger.WarnContext(ctx, "invalid message", "err", err)
			if msg.TxID != "" {
				e.send(ctx, protocol.Nack(msg.TxID, e.coord.Name(), err))
			}
			continue
		}

		switch msg.Kind {
		case protocol.KindPropose:
			e.propose(ctx, msg.TxID, *msg.Operation)
		case protocol.KindCommit, protocol.KindRollback:
			e.confirm(ctx, msg)
		default:
			e.logger.WarnContext(ctx, "ignoring reply sent to subordinate", "kind", msg.Kind, "tx_id", msg.TxID)
		}
	}
}

// Pending returns the number of transactions awaiting a verdict.
func (e *Endpoint) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, en := range e.txs {
		if !en.finished() {
			n++
		}
	}
	return n
}

func (e *Endpoint) propose(ctx context.Context, txID string, op domain.Operation) {
	e.mu.Lock()
	en, ok := e.txs[txID]
	if !ok {
		en = &entry{ready: make(chan struct{}), seen: time.Now()}
		e.txs[txID] = en
	}
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if ok {
			// Duplicate propose: answer with the outcome already reached.
			<-en.ready
			e.send(ctx, protocol.Reply(txID, e.coord.Name(), en.outcome))
			return
		}

		p, out, err := e.coord.Prepare(ctx, txID, op)
		if err != nil {
			out = domain.Outcome{Status: domain.OutcomeFailedToApply, Failure: domain.NewFailure(domain.StageModel, err)}
		}
		en.prepared, en.outcome, en.err = p, out, err
		close(en.ready)

		e.logger.DebugContext(ctx, "prepared", "tx_id", txID, "operation", op.Name, "status", out.Status)
		e.send(ctx, protocol.Reply(txID, e.coord.Name(), out))
	}()
}

func (e *Endpoint) confirm(ctx context.Context, msg protocol.Message) {
	e.mu.Lock()
	en, ok := e.txs[msg.TxID]
	if ok {
		en.seen = time.Now()
	}
	e.mu.Unlock()

	if !ok {
		if msg.Kind == protocol.KindCommit {
			e.send(ctx, protocol.Nack(msg.TxID, e.coord.Name(), fmt.Errorf("unknown transaction: %w", domain.ErrNotPrepared)))
			return
		}
		e.send(ctx, protocol.Ack(msg.TxID, e.coord.Name()))
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		<-en.ready

		var err error
		switch {
		case en.prepared == nil && msg.Kind == protocol.KindCommit:
			err = errors.Join(domain.ErrNotPrepared, en.outcome.Err())
		case en.prepared == nil:
		case msg.Kind == protocol.KindCommit:
			_, err = en.prepared.Commit(ctx)
		default:
			_, err = en.prepared.Rollback(ctx)
		}
		if err != nil {
			e.logger.WarnContext(ctx, "verdict not honoured", "tx_id", msg.TxID, "kind", msg.Kind, "err", err)
			e.send(ctx, protocol.Nack(msg.TxID, e.coord.Name(), err))
			return
		}
		e.send(ctx, protocol.Ack(msg.TxID, e.coord.Name()))
	}()
}

func (e *Endpoint) send(ctx context.Context, msg protocol.Message) {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	if err := e.ch.Send(ctx, msg); err != nil {
		e.logger.WarnContext(ctx, "reply lost", "kind", msg.Kind, "tx_id", msg.TxID, "err", err)
	}
}

func (e *Endpoint) sweep() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, en := range e.txs {
		if time.Since(en.seen) > e.retention && en.finished() {
			delete(e.txs, id)
		}
	}
}
