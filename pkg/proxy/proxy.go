// Package proxy implements the Subordinate Proxy: the controller-side stand-in for a remote
// participant. It turns calls into protocol messages over a ports.Channel and classifies every
// channel failure so that a slow or lost participant can never block a verdict.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/keel/internal/logging"
	"github.com/aretw0/keel/internal/retry"
	"github.com/aretw0/keel/pkg/domain"
	"github.com/aretw0/keel/pkg/ports"
	"github.com/aretw0/keel/pkg/protocol"
)

// Defaults for the bounded waits.
const (
	DefaultProposeTimeout  = 10 * time.Second
	DefaultConfirmTimeout  = 5 * time.Second
	DefaultConfirmAttempts = 3
)

// Proxy is a participant reached over a channel.
type Proxy struct {
	name   string
	scope  []domain.Address
	ch     ports.Channel
	logger *slog.Logger

	proposeTimeout  time.Duration
	confirmTimeout  time.Duration
	confirmAttempts int
	confirmBackoff  time.Duration

	mu      sync.Mutex
	waiting map[string]waiter
	err     error
	done    chan struct{}
	cancel  context.CancelFunc
}

// waiter is a pending request. Outcomes only answer proposes, acks only answer confirms.
type waiter struct {
	replies chan protocol.Message
	propose bool
}

func (w waiter) accepts(k protocol.Kind) bool {
	if k == protocol.KindOutcome {
		return w.propose
	}
	return k == protocol.KindNack || !w.propose
}

// Option configures the Proxy.
type Option func(*Proxy)

// WithScope restricts the participant to the subtrees matching the patterns.
// Without a scope the participant takes part in every operation.
func WithScope(patterns ...domain.Address) Option {
	return func(p *Proxy) {
		p.scope = patterns
	}
}

// WithProposeTimeout bounds the wait for a propose reply.
func WithProposeTimeout(d time.Duration) Option {
	return func(p *Proxy) {
		p.proposeTimeout = d
	}
}

// WithConfirm bounds each commit/rollback attempt and the number of retries after the first.
func WithConfirm(timeout time.Duration, attempts int, backoff time.Duration) Option {
	return func(p *Proxy) {
		p.confirmTimeout = timeout
		p.confirmAttempts = attempts
		p.confirmBackoff = backoff
	}
}

// WithLogger configures a logger for the Proxy.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Proxy) {
		p.logger = logger
	}
}

// New creates a proxy for the participant named name and starts reading replies from ch.
func New(name string, ch ports.Channel, opts ...Option) *Proxy {
	p := &Proxy{
		name:            name,
		ch:              ch,
		logger:          logging.NewNop(),
		proposeTimeout:  DefaultProposeTimeout,
		confirmTimeout:  DefaultConfirmTimeout,
		confirmAttempts: DefaultConfirmAttempts,
		confirmBackoff:  100 * time.Millisecond,
		waiting:         make(map[string]waiter),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("participant", name)

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.readLoop(ctx)
	return p
}

// Name returns the participant name.
func (p *Proxy) Name() string {
	return p.name
}

// Scope returns the address patterns the participant manages.
func (p *Proxy) Scope() []domain.Address {
	return p.scope
}

// Propose asks the participant to prepare op. It always returns an outcome: timeouts and lost
// connections become failed-to-apply with a ParticipantUnreachable failure.
func (p *Proxy) Propose(ctx context.Context, txID string, op domain.Operation) domain.Outcome {
	ctx, cancel := context.WithTimeout(ctx, p.proposeTimeout)
	defer cancel()

	reply, err := p.request(ctx, protocol.Propose(txID, op))
	if err != nil {
		p.logger.WarnContext(ctx, "propose failed", "tx_id", txID, "err", err)
		return unreachable(p.name, err)
	}
	if reply.Kind != protocol.KindOutcome || reply.Outcome == nil {
		err := fmt.Errorf("unexpected %s reply to propose", reply.Kind)
		if reply.Error != "" {
			err = errors.New(reply.Error)
		}
		return domain.Outcome{
			Status:  domain.OutcomeFailedToApply,
			Failure: &domain.Failure{Kind: domain.FailureInternal, Message: err.Error(), Participant: p.name},
		}
	}
	out := *reply.Outcome
	if out.Failure != nil && out.Failure.Participant == "" {
		out.Failure.Participant = p.name
	}
	return out
}

// ConfirmCommit delivers a commit verdict, retrying transient failures.
// Giving up yields an InconsistentParticipant error.
func (p *Proxy) ConfirmCommit(ctx context.Context, txID string) error {
	return p.confirm(ctx, txID, domain.VerdictCommit)
}

// ConfirmRollback delivers a rollback verdict, retrying transient failures.
func (p *Proxy) ConfirmRollback(ctx context.Context, txID string) error {
	return p.confirm(ctx, txID, domain.VerdictRollback)
}

func (p *Proxy) confirm(ctx context.Context, txID string, v domain.Verdict) error {
	backoff := retry.Limit(p.confirmAttempts, retry.ExponentialBackoff(p.confirmBackoff, 2))
	_, err := retry.Blocking(ctx, backoff, func() (protocol.Message, error) {
		actx, cancel := context.WithTimeout(ctx, p.confirmTimeout)
		defer cancel()

		reply, err := p.request(actx, protocol.Confirm(txID, v))
		if err != nil {
			p.logger.WarnContext(ctx, "confirm attempt failed", "tx_id", txID, "verdict", v, "err", err)
			return reply, retry.Transient(err)
		}
		if reply.Kind == protocol.KindNack {
			return reply, fmt.Errorf("participant rejected %s: %s", v, reply.Error)
		}
		return reply, nil
	})
	if err != nil {
		return &domain.InconsistentParticipant{Participant: p.name, Verdict: v, Err: err}
	}
	return nil
}

// request sends msg and waits for the reply with the same transaction id.
func (p *Proxy) request(ctx context.Context, msg protocol.Message) (protocol.Message, error) {
	replies := make(chan protocol.Message, 1)
	p.mu.Lock()
	if p.err != nil {
		err := p.err
		p.mu.Unlock()
		return protocol.Message{}, err
	}
	p.waiting[msg.TxID] = waiter{replies: replies, propose: msg.Kind == protocol.KindPropose}
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.waiting[msg.TxID].replies == replies {
			delete(p.waiting, msg.TxID)
		}
		p.mu.Unlock()
	}()

	if err := p.ch.Send(ctx, msg); err != nil {
		return protocol.Message{}, classify(err)
	}
	select {
	case reply := <-replies:
		return reply, nil
	case <-p.done:
		return protocol.Message{}, p.closedErr()
	case <-ctx.Done():
		return protocol.Message{}, classify(ctx.Err())
	}
}

func (p *Proxy) readLoop(ctx context.Context) {
	defer close(p.done)
	for {
		msg, err := p.ch.Receive(ctx)
		if err != nil {
			p.mu.Lock()
			p.err = classify(err)
			p.mu.Unlock()
			p.logger.Info("channel closed", "err", err)
			return
		}
		if !msg.IsReply() {
			p.logger.Warn("ignoring unexpected message", "kind", msg.Kind, "tx_id", msg.TxID)
			continue
		}

		p.mu.Lock()
		w, ok := p.waiting[msg.TxID]
		ok = ok && w.accepts(msg.Kind)
		if ok {
			delete(p.waiting, msg.TxID)
		}
		p.mu.Unlock()
		if !ok {
			// The caller already gave up on this request.
			p.logger.Debug("dropping late reply", "kind", msg.Kind, "tx_id", msg.TxID)
			continue
		}
		w.replies <- msg
	}
}

func (p *Proxy) closedErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	return fmt.Errorf("proxy %s: %w", p.name, domain.ErrDisconnected)
}

// Close stops the reader and closes the channel.
func (p *Proxy) Close() error {
	p.cancel()
	err := p.ch.Close()
	<-p.done
	return err
}

// classify maps deadline expiry to ErrTimeout; disconnects already wrap ErrDisconnected.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) && !errors.Is(err, domain.ErrDisconnected) {
		return fmt.Errorf("%w: %w", domain.ErrDisconnected, err)
	}
	return err
}

func unreachable(name string, err error) domain.Outcome {
	return domain.Outcome{
		Status:  domain.OutcomeFailedToApply,
		Failure: domain.NewFailure("", &domain.ParticipantUnreachable{Participant: name, Err: err}),
	}
}
