package fleet

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/keel/internal/logging"
	"github.com/aretw0/keel/pkg/domain"
	"github.com/aretw0/keel/pkg/tree"
	"github.com/aretw0/keel/pkg/txn"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultProposeTimeout bounds the wait for the slowest participant.
const DefaultProposeTimeout = 10 * time.Second

// Participant is a remote process taking part in fleet operations.
// Propose never returns an error: failures are reported through the outcome.
type Participant interface {
	Name() string
	// Scope returns the address patterns the participant manages. Empty means everything.
	Scope() []domain.Address
	Propose(ctx context.Context, txID string, op domain.Operation) domain.Outcome
	ConfirmCommit(ctx context.Context, txID string) error
	ConfirmRollback(ctx context.Context, txID string) error
}

// Coordinator is the Domain Coordinator.
type Coordinator struct {
	local          *txn.Coordinator
	participants   []Participant
	proposeTimeout time.Duration
	logger         *slog.Logger
	hooks          domain.LifecycleHooks

	mu           sync.Mutex
	inconsistent map[string]*domain.Failure
}

// Option configures the Coordinator.
type Option func(*Coordinator)

// WithParticipants adds participants to the fleet.
func WithParticipants(ps ...Participant) Option {
	return func(c *Coordinator) {
		c.participants = append(c.participants, ps...)
	}
}

// WithProposeTimeout bounds the propose phase.
func WithProposeTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.proposeTimeout = d
	}
}

// WithLogger configures a logger for the Coordinator.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithHooks registers verdict and participant hooks.
func WithHooks(h domain.LifecycleHooks) Option {
	return func(c *Coordinator) {
		c.hooks = h
	}
}

// New creates a Domain Coordinator around the controller's local coordinator.
func New(local *txn.Coordinator, opts ...Option) *Coordinator {
	c := &Coordinator{
		local:          local,
		proposeTimeout: DefaultProposeTimeout,
		logger:         logging.NewNop(),
		inconsistent:   make(map[string]*domain.Failure),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Local returns the controller's own coordinator.
func (c *Coordinator) Local() *txn.Coordinator {
	return c.local
}

// Name returns the controller's process name.
func (c *Coordinator) Name() string {
	return c.local.Name()
}

// Tree returns the controller's committed tree.
func (c *Coordinator) Tree() *tree.Tree {
	return c.local.Tree()
}

// Participants returns the participant names in registration order. The set is fixed by New.
func (c *Coordinator) Participants() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, len(c.participants))
	for i, p := range c.participants {
		names[i] = p.Name()
	}
	return names
}

// Inconsistent returns the participants that diverged from a verdict, sorted by name.
func (c *Coordinator) Inconsistent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.inconsistent))
	for name := range c.inconsistent {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reconciled clears the inconsistent mark of a participant after an out-of-band repair.
// It reports whether the participant was marked.
func (c *Coordinator) Reconciled(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inconsistent[name]
	delete(c.inconsistent, name)
	return ok
}

// required returns the participants whose scope intersects the operation's address.
func (c *Coordinator) required(op domain.Operation) []Participant {
	var out []Participant
	for _, p := range c.participants {
		scope := p.Scope()
		if len(scope) == 0 {
			out = append(out, p)
			continue
		}
		for _, pattern := range scope {
			if op.Address.Intersects(pattern) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// Submit runs op across the fleet and returns the aggregated response. The error is only set
// when the operation was never admitted locally.
//
// Cancelling ctx before the proposals go out abandons the operation. Once they are out the
// protocol always runs to a verdict, so no participant is left holding a Working Copy.
func (c *Coordinator) Submit(ctx context.Context, op domain.Operation) (domain.Response, error) {
	required := c.required(op)
	if op.IsReadOnly() || len(required) == 0 {
		out, err := c.local.Execute(ctx, op)
		return domain.Response{Outcome: out}, err
	}

	txID := uuid.NewString()
	log := c.logger.With("tx_id", txID, "operation", op.Name, "address", op.Address.String())

	prepared, local, err := c.local.Prepare(ctx, txID, op)
	if err != nil {
		return domain.Response{}, err
	}
	if prepared != nil && ctx.Err() != nil {
		out, _ := prepared.Rollback(context.WithoutCancel(ctx))
		out.Failure = domain.NewFailure(domain.StagePrepared, ctx.Err())
		return domain.Response{Outcome: out, Verdict: domain.VerdictRollback}, nil
	}
	ctx = context.WithoutCancel(ctx)

	// Phase one. A local failure makes the verdict certain, so nothing is proposed.
	proposals := make([]domain.Outcome, len(required))
	if prepared != nil {
		pctx, cancel := context.WithTimeout(ctx, c.proposeTimeout)
		g, gctx := errgroup.WithContext(pctx)
		for i, p := range required {
			g.Go(func() error {
				start := time.Now()
				proposals[i] = p.Propose(gctx, txID, op)
				c.emitParticipant(ctx, txID, p.Name(), "propose", proposals[i].Status, time.Since(start))
				return nil
			})
		}
		_ = g.Wait()
		cancel()
	}

	verdict := domain.VerdictCommit
	if prepared == nil {
		verdict = domain.VerdictRollback
	}
	for i, out := range proposals {
		if out.Failed() {
			verdict = domain.VerdictRollback
			log.WarnContext(ctx, "participant failed to prepare", "participant", required[i].Name(), "status", out.Status)
		}
	}

	// Phase two. The controller finalises first; if it cannot commit, nobody does.
	resp := domain.Response{Participants: make(map[string]domain.ParticipantResult, len(required)+1)}
	switch {
	case prepared == nil:
		resp.Outcome = local
	case verdict == domain.VerdictCommit:
		out, err := prepared.Commit(ctx)
		if err != nil {
			log.ErrorContext(ctx, "local commit failed, rolling back the fleet", "err", err)
			verdict = domain.VerdictRollback
		}
		resp.Outcome = out
	default:
		out, _ := prepared.Rollback(ctx)
		resp.Outcome = out
	}
	resp.Verdict = verdict
	resp.Participants[c.local.Name()] = domain.ParticipantResult{Status: resp.Outcome.Status, Failure: resp.Outcome.Failure}

	results := make([]domain.ParticipantResult, len(required))
	var wg sync.WaitGroup
	for i, p := range required {
		proposal := proposals[i]
		if prepared == nil {
			results[i] = domain.ParticipantResult{Status: domain.OutcomeRolledBack}
			continue
		}
		if proposal.Failed() {
			results[i] = domain.ParticipantResult{Status: proposal.Status, Failure: proposal.Failure}
			if proposal.Failure != nil && proposal.Failure.Kind == domain.FailureUnreachable {
				// It may have prepared after we stopped waiting.
				go c.abandon(ctx, log, p, txID)
			}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.confirm(ctx, log, p, txID, verdict)
		}()
	}
	wg.Wait()

	for i, p := range required {
		resp.Participants[p.Name()] = results[i]
	}
	// A verdict-driven rollback reports the participant that forced it.
	if verdict == domain.VerdictRollback && prepared != nil {
		if f := cause(required, proposals); f != nil {
			resp.Outcome.Failure = f
		}
	}

	log.InfoContext(ctx, "fleet verdict", "verdict", verdict, "participants", len(required))
	if c.hooks.OnVerdict != nil {
		c.hooks.OnVerdict(ctx, &domain.VerdictEvent{
			EventBase:    domain.EventBase{Timestamp: time.Now(), Type: domain.EventVerdict, Process: c.local.Name(), TxID: txID},
			Verdict:      verdict,
			Participants: resp.Participants,
		})
	}
	return resp, nil
}

func (c *Coordinator) confirm(ctx context.Context, log *slog.Logger, p Participant, txID string, v domain.Verdict) domain.ParticipantResult {
	start := time.Now()
	var err error
	if v == domain.VerdictCommit {
		err = p.ConfirmCommit(ctx, txID)
	} else {
		err = p.ConfirmRollback(ctx, txID)
	}

	res := domain.ParticipantResult{Status: domain.OutcomeCommitted}
	if v == domain.VerdictRollback {
		res.Status = domain.OutcomeRolledBack
	}
	if err != nil {
		var ip *domain.InconsistentParticipant
		if !errors.As(err, &ip) {
			err = &domain.InconsistentParticipant{Participant: p.Name(), Verdict: v, Err: err}
		}
		res = domain.ParticipantResult{Status: domain.OutcomeInconsistent, Failure: domain.NewFailure(domain.StagePrepared, err)}
		log.ErrorContext(ctx, "participant inconsistent with verdict", "participant", p.Name(), "verdict", v, "err", err)

		c.mu.Lock()
		c.inconsistent[p.Name()] = res.Failure
		c.mu.Unlock()
	}
	c.emitParticipant(ctx, txID, p.Name(), "confirm", res.Status, time.Since(start))
	return res
}

// abandon tells an unreachable participant to roll back, in case it prepared after all.
func (c *Coordinator) abandon(ctx context.Context, log *slog.Logger, p Participant, txID string) {
	if err := p.ConfirmRollback(ctx, txID); err != nil {
		log.DebugContext(ctx, "rollback of unreachable participant not delivered", "participant", p.Name(), "err", err)
	}
}

func (c *Coordinator) emitParticipant(ctx context.Context, txID, name, phase string, status domain.OutcomeStatus, d time.Duration) {
	if c.hooks.OnParticipant == nil {
		return
	}
	c.hooks.OnParticipant(ctx, &domain.ParticipantEvent{
		EventBase:   domain.EventBase{Timestamp: time.Now(), Type: domain.EventParticipant, Process: c.local.Name(), TxID: txID},
		Participant: name,
		Phase:       phase,
		Status:      status,
		Duration:    d,
	})
}

// cause returns the first participant failure, in participant order.
func cause(ps []Participant, proposals []domain.Outcome) *domain.Failure {
	for i, out := range proposals {
		if !out.Failed() {
			continue
		}
		if out.Failure != nil {
			f := *out.Failure
			if f.Participant == "" {
				f.Participant = ps[i].Name()
			}
			return &f
		}
		return &domain.Failure{Kind: domain.FailureInternal, Message: string(out.Status), Participant: ps[i].Name()}
	}
	return nil
}
