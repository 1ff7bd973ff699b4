package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventStage        EventType = "stage"
	EventStepRollback EventType = "step_rollback"
	EventOutcome      EventType = "outcome"
	EventCommit       EventType = "commit"
	EventVerdict      EventType = "verdict"
	EventParticipant  EventType = "participant"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Process   string    `json:"process"`
	TxID      string    `json:"tx_id,omitempty"`
}

// StageEvent is emitted when an operation enters a stage.
type StageEvent struct {
	EventBase
	Operation string  `json:"operation"`
	Address   Address `json:"address"`
	Stage     Stage   `json:"stage"`
}

// StepEvent is emitted for each compensated step.
type StepEvent struct {
	EventBase
	Step    string  `json:"step"`
	Address Address `json:"address"`
	Err     error   `json:"-"`
}

// OutcomeEvent is emitted when a local operation reaches a terminal or prepared state.
type OutcomeEvent struct {
	EventBase
	Operation string        `json:"operation"`
	Address   Address       `json:"address"`
	Outcome   Outcome       `json:"outcome"`
	Duration  time.Duration `json:"duration"`
}

// CommitEvent is emitted after the authoritative tree was replaced.
type CommitEvent struct {
	EventBase
	Revision uint64    `json:"revision"`
	Diff     *TreeDiff `json:"diff,omitempty"`
}

// VerdictEvent is emitted once per fleet operation.
type VerdictEvent struct {
	EventBase
	Verdict      Verdict                      `json:"verdict"`
	Participants map[string]ParticipantResult `json:"participants"`
}

// ParticipantEvent is emitted for each propose/confirm exchange with a subordinate.
type ParticipantEvent struct {
	EventBase
	Participant string        `json:"participant"`
	Phase       string        `json:"phase"`
	Status      OutcomeStatus `json:"status"`
	Duration    time.Duration `json:"duration"`
}

// LifecycleHooks defines callbacks for kernel observability.
// Any hook may be nil.
type LifecycleHooks struct {
	OnStage        func(context.Context, *StageEvent)
	OnStepRollback func(context.Context, *StepEvent)
	OnOutcome      func(context.Context, *OutcomeEvent)
	OnCommit       func(context.Context, *CommitEvent)
	OnVerdict      func(context.Context, *VerdictEvent)
	OnParticipant  func(context.Context, *ParticipantEvent)
}

// Merge returns hooks that call h first and then other.
func (h LifecycleHooks) Merge(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnStage:        chain(h.OnStage, other.OnStage),
		OnStepRollback: chain(h.OnStepRollback, other.OnStepRollback),
		OnOutcome:      chain(h.OnOutcome, other.OnOutcome),
		OnCommit:       chain(h.OnCommit, other.OnCommit),
		OnVerdict:      chain(h.OnVerdict, other.OnVerdict),
		OnParticipant:  chain(h.OnParticipant, other.OnParticipant),
	}
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}
