package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an address does not resolve to a resource.
	ErrNotFound = errors.New("resource not found")

	// ErrDuplicate is returned when adding a resource that already exists.
	ErrDuplicate = errors.New("resource already exists")

	// ErrDuplicateHandler is returned when registering a second handler for the same exact key.
	ErrDuplicateHandler = errors.New("duplicate handler registration")

	// ErrNoHandler is returned when no handler is registered for an operation at an address.
	ErrNoHandler = errors.New("no handler for operation")

	// ErrDisconnected is returned by channels whose connection was lost.
	ErrDisconnected = errors.New("channel disconnected")

	// ErrTimeout is returned when a bounded wait elapses.
	ErrTimeout = errors.New("timed out")

	// ErrClosed is returned when using a component after Close.
	ErrClosed = errors.New("closed")

	// ErrSnapshotNotFound is returned by stores that hold no snapshot yet.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrNotPrepared is returned when finalizing a transaction that is not held open.
	ErrNotPrepared = errors.New("transaction not prepared")
)

// FailureKind classifies failures on the wire.
type FailureKind string

const (
	FailureValidation   FailureKind = "validation"
	FailureApply        FailureKind = "apply"
	FailureVerify       FailureKind = "verify"
	FailureUnreachable  FailureKind = "participant-unreachable"
	FailureInconsistent FailureKind = "inconsistent-participant"
	FailureCancelled    FailureKind = "cancelled"
	FailureInternal     FailureKind = "internal"
)

// ValidationError is raised in the MODEL stage. It is never partially applied.
type ValidationError struct {
	Address   Address
	Operation string
	Err       error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation of %s at %s failed: %v", e.Operation, e.Address, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ApplyError is raised in the RUNTIME stage; applied steps are compensated.
type ApplyError struct {
	Address Address
	Step    string
	Err     error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("runtime apply of %s at %s failed: %v", e.Step, e.Address, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// VerifyError is raised when a post-condition fails after RUNTIME.
type VerifyError struct {
	Address Address
	Step    string
	Err     error
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verification of %s at %s failed: %v", e.Step, e.Address, e.Err)
}

func (e *VerifyError) Unwrap() error { return e.Err }

// ParticipantUnreachable reports a channel failure while talking to a participant.
type ParticipantUnreachable struct {
	Participant string
	Err         error
}

func (e *ParticipantUnreachable) Error() string {
	return fmt.Sprintf("participant %s unreachable: %v", e.Participant, e.Err)
}

func (e *ParticipantUnreachable) Unwrap() error { return e.Err }

// InconsistentParticipant reports a participant that could not be reconciled to the verdict.
// It is never retried automatically.
type InconsistentParticipant struct {
	Participant string
	Verdict     Verdict
	Err         error
}

func (e *InconsistentParticipant) Error() string {
	return fmt.Sprintf("participant %s inconsistent with verdict %s: %v", e.Participant, e.Verdict, e.Err)
}

func (e *InconsistentParticipant) Unwrap() error { return e.Err }

// Failure is the structured, serializable description of a failed operation.
type Failure struct {
	Kind        FailureKind `json:"kind"`
	Stage       Stage       `json:"stage,omitempty"`
	Message     string      `json:"message"`
	Address     Address     `json:"address,omitempty"`
	Participant string      `json:"participant,omitempty"`
}

// NewFailure classifies err into a Failure. Stage is recorded as given.
func NewFailure(stage Stage, err error) *Failure {
	if err == nil {
		return nil
	}
	f := &Failure{Kind: FailureInternal, Stage: stage, Message: err.Error()}

	var (
		ve *ValidationError
		ae *ApplyError
		vf *VerifyError
		pu *ParticipantUnreachable
		ip *InconsistentParticipant
	)
	switch {
	case errors.As(err, &ip):
		f.Kind, f.Participant = FailureInconsistent, ip.Participant
	case errors.As(err, &pu):
		f.Kind, f.Participant = FailureUnreachable, pu.Participant
	case errors.As(err, &ve):
		f.Kind, f.Address = FailureValidation, ve.Address
	case errors.As(err, &ae):
		f.Kind, f.Address = FailureApply, ae.Address
	case errors.As(err, &vf):
		f.Kind, f.Address = FailureVerify, vf.Address
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrDisconnected):
		f.Kind = FailureUnreachable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		f.Kind = FailureCancelled
	}
	return f
}

// Err rebuilds a typed error from the failure so callers can use errors.As after a wire hop.
func (f *Failure) Err() error {
	if f == nil {
		return nil
	}
	base := errors.New(f.Message)
	switch f.Kind {
	case FailureValidation:
		return &ValidationError{Address: f.Address, Err: base}
	case FailureApply:
		return &ApplyError{Address: f.Address, Err: base}
	case FailureVerify:
		return &VerifyError{Address: f.Address, Err: base}
	case FailureUnreachable:
		return &ParticipantUnreachable{Participant: f.Participant, Err: base}
	case FailureInconsistent:
		return &InconsistentParticipant{Participant: f.Participant, Err: base}
	}
	return base
}
