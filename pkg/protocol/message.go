// Package protocol defines the messages exchanged between a Domain Coordinator and the
// subordinate endpoints of its participants.
package protocol

import (
	"fmt"

	"github.com/aretw0/keel/pkg/domain"
)

// Kind identifies a message.
type Kind string

const (
	// KindPropose asks a subordinate to run an operation up to PREPARED.
	KindPropose Kind = "propose"
	// KindCommit confirms a prepared transaction.
	KindCommit Kind = "commit"
	// KindRollback discards a prepared transaction.
	KindRollback Kind = "rollback"
	// KindOutcome answers a propose.
	KindOutcome Kind = "outcome"
	// KindAck acknowledges a commit or rollback.
	KindAck Kind = "ack"
	// KindNack rejects a commit or rollback the subordinate cannot honour.
	KindNack Kind = "nack"
)

// Message is the envelope carried by a channel. TxID correlates replies with requests.
type Message struct {
	Kind      Kind              `json:"kind"`
	TxID      string            `json:"tx_id"`
	Process   string            `json:"process,omitempty"`
	Operation *domain.Operation `json:"operation,omitempty"`
	Outcome   *domain.Outcome   `json:"outcome,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Propose builds a propose request.
func Propose(txID string, op domain.Operation) Message {
	cp := op.Clone()
	return Message{Kind: KindPropose, TxID: txID, Operation: &cp}
}

// Confirm builds the commit or rollback request matching a verdict.
func Confirm(txID string, v domain.Verdict) Message {
	if v == domain.VerdictCommit {
		return Message{Kind: KindCommit, TxID: txID}
	}
	return Message{Kind: KindRollback, TxID: txID}
}

// Reply builds an outcome reply.
func Reply(txID, process string, out domain.Outcome) Message {
	return Message{Kind: KindOutcome, TxID: txID, Process: process, Outcome: &out}
}

// Ack builds an acknowledgement.
func Ack(txID, process string) Message {
	return Message{Kind: KindAck, TxID: txID, Process: process}
}

// Nack builds a rejection carrying the reason.
func Nack(txID, process string, err error) Message {
	return Message{Kind: KindNack, TxID: txID, Process: process, Error: err.Error()}
}

// IsReply reports whether the message answers a request.
func (m Message) IsReply() bool {
	switch m.Kind {
	case KindOutcome, KindAck, KindNack:
		return true
	}
	return false
}

// Validate checks the fields required by the message kind.
func (m Message) Validate() error {
	if m.TxID == "" {
		return fmt.Errorf("%s message without tx_id", m.Kind)
	}
	switch m.Kind {
	case KindPropose:
		if m.Operation == nil {
			return fmt.Errorf("propose %s without operation", m.TxID)
		}
	case KindOutcome:
		if m.Outcome == nil {
			return fmt.Errorf("outcome %s without outcome", m.TxID)
		}
	case KindCommit, KindRollback, KindAck, KindNack:
	default:
		return fmt.Errorf("unknown message kind %q", m.Kind)
	}
	return nil
}
