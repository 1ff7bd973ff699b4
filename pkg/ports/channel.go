package ports

import (
	"context"

	"github.com/aretw0/keel/pkg/protocol"
)

// Channel is an ordered, bidirectional message link to one peer.
// Send and Receive may be called from different goroutines, but each from one goroutine at a time.
// A lost connection is reported as an error wrapping domain.ErrDisconnected so callers can
// tell it apart from a slow peer.
type Channel interface {
	Send(ctx context.Context, msg protocol.Message) error
	Receive(ctx context.Context) (protocol.Message, error)
	Close() error
}
