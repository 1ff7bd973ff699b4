// Package channel provides an in-process implementation of ports.Channel with fault injection.
// It backs single-binary fleets and the tests of every component that talks to subordinates.
package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aretw0/keel/pkg/domain"
	"github.com/aretw0/keel/pkg/protocol"
)

const bufferSize = 64

// link is the state shared by both ends of a pipe.
type link struct {
	done chan struct{}
	once sync.Once
}

func (l *link) cut() {
	l.once.Do(func() { close(l.done) })
}

// Conn is one end of a pipe.
type Conn struct {
	name  string
	inbox chan protocol.Message
	peer  *Conn
	link  *link

	mu    sync.Mutex
	drop  map[protocol.Kind]int
	delay time.Duration
	sent  []protocol.Message
}

// Pipe returns two connected ends.
func Pipe(nameA, nameB string) (*Conn, *Conn) {
	l := &link{done: make(chan struct{})}
	a := &Conn{name: nameA, inbox: make(chan protocol.Message, bufferSize), link: l, drop: map[protocol.Kind]int{}}
	b := &Conn{name: nameB, inbox: make(chan protocol.Message, bufferSize), link: l, drop: map[protocol.Kind]int{}}
	a.peer, b.peer = b, a
	return a, b
}

// Name returns the name given to this end.
func (c *Conn) Name() string {
	return c.name
}

// Send delivers msg to the peer's inbox.
func (c *Conn) Send(ctx context.Context, msg protocol.Message) error {
	if c.disconnected() {
		return c.errDisconnected()
	}

	c.mu.Lock()
	if c.drop[msg.Kind] > 0 {
		c.drop[msg.Kind]--
		c.mu.Unlock()
		return nil
	}
	delay := c.delay
	c.sent = append(c.sent, msg)
	c.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-c.link.done:
			return c.errDisconnected()
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case c.peer.inbox <- msg:
		return nil
	case <-c.link.done:
		return c.errDisconnected()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive waits for the next message from the peer. Messages already delivered are still
// returned after a disconnect.
func (c *Conn) Receive(ctx context.Context) (protocol.Message, error) {
	select {
	case msg := <-c.inbox:
		return msg, nil
	default:
	}
	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-c.link.done:
		return protocol.Message{}, c.errDisconnected()
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	}
}

// Close breaks the link for both ends.
func (c *Conn) Close() error {
	c.link.cut()
	return nil
}

// Disconnect simulates a lost connection.
func (c *Conn) Disconnect() {
	c.link.cut()
}

// DropNext silently discards the next n outbound messages of the given kind.
func (c *Conn) DropNext(kind protocol.Kind, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drop[kind] += n
}

// SetDelay delays every outbound message by d.
func (c *Conn) SetDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = d
}

// Sent returns the messages this end sent, dropped ones excluded.
func (c *Conn) Sent() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Message(nil), c.sent...)
}

func (c *Conn) disconnected() bool {
	select {
	case <-c.link.done:
		return true
	default:
		return false
	}
}

func (c *Conn) errDisconnected() error {
	return fmt.Errorf("pipe %s: %w", c.name, domain.ErrDisconnected)
}
