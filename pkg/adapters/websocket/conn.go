// Package websocket carries protocol messages between a controller and its subordinates over
// gorilla/websocket. Subordinates expose Handler; controllers Dial it.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aretw0/keel/internal/logging"
	"github.com/aretw0/keel/pkg/domain"
	"github.com/aretw0/keel/pkg/protocol"
	"github.com/gorilla/websocket"
)

const (
	defaultPingInterval = 10 * time.Second
	inboxSize           = 64
)

// Conn is a ports.Channel over one websocket connection.
type Conn struct {
	ws     *websocket.Conn
	logger *slog.Logger
	ping   time.Duration

	// gorilla allows one concurrent writer.
	writeMu sync.Mutex

	inbox chan protocol.Message
	done  chan struct{}
	once  sync.Once
	err   error
}

// Option configures a Conn.
type Option func(*Conn)

// WithLogger configures a logger for the connection.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Conn) {
		c.logger = logger
	}
}

// WithPingInterval sets how often the peer is pinged. A peer silent for two intervals is
// considered gone.
func WithPingInterval(d time.Duration) Option {
	return func(c *Conn) {
		c.ping = d
	}
}

func newConn(ws *websocket.Conn, opts ...Option) *Conn {
	c := &Conn{
		ws:     ws,
		logger: logging.NewNop(),
		ping:   defaultPingInterval,
		inbox:  make(chan protocol.Message, inboxSize),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("remote", ws.RemoteAddr().String())

	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(2 * c.ping))
	})
	go c.readLoop()
	go c.pingLoop()
	return c
}

// Dial connects to a subordinate's channel endpoint, e.g. ws://host:port/channel.
func Dial(ctx context.Context, url string, opts ...Option) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return newConn(ws, opts...), nil
}

// Handler upgrades requests and passes each connection to serve. The connection is closed when
// serve returns.
func Handler(serve func(context.Context, *Conn), opts ...Option) http.Handler {
	upgrader := websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already replied with an HTTP error.
			return
		}
		c := newConn(ws, opts...)
		defer c.Close()
		serve(r.Context(), c)
	})
}

// Send writes msg as one JSON text frame.
func (c *Conn) Send(ctx context.Context, msg protocol.Message) error {
	buf, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", msg.Kind, err)
	}
	select {
	case <-c.done:
		return c.closedErr()
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, buf); err != nil {
		c.shutdown(err)
		return fmt.Errorf("%w: %w", domain.ErrDisconnected, err)
	}
	return nil
}

// Receive returns the next message. Messages read before the connection dropped are still
// delivered.
func (c *Conn) Receive(ctx context.Context) (protocol.Message, error) {
	select {
	case msg := <-c.inbox:
		return msg, nil
	default:
	}
	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-c.done:
		return protocol.Message{}, c.closedErr()
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	}
}

// Close sends a close frame and releases the connection.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.shutdown(domain.ErrClosed)
	return nil
}

// Done is closed once the connection is gone.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) readLoop() {
	_ = c.ws.SetReadDeadline(time.Now().Add(2 * c.ping))
	for {
		typ, buf, err := c.ws.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}
		if typ != websocket.TextMessage {
			c.logger.Warn("unexpected websocket frame", "type", typ)
			continue
		}

		var msg protocol.Message
		if err := json.Unmarshal(buf, &msg); err != nil {
			c.logger.Warn("undecodable message", "err", err)
			continue
		}
		select {
		case c.inbox <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) pingLoop() {
	t := time.NewTicker(c.ping)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.ping)); err != nil {
				c.shutdown(err)
				return
			}
		}
	}
}

func (c *Conn) shutdown(err error) {
	c.once.Do(func() {
		if !errors.Is(err, domain.ErrClosed) && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			c.logger.Info("websocket connection lost", "err", err)
		}
		c.err = err
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *Conn) closedErr() error {
	return fmt.Errorf("%w: %w", domain.ErrDisconnected, c.err)
}
