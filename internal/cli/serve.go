package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aretw0/keel/internal/config"
	keelhttp "github.com/aretw0/keel/pkg/adapters/http"
	"github.com/aretw0/keel/pkg/adapters/websocket"
	"github.com/aretw0/keel/pkg/persistence/middleware"
	"github.com/aretw0/keel/pkg/subordinate"
)

const shutdownTimeout = 5 * time.Second

// Handler builds the management API for rt. Subordinates also accept their controller at
// /channel.
func (rt *Runtime) Handler() (http.Handler, error) {
	patterns := rt.Config.Redaction
	if len(patterns) == 0 {
		patterns = middleware.DefaultSensitivePatterns
	}
	opts := []keelhttp.Option{
		keelhttp.WithLogger(rt.Logger),
		keelhttp.WithMetrics(rt.Registry),
		keelhttp.WithRedaction(patterns),
	}
	if rt.Config.Role == config.RoleSubordinate {
		opts = append(opts, keelhttp.WithChannel(rt.ChannelHandler()))
	}
	srv, err := keelhttp.NewServer(rt.Fleet, opts...)
	if err != nil {
		return nil, err
	}
	return srv.Handler(), nil
}

// ChannelHandler serves controllers connecting over websocket.
func (rt *Runtime) ChannelHandler() http.Handler {
	return websocket.Handler(func(ctx context.Context, c *websocket.Conn) {
		rt.Logger.InfoContext(ctx, "controller connected")
		ep := subordinate.New(rt.Local, c, subordinate.WithLogger(rt.Logger))
		if err := ep.Serve(ctx); err != nil {
			rt.Logger.InfoContext(ctx, "controller disconnected", "err", err)
		}
	}, websocket.WithLogger(rt.Logger), websocket.WithPingInterval(rt.Config.Timeouts.Ping))
}

// ListenAndServe serves h on addr until ctx is done, then shuts down gracefully.
func (rt *Runtime) ListenAndServe(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h}

	serverErrors := make(chan error, 1)
	go func() {
		rt.Logger.Info("listening", "address", addr, "process", rt.Config.Name)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			rt.Logger.Warn("graceful shutdown did not complete", "timeout", shutdownTimeout, "err", err)
			return srv.Close()
		}
		if err := <-serverErrors; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
