// Package process launches managed servers by running allow-listed local commands.
// It plugs into the kernel as a process.Launcher, so start and stop operations on
// server-config resources run real scripts during the RUNTIME stage.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/aretw0/keel/internal/logging"
	"github.com/aretw0/keel/pkg/process"
)

// waitDelay bounds how long output pipes may outlive a killed command.
const waitDelay = 2 * time.Second

// ErrNotRegistered is returned for servers missing from the allow-list.
var ErrNotRegistered = errors.New("server not registered")

// Launcher runs the configured commands of each server.
// Only registered servers can be started; nothing from an operation reaches the command line.
type Launcher struct {
	process string
	servers map[string]ServerConfig
	baseDir string
	logger  *slog.Logger
}

// LauncherOption configures the launcher.
type LauncherOption func(*Launcher)

// WithServers populates the allow-list from a loaded config.
func WithServers(servers map[string]ServerConfig) LauncherOption {
	return func(l *Launcher) {
		for _, s := range servers {
			l.Register(s)
		}
	}
}

// WithBaseDir sets the working directory for executed commands.
func WithBaseDir(dir string) LauncherOption {
	return func(l *Launcher) {
		l.baseDir = dir
	}
}

// WithLogger configures a logger for the launcher.
func WithLogger(logger *slog.Logger) LauncherOption {
	return func(l *Launcher) {
		l.logger = logger
	}
}

// NewLauncher creates a launcher for the named kernel process.
func NewLauncher(processName string, opts ...LauncherOption) *Launcher {
	l := &Launcher{
		process: processName,
		servers: make(map[string]ServerConfig),
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Register adds a trusted server to the allow-list.
func (l *Launcher) Register(s ServerConfig) {
	l.servers[s.Name] = s
}

var _ process.Launcher = (*Launcher)(nil)

// Start runs the start command. A zero exit means the server is running.
func (l *Launcher) Start(ctx context.Context, name string) (process.ServerStatus, error) {
	s, ok := l.servers[name]
	if !ok {
		return process.ServerFailed, fmt.Errorf("%s: %w", name, ErrNotRegistered)
	}
	if err := l.run(ctx, s, s.Start, "start"); err != nil {
		return process.ServerFailed, err
	}
	return process.ServerRunning, nil
}

// Stop runs the stop command. Servers without one stop trivially.
func (l *Launcher) Stop(ctx context.Context, name string) error {
	s, ok := l.servers[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrNotRegistered)
	}
	if s.Stop.Command == "" {
		return nil
	}
	return l.run(ctx, s, s.Stop, "stop")
}

// run executes c with the server identity passed through the environment.
func (l *Launcher) run(ctx context.Context, s ServerConfig, c Command, action string) error {
	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	cmd.Dir = l.baseDir
	cmd.WaitDelay = waitDelay

	env := []string{
		"KEEL_PROCESS=" + l.process,
		"KEEL_SERVER=" + s.Name,
		"KEEL_ACTION=" + action,
	}
	for k, v := range s.Environment {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = append(cmd.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log := l.logger.With("server", s.Name, "action", action, "command", c.Command)
	log.DebugContext(ctx, "running server command")
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		log.WarnContext(ctx, "server command failed", "err", err, "stderr", strings.TrimSpace(stderr.String()))
		return fmt.Errorf("%s %s: %w: %s", action, s.Name, err, strings.TrimSpace(stderr.String()))
	}
	log.DebugContext(ctx, "server command finished", "stdout", strings.TrimSpace(stdout.String()))
	return nil
}
