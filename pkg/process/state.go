// Package process models the live running state of one kernel process: the state that RUNTIME
// stage steps act upon, as opposed to the configuration model held in the resource tree.
package process

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ServerStatus is the live status of a managed server.
type ServerStatus string

const (
	ServerStopped ServerStatus = "stopped"
	ServerRunning ServerStatus = "running"
	ServerFailed  ServerStatus = "failed"
)

// Launcher starts and stops managed servers. Process launch itself is an external concern;
// the default launcher only flips the recorded status.
type Launcher interface {
	Start(ctx context.Context, name string) (ServerStatus, error)
	Stop(ctx context.Context, name string) error
}

type noopLauncher struct{}

func (noopLauncher) Start(context.Context, string) (ServerStatus, error) { return ServerRunning, nil }
func (noopLauncher) Stop(context.Context, string) error                  { return nil }

// State is the live state of one process. Safe for concurrent use.
type State struct {
	name     string
	launcher Launcher

	mu         sync.RWMutex
	properties map[string]string
	servers    map[string]ServerStatus
}

// Option configures a State.
type Option func(*State)

// WithLauncher plugs the collaborator that actually starts servers.
func WithLauncher(l Launcher) Option {
	return func(s *State) {
		s.launcher = l
	}
}

// New creates the live state for the named process.
func New(name string, opts ...Option) *State {
	s := &State{
		name:       name,
		launcher:   noopLauncher{},
		properties: make(map[string]string),
		servers:    make(map[string]ServerStatus),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the process name.
func (s *State) Name() string {
	return s.name
}

// SetProperty sets a live property and returns the previous value.
func (s *State) SetProperty(name, value string) (old string, existed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, existed = s.properties[name]
	s.properties[name] = value
	return old, existed
}

// UnsetProperty removes a live property and returns the previous value.
func (s *State) UnsetProperty(name string) (old string, existed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, existed = s.properties[name]
	delete(s.properties, name)
	return old, existed
}

// RestoreProperty puts back a value captured by SetProperty or UnsetProperty.
func (s *State) RestoreProperty(name, old string, existed bool) {
	if existed {
		s.SetProperty(name, old)
		return
	}
	s.UnsetProperty(name)
}

// Property reads a live property.
func (s *State) Property(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.properties[name]
	return v, ok
}

// Properties returns a copy of all live properties.
func (s *State) Properties() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.properties))
	for k, v := range s.properties {
		out[k] = v
	}
	return out
}

// StartServer starts a server through the launcher and records its status.
func (s *State) StartServer(ctx context.Context, name string) error {
	status, err := s.launcher.Start(ctx, name)
	if err != nil {
		s.setStatus(name, ServerFailed)
		return fmt.Errorf("start server %s: %w", name, err)
	}
	s.setStatus(name, status)
	return nil
}

// StopServer stops a server through the launcher.
func (s *State) StopServer(ctx context.Context, name string) error {
	if err := s.launcher.Stop(ctx, name); err != nil {
		return fmt.Errorf("stop server %s: %w", name, err)
	}
	s.setStatus(name, ServerStopped)
	return nil
}

// ServerStatus returns the recorded status; unknown servers are stopped.
func (s *State) ServerStatus(name string) ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.servers[name]; ok {
		return st
	}
	return ServerStopped
}

// Servers lists the names of servers with a recorded status, sorted.
func (s *State) Servers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.servers))
	for n := range s.servers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s *State) setStatus(name string, st ServerStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers[name] = st
}
