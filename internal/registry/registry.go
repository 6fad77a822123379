// Package registry implements the reader registry: a name-keyed map of
// managed sessions, a monotonically increasing listener-port allocator
// seeded at 20001, and shutdown fan-out (component K).
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bookwaves/libreader/internal/driver"
	"github.com/bookwaves/libreader/internal/session"
)

const firstListenerPort = 20001

// Registry owns every configured reader's ManagedSession.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session.ManagedSession
	nextPort int
	log      *slog.Logger
}

func New(log *slog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*session.ManagedSession),
		nextPort: firstListenerPort,
		log:      log,
	}
}

// Register creates and stores a session for cfg. It is an error to
// register the same reader name twice.
func (r *Registry) Register(cfg session.ReaderConfig, newDriver driver.Factory, queueCapacity int) (*session.ManagedSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[cfg.Name]; exists {
		return nil, fmt.Errorf("reader %q already registered", cfg.Name)
	}
	s := session.New(cfg, newDriver, r.log, queueCapacity)
	r.sessions[cfg.Name] = s
	return s, nil
}

// Get resolves a reader name to its session.
func (r *Registry) Get(name string) (*session.ManagedSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[name]
	return s, ok
}

// Names returns every registered reader name, in no particular order
// (spec §3.1, "insertion order irrelevant").
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		out = append(out, name)
	}
	return out
}

// NextListenerPort returns the next port in the monotonically increasing,
// never-reused sequence used for notification-mode TCP listeners.
func (r *Registry) NextListenerPort() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.nextPort
	r.nextPort++
	return p
}

// CloseAll closes every session concurrently, logging each session that
// fails to close, and returns the first error encountered, if any (spec §2
// component K, "shutdown fan-out"). It stops waiting when ctx is done and
// then returns ctx.Err().
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.RLock()
	sessions := make([]*session.ManagedSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	g, _ := errgroup.WithContext(ctx)
	for _, s := range sessions {
		s := s
		g.Go(func() error {
			err := s.Close()
			if err != nil {
				r.log.Warn("session failed to close cleanly", "reader", s.Config().Name, "error", err)
			}
			return err
		})
	}
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
