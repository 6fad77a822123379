// Package session implements the per-reader connection lifecycle: lazy
// connect, a reconnect ladder that distinguishes transient connection
// faults from logical ones, fair per-reader serialization, and the
// asynchronous notification listener (component H).
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/bookwaves/libreader/internal/driver"
)

// State is the connection state machine of spec §4.4.
type State int

const (
	StateUninitialized State = iota
	StateConnected
	StateBroken
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnected:
		return "connected"
	case StateBroken:
		return "broken"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	maxReconnectAttempts = 3
	connectTimeout       = 5 * time.Second
)

// ReaderConfig is the static description of one reader, as loaded from
// configuration.
type ReaderConfig struct {
	Name     string
	Address  string
	Port     int
	Mode     string // "host" or "notification"
	Antennas []int
	Region   string // regulatory preset code, e.g. "US", "EU" (internal/regions)
}

// AntennaMask computes the bitwise-OR of 1<<(n-1) for each configured
// antenna.
func (c ReaderConfig) AntennaMask() byte {
	var mask byte
	for _, n := range c.Antennas {
		if n >= 1 && n <= 8 {
			mask |= 1 << (n - 1)
		}
	}
	return mask
}

// connectionErrorNeedles is the case-insensitive substring predicate that
// distinguishes a transient connection fault from a logical one (spec
// §4.4, "Connection-error predicate").
var connectionErrorNeedles = []string{
	"disconnected", "connection lost", "connection timeout",
	"transmit failed", "peer", "-5012", "-5011", "-5010", "-1520",
}

// IsConnectionError reports whether an error's text matches the
// connection-fault predicate.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	for _, needle := range connectionErrorNeedles {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}

// ErrOperationInterrupted is returned when a caller's context is cancelled
// while the session is sleeping in a retry ladder.
var ErrOperationInterrupted = fmt.Errorf("operation interrupted")

// ErrClosed is returned by any call against a session past Close.
var ErrClosed = fmt.Errorf("session closed")

// ManagedSession owns one reader's live connection, its fair
// single-occupancy lock, and its notification listener state.
type ManagedSession struct {
	cfg          ReaderConfig
	newDriver    driver.Factory
	log          *slog.Logger
	notifyQueue  *Queue

	sem *semaphore.Weighted // weight 1: acquire serializes, FIFO-fair

	mu    sync.Mutex // guards everything below; held only briefly, never across a driver call
	state State
	drv   driver.Driver

	notifyActive bool
	notifyPort   int
}

// New constructs a session in the Uninitialized state. The driver is not
// connected until the first Execute call.
func New(cfg ReaderConfig, newDriver driver.Factory, log *slog.Logger, queueCapacity int) *ManagedSession {
	return &ManagedSession{
		cfg:         cfg,
		newDriver:   newDriver,
		log:         log.With("reader", cfg.Name),
		notifyQueue: NewQueue(queueCapacity),
		sem:         semaphore.NewWeighted(1),
		state:       StateUninitialized,
	}
}

func (s *ManagedSession) Config() ReaderConfig { return s.cfg }

// LogWarn emits a warning through the session's logger, for use by
// protocol routines that continue past a non-fatal driver error (e.g. an
// unlock-before-edit that fails because the tag was never locked).
func (s *ManagedSession) LogWarn(msg string, args ...any) {
	s.log.Warn(msg, args...)
}

func (s *ManagedSession) Queue() *Queue { return s.notifyQueue }

// Execute serializes callers through the session's fair lock, ensures a
// connected driver, and invokes fn with it. On a classified connection
// error from fn, Execute tears down and retries per the reconnect ladder
// before surfacing a terminal error.
func (s *ManagedSession) Execute(ctx context.Context, fn func(driver.Driver) error) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return ErrOperationInterrupted
	}
	defer s.sem.Release(1)

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()

	if err := s.ensureConnectedLocked(ctx); err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		s.mu.Lock()
		drv := s.drv
		s.mu.Unlock()

		err := fn(drv)
		if err == nil {
			return nil
		}
		connErr := IsConnectionError(err)
		s.log.Debug("driver error classified", "error", err, "connection_error", connErr)
		if !connErr {
			return err
		}

		s.markBroken(err)

		if attempt >= maxReconnectAttempts {
			return fmt.Errorf("operation failed after %d reconnect attempts: %w", attempt, err)
		}

		backoff := time.Duration(attempt) * time.Second
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ErrOperationInterrupted
		}

		if rerr := s.forceReconnectLocked(ctx); rerr != nil {
			return fmt.Errorf("operation failed: reconnect attempt %d: %w", attempt, rerr)
		}
	}
}

func (s *ManagedSession) markBroken(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateConnected {
		s.state = StateBroken
		s.log.Warn("session marked broken by connection error", "error", cause)
	}
}

// ensureConnectedLocked brings an Uninitialized or Broken session to
// Connected, constructing a driver if necessary. It does not itself hold
// s.mu across the blocking connect call.
func (s *ManagedSession) ensureConnectedLocked(ctx context.Context) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	switch state {
	case StateConnected:
		return nil
	case StateClosed:
		return ErrClosed
	default:
		return s.forceReconnectLocked(ctx)
	}
}

// ForceReconnect tears down any existing driver handle and establishes a
// fresh one. Exported for explicit operator-triggered reconnects as well
// as internal retry use.
func (s *ManagedSession) ForceReconnect(ctx context.Context) error {
	return s.forceReconnectLocked(ctx)
}

func (s *ManagedSession) forceReconnectLocked(ctx context.Context) error {
	s.mu.Lock()
	old := s.drv
	s.drv = nil
	s.mu.Unlock()

	if old != nil {
		_ = old.Disconnect()
		_ = old.Close()
	}

	fresh := s.newDriver()
	if err := fresh.Connect(s.cfg.Address, s.cfg.Port, connectTimeout); err != nil {
		s.mu.Lock()
		s.state = StateBroken
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.drv = fresh
	s.state = StateConnected
	s.mu.Unlock()
	s.log.Info("reader connected", "address", s.cfg.Address, "port", s.cfg.Port)
	return nil
}

// IsNotificationActive reports whether the listener/notification pair is
// currently bound.
func (s *ManagedSession) IsNotificationActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifyActive
}

// NotificationPort reports the currently bound listener port, or 0 if
// notification mode is inactive.
func (s *ManagedSession) NotificationPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifyPort
}

// IsConnected reports the session's current connection state without
// forcing a connection attempt, matching the Java original's
// ReaderModule.isConnected() peek used by GET /readers.
func (s *ManagedSession) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateConnected
}

// ConnectionStatus renders the session's state machine value as the text
// GET /readers surfaces under connectionStatus.
func (s *ManagedSession) ConnectionStatus() string {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	switch state {
	case StateConnected:
		return "connected"
	case StateBroken:
		return "broken"
	case StateClosed:
		return "closed"
	default:
		return "disconnected"
	}
}

// StartNotification is idempotent-fail: it returns false without error if
// a listener is already active. Failure at any step unwinds prior steps
// (spec §4.4, "Notification mode").
func (s *ManagedSession) StartNotification(ctx context.Context, port int) (bool, error) {
	s.mu.Lock()
	if s.notifyActive {
		s.mu.Unlock()
		return false, nil
	}
	s.mu.Unlock()

	var startErr error
	err := s.Execute(ctx, func(drv driver.Driver) error {
		if err := drv.StartNotification(s.onNotification); err != nil {
			startErr = err
			return err
		}
		if err := drv.StartListener(port, "0.0.0.0", true); err != nil {
			_ = drv.StopNotification()
			startErr = err
			return err
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("start notification: %w", err)
	}
	if startErr != nil {
		return false, startErr
	}

	s.mu.Lock()
	s.notifyActive = true
	s.notifyPort = port
	s.mu.Unlock()
	return true, nil
}

// StopNotification reverses StartNotification, tolerating a failed
// driver-side stop with a warning rather than surfacing it.
func (s *ManagedSession) StopNotification(ctx context.Context) error {
	s.mu.Lock()
	if !s.notifyActive {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	err := s.Execute(ctx, func(drv driver.Driver) error {
		if err := drv.StopListener(); err != nil {
			s.log.Warn("stop listener returned error", "error", err)
		}
		if err := drv.StopNotification(); err != nil {
			s.log.Warn("stop notification returned error", "error", err)
		}
		return nil
	})

	s.mu.Lock()
	s.notifyActive = false
	s.notifyPort = 0
	s.mu.Unlock()
	return err
}

// onNotification pushes every driver-reported event onto the queue
// unfiltered; the queue's own bounded-discard policy (spec §4.6) is the
// only backpressure, not a sighting debounce.
func (s *ManagedSession) onNotification(kind driver.EventType, tag *driver.TagEvent, ident *driver.IdentificationEvent) {
	evt := NotificationEvent{KindName: kind.String(), Timestamp: time.Now()}
	if tag != nil {
		evt.IDHex = tag.IDHex
		for _, r := range tag.RSSI {
			evt.RSSI = append(evt.RSSI, AntennaRSSI{Antenna: r.Antenna, RSSI: r.RSSI})
		}
		if tag.HasReaderTime {
			evt.ReaderTime = &tag.ReaderDateTime
		}
	}
	if ident != nil {
		evt.ReaderType = ident.ReaderType
		evt.FirmwareVersion = ident.FirmwareVersion
	}
	s.notifyQueue.Push(evt, s.log)
}

// Close tears the session down permanently. It is safe to call more than
// once.
func (s *ManagedSession) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	drv := s.drv
	s.drv = nil
	wasNotifying := s.notifyActive
	s.notifyActive = false
	s.state = StateClosed
	s.mu.Unlock()

	if drv == nil {
		return nil
	}
	if wasNotifying {
		_ = drv.StopListener()
		_ = drv.StopNotification()
	}
	if err := drv.Disconnect(); err != nil {
		s.log.Warn("disconnect on close returned error", "error", err)
	}
	return drv.Close()
}
