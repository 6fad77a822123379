package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bookwaves/libreader/internal/driver"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() ReaderConfig {
	return ReaderConfig{Name: "r1", Address: "10.0.0.5", Port: 4001, Mode: "host", Antennas: []int{1, 3}}
}

func TestReaderConfigAntennaMask(t *testing.T) {
	cfg := ReaderConfig{Antennas: []int{1, 3, 8}}
	assert.Equal(t, byte(0x01|0x04|0x80), cfg.AntennaMask())
}

func TestIsConnectionErrorMatchesNeedles(t *testing.T) {
	assert.True(t, IsConnectionError(fmt.Errorf("reader disconnected unexpectedly")))
	assert.True(t, IsConnectionError(fmt.Errorf("error code -5012")))
	assert.False(t, IsConnectionError(fmt.Errorf("no tag in field")))
	assert.False(t, IsConnectionError(nil))
}

func TestNewSessionStartsUninitialized(t *testing.T) {
	s := New(testConfig(), func() driver.Driver { return driver.NewMockDriver() }, testLogger(), 10)
	assert.Equal(t, StateUninitialized, s.state)
	assert.Equal(t, "r1", s.Config().Name)
}

func TestIsConnectedAndConnectionStatusReflectStateWithoutForcingConnect(t *testing.T) {
	s := New(testConfig(), func() driver.Driver { return driver.NewMockDriver() }, testLogger(), 10)
	assert.False(t, s.IsConnected())
	assert.Equal(t, "disconnected", s.ConnectionStatus())
	assert.Equal(t, 0, s.NotificationPort())

	assert.NoError(t, s.Execute(context.Background(), func(driver.Driver) error { return nil }))
	assert.True(t, s.IsConnected())
	assert.Equal(t, "connected", s.ConnectionStatus())

	assert.NoError(t, s.Close())
	assert.False(t, s.IsConnected())
	assert.Equal(t, "closed", s.ConnectionStatus())
}

func TestExecuteConnectsLazilyAndReusesDriver(t *testing.T) {
	s := New(testConfig(), func() driver.Driver { return driver.NewMockDriver() }, testLogger(), 10)

	var seen driver.Driver
	err := s.Execute(context.Background(), func(d driver.Driver) error {
		seen = d
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, seen.IsConnected())
	assert.Equal(t, StateConnected, s.state)

	err = s.Execute(context.Background(), func(d driver.Driver) error {
		assert.Same(t, seen, d)
		return nil
	})
	assert.NoError(t, err)
}

func TestExecutePropagatesNonConnectionErrorWithoutRetry(t *testing.T) {
	s := New(testConfig(), func() driver.Driver { return driver.NewMockDriver() }, testLogger(), 10)
	calls := 0

	err := s.Execute(context.Background(), func(d driver.Driver) error {
		calls++
		return errors.New("no tag in field")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateConnected, s.state, "logical errors must not mark the session broken")
}

func TestExecuteReconnectsOnceOnConnectionErrorThenSucceeds(t *testing.T) {
	s := New(testConfig(), func() driver.Driver { return driver.NewMockDriver() }, testLogger(), 10)
	calls := 0

	err := s.Execute(context.Background(), func(d driver.Driver) error {
		calls++
		if calls == 1 {
			return errors.New("connection lost")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, StateConnected, s.state)
}

func TestExecuteExhaustsReconnectLadder(t *testing.T) {
	s := New(testConfig(), func() driver.Driver { return driver.NewMockDriver() }, testLogger(), 10)
	calls := 0

	err := s.Execute(context.Background(), func(d driver.Driver) error {
		calls++
		return errors.New("connection lost")
	})
	assert.Error(t, err)
	assert.Equal(t, maxReconnectAttempts, calls)
}

func TestExecuteReturnsClosedAfterClose(t *testing.T) {
	s := New(testConfig(), func() driver.Driver { return driver.NewMockDriver() }, testLogger(), 10)
	assert.NoError(t, s.Close())

	err := s.Execute(context.Background(), func(d driver.Driver) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseIsIdempotent(t *testing.T) {
	s := New(testConfig(), func() driver.Driver { return driver.NewMockDriver() }, testLogger(), 10)
	assert.NoError(t, s.Execute(context.Background(), func(d driver.Driver) error { return nil }))
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

func TestForceReconnectReplacesUnderlyingDriver(t *testing.T) {
	s := New(testConfig(), func() driver.Driver { return driver.NewMockDriver() }, testLogger(), 10)
	assert.NoError(t, s.Execute(context.Background(), func(d driver.Driver) error { return nil }))

	first := s.drv
	assert.NoError(t, s.ForceReconnect(context.Background()))
	assert.NotSame(t, first, s.drv)
	assert.False(t, first.IsConnected(), "old driver must be disconnected on replacement")
}

func TestOnNotificationPushesEveryDriverEventUnfiltered(t *testing.T) {
	md := driver.NewMockDriver()
	s := New(testConfig(), func() driver.Driver { return md }, testLogger(), 10)
	ctx := context.Background()

	started, err := s.StartNotification(ctx, 20001)
	assert.NoError(t, err)
	assert.True(t, started)

	md.EmitTagEvent("E2801160")
	md.EmitTagEvent("E2801160")
	md.EmitTagEvent("E2801161")

	assert.Equal(t, 3, s.Queue().Count(), "every driver-reported sighting is pushed, repeats included")
}

func TestStartStopNotificationIdempotency(t *testing.T) {
	s := New(testConfig(), func() driver.Driver { return driver.NewMockDriver() }, testLogger(), 10)
	ctx := context.Background()

	started, err := s.StartNotification(ctx, 20001)
	assert.NoError(t, err)
	assert.True(t, started)
	assert.True(t, s.IsNotificationActive())

	startedAgain, err := s.StartNotification(ctx, 20001)
	assert.NoError(t, err)
	assert.False(t, startedAgain, "starting twice is a no-op, not an error")

	assert.NoError(t, s.StopNotification(ctx))
	assert.False(t, s.IsNotificationActive())
	assert.NoError(t, s.StopNotification(ctx), "stopping twice is a no-op")
}

// failingConnectDriver always fails Connect, used to exercise the
// terminal reconnect-failure path distinct from a mid-operation fault.
type failingConnectDriver struct{ driver.Driver }

func (failingConnectDriver) Connect(addr string, port int, timeout time.Duration) error {
	return errors.New("connection refused")
}
func (failingConnectDriver) Disconnect() error       { return nil }
func (failingConnectDriver) Close() error            { return nil }
func (failingConnectDriver) IsConnected() bool       { return false }
func (failingConnectDriver) LastErrorText() string   { return "" }

func TestEnsureConnectedSurfacesConnectFailure(t *testing.T) {
	s := New(testConfig(), func() driver.Driver { return failingConnectDriver{} }, testLogger(), 10)

	err := s.Execute(context.Background(), func(d driver.Driver) error { return nil })
	assert.Error(t, err)
	assert.Equal(t, StateBroken, s.state)
}
