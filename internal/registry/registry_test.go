package registry

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bookwaves/libreader/internal/driver"
	"github.com/bookwaves/libreader/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newDriverFactory() driver.Factory {
	return func() driver.Driver { return driver.NewMockDriver() }
}

func TestRegisterAndGet(t *testing.T) {
	r := New(testLogger())
	cfg := session.ReaderConfig{Name: "desk-1", Address: "10.0.0.5", Port: 4001, Mode: "host"}

	s, err := r.Register(cfg, newDriverFactory(), 10)
	assert.NoError(t, err)
	assert.NotNil(t, s)

	got, ok := r.Get("desk-1")
	assert.True(t, ok)
	assert.Same(t, s, got)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	r := New(testLogger())
	cfg := session.ReaderConfig{Name: "desk-1", Address: "10.0.0.5", Port: 4001}

	_, err := r.Register(cfg, newDriverFactory(), 10)
	assert.NoError(t, err)

	_, err = r.Register(cfg, newDriverFactory(), 10)
	assert.Error(t, err)
}

func TestNextListenerPortMonotonicallyIncreasesAndNeverRepeats(t *testing.T) {
	r := New(testLogger())
	seen := map[int]bool{}
	prev := 0
	for i := 0; i < 5; i++ {
		p := r.NextListenerPort()
		assert.False(t, seen[p], "port %d reused", p)
		assert.Greater(t, p, prev)
		seen[p] = true
		prev = p
	}
	assert.Equal(t, firstListenerPort, prev-4)
}

func TestNamesListsEveryRegisteredReader(t *testing.T) {
	r := New(testLogger())
	_, _ = r.Register(session.ReaderConfig{Name: "a", Address: "x", Port: 1}, newDriverFactory(), 10)
	_, _ = r.Register(session.ReaderConfig{Name: "b", Address: "x", Port: 2}, newDriverFactory(), 10)

	names := r.Names()
	assert.ElementsMatch(t, []string{"a", "b"}, names)
}

func TestCloseAllClosesEverySession(t *testing.T) {
	r := New(testLogger())
	s1, _ := r.Register(session.ReaderConfig{Name: "a", Address: "x", Port: 1}, newDriverFactory(), 10)
	s2, _ := r.Register(session.ReaderConfig{Name: "b", Address: "x", Port: 2}, newDriverFactory(), 10)

	assert.NoError(t, s1.Execute(context.Background(), func(d driver.Driver) error { return nil }))
	assert.NoError(t, s2.Execute(context.Background(), func(d driver.Driver) error { return nil }))

	assert.NoError(t, r.CloseAll(context.Background()))

	err := s1.Execute(context.Background(), func(d driver.Driver) error { return nil })
	assert.ErrorIs(t, err, session.ErrClosed)
}
