// Package testutil provides an isolated, in-memory environment for component tests:
// a miniredis-backed record store, an event bus with a recorder attached, a quiet
// logger and a controllable clock.
package testutil

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/agora/internal/events"
	"github.com/dyluth/agora/internal/logger"
	"github.com/dyluth/agora/pkg/coord"
	"github.com/dyluth/agora/pkg/records"
)

// Epoch is the instant every test Clock starts at.
var Epoch = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

// Env represents an isolated test environment
type Env struct {
	T      *testing.T
	Ctx    context.Context
	Redis  *miniredis.Miniredis
	Store  *records.Client
	Bus    *events.Bus
	Logger *slog.Logger
	Events *Recorder
	Clock  *Clock
}

// NewEnv creates a fresh environment. Everything is torn down with the test.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := records.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := logger.Discard()
	bus := events.New(log)
	rec := &Recorder{}
	bus.SubscribeAll(rec.Handle)

	return &Env{
		T:      t,
		Ctx:    context.Background(),
		Redis:  mr,
		Store:  store,
		Bus:    bus,
		Logger: log,
		Events: rec,
		Clock:  NewClock(Epoch),
	}
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Recorder captures every event published on a bus.
type Recorder struct {
	mu     sync.Mutex
	events []coord.Event
}

// Handle is an events.Handler.
func (r *Recorder) Handle(_ context.Context, evt coord.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

// All returns a copy of every recorded event in publish order.
func (r *Recorder) All() []coord.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]coord.Event(nil), r.events...)
}

// Names returns the names of every recorded event in publish order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.events))
	for i, e := range r.events {
		names[i] = e.Name
	}
	return names
}

// Named returns the recorded events with the given name.
func (r *Recorder) Named(name string) []coord.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []coord.Event
	for _, e := range r.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
