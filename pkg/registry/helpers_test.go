package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/morezero/module-registry/pkg/db"
	"github.com/morezero/module-registry/pkg/events"
)

const helpersTestPrefix = "registry:helpers_test"

// testClock is a controllable clock for staleness and heartbeat tests.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// eventSink captures published change events.
type eventSink struct {
	mu     sync.Mutex
	events []events.ModuleChangedEvent
}

func (s *eventSink) publisher() events.EventPublisher {
	return events.NewCallbackPublisher(func(_ context.Context, e *events.ModuleChangedEvent) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.events = append(s.events, *e)
		return nil
	})
}

func (s *eventSink) all() []events.ModuleChangedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]events.ModuleChangedEvent(nil), s.events...)
}

func (s *eventSink) lastStatusChange() *events.ModuleChangedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Change == events.ChangeStatus {
			e := s.events[i]
			return &e
		}
	}
	return nil
}

func newTestRegistry(t *testing.T) (*Registry, *db.MemStore, *testClock, *eventSink) {
	t.Helper()
	store := db.NewMemStore()
	clock := newTestClock()
	sink := &eventSink{}
	reg := NewRegistry(NewRegistryParams{
		Store:     store,
		Publisher: sink.publisher(),
		Config:    DefaultConfig(),
		Now:       clock.Now,
	})
	return reg, store, clock, sink
}

func mustRegister(t *testing.T, reg *Registry, input *RegisterInput) *ModuleMetadata {
	t.Helper()
	meta, err := reg.Register(context.Background(), input)
	if err != nil {
		t.Fatalf("%s - Register(%s) failed: %v", helpersTestPrefix, input.Name, err)
	}
	return meta
}

func storageInput(name string, deps ...string) *RegisterInput {
	return &RegisterInput{
		Name:         name,
		Version:      "1.0.0",
		ModuleType:   string(TypeStorage),
		Capabilities: []ModuleCapability{{Name: "write", Version: "1.0.0"}},
		Dependencies: deps,
	}
}

func regErrCode(t *testing.T, err error) string {
	t.Helper()
	if err == nil {
		t.Fatalf("%s - expected a RegistryError, got nil", helpersTestPrefix)
	}
	regErr, ok := err.(*RegistryError)
	if !ok {
		t.Fatalf("%s - expected a RegistryError, got %T: %v", helpersTestPrefix, err, err)
	}
	return regErr.Code
}
