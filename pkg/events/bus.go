// Package events implements the fire-and-forget listener fabric. Emission
// never blocks the caller: listeners run off the caller's stack, each with
// its own execution deadline, and listener failures are logged, never
// surfaced.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/warden-labs/warden/pkg/contracts"
)

// ListenerTimeout is the per-listener execution deadline. A listener that
// exceeds it is abandoned by the bus but not cancelled.
const ListenerTimeout = 100 * time.Millisecond

// Listener handles one event. A returned error is suppressed and logged
// at warn level.
type Listener func(evt contracts.Event) error

// TraceResolver supplies an ambient trace-id for events emitted without
// one. It is consulted exactly once per Emit call.
type TraceResolver func() string

// Subscription identifies one registered listener for removal.
type Subscription struct {
	eventType contracts.EventType
	id        uint64
}

type registration struct {
	id uint64
	fn Listener
}

// Bus maps event types to ordered listener lists and dispatches emissions
// without blocking the emitter.
type Bus struct {
	mu        sync.RWMutex
	listeners map[contracts.EventType][]registration
	nextID    uint64
	resolver  TraceResolver
	logger    *slog.Logger
	timeout   time.Duration
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		listeners: make(map[contracts.EventType][]registration),
		logger:    slog.Default().With("component", "events"),
		timeout:   ListenerTimeout,
	}
}

// WithTraceResolver installs the ambient trace-id resolver and returns
// the bus.
func (b *Bus) WithTraceResolver(r TraceResolver) *Bus {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resolver = r
	return b
}

// WithTimeout overrides the per-listener deadline, for tests.
func (b *Bus) WithTimeout(d time.Duration) *Bus {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timeout = d
	return b
}

// On registers a listener for one event type and returns its subscription.
func (b *Bus) On(eventType contracts.EventType, fn Listener) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.listeners[eventType] = append(b.listeners[eventType], registration{id: b.nextID, fn: fn})
	return Subscription{eventType: eventType, id: b.nextID}
}

// Off removes a subscription. Removing an absent subscription is a no-op.
func (b *Bus) Off(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	regs := b.listeners[sub.eventType]
	for i, reg := range regs {
		if reg.id == sub.id {
			b.listeners[sub.eventType] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// RemoveAll drops every listener for the given type, or every listener on
// the bus when no type is given.
func (b *Bus) RemoveAll(eventType ...contracts.EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(eventType) == 0 {
		b.listeners = make(map[contracts.EventType][]registration)
		return
	}
	for _, t := range eventType {
		delete(b.listeners, t)
	}
}

// ListenerCount reports the number of listeners for one type.
func (b *Bus) ListenerCount(eventType contracts.EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[eventType])
}

// Emit publishes an event built from type and data. It returns before any
// listener executes. An empty type or nil data is normalized, not
// rejected. The trace resolver, when installed, is consulted exactly once;
// a panicking resolver is treated as absent.
func (b *Bus) Emit(eventType contracts.EventType, data map[string]any) {
	if eventType == "" {
		return
	}
	if data == nil {
		data = map[string]any{}
	}

	evt := contracts.Event{
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Data:      data,
	}
	evt.TraceID = b.resolveTrace()
	b.EmitEvent(evt)
}

// EmitEvent publishes a fully-formed event. The resolver is not consulted.
func (b *Bus) EmitEvent(evt contracts.Event) {
	if evt.Type == "" {
		return
	}
	if evt.Data == nil {
		evt.Data = map[string]any{}
	}
	if evt.Timestamp == "" {
		evt.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	b.mu.RLock()
	snapshot := make([]registration, len(b.listeners[evt.Type]))
	copy(snapshot, b.listeners[evt.Type])
	timeout := b.timeout
	b.mu.RUnlock()

	if len(snapshot) == 0 {
		return
	}
	// The dispatch boundary: the caller's stack unwinds before any
	// listener runs.
	go b.dispatch(evt, snapshot, timeout)
}

func (b *Bus) dispatch(evt contracts.Event, snapshot []registration, timeout time.Duration) {
	for _, reg := range snapshot {
		done := make(chan error, 1)
		go func(fn Listener) {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Warn("listener panicked",
						"event", string(evt.Type), "panic", r)
					done <- nil
				}
			}()
			done <- fn(evt)
		}(reg.fn)

		select {
		case err := <-done:
			if err != nil {
				b.logger.Warn("listener failed",
					"event", string(evt.Type), "error", err)
			}
		case <-time.After(timeout):
			b.logger.Warn("listener exceeded deadline",
				"event", string(evt.Type), "deadline", timeout)
		}
	}
}

func (b *Bus) resolveTrace() (traceID string) {
	b.mu.RLock()
	resolver := b.resolver
	b.mu.RUnlock()
	if resolver == nil {
		return ""
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("trace resolver panicked", "panic", r)
			traceID = ""
		}
	}()
	return resolver()
}
