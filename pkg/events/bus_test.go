package events

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/warden-labs/warden/pkg/contracts"
)

func waitFor(t *testing.T, ch <-chan contracts.Event) contracts.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for listener")
		return contracts.Event{}
	}
}

func TestEmit_DeliversToListener(t *testing.T) {
	bus := NewBus()
	got := make(chan contracts.Event, 1)
	bus.On(contracts.EventToolCallAllowed, func(evt contracts.Event) error {
		got <- evt
		return nil
	})

	bus.Emit(contracts.EventToolCallAllowed, map[string]any{"tool": "file_read"})

	evt := waitFor(t, got)
	if evt.Type != contracts.EventToolCallAllowed {
		t.Errorf("type = %s", evt.Type)
	}
	if evt.Data["tool"] != "file_read" {
		t.Errorf("data = %v", evt.Data)
	}
	if evt.Timestamp == "" {
		t.Error("timestamp must be set")
	}
}

func TestEmit_ReturnsBeforeListenerCompletes(t *testing.T) {
	bus := NewBus()
	release := make(chan struct{})
	done := make(chan struct{})

	bus.On(contracts.EventToolCallDenied, func(evt contracts.Event) error {
		<-release
		close(done)
		return nil
	})

	start := time.Now()
	bus.Emit(contracts.EventToolCallDenied, nil)
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("Emit blocked on the listener for %v", elapsed)
	}

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener never ran")
	}
}

func TestEmit_TypeIsolation(t *testing.T) {
	bus := NewBus()
	var wrong atomic.Int32
	got := make(chan contracts.Event, 1)

	bus.On(contracts.EventToolCallAllowed, func(evt contracts.Event) error {
		wrong.Add(1)
		return nil
	})
	bus.On(contracts.EventToolCallDenied, func(evt contracts.Event) error {
		got <- evt
		return nil
	})

	bus.Emit(contracts.EventToolCallDenied, nil)
	waitFor(t, got)
	if wrong.Load() != 0 {
		t.Error("listener of another type was invoked")
	}
}

func TestEmit_ThrowingListenerDoesNotBlockOthers(t *testing.T) {
	bus := NewBus()
	got := make(chan contracts.Event, 1)

	bus.On(contracts.EventToolCallAllowed, func(evt contracts.Event) error {
		panic("listener exploded")
	})
	bus.On(contracts.EventToolCallAllowed, func(evt contracts.Event) error {
		got <- evt
		return nil
	})

	bus.Emit(contracts.EventToolCallAllowed, nil)
	waitFor(t, got) // second listener still runs
}

func TestEmit_ErroringListenerSuppressed(t *testing.T) {
	bus := NewBus()
	got := make(chan contracts.Event, 1)

	bus.On(contracts.EventToolCallAllowed, func(evt contracts.Event) error {
		return errors.New("listener failure")
	})
	bus.On(contracts.EventToolCallAllowed, func(evt contracts.Event) error {
		got <- evt
		return nil
	})

	bus.Emit(contracts.EventToolCallAllowed, nil)
	waitFor(t, got)
}

func TestEmit_SlowListenerAbandonedNotCancelled(t *testing.T) {
	bus := NewBus().WithTimeout(20 * time.Millisecond)
	finished := make(chan struct{})
	after := make(chan contracts.Event, 1)

	bus.On(contracts.EventToolCallAllowed, func(evt contracts.Event) error {
		time.Sleep(100 * time.Millisecond)
		close(finished)
		return nil
	})
	bus.On(contracts.EventToolCallAllowed, func(evt contracts.Event) error {
		after <- evt
		return nil
	})

	start := time.Now()
	bus.Emit(contracts.EventToolCallAllowed, nil)
	waitFor(t, after)
	if time.Since(start) > 90*time.Millisecond {
		t.Error("bus waited for the slow listener instead of abandoning it")
	}

	select {
	case <-finished:
		// abandoned listener still ran to completion
	case <-time.After(2 * time.Second):
		t.Error("abandoned listener was cancelled")
	}
}

func TestEmit_Normalization(t *testing.T) {
	bus := NewBus()
	got := make(chan contracts.Event, 1)
	bus.On(contracts.EventToolCallAllowed, func(evt contracts.Event) error {
		got <- evt
		return nil
	})

	bus.Emit("", map[string]any{"ignored": true}) // silently dropped
	bus.Emit(contracts.EventToolCallAllowed, nil)

	evt := waitFor(t, got)
	if evt.Data == nil {
		t.Error("nil data must be normalized to an empty map")
	}
}

func TestEmit_TraceResolver(t *testing.T) {
	var calls atomic.Int32
	bus := NewBus().WithTraceResolver(func() string {
		calls.Add(1)
		return "4bf92f3577b34da6a3ce929d0e0e4736"
	})
	got := make(chan contracts.Event, 1)
	bus.On(contracts.EventToolCallAllowed, func(evt contracts.Event) error {
		got <- evt
		return nil
	})

	bus.Emit(contracts.EventToolCallAllowed, nil)
	evt := waitFor(t, got)
	if evt.TraceID != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("trace id %q", evt.TraceID)
	}
	if calls.Load() != 1 {
		t.Errorf("resolver consulted %d times, want exactly 1", calls.Load())
	}
}

func TestEmit_PanickingResolverTreatedAsAbsent(t *testing.T) {
	bus := NewBus().WithTraceResolver(func() string { panic("resolver broken") })
	got := make(chan contracts.Event, 1)
	bus.On(contracts.EventToolCallAllowed, func(evt contracts.Event) error {
		got <- evt
		return nil
	})

	bus.Emit(contracts.EventToolCallAllowed, nil)
	evt := waitFor(t, got)
	if evt.TraceID != "" {
		t.Errorf("trace id should be absent, got %q", evt.TraceID)
	}
}

func TestEmitEvent_DoesNotConsultResolver(t *testing.T) {
	var calls atomic.Int32
	bus := NewBus().WithTraceResolver(func() string {
		calls.Add(1)
		return "x"
	})
	got := make(chan contracts.Event, 1)
	bus.On(contracts.EventApprovalRequested, func(evt contracts.Event) error {
		got <- evt
		return nil
	})

	bus.EmitEvent(contracts.Event{
		Type:    contracts.EventApprovalRequested,
		TraceID: "4bf92f3577b34da6a3ce929d0e0e4736",
	})
	evt := waitFor(t, got)
	if evt.TraceID != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("trace id %q", evt.TraceID)
	}
	if calls.Load() != 0 {
		t.Error("EmitEvent must not consult the resolver")
	}
}

func TestOnOffRemoveAll(t *testing.T) {
	bus := NewBus()
	sub := bus.On(contracts.EventPolicyCreated, func(contracts.Event) error { return nil })
	bus.On(contracts.EventPolicyCreated, func(contracts.Event) error { return nil })
	if bus.ListenerCount(contracts.EventPolicyCreated) != 2 {
		t.Fatal("expected 2 listeners")
	}

	bus.Off(sub)
	if bus.ListenerCount(contracts.EventPolicyCreated) != 1 {
		t.Error("Off must remove exactly the subscription")
	}
	bus.Off(sub) // idempotent on absence

	bus.RemoveAll(contracts.EventPolicyCreated)
	if bus.ListenerCount(contracts.EventPolicyCreated) != 0 {
		t.Error("RemoveAll must clear the type")
	}
}
