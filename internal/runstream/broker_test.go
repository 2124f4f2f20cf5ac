package runstream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gurpartap/taskflow/agent"
)

func publish(t *testing.T, b *Broker, runID agent.RunID, step int) {
	t.Helper()
	err := b.Publish(context.Background(), agent.Event{RunID: runID, Step: step, Type: agent.EventTypeRunCheckpoint})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func TestBroker_EventsAfterCursor(t *testing.T) {
	t.Parallel()

	b := New(3)
	for step := 1; step <= 5; step++ {
		publish(t, b, "session-1", step)
	}
	publish(t, b, "session-2", 1)

	events, err := b.EventsAfter("session-1", 3)
	if err != nil {
		t.Fatalf("events after: %v", err)
	}
	if len(events) != 2 || events[0].ID != 4 || events[1].ID != 5 {
		t.Fatalf("unexpected events: %+v", events)
	}

	if _, err := b.EventsAfter("session-1", 1); !errors.Is(err, ErrCursorExpired) {
		t.Fatalf("expected ErrCursorExpired, got %v", err)
	}
	if _, err := b.EventsAfter("session-1", 9); !errors.Is(err, ErrCursorInvalid) {
		t.Fatalf("expected ErrCursorInvalid, got %v", err)
	}
	if _, err := b.EventsAfter("session-1", -1); !errors.Is(err, ErrCursorInvalid) {
		t.Fatalf("expected ErrCursorInvalid for negative cursor, got %v", err)
	}
	if _, err := b.EventsAfter("unknown", 2); !errors.Is(err, ErrCursorInvalid) {
		t.Fatalf("expected ErrCursorInvalid for unknown session, got %v", err)
	}

	other, err := b.EventsAfter("session-2", 0)
	if err != nil || len(other) != 1 {
		t.Fatalf("sessions should not share history: %+v %v", other, err)
	}
}

func TestBroker_RejectsInvalidEvent(t *testing.T) {
	t.Parallel()

	b := New(0)
	if err := b.Publish(context.Background(), agent.Event{Type: agent.EventTypeRunStarted}); !errors.Is(err, agent.ErrEventInvalid) {
		t.Fatalf("expected ErrEventInvalid, got %v", err)
	}
}

func TestBroker_WaitWakesOnPublish(t *testing.T) {
	t.Parallel()

	b := New(0)
	publish(t, b, "session-1", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan []StreamEvent, 1)
	go func() {
		events, err := b.Wait(ctx, "session-1", 1)
		if err != nil {
			done <- nil
			return
		}
		done <- events
	}()

	publish(t, b, "session-1", 2)

	events := <-done
	if len(events) != 1 || events[0].ID != 2 || events[0].Event.Step != 2 {
		t.Fatalf("unexpected waited events: %+v", events)
	}
}

func TestBroker_WaitHonoursContext(t *testing.T) {
	t.Parallel()

	b := New(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := b.Wait(ctx, "session-1", 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBroker_BlockedWaitersExit(t *testing.T) {
	t.Parallel()

	b := New(0)
	publish(t, b, "session-1", 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cancelled := make(chan error, 1)
	go func() {
		_, err := b.Wait(ctx, "session-1", 1)
		cancelled <- err
	}()
	forgotten := make(chan error, 1)
	go func() {
		_, err := b.Wait(context.Background(), "session-1", 1)
		forgotten <- err
	}()

	cancel()
	if err := <-cancelled; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// Forget may run before the second waiter subscribes; either way it
	// finds no history past cursor 1 and gives up.
	b.Forget("session-1")
	select {
	case err := <-forgotten:
		if !errors.Is(err, ErrCursorInvalid) {
			t.Fatalf("expected ErrCursorInvalid, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("waiter still blocked after Forget")
	}
}
