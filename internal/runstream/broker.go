// Package runstream keeps a bounded, cursor-addressable event history per
// session so HTTP and websocket clients can resume a stream.
package runstream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Gurpartap/taskflow/agent"
)

const DefaultHistoryLimit = 64

var (
	ErrCursorInvalid = errors.New("stream cursor is invalid")
	ErrCursorExpired = errors.New("stream cursor expired")
)

// StreamEvent is one event with its per-session cursor position.
type StreamEvent struct {
	ID    int64       `json:"id"`
	Event agent.Event `json:"event"`
}

// Broker implements agent.EventSink. Wait lets readers block until an event
// past their cursor arrives.
type Broker struct {
	mu           sync.RWMutex
	historyLimit int
	runs         map[agent.RunID]*history
}

type history struct {
	nextID int64
	events []StreamEvent
	// changed is closed and replaced on every publish.
	changed chan struct{}
}

var _ agent.EventSink = (*Broker)(nil)

func New(historyLimit int) *Broker {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Broker{
		historyLimit: historyLimit,
		runs:         make(map[agent.RunID]*history),
	}
}

func (b *Broker) Publish(ctx context.Context, event agent.Event) error {
	if ctx == nil {
		return agent.ErrContextNil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := agent.ValidateEvent(event); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.historyLocked(event.RunID)
	h.events = append(h.events, StreamEvent{ID: h.nextID, Event: agent.CloneEvent(event)})
	h.nextID++
	if drop := len(h.events) - b.historyLimit; drop > 0 {
		h.events = h.events[drop:]
	}
	close(h.changed)
	h.changed = make(chan struct{})
	return nil
}

// EventsAfter returns buffered events with ID > cursor. Cursor 0 reads from
// the start of the retained history.
func (b *Broker) EventsAfter(runID agent.RunID, cursor int64) ([]StreamEvent, error) {
	events, _, err := b.snapshot(runID, cursor)
	return events, err
}

// Wait blocks until events past cursor exist or ctx ends.
func (b *Broker) Wait(ctx context.Context, runID agent.RunID, cursor int64) ([]StreamEvent, error) {
	for {
		events, changed, err := b.snapshot(runID, cursor)
		if err != nil || len(events) > 0 {
			return events, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-changed:
		}
	}
}

// Forget drops the history of a session.
func (b *Broker) Forget(runID agent.RunID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h, ok := b.runs[runID]; ok {
		close(h.changed)
		delete(b.runs, runID)
	}
}

func (b *Broker) snapshot(runID agent.RunID, cursor int64) ([]StreamEvent, <-chan struct{}, error) {
	if runID == "" {
		return nil, nil, fmt.Errorf("%w: session id is required", agent.ErrInvalidRunID)
	}
	if cursor < 0 {
		return nil, nil, fmt.Errorf("%w: cursor must be non-negative", ErrCursorInvalid)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	h, ok := b.runs[runID]
	if !ok {
		if cursor != 0 {
			return nil, nil, fmt.Errorf("%w: no events for session %q", ErrCursorInvalid, runID)
		}
		h = b.historyLocked(runID)
	}
	if cursor >= h.nextID {
		return nil, nil, fmt.Errorf("%w: cursor=%d is beyond latest id=%d", ErrCursorInvalid, cursor, h.nextID-1)
	}
	if len(h.events) > 0 {
		if oldest := h.events[0].ID - 1; cursor < oldest {
			return nil, nil, fmt.Errorf("%w: cursor=%d oldest_available=%d", ErrCursorExpired, cursor, oldest)
		}
	}

	start := 0
	for start < len(h.events) && h.events[start].ID <= cursor {
		start++
	}
	out := make([]StreamEvent, 0, len(h.events)-start)
	for _, event := range h.events[start:] {
		out = append(out, StreamEvent{ID: event.ID, Event: agent.CloneEvent(event.Event)})
	}
	return out, h.changed, nil
}

func (b *Broker) historyLocked(runID agent.RunID) *history {
	h, ok := b.runs[runID]
	if !ok {
		h = &history{nextID: 1, changed: make(chan struct{})}
		b.runs[runID] = h
	}
	return h
}
