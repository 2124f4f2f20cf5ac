package agent

import "context"

type noopEventSink struct{}

func (noopEventSink) Publish(context.Context, Event) error {
	return nil
}

// NoopEventSink discards every event.
func NoopEventSink() EventSink {
	return noopEventSink{}
}
