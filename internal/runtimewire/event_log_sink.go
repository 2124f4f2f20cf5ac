package runtimewire

import (
	"context"
	"log/slog"

	"github.com/Gurpartap/taskflow/agent"
)

type runtimeEventLogSink struct {
	logger *slog.Logger
}

func newRuntimeEventLogSink(logger *slog.Logger) agent.EventSink {
	if logger == nil {
		return nil
	}
	return runtimeEventLogSink{logger: logger}
}

// Publish logs lifecycle events at info and the rest at debug.
func (s runtimeEventLogSink) Publish(ctx context.Context, event agent.Event) error {
	if ctx == nil {
		return agent.ErrContextNil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	attrs := []slog.Attr{
		slog.String("session_id", string(event.RunID)),
		slog.Int("step", event.Step),
		slog.String("type", string(event.Type)),
	}
	if event.Stage != "" {
		attrs = append(attrs, slog.String("stage", event.Stage))
	}
	if event.Loop != "" {
		attrs = append(attrs, slog.String("loop", event.Loop), slog.String("loop_status", event.LoopStatus))
	}
	if event.Requirement != nil {
		attrs = append(attrs, slog.String("requirement_id", event.Requirement.ID))
	}
	if event.ToolResult != nil {
		attrs = append(attrs, slog.String("tool", event.ToolResult.Name), slog.Bool("tool_error", event.ToolResult.IsError))
	}
	if event.Message != nil {
		attrs = append(attrs, slog.String("content", event.Message.Content))
	}
	if event.Description != "" {
		attrs = append(attrs, slog.String("description", event.Description))
	}

	level := slog.LevelDebug
	switch event.Type {
	case agent.EventTypeRunStarted, agent.EventTypeRunCompleted, agent.EventTypeLoopTerminated:
		level = slog.LevelInfo
	case agent.EventTypeRunFailed, agent.EventTypeRunCancelled:
		level = slog.LevelWarn
	}
	s.logger.LogAttrs(ctx, level, "run event", attrs...)
	return nil
}
