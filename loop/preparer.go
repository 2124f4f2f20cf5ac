package loop

import (
	"context"
	"fmt"
	"strings"

	"github.com/Gurpartap/taskflow/session"
)

// Turn describes the suspension a preparer is producing content for.
type Turn struct {
	Loop          string
	Iteration     int
	MaxIterations int
	Missing       []string
}

// Remaining is the number of further suspensions allowed after this one.
func (t Turn) Remaining() int {
	if t.MaxIterations <= t.Iteration {
		return 0
	}
	return t.MaxIterations - t.Iteration
}

// Prompt is the outbound content of a suspension.
type Prompt struct {
	Content string   `json:"content"`
	Missing []string `json:"missing,omitempty"`
}

// Preparer produces the content shown to the human before the loop suspends.
type Preparer interface {
	Prepare(ctx context.Context, state session.State, turn Turn) (Prompt, error)
}

type PreparerFunc func(ctx context.Context, state session.State, turn Turn) (Prompt, error)

func (f PreparerFunc) Prepare(ctx context.Context, state session.State, turn Turn) (Prompt, error) {
	return f(ctx, state, turn)
}

// StaticPrompt asks the same question every turn, listing missing keys when known.
type StaticPrompt struct {
	Text string
}

func (p StaticPrompt) Prepare(_ context.Context, _ session.State, turn Turn) (Prompt, error) {
	content := strings.TrimSpace(p.Text)
	if content == "" {
		content = "Please provide more information."
	}
	if len(turn.Missing) > 0 {
		content = fmt.Sprintf("%s (missing: %s)", content, strings.Join(turn.Missing, ", "))
	}
	return Prompt{Content: content, Missing: turn.Missing}, nil
}
