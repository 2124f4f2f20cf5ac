package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Gurpartap/taskflow/agent"
	"github.com/Gurpartap/taskflow/internal/runtimewire"
)

// Service is the runtime surface the chat drives.
type Service interface {
	Start(ctx context.Context, sessionID agent.RunID, request string) (agent.RunResult, error)
	Reply(ctx context.Context, sessionID agent.RunID, text string) (agent.RunResult, error)
	Cancel(ctx context.Context, sessionID agent.RunID) (agent.RunResult, error)
	Get(ctx context.Context, sessionID agent.RunID) (agent.RunState, error)
}

var ErrNoSession = errors.New("no active session; type a request or use /new")

// Controller tracks the active session and renders its progress.
type Controller struct {
	service  Service
	renderer *Renderer

	mu     sync.Mutex
	active agent.RunID
	open   bool
}

func NewController(service Service, renderer *Renderer) *Controller {
	return &Controller{service: service, renderer: renderer}
}

// Handlers binds the controller to REPL commands.
func (c *Controller) Handlers() Handlers {
	return Handlers{
		Start:  c.Start,
		Say:    c.Say,
		Status: c.Status,
		Cancel: c.Cancel,
	}
}

// ActiveSession returns the session free text is routed to.
func (c *Controller) ActiveSession() (agent.RunID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active, c.open
}

func (c *Controller) Start(ctx context.Context, request string) error {
	result, err := c.service.Start(ctx, "", request)
	return c.show(result, err)
}

// Say replies to the open session, or starts a new one when none is waiting.
func (c *Controller) Say(ctx context.Context, text string) error {
	id, open := c.ActiveSession()
	if !open {
		return c.Start(ctx, text)
	}
	result, err := c.service.Reply(ctx, id, text)
	return c.show(result, err)
}

func (c *Controller) Status(ctx context.Context) error {
	id, _ := c.ActiveSession()
	if id == "" {
		return ErrNoSession
	}
	state, err := c.service.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := c.renderer.Print(ToneInfo, fmt.Sprintf("session %s status=%s stage=%s", state.ID, state.Status, state.Stage)); err != nil {
		return err
	}
	return c.render(state)
}

func (c *Controller) Cancel(ctx context.Context) error {
	id, open := c.ActiveSession()
	if !open {
		return ErrNoSession
	}
	result, err := c.service.Cancel(ctx, id)
	return c.show(result, err)
}

func (c *Controller) show(result agent.RunResult, err error) error {
	if !runtimewire.Recorded(result, err) {
		return err
	}
	c.track(result.State)
	return c.render(result.State)
}

func (c *Controller) track(state agent.RunState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = state.ID
	c.open = state.Status == agent.RunStatusSuspended
}

func (c *Controller) render(state agent.RunState) error {
	switch state.Status {
	case agent.RunStatusSuspended:
		return c.renderer.Print(ToneWarn, pendingPrompt(state.PendingRequirement))
	case agent.RunStatusCompleted:
		return c.renderer.Print(ToneSuccess, state.Output)
	case agent.RunStatusFailed:
		return c.renderer.Print(ToneError, "failed: "+state.Error)
	case agent.RunStatusCancelled:
		return c.renderer.Print(ToneInfo, "session cancelled")
	case agent.RunStatusMaxLoopsReached:
		return c.renderer.Print(ToneWarn, "stopped after too many attempts: "+state.Error)
	default:
		return c.renderer.Print(ToneInfo, "status="+string(state.Status))
	}
}

func pendingPrompt(pending *agent.PendingRequirement) string {
	if pending == nil {
		return "waiting for input"
	}
	if prompt := strings.TrimSpace(pending.Prompt); prompt != "" {
		return prompt
	}
	if len(pending.Missing) > 0 {
		return "please provide: " + strings.Join(pending.Missing, ", ")
	}
	return "waiting for input"
}
