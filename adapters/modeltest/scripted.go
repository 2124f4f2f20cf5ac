// Package modeltest provides deterministic agent.Model doubles.
package modeltest

import (
	"context"
	"fmt"
	"sync"

	"github.com/Gurpartap/taskflow/agent"
)

// Response configures one model turn in a scripted sequence.
type Response struct {
	Message agent.Message
	Err     error
}

// Text is a shorthand for an assistant reply.
func Text(content string) Response {
	return Response{Message: agent.Message{Role: agent.RoleAssistant, Content: content}}
}

// ScriptedModel replays responses in order and records every request.
type ScriptedModel struct {
	mu        sync.Mutex
	index     int
	responses []Response
	requests  []agent.ModelRequest
}

func NewScriptedModel(responses ...Response) *ScriptedModel {
	cloned := make([]Response, len(responses))
	copy(cloned, responses)
	return &ScriptedModel{responses: cloned}
}

var _ agent.Model = (*ScriptedModel)(nil)

func (m *ScriptedModel) Generate(_ context.Context, request agent.ModelRequest) (agent.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, cloneRequest(request))
	if m.index >= len(m.responses) {
		return agent.Message{}, fmt.Errorf("script exhausted at step %d (purpose %q)", m.index+1, request.Purpose)
	}
	current := m.responses[m.index]
	m.index++
	if current.Err != nil {
		return agent.Message{}, current.Err
	}
	msg := agent.CloneMessage(current.Message)
	if msg.Role == "" {
		msg.Role = agent.RoleAssistant
	}
	return msg, nil
}

// Requests returns copies of the requests received so far.
func (m *ScriptedModel) Requests() []agent.ModelRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]agent.ModelRequest, len(m.requests))
	for i := range m.requests {
		out[i] = cloneRequest(m.requests[i])
	}
	return out
}

// Remaining reports how many scripted responses have not been consumed.
func (m *ScriptedModel) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.responses) - m.index
}

// Router dispatches by ModelRequest.Purpose so a test can script each call
// site independently. Requests with no route go to Fallback.
type Router struct {
	Routes   map[string]agent.Model
	Fallback agent.Model
}

var _ agent.Model = Router{}

func (r Router) Generate(ctx context.Context, request agent.ModelRequest) (agent.Message, error) {
	if model, ok := r.Routes[request.Purpose]; ok && model != nil {
		return model.Generate(ctx, request)
	}
	if r.Fallback != nil {
		return r.Fallback.Generate(ctx, request)
	}
	return agent.Message{}, fmt.Errorf("modeltest: no route for purpose %q", request.Purpose)
}

// Func adapts a plain function.
type Func func(ctx context.Context, request agent.ModelRequest) (agent.Message, error)

func (f Func) Generate(ctx context.Context, request agent.ModelRequest) (agent.Message, error) {
	return f(ctx, request)
}

func cloneRequest(in agent.ModelRequest) agent.ModelRequest {
	out := in
	out.Messages = agent.CloneMessages(in.Messages)
	out.Tools = agent.CloneToolDefinitions(in.Tools)
	return out
}
