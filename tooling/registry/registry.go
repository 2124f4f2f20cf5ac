// Package registry maps tool names to handlers and executes calls against
// their declared input schemas.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Gurpartap/taskflow/agent"
)

var (
	ErrToolUnregistered = errors.New("tool is not registered")
	ErrNilHandler       = errors.New("tool handler is nil")
	ErrToolNameEmpty    = errors.New("tool name is empty")
	ErrToolDuplicate    = errors.New("tool is already registered")
)

// Handler executes one tool call using parsed arguments.
type Handler func(ctx context.Context, arguments map[string]any) (string, error)

// Tool pairs a definition with the handler that serves it.
type Tool struct {
	Definition agent.ToolDefinition
	Handler    Handler
}

// Registry stores tools by name and executes tool calls.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

var _ agent.ToolExecutor = (*Registry)(nil)

func New(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(tool Tool) error {
	name := tool.Definition.Name
	if name == "" {
		return ErrToolNameEmpty
	}
	if tool.Handler == nil {
		return fmt.Errorf("%w: %q", ErrNilHandler, name)
	}
	if err := agent.ValidateToolDefinitions([]agent.ToolDefinition{tool.Definition}); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %q", ErrToolDuplicate, name)
	}
	r.tools[name] = tool
	return nil
}

// Definitions returns the registered tool contracts sorted by name.
func (r *Registry) Definitions() []agent.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]agent.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, tool.Definition)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs call. Arguments that do not satisfy the tool's schema produce
// an error result rather than an error so the caller can report them back.
func (r *Registry) Execute(ctx context.Context, call agent.ToolCall) (agent.ToolResult, error) {
	if ctx == nil {
		return agent.ToolResult{}, agent.ErrContextNil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return agent.ToolResult{}, ctxErr
	}
	if call.Name == "" {
		return agent.ToolResult{}, fmt.Errorf("%w: call %q", ErrToolNameEmpty, call.ID)
	}

	r.mu.RLock()
	tool, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		return agent.ToolResult{}, fmt.Errorf("%w: %q", ErrToolUnregistered, call.Name)
	}

	if result, err := agent.ValidateToolCall(call, []agent.ToolDefinition{tool.Definition}); err != nil {
		return result, nil
	}

	content, err := tool.Handler(ctx, call.Arguments)
	if err != nil {
		return agent.ToolResult{}, err
	}

	return agent.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: content,
	}, nil
}
