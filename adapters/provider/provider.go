// Package provider holds the transcript preparation and error handling shared
// by the model provider adapters.
package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Gurpartap/taskflow/agent"
)

var ErrEmptyResponse = errors.New("provider returned no content")

// StatusError wraps a provider failure with its HTTP status so retry policies
// can tell transient failures apart.
type StatusError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status=%d: %v", e.Provider, e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

func (e *StatusError) Retryable() bool {
	return e.StatusCode == 0 ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode >= http.StatusInternalServerError
}

// NormalizeMessages validates tool message pairing and keeps only the latest
// tool observation per call.
func NormalizeMessages(messages []agent.Message) ([]agent.Message, error) {
	normalized := make([]agent.Message, 0, len(messages))
	assistantToolCalls := make(map[string]struct{}, len(messages))
	toolMessageIndexByCallID := make(map[string]int, len(messages))

	for i := range messages {
		message := agent.CloneMessage(messages[i])
		switch message.Role {
		case agent.RoleAssistant:
			normalized = append(normalized, message)
			for _, call := range message.ToolCalls {
				if call.ID != "" {
					assistantToolCalls[call.ID] = struct{}{}
				}
			}
		case agent.RoleTool:
			toolCallID := strings.TrimSpace(message.ToolCallID)
			if toolCallID == "" {
				return nil, fmt.Errorf("decode messages: tool message at index %d missing tool_call_id", i)
			}
			if _, ok := assistantToolCalls[toolCallID]; !ok {
				return nil, fmt.Errorf(
					"decode messages: tool message at index %d references unknown tool_call_id %q",
					i,
					toolCallID,
				)
			}
			if existingIndex, exists := toolMessageIndexByCallID[toolCallID]; exists {
				normalized[existingIndex] = message
			} else {
				normalized = append(normalized, message)
				toolMessageIndexByCallID[toolCallID] = len(normalized) - 1
			}
		case agent.RoleSystem, agent.RoleUser:
			normalized = append(normalized, message)
		default:
			return nil, fmt.Errorf("decode messages: unsupported role %q at index %d", message.Role, i)
		}
	}
	return normalized, nil
}

// SplitSystem separates system messages, joined by blank lines, from the
// conversational turns for providers that take the system prompt out of band.
func SplitSystem(messages []agent.Message) (string, []agent.Message) {
	var (
		system []string
		rest   = make([]agent.Message, 0, len(messages))
	)
	for _, message := range messages {
		if message.Role == agent.RoleSystem {
			if content := strings.TrimSpace(message.Content); content != "" {
				system = append(system, content)
			}
			continue
		}
		rest = append(rest, message)
	}
	return strings.Join(system, "\n\n"), rest
}

// EncodeArguments renders tool call arguments as a JSON object string.
func EncodeArguments(arguments map[string]any) (string, error) {
	if len(arguments) == 0 {
		return "{}", nil
	}
	encoded, err := json.Marshal(arguments)
	if err != nil {
		return "", fmt.Errorf("encode tool call arguments: %w", err)
	}
	return string(encoded), nil
}

// DecodeArguments parses a JSON object string; blank input yields an empty map.
func DecodeArguments(name, raw string) (map[string]any, error) {
	arguments := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return arguments, nil
	}
	if err := json.Unmarshal([]byte(raw), &arguments); err != nil {
		return nil, fmt.Errorf("decode tool call arguments for %q: %w", name, err)
	}
	return arguments, nil
}

// JSONInstruction is appended to the system prompt when a JSON reply is
// requested from a provider without a native JSON mode.
const JSONInstruction = "Respond with a single JSON object and no surrounding prose."
