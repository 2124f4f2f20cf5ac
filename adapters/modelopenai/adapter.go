// Package modelopenai adapts OpenAI-compatible chat completion APIs to
// agent.Model.
package modelopenai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Gurpartap/taskflow/adapters/provider"
	"github.com/Gurpartap/taskflow/agent"
)

const (
	DefaultModel   = "gpt-4o-mini"
	defaultTimeout = 60 * time.Second
)

type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float32
	HTTPClient  *http.Client
}

type Adapter struct {
	client      *openai.Client
	model       string
	temperature float32
}

var _ agent.Model = (*Adapter)(nil)

func New(cfg Config) (*Adapter, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("new openai adapter: api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(baseURL, "/")
	}
	clientConfig.HTTPClient = cfg.HTTPClient
	if clientConfig.HTTPClient == nil {
		clientConfig.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}

	return &Adapter{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       model,
		temperature: cfg.Temperature,
	}, nil
}

func (a *Adapter) Generate(ctx context.Context, request agent.ModelRequest) (agent.Message, error) {
	payload, err := buildRequest(a.model, a.temperature, request)
	if err != nil {
		return agent.Message{}, fmt.Errorf("openai request: %w", err)
	}

	response, err := a.client.CreateChatCompletion(ctx, payload)
	if err != nil {
		return agent.Message{}, wrapError(err)
	}
	if len(response.Choices) == 0 {
		return agent.Message{}, fmt.Errorf("openai response: %w", provider.ErrEmptyResponse)
	}

	message, err := toAgentMessage(response.Choices[0].Message)
	if err != nil {
		return agent.Message{}, fmt.Errorf("openai response: %w", err)
	}
	return message, nil
}

func buildRequest(model string, temperature float32, request agent.ModelRequest) (openai.ChatCompletionRequest, error) {
	normalized, err := provider.NormalizeMessages(request.Messages)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(normalized))
	for _, message := range normalized {
		converted, err := toChatMessage(message)
		if err != nil {
			return openai.ChatCompletionRequest{}, err
		}
		messages = append(messages, converted)
	}

	out := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
	}
	for _, tool := range request.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}
	if request.JSON {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	return out, nil
}

func toChatMessage(message agent.Message) (openai.ChatCompletionMessage, error) {
	out := openai.ChatCompletionMessage{
		Content:    message.Content,
		Name:       message.Name,
		ToolCallID: message.ToolCallID,
	}
	switch message.Role {
	case agent.RoleSystem:
		out.Role = openai.ChatMessageRoleSystem
	case agent.RoleUser:
		out.Role = openai.ChatMessageRoleUser
	case agent.RoleAssistant:
		out.Role = openai.ChatMessageRoleAssistant
	case agent.RoleTool:
		out.Role = openai.ChatMessageRoleTool
	default:
		return openai.ChatCompletionMessage{}, fmt.Errorf("unsupported message role %q", message.Role)
	}

	for _, call := range message.ToolCalls {
		arguments, err := provider.EncodeArguments(call.Arguments)
		if err != nil {
			return openai.ChatCompletionMessage{}, err
		}
		out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
			ID:   call.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      call.Name,
				Arguments: arguments,
			},
		})
	}
	return out, nil
}

func toAgentMessage(message openai.ChatCompletionMessage) (agent.Message, error) {
	if message.Role != openai.ChatMessageRoleAssistant {
		return agent.Message{}, fmt.Errorf("expected assistant message role, got %q", message.Role)
	}
	out := agent.Message{Role: agent.RoleAssistant, Content: message.Content}
	for _, call := range message.ToolCalls {
		arguments, err := provider.DecodeArguments(call.Function.Name, call.Function.Arguments)
		if err != nil {
			return agent.Message{}, err
		}
		out.ToolCalls = append(out.ToolCalls, agent.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: arguments,
		})
	}
	if out.Content == "" && len(out.ToolCalls) == 0 {
		return agent.Message{}, provider.ErrEmptyResponse
	}
	return out, nil
}

func wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &provider.StatusError{Provider: "openai", StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var requestErr *openai.RequestError
	if errors.As(err, &requestErr) {
		return &provider.StatusError{Provider: "openai", StatusCode: requestErr.HTTPStatusCode, Err: err}
	}
	return fmt.Errorf("openai: %w", err)
}
