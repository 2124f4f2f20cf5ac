// Package modelgemini adapts the Gemini API to agent.Model.
package modelgemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/Gurpartap/taskflow/adapters/provider"
	"github.com/Gurpartap/taskflow/agent"
)

const DefaultModel = "gemini-2.0-flash"

type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature *float32
	HTTPClient  *http.Client
}

type Adapter struct {
	client      *genai.Client
	model       string
	temperature *float32
}

var _ agent.Model = (*Adapter)(nil)

func New(ctx context.Context, cfg Config) (*Adapter, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("new gemini adapter: api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}

	clientConfig := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("new gemini adapter: %w", err)
	}

	return &Adapter{client: client, model: model, temperature: cfg.Temperature}, nil
}

func (a *Adapter) Generate(ctx context.Context, request agent.ModelRequest) (agent.Message, error) {
	contents, config, err := buildRequest(request)
	if err != nil {
		return agent.Message{}, fmt.Errorf("gemini request: %w", err)
	}
	config.Temperature = a.temperature

	response, err := a.client.Models.GenerateContent(ctx, a.model, contents, config)
	if err != nil {
		return agent.Message{}, wrapError(err)
	}
	if response == nil || len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return agent.Message{}, fmt.Errorf("gemini response: %w", provider.ErrEmptyResponse)
	}

	out := agent.Message{Role: agent.RoleAssistant}
	var text strings.Builder
	for i, part := range response.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" && !part.Thought {
			text.WriteString(part.Text)
		}
		if part.FunctionCall != nil {
			id := part.FunctionCall.ID
			if id == "" {
				id = fmt.Sprintf("%s-%d", part.FunctionCall.Name, i)
			}
			arguments := part.FunctionCall.Args
			if arguments == nil {
				arguments = map[string]any{}
			}
			out.ToolCalls = append(out.ToolCalls, agent.ToolCall{
				ID:        id,
				Name:      part.FunctionCall.Name,
				Arguments: arguments,
			})
		}
	}
	out.Content = text.String()
	if out.Content == "" && len(out.ToolCalls) == 0 {
		return agent.Message{}, fmt.Errorf("gemini response: %w", provider.ErrEmptyResponse)
	}
	return out, nil
}

func buildRequest(request agent.ModelRequest) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	normalized, err := provider.NormalizeMessages(request.Messages)
	if err != nil {
		return nil, nil, err
	}
	system, turns := provider.SplitSystem(normalized)

	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if request.JSON {
		config.ResponseMIMEType = "application/json"
	}
	if len(request.Tools) > 0 {
		declarations := make([]*genai.FunctionDeclaration, 0, len(request.Tools))
		for _, tool := range request.Tools {
			declarations = append(declarations, &genai.FunctionDeclaration{
				Name:                 tool.Name,
				Description:          tool.Description,
				ParametersJsonSchema: tool.InputSchema,
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: declarations}}
	}

	toolNames := map[string]string{}
	contents := make([]*genai.Content, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case agent.RoleUser:
			contents = append(contents, genai.NewContentFromText(turn.Content, genai.RoleUser))
		case agent.RoleAssistant:
			content := &genai.Content{Role: genai.RoleModel}
			if turn.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: turn.Content})
			}
			for _, call := range turn.ToolCalls {
				toolNames[call.ID] = call.Name
				content.Parts = append(content.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   call.ID,
					Name: call.Name,
					Args: call.Arguments,
				}})
			}
			contents = append(contents, content)
		case agent.RoleTool:
			name := turn.Name
			if name == "" {
				name = toolNames[turn.ToolCallID]
			}
			contents = append(contents, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{FunctionResponse: &genai.FunctionResponse{
					ID:       turn.ToolCallID,
					Name:     name,
					Response: map[string]any{"output": turn.Content},
				}}},
			})
		default:
			return nil, nil, fmt.Errorf("unsupported message role %q", turn.Role)
		}
	}
	return contents, config, nil
}

func wrapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &provider.StatusError{Provider: "gemini", StatusCode: apiErr.Code, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &provider.StatusError{Provider: "gemini", StatusCode: apiErrPtr.Code, Err: err}
	}
	return fmt.Errorf("gemini: %w", err)
}
