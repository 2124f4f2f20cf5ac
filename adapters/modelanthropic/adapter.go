// Package modelanthropic adapts the Anthropic Messages API to agent.Model.
package modelanthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Gurpartap/taskflow/adapters/provider"
	"github.com/Gurpartap/taskflow/agent"
)

const (
	DefaultModel     = "claude-sonnet-4-20250514"
	DefaultMaxTokens = 2048
	defaultTimeout   = 60 * time.Second
)

type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	MaxTokens  int64
	HTTPClient *http.Client
}

type Adapter struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

var _ agent.Model = (*Adapter)(nil)

func New(cfg Config) (*Adapter, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("new anthropic adapter: api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	// Retries are owned by policy/retry.
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &Adapter{
		client:    anthropic.NewClient(opts...),
		model:     anthropic.Model(model),
		maxTokens: maxTokens,
	}, nil
}

func (a *Adapter) Generate(ctx context.Context, request agent.ModelRequest) (agent.Message, error) {
	params, err := buildParams(a.model, a.maxTokens, request)
	if err != nil {
		return agent.Message{}, fmt.Errorf("anthropic request: %w", err)
	}

	response, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return agent.Message{}, wrapError(err)
	}

	out := agent.Message{Role: agent.RoleAssistant}
	var text strings.Builder
	for _, block := range response.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			arguments, err := provider.DecodeArguments(variant.Name, string(variant.Input))
			if err != nil {
				return agent.Message{}, fmt.Errorf("anthropic response: %w", err)
			}
			out.ToolCalls = append(out.ToolCalls, agent.ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: arguments,
			})
		}
	}
	out.Content = text.String()
	if out.Content == "" && len(out.ToolCalls) == 0 {
		return agent.Message{}, fmt.Errorf("anthropic response: %w", provider.ErrEmptyResponse)
	}
	return out, nil
}

func buildParams(model anthropic.Model, maxTokens int64, request agent.ModelRequest) (anthropic.MessageNewParams, error) {
	normalized, err := provider.NormalizeMessages(request.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}
	system, turns := provider.SplitSystem(normalized)
	if request.JSON {
		system = strings.TrimSpace(system + "\n\n" + provider.JSONInstruction)
	}

	messages, err := toMessageParams(turns)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	for _, tool := range request.Tools {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: toInputSchema(tool.InputSchema),
			},
		})
	}
	return params, nil
}

// toMessageParams folds consecutive turns of the same side into one message;
// tool results travel on the user side.
func toMessageParams(turns []agent.Message) ([]anthropic.MessageParam, error) {
	var (
		out     []anthropic.MessageParam
		blocks  []anthropic.ContentBlockParamUnion
		current anthropic.MessageParamRole
	)
	flush := func() {
		if len(blocks) == 0 {
			return
		}
		if current == anthropic.MessageParamRoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
		blocks = nil
	}

	for _, turn := range turns {
		role := anthropic.MessageParamRoleUser
		if turn.Role == agent.RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		if role != current {
			flush()
			current = role
		}

		switch turn.Role {
		case agent.RoleUser:
			if turn.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(turn.Content))
			}
		case agent.RoleAssistant:
			if turn.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(turn.Content))
			}
			for _, call := range turn.ToolCalls {
				input := call.Arguments
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, input, call.Name))
			}
		case agent.RoleTool:
			blocks = append(blocks, anthropic.NewToolResultBlock(turn.ToolCallID, turn.Content, false))
		default:
			return nil, fmt.Errorf("unsupported message role %q", turn.Role)
		}
	}
	flush()
	return out, nil
}

func toInputSchema(schema map[string]any) anthropic.ToolInputSchemaParam {
	out := anthropic.ToolInputSchemaParam{Properties: schema["properties"]}
	if raw, err := json.Marshal(schema["required"]); err == nil {
		var required []string
		if json.Unmarshal(raw, &required) == nil {
			out.Required = required
		}
	}
	return out
}

func wrapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &provider.StatusError{Provider: "anthropic", StatusCode: apiErr.StatusCode, Err: err}
	}
	return fmt.Errorf("anthropic: %w", err)
}
