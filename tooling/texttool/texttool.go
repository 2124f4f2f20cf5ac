// Package texttool provides the general purpose tools available to every
// workflow: the current time, keyword based classification and keyword
// extraction.
package texttool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/Gurpartap/taskflow/agent"
	"github.com/Gurpartap/taskflow/tooling/registry"
)

const (
	ToolCurrentDatetime = "get_current_datetime"
	ToolClassifyText    = "classify_text"
	ToolExtractKeywords = "extract_keywords"

	DefaultMaxKeywords = 5
)

var ErrArgumentInvalid = errors.New("tool arguments are invalid")

var toolDefinitions = []agent.ToolDefinition{
	{
		Name:        ToolCurrentDatetime,
		Description: "Return the current date and time in an IANA time zone (default UTC).",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"time_zone": map[string]any{"type": "string"},
			},
			"additionalProperties": false,
		},
	},
	{
		Name:        ToolClassifyText,
		Description: "Pick the category that best matches the text.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text":       map[string]any{"type": "string"},
				"categories": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
			"required":             []any{"text", "categories"},
			"additionalProperties": false,
		},
	},
	{
		Name:        ToolExtractKeywords,
		Description: "Extract the most frequent meaningful words from the text.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text":         map[string]any{"type": "string"},
				"max_keywords": map[string]any{"type": "integer"},
			},
			"required":             []any{"text"},
			"additionalProperties": false,
		},
	},
}

func Definitions() []agent.ToolDefinition {
	return agent.CloneToolDefinitions(toolDefinitions)
}

// Tools returns the registry entries. now defaults to time.Now.
func Tools(now func() time.Time) []registry.Tool {
	if now == nil {
		now = time.Now
	}
	definitions := Definitions()
	handlers := map[string]registry.Handler{
		ToolCurrentDatetime: func(_ context.Context, arguments map[string]any) (string, error) {
			return currentDatetime(now(), arguments)
		},
		ToolClassifyText:    classifyText,
		ToolExtractKeywords: extractKeywords,
	}
	out := make([]registry.Tool, 0, len(definitions))
	for _, definition := range definitions {
		out = append(out, registry.Tool{Definition: definition, Handler: handlers[definition.Name]})
	}
	return out
}

func currentDatetime(now time.Time, arguments map[string]any) (string, error) {
	zone := "UTC"
	if raw, ok := arguments["time_zone"].(string); ok && strings.TrimSpace(raw) != "" {
		zone = strings.TrimSpace(raw)
	}
	location, err := time.LoadLocation(zone)
	if err != nil {
		return "", fmt.Errorf("%w: unknown time zone %q", ErrArgumentInvalid, zone)
	}
	local := now.In(location)
	return encode(map[string]any{
		"status":   "success",
		"datetime": local.Format("2006-01-02 15:04:05 MST-0700"),
		"date":     local.Format(time.DateOnly),
		"weekday":  local.Weekday().String(),
		"timezone": zone,
	})
}

func classifyText(_ context.Context, arguments map[string]any) (string, error) {
	text, _ := arguments["text"].(string)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: text must not be empty", ErrArgumentInvalid)
	}
	categories, err := stringList(arguments["categories"])
	if err != nil || len(categories) == 0 {
		return "", fmt.Errorf("%w: categories must be a non-empty list of strings", ErrArgumentInvalid)
	}
	category, scores := Classify(text, categories)
	return encode(map[string]any{
		"status":         "success",
		"classification": category,
		"scores":         scores,
	})
}

func extractKeywords(_ context.Context, arguments map[string]any) (string, error) {
	text, _ := arguments["text"].(string)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: text must not be empty", ErrArgumentInvalid)
	}
	limit := DefaultMaxKeywords
	if raw, ok := arguments["max_keywords"].(float64); ok {
		limit = int(raw)
	} else if raw, ok := arguments["max_keywords"].(int); ok {
		limit = raw
	}
	return encode(map[string]any{
		"status":   "success",
		"keywords": ExtractKeywords(text, limit),
	})
}

func stringList(raw any) ([]string, error) {
	switch value := raw.(type) {
	case []string:
		return value, nil
	case []any:
		out := make([]string, 0, len(value))
		for _, item := range value {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: expected string, got %T", ErrArgumentInvalid, item)
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: expected list, got %T", ErrArgumentInvalid, raw)
	}
}

func encode(value any) (string, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
