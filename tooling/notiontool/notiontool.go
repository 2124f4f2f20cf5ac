// Package notiontool exposes the Notion task database to the workflow as
// tools.
package notiontool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Gurpartap/taskflow/agent"
	"github.com/Gurpartap/taskflow/notion"
	"github.com/Gurpartap/taskflow/tooling/registry"
)

const (
	ToolAddTask        = "add_task_to_notion_database"
	ToolDatabaseSchema = "get_notion_database_schema"
	ToolFindProject    = "find_notion_project"
)

// Client is the part of notion.Client the tools call.
type Client interface {
	CreateTask(ctx context.Context, input notion.TaskInput) (notion.CreatedTask, error)
	DatabaseSchema(ctx context.Context, databaseID string) (map[string]string, error)
	FindProject(ctx context.Context, name string) (string, error)
}

var _ Client = (*notion.Client)(nil)

var toolDefinitions = []agent.ToolDefinition{
	{
		Name:        ToolAddTask,
		Description: "Add a new task page to the configured Notion task database.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task_name": map[string]any{"type": "string", "minLength": 1},
				"status":    map[string]any{"type": "string", "minLength": 1},
				"priority":  map[string]any{"type": "string"},
				"due_date":  map[string]any{"type": "string", "format": "date", "description": "YYYY-MM-DD"},
				"project":   map[string]any{"type": "string"},
				"details":   map[string]any{"type": "string"},
				"task_type": map[string]any{"type": "string"},
			},
			"required":             []any{"task_name", "status"},
			"additionalProperties": false,
		},
	},
	{
		Name:        ToolDatabaseSchema,
		Description: "List the property names and types of a Notion database (default: the task database).",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"database_id": map[string]any{"type": "string"},
			},
			"additionalProperties": false,
		},
	},
	{
		Name:        ToolFindProject,
		Description: "Find a project page id by its exact title.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"project_name": map[string]any{"type": "string"},
			},
			"required":             []any{"project_name"},
			"additionalProperties": false,
		},
	},
}

func Definitions() []agent.ToolDefinition {
	return agent.CloneToolDefinitions(toolDefinitions)
}

// Tools returns the registry entries backed by client.
func Tools(client Client) []registry.Tool {
	handlers := map[string]registry.Handler{
		ToolAddTask:        addTask(client),
		ToolDatabaseSchema: databaseSchema(client),
		ToolFindProject:    findProject(client),
	}
	definitions := Definitions()
	out := make([]registry.Tool, 0, len(definitions))
	for _, definition := range definitions {
		out = append(out, registry.Tool{Definition: definition, Handler: handlers[definition.Name]})
	}
	return out
}

// TaskInputFromArguments maps tool arguments onto a task record.
func TaskInputFromArguments(arguments map[string]any) notion.TaskInput {
	text := func(key string) string {
		value, _ := arguments[key].(string)
		return strings.TrimSpace(value)
	}
	return notion.TaskInput{
		TaskName: text("task_name"),
		Status:   text("status"),
		Priority: text("priority"),
		DueDate:  text("due_date"),
		Project:  text("project"),
		Details:  text("details"),
		TaskType: text("task_type"),
	}
}

// AddTaskResult is the JSON content of a successful add_task call.
type AddTaskResult struct {
	Status  string   `json:"status"`
	PageID  string   `json:"page_id"`
	URL     string   `json:"url,omitempty"`
	Skipped []string `json:"skipped,omitempty"`
}

func addTask(client Client) registry.Handler {
	return func(ctx context.Context, arguments map[string]any) (string, error) {
		created, err := client.CreateTask(ctx, TaskInputFromArguments(arguments))
		if err != nil {
			return "", err
		}
		return encode(AddTaskResult{
			Status:  "success",
			PageID:  created.PageID,
			URL:     created.URL,
			Skipped: created.Skipped,
		})
	}
}

func databaseSchema(client Client) registry.Handler {
	return func(ctx context.Context, arguments map[string]any) (string, error) {
		databaseID, _ := arguments["database_id"].(string)
		schema, err := client.DatabaseSchema(ctx, strings.TrimSpace(databaseID))
		if err != nil {
			return "", err
		}
		return encode(map[string]any{"status": "success", "properties": schema})
	}
}

func findProject(client Client) registry.Handler {
	return func(ctx context.Context, arguments map[string]any) (string, error) {
		name, _ := arguments["project_name"].(string)
		pageID, err := client.FindProject(ctx, name)
		if errors.Is(err, notion.ErrProjectNotFound) {
			return encode(map[string]any{"status": "not_found", "project_name": name})
		}
		if err != nil {
			return "", err
		}
		return encode(map[string]any{"status": "success", "page_id": pageID})
	}
}

func encode(value any) (string, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode tool result: %w", err)
	}
	return string(encoded), nil
}
