package notiontool

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/Gurpartap/taskflow/notion"
)

// Memory is an in-process stand-in for a Notion workspace, used when no
// token is configured and in tests.
type Memory struct {
	mu       sync.Mutex
	tasks    []notion.TaskInput
	projects map[string]string
	schema   map[string]string
}

var _ Client = (*Memory)(nil)

// NewMemory returns an empty workspace whose projects map titles to page ids.
func NewMemory(projects map[string]string) *Memory {
	return &Memory{
		projects: maps.Clone(projects),
		schema: map[string]string{
			"Name":     "title",
			"Status":   "status",
			"Priority": "select",
			"Project":  "relation",
			"Due Date": "date",
			"Type":     "select",
		},
	}
}

func (m *Memory) CreateTask(_ context.Context, input notion.TaskInput) (notion.CreatedTask, error) {
	if err := input.Validate(); err != nil {
		return notion.CreatedTask{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, input)
	id := fmt.Sprintf("memory-page-%d", len(m.tasks))
	var skipped []string
	if input.Project != "" {
		if _, ok := m.projects[input.Project]; !ok && !notion.LooksLikePageID(input.Project) {
			skipped = append(skipped, "project")
		}
	}
	return notion.CreatedTask{PageID: id, URL: "memory://" + id, Skipped: skipped}, nil
}

func (m *Memory) DatabaseSchema(context.Context, string) (map[string]string, error) {
	return maps.Clone(m.schema), nil
}

func (m *Memory) FindProject(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.projects[strings.TrimSpace(name)]; ok {
		return id, nil
	}
	return "", fmt.Errorf("%w: %q", notion.ErrProjectNotFound, name)
}

// Tasks returns the tasks created so far.
func (m *Memory) Tasks() []notion.TaskInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notion.TaskInput(nil), m.tasks...)
}
