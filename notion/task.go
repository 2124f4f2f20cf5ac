package notion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// TaskInput is the task record written to the task database.
type TaskInput struct {
	TaskName string `json:"task_name" validate:"required,max=2000"`
	Status   string `json:"status" validate:"required,max=100"`
	Priority string `json:"priority,omitempty" validate:"max=100"`
	DueDate  string `json:"due_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Project  string `json:"project,omitempty"`
	Details  string `json:"details,omitempty"`
	TaskType string `json:"task_type,omitempty" validate:"max=100"`
}

func (t TaskInput) normalized() TaskInput {
	t.TaskName = strings.TrimSpace(t.TaskName)
	t.Status = strings.TrimSpace(t.Status)
	t.Priority = strings.TrimSpace(t.Priority)
	t.DueDate = strings.TrimSpace(t.DueDate)
	t.Project = strings.TrimSpace(t.Project)
	t.Details = strings.TrimSpace(t.Details)
	t.TaskType = strings.TrimSpace(t.TaskType)
	return t
}

// Validate checks required fields and the due date format.
func (t TaskInput) Validate() error {
	if err := validate.Struct(t.normalized()); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			parts := make([]string, 0, len(fieldErrs))
			for _, fieldErr := range fieldErrs {
				parts = append(parts, fmt.Sprintf("%s failed %s", fieldErr.Field(), fieldErr.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidTask, strings.Join(parts, ", "))
		}
		return fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}
	return nil
}

// CreatedTask reports where a task landed and which fields had no column.
type CreatedTask struct {
	PageID  string   `json:"page_id"`
	URL     string   `json:"url,omitempty"`
	Skipped []string `json:"skipped,omitempty"`
}

// CreateTask files input as a new page in the configured task database. The
// database schema decides how each field is formatted; fields whose column is
// absent are skipped and reported.
func (c *Client) CreateTask(ctx context.Context, input TaskInput) (CreatedTask, error) {
	if c.taskDatabaseID == "" {
		return CreatedTask{}, fmt.Errorf("%w: task database id", ErrNotConfigured)
	}
	input = input.normalized()
	if err := input.Validate(); err != nil {
		return CreatedTask{}, err
	}

	schema, err := c.schema(ctx, c.taskDatabaseID)
	if err != nil {
		return CreatedTask{}, err
	}

	properties := map[string]any{}
	var skipped []string

	titleColumn := c.properties.Title
	if schema.Properties[titleColumn].Type != "title" {
		titleColumn = schema.TitleProperty()
	}
	if titleColumn == "" {
		return CreatedTask{}, fmt.Errorf("%w: database %s has no title property", ErrUnsupportedFormat, c.taskDatabaseID)
	}
	title, err := FormatProperty("title", input.TaskName)
	if err != nil {
		return CreatedTask{}, fmt.Errorf("%w: task_name: %w", ErrInvalidTask, err)
	}
	properties[titleColumn] = title

	fields := []struct {
		field  string
		column string
		value  string
	}{
		{field: "status", column: c.properties.Status, value: input.Status},
		{field: "priority", column: c.properties.Priority, value: input.Priority},
		{field: "due_date", column: c.properties.DueDate, value: input.DueDate},
		{field: "task_type", column: c.properties.TaskType, value: input.TaskType},
		{field: "project", column: c.properties.Project, value: input.Project},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		property, ok := schema.Properties[f.column]
		if !ok {
			skipped = append(skipped, f.field)
			continue
		}
		value := f.value
		if property.Type == "relation" && !LooksLikePageID(value) {
			projectID, err := c.FindProject(ctx, value)
			if err != nil {
				if errors.Is(err, ErrProjectNotFound) || errors.Is(err, ErrNotConfigured) {
					skipped = append(skipped, f.field)
					continue
				}
				return CreatedTask{}, err
			}
			value = projectID
		}
		formatted, err := FormatProperty(property.Type, value)
		if err != nil {
			return CreatedTask{}, fmt.Errorf("%w: %s: %w", ErrInvalidTask, f.field, err)
		}
		properties[f.column] = formatted
	}

	page, err := c.CreatePage(ctx, CreatePageRequest{
		Parent:     Parent{DatabaseID: c.taskDatabaseID},
		Properties: properties,
		Children:   ParagraphBlocks(input.Details),
	})
	if err != nil {
		return CreatedTask{}, err
	}
	sort.Strings(skipped)
	return CreatedTask{PageID: page.ID, URL: page.URL, Skipped: skipped}, nil
}

// FindProject returns the id of the page in the project database whose title
// equals name.
func (c *Client) FindProject(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if c.projectDatabaseID == "" {
		return "", fmt.Errorf("%w: project database id", ErrNotConfigured)
	}
	if name == "" {
		return "", fmt.Errorf("%w: empty project name", ErrProjectNotFound)
	}

	schema, err := c.schema(ctx, c.projectDatabaseID)
	if err != nil {
		return "", err
	}
	titleColumn := schema.TitleProperty()
	if titleColumn == "" {
		return "", fmt.Errorf("%w: project database has no title property", ErrUnsupportedFormat)
	}

	result, err := c.QueryDatabase(ctx, c.projectDatabaseID, Query{
		Filter: map[string]any{
			"property": titleColumn,
			"title":    map[string]any{"equals": name},
		},
		PageSize: 1,
	})
	if err != nil {
		return "", err
	}
	if len(result.Results) == 0 {
		return "", fmt.Errorf("%w: %q", ErrProjectNotFound, name)
	}
	return result.Results[0].ID, nil
}

// DatabaseSchema returns the property name to type mapping of a database,
// defaulting to the task database.
func (c *Client) DatabaseSchema(ctx context.Context, databaseID string) (map[string]string, error) {
	if strings.TrimSpace(databaseID) == "" {
		databaseID = c.taskDatabaseID
	}
	if databaseID == "" {
		return nil, fmt.Errorf("%w: task database id", ErrNotConfigured)
	}
	database, err := c.schema(ctx, databaseID)
	if err != nil {
		return nil, err
	}
	return database.Schema(), nil
}

func (c *Client) schema(ctx context.Context, databaseID string) (Database, error) {
	if database, ok := c.schemas.get(databaseID); ok {
		return database, nil
	}
	database, err := c.RetrieveDatabase(ctx, databaseID)
	if err != nil {
		return Database{}, err
	}
	c.schemas.put(databaseID, database)
	return database, nil
}

type schemaCache struct {
	mu        sync.RWMutex
	databases map[string]Database
}

func newSchemaCache() *schemaCache {
	return &schemaCache{databases: map[string]Database{}}
}

func (s *schemaCache) get(id string) (Database, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	database, ok := s.databases[id]
	return database, ok
}

func (s *schemaCache) put(id string, database Database) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.databases[id] = database
}
