package notion

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// maxTextLength is Notion's limit for one rich text segment.
const maxTextLength = 2000

// PropertyMap names the database columns task fields are written to.
type PropertyMap struct {
	Title    string `mapstructure:"title"`
	Status   string `mapstructure:"status"`
	Priority string `mapstructure:"priority"`
	Project  string `mapstructure:"project"`
	DueDate  string `mapstructure:"due_date"`
	TaskType string `mapstructure:"task_type"`
}

// DefaultPropertyMap matches a task database with Name, Status, Priority,
// Project, Due Date and Type columns.
func DefaultPropertyMap() PropertyMap {
	return PropertyMap{
		Title:    "Name",
		Status:   "Status",
		Priority: "Priority",
		Project:  "Project",
		DueDate:  "Due Date",
		TaskType: "Type",
	}
}

func (m PropertyMap) withDefaults() PropertyMap {
	defaults := DefaultPropertyMap()
	if m.Title == "" {
		m.Title = defaults.Title
	}
	if m.Status == "" {
		m.Status = defaults.Status
	}
	if m.Priority == "" {
		m.Priority = defaults.Priority
	}
	if m.Project == "" {
		m.Project = defaults.Project
	}
	if m.DueDate == "" {
		m.DueDate = defaults.DueDate
	}
	if m.TaskType == "" {
		m.TaskType = defaults.TaskType
	}
	return m
}

var pageIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-?[0-9a-fA-F]{4}-?[0-9a-fA-F]{4}-?[0-9a-fA-F]{4}-?[0-9a-fA-F]{12}$`)

// LooksLikePageID reports whether value is a Notion page id, dashed or not.
func LooksLikePageID(value string) bool {
	return pageIDPattern.MatchString(strings.TrimSpace(value))
}

// FormatProperty renders value as a property value of the given type.
func FormatProperty(propertyType, value string) (any, error) {
	value = strings.TrimSpace(value)
	switch propertyType {
	case "title":
		return map[string]any{"title": textSegments(value)}, nil
	case "rich_text":
		return map[string]any{"rich_text": textSegments(value)}, nil
	case "status":
		return map[string]any{"status": map[string]any{"name": value}}, nil
	case "select":
		return map[string]any{"select": map[string]any{"name": value}}, nil
	case "multi_select":
		var options []map[string]any
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				options = append(options, map[string]any{"name": part})
			}
		}
		return map[string]any{"multi_select": options}, nil
	case "relation":
		if !LooksLikePageID(value) {
			return nil, fmt.Errorf("%w: relation needs a page id, got %q", ErrUnsupportedFormat, value)
		}
		return map[string]any{"relation": []map[string]any{{"id": value}}}, nil
	case "date":
		if _, err := time.Parse(time.DateOnly, value); err != nil {
			return nil, fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrUnsupportedFormat, value)
		}
		return map[string]any{"date": map[string]any{"start": value}}, nil
	case "checkbox":
		checked, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%w: checkbox %q", ErrUnsupportedFormat, value)
		}
		return map[string]any{"checkbox": checked}, nil
	case "number":
		number, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: number %q", ErrUnsupportedFormat, value)
		}
		return map[string]any{"number": number}, nil
	case "url":
		return map[string]any{"url": value}, nil
	default:
		return nil, fmt.Errorf("%w: property type %q", ErrUnsupportedFormat, propertyType)
	}
}

// ParagraphBlocks splits text into paragraph blocks, one per non-blank line
// group, each within Notion's text length limit.
func ParagraphBlocks(text string) []Block {
	var blocks []Block
	for _, paragraph := range strings.Split(strings.TrimSpace(text), "\n\n") {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}
		blocks = append(blocks, Block{
			Object:    "block",
			Type:      "paragraph",
			Paragraph: &Paragraph{RichText: textSegments(paragraph)},
		})
	}
	return blocks
}

func textSegments(value string) []RichText {
	runes := []rune(value)
	if len(runes) == 0 {
		return []RichText{}
	}
	var out []RichText
	for start := 0; start < len(runes); start += maxTextLength {
		end := min(start+maxTextLength, len(runes))
		out = append(out, RichText{Type: "text", Text: &TextBody{Content: string(runes[start:end])}})
	}
	return out
}
