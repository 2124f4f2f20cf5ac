package agent

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

// ValidateToolDefinitions rejects unnamed or duplicate definitions and malformed schemas.
func ValidateToolDefinitions(definitions []ToolDefinition) error {
	seen := make(map[string]struct{}, len(definitions))
	for i := range definitions {
		name := strings.TrimSpace(definitions[i].Name)
		if name == "" {
			return fmt.Errorf("%w: index=%d reason=empty_name", ErrToolDefinitionsInvalid, i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: name=%q reason=duplicate", ErrToolDefinitionsInvalid, name)
		}
		seen[name] = struct{}{}
		if _, err := compileArgumentSchema(definitions[i].InputSchema); err != nil {
			return fmt.Errorf("%w: name=%q: %w", ErrToolDefinitionsInvalid, name, err)
		}
	}
	return nil
}

// ValidateToolCall checks call against the matching definition. A failed
// validation is returned together with the normalized error result to hand
// back to the caller.
func ValidateToolCall(call ToolCall, definitions []ToolDefinition) (ToolResult, error) {
	idx := slices.IndexFunc(definitions, func(d ToolDefinition) bool { return d.Name == call.Name })
	if idx < 0 {
		err := fmt.Errorf("%w: unknown tool %q", ErrToolCallInvalid, call.Name)
		return ToolErrorResult(call, ToolFailureReasonUnknownTool, err), err
	}
	schema, err := compileArgumentSchema(definitions[idx].InputSchema)
	if err == nil {
		err = schema.check(call.Arguments)
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrToolCallInvalid, err)
		return ToolErrorResult(call, ToolFailureReasonInvalidArguments, err), err
	}
	return ToolResult{}, nil
}

// ToolErrorResult normalizes an executor failure into a tool result.
func ToolErrorResult(call ToolCall, reason ToolFailureReason, err error) ToolResult {
	content := string(reason)
	if err != nil {
		content += ": " + err.Error()
	}
	return ToolResult{
		CallID:        call.ID,
		Name:          call.Name,
		Content:       content,
		IsError:       true,
		FailureReason: reason,
	}
}

// argumentSchema is the subset of JSON Schema that tool definitions use:
// required keys, closed objects, and per-property type, enum, date format
// and minimum length.
type argumentSchema struct {
	required []string
	closed   bool
	fields   map[string]fieldRule
}

type fieldRule struct {
	typeName  string
	enum      []string
	format    string
	minLength int
}

const dateFormat = "date"

func compileArgumentSchema(raw map[string]any) (argumentSchema, error) {
	var schema argumentSchema
	if len(raw) == 0 {
		return schema, nil
	}

	required, err := stringList(raw["required"], "required")
	if err != nil {
		return schema, err
	}
	schema.required = required

	switch v := raw["additionalProperties"].(type) {
	case nil:
	case bool:
		schema.closed = !v
	default:
		return schema, errors.New(`input schema "additionalProperties" must be a bool`)
	}

	properties, _ := raw["properties"].(map[string]any)
	schema.fields = make(map[string]fieldRule, len(properties))
	for name, property := range properties {
		rule, err := compileFieldRule(property)
		if err != nil {
			return schema, fmt.Errorf("property %q: %w", name, err)
		}
		schema.fields[name] = rule
	}
	if raw["properties"] == nil {
		// Without declared properties nothing can be unknown.
		schema.closed = false
	}
	return schema, nil
}

func compileFieldRule(raw any) (fieldRule, error) {
	property, ok := raw.(map[string]any)
	if !ok {
		return fieldRule{}, errors.New(`input schema "properties" entries must be objects`)
	}

	var rule fieldRule
	if t, present := property["type"]; present {
		name, ok := t.(string)
		if !ok {
			return rule, errors.New(`"type" must be a string`)
		}
		rule.typeName = name
	}
	enum, err := stringList(property["enum"], "enum")
	if err != nil {
		return rule, err
	}
	rule.enum = enum
	if f, present := property["format"]; present {
		format, ok := f.(string)
		if !ok {
			return rule, errors.New(`"format" must be a string`)
		}
		rule.format = format
	}
	if m, present := property["minLength"]; present {
		if !isInteger(m) {
			return rule, errors.New(`"minLength" must be an integer`)
		}
		rule.minLength = int(reflect.ValueOf(m).Convert(reflect.TypeFor[int64]()).Int())
	}
	return rule, nil
}

func stringList(raw any, field string) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []string:
		return slices.Clone(v), nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("input schema %q entries must be strings", field)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("input schema %q must be an array", field)
	}
}

func (s argumentSchema) check(arguments map[string]any) error {
	for _, key := range s.required {
		if _, ok := arguments[key]; !ok {
			return fmt.Errorf("missing required argument %q", key)
		}
	}

	keys := make([]string, 0, len(arguments))
	for key := range arguments {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	for _, key := range keys {
		rule, known := s.fields[key]
		if !known {
			if s.closed {
				return fmt.Errorf("unknown argument %q", key)
			}
			continue
		}
		if err := rule.check(arguments[key]); err != nil {
			return fmt.Errorf("argument %q %w", key, err)
		}
	}
	return nil
}

func (r fieldRule) check(value any) error {
	if r.typeName != "" && !matchesType(r.typeName, value) {
		return fmt.Errorf("must be %q", r.typeName)
	}
	text, isText := value.(string)
	if !isText {
		return nil
	}
	if r.minLength > 0 && utf8.RuneCountInString(strings.TrimSpace(text)) < r.minLength {
		return fmt.Errorf("must be at least %d characters", r.minLength)
	}
	if len(r.enum) > 0 && !slices.ContainsFunc(r.enum, func(option string) bool { return strings.EqualFold(option, text) }) {
		return fmt.Errorf("must be one of %s", strings.Join(r.enum, ", "))
	}
	if r.format == dateFormat && text != "" {
		if _, err := time.Parse(time.DateOnly, text); err != nil {
			return errors.New("must be a YYYY-MM-DD date")
		}
	}
	return nil
}

func matchesType(expected string, value any) bool {
	switch expected {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "number":
		return isNumber(value)
	case "integer":
		return isInteger(value)
	case "object":
		return value != nil && reflect.TypeOf(value).Kind() == reflect.Map
	case "array":
		if value == nil {
			return false
		}
		kind := reflect.TypeOf(value).Kind()
		return kind == reflect.Array || kind == reflect.Slice
	default:
		return true
	}
}

func isNumber(value any) bool {
	switch value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	default:
		return false
	}
}

func isInteger(value any) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		return v == math.Trunc(v)
	default:
		return false
	}
}
