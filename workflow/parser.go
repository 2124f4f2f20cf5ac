package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/Gurpartap/taskflow/agent"
	"github.com/Gurpartap/taskflow/loop"
	"github.com/Gurpartap/taskflow/session"
)

// Intent is the model's structured reading of a request.
type Intent struct {
	Workflow string         `json:"workflow"`
	Fields   map[string]any `json:"fields"`
}

// Parser turns a natural-language request into a template and seed fields.
// Without a model, or when the model answer is unusable, it falls back to
// heuristics.
type Parser struct {
	model   agent.Model
	catalog *Catalog
}

func NewParser(model agent.Model, catalog *Catalog) *Parser {
	return &Parser{model: model, catalog: catalog}
}

// Parse returns the selected template and the fields to seed into state.
// Template defaults fill fields the request left empty.
func (p *Parser) Parse(ctx context.Context, request string) (Template, map[string]any, error) {
	tpl, fields, err := p.parse(ctx, request)
	if err != nil {
		return Template{}, nil, err
	}
	for key, value := range tpl.Defaults {
		if session.IsEmpty(fields[key]) {
			fields[key] = value
		}
	}
	if session.IsEmpty(fields[KeyDetails]) && strings.TrimSpace(request) != "" {
		fields[KeyDetails] = strings.TrimSpace(request)
	}
	return tpl, fields, nil
}

func (p *Parser) parse(ctx context.Context, request string) (Template, map[string]any, error) {
	if p.model != nil {
		intent, err := p.ask(ctx, request)
		if err == nil {
			tpl, lookupErr := p.catalog.Get(intent.Workflow)
			if lookupErr != nil {
				tpl = p.catalog.Match(request)
			}
			fields, err := fieldsFrom(tpl, intent.Fields)
			if err == nil {
				return tpl, fields, nil
			}
		}
		if isFatal(ctx, err) {
			return Template{}, nil, err
		}
	}
	tpl := p.catalog.Match(request)
	return tpl, HeuristicFields(tpl, request), nil
}

func (p *Parser) ask(ctx context.Context, request string) (Intent, error) {
	reply, err := p.model.Generate(ctx, agent.ModelRequest{
		Purpose: PurposeParse,
		JSON:    true,
		Messages: []agent.Message{
			{Role: agent.RoleSystem, Content: p.instructions()},
			{Role: agent.RoleUser, Content: request},
		},
	})
	if err != nil {
		return Intent{}, err
	}
	var intent Intent
	if err := decodeObject(reply.Content, &intent); err != nil {
		return Intent{}, fmt.Errorf("parse intent: %w", err)
	}
	return intent, nil
}

func (p *Parser) instructions() string {
	var b strings.Builder
	b.WriteString("You are a workflow parser. Read the user's request and pick the workflow that fits it.\n")
	b.WriteString("Workflows:\n")
	for _, name := range p.catalog.Names() {
		tpl := p.catalog.templates[name]
		fmt.Fprintf(&b, "- %s: %s Fields: %s.\n", tpl.Name, tpl.Description, strings.Join(tpl.Fields, ", "))
	}
	b.WriteString(`Answer with {"workflow": "<name>", "fields": {"<field>": "<value>"}}. `)
	b.WriteString("Only include fields the user actually stated. Dates use YYYY-MM-DD.")
	return b.String()
}

func fieldsFrom(tpl Template, raw map[string]any) (map[string]any, error) {
	supplementary, err := loop.NewSupplementary(tpl.Fields, tpl.Aliases)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	fields := supplementary.Extract(string(encoded))
	if fields == nil {
		fields = map[string]any{}
	}
	return fields, nil
}

var (
	isoDatePattern  = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	quotedPattern   = regexp.MustCompile(`["“]([^"”]{2,})["”]`)
	calledPattern   = regexp.MustCompile(`(?i)\b(?:called|named|titled)\s+([^.,;\n]+)`)
	urgencyPattern  = regexp.MustCompile(`(?i)\b(urgent|asap|immediately)\b`)
	priorityPattern = regexp.MustCompile(`(?i)\b(\w+)\s+priority\b`)
)

// HeuristicFields extracts what it can from request without a model:
// "key: value" segments, a quoted or "called ..." task name, an ISO due
// date, and a stated priority.
func HeuristicFields(tpl Template, request string) map[string]any {
	fields := map[string]any{}
	if supplementary, err := loop.NewSupplementary(tpl.Fields, tpl.Aliases); err == nil {
		for key, value := range supplementary.Extract(request) {
			fields[key] = value
		}
	}
	if session.IsEmpty(fields[KeyTaskName]) {
		if m := quotedPattern.FindStringSubmatch(request); m != nil {
			fields[KeyTaskName] = strings.TrimSpace(m[1])
		} else if m := calledPattern.FindStringSubmatch(request); m != nil {
			fields[KeyTaskName] = strings.TrimSpace(m[1])
		}
	}
	if session.IsEmpty(fields[KeyDueDate]) {
		if date := isoDatePattern.FindString(request); date != "" {
			fields[KeyDueDate] = date
		}
	}
	if session.IsEmpty(fields[KeyPriority]) {
		if m := priorityPattern.FindStringSubmatch(request); m != nil && containsFold(tpl.Classify.Priorities, m[1]) {
			fields[KeyPriority] = strings.ToLower(m[1])
		} else if urgencyPattern.MatchString(request) {
			fields[KeyPriority] = "high"
		}
	}
	return fields
}

// decodeObject unmarshals the first JSON object embedded in text, tolerating
// code fences and surrounding prose.
func decodeObject(text string, dst any) error {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in %q", truncate(text, 80))
	}
	return json.Unmarshal([]byte(text[start:end+1]), dst)
}

func containsFold(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
