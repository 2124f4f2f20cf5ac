package workflow_test

import (
	"errors"
	"testing"
	"testing/fstest"

	"github.com/google/go-cmp/cmp"

	"github.com/Gurpartap/taskflow/workflow"
)

func TestBuiltinCatalog(t *testing.T) {
	t.Parallel()

	catalog, err := workflow.BuiltinCatalog()
	if err != nil {
		t.Fatalf("builtin catalog: %v", err)
	}
	if diff := cmp.Diff([]string{"add_notion_task", "bug_report"}, catalog.Names()); diff != "" {
		t.Fatalf("template names mismatch (-want +got):\n%s", diff)
	}

	tpl, err := catalog.Get(workflow.DefaultTemplate)
	if err != nil {
		t.Fatalf("get default: %v", err)
	}
	if diff := cmp.Diff([]string{"task_name", "status"}, tpl.RequiredKeys); diff != "" {
		t.Fatalf("required keys mismatch (-want +got):\n%s", diff)
	}
	if tpl.Collect.MaxIterations != 5 || tpl.Classify.MaxIterations != 3 {
		t.Fatalf("unexpected ceilings: collect=%d classify=%d", tpl.Collect.MaxIterations, tpl.Classify.MaxIterations)
	}

	if _, err := catalog.Get("missing"); !errors.Is(err, workflow.ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
}

func TestCatalogMatch(t *testing.T) {
	t.Parallel()

	catalog, err := workflow.BuiltinCatalog()
	if err != nil {
		t.Fatalf("builtin catalog: %v", err)
	}

	tests := []struct {
		request string
		want    string
	}{
		{request: "Add a task to renew the domain", want: "add_notion_task"},
		{request: "The app crashes on login, looks like a regression", want: "bug_report"},
		{request: "something unrelated", want: workflow.DefaultTemplate},
	}
	for _, tt := range tests {
		t.Run(tt.request, func(t *testing.T) {
			t.Parallel()
			if got := catalog.Match(tt.request).Name; got != tt.want {
				t.Fatalf("Match(%q) = %s, want %s", tt.request, got, tt.want)
			}
		})
	}
}

const minimalTemplate = `
name: add_notion_task
required_keys: [task_name]
fields: [task_name]
collect:
  max_iterations: 2
  question: What should the task be called?
classify:
  max_iterations: 1
  types: [chore]
  priorities: [low]
`

func TestParseTemplate_Validation(t *testing.T) {
	t.Parallel()

	if _, err := workflow.ParseTemplate([]byte(minimalTemplate)); err != nil {
		t.Fatalf("minimal template should parse: %v", err)
	}

	tests := []struct {
		name string
		raw  string
	}{
		{name: "unknown field", raw: minimalTemplate + "extra: true\n"},
		{name: "required key not a field", raw: `
name: x
required_keys: [status]
fields: [task_name]
collect: {max_iterations: 1, question: q}
classify: {max_iterations: 1, types: [a], priorities: [b]}
`},
		{name: "zero ceiling", raw: `
name: x
required_keys: [task_name]
fields: [task_name]
collect: {max_iterations: 0, question: q}
classify: {max_iterations: 1, types: [a], priorities: [b]}
`},
		{name: "dangling alias", raw: `
name: x
required_keys: [task_name]
fields: [task_name]
aliases: {title: headline}
collect: {max_iterations: 1, question: q}
classify: {max_iterations: 1, types: [a], priorities: [b]}
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := workflow.ParseTemplate([]byte(tt.raw)); !errors.Is(err, workflow.ErrTemplateInvalid) {
				t.Fatalf("expected ErrTemplateInvalid, got %v", err)
			}
		})
	}
}

func TestLoadCatalog_RequiresDefault(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"plans/other.yaml": {Data: []byte(`
name: other
required_keys: [task_name]
fields: [task_name]
collect: {max_iterations: 1, question: q}
classify: {max_iterations: 1, types: [a], priorities: [b]}
`)},
		"plans/README.md": {Data: []byte("ignored")},
	}
	if _, err := workflow.LoadCatalog(fsys, "plans"); !errors.Is(err, workflow.ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}

	fsys["plans/default.yaml"] = &fstest.MapFile{Data: []byte(minimalTemplate)}
	catalog, err := workflow.LoadCatalog(fsys, "plans")
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	if diff := cmp.Diff([]string{"add_notion_task", "other"}, catalog.Names()); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}
}
