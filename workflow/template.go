package workflow

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed templates/*.yaml
var builtinTemplates embed.FS

// DefaultTemplate is chosen when a request matches no template keyword.
const DefaultTemplate = "add_notion_task"

var (
	ErrTemplateInvalid  = errors.New("workflow template is invalid")
	ErrTemplateNotFound = errors.New("workflow template not found")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Template is a plan for one kind of request: which fields to collect, how
// to ask for them, and which classifications to offer.
type Template struct {
	Name         string            `yaml:"name" validate:"required"`
	Description  string            `yaml:"description"`
	Keywords     []string          `yaml:"keywords"`
	RequiredKeys []string          `yaml:"required_keys" validate:"required,min=1,dive,required"`
	Fields       []string          `yaml:"fields" validate:"required,min=1,dive,required"`
	Aliases      map[string]string `yaml:"aliases"`
	Defaults     map[string]string `yaml:"defaults"`
	Collect      CollectPlan       `yaml:"collect"`
	Classify     ClassifyPlan      `yaml:"classify"`
}

type CollectPlan struct {
	MaxIterations int    `yaml:"max_iterations" validate:"gte=1"`
	Question      string `yaml:"question" validate:"required"`
	Instructions  string `yaml:"instructions"`
}

type ClassifyPlan struct {
	MaxIterations int      `yaml:"max_iterations" validate:"gte=1"`
	Types         []string `yaml:"types" validate:"required,min=1,dive,required"`
	Priorities    []string `yaml:"priorities" validate:"required,min=1,dive,required"`
}

// Validate checks field tags and that required keys and aliases refer to
// declared fields.
func (t Template) Validate() error {
	if err := validate.Struct(t); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("%w: %s: %v", ErrTemplateInvalid, t.Name, err)
		}
		reasons := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			reasons = append(reasons, fmt.Sprintf("field=%s rule=%s", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s: %s", ErrTemplateInvalid, t.Name, strings.Join(reasons, ", "))
	}
	for _, key := range t.RequiredKeys {
		if !slices.Contains(t.Fields, key) {
			return fmt.Errorf("%w: %s: required key %q is not a field", ErrTemplateInvalid, t.Name, key)
		}
	}
	for alias, key := range t.Aliases {
		if !slices.Contains(t.Fields, key) {
			return fmt.Errorf("%w: %s: alias %q targets unknown field %q", ErrTemplateInvalid, t.Name, alias, key)
		}
	}
	return nil
}

// Catalog holds the templates known to the parser.
type Catalog struct {
	templates map[string]Template
}

// BuiltinCatalog loads the templates embedded in the binary.
func BuiltinCatalog() (*Catalog, error) {
	return LoadCatalog(builtinTemplates, "templates")
}

// LoadCatalog reads every *.yaml file under dir. The catalog must contain
// DefaultTemplate.
func LoadCatalog(fsys fs.FS, dir string) (*Catalog, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	catalog := &Catalog{templates: make(map[string]Template, len(entries))}
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".yaml" {
			continue
		}
		raw, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("load templates: %w", err)
		}
		tpl, err := ParseTemplate(raw)
		if err != nil {
			return nil, fmt.Errorf("load templates: %s: %w", entry.Name(), err)
		}
		if _, dup := catalog.templates[tpl.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate template %q", ErrTemplateInvalid, tpl.Name)
		}
		catalog.templates[tpl.Name] = tpl
	}
	if _, ok := catalog.templates[DefaultTemplate]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, DefaultTemplate)
	}
	return catalog, nil
}

// ParseTemplate decodes and validates one YAML template. Unknown fields are
// rejected.
func ParseTemplate(raw []byte) (Template, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	var tpl Template
	if err := decoder.Decode(&tpl); err != nil {
		return Template{}, fmt.Errorf("%w: %v", ErrTemplateInvalid, err)
	}
	tpl.Name = strings.TrimSpace(tpl.Name)
	if err := tpl.Validate(); err != nil {
		return Template{}, err
	}
	return tpl, nil
}

func (c *Catalog) Get(name string) (Template, error) {
	tpl, ok := c.templates[strings.TrimSpace(name)]
	if !ok {
		return Template{}, fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
	}
	return tpl, nil
}

func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.templates))
	for name := range c.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Match picks the template whose keywords occur most often in request.
// A zero score selects DefaultTemplate; ties keep the first name in sort order.
func (c *Catalog) Match(request string) Template {
	words := strings.FieldsFunc(strings.ToLower(request), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_')
	})
	best, bestScore := c.templates[DefaultTemplate], 0
	for _, name := range c.Names() {
		tpl := c.templates[name]
		score := 0
		for _, word := range words {
			if slices.Contains(tpl.Keywords, word) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = tpl, score
		}
	}
	return best
}
