package task

import (
	_ "embed"

	"gopkg.in/yaml.v3"

	apperr "howell/internal/errors"
)

//go:embed templates.yaml
var templatesYAML []byte

// Template pre-fills common task shapes so one-liner requests still land
// on the board with sensible priority and tags.
type Template struct {
	TitlePrefix         string   `yaml:"title_prefix" json:"title_prefix"`
	Priority            string   `yaml:"priority" json:"priority"`
	ScopeTags           []string `yaml:"scope_tags" json:"tags"`
	DescriptionTemplate string   `yaml:"description_template" json:"-"`
}

var templates = mustLoadTemplates()

func mustLoadTemplates() map[string]Template {
	var t map[string]Template
	if err := yaml.Unmarshal(templatesYAML, &t); err != nil {
		panic("task: bad embedded templates.yaml: " + err.Error())
	}
	return t
}

// Templates returns the catalog keyed by name.
func Templates() map[string]Template {
	out := make(map[string]Template, len(templates))
	for name, t := range templates {
		out[name] = t
	}
	return out
}

// TemplateParams carries the caller overrides for CreateFromTemplate.
// Zero-valued fields fall back to the template.
type TemplateParams struct {
	Title        string
	Project      string
	ScopeFiles   []string
	ScopeDirs    []string
	ExtraTags    []string
	Priority     string
	Description  string
	Dependencies []string
	CreatedBy    string
}

// CreateFromTemplate instantiates a template: the prefix is prepended to
// the title and extra tags are appended after the template's own.
func (s *Store) CreateFromTemplate(name string, p TemplateParams) (*Task, error) {
	tmpl, ok := templates[name]
	if !ok {
		return nil, apperr.NotFound("Unknown template: %s", name)
	}

	tags := append([]string{}, tmpl.ScopeTags...)
	tags = append(tags, p.ExtraTags...)

	priority := p.Priority
	if priority == "" {
		priority = tmpl.Priority
	}
	description := p.Description
	if description == "" {
		description = tmpl.DescriptionTemplate
	}

	return s.Create(CreateParams{
		Title:        tmpl.TitlePrefix + p.Title,
		Description:  description,
		Project:      p.Project,
		ScopeFiles:   p.ScopeFiles,
		ScopeDirs:    p.ScopeDirs,
		ScopeTags:    tags,
		Priority:     priority,
		Dependencies: p.Dependencies,
		CreatedBy:    p.CreatedBy,
	})
}
