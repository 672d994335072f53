// Package templates holds the read-only catalog of workflow templates.
package templates

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"workflow-provisioner/pkg/models"
)

//go:embed catalog.yaml
var catalogYAML []byte

// ErrNotFound is returned by Get for an unknown template id.
var ErrNotFound = errors.New("template not found")

// Registry is an immutable, id-keyed set of templates. Accessors hand out
// copies so callers cannot mutate the catalog.
type Registry struct {
	byID map[string]models.WorkflowTemplate
	ids  []string
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
	defaultErr      error
)

// Default returns the registry built from the embedded catalog. The catalog
// is decoded on first use only.
func Default() (*Registry, error) {
	defaultOnce.Do(func() {
		defaultRegistry, defaultErr = NewRegistry(catalogYAML)
	})
	return defaultRegistry, defaultErr
}

type catalogFile struct {
	Templates []catalogTemplate `yaml:"templates"`
}

type catalogTemplate struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Type        string            `yaml:"type"`
	Variables   []catalogVariable `yaml:"variables"`
	Content     string            `yaml:"content"`
}

type catalogVariable struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
	Default     any    `yaml:"default"`
}

// NewRegistry decodes and validates a YAML catalog.
func NewRegistry(data []byte) (*Registry, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to decode template catalog: %w", err)
	}

	r := &Registry{byID: make(map[string]models.WorkflowTemplate, len(file.Templates))}
	for _, ct := range file.Templates {
		tpl, err := ct.toModel()
		if err != nil {
			return nil, err
		}
		if _, dup := r.byID[tpl.ID]; dup {
			return nil, fmt.Errorf("duplicate template id %q", tpl.ID)
		}
		r.byID[tpl.ID] = tpl
		r.ids = append(r.ids, tpl.ID)
	}
	sort.Strings(r.ids)
	return r, nil
}

func (ct catalogTemplate) toModel() (models.WorkflowTemplate, error) {
	if ct.ID == "" {
		return models.WorkflowTemplate{}, errors.New("template without id")
	}
	tpl := models.WorkflowTemplate{
		ID:          ct.ID,
		Name:        ct.Name,
		Description: ct.Description,
		Type:        ct.Type,
		Body:        ct.Content,
	}
	seen := make(map[string]bool, len(ct.Variables))
	for _, cv := range ct.Variables {
		if cv.Name == "" {
			return models.WorkflowTemplate{}, fmt.Errorf("template %q: variable without name", ct.ID)
		}
		if seen[cv.Name] {
			return models.WorkflowTemplate{}, fmt.Errorf("template %q: duplicate variable %q", ct.ID, cv.Name)
		}
		seen[cv.Name] = true

		kind := models.VariableKind(cv.Type)
		if !kind.Valid() {
			return models.WorkflowTemplate{}, fmt.Errorf("template %q: variable %q has unknown type %q", ct.ID, cv.Name, cv.Type)
		}
		v := models.WorkflowVariable{
			Name:        cv.Name,
			Kind:        kind,
			Description: cv.Description,
			Required:    cv.Required,
		}
		if cv.Default != nil {
			def, err := coerceDefault(kind, cv.Default)
			if err != nil {
				return models.WorkflowTemplate{}, fmt.Errorf("template %q: variable %q default: %w", ct.ID, cv.Name, err)
			}
			v.Default = &def
		}
		tpl.Variables = append(tpl.Variables, v)
	}
	return tpl, nil
}

// coerceDefault is strict: a default must already be of the declared kind.
func coerceDefault(kind models.VariableKind, raw any) (models.Value, error) {
	switch r := raw.(type) {
	case string:
		if kind == models.KindString {
			return models.StringValue(r), nil
		}
	case bool:
		if kind == models.KindBoolean {
			return models.BooleanValue(r), nil
		}
	case int:
		if kind == models.KindNumber {
			return models.NumberValue(float64(r)), nil
		}
	case float64:
		if kind == models.KindNumber {
			return models.NumberValue(r), nil
		}
	}
	return models.Value{}, fmt.Errorf("%v (%T) does not match type %s", raw, raw, kind)
}

// Get returns the template with the given id.
func (r *Registry) Get(id string) (models.WorkflowTemplate, error) {
	tpl, ok := r.byID[id]
	if !ok {
		return models.WorkflowTemplate{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return clone(tpl), nil
}

// List returns every template ordered by id.
func (r *Registry) List() []models.WorkflowTemplate {
	out := make([]models.WorkflowTemplate, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, clone(r.byID[id]))
	}
	return out
}

// Len reports the number of templates.
func (r *Registry) Len() int { return len(r.ids) }

func clone(t models.WorkflowTemplate) models.WorkflowTemplate {
	vars := make([]models.WorkflowVariable, len(t.Variables))
	for i, v := range t.Variables {
		if v.Default != nil {
			d := *v.Default
			v.Default = &d
		}
		vars[i] = v
	}
	t.Variables = vars
	return t
}
