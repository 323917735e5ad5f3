// Package provider defines the data-driven catalog of ingestion providers:
// their config and credential schemas, execution modes, and validation.
package provider

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/model"
)

// FieldType is the value type of a schema field.
type FieldType string

const (
	FieldString   FieldType = "string"
	FieldInt      FieldType = "int"
	FieldBool     FieldType = "bool"
	FieldSelect   FieldType = "select"
	FieldList     FieldType = "list"
	FieldPassword FieldType = "password"
	FieldFile     FieldType = "file"
)

// FieldSpec describes one config or credential field of a provider.
type FieldSpec struct {
	Name     string      `json:"name"`
	Label    string      `json:"label"`
	Type     FieldType   `json:"type"`
	Required bool        `json:"required"`
	Default  interface{} `json:"default,omitempty"`
	Options  []string    `json:"options,omitempty"`
	// VisibleWhen makes the field applicable only when every listed
	// sibling field holds one of the listed values. An invisible field
	// is neither required nor validated.
	VisibleWhen map[string][]string `json:"visible_when,omitempty"`
}

// Visible reports whether the field applies given the provider config.
func (f *FieldSpec) Visible(config map[string]interface{}) bool {
	for sibling, allowed := range f.VisibleWhen {
		v := config[sibling]
		s := fmt.Sprintf("%v", v)
		if v == nil {
			s = ""
		}
		match := false
		for _, a := range allowed {
			if s == a {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}

// Spec describes a provider kind.
type Spec struct {
	Kind            string              `json:"kind"`
	DisplayName     string              `json:"display_name"`
	Category        string              `json:"category"`
	Mode            model.ExecutionMode `json:"execution_mode"`
	DefaultSchedule string              `json:"default_schedule,omitempty"`
	ConfigFields    []FieldSpec         `json:"config_fields"`
	CredFields      []FieldSpec         `json:"credential_fields"`
}

// FieldError is one itemized validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Registry holds provider specs keyed by kind.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]*Spec
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]*Spec)}
}

// Register adds a provider spec. Registering a duplicate kind is an error.
func (r *Registry) Register(s *Spec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[s.Kind]; exists {
		return errors.Newf(errors.ErrorTypeConflict, "provider %q already registered", s.Kind)
	}
	r.specs[s.Kind] = s
	return nil
}

// Get returns the spec for a kind.
func (r *Registry) Get(kind string) (*Spec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[kind]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "unknown provider kind %q", kind)
	}
	return s, nil
}

// List returns all registered specs sorted by kind.
func (r *Registry) List() []*Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Spec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

var defaultRegistry = NewRegistry()

// Default returns the global registry populated with the built-in catalog.
func Default() *Registry {
	return defaultRegistry
}

func mustRegister(s *Spec) {
	if err := defaultRegistry.Register(s); err != nil {
		panic(err)
	}
}
