package provider

import (
	"fmt"

	"github.com/pinotpulse/ingest/pkg/errors"
)

// ValidateConfig checks a provider config against the spec's config schema
// and returns every failure found.
func (s *Spec) ValidateConfig(config map[string]interface{}) []FieldError {
	return validateFields(s.ConfigFields, config, config)
}

// ValidateCredentials checks a credential map against the spec's credential
// schema. Visibility conditions reference the provider config, not the
// credential map.
func (s *Spec) ValidateCredentials(config, creds map[string]interface{}) []FieldError {
	return validateFields(s.CredFields, creds, config)
}

func validateFields(fields []FieldSpec, values, visCtx map[string]interface{}) []FieldError {
	var errs []FieldError
	known := make(map[string]bool, len(fields))

	for i := range fields {
		f := &fields[i]
		known[f.Name] = true
		if !f.Visible(visCtx) {
			continue
		}

		v, present := values[f.Name]
		if !present || v == nil || v == "" {
			if f.Required && f.Default == nil {
				errs = append(errs, FieldError{Field: f.Name, Message: "required"})
			}
			continue
		}

		if err := checkType(f, v); err != nil {
			errs = append(errs, FieldError{Field: f.Name, Message: err.Error()})
		}
	}

	for name := range values {
		if !known[name] {
			errs = append(errs, FieldError{Field: name, Message: "unknown field"})
		}
	}
	return errs
}

func checkType(f *FieldSpec, v interface{}) error {
	switch f.Type {
	case FieldString, FieldPassword, FieldFile:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
	case FieldInt:
		switch n := v.(type) {
		case int, int32, int64:
		case float64:
			if n != float64(int64(n)) {
				return fmt.Errorf("expected integer, got %v", n)
			}
		default:
			return fmt.Errorf("expected integer, got %T", v)
		}
	case FieldBool:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", v)
		}
	case FieldSelect:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
		for _, opt := range f.Options {
			if s == opt {
				return nil
			}
		}
		return fmt.Errorf("must be one of %v", f.Options)
	case FieldList:
		switch v.(type) {
		case []string, []interface{}:
		default:
			return fmt.Errorf("expected list, got %T", v)
		}
	}
	return nil
}

// ApplyDefaults returns a copy of config with schema defaults filled in for
// absent visible fields.
func (s *Spec) ApplyDefaults(config map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(config))
	for k, v := range config {
		out[k] = v
	}
	for i := range s.ConfigFields {
		f := &s.ConfigFields[i]
		if f.Default == nil || !f.Visible(out) {
			continue
		}
		if _, present := out[f.Name]; !present {
			out[f.Name] = f.Default
		}
	}
	return out
}

// CheckComplete returns a single validation error summarizing all field
// failures, or nil if the config and credentials both satisfy the schema.
func (s *Spec) CheckComplete(config, creds map[string]interface{}) error {
	fieldErrs := s.ValidateConfig(config)
	fieldErrs = append(fieldErrs, s.ValidateCredentials(config, creds)...)
	if len(fieldErrs) == 0 {
		return nil
	}
	err := errors.Newf(errors.ErrorTypeValidation, "provider %s config invalid (%d errors)", s.Kind, len(fieldErrs))
	for _, fe := range fieldErrs {
		err = err.WithDetail(fe.Field, fe.Message)
	}
	return err
}
