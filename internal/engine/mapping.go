package engine

import (
	"strings"

	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/model"
)

// RecordMapper renames source fields to target columns and validates the
// result against the target table's required fields.
type RecordMapper struct {
	mappings map[string]string
	required []string
	// columns is the target table's schema; nil for the custom table,
	// which accepts any shape.
	columns map[string]struct{}
	strict  bool
}

// NewRecordMapper builds a mapper for a pipeline. Unmapped source fields
// identity-match against the target table's columns; fields matching no
// column are dropped, not errors. strict drops every unmapped field
// regardless of name.
func NewRecordMapper(mappings map[string]string, targetTable, validationMode string) *RecordMapper {
	var columns map[string]struct{}
	if cols := model.TargetFields[targetTable]; len(cols) > 0 {
		columns = make(map[string]struct{}, len(cols))
		for _, c := range cols {
			columns[c] = struct{}{}
		}
	}
	return &RecordMapper{
		mappings: mappings,
		required: model.RequiredFields(targetTable),
		columns:  columns,
		strict:   strings.EqualFold(validationMode, "strict"),
	}
}

// Map returns a new Data map with mappings applied. The input record is
// not mutated.
func (m *RecordMapper) Map(r model.Record) model.Record {
	if len(m.mappings) == 0 && m.columns == nil && !m.strict {
		return r
	}
	out := make(map[string]interface{}, len(r.Data))
	for k, v := range r.Data {
		if target, ok := m.mappings[k]; ok {
			out[target] = v
			continue
		}
		if m.strict {
			continue
		}
		if m.columns != nil {
			if _, ok := m.columns[k]; !ok {
				continue
			}
		}
		out[k] = v
	}
	mapped := r
	mapped.Data = out
	return mapped
}

// Validate checks the mapped record against the target's required fields.
func (m *RecordMapper) Validate(r model.Record) error {
	if r.Data == nil {
		return errors.New(errors.ErrorTypeValidation, "record has no fields")
	}
	var missing []string
	for _, f := range m.required {
		v, ok := r.Data[f]
		if !ok || v == nil || v == "" {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return errors.Newf(errors.ErrorTypeValidation,
			"missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}
