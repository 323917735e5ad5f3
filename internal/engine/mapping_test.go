package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/model"
)

func TestMapperPassthroughWithoutMappings(t *testing.T) {
	m := NewRecordMapper(nil, "custom", "")
	rec := model.Record{Data: map[string]interface{}{"a": 1, "b": "x"}}

	mapped := m.Map(rec)
	assert.Equal(t, rec.Data, mapped.Data)
}

func TestMapperRenamesAndKeepsUnmapped(t *testing.T) {
	m := NewRecordMapper(map[string]string{"amt": "amount"}, "custom", "lenient")
	rec := model.Record{Data: map[string]interface{}{"amt": 12.5, "memo": "coffee"}}

	mapped := m.Map(rec)
	assert.Equal(t, 12.5, mapped.Data["amount"])
	assert.Equal(t, "coffee", mapped.Data["memo"])
	assert.NotContains(t, mapped.Data, "amt")

	// The input record is untouched.
	assert.Equal(t, 12.5, rec.Data["amt"])
	assert.NotContains(t, rec.Data, "amount")
}

func TestMapperDropsFieldsOutsideTargetSchema(t *testing.T) {
	m := NewRecordMapper(map[string]string{"amt": "amount"}, "deposits", "")
	rec := model.Record{Data: map[string]interface{}{
		"amt":         100.0,
		"deposit_id":  "d-1",
		"account_id":  "a-1",
		"ingest_node": "worker-7",
	}}

	mapped := m.Map(rec)
	assert.Equal(t, 100.0, mapped.Data["amount"])
	// Unmapped fields identity-match the deposits columns; junk source
	// columns never reach the writer.
	assert.Equal(t, "d-1", mapped.Data["deposit_id"])
	assert.Equal(t, "a-1", mapped.Data["account_id"])
	assert.NotContains(t, mapped.Data, "ingest_node")
}

func TestMapperFiltersSchemaWithoutMappings(t *testing.T) {
	m := NewRecordMapper(nil, "deposits", "")
	rec := model.Record{Data: map[string]interface{}{
		"deposit_id": "d-1",
		"_offset":    int64(42),
	}}

	mapped := m.Map(rec)
	assert.Equal(t, "d-1", mapped.Data["deposit_id"])
	assert.NotContains(t, mapped.Data, "_offset")
	// The input record is untouched.
	assert.Contains(t, rec.Data, "_offset")
}

func TestMapperStrictDropsUnmapped(t *testing.T) {
	m := NewRecordMapper(map[string]string{"amt": "amount"}, "custom", "strict")
	rec := model.Record{Data: map[string]interface{}{"amt": 1, "memo": "coffee"}}

	mapped := m.Map(rec)
	assert.Contains(t, mapped.Data, "amount")
	assert.NotContains(t, mapped.Data, "memo")
}

func TestValidateRequiredFields(t *testing.T) {
	m := NewRecordMapper(nil, "deposits", "")

	ok := model.Record{Data: map[string]interface{}{
		"deposit_id":   "d-1",
		"account_id":   "a-1",
		"amount":       100.0,
		"deposit_date": "2026-08-27",
	}}
	assert.NoError(t, m.Validate(ok))

	missing := model.Record{Data: map[string]interface{}{
		"deposit_id": "d-2",
		"account_id": "a-1",
	}}
	err := m.Validate(missing)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	assert.Contains(t, err.Error(), "amount")
	assert.Contains(t, err.Error(), "deposit_date")
}

func TestValidateRejectsNilAndEmpty(t *testing.T) {
	m := NewRecordMapper(nil, "deposits", "")

	err := m.Validate(model.Record{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	blank := model.Record{Data: map[string]interface{}{
		"deposit_id":   "",
		"account_id":   nil,
		"amount":       1,
		"deposit_date": "2026-08-27",
	}}
	err = m.Validate(blank)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deposit_id")
	assert.Contains(t, err.Error(), "account_id")
}

func TestValidateCustomTableAcceptsAnyShape(t *testing.T) {
	m := NewRecordMapper(nil, "custom", "")
	assert.NoError(t, m.Validate(model.Record{Data: map[string]interface{}{"anything": true}}))
}
