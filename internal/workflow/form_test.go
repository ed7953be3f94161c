package workflow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensur/platform/internal/shared/types"
)

func TestParseFormDefinition(t *testing.T) {
	fd, err := ParseFormDefinition(nil)
	require.NoError(t, err)
	assert.Empty(t, fd.Fields)

	fd, err = ParseFormDefinition(json.RawMessage(`{"x":"x-value"}`))
	require.NoError(t, err)
	assert.Empty(t, fd.Fields)
	assert.Empty(t, fd.Validate(map[string]any{"anything": 1}))

	_, err = ParseFormDefinition(json.RawMessage(`[1,2]`))
	assert.Error(t, err)

	_, err = ParseFormDefinition(json.RawMessage(`{"fields": 3}`))
	assert.Error(t, err)
}

func TestFormDefinition_Check(t *testing.T) {
	fd := &FormDefinition{Fields: []FormField{
		{Name: "note", Type: FieldText},
		{Name: "", Type: FieldText},
		{Name: "note", Type: FieldText},
		{Name: "kind", Type: FieldSelect},
		{Name: "when", Type: "date"},
	}}
	problems := fd.Check()
	assert.Len(t, problems, 4)
	assert.Equal(t, "name is required", problems["fields[1]"])
	assert.Equal(t, `duplicate field "note"`, problems["fields[2]"])
	assert.Equal(t, "select fields need options", problems["fields[3]"])
	assert.Equal(t, `unknown type "date"`, problems["fields[4]"])
}

func TestFormDefinition_ValidateAccumulates(t *testing.T) {
	fd := &FormDefinition{Fields: []FormField{
		{Name: "note", Type: FieldText, Required: true},
		{Name: "count", Type: FieldNumber},
		{Name: "confirmed", Type: FieldBoolean, Required: true},
		{Name: "outcome", Type: FieldSelect, Options: []string{"positive", "negative"}},
	}}

	problems := fd.Validate(map[string]any{
		"count":   "three",
		"outcome": "maybe",
	})
	assert.Equal(t, map[string]string{
		"note":      "this field is required",
		"count":     "must be a number",
		"confirmed": "this field is required",
		"outcome":   "must be one of the options",
	}, problems)

	assert.Empty(t, fd.Validate(map[string]any{
		"note":      "sampled",
		"count":     float64(3),
		"confirmed": false,
		"outcome":   "negative",
		"extra":     true,
	}))
}

func TestCondition(t *testing.T) {
	_, err := CompileCondition("  ")
	assert.Error(t, err)

	_, err = CompileCondition("data.severity >=")
	assert.Error(t, err)

	_, err = CompileCondition(`"not a bool"`)
	assert.Error(t, err)

	reportType := types.NewID()
	c, err := CompileCondition(`data.severity >= 3 && report_type_id == "` + reportType.String() + `"`)
	require.NoError(t, err)

	ok, err := c.Match(reportType, map[string]any{"severity": 4})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Match(reportType, map[string]any{"severity": 1})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.Match(types.NewID(), map[string]any{"severity": 4})
	require.NoError(t, err)
	assert.False(t, ok)

	always, err := CompileCondition("true")
	require.NoError(t, err)
	ok, err = always.Match(reportType, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}
