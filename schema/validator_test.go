package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "driver": {"type": "string", "enum": ["sqlite", "memory"]},
    "limit": {"type": "integer", "minimum": 0}
  },
  "additionalProperties": false
}`

type sample struct {
	Driver string `json:"driver,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

func TestValidator(t *testing.T) {
	v, err := NewValidator("test.json", []byte(testSchema))
	require.NoError(t, err)

	tests := []struct {
		name    string
		data    interface{}
		wantErr string
	}{
		{name: "valid struct", data: sample{Driver: "sqlite", Limit: 5}},
		{name: "empty struct", data: sample{}},
		{name: "bad enum", data: sample{Driver: "postgres"}, wantErr: "/driver"},
		{name: "negative limit", data: sample{Limit: -1}, wantErr: "/limit"},
		{name: "unknown key", data: map[string]interface{}{"extra": true}, wantErr: "schema validation failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.data)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewValidatorRejectsBrokenSchema(t *testing.T) {
	_, err := NewValidator("broken.json", []byte(`{"type": 12}`))
	assert.Error(t, err)
}
