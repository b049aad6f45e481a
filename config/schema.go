package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// GenerateSchema generates the JSON Schema for trail.yml. Extensions are
// excluded; unknown top-level keys are checked by their owning package.
func GenerateSchema() ([]byte, error) {
	r := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		ExpandedStruct:            true,
		FieldNameTag:              "yaml",
		// Only fields tagged jsonschema:"required" are required.
		RequiredFromJSONSchemaTags: true,
	}

	schema := r.Reflect(&Config{})
	schema.Title = "Trail Configuration"
	schema.Description = "Schema for trail.yml and trail.toml."

	return json.MarshalIndent(schema, "", "  ")
}
