package config

import (
	"sync"

	"github.com/grovetools/trail/schema"
)

var (
	validatorOnce sync.Once
	validatorInst *schema.Validator
	validatorErr  error
)

// SchemaValidator validates configuration against the generated JSON Schema.
type SchemaValidator struct {
	validator *schema.Validator
}

// NewSchemaValidator returns a validator for the Config schema. The schema is
// generated and compiled once per process.
func NewSchemaValidator() (*SchemaValidator, error) {
	validatorOnce.Do(func() {
		data, err := GenerateSchema()
		if err != nil {
			validatorErr = err
			return
		}
		validatorInst, validatorErr = schema.NewValidator("trail.schema.json", data)
	})
	if validatorErr != nil {
		return nil, validatorErr
	}
	return &SchemaValidator{validator: validatorInst}, nil
}

// Validate validates configuration data against the schema.
func (v *SchemaValidator) Validate(configData interface{}) error {
	return v.validator.Validate(configData)
}
