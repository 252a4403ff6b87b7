package runtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// statusSchemaJSON constrains the shape of a stage status.json before the
// outcome decoder runs, so a stage that writes garbage gets a schema
// diagnostic instead of a confusing decode error. The legacy wrapper
// {"outcome": {...}} is also allowed.
const statusSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "status": {"type": "string", "minLength": 1},
    "preferred_label": {"type": "string"},
    "suggested_next_ids": {"type": "array", "items": {"type": "string"}},
    "context_updates": {"type": "object", "additionalProperties": {"type": "string"}},
    "notes": {"type": "string"},
    "failure_reason": {"type": "string"},
    "meta": {"type": "object", "additionalProperties": {"type": "string"}},
    "outcome": {"type": "object"}
  },
  "anyOf": [
    {"required": ["status"]},
    {"required": ["outcome"]}
  ]
}`

var (
	statusSchemaOnce sync.Once
	statusSchema     *jsonschema.Schema
	statusSchemaErr  error
)

func compiledStatusSchema() (*jsonschema.Schema, error) {
	statusSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("status.schema.json", bytes.NewReader([]byte(statusSchemaJSON))); err != nil {
			statusSchemaErr = err
			return
		}
		statusSchema, statusSchemaErr = c.Compile("status.schema.json")
	})
	return statusSchema, statusSchemaErr
}

// ValidateStatusJSON checks a raw status.json payload against the stage
// status schema.
func ValidateStatusJSON(data []byte) error {
	schema, err := compiledStatusSchema()
	if err != nil {
		return fmt.Errorf("compile status schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("status.json is not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("status.json schema: %w", err)
	}
	return nil
}

// DecodeValidatedOutcome validates then decodes a status.json payload.
func DecodeValidatedOutcome(data []byte) (Outcome, error) {
	if err := ValidateStatusJSON(data); err != nil {
		return Outcome{}, err
	}
	return DecodeOutcomeJSON(data)
}
