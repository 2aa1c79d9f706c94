package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrSchemaViolation wraps every schema validation failure so callers can
// distinguish a malformed definition file from an IO problem.
var ErrSchemaViolation = errors.New("workflow definition violates schema")

// workflowSchema is the JSON Schema a serialized workflow definition must
// satisfy before it is unmarshalled into a Workflow.
const workflowSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "name", "steps"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string", "minLength": 3},
    "description": {"type": "string"},
    "variables": {"type": "object"},
    "metadata": {"type": "object"},
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "uid", "name", "type"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "uid": {"type": "string", "pattern": "^[a-z0-9]+$"},
          "name": {"type": "string", "minLength": 1},
          "type": {"type": "string", "enum": ["action", "approval", "parallel", "conditional"]},
          "enabled": {"type": "boolean"},
          "dependencies": {
            "type": "array",
            "items": {"type": "string", "minLength": 1}
          },
          "action": {
            "type": "object",
            "required": ["type"],
            "properties": {
              "id": {"type": "string"},
              "type": {"type": "string", "minLength": 1},
              "name": {"type": "string"},
              "configuration": {"type": "object"}
            }
          },
          "approval": {
            "type": "object",
            "properties": {
              "title": {"type": "string"},
              "description": {"type": "string"},
              "timeout_secs": {"type": "integer", "minimum": 0},
              "context": {"type": "object"}
            }
          }
        }
      }
    }
  }
}`

// ValidateDefinition validates raw workflow JSON against the schema.
func ValidateDefinition(data []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(workflowSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}

	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}

	return fmt.Errorf("%w: %s", ErrSchemaViolation, strings.Join(details, "; "))
}
