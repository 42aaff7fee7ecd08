package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/feedboard/backend/internal/repo"
)

const integrationConfigSchemaURL = "integration-config.schema.json"

const integrationConfigSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["apiKey", "remoteDatabaseId", "propertyMapping", "syncDirection"],
  "properties": {
    "apiKey": {"type": "string", "minLength": 1},
    "remoteDatabaseId": {"type": "string", "minLength": 1},
    "remoteDatabaseName": {"type": "string"},
    "propertyMapping": {
      "type": "object",
      "properties": {
        "title": {"type": "string"},
        "statusType": {"enum": ["", "select", "status"]}
      }
    },
    "statusMapping": {"$ref": "#/$defs/optionMapping"},
    "boardMapping": {"$ref": "#/$defs/optionMapping"},
    "syncDirection": {"enum": ["inbound", "outbound", "bidirectional"]}
  },
  "$defs": {
    "optionMapping": {
      "type": ["object", "null"],
      "propertyNames": {"minLength": 1},
      "additionalProperties": {
        "type": "object",
        "required": ["localId"],
        "properties": {
          "localId": {"type": "integer", "minimum": 1},
          "name": {"type": "string"}
        }
      }
    }
  }
}`

// ConfigValidator checks integration config documents before they are stored
type ConfigValidator struct {
	schema *jsonschema.Schema
}

// NewConfigValidator compiles the integration config schema
func NewConfigValidator() (*ConfigValidator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(integrationConfigSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to parse config schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(integrationConfigSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("failed to add config schema: %w", err)
	}
	schema, err := compiler.Compile(integrationConfigSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile config schema: %w", err)
	}
	return &ConfigValidator{schema: schema}, nil
}

// Validate returns an error wrapping ErrInvalidConfig when cfg does not match the schema
func (v *ConfigValidator) Validate(cfg repo.IntegrationConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	if err := v.schema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
