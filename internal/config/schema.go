package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// configSchema is the structural contract for replace-whole-config
// bodies. Semantic checks (regex compilation, predicate names) happen
// in Validate; this catches shape problems with a useful error before
// decoding.
const configSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "version": {"type": "integer", "minimum": 0},
    "attention_rules": {"$ref": "#/$defs/ruleList"},
    "review_rules": {"$ref": "#/$defs/ruleList"},
    "response_rules": {"$ref": "#/$defs/ruleList"},
    "trust": {"type": "object"},
    "gaming": {"type": "object"},
    "learning": {"type": "object"}
  },
  "$defs": {
    "ruleList": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "name", "kind", "pattern", "priority"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string", "minLength": 1},
          "kind": {"enum": ["regex", "length", "frequency", "custom"]},
          "pattern": {"type": "string", "minLength": 1},
          "priority": {"enum": ["critical", "high", "medium", "low", "ignore"]},
          "enabled": {"type": "boolean"}
        }
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(configSchema)))
		if err != nil {
			schemaErr = err
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("config.json", doc); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile("config.json")
	})
	return schema, schemaErr
}

// Decode parses and fully validates a raw JSON configuration. Rejection
// is all-or-nothing; callers keep their previous configuration on any
// error.
func Decode(raw []byte) (*Config, error) {
	sch, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("config schema: %w", err)
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, &ValidationError{Problems: []string{"body is not valid JSON: " + err.Error()}}
	}
	if err := sch.Validate(doc); err != nil {
		return nil, &ValidationError{Problems: []string{"schema validation failed: " + err.Error()}}
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, &ValidationError{Problems: []string{"decode failed: " + err.Error()}}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
