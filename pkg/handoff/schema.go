package handoff

import (
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// SchemaRegistry maps handoff types to compiled JSON Schemas. Registration is
// typically done once at startup; lookups are concurrent.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]*gojsonschema.Schema
}

func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[string]*gojsonschema.Schema)}
}

// Register compiles and stores the schema for a handoff type.
func (r *SchemaRegistry) Register(handoffType, schemaJSON string) error {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return fmt.Errorf("invalid schema for handoff type %q: %w", handoffType, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.schemas[handoffType] = schema

	return nil
}

// Schema returns the compiled schema for a handoff type.
func (r *SchemaRegistry) Schema(handoffType string) (*gojsonschema.Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schema, ok := r.schemas[handoffType]

	return schema, ok
}

// Types returns the registered handoff types.
func (r *SchemaRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.schemas))
	for handoffType := range r.schemas {
		out = append(out, handoffType)
	}

	return out
}

// DefaultSchemas returns the built-in schemas for the standard phase-to-phase
// handoffs.
func DefaultSchemas() map[string]string {
	return map[string]string{
		"requirements": `{
			"type": "object",
			"required": ["summary", "requirements"],
			"properties": {
				"summary": {"type": "string", "minLength": 1},
				"requirements": {
					"type": "array",
					"minItems": 1,
					"items": {"type": "string"}
				},
				"constraints": {"type": "array", "items": {"type": "string"}}
			}
		}`,
		"architecture": `{
			"type": "object",
			"required": ["overview", "components"],
			"properties": {
				"overview": {"type": "string", "minLength": 1},
				"components": {
					"type": "array",
					"minItems": 1,
					"items": {
						"type": "object",
						"required": ["name", "responsibility"],
						"properties": {
							"name": {"type": "string"},
							"responsibility": {"type": "string"}
						}
					}
				}
			}
		}`,
		"implementation": `{
			"type": "object",
			"required": ["changes"],
			"properties": {
				"changes": {
					"type": "array",
					"minItems": 1,
					"items": {"type": "string"}
				},
				"notes": {"type": "string"}
			}
		}`,
		"test_report": `{
			"type": "object",
			"required": ["total", "passed"],
			"properties": {
				"total": {"type": "integer", "minimum": 0},
				"passed": {"type": "integer", "minimum": 0},
				"failures": {"type": "array", "items": {"type": "string"}}
			}
		}`,
		"deployment_record": `{
			"type": "object",
			"required": ["environment", "version"],
			"properties": {
				"environment": {"type": "string", "minLength": 1},
				"version": {"type": "string", "minLength": 1},
				"url": {"type": "string"}
			}
		}`,
	}
}

// NewDefaultRegistry returns a registry preloaded with the built-in schemas.
func NewDefaultRegistry() *SchemaRegistry {
	registry := NewSchemaRegistry()

	for handoffType, schemaJSON := range DefaultSchemas() {
		err := registry.Register(handoffType, schemaJSON)
		if err != nil {
			// The built-in schemas are compile-time constants.
			panic(err)
		}
	}

	return registry
}
