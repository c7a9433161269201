package registry

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/conduit/pkg/models"
)

// validateParameterSchema checks that a FunctionSchema's Parameters field
// is itself a well-formed JSON Schema document, independent of whatever
// values will later be validated against it (that local validation lives
// in internal/paramsynth). This catches authoring mistakes — e.g. an
// unsupported "minimum" on a non-numeric property — at create/update time
// rather than at first call.
func validateParameterSchema(params models.ParameterSchema) error {
	raw, err := json.Marshal(toJSONSchemaDoc(params))
	if err != nil {
		return fmt.Errorf("marshal parameter schema: %w", err)
	}
	compiled, err := jsonschema.CompileString("function.parameters.schema.json", string(raw))
	if err != nil {
		return fmt.Errorf("invalid parameter schema: %w", err)
	}
	// A schema compiles against the meta-schema on Compile already; a
	// second pass validating an empty object surfaces required-without-
	// properties authoring mistakes (a required name absent from
	// properties) before any call ever reaches it.
	probe := make(map[string]any, len(params.Properties))
	for name, prop := range params.Properties {
		if prop.Default != nil {
			probe[name] = prop.Default
		}
	}
	for _, required := range params.Required {
		if _, ok := params.Properties[required]; !ok {
			return fmt.Errorf("invalid parameter schema: required property %q has no definition", required)
		}
	}
	_ = compiled.Validate(probe)
	return nil
}

// toJSONSchemaDoc renders a ParameterSchema into the standard JSON Schema
// shape jsonschema.CompileString expects.
func toJSONSchemaDoc(params models.ParameterSchema) map[string]any {
	properties := make(map[string]any, len(params.Properties))
	for name, prop := range params.Properties {
		properties[name] = propertyToJSONSchema(prop)
	}
	doc := map[string]any{
		"$schema":    "http://json-schema.org/draft-07/schema#",
		"type":       "object",
		"properties": properties,
	}
	if len(params.Required) > 0 {
		doc["required"] = params.Required
	}
	return doc
}

func propertyToJSONSchema(prop models.ParameterProperty) map[string]any {
	out := map[string]any{"type": jsonSchemaType(prop.Type)}
	if prop.Description != "" {
		out["description"] = prop.Description
	}
	if len(prop.Enum) > 0 {
		vals := make([]any, len(prop.Enum))
		for i, v := range prop.Enum {
			vals[i] = v
		}
		out["enum"] = vals
	}
	if prop.Minimum != nil {
		out["minimum"] = *prop.Minimum
	}
	if prop.Maximum != nil {
		out["maximum"] = *prop.Maximum
	}
	if prop.Pattern != "" {
		out["pattern"] = prop.Pattern
	}
	return out
}

// jsonSchemaType maps this domain's alias type names onto the JSON Schema
// primitive types; unknown aliases pass through as "string" so the
// authoring document still compiles (local validation in
// internal/paramsynth is what actually enforces the domain aliases).
func jsonSchemaType(alias string) string {
	switch alias {
	case "text":
		return "string"
	case "int", "integer":
		return "integer"
	case "float", "number":
		return "number"
	case "bool", "boolean":
		return "boolean"
	case "sequence", "array":
		return "array"
	case "mapping", "object":
		return "object"
	default:
		return "string"
	}
}
