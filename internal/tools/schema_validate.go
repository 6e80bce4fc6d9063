package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tenexhq/orchestrator/pkg/models"
)

// validateAgainstSchema checks args against the JSON Schema derived from
// params, catching type/enum mismatches the required-field check in
// validateArgs does not (a string where an object is expected, a value
// outside an enum, a wrongly-typed array element).
func validateAgainstSchema(params []models.Param, args json.RawMessage) error {
	schemaDoc, err := json.Marshal(JSONSchema(params))
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("tool-args.json", strings.NewReader(string(schemaDoc))); err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	schema, err := compiler.Compile("tool-args.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	var value any
	if err := json.Unmarshal(normalizeArgs(args), &value); err != nil {
		return fmt.Errorf("invalid JSON arguments: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return err
	}
	return nil
}
