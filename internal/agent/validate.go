package agent

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/cortexgw/cortex/internal/fault"
	"github.com/cortexgw/cortex/pkg/models"
)

// compiledSchema pairs a tool's declared parameter schema with its name
// for lookup. Tools without declared parameters validate trivially.
type compiledSchema struct {
	name   string
	schema *jsonschema.Schema
}

// compileToolSchemas compiles the declared parameter schemas once per
// run, keyed by lowercase tool name. An invalid declared schema is a
// pathway configuration error, not a model error.
func compileToolSchemas(tools []models.ToolDefinition) (map[string]*compiledSchema, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	out := make(map[string]*compiledSchema, len(tools))
	for _, t := range tools {
		cs := &compiledSchema{name: t.Name}
		if len(t.Parameters) > 0 {
			schema, err := jsonschema.CompileString(t.Name+".schema.json", string(t.Parameters))
			if err != nil {
				return nil, fault.Wrap(fault.KindInputValidation, "tool "+t.Name+": invalid parameter schema", err)
			}
			cs.schema = schema
		}
		out[strings.ToLower(t.Name)] = cs
	}
	return out, nil
}

// validateToolArguments checks parsed arguments against the tool's
// declared schema. Unknown tools pass; the runner decides whether a tool
// exists. Validation failures are ToolArgument faults fed back to the
// model.
func validateToolArguments(schemas map[string]*compiledSchema, name string, args map[string]any) error {
	if schemas == nil {
		return nil
	}
	cs, ok := schemas[strings.ToLower(name)]
	if !ok || cs.schema == nil {
		return nil
	}
	// The compiled schema validates generic values; the parsed argument
	// map is already in that shape.
	generic := make(map[string]any, len(args))
	for k, v := range args {
		generic[k] = v
	}
	if err := cs.schema.Validate(generic); err != nil {
		return fault.Wrap(fault.KindToolArgument, "arguments rejected by tool schema", err)
	}
	return nil
}
