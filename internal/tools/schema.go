package tools

import "github.com/tenexhq/orchestrator/pkg/models"

// JSONSchema renders params as a draft-07-ish JSON Schema object, the
// provider-agnostic shape both wire dialects are built from.
func JSONSchema(params []models.Param) map[string]any {
	properties := make(map[string]any, len(params))
	var required []string
	for _, p := range params {
		properties[p.Name] = paramSchema(p)
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func paramSchema(p models.Param) map[string]any {
	s := map[string]any{"type": p.Type}
	if len(p.Enum) > 0 {
		s["enum"] = p.Enum
	}
	if p.Items != nil {
		s["items"] = paramSchema(*p.Items)
	}
	if len(p.Props) > 0 {
		props := make(map[string]any, len(p.Props))
		for name, sub := range p.Props {
			props[name] = paramSchema(sub)
		}
		s["properties"] = props
	}
	return s
}

// NativeToolSpec is a provider-native tool schema entry shared by both
// dialects, generated by AsAnthropicDialect and AsOpenAIDialect.
type NativeToolSpec struct {
	// Anthropic-dialect fields (flat, with input_schema).
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`

	// OpenAI-dialect fields (wrapped: {"type":"function","function":{...}}).
	Type     string        `json:"type,omitempty"`
	Function *FunctionSpec `json:"function,omitempty"`
}

// FunctionSpec is the nested "function" object of the OpenAI tool dialect.
type FunctionSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// AsAnthropicDialect renders tools in the flat {name, description,
// input_schema} shape used by the anthropic and anthropic-with-cache
// provider variants.
func AsAnthropicDialect(toolList []Tool) []NativeToolSpec {
	out := make([]NativeToolSpec, 0, len(toolList))
	for _, t := range toolList {
		out = append(out, NativeToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: JSONSchema(t.Params()),
		})
	}
	return out
}

// AsOpenAIDialect renders tools in the {"type":"function","function":{...}}
// shape used by the openai-compatible, openrouter, and ollama variants.
func AsOpenAIDialect(toolList []Tool) []NativeToolSpec {
	out := make([]NativeToolSpec, 0, len(toolList))
	for _, t := range toolList {
		out = append(out, NativeToolSpec{
			Type: "function",
			Function: &FunctionSpec{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  JSONSchema(t.Params()),
			},
		})
	}
	return out
}
