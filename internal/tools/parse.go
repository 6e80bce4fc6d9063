package tools

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tenexhq/orchestrator/internal/jsonrepair"
	"github.com/tenexhq/orchestrator/pkg/models"
)

// toolUseBlockRE matches an XML <tool_use>...</tool_use> block.
var toolUseBlockRE = regexp.MustCompile(`(?s)<tool_use>\s*(.*?)\s*</tool_use>`)

// ParsedInvocation is a tool invocation recovered from assistant text, with
// the byte range it occupied so callers can splice in a substitution.
type ParsedInvocation struct {
	Name      string
	Arguments json.RawMessage
	Start     int
	End       int
}

// xmlToolUse is the shape inside a <tool_use> block: {"tool": name,
// "arguments": {...}}.
type xmlToolUse struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
}

// nativeLikeToolUse is the shape of a bare {"type":"tool_use", "name":...,
// "input":...} object.
type nativeLikeToolUse struct {
	Type  string          `json:"type"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// functionCallShape is the shape of a bare {"function_call": {"name":...,
// "arguments": "<json string>"}} object.
type functionCallShape struct {
	FunctionCall struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function_call"`
}

// ParseToolInvocations scans assistant text for the three supported
// tool-invocation formats, using the repair-tolerant parser on each
// candidate payload. It returns invocations in the order they occur in the
// text.
func ParseToolInvocations(content string) []ParsedInvocation {
	var out []ParsedInvocation

	for _, loc := range toolUseBlockRE.FindAllStringSubmatchIndex(content, -1) {
		payload := content[loc[2]:loc[3]]
		var parsed xmlToolUse
		if _, err := jsonrepair.Parse(payload, &parsed); err != nil || parsed.Tool == "" {
			continue
		}
		args := parsed.Arguments
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		out = append(out, ParsedInvocation{
			Name:      parsed.Tool,
			Arguments: args,
			Start:     loc[0],
			End:       loc[1],
		})
	}
	if len(out) > 0 {
		return out
	}

	// No XML blocks found: try the two bare-object top-level formats. These
	// only apply when the entire trimmed content is a single JSON object,
	// since unlike <tool_use> blocks they have no explicit delimiters.
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil
	}

	var native nativeLikeToolUse
	if _, err := jsonrepair.Parse(trimmed, &native); err == nil && native.Type == "tool_use" && native.Name != "" {
		input := native.Input
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		return []ParsedInvocation{{
			Name:      native.Name,
			Arguments: input,
			Start:     0,
			End:       len(content),
		}}
	}

	var fc functionCallShape
	if _, err := jsonrepair.Parse(trimmed, &fc); err == nil && fc.FunctionCall.Name != "" {
		var args json.RawMessage
		if fc.FunctionCall.Arguments != "" {
			repaired, _, err := jsonrepair.ParseRaw(fc.FunctionCall.Arguments)
			if err == nil {
				args = repaired
			}
		}
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		return []ParsedInvocation{{
			Name:      fc.FunctionCall.Name,
			Arguments: args,
			Start:     0,
			End:       len(content),
		}}
	}

	return nil
}

// ToolCallsFromInvocations converts parsed invocations into models.ToolCall
// values, assigning deterministic synthetic ids (the native-call path
// assigns provider-issued ids instead; this is only used for the text-block
// fallback path).
func ToolCallsFromInvocations(invocations []ParsedInvocation, idFn func(int) string) []models.ToolCall {
	out := make([]models.ToolCall, 0, len(invocations))
	for i, inv := range invocations {
		out = append(out, models.ToolCall{
			ID:        idFn(i),
			Name:      inv.Name,
			Arguments: inv.Arguments,
		})
	}
	return out
}
