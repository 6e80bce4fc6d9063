package jsonrepair

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_RawJSON(t *testing.T) {
	var v map[string]any
	stages, err := Parse(`{"tool":"read_specs","arguments":{}}`, &v)
	require.NoError(t, err)
	assert.Equal(t, []string{"raw"}, stages)
	assert.Equal(t, "read_specs", v["tool"])
}

func TestParse_MarkdownFence(t *testing.T) {
	var v map[string]any
	_, err := Parse("```json\n{\"a\":1}\n```", &v)
	require.NoError(t, err)
	assert.Equal(t, float64(1), v["a"])
}

func TestParse_SingleQuotesAndTrailingComma(t *testing.T) {
	var v map[string]any
	_, err := Parse(`{'tool': 'read_specs', 'arguments': {,}}`, &v)
	require.NoError(t, err)
	assert.Equal(t, "read_specs", v["tool"])
	args, ok := v["arguments"].(map[string]any)
	require.True(t, ok)
	assert.Empty(t, args)
}

func TestParse_TrailingCommaInArray(t *testing.T) {
	var v []any
	_, err := Parse(`[1, 2, 3,]`, &v)
	require.NoError(t, err)
	assert.Len(t, v, 3)
}

func TestParse_UnterminatedString(t *testing.T) {
	var v map[string]any
	_, err := Parse(`{"tool": "read_specs`, &v)
	require.NoError(t, err)
	assert.Equal(t, "read_specs", v["tool"])
}

func TestParse_UnclosedBrackets(t *testing.T) {
	var v map[string]any
	_, err := Parse(`{"a": {"b": 1`, &v)
	require.NoError(t, err)
	nested, ok := v["a"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), nested["b"])
}

func TestParse_ExtractsBalancedObjectFromNoise(t *testing.T) {
	var v map[string]any
	_, err := Parse("Sure, here is the plan:\n{\"lead\":\"alice\"}\nLet me know if that works.", &v)
	require.NoError(t, err)
	assert.Equal(t, "alice", v["lead"])
}

func TestParse_TerminalFailureReturnsStructuredError(t *testing.T) {
	var v map[string]any
	_, err := Parse("not json at all, no braces here", &v)
	require.Error(t, err)
	var repErr *Error
	require.ErrorAs(t, err, &repErr)
	assert.NotEmpty(t, repErr.Stages)
}

func TestParseRaw(t *testing.T) {
	raw, _, err := ParseRaw(`{'a': 1,}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(raw))
}
