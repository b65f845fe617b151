package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func searchSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Search query",
			},
			"limit": map[string]any{
				"type": "integer",
			},
		},
		"required":             []any{"query"},
		"additionalProperties": false,
	}
}

func TestCompileAndValidate(t *testing.T) {
	compiled, err := Compile("search", searchSchema())
	require.NoError(t, err)

	err = ValidateParams(compiled, map[string]any{"query": "go", "limit": 5})
	require.NoError(t, err)

	err = ValidateParams(compiled, map[string]any{"limit": 5})
	require.Error(t, err)

	err = ValidateParams(compiled, map[string]any{"query": "go", "extra": true})
	require.Error(t, err)
}

func TestValidateParams_NilSchemaAcceptsAnything(t *testing.T) {
	require.NoError(t, ValidateParams(nil, map[string]any{"anything": 1}))
	require.NoError(t, ValidateParams(nil, nil))
}

func TestValidateParams_NilParamsAgainstRequired(t *testing.T) {
	compiled, err := Compile("search", searchSchema())
	require.NoError(t, err)
	require.Error(t, ValidateParams(compiled, nil))
}

func TestCompile_InvalidSchema(t *testing.T) {
	_, err := Compile("broken", map[string]any{"type": 42})
	require.Error(t, err)
}

func TestParameters(t *testing.T) {
	params := Parameters(searchSchema())
	require.Len(t, params, 2)

	require.Equal(t, "limit", params[0].Name)
	require.Equal(t, "integer", params[0].Type)
	require.False(t, params[0].Required)

	require.Equal(t, "query", params[1].Name)
	require.Equal(t, "string", params[1].Type)
	require.Equal(t, "Search query", params[1].Description)
	require.True(t, params[1].Required)
}

func TestParameters_NoProperties(t *testing.T) {
	require.Empty(t, Parameters(map[string]any{"type": "string"}))
	require.Empty(t, Parameters(map[string]any{}))
}
