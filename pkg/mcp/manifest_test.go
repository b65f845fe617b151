package mcp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/warden-labs/warden/pkg/contracts"
)

const sampleManifest = `{
	"tools": [
		{"name": "search", "description": "Web search", "inputSchema": {"type": "object"}},
		{"name": "", "description": "broken entry"},
		{"name": "read_file", "description": "Read a file"}
	]
}`

func TestParseManifest_SkipsEmptyNames(t *testing.T) {
	m, err := ParseManifest(strings.NewReader(sampleManifest))
	require.NoError(t, err)
	require.Equal(t, []string{"search", "read_file"}, m.ToolNames())
	require.Equal(t, map[string]any{"type": "object"}, m.Tools[0].InputSchema)
}

func TestParseManifest_BareArray(t *testing.T) {
	m, err := ParseManifest(strings.NewReader(`[{"name": "echo"}]`))
	require.NoError(t, err)
	require.Equal(t, []string{"echo"}, m.ToolNames())
}

func TestParseManifest_Malformed(t *testing.T) {
	_, err := ParseManifest(strings.NewReader(`{"tools": "nope"`))
	require.Error(t, err)
}

func TestParseManifest_AllEntriesSkipped(t *testing.T) {
	m, err := ParseManifest(strings.NewReader(`{"tools": [{"name": ""}]}`))
	require.NoError(t, err)
	require.Empty(t, m.Tools)
}

func TestApplyTo_MergesWithoutDuplicates(t *testing.T) {
	m, err := ParseManifest(strings.NewReader(sampleManifest))
	require.NoError(t, err)

	cfg := &contracts.AgentConfig{
		AgentID:      "a",
		AllowedTools: []string{"read_file", "shell"},
	}
	m.ApplyTo(cfg)
	require.Equal(t, []string{"read_file", "shell", "search"}, cfg.AllowedTools)
}

func TestCatalog(t *testing.T) {
	m, err := ParseManifest(strings.NewReader(sampleManifest))
	require.NoError(t, err)

	c := NewCatalog()
	c.Import(m)

	tool, ok := c.Get("search")
	require.True(t, ok)
	require.Equal(t, "Web search", tool.Description)

	_, ok = c.Get("missing")
	require.False(t, ok)

	results := c.Search("file")
	require.Len(t, results, 1)
	require.Equal(t, "read_file", results[0].Name)

	require.Len(t, c.Search(""), 2)
}
