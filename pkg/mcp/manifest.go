// Package mcp imports MCP server manifests: tool definitions are parsed,
// invalid entries are skipped with a warning, and the surviving names
// become an AllowedTools patch for agent registration.
package mcp

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/warden-labs/warden/pkg/contracts"
)

// Manifest is the parsed form of an MCP tool manifest.
type Manifest struct {
	Tools []contracts.ToolDefinition `json:"tools"`
}

// ParseManifest reads a manifest from r. Entries with an empty name are
// skipped with a warning and never fail the import; an import that
// yields zero tools is still a valid manifest. Accepted shapes are an
// object with a "tools" array and a bare array of tool definitions.
func ParseManifest(r io.Reader) (*Manifest, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("mcp: read manifest: %w", err)
	}

	var tools []contracts.ToolDefinition
	var wrapped struct {
		Tools []contracts.ToolDefinition `json:"tools"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Tools != nil {
		tools = wrapped.Tools
	} else if err := json.Unmarshal(raw, &tools); err != nil {
		return nil, fmt.Errorf("mcp: parse manifest: %w", err)
	}

	logger := slog.Default().With("component", "mcp")
	kept := make([]contracts.ToolDefinition, 0, len(tools))
	for i, tool := range tools {
		if tool.Name == "" {
			logger.Warn("skipping tool definition with empty name", "index", i)
			continue
		}
		kept = append(kept, tool)
	}
	return &Manifest{Tools: kept}, nil
}

// ToolNames returns the imported tool names in manifest order.
func (m *Manifest) ToolNames() []string {
	names := make([]string, 0, len(m.Tools))
	for _, tool := range m.Tools {
		names = append(names, tool.Name)
	}
	return names
}

// ApplyTo merges the manifest's tool names into cfg.AllowedTools,
// preserving existing entries and dropping duplicates.
func (m *Manifest) ApplyTo(cfg *contracts.AgentConfig) {
	seen := make(map[string]bool, len(cfg.AllowedTools))
	for _, name := range cfg.AllowedTools {
		seen[name] = true
	}
	for _, tool := range m.Tools {
		if !seen[tool.Name] {
			cfg.AllowedTools = append(cfg.AllowedTools, tool.Name)
			seen[tool.Name] = true
		}
	}
}
