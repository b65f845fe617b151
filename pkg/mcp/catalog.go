package mcp

import (
	"sort"
	"strings"
	"sync"

	"github.com/warden-labs/warden/pkg/contracts"
)

// Catalog is an in-memory registry of imported tool definitions, keyed
// by name. Re-registering a name replaces the prior definition.
type Catalog struct {
	mu    sync.RWMutex
	tools map[string]contracts.ToolDefinition
}

func NewCatalog() *Catalog {
	return &Catalog{tools: make(map[string]contracts.ToolDefinition)}
}

// Import registers every tool of a parsed manifest.
func (c *Catalog) Import(m *Manifest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tool := range m.Tools {
		c.tools[tool.Name] = tool
	}
}

// Get returns the named definition and whether it exists.
func (c *Catalog) Get(name string) (contracts.ToolDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tool, ok := c.tools[name]
	return tool, ok
}

// Search returns definitions whose name or description contains query,
// case-insensitively, sorted by name. An empty query matches everything.
func (c *Catalog) Search(query string) []contracts.ToolDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	query = strings.ToLower(query)
	var results []contracts.ToolDefinition
	for _, tool := range c.tools {
		if strings.Contains(strings.ToLower(tool.Name), query) ||
			strings.Contains(strings.ToLower(tool.Description), query) {
			results = append(results, tool)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results
}
