package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/warden-labs/warden/pkg/contracts"
)

// LoadPolicyFile reads a policy definition from a JSON or YAML file,
// chosen by extension. YAML documents are normalized through a JSON
// round-trip so both formats decode into the same wire shape.
func LoadPolicyFile(path string) (*contracts.Policy, error) {
	var p contracts.Policy
	if err := loadFile(path, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadAgentFile reads an agent configuration from a JSON or YAML file.
func LoadAgentFile(path string) (*contracts.AgentConfig, error) {
	var cfg contracts.AgentConfig
	if err := loadFile(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(path string, dst any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var tree any
		if err := yaml.Unmarshal(raw, &tree); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
		raw, err = json.Marshal(normalizeYAML(tree))
		if err != nil {
			return fmt.Errorf("config: normalize %s: %w", path, err)
		}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// normalizeYAML rewrites map[any]any nodes from older YAML decodings
// into map[string]any so json.Marshal accepts the tree.
func normalizeYAML(v any) any {
	switch node := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(node))
		for key, value := range node {
			out[fmt.Sprint(key)] = normalizeYAML(value)
		}
		return out
	case map[string]any:
		for key, value := range node {
			node[key] = normalizeYAML(value)
		}
		return node
	case []any:
		for i, value := range node {
			node[i] = normalizeYAML(value)
		}
		return node
	default:
		return v
	}
}
