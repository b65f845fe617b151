package contracts

// AgentStatus is the lifecycle state of a registered agent. Transitions
// are free-form; no ordering is enforced.
type AgentStatus string

const (
	AgentRegistered AgentStatus = "registered"
	AgentRunning    AgentStatus = "running"
	AgentStopped    AgentStatus = "stopped"
	AgentError      AgentStatus = "error"
)

// AgentConfig describes a registered agent and the tools it may request.
type AgentConfig struct {
	AgentID      string         `json:"agentId"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	AllowedTools []string       `json:"allowedTools"`
	PolicyName   string         `json:"policyName,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Status       AgentStatus    `json:"status"`
	RegisteredAt string         `json:"registeredAt,omitempty"`
	LastActiveAt string         `json:"lastActiveAt,omitempty"`
}

// ToolDefinition is one imported MCP tool: a name plus optional
// description and JSON input schema.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}
