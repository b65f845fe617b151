package governance

import (
	"github.com/warden-labs/warden/pkg/contracts"
)

// ValidateRequest checks an evaluation request before the pipeline runs.
// Validation failures never produce an event or an audit row.
func ValidateRequest(req contracts.EvaluationRequest) error {
	if req.AgentID == "" {
		return contracts.NewGovernanceError(contracts.CodeInvalidRequest,
			contracts.CategoryConfigError, "agentId must not be empty")
	}
	if req.Tool == "" {
		return contracts.NewGovernanceError(contracts.CodeInvalidRequest,
			contracts.CategoryConfigError, "tool must not be empty").
			WithContext("agentId", req.AgentID)
	}
	return nil
}

// ValidateAgentConfig checks an agent registration.
func ValidateAgentConfig(cfg *contracts.AgentConfig) error {
	if cfg == nil {
		return contracts.NewGovernanceError(contracts.CodeInvalidConfig,
			contracts.CategoryConfigError, "agent config must not be nil")
	}
	if cfg.AgentID == "" {
		return contracts.NewGovernanceError(contracts.CodeInvalidConfig,
			contracts.CategoryConfigError, "agentId must not be empty")
	}
	if cfg.Name == "" {
		return contracts.NewGovernanceError(contracts.CodeInvalidConfig,
			contracts.CategoryConfigError, "agent name must not be empty").
			WithContext("agentId", cfg.AgentID)
	}
	if cfg.Status != "" {
		switch cfg.Status {
		case contracts.AgentRegistered, contracts.AgentRunning,
			contracts.AgentStopped, contracts.AgentError:
		default:
			return contracts.NewGovernanceError(contracts.CodeInvalidConfig,
				contracts.CategoryConfigError, "unknown agent status").
				WithContext("agentId", cfg.AgentID).
				WithContext("status", string(cfg.Status))
		}
	}
	return nil
}
