package governance

import (
	"context"
	"errors"
	"io"

	"github.com/warden-labs/warden/pkg/contracts"
	"github.com/warden-labs/warden/pkg/policy"
	"github.com/warden-labs/warden/pkg/store"
)

// UpsertPolicy validates and persists a policy, snapshotting the prior
// version, and emits policy.created or policy.updated.
func (e *Engine) UpsertPolicy(ctx context.Context, p *contracts.Policy, author string) (*contracts.Policy, error) {
	if err := e.requireStore(); err != nil {
		return nil, err
	}
	if err := policy.Validate(p); err != nil {
		return nil, err
	}

	_, getErr := e.st.GetPolicy(ctx, p.Name)
	existed := getErr == nil
	if getErr != nil && !errors.Is(getErr, store.ErrNotFound) {
		return nil, getErr
	}

	stored, err := e.st.UpsertPolicy(ctx, p, author)
	if err != nil {
		return nil, err
	}

	eventType := contracts.EventPolicyCreated
	if existed {
		eventType = contracts.EventPolicyUpdated
	}
	e.bus.EmitEvent(contracts.Event{
		Type:     eventType,
		TenantID: e.tenantID,
		Data: map[string]any{
			"name":    stored.Name,
			"version": stored.Version,
			"author":  author,
		},
	})
	return stored, nil
}

// DeletePolicy removes a persisted policy and emits policy.deleted. The
// version history survives the delete.
func (e *Engine) DeletePolicy(ctx context.Context, name string) error {
	if err := e.requireStore(); err != nil {
		return err
	}
	if err := e.st.DeletePolicy(ctx, name); err != nil {
		return err
	}
	e.bus.EmitEvent(contracts.Event{
		Type:     contracts.EventPolicyDeleted,
		TenantID: e.tenantID,
		Data:     map[string]any{"name": name},
	})
	return nil
}

// GetPolicy reads one persisted policy.
func (e *Engine) GetPolicy(ctx context.Context, name string) (*contracts.Policy, error) {
	if err := e.requireStore(); err != nil {
		return nil, err
	}
	return e.st.GetPolicy(ctx, name)
}

// ListPolicies lists the persisted policies.
func (e *Engine) ListPolicies(ctx context.Context) ([]*contracts.Policy, error) {
	if err := e.requireStore(); err != nil {
		return nil, err
	}
	return e.st.ListPolicies(ctx)
}

// PolicyHistory lists the snapshots of one policy, newest first.
func (e *Engine) PolicyHistory(ctx context.Context, name string) ([]*contracts.PolicyVersion, error) {
	if err := e.requireStore(); err != nil {
		return nil, err
	}
	return e.st.PolicyHistory(ctx, name)
}

// RollbackPolicy republishes a historical version of a policy as a new
// current version. The referenced version must exist in the history.
func (e *Engine) RollbackPolicy(ctx context.Context, name string, version int, author string) (*contracts.Policy, error) {
	if err := e.requireStore(); err != nil {
		return nil, err
	}

	history, err := e.st.PolicyHistory(ctx, name)
	if err != nil {
		return nil, err
	}
	var snapshot *contracts.PolicyVersion
	for _, v := range history {
		if v.Version == version {
			snapshot = v
			break
		}
	}
	if snapshot == nil {
		return nil, contracts.NewGovernanceError(contracts.CodeVersionNotFound,
			contracts.CategoryConfigError, "no such policy version").
			WithContext("policy", name).
			WithContext("version", version)
	}

	return e.UpsertPolicy(ctx, &contracts.Policy{
		Name:    name,
		AgentID: snapshot.AgentID,
		Rules:   snapshot.Rules,
	}, author)
}

// RegisterAgent validates and persists an agent registration and emits
// agent.config_changed.
func (e *Engine) RegisterAgent(ctx context.Context, cfg *contracts.AgentConfig) (*contracts.AgentConfig, error) {
	if err := e.requireStore(); err != nil {
		return nil, err
	}
	if err := ValidateAgentConfig(cfg); err != nil {
		return nil, err
	}
	stored, err := e.st.RegisterAgent(ctx, cfg)
	if err != nil {
		return nil, err
	}
	e.bus.EmitEvent(contracts.Event{
		Type:     contracts.EventAgentConfigChanged,
		AgentID:  stored.AgentID,
		TenantID: e.tenantID,
		Data: map[string]any{
			"agentId": stored.AgentID,
			"name":    stored.Name,
		},
	})
	return stored, nil
}

// GetAgent reads one registration.
func (e *Engine) GetAgent(ctx context.Context, agentID string) (*contracts.AgentConfig, error) {
	if err := e.requireStore(); err != nil {
		return nil, err
	}
	return e.st.GetAgent(ctx, agentID)
}

// ListAgents lists every registration.
func (e *Engine) ListAgents(ctx context.Context) ([]*contracts.AgentConfig, error) {
	if err := e.requireStore(); err != nil {
		return nil, err
	}
	return e.st.ListAgents(ctx)
}

// UpdateAgentStatus transitions an agent and emits the lifecycle event
// matching the new status.
func (e *Engine) UpdateAgentStatus(ctx context.Context, agentID string, status contracts.AgentStatus) (*contracts.AgentConfig, error) {
	if err := e.requireStore(); err != nil {
		return nil, err
	}
	stored, err := e.st.UpdateAgentStatus(ctx, agentID, status)
	if err != nil {
		return nil, err
	}

	var eventType contracts.EventType
	switch status {
	case contracts.AgentRunning:
		eventType = contracts.EventAgentStarted
	case contracts.AgentStopped:
		eventType = contracts.EventAgentStopped
	case contracts.AgentError:
		eventType = contracts.EventAgentError
	default:
		eventType = contracts.EventAgentConfigChanged
	}
	e.bus.EmitEvent(contracts.Event{
		Type:     eventType,
		AgentID:  agentID,
		TenantID: e.tenantID,
		Data: map[string]any{
			"agentId": agentID,
			"status":  string(status),
		},
	})
	return stored, nil
}

// DeleteAgent removes a registration.
func (e *Engine) DeleteAgent(ctx context.Context, agentID string) error {
	if err := e.requireStore(); err != nil {
		return err
	}
	return e.st.DeleteAgent(ctx, agentID)
}

// QueryAudit pages the audit log.
func (e *Engine) QueryAudit(ctx context.Context, q store.AuditQuery) (*store.AuditPage, error) {
	if err := e.requireStore(); err != nil {
		return nil, err
	}
	return e.st.QueryAuditEvents(ctx, q)
}

// VerifyAuditChain walks the full chain. A detected break additionally
// emits audit.integrity_violation naming the first broken record.
func (e *Engine) VerifyAuditChain(ctx context.Context) (*contracts.ChainVerification, error) {
	if err := e.requireStore(); err != nil {
		return nil, err
	}
	verification, err := e.st.VerifyChain(ctx)
	if err != nil {
		return nil, err
	}
	if !verification.Valid {
		e.bus.EmitEvent(contracts.Event{
			Type:     contracts.EventAuditIntegrityViolation,
			TenantID: e.tenantID,
			Data: map[string]any{
				"brokenAt":       verification.BrokenAt,
				"totalEvents":    verification.TotalEvents,
				"verifiedEvents": verification.VerifiedEvents,
			},
		})
	}
	return verification, nil
}

// ExportAudit streams matching audit records as newline-delimited JSON.
func (e *Engine) ExportAudit(ctx context.Context, q store.AuditQuery, w io.Writer) (int64, error) {
	if err := e.requireStore(); err != nil {
		return 0, err
	}
	return e.st.ExportAuditEvents(ctx, q, w)
}
