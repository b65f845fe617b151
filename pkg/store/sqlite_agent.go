package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/warden-labs/warden/pkg/contracts"
)

// RegisterAgent stores cfg, preserving the original registration time on
// re-registration. An empty status defaults to registered.
func (s *SQLiteStore) RegisterAgent(ctx context.Context, cfg *contracts.AgentConfig) (*contracts.AgentConfig, error) {
	tools, err := json.Marshal(emptyIfNil(cfg.AllowedTools))
	if err != nil {
		return nil, fmt.Errorf("store: agent tools serialization: %w", err)
	}
	meta, err := marshalParams(cfg.Metadata)
	if err != nil {
		return nil, err
	}

	stored := *cfg
	if stored.Status == "" {
		stored.Status = contracts.AgentRegistered
	}
	if stored.RegisteredAt == "" {
		stored.RegisteredAt = FormatTime(s.now())
	}

	_, err = s.q(ctx).ExecContext(ctx, `INSERT INTO agents
		(agent_id, name, description, allowed_tools, policy_name, metadata,
		 status, registered_at, last_active_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			allowed_tools = excluded.allowed_tools,
			policy_name = excluded.policy_name,
			metadata = excluded.metadata,
			status = excluded.status,
			last_active_at = excluded.last_active_at`,
		stored.AgentID, stored.Name, stored.Description, string(tools),
		stored.PolicyName, meta, string(stored.Status), stored.RegisteredAt,
		stored.LastActiveAt)
	if err != nil {
		return nil, fmt.Errorf("store: agent register: %w", err)
	}
	return s.GetAgent(ctx, stored.AgentID)
}

// GetAgent returns the registered agent or ErrNotFound.
func (s *SQLiteStore) GetAgent(ctx context.Context, agentID string) (*contracts.AgentConfig, error) {
	cfg, err := scanAgentRow(s.q(ctx).QueryRowContext(ctx, `SELECT agent_id,
		name, description, allowed_tools, policy_name, metadata, status,
		registered_at, last_active_at FROM agents WHERE agent_id = ?`, agentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return cfg, err
}

// ListAgents returns every registered agent in registration order.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]*contracts.AgentConfig, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT agent_id, name,
		description, allowed_tools, policy_name, metadata, status,
		registered_at, last_active_at FROM agents
		ORDER BY registered_at ASC, agent_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: agent list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var agents []*contracts.AgentConfig
	for rows.Next() {
		cfg, err := scanAgentRow(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, cfg)
	}
	return agents, rows.Err()
}

// UpdateAgentStatus sets the agent's status and touches last_active_at.
// An unknown agent yields AGENT_NOT_FOUND.
func (s *SQLiteStore) UpdateAgentStatus(ctx context.Context, agentID string, status contracts.AgentStatus) (*contracts.AgentConfig, error) {
	res, err := s.q(ctx).ExecContext(ctx, `UPDATE agents
		SET status = ?, last_active_at = ? WHERE agent_id = ?`,
		string(status), FormatTime(s.now()), agentID)
	if err != nil {
		return nil, fmt.Errorf("store: agent status update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, contracts.NewGovernanceError(contracts.CodeAgentNotFound,
			contracts.CategoryConfigError,
			fmt.Sprintf("agent %q is not registered", agentID)).
			WithContext("agentId", agentID)
	}
	return s.GetAgent(ctx, agentID)
}

// DeleteAgent removes a registration; absent agents return ErrNotFound.
func (s *SQLiteStore) DeleteAgent(ctx context.Context, agentID string) error {
	res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM agents WHERE agent_id = ?`, agentID)
	if err != nil {
		return fmt.Errorf("store: agent delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAgentRow(row rowScanner) (*contracts.AgentConfig, error) {
	var (
		cfg    contracts.AgentConfig
		tools  string
		meta   sql.NullString
		status string
	)
	err := row.Scan(&cfg.AgentID, &cfg.Name, &cfg.Description, &tools,
		&cfg.PolicyName, &meta, &status, &cfg.RegisteredAt, &cfg.LastActiveAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("store: agent scan: %w", err)
	}
	cfg.Status = contracts.AgentStatus(status)
	if err := json.Unmarshal([]byte(tools), &cfg.AllowedTools); err != nil {
		return nil, fmt.Errorf("store: agent tools: %w", err)
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &cfg.Metadata); err != nil {
			return nil, fmt.Errorf("store: agent metadata: %w", err)
		}
	}
	return &cfg, nil
}

func emptyIfNil(tools []string) []string {
	if tools == nil {
		return []string{}
	}
	return tools
}
