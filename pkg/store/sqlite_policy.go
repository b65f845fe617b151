package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/warden-labs/warden/pkg/contracts"
)

// UpsertPolicy stores p under its name. When a prior version exists it is
// snapshotted into policy_versions, in the same transaction, before being
// overwritten; the stored version is the prior version plus one.
func (s *SQLiteStore) UpsertPolicy(ctx context.Context, p *contracts.Policy, author string) (*contracts.Policy, error) {
	rules, err := json.Marshal(p.Rules)
	if err != nil {
		return nil, fmt.Errorf("store: policy rules serialization: %w", err)
	}
	now := FormatTime(s.now())

	stored := *p
	err = s.WithinTransaction(ctx, func(ctx context.Context) error {
		prior, err := s.getPolicy(ctx, s.q(ctx), p.Name)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		if prior != nil {
			if err := s.snapshotPolicy(ctx, prior, author); err != nil {
				return err
			}
			stored.Version = prior.Version + 1
			stored.CreatedAt = prior.CreatedAt
		} else {
			stored.Version = 1
			stored.CreatedAt = now
		}
		stored.UpdatedAt = now

		_, err = s.q(ctx).ExecContext(ctx, `INSERT INTO policies
			(name, version, agent_id, rules, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				version = excluded.version,
				agent_id = excluded.agent_id,
				rules = excluded.rules,
				updated_at = excluded.updated_at`,
			stored.Name, stored.Version, stored.AgentID, string(rules),
			stored.CreatedAt, stored.UpdatedAt)
		if err != nil {
			return fmt.Errorf("store: policy upsert: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func (s *SQLiteStore) snapshotPolicy(ctx context.Context, prior *contracts.Policy, author string) error {
	rules, err := json.Marshal(prior.Rules)
	if err != nil {
		return fmt.Errorf("store: snapshot rules serialization: %w", err)
	}
	_, err = s.q(ctx).ExecContext(ctx, `INSERT INTO policy_versions
		(policy_name, version, agent_id, rules, author, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		prior.Name, prior.Version, prior.AgentID, string(rules),
		author, FormatTime(s.now()))
	if err != nil {
		return fmt.Errorf("store: policy snapshot: %w", err)
	}
	return nil
}

// GetPolicy returns the named policy or ErrNotFound.
func (s *SQLiteStore) GetPolicy(ctx context.Context, name string) (*contracts.Policy, error) {
	return s.getPolicy(ctx, s.q(ctx), name)
}

func (s *SQLiteStore) getPolicy(ctx context.Context, q querier, name string) (*contracts.Policy, error) {
	row := q.QueryRowContext(ctx, `SELECT name, version, agent_id, rules,
		created_at, updated_at FROM policies WHERE name = ?`, name)
	p, err := scanPolicyRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// ListPolicies returns every policy, most recently updated first.
func (s *SQLiteStore) ListPolicies(ctx context.Context) ([]*contracts.Policy, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT name, version, agent_id,
		rules, created_at, updated_at FROM policies
		ORDER BY updated_at DESC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: policy list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var policies []*contracts.Policy
	for rows.Next() {
		p, err := scanPolicyRow(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// DeletePolicy removes the named policy. Deleting an absent policy
// returns ErrNotFound. Version history is retained.
func (s *SQLiteStore) DeletePolicy(ctx context.Context, name string) error {
	res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM policies WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("store: policy delete: %w", err)
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

// ResolveActivePolicy picks the policy governing agentID: the most
// recently updated policy scoped to that agent, else the agent's
// configured policy by name, else the most recently updated global
// policy. A nil result with nil error means no policy exists.
func (s *SQLiteStore) ResolveActivePolicy(ctx context.Context, agentID string) (*contracts.Policy, error) {
	if agentID != "" {
		p, err := s.firstPolicy(ctx, `SELECT name, version, agent_id, rules,
			created_at, updated_at FROM policies WHERE agent_id = ?
			ORDER BY updated_at DESC, name ASC LIMIT 1`, agentID)
		if err != nil || p != nil {
			return p, err
		}

		agent, err := s.GetAgent(ctx, agentID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if agent != nil && agent.PolicyName != "" {
			p, err := s.getPolicy(ctx, s.q(ctx), agent.PolicyName)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return nil, err
			}
			if p != nil {
				return p, nil
			}
		}
	}

	return s.firstPolicy(ctx, `SELECT name, version, agent_id, rules,
		created_at, updated_at FROM policies WHERE agent_id = ''
		ORDER BY updated_at DESC, name ASC LIMIT 1`)
}

func (s *SQLiteStore) firstPolicy(ctx context.Context, query string, args ...any) (*contracts.Policy, error) {
	p, err := scanPolicyRow(s.q(ctx).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// PolicyHistory lists the snapshots of one policy, newest first.
func (s *SQLiteStore) PolicyHistory(ctx context.Context, name string) ([]*contracts.PolicyVersion, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT id, policy_name, version,
		agent_id, rules, author, created_at FROM policy_versions
		WHERE policy_name = ? ORDER BY version DESC`, name)
	if err != nil {
		return nil, fmt.Errorf("store: policy history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var versions []*contracts.PolicyVersion
	for rows.Next() {
		v, err := scanPolicyVersionRow(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// PolicyVersionByID returns one snapshot or ErrNotFound.
func (s *SQLiteStore) PolicyVersionByID(ctx context.Context, id int64) (*contracts.PolicyVersion, error) {
	v, err := scanPolicyVersionRow(s.q(ctx).QueryRowContext(ctx,
		`SELECT id, policy_name, version, agent_id, rules, author, created_at
		FROM policy_versions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return v, err
}

func scanPolicyRow(row rowScanner) (*contracts.Policy, error) {
	var (
		p     contracts.Policy
		rules string
	)
	err := row.Scan(&p.Name, &p.Version, &p.AgentID, &rules, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("store: policy scan: %w", err)
	}
	if err := json.Unmarshal([]byte(rules), &p.Rules); err != nil {
		return nil, fmt.Errorf("store: policy rules: %w", err)
	}
	return &p, nil
}

func scanPolicyVersionRow(row rowScanner) (*contracts.PolicyVersion, error) {
	var (
		v     contracts.PolicyVersion
		rules string
	)
	err := row.Scan(&v.ID, &v.PolicyName, &v.Version, &v.AgentID, &rules,
		&v.Author, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("store: policy version scan: %w", err)
	}
	if err := json.Unmarshal([]byte(rules), &v.Rules); err != nil {
		return nil, fmt.Errorf("store: policy version rules: %w", err)
	}
	return &v, nil
}
