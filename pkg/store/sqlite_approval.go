package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/warden-labs/warden/pkg/contracts"
)

// CreateApproval persists a new pending request, assigning its id and
// creation time when absent.
func (s *SQLiteStore) CreateApproval(ctx context.Context, req *contracts.ApprovalRequest) (*contracts.ApprovalRequest, error) {
	stored := *req
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.Status == "" {
		stored.Status = contracts.ApprovalPending
	}
	if stored.CreatedAt == "" {
		stored.CreatedAt = FormatTime(s.now())
	}
	params, err := marshalParams(stored.Parameters)
	if err != nil {
		return nil, err
	}

	_, err = s.q(ctx).ExecContext(ctx, `INSERT INTO approvals
		(id, tenant_id, agent_id, tool, parameters, trace_id, policy_name,
		 rule_name, status, deadline, approver, comment, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.ID, stored.TenantID, stored.AgentID, stored.Tool, params,
		stored.TraceID, stored.PolicyName, stored.RuleName,
		string(stored.Status), stored.Deadline, stored.Approver,
		stored.Comment, stored.CreatedAt, stored.ResolvedAt)
	if err != nil {
		return nil, fmt.Errorf("store: approval create: %w", err)
	}
	return &stored, nil
}

// GetApproval returns the request or ErrNotFound. Expiry is not applied
// here; the coordinator owns lazy timeout resolution.
func (s *SQLiteStore) GetApproval(ctx context.Context, id string) (*contracts.ApprovalRequest, error) {
	req, err := scanApprovalRow(s.q(ctx).QueryRowContext(ctx, `SELECT id,
		tenant_id, agent_id, tool, parameters, trace_id, policy_name,
		rule_name, status, deadline, approver, comment, created_at,
		resolved_at FROM approvals WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return req, err
}

// ListApprovals returns matching requests, newest first.
func (s *SQLiteStore) ListApprovals(ctx context.Context, q ApprovalQuery) ([]*contracts.ApprovalRequest, error) {
	query := `SELECT id, tenant_id, agent_id, tool, parameters, trace_id,
		policy_name, rule_name, status, deadline, approver, comment,
		created_at, resolved_at FROM approvals`
	var (
		where string
		args  []any
	)
	switch {
	case q.Status != "" && q.AgentID != "":
		where = " WHERE status = ? AND agent_id = ?"
		args = append(args, string(q.Status), q.AgentID)
	case q.Status != "":
		where = " WHERE status = ?"
		args = append(args, string(q.Status))
	case q.AgentID != "":
		where = " WHERE agent_id = ?"
		args = append(args, q.AgentID)
	}
	args = append(args, clampLimit(q.Limit), q.Offset)

	rows, err := s.q(ctx).QueryContext(ctx,
		query+where+" ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?", args...)
	if err != nil {
		return nil, fmt.Errorf("store: approval list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var approvals []*contracts.ApprovalRequest
	for rows.Next() {
		req, err := scanApprovalRow(rows)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, req)
	}
	return approvals, rows.Err()
}

// ResolveApproval applies res with an optimistic conditional update: the
// row must still be pending, and a human resolution must additionally
// land before the deadline. A timeout resolution succeeds on any pending
// row. The boolean reports whether this caller performed the transition;
// on a lost race the returned record carries whatever terminal state won.
func (s *SQLiteStore) ResolveApproval(ctx context.Context, id string, res contracts.ApprovalResolution) (*contracts.ApprovalRequest, bool, error) {
	if !res.Status.Terminal() {
		return nil, false, fmt.Errorf("store: %q is not a terminal approval status", res.Status)
	}
	now := FormatTime(s.now())

	query := `UPDATE approvals
		SET status = ?, approver = ?, comment = ?, resolved_at = ?
		WHERE id = ? AND status = 'pending'`
	args := []any{string(res.Status), res.Approver, res.Comment, now, id}
	if res.Status != contracts.ApprovalTimeout {
		query += ` AND deadline > ?`
		args = append(args, now)
	}
	result, err := s.q(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("store: approval resolve: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	req, err := s.GetApproval(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return req, n > 0, nil
}

func scanApprovalRow(row rowScanner) (*contracts.ApprovalRequest, error) {
	var (
		req    contracts.ApprovalRequest
		params sql.NullString
		status string
	)
	err := row.Scan(&req.ID, &req.TenantID, &req.AgentID, &req.Tool, &params,
		&req.TraceID, &req.PolicyName, &req.RuleName, &status, &req.Deadline,
		&req.Approver, &req.Comment, &req.CreatedAt, &req.ResolvedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("store: approval scan: %w", err)
	}
	req.Status = contracts.ApprovalStatus(status)
	if params.Valid && params.String != "" {
		if err := unmarshalParams(params.String, &req.Parameters); err != nil {
			return nil, err
		}
	}
	return &req, nil
}
