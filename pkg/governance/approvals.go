package governance

import (
	"context"
	"fmt"

	"github.com/warden-labs/warden/pkg/contracts"
	"github.com/warden-labs/warden/pkg/store"
)

// approvalStore discovers the optional approval capability at call time.
func (e *Engine) approvalStore() (store.ApprovalStore, bool) {
	if e.st == nil {
		return nil, false
	}
	as, ok := e.st.(store.ApprovalStore)
	return as, ok
}

// interceptApproval holds an allow decision in abeyance behind a pending
// approval record. Without an approval-capable store the engine fails
// secure: deny, no audit row, no pending state.
func (e *Engine) interceptApproval(ctx context.Context, req contracts.EvaluationRequest, traceID string, pol *contracts.Policy, result *contracts.EvaluationResult) (*contracts.EvaluationResult, error) {
	winner := result.AppliedRules[0]

	as, ok := e.approvalStore()
	if !ok {
		reason := "approval infrastructure not available"
		denied := &contracts.EvaluationResult{
			TraceID:          traceID,
			Reason:           reason,
			RequiresApproval: true,
			AppliedRules:     result.AppliedRules,
		}
		e.emitDecision(contracts.EventToolCallDenied, req, traceID, map[string]any{
			"tool":   req.Tool,
			"reason": reason,
		})
		return denied, nil
	}

	deadline := store.FormatTime(e.clock().Add(e.approvalTimeout))
	created, err := as.CreateApproval(ctx, &contracts.ApprovalRequest{
		TenantID:   e.tenantID,
		AgentID:    req.AgentID,
		Tool:       req.Tool,
		Parameters: req.Parameters,
		TraceID:    traceID,
		PolicyName: pol.Name,
		RuleName:   winner.Name,
		Deadline:   deadline,
	})
	if err != nil {
		// No tool_call.allowed escapes when pending state could not be
		// made durable.
		return nil, err
	}

	e.bus.EmitEvent(contracts.Event{
		Type:     contracts.EventApprovalRequested,
		TraceID:  traceID,
		AgentID:  req.AgentID,
		TenantID: e.tenantID,
		Data: map[string]any{
			"approvalId": created.ID,
			"tool":       req.Tool,
			"parameters": req.Parameters,
			"policyName": pol.Name,
			"ruleName":   winner.Name,
			"deadline":   deadline,
		},
	})
	e.metrics.RecordApproval(ctx, string(contracts.ApprovalPending))

	reason := winner.Reason
	if reason == "" {
		reason = fmt.Sprintf("approval required for tool %q", req.Tool)
	}
	return &contracts.EvaluationResult{
		TraceID:          traceID,
		Reason:           reason,
		RequiresApproval: true,
		ApprovalID:       created.ID,
		Deadline:         deadline,
		AppliedRules:     result.AppliedRules,
	}, nil
}

// ResolveApproval applies a terminal resolution. A contention loser
// receives Resolved=false and the winner's terminal record, with no
// events or audit rows of its own.
func (e *Engine) ResolveApproval(ctx context.Context, id string, res contracts.ApprovalResolution) (*contracts.ApprovalOutcome, error) {
	if err := e.requireStore(); err != nil {
		return nil, err
	}
	as, ok := e.approvalStore()
	if !ok {
		return nil, contracts.NewGovernanceError(contracts.CodeApprovalNotSupported,
			contracts.CategoryConfigError,
			"the persistence layer does not support approvals")
	}

	rec, won, err := as.ResolveApproval(ctx, id, res)
	if err != nil {
		return nil, err
	}
	if !won {
		return &contracts.ApprovalOutcome{Resolved: false, Request: rec}, nil
	}

	var (
		eventType contracts.EventType
		reason    string
	)
	switch res.Status {
	case contracts.ApprovalApproved:
		eventType = contracts.EventApprovalGranted
		reason = "approval granted"
	case contracts.ApprovalRejected:
		eventType = contracts.EventApprovalRejected
		reason = "approval rejected"
	default:
		eventType = contracts.EventApprovalTimeout
		reason = "approval timed out"
	}
	if res.Approver != "" {
		reason = fmt.Sprintf("%s by %s", reason, res.Approver)
	}

	e.bus.EmitEvent(contracts.Event{
		Type:     eventType,
		TraceID:  rec.TraceID,
		AgentID:  rec.AgentID,
		TenantID: e.tenantID,
		Data: map[string]any{
			"approvalId": rec.ID,
			"tool":       rec.Tool,
			"policyName": rec.PolicyName,
			"ruleName":   rec.RuleName,
			"approver":   res.Approver,
			"comment":    res.Comment,
		},
	})
	e.metrics.RecordApproval(ctx, string(res.Status))
	e.writeApprovalAudit(ctx, rec, res.Status, reason)

	return &contracts.ApprovalOutcome{Resolved: true, Request: rec}, nil
}

func (e *Engine) writeApprovalAudit(ctx context.Context, rec *contracts.ApprovalRequest, status contracts.ApprovalStatus, reason string) {
	auditResult := contracts.ResultDenied
	var category contracts.FailureCategory
	switch status {
	case contracts.ApprovalApproved:
		auditResult = contracts.ResultAllowed
	case contracts.ApprovalTimeout:
		category = contracts.CategoryApprovalTimeout
	}

	_, err := e.st.WriteAuditEvent(ctx, &contracts.AuditEvent{
		TraceID:         rec.TraceID,
		AgentID:         rec.AgentID,
		Tool:            rec.Tool,
		Parameters:      rec.Parameters,
		Result:          auditResult,
		Reason:          reason,
		FailureCategory: category,
	})
	if err != nil {
		e.logger.Error("audit write failed",
			"context", "approval_resolution", "traceId", rec.TraceID, "error", err)
		e.metrics.RecordAuditWriteFailure(ctx, "approval_resolution")
		e.bus.EmitEvent(contracts.Event{
			Type:     contracts.EventAuditWriteFailure,
			TraceID:  rec.TraceID,
			AgentID:  rec.AgentID,
			TenantID: e.tenantID,
			Data: map[string]any{
				"context": "approval_resolution",
				"error":   err.Error(),
			},
		})
	}
}

// GetApproval reads one approval request, materializing the timeout
// transition when the deadline has passed (lazy timeout).
func (e *Engine) GetApproval(ctx context.Context, id string) (*contracts.ApprovalRequest, error) {
	as, ok := e.approvalStore()
	if !ok {
		return nil, contracts.NewGovernanceError(contracts.CodeApprovalNotSupported,
			contracts.CategoryConfigError,
			"the persistence layer does not support approvals")
	}

	rec, err := as.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.expired(rec) {
		outcome, err := e.ResolveApproval(ctx, id, contracts.ApprovalResolution{
			Status: contracts.ApprovalTimeout,
		})
		if err != nil {
			return nil, err
		}
		rec = outcome.Request
	}
	return rec, nil
}

// ListApprovals lists approval requests, resolving every expired pending
// record to timeout and re-reading so the returned statuses are
// consistent.
func (e *Engine) ListApprovals(ctx context.Context, q store.ApprovalQuery) ([]*contracts.ApprovalRequest, error) {
	as, ok := e.approvalStore()
	if !ok {
		return nil, contracts.NewGovernanceError(contracts.CodeApprovalNotSupported,
			contracts.CategoryConfigError,
			"the persistence layer does not support approvals")
	}

	records, err := as.ListApprovals(ctx, q)
	if err != nil {
		return nil, err
	}
	resolvedAny := false
	for _, rec := range records {
		if e.expired(rec) {
			if _, err := e.ResolveApproval(ctx, rec.ID, contracts.ApprovalResolution{
				Status: contracts.ApprovalTimeout,
			}); err != nil {
				return nil, err
			}
			resolvedAny = true
		}
	}
	if resolvedAny {
		return as.ListApprovals(ctx, q)
	}
	return records, nil
}

// expired reports whether rec is still pending past its deadline.
func (e *Engine) expired(rec *contracts.ApprovalRequest) bool {
	if rec == nil || rec.Status != contracts.ApprovalPending {
		return false
	}
	deadline, err := store.ParseTime(rec.Deadline)
	if err != nil {
		return false
	}
	return !deadline.After(e.clock())
}
