package contracts

// ApprovalStatus is the lifecycle state of an approval request. A request
// is created pending and transitions exactly once to a terminal state.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalTimeout  ApprovalStatus = "timeout"
)

// Terminal reports whether the status can no longer change.
func (s ApprovalStatus) Terminal() bool {
	return s == ApprovalApproved || s == ApprovalRejected || s == ApprovalTimeout
}

// ApprovalRequest is the durable pending state of a two-phase decision.
// Deadline and the timestamps are ISO-8601 strings.
type ApprovalRequest struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenantId,omitempty"`
	AgentID    string         `json:"agentId"`
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters,omitempty"`
	TraceID    string         `json:"traceId"`
	PolicyName string         `json:"policyName"`
	RuleName   string         `json:"ruleName,omitempty"`
	Status     ApprovalStatus `json:"status"`
	Deadline   string         `json:"deadline"`
	Approver   string         `json:"approver,omitempty"`
	Comment    string         `json:"comment,omitempty"`
	CreatedAt  string         `json:"createdAt"`
	ResolvedAt string         `json:"resolvedAt,omitempty"`
}

// ApprovalResolution carries the terminal status applied by a resolver.
type ApprovalResolution struct {
	Status   ApprovalStatus `json:"status"`
	Approver string         `json:"approver,omitempty"`
	Comment  string         `json:"comment,omitempty"`
}

// ApprovalOutcome is returned by the approval coordinator. Resolved is
// false when a concurrent resolver won the optimistic update.
type ApprovalOutcome struct {
	Resolved bool             `json:"resolved"`
	Request  *ApprovalRequest `json:"request,omitempty"`
}
