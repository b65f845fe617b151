// Package contracts holds the shared data contracts of the governance
// engine: evaluation requests and results, policies and rules, audit
// events, approvals, agents, the event taxonomy, and structured errors.
package contracts

// Effect is the outcome a rule assigns to a matching tool call.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// OperatorSet maps a condition operator name to its operand.
// All operators in a set must hold (conjunctive).
type OperatorSet map[string]any

// Condition maps a parameter name to the operator set it must satisfy.
// All parameter entries must hold (conjunctive).
type Condition map[string]OperatorSet

// Condition operator names. Any other name is rejected by the validator
// and evaluates to false at runtime.
const (
	OpEquals     = "equals"
	OpNotEquals  = "notEquals"
	OpStartsWith = "startsWith"
	OpEndsWith   = "endsWith"
	OpContains   = "contains"
	OpGT         = "gt"
	OpLT         = "lt"
	OpGTE        = "gte"
	OpLTE        = "lte"
	OpIn         = "in"
	OpMatches    = "matches"
)

// KnownOperators enumerates the closed operator algebra.
var KnownOperators = map[string]bool{
	OpEquals: true, OpNotEquals: true,
	OpStartsWith: true, OpEndsWith: true, OpContains: true,
	OpGT: true, OpLT: true, OpGTE: true, OpLTE: true,
	OpIn: true, OpMatches: true,
}

// RateLimit is the per-rule rate-limit descriptor. It is accepted and
// persisted but never enforced by this engine.
type RateLimit struct {
	MaxCalls      int `json:"maxCalls"`
	WindowSeconds int `json:"windowSeconds"`
}

// PolicyRule is a single ordered rule inside a policy. Tool is either an
// exact tool name or the literal wildcard "*".
type PolicyRule struct {
	Name            string     `json:"name,omitempty"`
	Tool            string     `json:"tool"`
	Effect          Effect     `json:"effect"`
	Condition       Condition  `json:"condition,omitempty"`
	Reason          string     `json:"reason,omitempty"`
	RateLimit       *RateLimit `json:"rateLimit,omitempty"`
	RequireApproval bool       `json:"requireApproval,omitempty"`
}

// MaxPolicyRules bounds the rule count of a single policy.
const MaxPolicyRules = 1000

// Policy is an ordered rule set, optionally scoped to one agent.
type Policy struct {
	Name      string       `json:"name"`
	Version   int          `json:"version"`
	AgentID   string       `json:"agentId,omitempty"`
	Rules     []PolicyRule `json:"rules"`
	CreatedAt string       `json:"createdAt,omitempty"`
	UpdatedAt string       `json:"updatedAt,omitempty"`
}

// PolicyVersion is a snapshot of a policy taken immediately before it was
// overwritten, so history records the policy as it was.
type PolicyVersion struct {
	ID         int64        `json:"id"`
	PolicyName string       `json:"policyName"`
	Version    int          `json:"version"`
	AgentID    string       `json:"agentId,omitempty"`
	Rules      []PolicyRule `json:"rules"`
	Author     string       `json:"author"`
	CreatedAt  string       `json:"createdAt"`
}

// EvaluationRequest is one tool call presented for a decision.
type EvaluationRequest struct {
	AgentID    string         `json:"agentId"`
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters,omitempty"`
	TraceID    string         `json:"traceId,omitempty"`
}

// EvaluationResult is the decision returned to the caller. AppliedRules
// lists every matching rule in priority order; the first entry won.
// RequiresApproval, ApprovalID and Deadline are populated only on the
// approval-interception path.
type EvaluationResult struct {
	Allowed          bool         `json:"allowed"`
	TraceID          string       `json:"traceId"`
	Reason           string       `json:"reason,omitempty"`
	AppliedRules     []PolicyRule `json:"appliedRules"`
	RequiresApproval bool         `json:"requiresApproval,omitempty"`
	ApprovalID       string       `json:"approvalId,omitempty"`
	Deadline         string       `json:"deadline,omitempty"`
}

// DefaultAllowAllPolicy is the synthetic policy used when no inline and no
// persisted policy exists (the zero-configuration path).
func DefaultAllowAllPolicy() *Policy {
	return &Policy{
		Name:    "default-allow-all",
		Version: 1,
		Rules:   []PolicyRule{{Tool: "*", Effect: EffectAllow}},
	}
}
