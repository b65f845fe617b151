package contracts

// AuditResult classifies the outcome recorded on an audit event.
type AuditResult string

const (
	ResultAllowed           AuditResult = "allowed"
	ResultDenied            AuditResult = "denied"
	ResultError             AuditResult = "error"
	ResultRetentionBoundary AuditResult = "retention-boundary"
)

// FailureCategory is the closed enumeration tagged on denied or errored
// audit rows to drive reporting.
type FailureCategory string

const (
	CategoryToolError       FailureCategory = "tool_error"
	CategoryPolicyDenial    FailureCategory = "policy_denial"
	CategoryProviderTimeout FailureCategory = "provider_timeout"
	CategoryProviderError   FailureCategory = "provider_error"
	CategoryInjectionAlert  FailureCategory = "injection_alert"
	CategoryConfigError     FailureCategory = "config_error"
	CategoryRateLimit       FailureCategory = "rate_limit"
	CategoryApprovalTimeout FailureCategory = "approval_timeout"
)

// AuditEvent is a single row in the append-only log, bound into the hash
// chain by its predecessor's hash. Timestamps are ISO-8601 strings.
type AuditEvent struct {
	ID              int64           `json:"id"`
	TraceID         string          `json:"traceId"`
	Timestamp       string          `json:"timestamp"`
	AgentID         string          `json:"agentId"`
	Tool            string          `json:"tool"`
	Parameters      map[string]any  `json:"parameters,omitempty"`
	Result          AuditResult     `json:"result"`
	Reason          string          `json:"reason,omitempty"`
	DurationMS      int64           `json:"durationMs"`
	FailureCategory FailureCategory `json:"failureCategory,omitempty"`
	PreviousHash    string          `json:"previousHash"`
	Hash            string          `json:"hash"`
}

// ChainVerification reports the result of a full chain walk. BrokenAt is
// the id of the first record that failed verification, zero on a clean pass.
type ChainVerification struct {
	Valid          bool  `json:"valid"`
	BrokenAt       int64 `json:"brokenAt,omitempty"`
	TotalEvents    int64 `json:"totalEvents"`
	VerifiedEvents int64 `json:"verifiedEvents"`
}
