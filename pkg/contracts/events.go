package contracts

// EventType is one of the closed set of dotted event names emitted by the
// engine.
type EventType string

const (
	EventToolCallAllowed EventType = "tool_call.allowed"
	EventToolCallDenied  EventType = "tool_call.denied"
	EventToolCallError   EventType = "tool_call.error"

	EventApprovalRequested EventType = "approval.requested"
	EventApprovalGranted   EventType = "approval.granted"
	EventApprovalRejected  EventType = "approval.rejected"
	EventApprovalTimeout   EventType = "approval.timeout"

	EventAgentStarted       EventType = "agent.started"
	EventAgentStopped       EventType = "agent.stopped"
	EventAgentError         EventType = "agent.error"
	EventAgentConfigChanged EventType = "agent.config_changed"

	EventPolicyCreated EventType = "policy.created"
	EventPolicyUpdated EventType = "policy.updated"
	EventPolicyDeleted EventType = "policy.deleted"

	EventKillSwitchActivated   EventType = "killswitch.activated"
	EventKillSwitchDeactivated EventType = "killswitch.deactivated"

	EventAuditIntegrityViolation EventType = "audit.integrity_violation"
	EventAuditWriteFailure       EventType = "audit.write_failure"

	EventInjectionDetected EventType = "injection.detected"
	EventRateLimitExceeded EventType = "rate_limit.exceeded"
)

// Event is the envelope delivered to listeners.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp string         `json:"timestamp"`
	TraceID   string         `json:"traceId,omitempty"`
	AgentID   string         `json:"agentId,omitempty"`
	TenantID  string         `json:"tenantId,omitempty"`
	Data      map[string]any `json:"data"`
}
