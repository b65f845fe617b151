// Package governance composes the policy engine, kill switch, audit log,
// event bus and approval workflow into the evaluate pipeline. The
// orchestrator is safe for concurrent use; each call's side effects are
// sequenced within the call and independent across calls.
package governance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/warden-labs/warden/pkg/contracts"
	"github.com/warden-labs/warden/pkg/events"
	"github.com/warden-labs/warden/pkg/killswitch"
	"github.com/warden-labs/warden/pkg/observability"
	"github.com/warden-labs/warden/pkg/policy"
	"github.com/warden-labs/warden/pkg/store"
	"github.com/warden-labs/warden/pkg/trace"
)

// DefaultApprovalTimeout is the window granted to human approvers.
const DefaultApprovalTimeout = 3600 * time.Second

// Engine is the orchestrator. The inline policy field has one writer
// (SetPolicy, ClearPolicy) and many readers; publication is guarded by
// policyMu.
type Engine struct {
	policyMu sync.RWMutex
	inline   *contracts.Policy

	st      store.Store
	bus     *events.Bus
	kill    *killswitch.Manager
	rules   *policy.Engine
	metrics *observability.Metrics
	logger  *slog.Logger
	clock   func() time.Time

	tenantID        string
	approvalTimeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore attaches the persistence layer. Without one the engine runs
// decision-only: no audit rows, no persisted policies, no approvals.
func WithStore(st store.Store) Option { return func(e *Engine) { e.st = st } }

// WithBus replaces the event bus.
func WithBus(bus *events.Bus) Option { return func(e *Engine) { e.bus = bus } }

// WithKillSwitch replaces the kill-switch manager.
func WithKillSwitch(kill *killswitch.Manager) Option {
	return func(e *Engine) { e.kill = kill }
}

// WithPolicy installs an inline policy that takes precedence over any
// persisted one.
func WithPolicy(p *contracts.Policy) Option { return func(e *Engine) { e.inline = p } }

// WithMetrics attaches instrument recording.
func WithMetrics(m *observability.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithApprovalTimeout overrides the approval deadline window.
func WithApprovalTimeout(d time.Duration) Option {
	return func(e *Engine) { e.approvalTimeout = d }
}

// WithClock overrides the clock for deterministic testing.
func WithClock(clock func() time.Time) Option { return func(e *Engine) { e.clock = clock } }

// WithLogger replaces the logger.
func WithLogger(logger *slog.Logger) Option { return func(e *Engine) { e.logger = logger } }

// New creates an orchestrator. All collaborators are optional; defaults
// are a fresh bus, a kill switch wired to that bus, and no persistence.
func New(opts ...Option) *Engine {
	e := &Engine{
		rules:           policy.NewEngine(),
		clock:           time.Now,
		approvalTimeout: DefaultApprovalTimeout,
		logger:          slog.Default().With("component", "governance"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.bus == nil {
		e.bus = events.NewBus()
	}
	if e.kill == nil {
		e.kill = killswitch.NewManager(e.bus)
	}
	return e
}

// Bus exposes the event bus for listener registration.
func (e *Engine) Bus() *events.Bus { return e.bus }

// KillSwitch exposes the kill-switch manager.
func (e *Engine) KillSwitch() *killswitch.Manager { return e.kill }

// TenantID reports the scope this engine is bound to; empty is global.
func (e *Engine) TenantID() string { return e.tenantID }

// SetPolicy atomically publishes an inline policy after validating it.
func (e *Engine) SetPolicy(p *contracts.Policy) error {
	if err := policy.Validate(p); err != nil {
		return err
	}
	e.policyMu.Lock()
	e.inline = p
	e.policyMu.Unlock()
	return nil
}

// ClearPolicy removes the inline policy; evaluation falls back to the
// persisted one.
func (e *Engine) ClearPolicy() {
	e.policyMu.Lock()
	e.inline = nil
	e.policyMu.Unlock()
}

func (e *Engine) inlinePolicy() *contracts.Policy {
	e.policyMu.RLock()
	defer e.policyMu.RUnlock()
	return e.inline
}

// ForTenant derives a tenant-scoped view. It shares the bus, kill switch
// and policy engine with its parent; the persistence handle is scoped
// when the backend supports it, and the inline policy is isolated from
// the parent's.
func (e *Engine) ForTenant(tenantID string) *Engine {
	scoped := &Engine{
		inline:          e.inlinePolicy(),
		st:              e.st,
		bus:             e.bus,
		kill:            e.kill,
		rules:           e.rules,
		metrics:         e.metrics,
		logger:          e.logger,
		clock:           e.clock,
		tenantID:        tenantID,
		approvalTimeout: e.approvalTimeout,
	}
	if ts, ok := e.st.(store.TenantScoper); ok {
		scoped.st = ts.ForTenant(tenantID)
	}
	return scoped
}

// Evaluate decides one tool call. The returned decision always carries
// (allowed, traceId, appliedRules); it never changes because a side
// effect failed.
func (e *Engine) Evaluate(ctx context.Context, req contracts.EvaluationRequest) (*contracts.EvaluationResult, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	start := e.clock()

	// Trace resolution: reuse the caller's id, regenerate anything invalid.
	tc := trace.New(req.TraceID)
	ctx = trace.WithContext(ctx, tc)
	traceID := tc.TraceID

	// Kill-switch short-circuit: the policy and persistence layers are
	// not consulted.
	if e.kill.IsActive(e.tenantID) {
		status := e.kill.Status(e.tenantID)
		reason := fmt.Sprintf("Kill-Switch active: %s", status.Reason)
		result := &contracts.EvaluationResult{
			TraceID:      traceID,
			Reason:       reason,
			AppliedRules: []contracts.PolicyRule{},
		}
		e.emitDecision(contracts.EventToolCallDenied, req, traceID, map[string]any{
			"tool":       req.Tool,
			"reason":     reason,
			"killSwitch": true,
		})
		e.metrics.RecordKillSwitchDenial(ctx)
		e.writeDecisionAudit(ctx, req, traceID, result, "killswitch_denial", start)
		e.metrics.RecordDecision(ctx, false, e.clock().Sub(start).Seconds())
		return result, nil
	}

	// Policy resolution: inline beats persisted beats default-allow-all.
	// A persistence failure here is fatal to the request and skips the
	// audit write; the caller already receives a failure signal.
	pol := e.inlinePolicy()
	if pol == nil && e.st != nil {
		resolved, err := e.st.ResolveActivePolicy(ctx, req.AgentID)
		if err != nil {
			reason := "policy resolution failed (fail-secure)"
			e.logger.Error("policy resolution failed",
				"agentId", req.AgentID, "traceId", traceID, "error", err)
			result := &contracts.EvaluationResult{
				TraceID:      traceID,
				Reason:       reason,
				AppliedRules: []contracts.PolicyRule{},
			}
			e.emitDecision(contracts.EventToolCallDenied, req, traceID, map[string]any{
				"tool":   req.Tool,
				"reason": reason,
			})
			e.metrics.RecordDecision(ctx, false, e.clock().Sub(start).Seconds())
			return result, nil
		}
		pol = resolved
	}
	if pol == nil {
		pol = contracts.DefaultAllowAllPolicy()
	}

	result := e.rules.Evaluate(pol, req, traceID)

	// Approval interception: an allow whose winning rule requires
	// approval is held in abeyance, never emitted as allowed.
	if result.Allowed && len(result.AppliedRules) > 0 && result.AppliedRules[0].RequireApproval {
		return e.interceptApproval(ctx, req, traceID, pol, result)
	}

	if result.Allowed {
		e.emitDecision(contracts.EventToolCallAllowed, req, traceID, map[string]any{
			"tool":         req.Tool,
			"appliedRules": ruleNames(result.AppliedRules),
		})
	} else {
		e.emitDecision(contracts.EventToolCallDenied, req, traceID, map[string]any{
			"tool":         req.Tool,
			"reason":       result.Reason,
			"appliedRules": ruleNames(result.AppliedRules),
		})
	}

	e.writeDecisionAudit(ctx, req, traceID, result, "policy_evaluation", start)
	e.metrics.RecordDecision(ctx, result.Allowed, e.clock().Sub(start).Seconds())
	return result, nil
}

// emitDecision publishes a fully-formed event so the envelope carries the
// evaluation's trace, agent and tenant ids.
func (e *Engine) emitDecision(eventType contracts.EventType, req contracts.EvaluationRequest, traceID string, data map[string]any) {
	data["agentId"] = req.AgentID
	if e.tenantID != "" {
		data["tenantId"] = e.tenantID
	}
	e.bus.EmitEvent(contracts.Event{
		Type:     eventType,
		TraceID:  traceID,
		AgentID:  req.AgentID,
		TenantID: e.tenantID,
		Data:     data,
	})
}

// writeDecisionAudit appends the decision's audit row. Failure is
// non-fatal: the decision stands and an audit.write_failure event names
// the originating pipeline stage.
func (e *Engine) writeDecisionAudit(ctx context.Context, req contracts.EvaluationRequest, traceID string, result *contracts.EvaluationResult, origin string, start time.Time) {
	if e.st == nil {
		return
	}

	auditResult := contracts.ResultDenied
	var category contracts.FailureCategory
	if result.Allowed {
		auditResult = contracts.ResultAllowed
	} else {
		category = contracts.CategoryPolicyDenial
	}

	params := req.Parameters
	if names := ruleNames(result.AppliedRules); len(names) > 0 {
		params = make(map[string]any, len(req.Parameters)+1)
		for k, v := range req.Parameters {
			params[k] = v
		}
		params["appliedRules"] = names
	}

	_, err := e.st.WriteAuditEvent(ctx, &contracts.AuditEvent{
		TraceID:         traceID,
		AgentID:         req.AgentID,
		Tool:            req.Tool,
		Parameters:      params,
		Result:          auditResult,
		Reason:          result.Reason,
		DurationMS:      e.clock().Sub(start).Milliseconds(),
		FailureCategory: category,
	})
	if err != nil {
		e.logger.Error("audit write failed",
			"context", origin, "traceId", traceID, "error", err)
		e.metrics.RecordAuditWriteFailure(ctx, origin)
		e.bus.EmitEvent(contracts.Event{
			Type:     contracts.EventAuditWriteFailure,
			TraceID:  traceID,
			AgentID:  req.AgentID,
			TenantID: e.tenantID,
			Data: map[string]any{
				"context": origin,
				"error":   err.Error(),
			},
		})
	}
}

func ruleNames(rules []contracts.PolicyRule) []string {
	if len(rules) == 0 {
		return nil
	}
	names := make([]string, len(rules))
	for i, rule := range rules {
		name := rule.Name
		if name == "" {
			name = fmt.Sprintf("%s:%s", rule.Tool, rule.Effect)
		}
		names[i] = name
	}
	return names
}

func (e *Engine) requireStore() error {
	if e.st == nil {
		return contracts.NewGovernanceError(contracts.CodeDatabaseRequired,
			contracts.CategoryConfigError,
			"this operation requires a persistence layer")
	}
	return nil
}
