package firewall

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/warden-labs/warden/pkg/contracts"
	"github.com/warden-labs/warden/pkg/governance"
	"github.com/warden-labs/warden/pkg/schema"
)

// Dispatcher executes the actual tool logic.
type Dispatcher interface {
	Dispatch(ctx context.Context, tool string, params map[string]any) (any, error)
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, tool string, params map[string]any) (any, error)

func (f DispatcherFunc) Dispatch(ctx context.Context, tool string, params map[string]any) (any, error) {
	return f(ctx, tool, params)
}

// GovernedDispatcher interposes the governance engine between callers
// and a tool runtime. Every call is screened for injection patterns,
// validated against the tool's registered input schema, and evaluated
// by the engine; only allowed calls reach the wrapped dispatcher.
type GovernedDispatcher struct {
	engine *governance.Engine
	next   Dispatcher
	logger *slog.Logger

	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// NewGovernedDispatcher wraps next behind engine. A nil next fails every
// allowed call closed at dispatch time.
func NewGovernedDispatcher(engine *governance.Engine, next Dispatcher) *GovernedDispatcher {
	return &GovernedDispatcher{
		engine:  engine,
		next:    next,
		logger:  slog.Default().With("component", "firewall"),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// RegisterSchema compiles and stores the input schema for one tool. An
// empty document clears any registered schema.
func (d *GovernedDispatcher) RegisterSchema(tool string, document map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(document) == 0 {
		delete(d.schemas, tool)
		return nil
	}
	compiled, err := schema.Compile(tool, document)
	if err != nil {
		return err
	}
	d.schemas[tool] = compiled
	return nil
}

func (d *GovernedDispatcher) schemaFor(tool string) *jsonschema.Schema {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.schemas[tool]
}

// Dispatch screens, governs, and executes one tool call on behalf of
// agentID. Denials surface as POLICY_DENIED; downstream execution
// failures surface as TOOL_EXECUTION_ERROR wrapping the cause.
func (d *GovernedDispatcher) Dispatch(ctx context.Context, agentID, tool string, params map[string]any) (any, error) {
	if findings := DetectInjection(params); len(findings) > 0 {
		d.emitInjection(agentID, tool, findings)
		return nil, contracts.NewGovernanceError(contracts.CodePolicyDenied,
			contracts.CategoryInjectionAlert,
			fmt.Sprintf("injection patterns detected in parameters for tool %q", tool)).
			WithContext("findings", findings)
	}

	if compiled := d.schemaFor(tool); compiled != nil {
		if err := schema.ValidateParams(compiled, params); err != nil {
			return nil, contracts.NewGovernanceError(contracts.CodePolicyDenied,
				contracts.CategoryConfigError,
				fmt.Sprintf("parameters for tool %q do not match its schema", tool)).
				Wrap(err)
		}
	}

	result, err := d.engine.Evaluate(ctx, contracts.EvaluationRequest{
		AgentID:    agentID,
		Tool:       tool,
		Parameters: params,
	})
	if err != nil {
		return nil, err
	}
	if !result.Allowed {
		ge := contracts.NewGovernanceError(contracts.CodePolicyDenied,
			contracts.CategoryPolicyDenial, result.Reason).
			WithContext("traceId", result.TraceID)
		if result.RequiresApproval {
			ge = ge.WithContext("approvalId", result.ApprovalID)
		}
		return nil, ge
	}
	if result.RequiresApproval {
		// Approval was intercepted; the call must be re-dispatched after
		// the approval resolves.
		return nil, contracts.NewGovernanceError(contracts.CodePolicyDenied,
			contracts.CategoryPolicyDenial,
			fmt.Sprintf("tool %q requires approval %s", tool, result.ApprovalID)).
			WithContext("approvalId", result.ApprovalID).
			WithContext("traceId", result.TraceID)
	}

	if d.next == nil {
		return nil, contracts.NewGovernanceError(contracts.CodeToolExecutionError,
			contracts.CategoryToolError, "no dispatcher configured (fail-closed)")
	}
	out, err := d.next.Dispatch(ctx, tool, params)
	if err != nil {
		return nil, contracts.NewGovernanceError(contracts.CodeToolExecutionError,
			contracts.CategoryToolError,
			fmt.Sprintf("tool %q execution failed", tool)).
			WithContext("traceId", result.TraceID).
			Wrap(err)
	}
	return out, nil
}

func (d *GovernedDispatcher) emitInjection(agentID, tool string, findings []Finding) {
	details := make([]map[string]any, 0, len(findings))
	for _, f := range findings {
		details = append(details, map[string]any{
			"parameter": f.Parameter,
			"pattern":   f.Pattern,
		})
	}
	d.logger.Warn("injection patterns detected",
		"agentId", agentID, "tool", tool, "findings", len(findings))
	d.engine.Bus().EmitEvent(contracts.Event{
		Type:    contracts.EventInjectionDetected,
		AgentID: agentID,
		Data: map[string]any{
			"agentId":  agentID,
			"tool":     tool,
			"findings": details,
		},
	})
}
