package governance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/warden-labs/warden/pkg/contracts"
	"github.com/warden-labs/warden/pkg/events"
	"github.com/warden-labs/warden/pkg/store"
)

const testTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"

func newSQLite(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func listen(bus *events.Bus, eventType contracts.EventType) <-chan contracts.Event {
	ch := make(chan contracts.Event, 8)
	bus.On(eventType, func(evt contracts.Event) error {
		ch <- evt
		return nil
	})
	return ch
}

func waitEvent(t *testing.T, ch <-chan contracts.Event) contracts.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return contracts.Event{}
	}
}

func requireNoEvent(t *testing.T, ch <-chan contracts.Event) {
	t.Helper()
	select {
	case evt := <-ch:
		t.Fatalf("unexpected event %s", evt.Type)
	case <-time.After(150 * time.Millisecond):
	}
}

// trackingStore wraps a Store to observe or fail policy resolution. The
// embedding deliberately hides the approval capability.
type trackingStore struct {
	store.Store
	resolveCalls int
	resolveErr   error
}

func (s *trackingStore) ResolveActivePolicy(ctx context.Context, agentID string) (*contracts.Policy, error) {
	s.resolveCalls++
	if s.resolveErr != nil {
		return nil, s.resolveErr
	}
	return s.Store.ResolveActivePolicy(ctx, agentID)
}

func TestEvaluate_ValidatesInput(t *testing.T) {
	e := New()

	_, err := e.Evaluate(context.Background(), contracts.EvaluationRequest{Tool: "file_read"})
	require.True(t, contracts.IsCode(err, contracts.CodeInvalidRequest))

	_, err = e.Evaluate(context.Background(), contracts.EvaluationRequest{AgentID: "a"})
	require.True(t, contracts.IsCode(err, contracts.CodeInvalidRequest))
}

func TestEvaluate_AllowOnExactMatch(t *testing.T) {
	st := newSQLite(t)
	bus := events.NewBus()
	allowed := listen(bus, contracts.EventToolCallAllowed)

	e := New(WithStore(st), WithBus(bus), WithPolicy(&contracts.Policy{
		Name:  "p",
		Rules: []contracts.PolicyRule{{Tool: "file_read", Effect: contracts.EffectAllow}},
	}))

	result, err := e.Evaluate(context.Background(), contracts.EvaluationRequest{
		AgentID: "a", Tool: "file_read", TraceID: testTraceID,
	})
	require.NoError(t, err)
	require.True(t, result.Allowed)
	require.Equal(t, testTraceID, result.TraceID)
	require.Len(t, result.AppliedRules, 1)
	require.Equal(t, contracts.EffectAllow, result.AppliedRules[0].Effect)

	evt := waitEvent(t, allowed)
	require.Equal(t, testTraceID, evt.TraceID)
	require.Equal(t, "a", evt.AgentID)

	page, err := st.QueryAuditEvents(context.Background(), store.AuditQuery{})
	require.NoError(t, err)
	require.EqualValues(t, 1, page.Total)
	require.Equal(t, contracts.ResultAllowed, page.Events[0].Result)
	require.Empty(t, page.Events[0].FailureCategory)
	require.Equal(t, testTraceID, page.Events[0].TraceID)
}

func TestEvaluate_DenyWritesPolicyDenialCategory(t *testing.T) {
	st := newSQLite(t)
	bus := events.NewBus()
	denied := listen(bus, contracts.EventToolCallDenied)

	e := New(WithStore(st), WithBus(bus), WithPolicy(&contracts.Policy{
		Name: "p",
		Rules: []contracts.PolicyRule{
			{Tool: "*", Effect: contracts.EffectAllow},
			{Tool: "file_write", Effect: contracts.EffectDeny, Reason: "No writes"},
		},
	}))

	result, err := e.Evaluate(context.Background(), contracts.EvaluationRequest{
		AgentID: "a", Tool: "file_write", TraceID: testTraceID,
	})
	require.NoError(t, err)
	require.False(t, result.Allowed)
	require.Equal(t, "No writes", result.Reason)

	evt := waitEvent(t, denied)
	require.Equal(t, "No writes", evt.Data["reason"])

	page, err := st.QueryAuditEvents(context.Background(), store.AuditQuery{})
	require.NoError(t, err)
	require.Equal(t, contracts.CategoryPolicyDenial, page.Events[0].FailureCategory)
}

func TestEvaluate_GeneratesTraceID(t *testing.T) {
	e := New(WithPolicy(&contracts.Policy{
		Name:  "p",
		Rules: []contracts.PolicyRule{{Tool: "*", Effect: contracts.EffectAllow}},
	}))

	result, err := e.Evaluate(context.Background(), contracts.EvaluationRequest{
		AgentID: "a", Tool: "file_read",
	})
	require.NoError(t, err)
	require.Regexp(t, `^[0-9a-f]{32}$`, result.TraceID)
	require.NotEqual(t, "00000000000000000000000000000000", result.TraceID)
}

func TestEvaluate_KillSwitchDominates(t *testing.T) {
	st := &trackingStore{Store: newSQLite(t)}
	bus := events.NewBus()
	denied := listen(bus, contracts.EventToolCallDenied)

	e := New(WithStore(st), WithBus(bus), WithPolicy(&contracts.Policy{
		Name:  "p",
		Rules: []contracts.PolicyRule{{Tool: "*", Effect: contracts.EffectAllow}},
	}))
	e.KillSwitch().Activate("drill", "")

	result, err := e.Evaluate(context.Background(), contracts.EvaluationRequest{
		AgentID: "a", Tool: "file_read", TraceID: testTraceID,
	})
	require.NoError(t, err)
	require.False(t, result.Allowed)
	require.Contains(t, result.Reason, "Kill-Switch")
	require.Contains(t, result.Reason, "drill")

	evt := waitEvent(t, denied)
	require.Equal(t, true, evt.Data["killSwitch"])

	// The policy layer was never consulted and the denial is durable.
	require.Zero(t, st.resolveCalls)
	page, err := st.QueryAuditEvents(context.Background(), store.AuditQuery{})
	require.NoError(t, err)
	require.EqualValues(t, 1, page.Total)
	require.Equal(t, contracts.ResultDenied, page.Events[0].Result)
}

func TestEvaluate_PersistenceFailureFailsSecure(t *testing.T) {
	sqlite := newSQLite(t)
	st := &trackingStore{Store: sqlite, resolveErr: errors.New("disk I/O error")}
	bus := events.NewBus()
	denied := listen(bus, contracts.EventToolCallDenied)

	e := New(WithStore(st), WithBus(bus))

	result, err := e.Evaluate(context.Background(), contracts.EvaluationRequest{
		AgentID: "a", Tool: "file_read", TraceID: testTraceID,
	})
	require.NoError(t, err)
	require.False(t, result.Allowed)
	require.Contains(t, result.Reason, "fail-secure")
	waitEvent(t, denied)

	// No audit write is attempted on this path.
	page, err := sqlite.QueryAuditEvents(context.Background(), store.AuditQuery{})
	require.NoError(t, err)
	require.EqualValues(t, 0, page.Total)
}

func TestEvaluate_ZeroConfigurationDefaultsToAllow(t *testing.T) {
	st := newSQLite(t)
	e := New(WithStore(st))

	result, err := e.Evaluate(context.Background(), contracts.EvaluationRequest{
		AgentID: "a", Tool: "anything", TraceID: testTraceID,
	})
	require.NoError(t, err)
	require.True(t, result.Allowed)
	require.Len(t, result.AppliedRules, 1)
	require.Equal(t, "*", result.AppliedRules[0].Tool)
}

func TestEvaluate_PersistedPolicyResolved(t *testing.T) {
	st := newSQLite(t)
	e := New(WithStore(st))

	_, err := e.UpsertPolicy(context.Background(), &contracts.Policy{
		Name: "prod",
		Rules: []contracts.PolicyRule{
			{Tool: "file_write", Effect: contracts.EffectDeny, Reason: "No writes"},
			{Tool: "*", Effect: contracts.EffectAllow},
		},
	}, "alice")
	require.NoError(t, err)

	result, err := e.Evaluate(context.Background(), contracts.EvaluationRequest{
		AgentID: "a", Tool: "file_write", TraceID: testTraceID,
	})
	require.NoError(t, err)
	require.False(t, result.Allowed)
	require.Equal(t, "No writes", result.Reason)
}

func TestEvaluate_AuditWriteFailureIsNonFatal(t *testing.T) {
	st := newSQLite(t)
	require.NoError(t, st.Close()) // every write now fails

	bus := events.NewBus()
	failures := listen(bus, contracts.EventAuditWriteFailure)

	e := New(WithStore(st), WithBus(bus), WithPolicy(&contracts.Policy{
		Name:  "p",
		Rules: []contracts.PolicyRule{{Tool: "*", Effect: contracts.EffectAllow}},
	}))

	result, err := e.Evaluate(context.Background(), contracts.EvaluationRequest{
		AgentID: "a", Tool: "file_read", TraceID: testTraceID,
	})
	require.NoError(t, err)
	require.True(t, result.Allowed, "the decision stands when the audit write fails")

	evt := waitEvent(t, failures)
	require.Equal(t, "policy_evaluation", evt.Data["context"])
	require.NotEmpty(t, evt.Data["error"])
}

func TestForTenant_KillSwitchIsolation(t *testing.T) {
	bus := events.NewBus()
	denied := listen(bus, contracts.EventToolCallDenied)

	parent := New(WithBus(bus), WithPolicy(&contracts.Policy{
		Name:  "p",
		Rules: []contracts.PolicyRule{{Tool: "*", Effect: contracts.EffectAllow}},
	}))
	scoped := parent.ForTenant("tenant-a")
	scoped.KillSwitch().Activate("tenant outage", "tenant-a")

	// The scoped engine is short-circuited; the parent is not.
	result, err := scoped.Evaluate(context.Background(), contracts.EvaluationRequest{
		AgentID: "a", Tool: "file_read", TraceID: testTraceID,
	})
	require.NoError(t, err)
	require.False(t, result.Allowed)

	evt := waitEvent(t, denied)
	require.Equal(t, "tenant-a", evt.TenantID)
	require.Equal(t, "tenant-a", evt.Data["tenantId"])

	result, err = parent.Evaluate(context.Background(), contracts.EvaluationRequest{
		AgentID: "a", Tool: "file_read", TraceID: testTraceID,
	})
	require.NoError(t, err)
	require.True(t, result.Allowed)
}

func TestForTenant_InlinePolicyIsolated(t *testing.T) {
	parent := New(WithPolicy(&contracts.Policy{
		Name:  "parent",
		Rules: []contracts.PolicyRule{{Tool: "*", Effect: contracts.EffectAllow}},
	}))
	scoped := parent.ForTenant("tenant-a")

	require.NoError(t, scoped.SetPolicy(&contracts.Policy{
		Name:  "scoped",
		Rules: []contracts.PolicyRule{{Tool: "*", Effect: contracts.EffectDeny, Reason: "tenant lockdown"}},
	}))

	res, err := scoped.Evaluate(context.Background(), contracts.EvaluationRequest{
		AgentID: "a", Tool: "x", TraceID: testTraceID,
	})
	require.NoError(t, err)
	require.False(t, res.Allowed)

	res, err = parent.Evaluate(context.Background(), contracts.EvaluationRequest{
		AgentID: "a", Tool: "x", TraceID: testTraceID,
	})
	require.NoError(t, err)
	require.True(t, res.Allowed, "the parent's inline policy is unaffected")
}

func TestEvaluate_Deterministic(t *testing.T) {
	e := New(WithPolicy(&contracts.Policy{
		Name: "p",
		Rules: []contracts.PolicyRule{
			{Tool: "file_write", Effect: contracts.EffectDeny, Reason: "No writes"},
			{Tool: "*", Effect: contracts.EffectAllow},
		},
	}))
	req := contracts.EvaluationRequest{AgentID: "a", Tool: "file_write", TraceID: testTraceID}

	first, err := e.Evaluate(context.Background(), req)
	require.NoError(t, err)
	second, err := e.Evaluate(context.Background(), req)
	require.NoError(t, err)

	require.Equal(t, first.Allowed, second.Allowed)
	require.Equal(t, first.Reason, second.Reason)
	require.Equal(t, first.AppliedRules, second.AppliedRules)
}

func TestManagement_RequiresStore(t *testing.T) {
	e := New()
	ctx := context.Background()

	_, err := e.UpsertPolicy(ctx, &contracts.Policy{
		Name:  "p",
		Rules: []contracts.PolicyRule{{Tool: "*", Effect: contracts.EffectAllow}},
	}, "")
	require.True(t, contracts.IsCode(err, contracts.CodeDatabaseRequired))

	_, err = e.RegisterAgent(ctx, &contracts.AgentConfig{AgentID: "a", Name: "n"})
	require.True(t, contracts.IsCode(err, contracts.CodeDatabaseRequired))

	_, err = e.QueryAudit(ctx, store.AuditQuery{})
	require.True(t, contracts.IsCode(err, contracts.CodeDatabaseRequired))
}

func TestUpsertPolicy_EmitsCreatedThenUpdated(t *testing.T) {
	st := newSQLite(t)
	bus := events.NewBus()
	created := listen(bus, contracts.EventPolicyCreated)
	updated := listen(bus, contracts.EventPolicyUpdated)

	e := New(WithStore(st), WithBus(bus))
	p := &contracts.Policy{
		Name:  "prod",
		Rules: []contracts.PolicyRule{{Tool: "*", Effect: contracts.EffectAllow}},
	}

	stored, err := e.UpsertPolicy(context.Background(), p, "alice")
	require.NoError(t, err)
	require.Equal(t, 1, stored.Version)
	evt := waitEvent(t, created)
	require.Equal(t, "prod", evt.Data["name"])

	stored, err = e.UpsertPolicy(context.Background(), p, "bob")
	require.NoError(t, err)
	require.Equal(t, 2, stored.Version)
	evt = waitEvent(t, updated)
	require.Equal(t, 2, evt.Data["version"])
}

func TestUpsertPolicy_RejectsInvalid(t *testing.T) {
	e := New(WithStore(newSQLite(t)))
	_, err := e.UpsertPolicy(context.Background(), &contracts.Policy{Name: "empty"}, "")
	require.True(t, contracts.IsCode(err, contracts.CodeInvalidPolicy))
}

func TestRollbackPolicy(t *testing.T) {
	st := newSQLite(t)
	e := New(WithStore(st))
	ctx := context.Background()

	_, err := e.UpsertPolicy(ctx, &contracts.Policy{
		Name:  "prod",
		Rules: []contracts.PolicyRule{{Tool: "*", Effect: contracts.EffectAllow}},
	}, "alice")
	require.NoError(t, err)
	_, err = e.UpsertPolicy(ctx, &contracts.Policy{
		Name:  "prod",
		Rules: []contracts.PolicyRule{{Tool: "*", Effect: contracts.EffectDeny}},
	}, "bob")
	require.NoError(t, err)

	restored, err := e.RollbackPolicy(ctx, "prod", 1, "carol")
	require.NoError(t, err)
	require.Equal(t, 3, restored.Version)
	require.Equal(t, contracts.EffectAllow, restored.Rules[0].Effect)

	_, err = e.RollbackPolicy(ctx, "prod", 42, "carol")
	require.True(t, contracts.IsCode(err, contracts.CodeVersionNotFound))
}

func TestUpdateAgentStatus_EventMapping(t *testing.T) {
	st := newSQLite(t)
	bus := events.NewBus()
	started := listen(bus, contracts.EventAgentStarted)
	stopped := listen(bus, contracts.EventAgentStopped)
	failed := listen(bus, contracts.EventAgentError)

	e := New(WithStore(st), WithBus(bus))
	ctx := context.Background()

	_, err := e.RegisterAgent(ctx, &contracts.AgentConfig{AgentID: "a", Name: "Reader"})
	require.NoError(t, err)

	_, err = e.UpdateAgentStatus(ctx, "a", contracts.AgentRunning)
	require.NoError(t, err)
	require.Equal(t, "a", waitEvent(t, started).AgentID)

	_, err = e.UpdateAgentStatus(ctx, "a", contracts.AgentStopped)
	require.NoError(t, err)
	waitEvent(t, stopped)

	_, err = e.UpdateAgentStatus(ctx, "a", contracts.AgentError)
	require.NoError(t, err)
	waitEvent(t, failed)

	_, err = e.UpdateAgentStatus(ctx, "ghost", contracts.AgentRunning)
	require.True(t, contracts.IsCode(err, contracts.CodeAgentNotFound))
}

func TestRegisterAgent_RejectsInvalid(t *testing.T) {
	e := New(WithStore(newSQLite(t)))
	_, err := e.RegisterAgent(context.Background(), &contracts.AgentConfig{AgentID: "a"})
	require.True(t, contracts.IsCode(err, contracts.CodeInvalidConfig))
}

func TestVerifyAuditChain_EmitsIntegrityViolation(t *testing.T) {
	st := newSQLite(t)
	bus := events.NewBus()
	violations := listen(bus, contracts.EventAuditIntegrityViolation)

	e := New(WithStore(st), WithBus(bus), WithPolicy(&contracts.Policy{
		Name:  "p",
		Rules: []contracts.PolicyRule{{Tool: "*", Effect: contracts.EffectAllow}},
	}))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := e.Evaluate(ctx, contracts.EvaluationRequest{
			AgentID: "a", Tool: "file_read", TraceID: testTraceID,
		})
		require.NoError(t, err)
	}

	verification, err := e.VerifyAuditChain(ctx)
	require.NoError(t, err)
	require.True(t, verification.Valid)
	requireNoEvent(t, violations)
}
