// Package killswitch implements the deterministic circuit breaker that
// short-circuits evaluation: a single global tier plus an independent
// per-tenant tier, both idempotent via first-write-wins.
package killswitch

import (
	"sync"
	"time"

	"github.com/warden-labs/warden/pkg/contracts"
	"github.com/warden-labs/warden/pkg/events"
)

// DefaultResetReason is recorded when a reset gives no reason.
const DefaultResetReason = "Manual reset"

// State is the observable triple of one kill-switch scope.
type State struct {
	Active      bool   `json:"active"`
	ActivatedAt string `json:"activatedAt,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Manager holds the global state and the per-tenant map. The two tiers
// are strictly independent: global activation does not affect tenant
// queries and vice versa. The empty tenant id addresses the global tier.
type Manager struct {
	mu      sync.Mutex
	global  State
	tenants map[string]State
	bus     *events.Bus
	clock   func() time.Time
}

// NewManager creates a kill-switch manager. bus may be nil; activation
// and reset then change state without emitting.
func NewManager(bus *events.Bus) *Manager {
	return &Manager{
		tenants: make(map[string]State),
		bus:     bus,
		clock:   time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// Activate trips the breaker for the given scope (empty tenantID is the
// global tier). A second activation of an active scope returns without
// changing state or emitting.
func (m *Manager) Activate(reason, tenantID string) {
	m.mu.Lock()
	state := m.scopeState(tenantID)
	if state.Active {
		m.mu.Unlock()
		return
	}
	next := State{
		Active:      true,
		ActivatedAt: m.clock().UTC().Format(time.RFC3339Nano),
		Reason:      reason,
	}
	m.setScopeState(tenantID, next)
	m.mu.Unlock()

	m.emit(contracts.EventKillSwitchActivated, tenantID, map[string]any{
		"reason": reason,
	})
}

// Reset clears the breaker for the given scope. Idempotent on inactive.
// The emitted event carries both the reset reason (defaulting to
// DefaultResetReason) and the preserved previous reason.
func (m *Manager) Reset(tenantID, reason string) {
	if reason == "" {
		reason = DefaultResetReason
	}

	m.mu.Lock()
	state := m.scopeState(tenantID)
	if !state.Active {
		m.mu.Unlock()
		return
	}
	previous := state.Reason
	m.setScopeState(tenantID, State{})
	m.mu.Unlock()

	m.emit(contracts.EventKillSwitchDeactivated, tenantID, map[string]any{
		"reason":         reason,
		"previousReason": previous,
	})
}

// IsActive reports whether the scope's breaker is tripped.
func (m *Manager) IsActive(tenantID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scopeState(tenantID).Active
}

// Status returns the scope's observable triple.
func (m *Manager) Status(tenantID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scopeState(tenantID)
}

func (m *Manager) scopeState(tenantID string) State {
	if tenantID == "" {
		return m.global
	}
	return m.tenants[tenantID]
}

func (m *Manager) setScopeState(tenantID string, s State) {
	if tenantID == "" {
		m.global = s
		return
	}
	m.tenants[tenantID] = s
}

func (m *Manager) emit(eventType contracts.EventType, tenantID string, data map[string]any) {
	if m.bus == nil {
		return
	}
	if tenantID != "" {
		data["tenantId"] = tenantID
	}
	m.bus.EmitEvent(contracts.Event{
		Type:     eventType,
		TenantID: tenantID,
		Data:     data,
	})
}
