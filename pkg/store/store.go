// Package store implements durable persistence for the governance engine:
// the append-only audit chain, policies and their version history, agent
// registrations, and approval requests. The primary backend is SQLite
// (modernc.org/sqlite, pure Go); a Postgres backend adds tenant-scoped
// row isolation.
package store

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/warden-labs/warden/pkg/contracts"
)

// ErrNotFound is returned by point lookups when no row matches.
var ErrNotFound = errors.New("store: not found")

// TimeFormat is the fixed-width UTC serialization used for every stored
// timestamp. Unlike RFC3339Nano it never trims trailing zeros, so
// lexicographic comparison of stored values is chronological comparison.
const TimeFormat = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in the store's canonical timestamp form.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// ParseTime reads a stored timestamp, accepting the canonical form and
// the shorter RFC 3339 renderings older rows may carry.
func ParseTime(value string) (time.Time, error) {
	if t, err := time.Parse(TimeFormat, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

// AuditQuery filters and pages the audit log. String fields are exact
// matches when set; Search is a free-text substring match over reason and
// serialized parameters. Since and Until bound the timestamp, inclusive
// and exclusive respectively.
type AuditQuery struct {
	AgentID         string
	Tool            string
	TraceID         string
	Result          contracts.AuditResult
	FailureCategory contracts.FailureCategory
	Since           string
	Until           string
	Search          string
	Limit           int
	Offset          int
}

// AuditPage is one page of audit results plus the unpaged total.
type AuditPage struct {
	Events []*contracts.AuditEvent `json:"events"`
	Total  int64                   `json:"total"`
}

// ApprovalQuery filters and pages approval listings.
type ApprovalQuery struct {
	Status  contracts.ApprovalStatus
	AgentID string
	Limit   int
	Offset  int
}

// AuditWriter appends to and reads back the hash-chained audit log.
type AuditWriter interface {
	// WriteAuditEvent links rec to the current chain head, assigns its
	// hashes and id, and appends it. The returned record is fully
	// populated.
	WriteAuditEvent(ctx context.Context, rec *contracts.AuditEvent) (*contracts.AuditEvent, error)
	QueryAuditEvents(ctx context.Context, q AuditQuery) (*AuditPage, error)
	// LatestHash returns the chain head, or the empty string when the
	// log is empty.
	LatestHash(ctx context.Context) (string, error)
	VerifyChain(ctx context.Context) (*contracts.ChainVerification, error)
	// ExportAuditEvents streams matching records as newline-delimited
	// JSON and reports the number written.
	ExportAuditEvents(ctx context.Context, q AuditQuery, w io.Writer) (int64, error)
}

// PolicyStore persists named policies.
type PolicyStore interface {
	// UpsertPolicy stores p, snapshotting any prior version into history
	// within the same transaction and bumping the version counter.
	UpsertPolicy(ctx context.Context, p *contracts.Policy, author string) (*contracts.Policy, error)
	GetPolicy(ctx context.Context, name string) (*contracts.Policy, error)
	ListPolicies(ctx context.Context) ([]*contracts.Policy, error)
	DeletePolicy(ctx context.Context, name string) error
	// ResolveActivePolicy returns the policy governing agentID: the most
	// recently updated agent-scoped policy, else the agent's configured
	// policy, else the most recently updated global policy, else nil.
	ResolveActivePolicy(ctx context.Context, agentID string) (*contracts.Policy, error)
}

// PolicyHistoryStore reads the immutable policy snapshots.
type PolicyHistoryStore interface {
	PolicyHistory(ctx context.Context, name string) ([]*contracts.PolicyVersion, error)
	PolicyVersionByID(ctx context.Context, id int64) (*contracts.PolicyVersion, error)
}

// AgentStore persists agent registrations.
type AgentStore interface {
	RegisterAgent(ctx context.Context, cfg *contracts.AgentConfig) (*contracts.AgentConfig, error)
	GetAgent(ctx context.Context, agentID string) (*contracts.AgentConfig, error)
	ListAgents(ctx context.Context) ([]*contracts.AgentConfig, error)
	// UpdateAgentStatus sets the agent's status and last-active time,
	// returning AGENT_NOT_FOUND when no such agent exists.
	UpdateAgentStatus(ctx context.Context, agentID string, status contracts.AgentStatus) (*contracts.AgentConfig, error)
	DeleteAgent(ctx context.Context, agentID string) error
}

// Store is the full persistence contract every backend satisfies.
type Store interface {
	AuditWriter
	PolicyStore
	PolicyHistoryStore
	AgentStore

	Migrate(ctx context.Context) error
	SchemaVersion(ctx context.Context) (int, error)
	Close() error
}

// ApprovalStore is the optional capability backing two-phase approvals.
// Callers discover it by type assertion; a backend without it makes
// approval-requiring rules fail secure.
type ApprovalStore interface {
	CreateApproval(ctx context.Context, req *contracts.ApprovalRequest) (*contracts.ApprovalRequest, error)
	GetApproval(ctx context.Context, id string) (*contracts.ApprovalRequest, error)
	ListApprovals(ctx context.Context, q ApprovalQuery) ([]*contracts.ApprovalRequest, error)
	// ResolveApproval applies res to a pending request with an optimistic
	// conditional update. The boolean reports whether this caller won;
	// the returned record reflects the row after the attempt either way.
	ResolveApproval(ctx context.Context, id string, res contracts.ApprovalResolution) (*contracts.ApprovalRequest, bool, error)
}

// TenantScoper is the optional capability of backends with row-level
// tenant isolation. Backends without it treat tenant scoping as a no-op.
type TenantScoper interface {
	ForTenant(tenantID string) Store
}

// Transactor runs fn inside one transaction; store calls made with the
// ctx passed to fn join it.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Backend capability surface, checked at compile time. SQLite has no
// tenant isolation and so deliberately does not satisfy TenantScoper.
var (
	_ Store         = (*SQLiteStore)(nil)
	_ ApprovalStore = (*SQLiteStore)(nil)
	_ Transactor    = (*SQLiteStore)(nil)

	_ Store         = (*PostgresStore)(nil)
	_ ApprovalStore = (*PostgresStore)(nil)
	_ TenantScoper  = (*PostgresStore)(nil)
	_ Transactor    = (*PostgresStore)(nil)
)

// escapeLike escapes the LIKE metacharacters in a free-text term so the
// term matches literally under ESCAPE '\'.
func escapeLike(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(term)
}

// buildAuditFilter translates q into a WHERE fragment with '?'
// placeholders and its argument list. Backends rebind placeholders as
// needed.
func buildAuditFilter(q AuditQuery) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		clauses = append(clauses, clause)
		args = append(args, arg)
	}
	if q.AgentID != "" {
		add("agent_id = ?", q.AgentID)
	}
	if q.Tool != "" {
		add("tool = ?", q.Tool)
	}
	if q.TraceID != "" {
		add("trace_id = ?", q.TraceID)
	}
	if q.Result != "" {
		add("result = ?", string(q.Result))
	}
	if q.FailureCategory != "" {
		add("failure_category = ?", string(q.FailureCategory))
	}
	if q.Since != "" {
		add("timestamp >= ?", q.Since)
	}
	if q.Until != "" {
		add("timestamp < ?", q.Until)
	}
	if q.Search != "" {
		needle := "%" + escapeLike(q.Search) + "%"
		clauses = append(clauses, `(reason LIKE ? ESCAPE '\' OR parameters LIKE ? ESCAPE '\')`)
		args = append(args, needle, needle)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// clampLimit applies the default and ceiling page size.
func clampLimit(limit int) int {
	const (
		defaultLimit = 100
		maxLimit     = 1000
	)
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
