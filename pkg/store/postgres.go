package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/warden-labs/warden/pkg/audit"
	"github.com/warden-labs/warden/pkg/contracts"
)

// PostgresStore is the multi-tenant backend. Every table carries a
// tenant_id column and every statement filters on it; the hash chain is
// maintained per tenant. ForTenant returns a view bound to one tenant,
// sharing the pool and the write lock with its parent.
type PostgresStore struct {
	db       *sql.DB
	tenantID string
	writeMu  *sync.Mutex
	logger   *slog.Logger
	clock    func() time.Time
}

// OpenPostgres connects via lib/pq and runs migrations. The returned
// store addresses the default (empty) tenant until scoped with ForTenant.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: postgres ping: %w", err)
	}
	s := NewPostgres(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgres wraps an already-open handle. Migrate must be called before
// use.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:      db,
		writeMu: &sync.Mutex{},
		logger:  slog.Default().With("component", "store"),
		clock:   time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *PostgresStore) WithClock(clock func() time.Time) *PostgresStore {
	s.clock = clock
	return s
}

func (s *PostgresStore) now() time.Time { return s.clock().UTC() }

// ForTenant returns a view of the store whose every operation is scoped
// to tenantID.
func (s *PostgresStore) ForTenant(tenantID string) Store {
	scoped := *s
	scoped.tenantID = tenantID
	return &scoped
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// WithinTransaction runs fn in one transaction; nested calls join the
// outer one.
func (s *PostgresStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// rebind converts '?' placeholders to the $1..$n form lib/pq expects.
func rebind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var postgresMigrations = []string{
	// 1: core tables, tenant-scoped
	`CREATE TABLE IF NOT EXISTS audit_events (
		id BIGSERIAL PRIMARY KEY,
		tenant_id TEXT NOT NULL DEFAULT '',
		trace_id TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		tool TEXT NOT NULL,
		parameters TEXT,
		result TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		duration_ms BIGINT NOT NULL DEFAULT 0,
		failure_category TEXT NOT NULL DEFAULT '',
		previous_hash TEXT NOT NULL DEFAULT '',
		hash TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_tenant ON audit_events(tenant_id, id);
	CREATE INDEX IF NOT EXISTS idx_audit_agent ON audit_events(tenant_id, agent_id);
	CREATE INDEX IF NOT EXISTS idx_audit_trace ON audit_events(tenant_id, trace_id);

	CREATE TABLE IF NOT EXISTS policies (
		tenant_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		agent_id TEXT NOT NULL DEFAULT '',
		rules TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, name)
	);

	CREATE TABLE IF NOT EXISTS policy_versions (
		id BIGSERIAL PRIMARY KEY,
		tenant_id TEXT NOT NULL DEFAULT '',
		policy_name TEXT NOT NULL,
		version INTEGER NOT NULL,
		agent_id TEXT NOT NULL DEFAULT '',
		rules TEXT NOT NULL,
		author TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_policy_versions_name
		ON policy_versions(tenant_id, policy_name);

	CREATE TABLE IF NOT EXISTS agents (
		tenant_id TEXT NOT NULL DEFAULT '',
		agent_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		allowed_tools TEXT NOT NULL DEFAULT '[]',
		policy_name TEXT NOT NULL DEFAULT '',
		metadata TEXT,
		status TEXT NOT NULL,
		registered_at TEXT NOT NULL,
		last_active_at TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (tenant_id, agent_id)
	);

	CREATE TABLE IF NOT EXISTS approvals (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL DEFAULT '',
		agent_id TEXT NOT NULL,
		tool TEXT NOT NULL,
		parameters TEXT,
		trace_id TEXT NOT NULL,
		policy_name TEXT NOT NULL DEFAULT '',
		rule_name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		deadline TEXT NOT NULL,
		approver TEXT NOT NULL DEFAULT '',
		comment TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		resolved_at TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_approvals_tenant_status
		ON approvals(tenant_id, status);`,

	// 2: append-only enforcement
	`CREATE OR REPLACE FUNCTION audit_events_append_only() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION 'audit_events is append-only: % is rejected', lower(TG_OP);
	END;
	$$ LANGUAGE plpgsql;

	DROP TRIGGER IF EXISTS audit_events_immutable ON audit_events;
	CREATE TRIGGER audit_events_immutable
		BEFORE UPDATE OR DELETE ON audit_events
		FOR EACH ROW EXECUTE FUNCTION audit_events_append_only();`,
}

// Migrate applies any unapplied migrations in order.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("store: migrations table: %w", err)
	}

	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	for i := current; i < len(postgresMigrations); i++ {
		version := i + 1
		if err := s.WithinTransaction(ctx, func(ctx context.Context) error {
			tx := s.q(ctx)
			if _, err := tx.ExecContext(ctx, postgresMigrations[i]); err != nil {
				return fmt.Errorf("store: migration %d: %w", version, err)
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)`,
				version, FormatTime(s.now()))
			return err
		}); err != nil {
			return err
		}
		s.logger.Info("applied migration", "version", version)
	}
	return nil
}

// SchemaVersion reports the highest applied migration.
func (s *PostgresStore) SchemaVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("store: schema version: %w", err)
	}
	return int(version.Int64), nil
}

// WriteAuditEvent appends to this tenant's chain; head read and insert
// share one transaction behind the write lock.
func (s *PostgresStore) WriteAuditEvent(ctx context.Context, rec *contracts.AuditEvent) (*contracts.AuditEvent, error) {
	if rec.Timestamp == "" {
		rec.Timestamp = FormatTime(s.now())
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.WithinTransaction(ctx, func(ctx context.Context) error {
		head, err := s.latestHash(ctx)
		if err != nil {
			return err
		}
		rec.PreviousHash = head
		hash, err := audit.ComputeHash(rec, head)
		if err != nil {
			return err
		}
		rec.Hash = hash

		params, err := marshalParams(rec.Parameters)
		if err != nil {
			return err
		}
		return s.q(ctx).QueryRowContext(ctx, rebind(`INSERT INTO audit_events
			(tenant_id, trace_id, timestamp, agent_id, tool, parameters,
			 result, reason, duration_ms, failure_category, previous_hash, hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
			s.tenantID, rec.TraceID, rec.Timestamp, rec.AgentID, rec.Tool,
			params, string(rec.Result), rec.Reason, rec.DurationMS,
			string(rec.FailureCategory), rec.PreviousHash, rec.Hash).Scan(&rec.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("store: audit insert: %w", err)
	}
	return rec, nil
}

// QueryAuditEvents pages this tenant's log in ascending id order.
func (s *PostgresStore) QueryAuditEvents(ctx context.Context, q AuditQuery) (*AuditPage, error) {
	where, args := s.tenantAuditFilter(q)

	page := &AuditPage{Events: []*contracts.AuditEvent{}}
	err := s.q(ctx).QueryRowContext(ctx,
		rebind("SELECT COUNT(*) FROM audit_events"+where), args...).Scan(&page.Total)
	if err != nil {
		return nil, fmt.Errorf("store: audit count: %w", err)
	}

	query := "SELECT " + auditColumns + " FROM audit_events" + where +
		" ORDER BY id ASC LIMIT ? OFFSET ?"
	rows, err := s.q(ctx).QueryContext(ctx, rebind(query),
		append(args, clampLimit(q.Limit), q.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("store: audit query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		rec, err := scanAuditRow(rows)
		if err != nil {
			return nil, err
		}
		page.Events = append(page.Events, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return page, nil
}

// tenantAuditFilter prepends the tenant clause to the shared filter.
func (s *PostgresStore) tenantAuditFilter(q AuditQuery) (string, []any) {
	where, args := buildAuditFilter(q)
	if where == "" {
		return " WHERE tenant_id = ?", []any{s.tenantID}
	}
	where = strings.Replace(where, " WHERE ", " WHERE tenant_id = ? AND ", 1)
	return where, append([]any{s.tenantID}, args...)
}

// LatestHash returns this tenant's chain head, "" when empty.
func (s *PostgresStore) LatestHash(ctx context.Context) (string, error) {
	return s.latestHash(ctx)
}

func (s *PostgresStore) latestHash(ctx context.Context) (string, error) {
	var head string
	err := s.q(ctx).QueryRowContext(ctx, `SELECT hash FROM audit_events
		WHERE tenant_id = $1 ORDER BY id DESC LIMIT 1`, s.tenantID).Scan(&head)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: chain head: %w", err)
	}
	return head, nil
}

// VerifyChain walks this tenant's log and reports the first break.
func (s *PostgresStore) VerifyChain(ctx context.Context) (*contracts.ChainVerification, error) {
	rows, err := s.q(ctx).QueryContext(ctx, "SELECT "+auditColumns+
		` FROM audit_events WHERE tenant_id = $1 ORDER BY id ASC`, s.tenantID)
	if err != nil {
		return nil, fmt.Errorf("store: chain walk: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*contracts.AuditEvent
	for rows.Next() {
		rec, err := scanAuditRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return audit.VerifyChain(records), nil
}

// ExportAuditEvents streams this tenant's matching records as NDJSON.
func (s *PostgresStore) ExportAuditEvents(ctx context.Context, q AuditQuery, w io.Writer) (int64, error) {
	where, args := s.tenantAuditFilter(q)
	rows, err := s.q(ctx).QueryContext(ctx,
		rebind("SELECT "+auditColumns+" FROM audit_events"+where+" ORDER BY id ASC"), args...)
	if err != nil {
		return 0, fmt.Errorf("store: audit export: %w", err)
	}
	defer func() { _ = rows.Close() }()

	enc := json.NewEncoder(w)
	var written int64
	for rows.Next() {
		rec, err := scanAuditRow(rows)
		if err != nil {
			return written, err
		}
		if err := enc.Encode(rec); err != nil {
			return written, fmt.Errorf("store: audit export encode: %w", err)
		}
		written++
	}
	return written, rows.Err()
}

// UpsertPolicy mirrors the SQLite behavior per tenant.
func (s *PostgresStore) UpsertPolicy(ctx context.Context, p *contracts.Policy, author string) (*contracts.Policy, error) {
	rules, err := json.Marshal(p.Rules)
	if err != nil {
		return nil, fmt.Errorf("store: policy rules serialization: %w", err)
	}
	now := FormatTime(s.now())

	stored := *p
	err = s.WithinTransaction(ctx, func(ctx context.Context) error {
		prior, err := s.GetPolicy(ctx, p.Name)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		if prior != nil {
			priorRules, err := json.Marshal(prior.Rules)
			if err != nil {
				return fmt.Errorf("store: snapshot rules serialization: %w", err)
			}
			_, err = s.q(ctx).ExecContext(ctx, rebind(`INSERT INTO policy_versions
				(tenant_id, policy_name, version, agent_id, rules, author, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`),
				s.tenantID, prior.Name, prior.Version, prior.AgentID,
				string(priorRules), author, now)
			if err != nil {
				return fmt.Errorf("store: policy snapshot: %w", err)
			}
			stored.Version = prior.Version + 1
			stored.CreatedAt = prior.CreatedAt
		} else {
			stored.Version = 1
			stored.CreatedAt = now
		}
		stored.UpdatedAt = now

		_, err = s.q(ctx).ExecContext(ctx, rebind(`INSERT INTO policies
			(tenant_id, name, version, agent_id, rules, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (tenant_id, name) DO UPDATE SET
				version = excluded.version,
				agent_id = excluded.agent_id,
				rules = excluded.rules,
				updated_at = excluded.updated_at`),
			s.tenantID, stored.Name, stored.Version, stored.AgentID,
			string(rules), stored.CreatedAt, stored.UpdatedAt)
		if err != nil {
			return fmt.Errorf("store: policy upsert: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func (s *PostgresStore) GetPolicy(ctx context.Context, name string) (*contracts.Policy, error) {
	p, err := scanPolicyRow(s.q(ctx).QueryRowContext(ctx, `SELECT name,
		version, agent_id, rules, created_at, updated_at FROM policies
		WHERE tenant_id = $1 AND name = $2`, s.tenantID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *PostgresStore) ListPolicies(ctx context.Context) ([]*contracts.Policy, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT name, version, agent_id,
		rules, created_at, updated_at FROM policies WHERE tenant_id = $1
		ORDER BY updated_at DESC, name ASC`, s.tenantID)
	if err != nil {
		return nil, fmt.Errorf("store: policy list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var policies []*contracts.Policy
	for rows.Next() {
		p, err := scanPolicyRow(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

func (s *PostgresStore) DeletePolicy(ctx context.Context, name string) error {
	res, err := s.q(ctx).ExecContext(ctx,
		`DELETE FROM policies WHERE tenant_id = $1 AND name = $2`, s.tenantID, name)
	if err != nil {
		return fmt.Errorf("store: policy delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ResolveActivePolicy(ctx context.Context, agentID string) (*contracts.Policy, error) {
	if agentID != "" {
		p, err := s.firstPolicy(ctx, `SELECT name, version, agent_id, rules,
			created_at, updated_at FROM policies
			WHERE tenant_id = $1 AND agent_id = $2
			ORDER BY updated_at DESC, name ASC LIMIT 1`, s.tenantID, agentID)
		if err != nil || p != nil {
			return p, err
		}

		agent, err := s.GetAgent(ctx, agentID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if agent != nil && agent.PolicyName != "" {
			p, err := s.GetPolicy(ctx, agent.PolicyName)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return nil, err
			}
			if p != nil {
				return p, nil
			}
		}
	}

	return s.firstPolicy(ctx, `SELECT name, version, agent_id, rules,
		created_at, updated_at FROM policies
		WHERE tenant_id = $1 AND agent_id = ''
		ORDER BY updated_at DESC, name ASC LIMIT 1`, s.tenantID)
}

func (s *PostgresStore) firstPolicy(ctx context.Context, query string, args ...any) (*contracts.Policy, error) {
	p, err := scanPolicyRow(s.q(ctx).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (s *PostgresStore) PolicyHistory(ctx context.Context, name string) ([]*contracts.PolicyVersion, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT id, policy_name, version,
		agent_id, rules, author, created_at FROM policy_versions
		WHERE tenant_id = $1 AND policy_name = $2
		ORDER BY version DESC`, s.tenantID, name)
	if err != nil {
		return nil, fmt.Errorf("store: policy history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var versions []*contracts.PolicyVersion
	for rows.Next() {
		v, err := scanPolicyVersionRow(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (s *PostgresStore) PolicyVersionByID(ctx context.Context, id int64) (*contracts.PolicyVersion, error) {
	v, err := scanPolicyVersionRow(s.q(ctx).QueryRowContext(ctx, `SELECT id,
		policy_name, version, agent_id, rules, author, created_at
		FROM policy_versions WHERE tenant_id = $1 AND id = $2`, s.tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return v, err
}

func (s *PostgresStore) RegisterAgent(ctx context.Context, cfg *contracts.AgentConfig) (*contracts.AgentConfig, error) {
	tools, err := json.Marshal(emptyIfNil(cfg.AllowedTools))
	if err != nil {
		return nil, fmt.Errorf("store: agent tools serialization: %w", err)
	}
	meta, err := marshalParams(cfg.Metadata)
	if err != nil {
		return nil, err
	}

	stored := *cfg
	if stored.Status == "" {
		stored.Status = contracts.AgentRegistered
	}
	if stored.RegisteredAt == "" {
		stored.RegisteredAt = FormatTime(s.now())
	}

	_, err = s.q(ctx).ExecContext(ctx, rebind(`INSERT INTO agents
		(tenant_id, agent_id, name, description, allowed_tools, policy_name,
		 metadata, status, registered_at, last_active_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, agent_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			allowed_tools = excluded.allowed_tools,
			policy_name = excluded.policy_name,
			metadata = excluded.metadata,
			status = excluded.status,
			last_active_at = excluded.last_active_at`),
		s.tenantID, stored.AgentID, stored.Name, stored.Description,
		string(tools), stored.PolicyName, meta, string(stored.Status),
		stored.RegisteredAt, stored.LastActiveAt)
	if err != nil {
		return nil, fmt.Errorf("store: agent register: %w", err)
	}
	return s.GetAgent(ctx, stored.AgentID)
}

func (s *PostgresStore) GetAgent(ctx context.Context, agentID string) (*contracts.AgentConfig, error) {
	cfg, err := scanAgentRow(s.q(ctx).QueryRowContext(ctx, `SELECT agent_id,
		name, description, allowed_tools, policy_name, metadata, status,
		registered_at, last_active_at FROM agents
		WHERE tenant_id = $1 AND agent_id = $2`, s.tenantID, agentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return cfg, err
}

func (s *PostgresStore) ListAgents(ctx context.Context) ([]*contracts.AgentConfig, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT agent_id, name,
		description, allowed_tools, policy_name, metadata, status,
		registered_at, last_active_at FROM agents WHERE tenant_id = $1
		ORDER BY registered_at ASC, agent_id ASC`, s.tenantID)
	if err != nil {
		return nil, fmt.Errorf("store: agent list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var agents []*contracts.AgentConfig
	for rows.Next() {
		cfg, err := scanAgentRow(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, cfg)
	}
	return agents, rows.Err()
}

func (s *PostgresStore) UpdateAgentStatus(ctx context.Context, agentID string, status contracts.AgentStatus) (*contracts.AgentConfig, error) {
	res, err := s.q(ctx).ExecContext(ctx, `UPDATE agents
		SET status = $1, last_active_at = $2
		WHERE tenant_id = $3 AND agent_id = $4`,
		string(status), FormatTime(s.now()), s.tenantID, agentID)
	if err != nil {
		return nil, fmt.Errorf("store: agent status update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, contracts.NewGovernanceError(contracts.CodeAgentNotFound,
			contracts.CategoryConfigError,
			fmt.Sprintf("agent %q is not registered", agentID)).
			WithContext("agentId", agentID)
	}
	return s.GetAgent(ctx, agentID)
}

func (s *PostgresStore) DeleteAgent(ctx context.Context, agentID string) error {
	res, err := s.q(ctx).ExecContext(ctx,
		`DELETE FROM agents WHERE tenant_id = $1 AND agent_id = $2`, s.tenantID, agentID)
	if err != nil {
		return fmt.Errorf("store: agent delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateApproval(ctx context.Context, req *contracts.ApprovalRequest) (*contracts.ApprovalRequest, error) {
	stored := *req
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.Status == "" {
		stored.Status = contracts.ApprovalPending
	}
	if stored.CreatedAt == "" {
		stored.CreatedAt = FormatTime(s.now())
	}
	if stored.TenantID == "" {
		stored.TenantID = s.tenantID
	}
	params, err := marshalParams(stored.Parameters)
	if err != nil {
		return nil, err
	}

	_, err = s.q(ctx).ExecContext(ctx, rebind(`INSERT INTO approvals
		(id, tenant_id, agent_id, tool, parameters, trace_id, policy_name,
		 rule_name, status, deadline, approver, comment, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		stored.ID, stored.TenantID, stored.AgentID, stored.Tool, params,
		stored.TraceID, stored.PolicyName, stored.RuleName,
		string(stored.Status), stored.Deadline, stored.Approver,
		stored.Comment, stored.CreatedAt, stored.ResolvedAt)
	if err != nil {
		return nil, fmt.Errorf("store: approval create: %w", err)
	}
	return &stored, nil
}

func (s *PostgresStore) GetApproval(ctx context.Context, id string) (*contracts.ApprovalRequest, error) {
	req, err := scanApprovalRow(s.q(ctx).QueryRowContext(ctx, `SELECT id,
		tenant_id, agent_id, tool, parameters, trace_id, policy_name,
		rule_name, status, deadline, approver, comment, created_at,
		resolved_at FROM approvals WHERE tenant_id = $1 AND id = $2`,
		s.tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return req, err
}

func (s *PostgresStore) ListApprovals(ctx context.Context, q ApprovalQuery) ([]*contracts.ApprovalRequest, error) {
	query := `SELECT id, tenant_id, agent_id, tool, parameters, trace_id,
		policy_name, rule_name, status, deadline, approver, comment,
		created_at, resolved_at FROM approvals WHERE tenant_id = ?`
	args := []any{s.tenantID}
	if q.Status != "" {
		query += " AND status = ?"
		args = append(args, string(q.Status))
	}
	if q.AgentID != "" {
		query += " AND agent_id = ?"
		args = append(args, q.AgentID)
	}
	args = append(args, clampLimit(q.Limit), q.Offset)

	rows, err := s.q(ctx).QueryContext(ctx,
		rebind(query+" ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?"), args...)
	if err != nil {
		return nil, fmt.Errorf("store: approval list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var approvals []*contracts.ApprovalRequest
	for rows.Next() {
		req, err := scanApprovalRow(rows)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, req)
	}
	return approvals, rows.Err()
}

func (s *PostgresStore) ResolveApproval(ctx context.Context, id string, res contracts.ApprovalResolution) (*contracts.ApprovalRequest, bool, error) {
	if !res.Status.Terminal() {
		return nil, false, fmt.Errorf("store: %q is not a terminal approval status", res.Status)
	}
	now := FormatTime(s.now())

	query := `UPDATE approvals
		SET status = ?, approver = ?, comment = ?, resolved_at = ?
		WHERE tenant_id = ? AND id = ? AND status = 'pending'`
	args := []any{string(res.Status), res.Approver, res.Comment, now, s.tenantID, id}
	if res.Status != contracts.ApprovalTimeout {
		query += ` AND deadline > ?`
		args = append(args, now)
	}
	result, err := s.q(ctx).ExecContext(ctx, rebind(query), args...)
	if err != nil {
		return nil, false, fmt.Errorf("store: approval resolve: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	req, err := s.GetApproval(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return req, n > 0, nil
}
