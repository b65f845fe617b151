package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/warden-labs/warden/pkg/audit"
	"github.com/warden-labs/warden/pkg/contracts"
)

const auditColumns = `id, trace_id, timestamp, agent_id, tool, parameters,
	result, reason, duration_ms, failure_category, previous_hash, hash`

// WriteAuditEvent links rec to the current chain head and appends it. The
// head read and the insert happen inside one transaction, serialized
// behind writeMu, so two concurrent appends cannot claim the same
// predecessor.
func (s *SQLiteStore) WriteAuditEvent(ctx context.Context, rec *contracts.AuditEvent) (*contracts.AuditEvent, error) {
	if rec.Timestamp == "" {
		rec.Timestamp = FormatTime(s.now())
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.WithinTransaction(ctx, func(ctx context.Context) error {
		head, err := s.latestHash(ctx, s.q(ctx))
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
		res, err := s.q(ctx).ExecContext(ctx, `INSERT INTO audit_events
			(trace_id, timestamp, agent_id, tool, parameters, result, reason,
			 duration_ms, failure_category, previous_hash, hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.TraceID, rec.Timestamp, rec.AgentID, rec.Tool, params,
			string(rec.Result), rec.Reason, rec.DurationMS,
			string(rec.FailureCategory), rec.PreviousHash, rec.Hash)
		if err != nil {
			return fmt.Errorf("store: audit insert: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("store: audit insert id: %w", err)
		}
		rec.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// QueryAuditEvents returns one page in ascending id order plus the total
// match count.
func (s *SQLiteStore) QueryAuditEvents(ctx context.Context, q AuditQuery) (*AuditPage, error) {
	where, args := buildAuditFilter(q)

	page := &AuditPage{Events: []*contracts.AuditEvent{}}
	err := s.q(ctx).QueryRowContext(ctx,
		"SELECT COUNT(*) FROM audit_events"+where, args...).Scan(&page.Total)
	if err != nil {
		return nil, fmt.Errorf("store: audit count: %w", err)
	}

	query := "SELECT " + auditColumns + " FROM audit_events" + where +
		" ORDER BY id ASC LIMIT ? OFFSET ?"
	rows, err := s.q(ctx).QueryContext(ctx, query, append(args, clampLimit(q.Limit), q.Offset)...)
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

// LatestHash returns the chain head, or "" for an empty log.
func (s *SQLiteStore) LatestHash(ctx context.Context) (string, error) {
	return s.latestHash(ctx, s.q(ctx))
}

func (s *SQLiteStore) latestHash(ctx context.Context, q querier) (string, error) {
	var head string
	err := q.QueryRowContext(ctx,
		`SELECT hash FROM audit_events ORDER BY id DESC LIMIT 1`).Scan(&head)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: chain head: %w", err)
	}
	return head, nil
}

// VerifyChain walks the whole log in id order and reports the first break.
func (s *SQLiteStore) VerifyChain(ctx context.Context) (*contracts.ChainVerification, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		"SELECT "+auditColumns+" FROM audit_events ORDER BY id ASC")
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

// ExportAuditEvents streams matching records to w as newline-delimited
// JSON, one object per line, without paging.
func (s *SQLiteStore) ExportAuditEvents(ctx context.Context, q AuditQuery, w io.Writer) (int64, error) {
	where, args := buildAuditFilter(q)
	rows, err := s.q(ctx).QueryContext(ctx,
		"SELECT "+auditColumns+" FROM audit_events"+where+" ORDER BY id ASC", args...)
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

func unmarshalParams(raw string, dst *map[string]any) error {
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("store: parameter deserialization: %w", err)
	}
	return nil
}

func marshalParams(params map[string]any) (sql.NullString, error) {
	if params == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("store: parameter serialization: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuditRow(row rowScanner) (*contracts.AuditEvent, error) {
	var (
		rec    contracts.AuditEvent
		params sql.NullString
		result string
		fc     string
	)
	err := row.Scan(&rec.ID, &rec.TraceID, &rec.Timestamp, &rec.AgentID,
		&rec.Tool, &params, &result, &rec.Reason, &rec.DurationMS, &fc,
		&rec.PreviousHash, &rec.Hash)
	if err != nil {
		return nil, fmt.Errorf("store: audit scan: %w", err)
	}
	rec.Result = contracts.AuditResult(result)
	rec.FailureCategory = contracts.FailureCategory(fc)
	if params.Valid && params.String != "" {
		if err := json.Unmarshal([]byte(params.String), &rec.Parameters); err != nil {
			return nil, fmt.Errorf("store: audit parameters: %w", err)
		}
	}
	return &rec, nil
}

// IsAppendOnlyViolation recognizes the trigger abort raised on mutation
// attempts against the audit table.
func IsAppendOnlyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "append-only")
}
