// ABOUTME: audit_log persistence: append, filtered newest-first listing and aggregate stats
// ABOUTME: Implements audit.Store; seq gives append order independent of clock resolution

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/2389/switchboard-gateway/internal/audit"
)

// AppendAudit inserts e and sets e.Seq.
func (s *SQLiteStore) AppendAudit(ctx context.Context, e *audit.Entry) error {
	query := `
		INSERT INTO audit_log (audit_id, ts, agent, action, tool, status, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	res, err := s.db.ExecContext(ctx, query,
		e.ID,
		formatTime(e.Timestamp),
		e.Agent,
		e.Action,
		nullString(e.Tool),
		string(e.Status),
		nullString(e.Detail),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("inserting audit entry %s: duplicate or invalid: %w", e.ID, err)
		}
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading audit seq: %w", err)
	}
	e.Seq = seq

	s.logger.Debug("appended audit log",
		"id", e.ID,
		"seq", seq,
		"agent", e.Agent,
		"action", e.Action,
		"status", e.Status,
	)
	return nil
}

const auditLogQuery = `
	SELECT seq, audit_id, ts, agent, action, tool, status, detail
	FROM audit_log
	WHERE (? IS NULL OR agent = ?)
	  AND (? IS NULL OR status = ?)
	  AND (? IS NULL OR tool = ?)
	  AND (? IS NULL OR ts >= ?)
	ORDER BY seq DESC
	LIMIT ?
`

// ListAudit returns entries matching f, newest first. limit <= 0 returns all.
func (s *SQLiteStore) ListAudit(ctx context.Context, f audit.Filter, limit int) ([]audit.Entry, error) {
	if limit <= 0 {
		limit = -1 // SQLite treats a negative LIMIT as unbounded
	}

	var since *string
	if f.Since != nil {
		v := formatTime(*f.Since)
		since = &v
	}
	agent := nullString(f.Agent)
	status := nullString(string(f.Status))
	tool := nullString(f.Tool)

	rows, err := s.db.QueryContext(ctx, auditLogQuery,
		agent, agent,
		status, status,
		tool, tool,
		since, since,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []audit.Entry{}
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}
	return entries, nil
}

// scanAuditEntry scans a row into an audit.Entry.
func scanAuditEntry(scanner interface{ Scan(dest ...any) error }) (audit.Entry, error) {
	var e audit.Entry
	var tsStr, status string
	var tool, detail sql.NullString

	if err := scanner.Scan(
		&e.Seq,
		&e.ID,
		&tsStr,
		&e.Agent,
		&e.Action,
		&tool,
		&status,
		&detail,
	); err != nil {
		return e, fmt.Errorf("scanning audit entry: %w", err)
	}

	ts, err := parseTime(tsStr)
	if err != nil {
		return e, fmt.Errorf("parsing timestamp: %w", err)
	}
	e.Timestamp = ts
	e.Status = audit.Status(status)
	e.Tool = tool.String
	e.Detail = detail.String
	return e, nil
}

// AuditStats aggregates the whole audit_log.
func (s *SQLiteStore) AuditStats(ctx context.Context) (audit.Stats, error) {
	stats := audit.Stats{ByAgent: make(map[string]int)}

	rows, err := s.db.QueryContext(ctx, `
		SELECT agent, status, COUNT(*)
		FROM audit_log
		GROUP BY agent, status
	`)
	if err != nil {
		return stats, fmt.Errorf("querying audit stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var agent, status string
		var n int
		if err := rows.Scan(&agent, &status, &n); err != nil {
			return stats, fmt.Errorf("scanning audit stats: %w", err)
		}
		stats.Total += n
		stats.ByAgent[agent] += n
		switch audit.Status(status) {
		case audit.StatusExecuted:
			stats.Executed += n
		case audit.StatusDenied:
			stats.Denied += n
		case audit.StatusFailed:
			stats.Failed += n
		case audit.StatusPending:
			stats.Pending += n
		}
	}

	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("iterating audit stats: %w", err)
	}
	return stats, nil
}

// nullString maps "" to NULL.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
