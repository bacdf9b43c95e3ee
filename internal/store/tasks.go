// ABOUTME: tasks and task_results persistence for the proactive scheduler
// ABOUTME: Implements scheduler.Store; results are pruned to the newest N per task

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/2389/switchboard-gateway/internal/audit"
	"github.com/2389/switchboard-gateway/internal/scheduler"
)

// SaveTask upserts the task row. Results are written by AppendTaskResult.
func (s *SQLiteStore) SaveTask(ctx context.Context, t *scheduler.Task) error {
	query := `
		INSERT INTO tasks (task_id, name, description, cron, agent, prompt, enabled, last_run, next_run, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			cron = excluded.cron,
			agent = excluded.agent,
			prompt = excluded.prompt,
			enabled = excluded.enabled,
			last_run = excluded.last_run,
			next_run = excluded.next_run
	`

	_, err := s.db.ExecContext(ctx, query,
		t.ID,
		t.Name,
		t.Description,
		t.CronExpression,
		t.Agent,
		t.Prompt,
		boolToInt(t.Enabled),
		nullTime(t.LastRun),
		nullTime(t.NextRun),
		formatTime(t.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving task: %w", err)
	}

	s.logger.Debug("saved task", "id", t.ID, "name", t.Name, "enabled", t.Enabled)
	return nil
}

// AppendTaskResult inserts r and deletes all but the newest keep results.
func (s *SQLiteStore) AppendTaskResult(ctx context.Context, taskID string, r scheduler.Result, keep int) error {
	var toolsJSON *string
	if len(r.Tools) > 0 {
		data, err := json.Marshal(r.Tools)
		if err != nil {
			return fmt.Errorf("marshaling tools: %w", err)
		}
		str := string(data)
		toolsJSON = &str
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO task_results (task_id, ran_at, run_trigger, status, output, error, tools_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		taskID,
		formatTime(r.RanAt),
		r.Trigger,
		string(r.Status),
		nullString(r.Output),
		nullString(r.Error),
		toolsJSON,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return scheduler.ErrTaskNotFound
		}
		return fmt.Errorf("inserting task result: %w", err)
	}

	if keep > 0 {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM task_results
			WHERE task_id = ?
			  AND result_id NOT IN (
				SELECT result_id FROM task_results
				WHERE task_id = ?
				ORDER BY result_id DESC
				LIMIT ?
			  )
		`, taskID, taskID, keep)
		if err != nil {
			return fmt.Errorf("pruning task results: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing task result: %w", err)
	}
	return nil
}

// ListTasks returns every task in creation order with its results attached.
func (s *SQLiteStore) ListTasks(ctx context.Context) ([]*scheduler.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, name, description, cron, agent, prompt, enabled, last_run, next_run, created_at
		FROM tasks
		ORDER BY created_at ASC, task_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*scheduler.Task
	byID := make(map[string]*scheduler.Task)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
		byID[t.ID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tasks: %w", err)
	}
	_ = rows.Close()

	if err := s.attachTaskResults(ctx, byID); err != nil {
		return nil, err
	}

	if tasks == nil {
		tasks = []*scheduler.Task{}
	}
	return tasks, nil
}

func (s *SQLiteStore) attachTaskResults(ctx context.Context, byID map[string]*scheduler.Task) error {
	if len(byID) == 0 {
		return nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, ran_at, run_trigger, status, output, error, tools_json
		FROM task_results
		ORDER BY result_id ASC
	`)
	if err != nil {
		return fmt.Errorf("querying task results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var taskID, ranAt, trigger, status string
		var output, errStr, toolsJSON sql.NullString
		if err := rows.Scan(&taskID, &ranAt, &trigger, &status, &output, &errStr, &toolsJSON); err != nil {
			return fmt.Errorf("scanning task result: %w", err)
		}

		t, ok := byID[taskID]
		if !ok {
			continue
		}

		r := scheduler.Result{
			Trigger: trigger,
			Status:  audit.Status(status),
			Output:  output.String,
			Error:   errStr.String,
		}
		if r.RanAt, err = parseTime(ranAt); err != nil {
			return fmt.Errorf("parsing ran_at: %w", err)
		}
		if toolsJSON.Valid {
			if err := json.Unmarshal([]byte(toolsJSON.String), &r.Tools); err != nil {
				return fmt.Errorf("unmarshaling tools: %w", err)
			}
		}
		t.Results = append(t.Results, r)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating task results: %w", err)
	}
	return nil
}

// scanTask scans a tasks row.
func scanTask(scanner interface{ Scan(dest ...any) error }) (*scheduler.Task, error) {
	var t scheduler.Task
	var enabled int
	var lastRun, nextRun sql.NullString
	var createdAt string

	if err := scanner.Scan(
		&t.ID,
		&t.Name,
		&t.Description,
		&t.CronExpression,
		&t.Agent,
		&t.Prompt,
		&enabled,
		&lastRun,
		&nextRun,
		&createdAt,
	); err != nil {
		return nil, fmt.Errorf("scanning task: %w", err)
	}

	t.Enabled = enabled != 0
	var err error
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if t.LastRun, err = parseNullTime(lastRun); err != nil {
		return nil, fmt.Errorf("parsing last_run: %w", err)
	}
	if t.NextRun, err = parseNullTime(nextRun); err != nil {
		return nil, fmt.Errorf("parsing next_run: %w", err)
	}
	t.Results = []scheduler.Result{}
	return &t, nil
}

// DeleteTask removes a task. Results go with it through ON DELETE CASCADE.
func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = ?`, id); err != nil {
		return fmt.Errorf("deleting task: %w", err)
	}
	s.logger.Debug("deleted task", "id", id)
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := formatTime(*t)
	return &v
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
