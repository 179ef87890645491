package store

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateRun registers a new run of an agent against a task.
func (s *Store) CreateRun(taskID, agent, model string) (*Run, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	id, err := newShortID(tx, "run", "runs", taskID+":"+agent)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(
		`INSERT INTO runs (id, task_id, agent, model, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, taskID, agent, model, now,
	); err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &Run{ID: id, TaskID: taskID, Agent: agent, Model: model, StartedAt: now}, nil
}

// EndRun records the exit code and a bounded output tail on a run.
func (s *Store) EndRun(runID string, exitCode int, output string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`UPDATE runs SET ended_at = ?, exit_code = ?, output = ? WHERE id = ?`,
		now, exitCode, output, runID,
	)
	if err != nil {
		return fmt.Errorf("end run: %w", err)
	}
	return nil
}

// SetRunSession records the agent's session id for later resume.
func (s *Store) SetRunSession(runID, sessionID string) error {
	_, err := s.db.Exec(`UPDATE runs SET session_id = ? WHERE id = ?`, sessionID, runID)
	if err != nil {
		return fmt.Errorf("set run session: %w", err)
	}
	return nil
}

// SetRunCost records the reported cost of a run in USD.
func (s *Store) SetRunCost(runID string, costUSD float64) error {
	_, err := s.db.Exec(`UPDATE runs SET cost_usd = ? WHERE id = ?`, costUSD, runID)
	if err != nil {
		return fmt.Errorf("set run cost: %w", err)
	}
	return nil
}

const runColumns = `id, task_id, agent, model, session_id, started_at, ended_at, exit_code, output, cost_usd`

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var endedAt sql.NullTime
	var exitCode sql.NullInt64
	var cost sql.NullFloat64
	err := row.Scan(&r.ID, &r.TaskID, &r.Agent, &r.Model, &r.SessionID,
		&r.StartedAt, &endedAt, &exitCode, &r.Output, &cost)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if endedAt.Valid {
		r.EndedAt = &endedAt.Time
	}
	if exitCode.Valid {
		ec := int(exitCode.Int64)
		r.ExitCode = &ec
	}
	if cost.Valid {
		c := cost.Float64
		r.CostUSD = &c
	}
	return &r, nil
}

// RunsForTask returns all runs against a task, oldest first.
func (s *Store) RunsForTask(taskID string) ([]Run, error) {
	rows, err := s.db.Query(
		`SELECT `+runColumns+` FROM runs WHERE task_id = ? ORDER BY started_at ASC`, taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// LatestRun returns the most recent run against a task, or ErrNotFound.
func (s *Store) LatestRun(taskID string) (*Run, error) {
	row := s.db.QueryRow(
		`SELECT `+runColumns+` FROM runs WHERE task_id = ? ORDER BY started_at DESC LIMIT 1`, taskID,
	)
	return scanRun(row)
}
