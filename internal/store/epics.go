package store

import (
	"database/sql"
	"fmt"
	"time"
)

// explicitEpicStatuses are operator transitions that override derivation.
var explicitEpicStatuses = map[EpicStatus]bool{
	EpicReviewed: true,
	EpicApproved: true,
	EpicRejected: true,
}

// CreateEpic inserts a new epic in planning state.
func (s *Store) CreateEpic(title, description string) (*Epic, error) {
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	id, err := newShortID(tx, "e", "epics", title)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(
		`INSERT INTO epics (id, title, description, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, title, description, string(EpicPlanning), now, now,
	); err != nil {
		return nil, fmt.Errorf("insert epic: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &Epic{ID: id, Title: title, Description: description,
		Status: EpicPlanning, CreatedAt: now, UpdatedAt: now}, nil
}

// FindEpic resolves an epic by id or prefix and returns it with its
// derived status applied.
func (s *Store) FindEpic(idOrPrefix string) (*Epic, error) {
	id, err := s.resolveID("epics", "e", idOrPrefix)
	if err != nil {
		return nil, err
	}
	return s.getEpic(id)
}

func (s *Store) getEpic(id string) (*Epic, error) {
	row := s.db.QueryRow(
		`SELECT id, title, description, status, created_at, updated_at FROM epics WHERE id = ?`, id,
	)
	var e Epic
	if err := row.Scan(&e.ID, &e.Title, &e.Description, &e.Status, &e.CreatedAt, &e.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan epic: %w", err)
	}
	if err := s.applyDerivedStatus(&e); err != nil {
		return nil, err
	}
	return &e, nil
}

// applyDerivedStatus computes the epic status from linked tasks unless an
// explicit transition (approve/reviewed/reject) has overridden it:
// planning with no tasks, review_pending when all tasks are closed,
// in_progress otherwise.
func (s *Store) applyDerivedStatus(e *Epic) error {
	if explicitEpicStatuses[e.Status] {
		return nil
	}

	var total, closed int
	err := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(status = 'closed'), 0) FROM tasks WHERE epic_id = ?`, e.ID,
	).Scan(&total, &closed)
	if err != nil {
		return fmt.Errorf("derive epic status: %w", err)
	}

	switch {
	case total == 0:
		e.Status = EpicPlanning
	case closed == total:
		e.Status = EpicReviewPending
	default:
		e.Status = EpicInProgress
	}
	return nil
}

// ListEpics returns all epics with derived statuses.
func (s *Store) ListEpics() ([]Epic, error) {
	rows, err := s.db.Query(
		`SELECT id, title, description, status, created_at, updated_at FROM epics ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query epics: %w", err)
	}
	defer rows.Close()

	var epics []Epic
	for rows.Next() {
		var e Epic
		if err := rows.Scan(&e.ID, &e.Title, &e.Description, &e.Status, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan epic: %w", err)
		}
		epics = append(epics, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range epics {
		if err := s.applyDerivedStatus(&epics[i]); err != nil {
			return nil, err
		}
	}
	return epics, nil
}

// EpicTasks returns all tasks linked to an epic.
func (s *Store) EpicTasks(idOrPrefix string) ([]Task, error) {
	id, err := s.resolveID("epics", "e", idOrPrefix)
	if err != nil {
		return nil, err
	}
	return s.queryTasks(`SELECT `+taskColumns+` FROM tasks WHERE epic_id = ? ORDER BY created_at ASC`, id)
}

// SetEpicStatus applies an explicit transition (approved, rejected,
// reviewed), overriding derivation.
func (s *Store) SetEpicStatus(idOrPrefix string, status EpicStatus) (*Epic, error) {
	if !explicitEpicStatuses[status] {
		return nil, fmt.Errorf("status %q is derived, not settable: %w", status, ErrIllegalTransition)
	}
	id, err := s.resolveID("epics", "e", idOrPrefix)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.Exec(
		`UPDATE epics SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	); err != nil {
		return nil, fmt.Errorf("set epic status: %w", err)
	}
	return s.getEpic(id)
}

// DeleteEpic removes an epic. Linked tasks stay and are orphaned: their
// epic_id is cleared, nothing else changes.
func (s *Store) DeleteEpic(idOrPrefix string) error {
	id, err := s.resolveID("epics", "e", idOrPrefix)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.Exec(`UPDATE tasks SET epic_id = '', updated_at = ? WHERE epic_id = ?`, now, id); err != nil {
		return fmt.Errorf("orphan epic tasks: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM epics WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete epic: %w", err)
	}
	return tx.Commit()
}
