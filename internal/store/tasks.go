package store

import (
	"fmt"
	"time"
)

// NewTask carries the caller-supplied fields for task creation.
// Zero values fall back to the documented defaults.
type NewTask struct {
	Title       string
	Description string
	Type        TaskType
	Priority    int
	Complexity  Complexity
	Size        Size
	Labels      []string
	EpicID      string
}

// CreateTask inserts a new open task and returns it with its generated id.
func (s *Store) CreateTask(nt NewTask) (*Task, error) {
	if nt.Title == "" {
		return nil, fmt.Errorf("title is required")
	}
	if nt.Priority < 0 || nt.Priority > 4 {
		return nil, fmt.Errorf("priority %d out of range 0..4", nt.Priority)
	}
	if nt.Type == "" {
		nt.Type = TypeTask
	}
	if nt.Complexity == "" {
		nt.Complexity = ComplexitySimple
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if nt.EpicID != "" {
		var n int
		if err := tx.QueryRow("SELECT COUNT(*) FROM epics WHERE id = ?", nt.EpicID).Scan(&n); err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, fmt.Errorf("epic %q: %w", nt.EpicID, ErrNotFound)
		}
	}

	id, err := newShortID(tx, "f", "tasks", nt.Title)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = tx.Exec(
		`INSERT INTO tasks (id, title, description, type, priority, complexity, size, labels, status, epic_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, nt.Title, nt.Description, string(nt.Type), nt.Priority, string(nt.Complexity),
		string(nt.Size), marshalStrings(nt.Labels), string(StatusOpen), nt.EpicID, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &Task{
		ID: id, Title: nt.Title, Description: nt.Description, Type: nt.Type,
		Priority: nt.Priority, Complexity: nt.Complexity, Size: nt.Size,
		Labels: nt.Labels, Status: StatusOpen, EpicID: nt.EpicID,
		CreatedAt: now, UpdatedAt: now,
	}, nil
}

// Find resolves a full id or a prefix (>= 3 chars after the f- tag) to a
// single task. Returns ErrAmbiguousID on multiple matches, ErrNotFound on none.
func (s *Store) Find(idOrPrefix string) (*Task, error) {
	id, err := s.resolveID("tasks", "f", idOrPrefix)
	if err != nil {
		return nil, err
	}
	return s.get(id)
}

func (s *Store) get(id string) (*Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, err
	}
	t.BlockedBy, err = s.blockersOf(id)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// TaskPatch carries optional field updates. Nil pointers leave the field
// untouched; a pointer to the zero value clears it (an empty description
// clears the description).
type TaskPatch struct {
	Title       *string
	Description *string
	Type        *TaskType
	Priority    *int
	Complexity  *Complexity
	Size        *Size
	Labels      *[]string
	EpicID      *string
}

func (p TaskPatch) empty() bool {
	return p.Title == nil && p.Description == nil && p.Type == nil &&
		p.Priority == nil && p.Complexity == nil && p.Size == nil &&
		p.Labels == nil && p.EpicID == nil
}

// Update applies a patch atomically and returns the updated task.
func (s *Store) Update(idOrPrefix string, patch TaskPatch) (*Task, error) {
	if patch.empty() {
		return nil, fmt.Errorf("update with no fields")
	}
	if patch.Priority != nil && (*patch.Priority < 0 || *patch.Priority > 4) {
		return nil, fmt.Errorf("priority %d out of range 0..4", *patch.Priority)
	}

	id, err := s.resolveID("tasks", "f", idOrPrefix)
	if err != nil {
		return nil, err
	}

	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.Type != nil {
		add("type", string(*patch.Type))
	}
	if patch.Priority != nil {
		add("priority", *patch.Priority)
	}
	if patch.Complexity != nil {
		add("complexity", string(*patch.Complexity))
	}
	if patch.Size != nil {
		add("size", string(*patch.Size))
	}
	if patch.Labels != nil {
		add("labels", marshalStrings(*patch.Labels))
	}
	if patch.EpicID != nil {
		add("epic_id", *patch.EpicID)
	}

	query := "UPDATE tasks SET "
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += " WHERE id = ?"
	args = append(args, id)

	if _, err := s.db.Exec(query, args...); err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	return s.get(id)
}

// Delete removes a task, its dependency edges in both directions, and its
// runs and reviews.
func (s *Store) Delete(idOrPrefix string) error {
	id, err := s.resolveID("tasks", "f", idOrPrefix)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM deps WHERE task_id = ? OR blocked_by = ?", id, id); err != nil {
		return fmt.Errorf("delete deps: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM runs WHERE task_id = ?", id); err != nil {
		return fmt.Errorf("delete runs: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM reviews WHERE task_id = ?", id); err != nil {
		return fmt.Errorf("delete reviews: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM tasks WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return tx.Commit()
}

// readyCondition selects open tasks with no non-closed blockers. Blockers
// that no longer exist do not block (delete cascades remove them anyway).
const readyCondition = `status = 'open' AND NOT EXISTS (
	SELECT 1 FROM deps d JOIN tasks b ON b.id = d.blocked_by
	WHERE d.task_id = tasks.id AND b.status != 'closed')`

// Ready returns open tasks whose blockers are all closed, ordered by
// priority (0 first) then age.
func (s *Store) Ready() ([]Task, error) {
	return s.queryTasks(`SELECT ` + taskColumns + ` FROM tasks WHERE ` + readyCondition +
		` ORDER BY priority ASC, created_at ASC`)
}

// Blocked returns open tasks with at least one non-closed blocker.
func (s *Store) Blocked() ([]Task, error) {
	return s.queryTasks(`SELECT ` + taskColumns + ` FROM tasks WHERE status = 'open' AND EXISTS (
		SELECT 1 FROM deps d JOIN tasks b ON b.id = d.blocked_by
		WHERE d.task_id = tasks.id AND b.status != 'closed')
		ORDER BY priority ASC, created_at ASC`)
}

// TaskFilter narrows All. Zero values mean "any". Labels use OR semantics:
// a task matches when it carries any of the supplied labels.
type TaskFilter struct {
	Status   TaskStatus
	Type     TaskType
	Priority *int
	Labels   []string
	Size     Size
}

// All returns tasks matching the filter, newest last.
func (s *Store) All(f TaskFilter) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var conds []string
	var args []any
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.Priority != nil {
		conds = append(conds, "priority = ?")
		args = append(args, *f.Priority)
	}
	if f.Size != "" {
		conds = append(conds, "size = ?")
		args = append(args, string(f.Size))
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY created_at ASC"

	tasks, err := s.queryTasks(query, args...)
	if err != nil {
		return nil, err
	}
	if len(f.Labels) == 0 {
		return tasks, nil
	}

	var out []Task
	for _, t := range tasks {
		for _, l := range f.Labels {
			if t.HasLabel(l) {
				out = append(out, t)
				break
			}
		}
	}
	return out, nil
}

// Start transitions a task open -> in_progress. Any other current status
// is an illegal transition; this is the claim point the daemon relies on.
func (s *Store) Start(idOrPrefix string) (*Task, error) {
	id, err := s.resolveID("tasks", "f", idOrPrefix)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(StatusInProgress), now, id, string(StatusOpen),
	)
	if err != nil {
		return nil, fmt.Errorf("start task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		t, err := s.get(id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("task %s is %s, not open: %w", id, t.Status, ErrIllegalTransition)
	}
	return s.get(id)
}

// Done closes a task from any status, recording an optional reason and
// commit hash.
func (s *Store) Done(idOrPrefix, reason, commitHash string) (*Task, error) {
	id, err := s.resolveID("tasks", "f", idOrPrefix)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = s.db.Exec(
		`UPDATE tasks SET status = ?, reason = ?, commit_hash = ?, updated_at = ? WHERE id = ?`,
		string(StatusClosed), reason, commitHash, now, id,
	)
	if err != nil {
		return nil, fmt.Errorf("close task: %w", err)
	}
	return s.get(id)
}

// AddLabel appends a label if not already present.
func (s *Store) AddLabel(idOrPrefix, label string) (*Task, error) {
	t, err := s.Find(idOrPrefix)
	if err != nil {
		return nil, err
	}
	if t.HasLabel(label) {
		return t, nil
	}
	labels := append(t.Labels, label)
	return s.Update(t.ID, TaskPatch{Labels: &labels})
}

// Reopen transitions a closed, in_progress, or review task back to open
// and clears reason, commit hash, and every consumed_* field.
func (s *Store) Reopen(idOrPrefix string) (*Task, error) {
	id, err := s.resolveID("tasks", "f", idOrPrefix)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE tasks SET status = ?, reason = '', commit_hash = '',
			consumed = 0, consumed_at = NULL, consumed_exit_code = NULL,
			consumed_output = '', consume_pid = NULL, updated_at = ?
		 WHERE id = ? AND status IN (?, ?, ?)`,
		string(StatusOpen), now, id,
		string(StatusClosed), string(StatusInProgress), string(StatusReview),
	)
	if err != nil {
		return nil, fmt.Errorf("reopen task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		t, err := s.get(id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("cannot reopen %s task %s: %w", t.Status, id, ErrIllegalTransition)
	}
	return s.get(id)
}

// Retry re-queues an in_progress task that an agent already consumed:
// clears the consumed_* fields and sets it back to open.
func (s *Store) Retry(idOrPrefix string) (*Task, error) {
	id, err := s.resolveID("tasks", "f", idOrPrefix)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE tasks SET status = ?, reason = '', commit_hash = '',
			consumed = 0, consumed_at = NULL, consumed_exit_code = NULL,
			consumed_output = '', consume_pid = NULL, updated_at = ?
		 WHERE id = ? AND status = ? AND consumed = 1`,
		string(StatusOpen), now, id, string(StatusInProgress),
	)
	if err != nil {
		return nil, fmt.Errorf("retry task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("task %s is not a consumed in_progress task: %w", id, ErrIllegalTransition)
	}
	return s.get(id)
}

// MarkConsumed records that an agent process ran against the task and how
// it ended. The task stays in_progress; stuck scans pick it up.
func (s *Store) MarkConsumed(id string, exitCode int, output string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`UPDATE tasks SET consumed = 1, consumed_at = ?, consumed_exit_code = ?,
			consumed_output = ?, updated_at = ? WHERE id = ?`,
		now, exitCode, output, now, id,
	)
	if err != nil {
		return fmt.Errorf("mark consumed: %w", err)
	}
	return nil
}

// SetConsumePID records the live agent pid on the task.
func (s *Store) SetConsumePID(id string, pid int) error {
	var p any
	if pid > 0 {
		p = pid
	}
	_, err := s.db.Exec(
		`UPDATE tasks SET consume_pid = ?, updated_at = ? WHERE id = ?`,
		p, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set consume pid: %w", err)
	}
	return nil
}

// SetStatus moves a task to the given status without any transition
// checks. Daemon-internal; CLI paths go through Start/Done/Reopen.
func (s *Store) SetStatus(id string, status TaskStatus) error {
	_, err := s.db.Exec(
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return nil
}

// Stuck returns in_progress tasks a previous agent consumed with a
// non-zero exit. These need operator attention (retry or reopen).
func (s *Store) Stuck() ([]Task, error) {
	return s.queryTasks(`SELECT ` + taskColumns + ` FROM tasks
		WHERE status = 'in_progress' AND consumed = 1
			AND consumed_exit_code IS NOT NULL AND consumed_exit_code != 0
		ORDER BY consumed_at ASC`)
}

// RecentClosed returns the most recently closed tasks, newest first.
func (s *Store) RecentClosed(limit int) ([]Task, error) {
	return s.queryTasks(`SELECT `+taskColumns+` FROM tasks
		WHERE status = 'closed' ORDER BY updated_at DESC LIMIT ?`, limit)
}

// Archive removes closed tasks whose updated_at is older than the cutoff.
// A zero cutoff removes all closed tasks. Returns the removed tasks.
func (s *Store) Archive(olderThan time.Duration) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE status = 'closed'`
	var args []any
	if olderThan > 0 {
		query += ` AND updated_at < ?`
		args = append(args, time.Now().UTC().Add(-olderThan))
	}
	victims, err := s.queryTasks(query, args...)
	if err != nil {
		return nil, err
	}

	for _, t := range victims {
		if err := s.Delete(t.ID); err != nil {
			return nil, err
		}
	}
	return victims, nil
}

// Counts returns the number of tasks per status.
func (s *Store) Counts() (map[TaskStatus]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	counts := map[TaskStatus]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[TaskStatus(status)] = n
	}
	return counts, rows.Err()
}
