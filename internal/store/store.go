// Package store is the persistent task store backing fuel. Tasks, epics,
// runs, and reviews live in a single SQLite database under .fuel/. All
// mutations run in transactions; cycle detection and status-transition
// checks happen inside the transaction that applies them.
package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// Store provides access to the fuel database.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at the given path.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent access. CLI processes read
	// the store while the daemon writes it.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id                  TEXT PRIMARY KEY,
		title               TEXT NOT NULL,
		description         TEXT DEFAULT '',
		type                TEXT NOT NULL DEFAULT 'task',
		priority            INTEGER NOT NULL DEFAULT 2,
		complexity          TEXT NOT NULL DEFAULT 'simple',
		size                TEXT DEFAULT '',
		labels              TEXT DEFAULT '[]',
		status              TEXT NOT NULL DEFAULT 'open',
		epic_id             TEXT DEFAULT '',
		reason              TEXT DEFAULT '',
		commit_hash         TEXT DEFAULT '',
		consumed            INTEGER NOT NULL DEFAULT 0,
		consumed_at         DATETIME,
		consumed_exit_code  INTEGER,
		consumed_output     TEXT DEFAULT '',
		consume_pid         INTEGER,
		created_at          DATETIME NOT NULL,
		updated_at          DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS deps (
		task_id     TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		blocked_by  TEXT NOT NULL,
		PRIMARY KEY (task_id, blocked_by)
	);

	CREATE TABLE IF NOT EXISTS epics (
		id          TEXT PRIMARY KEY,
		title       TEXT NOT NULL,
		description TEXT DEFAULT '',
		status      TEXT NOT NULL DEFAULT 'planning',
		created_at  DATETIME NOT NULL,
		updated_at  DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		task_id     TEXT NOT NULL,
		agent       TEXT NOT NULL,
		model       TEXT DEFAULT '',
		session_id  TEXT DEFAULT '',
		started_at  DATETIME NOT NULL,
		ended_at    DATETIME,
		exit_code   INTEGER,
		output      TEXT DEFAULT '',
		cost_usd    REAL
	);

	CREATE TABLE IF NOT EXISTS reviews (
		id            TEXT PRIMARY KEY,
		task_id       TEXT NOT NULL,
		agent         TEXT NOT NULL,
		status        TEXT NOT NULL DEFAULT 'pending',
		issues        TEXT DEFAULT '[]',
		followup_ids  TEXT DEFAULT '[]',
		started_at    DATETIME NOT NULL,
		completed_at  DATETIME
	);

	CREATE TABLE IF NOT EXISTS id_seq (
		name    TEXT PRIMARY KEY,
		counter INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_deps_blocked_by ON deps(blocked_by);
	CREATE INDEX IF NOT EXISTS idx_runs_task ON runs(task_id);
	CREATE INDEX IF NOT EXISTS idx_reviews_task ON reviews(task_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// newShortID generates an id like f-3fa2c1: the table prefix plus six hex
// chars of sha256(title, monotonic counter). Retries on collision with a
// bumped counter. Must be called inside tx.
func newShortID(tx *sql.Tx, prefix, table, title string) (string, error) {
	for attempt := 0; attempt < 64; attempt++ {
		var counter int64
		err := tx.QueryRow(
			`INSERT INTO id_seq (name, counter) VALUES (?, 1)
			 ON CONFLICT(name) DO UPDATE SET counter = counter + 1
			 RETURNING counter`, table,
		).Scan(&counter)
		if err != nil {
			return "", fmt.Errorf("bump id counter: %w", err)
		}

		sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", title, counter)))
		id := prefix + "-" + hex.EncodeToString(sum[:3])

		var exists int
		err = tx.QueryRow("SELECT COUNT(*) FROM "+table+" WHERE id = ?", id).Scan(&exists)
		if err != nil {
			return "", fmt.Errorf("check id collision: %w", err)
		}
		if exists == 0 {
			return id, nil
		}
	}
	return "", fmt.Errorf("id space exhausted for %s", table)
}

// resolveID expands a full id or a prefix into exactly one row id in the
// given table. The prefix needs at least 3 hex chars after the type tag;
// shorter prefixes are rejected as ambiguous even when unique, to guard
// against fat-fingered ids.
func (s *Store) resolveID(table, tag, idOrPrefix string) (string, error) {
	p := strings.TrimSpace(idOrPrefix)
	p = strings.TrimPrefix(p, tag+"-")
	if len(p) < 3 {
		return "", fmt.Errorf("prefix %q too short (need at least 3 chars): %w", idOrPrefix, ErrAmbiguousID)
	}

	rows, err := s.db.Query(
		"SELECT id FROM "+table+" WHERE id LIKE ? LIMIT 2", tag+"-"+p+"%",
	)
	if err != nil {
		return "", fmt.Errorf("resolve id: %w", err)
	}
	defer rows.Close()

	var matches []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", fmt.Errorf("scan id: %w", err)
		}
		matches = append(matches, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%q: %w", idOrPrefix, ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%q matches multiple ids: %w", idOrPrefix, ErrAmbiguousID)
	}
}

// marshalStrings encodes a string slice as the JSON stored in TEXT columns.
func marshalStrings(ss []string) string {
	if len(ss) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(ss)
	return string(b)
}

func unmarshalStrings(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

// taskColumns is the standard column list for task queries.
const taskColumns = `id, title, description, type, priority, complexity, size, labels, status,
	epic_id, reason, commit_hash, consumed, consumed_at, consumed_exit_code,
	consumed_output, consume_pid, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask scans a task from a *sql.Row or *sql.Rows.
func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var labels string
	var consumedAt sql.NullTime
	var exitCode, pid sql.NullInt64
	err := row.Scan(
		&t.ID, &t.Title, &t.Description, &t.Type, &t.Priority, &t.Complexity,
		&t.Size, &labels, &t.Status, &t.EpicID, &t.Reason, &t.CommitHash,
		&t.Consumed, &consumedAt, &exitCode, &t.ConsumedOutput, &pid,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.Labels = unmarshalStrings(labels)
	if consumedAt.Valid {
		t.ConsumedAt = &consumedAt.Time
	}
	if exitCode.Valid {
		ec := int(exitCode.Int64)
		t.ConsumedExitCode = &ec
	}
	if pid.Valid {
		p := int(pid.Int64)
		t.ConsumePID = &p
	}
	return &t, nil
}

// queryTasks runs a task-list query and attaches blocked_by sets.
func (s *Store) queryTasks(query string, args ...any) ([]Task, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range tasks {
		blockers, err := s.blockersOf(tasks[i].ID)
		if err != nil {
			return nil, err
		}
		tasks[i].BlockedBy = blockers
	}
	return tasks, nil
}

func (s *Store) blockersOf(taskID string) ([]string, error) {
	rows, err := s.db.Query("SELECT blocked_by FROM deps WHERE task_id = ? ORDER BY blocked_by", taskID)
	if err != nil {
		return nil, fmt.Errorf("query deps: %w", err)
	}
	defer rows.Close()

	var blockers []string
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("scan dep: %w", err)
		}
		blockers = append(blockers, b)
	}
	return blockers, rows.Err()
}
