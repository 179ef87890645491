package store

import (
	"database/sql"
	"fmt"
)

// AddDependency records that `from` is blocked by `to`. Fails with
// ErrCyclicDependency when `to` is already (transitively) blocked by
// `from`, or when from == to. Both arguments accept id prefixes.
func (s *Store) AddDependency(from, to string) error {
	fromID, err := s.resolveID("tasks", "f", from)
	if err != nil {
		return err
	}
	toID, err := s.resolveID("tasks", "f", to)
	if err != nil {
		return err
	}
	if fromID == toID {
		return fmt.Errorf("%s cannot block itself: %w", fromID, ErrCyclicDependency)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Walk the blocked_by graph from toID; reaching fromID means the new
	// edge would close a cycle.
	cyclic, err := reaches(tx, toID, fromID)
	if err != nil {
		return err
	}
	if cyclic {
		return fmt.Errorf("%s already blocks %s: %w", fromID, toID, ErrCyclicDependency)
	}

	if _, err := tx.Exec(
		`INSERT OR IGNORE INTO deps (task_id, blocked_by) VALUES (?, ?)`,
		fromID, toID,
	); err != nil {
		return fmt.Errorf("insert dependency: %w", err)
	}
	return tx.Commit()
}

// RemoveDependency deletes the edge from -> to. Returns
// ErrNoSuchDependency when the edge is absent so CLI callers can report
// it; daemon callers treat that as success.
func (s *Store) RemoveDependency(from, to string) error {
	fromID, err := s.resolveID("tasks", "f", from)
	if err != nil {
		return err
	}
	toID, err := s.resolveID("tasks", "f", to)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(`DELETE FROM deps WHERE task_id = ? AND blocked_by = ?`, fromID, toID)
	if err != nil {
		return fmt.Errorf("remove dependency: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s is not blocked by %s: %w", fromID, toID, ErrNoSuchDependency)
	}
	return nil
}

// reaches reports whether target is reachable from start by following
// blocked_by edges. Iterative BFS inside the caller's transaction; the
// graph stays acyclic by construction, the visited set guards against
// racing writers anyway.
func reaches(tx *sql.Tx, start, target string) (bool, error) {
	visited := map[string]bool{start: true}
	frontier := []string{start}

	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]
		if current == target {
			return true, nil
		}

		rows, err := tx.Query(`SELECT blocked_by FROM deps WHERE task_id = ?`, current)
		if err != nil {
			return false, fmt.Errorf("walk deps: %w", err)
		}
		var next []string
		for rows.Next() {
			var b string
			if err := rows.Scan(&b); err != nil {
				rows.Close()
				return false, err
			}
			next = append(next, b)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return false, err
		}

		for _, b := range next {
			if !visited[b] {
				visited[b] = true
				frontier = append(frontier, b)
			}
		}
	}
	return false, nil
}
