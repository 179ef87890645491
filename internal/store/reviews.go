package store

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateReview registers a pending review of a task.
func (s *Store) CreateReview(taskID, agent string) (*Review, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	id, err := newShortID(tx, "r", "reviews", taskID+":"+agent)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(
		`INSERT INTO reviews (id, task_id, agent, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, taskID, agent, string(ReviewPending), now,
	); err != nil {
		return nil, fmt.Errorf("insert review: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &Review{ID: id, TaskID: taskID, Agent: agent, Status: ReviewPending, StartedAt: now}, nil
}

// CompleteReview records the verdict of a finished review.
func (s *Store) CompleteReview(reviewID string, passed bool, issues, followupIDs []string) error {
	status := ReviewPassed
	if !passed {
		status = ReviewFailed
	}
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`UPDATE reviews SET status = ?, issues = ?, followup_ids = ?, completed_at = ? WHERE id = ?`,
		string(status), marshalStrings(issues), marshalStrings(followupIDs), now, reviewID,
	)
	if err != nil {
		return fmt.Errorf("complete review: %w", err)
	}
	return nil
}

const reviewColumns = `id, task_id, agent, status, issues, followup_ids, started_at, completed_at`

func scanReview(row rowScanner) (*Review, error) {
	var r Review
	var issues, followups string
	var completedAt sql.NullTime
	err := row.Scan(&r.ID, &r.TaskID, &r.Agent, &r.Status, &issues, &followups, &r.StartedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan review: %w", err)
	}
	r.Issues = unmarshalStrings(issues)
	r.FollowupIDs = unmarshalStrings(followups)
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	return &r, nil
}

// ReviewsForTask returns all reviews of a task, oldest first.
func (s *Store) ReviewsForTask(taskID string) ([]Review, error) {
	rows, err := s.db.Query(
		`SELECT `+reviewColumns+` FROM reviews WHERE task_id = ? ORDER BY started_at ASC`, taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("query reviews: %w", err)
	}
	defer rows.Close()

	var reviews []Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, *r)
	}
	return reviews, rows.Err()
}

// LatestReview returns the most recent review of a task, or ErrNotFound.
func (s *Store) LatestReview(taskID string) (*Review, error) {
	row := s.db.QueryRow(
		`SELECT `+reviewColumns+` FROM reviews WHERE task_id = ? ORDER BY started_at DESC LIMIT 1`, taskID,
	)
	return scanReview(row)
}
