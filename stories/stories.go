// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package stories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/danielhkuo/censeo/db"
	"github.com/danielhkuo/censeo/models"
)

const columns = `id, session_id, title, description, story_order, status, final_points,
	voting_started_at, revealed_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (models.Story, error) {
	var s models.Story
	var finalPoints sql.NullString
	var votingStartedAt, revealedAt sql.NullInt64
	var createdAt, updatedAt int64
	err := row.Scan(
		&s.ID, &s.SessionID, &s.Title, &s.Description, &s.Order, &s.Status, &finalPoints,
		&votingStartedAt, &revealedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return models.Story{}, err
	}
	if finalPoints.Valid {
		p := models.Points(finalPoints.String)
		s.FinalPoints = &p
	}
	s.VotingStartedAt = db.TimePtr(votingStartedAt)
	s.RevealedAt = db.TimePtr(revealedAt)
	s.CreatedAt = db.FromMillis(createdAt)
	s.UpdatedAt = db.FromMillis(updatedAt)
	return s, nil
}

func one(ctx context.Context, q db.Querier, query string, args ...any) (*models.Story, error) {
	s, err := scan(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query story: %w", err)
	}
	return &s, nil
}

// Append adds a pending story at the end of the session's queue.
func Append(ctx context.Context, q db.Querier, sessionID, title, description string, now time.Time) (models.Story, error) {
	var maxOrder int
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(story_order), 0) FROM stories WHERE session_id = ?`, sessionID).Scan(&maxOrder)
	if err != nil {
		return models.Story{}, fmt.Errorf("query story order: %w", err)
	}

	s := models.Story{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Title:       title,
		Description: description,
		Order:       maxOrder + 1,
		Status:      models.StoryPending,
		CreatedAt:   db.FromMillis(db.Millis(now)),
		UpdatedAt:   db.FromMillis(db.Millis(now)),
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO stories (id, session_id, title, description, story_order, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.SessionID, s.Title, s.Description, s.Order, s.Status, db.Millis(now), db.Millis(now))
	if err != nil {
		return models.Story{}, fmt.Errorf("insert story: %w", err)
	}
	return s, nil
}

// Get returns a story by ID.
func Get(ctx context.Context, q db.Querier, id string) (models.Story, error) {
	s, err := one(ctx, q, `SELECT `+columns+` FROM stories WHERE id = ?`, id)
	if err != nil {
		return models.Story{}, err
	}
	if s == nil {
		return models.Story{}, models.Newf(models.ErrNotFound, "story not found")
	}
	return *s, nil
}

// List returns the session's queue in order.
func List(ctx context.Context, q db.Querier, sessionID string) ([]models.Story, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+columns+` FROM stories WHERE session_id = ? ORDER BY story_order`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query stories: %w", err)
	}
	defer rows.Close()

	list := []models.Story{}
	for rows.Next() {
		s, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan story: %w", err)
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

func Count(ctx context.Context, q db.Querier, sessionID string) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM stories WHERE session_id = ?`, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count stories: %w", err)
	}
	return n, nil
}

// NextPending returns the lowest-ordered pending story, or nil.
func NextPending(ctx context.Context, q db.Querier, sessionID string) (*models.Story, error) {
	return one(ctx, q, `
		SELECT `+columns+` FROM stories
		WHERE session_id = ? AND status = ?
		ORDER BY story_order LIMIT 1
	`, sessionID, models.StoryPending)
}

// Voting returns the story currently accepting votes, or nil.
func Voting(ctx context.Context, q db.Querier, sessionID string) (*models.Story, error) {
	return one(ctx, q, `
		SELECT `+columns+` FROM stories WHERE session_id = ? AND status = ? LIMIT 1
	`, sessionID, models.StoryVoting)
}

// StartVoting moves a pending story to voting.
func StartVoting(ctx context.Context, q db.Querier, id string, now time.Time) error {
	return transition(ctx, q, `
		UPDATE stories SET status = ?, voting_started_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, models.StoryVoting, db.Millis(now), db.Millis(now), id, models.StoryPending)
}

// Complete moves a voting story to completed.
func Complete(ctx context.Context, q db.Querier, id string, now time.Time) error {
	return transition(ctx, q, `
		UPDATE stories SET status = ?, revealed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, models.StoryCompleted, db.Millis(now), db.Millis(now), id, models.StoryVoting)
}

func transition(ctx context.Context, q db.Querier, query string, args ...any) error {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update story status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.Newf(models.ErrInvalidTransition, "story is not in the expected status")
	}
	return nil
}

// SetFinalPoints records the agreed estimate of a completed story.
func SetFinalPoints(ctx context.Context, q db.Querier, id string, points *models.Points) error {
	var v sql.NullString
	if points != nil {
		v = sql.NullString{String: string(*points), Valid: true}
	}
	if _, err := q.ExecContext(ctx, `UPDATE stories SET final_points = ? WHERE id = ?`, v, id); err != nil {
		return fmt.Errorf("set final points: %w", err)
	}
	return nil
}

// Update edits the title and description of a pending story.
func Update(ctx context.Context, q db.Querier, id, title, description string, now time.Time) error {
	res, err := q.ExecContext(ctx, `
		UPDATE stories SET title = ?, description = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, title, description, db.Millis(now), id, models.StoryPending)
	if err != nil {
		return fmt.Errorf("update story: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Newf(models.ErrImmutableRecord, "only pending stories can be edited")
	}
	return nil
}

// Delete removes a pending story. The gap it leaves in the order is kept.
func Delete(ctx context.Context, q db.Querier, id string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM stories WHERE id = ? AND status = ?`, id, models.StoryPending)
	if err != nil {
		return fmt.Errorf("delete story: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Newf(models.ErrImmutableRecord, "only pending stories can be deleted")
	}
	return nil
}

// Move places a story at the 1-based position and renumbers the queue
// 1..n. Orders are negated first so the unique (session, order) constraint
// holds after every statement.
func Move(ctx context.Context, q db.Querier, sessionID, storyID string, position int, now time.Time) ([]models.Story, error) {
	list, err := List(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	if position < 1 || position > len(list) {
		return nil, models.Newf(models.ErrValidation, "position must be between 1 and %d", len(list)).
			WithDetails("position", position)
	}

	from := -1
	for i, s := range list {
		if s.ID == storyID {
			from = i
			break
		}
	}
	if from < 0 {
		return nil, models.Newf(models.ErrNotFound, "story not found")
	}

	moved := list[from]
	list = append(list[:from], list[from+1:]...)
	list = append(list[:position-1], append([]models.Story{moved}, list[position-1:]...)...)

	if _, err := q.ExecContext(ctx,
		`UPDATE stories SET story_order = -story_order WHERE session_id = ?`, sessionID); err != nil {
		return nil, fmt.Errorf("reorder stories: %w", err)
	}
	for i := range list {
		list[i].Order = i + 1
		if _, err := q.ExecContext(ctx,
			`UPDATE stories SET story_order = ?, updated_at = ? WHERE id = ?`, i+1, db.Millis(now), list[i].ID); err != nil {
			return nil, fmt.Errorf("reorder stories: %w", err)
		}
	}
	return list, nil
}
