// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package votes

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

// Upsert records or replaces the participant's vote. changed is true when an
// earlier vote was replaced.
func Upsert(ctx context.Context, q db.Querier, story models.Story, participantID string, points models.Points, now time.Time) (vote models.Vote, changed bool, err error) {
	if story.Status == models.StoryCompleted {
		return models.Vote{}, false, models.Newf(models.ErrImmutableRecord, "votes are final once a story is revealed").
			WithDetails("story_id", story.ID)
	}

	var existingID string
	err = q.QueryRowContext(ctx,
		`SELECT id FROM votes WHERE story_id = ? AND participant_id = ?`, story.ID, participantID).Scan(&existingID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		existingID = uuid.NewString()
	case err != nil:
		return models.Vote{}, false, fmt.Errorf("query vote: %w", err)
	default:
		changed = true
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO votes (id, story_id, participant_id, points, cast_at, revealed)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (story_id, participant_id) DO UPDATE SET points = excluded.points, cast_at = excluded.cast_at
	`, existingID, story.ID, participantID, points, db.Millis(now), false)
	if err != nil {
		return models.Vote{}, false, fmt.Errorf("upsert vote: %w", err)
	}

	return models.Vote{
		ID:            existingID,
		StoryID:       story.ID,
		ParticipantID: participantID,
		Points:        points,
		CastAt:        db.FromMillis(db.Millis(now)),
	}, changed, nil
}

// Count returns how many participants have voted on a story.
func Count(ctx context.Context, q db.Querier, storyID string) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM votes WHERE story_id = ?`, storyID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count votes: %w", err)
	}
	return n, nil
}

// Voters returns the IDs of participants who voted, without their values.
func Voters(ctx context.Context, q db.Querier, storyID string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, `SELECT participant_id FROM votes WHERE story_id = ?`, storyID)
	if err != nil {
		return nil, fmt.Errorf("query voters: %w", err)
	}
	defer rows.Close()

	voters := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan voter: %w", err)
		}
		voters[id] = true
	}
	return voters, rows.Err()
}

// Own returns the participant's own vote, or nil if they have not voted.
func Own(ctx context.Context, q db.Querier, storyID, participantID string) (*models.Points, error) {
	var points models.Points
	err := q.QueryRowContext(ctx,
		`SELECT points FROM votes WHERE story_id = ? AND participant_id = ?`, storyID, participantID).Scan(&points)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query own vote: %w", err)
	}
	return &points, nil
}

// Breakdown returns individual votes in participant join order. Values are
// only readable once the story is completed.
func Breakdown(ctx context.Context, q db.Querier, story models.Story) ([]models.RevealedVote, error) {
	if story.Status != models.StoryCompleted {
		return nil, models.Newf(models.ErrConfidentiality, "votes are hidden until the story is revealed").
			WithDetails("story_id", story.ID)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT v.participant_id, p.display_name, v.points
		FROM votes v
		JOIN participants p ON p.id = v.participant_id
		WHERE v.story_id = ? AND v.revealed = ?
		ORDER BY p.joined_at, p.id
	`, story.ID, true)
	if err != nil {
		return nil, fmt.Errorf("query votes: %w", err)
	}
	defer rows.Close()

	list := []models.RevealedVote{}
	for rows.Next() {
		var v models.RevealedVote
		if err := rows.Scan(&v.ParticipantID, &v.User, &v.Points); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		list = append(list, v)
	}
	return list, rows.Err()
}

// MarkRevealed flags every vote of a story as revealed.
func MarkRevealed(ctx context.Context, q db.Querier, storyID string) error {
	if _, err := q.ExecContext(ctx, `UPDATE votes SET revealed = ? WHERE story_id = ?`, true, storyID); err != nil {
		return fmt.Errorf("mark votes revealed: %w", err)
	}
	return nil
}

// ClearStory removes unrevealed votes so a new round starts empty.
func ClearStory(ctx context.Context, q db.Querier, storyID string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM votes WHERE story_id = ? AND revealed = ?`, storyID, false); err != nil {
		return fmt.Errorf("clear votes: %w", err)
	}
	return nil
}
