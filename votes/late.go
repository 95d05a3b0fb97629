// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package votes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/danielhkuo/censeo/db"
	"github.com/danielhkuo/censeo/models"
)

// Late votes are kept apart from the revealed votes so a reveal never
// changes after the fact.

const lateColumns = `story_id, participant_id, status, points, created_at, resolved_at`

func scanLate(row interface{ Scan(...any) error }) (models.LateVote, error) {
	var lv models.LateVote
	var points sql.NullString
	var createdAt int64
	var resolvedAt sql.NullInt64
	if err := row.Scan(&lv.StoryID, &lv.ParticipantID, &lv.Status, &points, &createdAt, &resolvedAt); err != nil {
		return models.LateVote{}, err
	}
	if points.Valid {
		p := models.Points(points.String)
		lv.Points = &p
	}
	lv.CreatedAt = db.FromMillis(createdAt)
	lv.ResolvedAt = db.TimePtr(resolvedAt)
	return lv, nil
}

// OfferLateVotes gives each participant a pending late vote on the story.
func OfferLateVotes(ctx context.Context, q db.Querier, storyID string, participantIDs []string, now time.Time) error {
	for _, id := range participantIDs {
		_, err := q.ExecContext(ctx, `
			INSERT INTO late_votes (story_id, participant_id, status, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (story_id, participant_id) DO NOTHING
		`, storyID, id, models.LateVotePending, db.Millis(now))
		if err != nil {
			return fmt.Errorf("offer late vote: %w", err)
		}
	}
	return nil
}

// LateVote returns the participant's late vote on a story, or nil.
func LateVote(ctx context.Context, q db.Querier, storyID, participantID string) (*models.LateVote, error) {
	lv, err := scanLate(q.QueryRowContext(ctx,
		`SELECT `+lateColumns+` FROM late_votes WHERE story_id = ? AND participant_id = ?`, storyID, participantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query late vote: %w", err)
	}
	return &lv, nil
}

// PendingLateVotes lists unresolved late votes for a participant, newest first.
func PendingLateVotes(ctx context.Context, q db.Querier, participantID string) ([]models.LateVote, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+lateColumns+` FROM late_votes
		WHERE participant_id = ? AND status = ?
		ORDER BY created_at DESC
	`, participantID, models.LateVotePending)
	if err != nil {
		return nil, fmt.Errorf("query late votes: %w", err)
	}
	defer rows.Close()

	var list []models.LateVote
	for rows.Next() {
		lv, err := scanLate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan late vote: %w", err)
		}
		list = append(list, lv)
	}
	return list, rows.Err()
}

// ResolveLateVote casts or skips a pending late vote. points is nil when
// skipping.
func ResolveLateVote(ctx context.Context, q db.Querier, storyID, participantID string, points *models.Points, now time.Time) (models.LateVote, error) {
	status := models.LateVoteSkipped
	var v sql.NullString
	if points != nil {
		status = models.LateVoteCast
		v = sql.NullString{String: string(*points), Valid: true}
	}

	res, err := q.ExecContext(ctx, `
		UPDATE late_votes SET status = ?, points = ?, resolved_at = ?
		WHERE story_id = ? AND participant_id = ? AND status = ?
	`, status, v, db.Millis(now), storyID, participantID, models.LateVotePending)
	if err != nil {
		return models.LateVote{}, fmt.Errorf("resolve late vote: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.LateVote{}, models.Newf(models.ErrInvalidTransition, "no pending late vote for this story")
	}

	lv, err := LateVote(ctx, q, storyID, participantID)
	if err != nil {
		return models.LateVote{}, err
	}
	return *lv, nil
}
