// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package participants

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

const columns = `id, session_id, user_id, display_name, role, state, has_left,
	disconnected_at, grace_expired_at, last_story_id, last_seen, joined_at`

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (models.Participant, error) {
	var p models.Participant
	var disconnectedAt, graceExpiredAt sql.NullInt64
	var lastStoryID sql.NullString
	var lastSeen, joinedAt int64
	err := row.Scan(
		&p.ID, &p.SessionID, &p.UserID, &p.DisplayName, &p.Role, &p.State, &p.Left,
		&disconnectedAt, &graceExpiredAt, &lastStoryID, &lastSeen, &joinedAt,
	)
	if err != nil {
		return models.Participant{}, err
	}
	p.DisconnectedAt = db.TimePtr(disconnectedAt)
	p.GraceExpiredAt = db.TimePtr(graceExpiredAt)
	p.LastStoryID = db.StringPtr(lastStoryID)
	p.LastSeen = db.FromMillis(lastSeen)
	p.JoinedAt = db.FromMillis(joinedAt)
	return p, nil
}

func queryList(ctx context.Context, q db.Querier, query string, args ...any) ([]models.Participant, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	list := []models.Participant{}
	for rows.Next() {
		p, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// Get returns a participant by ID.
func Get(ctx context.Context, q db.Querier, id string) (models.Participant, error) {
	p, err := scan(q.QueryRowContext(ctx, `SELECT `+columns+` FROM participants WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Participant{}, models.Newf(models.ErrNotFound, "participant not found")
	}
	if err != nil {
		return models.Participant{}, fmt.Errorf("get participant: %w", err)
	}
	return p, nil
}

// GetByUser returns the participant record for a user in a session.
func GetByUser(ctx context.Context, q db.Querier, sessionID, userID string) (models.Participant, error) {
	p, err := scan(q.QueryRowContext(ctx,
		`SELECT `+columns+` FROM participants WHERE session_id = ? AND user_id = ?`, sessionID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Participant{}, models.Newf(models.ErrNotFound, "not a participant in this session")
	}
	if err != nil {
		return models.Participant{}, fmt.Errorf("get participant: %w", err)
	}
	return p, nil
}

// List returns every participant of a session in join order, including
// excluded and departed ones.
func List(ctx context.Context, q db.Querier, sessionID string) ([]models.Participant, error) {
	return queryList(ctx, q,
		`SELECT `+columns+` FROM participants WHERE session_id = ? ORDER BY joined_at, id`, sessionID)
}

// CountMembers counts participants who have not left.
func CountMembers(ctx context.Context, q db.Querier, sessionID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM participants WHERE session_id = ? AND has_left = ?`, sessionID, false).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count participants: %w", err)
	}
	return n, nil
}

// Join adds the user to the session. Joining again is idempotent: the
// existing record is returned with last_seen refreshed, and a disconnected
// or departed participant is connected again. Excluded participants stay
// excluded. changed reports whether the participant became connected.
func Join(ctx context.Context, q db.Querier, sessionID string, user models.User, role models.Role, now time.Time) (p models.Participant, changed bool, err error) {
	existing, err := GetByUser(ctx, q, sessionID, user.ID)
	if err == nil {
		changed, err = MarkReconnected(ctx, q, existing.ID, now)
		if err != nil {
			return models.Participant{}, false, err
		}
		p, err = Get(ctx, q, existing.ID)
		return p, changed, err
	}
	if !errors.Is(err, models.ErrNotFound) {
		return models.Participant{}, false, err
	}

	p = models.Participant{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		UserID:      user.ID,
		DisplayName: user.Name,
		Role:        role,
		State:       models.StateConnected,
		LastSeen:    now.UTC(),
		JoinedAt:    now.UTC(),
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO participants (id, session_id, user_id, display_name, role, state, has_left, last_seen, joined_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.SessionID, p.UserID, p.DisplayName, p.Role, p.State, false, db.Millis(now), db.Millis(now))
	if err != nil {
		return models.Participant{}, false, fmt.Errorf("insert participant: %w", err)
	}
	return p, true, nil
}

// reconnect clears the disconnected and left flags. Excluded participants
// stay excluded.
func reconnect(ctx context.Context, q db.Querier, id string, now time.Time) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE participants
		SET state = CASE WHEN state = ? THEN state ELSE ? END,
			has_left = ?, disconnected_at = NULL, grace_expired_at = NULL, last_seen = ?
		WHERE id = ? AND (state = ? OR has_left = ?)
	`, models.StateExcluded, models.StateConnected, false, db.Millis(now), id, models.StateDisconnected, true)
	if err != nil {
		return false, fmt.Errorf("reconnect participant: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkDisconnected starts the grace window for a connected participant.
func MarkDisconnected(ctx context.Context, q db.Querier, id string, now time.Time) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE participants
		SET state = ?, disconnected_at = ?, grace_expired_at = NULL
		WHERE id = ? AND state = ?
	`, models.StateDisconnected, db.Millis(now), id, models.StateConnected)
	if err != nil {
		return false, fmt.Errorf("mark disconnected: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkReconnected clears the disconnected state. Excluded participants are
// left excluded.
func MarkReconnected(ctx context.Context, q db.Querier, id string, now time.Time) (bool, error) {
	changed, err := reconnect(ctx, q, id, now)
	if err != nil || changed {
		return changed, err
	}
	return false, Touch(ctx, q, id, nil, now)
}

// Exclude removes a participant from quorum for good. Their data stays.
func Exclude(ctx context.Context, q db.Querier, id string) error {
	_, err := q.ExecContext(ctx, `UPDATE participants SET state = ? WHERE id = ?`, models.StateExcluded, id)
	if err != nil {
		return fmt.Errorf("exclude participant: %w", err)
	}
	return nil
}

// Leave marks a voluntary departure. The participant drops out of quorum
// immediately, without a grace window.
func Leave(ctx context.Context, q db.Querier, id string, now time.Time) error {
	_, err := q.ExecContext(ctx, `
		UPDATE participants
		SET has_left = ?, state = CASE WHEN state = ? THEN state ELSE ? END, disconnected_at = ?
		WHERE id = ?
	`, true, models.StateExcluded, models.StateDisconnected, db.Millis(now), id)
	if err != nil {
		return fmt.Errorf("leave session: %w", err)
	}
	return nil
}

// Touch records activity and, when lastStoryID is set, the last story the
// participant was shown.
func Touch(ctx context.Context, q db.Querier, id string, lastStoryID *string, now time.Time) error {
	var err error
	if lastStoryID != nil {
		_, err = q.ExecContext(ctx, `UPDATE participants SET last_seen = ?, last_story_id = ? WHERE id = ?`,
			db.Millis(now), *lastStoryID, id)
	} else {
		_, err = q.ExecContext(ctx, `UPDATE participants SET last_seen = ? WHERE id = ?`, db.Millis(now), id)
	}
	if err != nil {
		return fmt.Errorf("touch participant: %w", err)
	}
	return nil
}

// ExpiredGrace lists disconnected participants whose grace window ended at
// or before cutoff and who have not been reported yet.
func ExpiredGrace(ctx context.Context, q db.Querier, cutoff time.Time) ([]models.Participant, error) {
	return queryList(ctx, q, `
		SELECT `+columns+` FROM participants
		WHERE state = ? AND has_left = ? AND grace_expired_at IS NULL AND disconnected_at <= ?
		ORDER BY disconnected_at
	`, models.StateDisconnected, false, db.Millis(cutoff))
}

// MarkGraceExpired records that the grace window ran out. It reports false
// when the participant reconnected, left, or started a newer window after
// cutoff.
func MarkGraceExpired(ctx context.Context, q db.Querier, id string, cutoff, now time.Time) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE participants SET grace_expired_at = ?
		WHERE id = ? AND state = ? AND has_left = ? AND grace_expired_at IS NULL AND disconnected_at <= ?
	`, db.Millis(now), id, models.StateDisconnected, false, db.Millis(cutoff))
	if err != nil {
		return false, fmt.Errorf("mark grace expired: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
