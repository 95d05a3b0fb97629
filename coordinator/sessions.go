// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package coordinator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/danielhkuo/censeo/db"
	"github.com/danielhkuo/censeo/models"
	"github.com/danielhkuo/censeo/participants"
	"github.com/danielhkuo/censeo/stories"
	"github.com/danielhkuo/censeo/users"
)

const sessionColumns = `s.id, s.name, s.facilitator_id, s.status, s.current_story_id, s.version,
	s.created_at, s.updated_at, s.archived_at`

func scanSession(row interface{ Scan(...any) error }) (models.Session, error) {
	var s models.Session
	var currentStoryID sql.NullString
	var createdAt, updatedAt int64
	var archivedAt sql.NullInt64
	err := row.Scan(&s.ID, &s.Name, &s.FacilitatorID, &s.Status, &currentStoryID, &s.Version,
		&createdAt, &updatedAt, &archivedAt)
	if err != nil {
		return models.Session{}, err
	}
	s.CurrentStoryID = db.StringPtr(currentStoryID)
	s.CreatedAt = db.FromMillis(createdAt)
	s.UpdatedAt = db.FromMillis(updatedAt)
	s.ArchivedAt = db.TimePtr(archivedAt)
	return s, nil
}

func loadSession(ctx context.Context, q db.Querier, id string) (models.Session, error) {
	s, err := scanSession(q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions s WHERE s.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Session{}, models.Newf(models.ErrNotFound, "session not found")
	}
	if err != nil {
		return models.Session{}, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// liveSession loads a session that has not been archived.
func liveSession(ctx context.Context, q db.Querier, id string) (models.Session, error) {
	s, err := loadSession(ctx, q, id)
	if err != nil {
		return models.Session{}, err
	}
	if s.Archived() {
		return models.Session{}, models.Newf(models.ErrSessionGone, "session has ended").
			WithDetails("session_id", s.ID)
	}
	return s, nil
}

func (c *Coordinator) validateSessionName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", models.Newf(models.ErrValidation, "session name is required")
	}
	if limit := c.limits.SessionNameMaxLength; utf8.RuneCountInString(name) > limit {
		return "", models.Newf(models.ErrValidation, "session name cannot exceed %d characters", limit).
			WithDetails("max_length", limit)
	}
	return name, nil
}

// CreateSession starts an active session with an empty queue. The
// facilitator joins it immediately.
func (c *Coordinator) CreateSession(ctx context.Context, name, facilitatorID string) (models.Session, error) {
	name, err := c.validateSessionName(name)
	if err != nil {
		return models.Session{}, err
	}

	var session models.Session
	err = c.commit(ctx, func(tx *db.Tx, now time.Time) error {
		user, err := users.Get(ctx, tx, facilitatorID)
		if err != nil {
			return err
		}

		var recent int
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sessions WHERE facilitator_id = ? AND created_at >= ?`,
			user.ID, db.Millis(now.Add(-24*time.Hour))).Scan(&recent)
		if err != nil {
			return fmt.Errorf("count sessions: %w", err)
		}
		if limit := c.limits.MaxMeetingsPerDay; recent >= limit {
			return models.Newf(models.ErrLimitExceeded, "a facilitator can create at most %d sessions per day", limit).
				WithDetails("limit", limit)
		}

		id := uuid.NewString()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sessions (id, name, facilitator_id, status, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, 0, ?, ?)
		`, id, name, user.ID, models.SessionActive, db.Millis(now), db.Millis(now))
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}

		p, _, err := participants.Join(ctx, tx, id, user, models.RoleFacilitator, now)
		if err != nil {
			return err
		}
		if err := c.emit(ctx, tx, id, models.EventParticipantJoined, map[string]any{"participant": p}, now); err != nil {
			return err
		}

		session, err = loadSession(ctx, tx, id)
		return err
	})
	if err != nil {
		return models.Session{}, err
	}

	slog.Info("session created", "session_id", session.ID, "facilitator_id", facilitatorID)
	return session, nil
}

// GetSession returns the session with its participants and stories. Only
// participants can see it.
func (c *Coordinator) GetSession(ctx context.Context, sessionID, userID string) (models.SessionDetail, error) {
	session, err := liveSession(ctx, c.db, sessionID)
	if err != nil {
		return models.SessionDetail{}, err
	}
	p, err := participants.GetByUser(ctx, c.db, sessionID, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.SessionDetail{}, models.Newf(models.ErrNotFound, "session not found or you do not have access")
		}
		return models.SessionDetail{}, err
	}

	list, err := participants.List(ctx, c.db, sessionID)
	if err != nil {
		return models.SessionDetail{}, err
	}
	queue, err := stories.List(ctx, c.db, sessionID)
	if err != nil {
		return models.SessionDetail{}, err
	}
	if err := sealPending(ctx, c.db, p.ID, queue); err != nil {
		return models.SessionDetail{}, err
	}
	return models.SessionDetail{Session: session, Participants: list, Stories: queue}, nil
}

// ListSessions returns the live sessions a user participates in, newest first.
func (c *Coordinator) ListSessions(ctx context.Context, userID string) ([]models.Session, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions s
		JOIN participants p ON p.session_id = s.id
		WHERE p.user_id = ? AND s.archived_at IS NULL
		ORDER BY s.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	list := []models.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// UpdateSessionStatus moves a session between active, paused and completed.
// Paused and completed sessions accept no voting transitions.
func (c *Coordinator) UpdateSessionStatus(ctx context.Context, sessionID, userID, raw string) (models.Session, error) {
	status, err := models.ParseSessionStatus(raw)
	if err != nil {
		return models.Session{}, err
	}

	var session models.Session
	err = c.exclusive(ctx, sessionID, func(tx *db.Tx, now time.Time) error {
		session, err = liveSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if _, err := c.facilitator(ctx, tx, session, userID, "change the session status"); err != nil {
			return err
		}
		if session.Status == status {
			return nil
		}
		if status == models.SessionCompleted {
			voting, err := stories.Voting(ctx, tx, sessionID)
			if err != nil {
				return err
			}
			if voting != nil {
				return models.Newf(models.ErrInvalidTransition, "reveal the current story before completing the session").
					WithDetails("voting_story_id", voting.ID)
			}
		}

		_, err = tx.ExecContext(ctx, `UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
			status, db.Millis(now), sessionID)
		if err != nil {
			return fmt.Errorf("update session status: %w", err)
		}
		if err := c.emit(ctx, tx, sessionID, models.EventSessionStatusChanged,
			map[string]any{"status": status, "previous": session.Status}, now); err != nil {
			return err
		}
		session, err = loadSession(ctx, tx, sessionID)
		return err
	})
	if err != nil {
		return models.Session{}, err
	}
	return session, nil
}

// ArchiveSession ends a session for good. Every later request for it fails
// with SessionGone.
func (c *Coordinator) ArchiveSession(ctx context.Context, sessionID, userID string) error {
	err := c.exclusive(ctx, sessionID, func(tx *db.Tx, now time.Time) error {
		session, err := liveSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if _, err := c.facilitator(ctx, tx, session, userID, "end the session"); err != nil {
			return err
		}
		return c.archive(ctx, tx, sessionID, "ended", now)
	})
	if err != nil {
		return err
	}
	slog.Info("session archived", "session_id", sessionID)
	return nil
}

func (c *Coordinator) archive(ctx context.Context, q db.Querier, sessionID, reason string, now time.Time) error {
	_, err := q.ExecContext(ctx, `
		UPDATE sessions SET status = ?, archived_at = ?, updated_at = ? WHERE id = ?
	`, models.SessionCompleted, db.Millis(now), db.Millis(now), sessionID)
	if err != nil {
		return fmt.Errorf("archive session: %w", err)
	}
	return c.emit(ctx, q, sessionID, models.EventSessionArchived, map[string]any{"reason": reason}, now)
}

// Join adds the user to the session, or returns their existing record.
func (c *Coordinator) Join(ctx context.Context, sessionID, userID string) (models.Participant, models.Session, error) {
	var p models.Participant
	var session models.Session
	err := c.exclusive(ctx, sessionID, func(tx *db.Tx, now time.Time) error {
		var err error
		session, err = liveSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		user, err := users.Get(ctx, tx, userID)
		if err != nil {
			return err
		}

		existing, err := participants.GetByUser(ctx, tx, sessionID, userID)
		isNew := errors.Is(err, models.ErrNotFound)
		if err != nil && !isNew {
			return err
		}
		if isNew && session.Status == models.SessionCompleted {
			return models.Newf(models.ErrInvalidTransition, "cannot join a completed session")
		}
		if isNew || existing.Left {
			count, err := participants.CountMembers(ctx, tx, sessionID)
			if err != nil {
				return err
			}
			if limit := c.limits.MaxTeamMembers; count >= limit {
				return models.Newf(models.ErrLimitExceeded, "session already has %d participants", limit).
					WithDetails("limit", limit)
			}
		}

		role := models.RoleMember
		if session.FacilitatorID == userID {
			role = models.RoleFacilitator
		}
		var changed bool
		p, changed, err = participants.Join(ctx, tx, sessionID, user, role, now)
		if err != nil {
			return err
		}
		if changed {
			reason := "joined"
			if !isNew {
				reason = "reconnected"
			}
			payload := map[string]any{"participant": p, "reason": reason}
			if err := c.emit(ctx, tx, sessionID, models.EventParticipantJoined, payload, now); err != nil {
				return err
			}
		}
		session, err = loadSession(ctx, tx, sessionID)
		return err
	})
	if err != nil {
		return models.Participant{}, models.Session{}, err
	}
	return p, session, nil
}

// Leave records a voluntary departure. The facilitator cannot leave.
func (c *Coordinator) Leave(ctx context.Context, sessionID, userID string) error {
	return c.exclusive(ctx, sessionID, func(tx *db.Tx, now time.Time) error {
		session, err := liveSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if session.FacilitatorID == userID {
			return models.Newf(models.ErrValidation, "facilitators cannot leave their own sessions")
		}
		p, err := participants.GetByUser(ctx, tx, sessionID, userID)
		if errors.Is(err, models.ErrNotFound) {
			return models.Newf(models.ErrValidation, "you are not a participant in this session")
		}
		if err != nil {
			return err
		}
		if p.Left {
			return nil
		}
		if err := participants.Leave(ctx, tx, p.ID, now); err != nil {
			return err
		}

		payload := map[string]any{"participant_id": p.ID, "reason": "left"}
		if err := c.addTally(ctx, tx, session, payload, now); err != nil {
			return err
		}
		return c.emit(ctx, tx, sessionID, models.EventParticipantLeft, payload, now)
	})
}

// addTally adds the current story's counts to an event payload when a story
// is being voted on.
func (c *Coordinator) addTally(ctx context.Context, q db.Querier, session models.Session, payload map[string]any, now time.Time) error {
	voting, err := stories.Voting(ctx, q, session.ID)
	if err != nil || voting == nil {
		return err
	}
	t, _, err := c.tally(ctx, q, session.ID, voting.ID, now)
	if err != nil {
		return err
	}
	payload["story_id"] = voting.ID
	payload["votes_count"] = t.VotesCount
	payload["expected"] = t.Expected
	return nil
}

// ListParticipants returns everyone in the session with their quorum status.
func (c *Coordinator) ListParticipants(ctx context.Context, sessionID, userID string) (models.ListParticipantsResponse, error) {
	session, err := liveSession(ctx, c.db, sessionID)
	if err != nil {
		return models.ListParticipantsResponse{}, err
	}
	if _, err := c.member(ctx, c.db, sessionID, userID); err != nil {
		return models.ListParticipantsResponse{}, err
	}
	list, err := participants.List(ctx, c.db, sessionID)
	if err != nil {
		return models.ListParticipantsResponse{}, err
	}

	now := c.now()
	summaries := make([]models.ParticipantSummary, 0, len(list))
	for _, p := range list {
		summaries = append(summaries, models.ParticipantSummary{
			Participant: p,
			LastSeenAgo: humanize.RelTime(p.LastSeen, now, "ago", "from now"),
			InQuorum:    c.policy.Required(p, now),
		})
	}
	return models.ListParticipantsResponse{
		SessionID:    session.ID,
		SessionName:  session.Name,
		Participants: summaries,
		Count:        len(summaries),
	}, nil
}

// ExcludeParticipant removes a participant from quorum. Votes they already
// cast are kept and still count.
func (c *Coordinator) ExcludeParticipant(ctx context.Context, sessionID, participantID, userID string) (models.Participant, error) {
	var target models.Participant
	err := c.exclusive(ctx, sessionID, func(tx *db.Tx, now time.Time) error {
		session, err := liveSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if _, err := c.facilitator(ctx, tx, session, userID, "exclude participants"); err != nil {
			return err
		}
		target, err = participants.Get(ctx, tx, participantID)
		if err != nil {
			return err
		}
		if target.SessionID != sessionID {
			return models.Newf(models.ErrNotFound, "participant not found")
		}
		if target.IsFacilitator() {
			return models.Newf(models.ErrValidation, "the facilitator cannot be excluded")
		}
		if target.State == models.StateExcluded {
			return nil
		}

		if err := participants.Exclude(ctx, tx, target.ID); err != nil {
			return err
		}
		target.State = models.StateExcluded

		payload := map[string]any{"participant_id": target.ID}
		if err := c.addTally(ctx, tx, session, payload, now); err != nil {
			return err
		}
		return c.emit(ctx, tx, sessionID, models.EventParticipantExcluded, payload, now)
	})
	if err != nil {
		return models.Participant{}, err
	}
	return target, nil
}
