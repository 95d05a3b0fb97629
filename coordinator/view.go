// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/danielhkuo/censeo/db"
	"github.com/danielhkuo/censeo/models"
	"github.com/danielhkuo/censeo/participants"
	"github.com/danielhkuo/censeo/reconnect"
	"github.com/danielhkuo/censeo/stories"
	"github.com/danielhkuo/censeo/votes"
)

// View returns what the calling user should see of the session right now.
func (c *Coordinator) View(ctx context.Context, sessionID, userID string) (models.View, error) {
	var view models.View
	err := c.commit(ctx, func(tx *db.Tx, now time.Time) error {
		session, err := liveSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		p, err := c.member(ctx, tx, sessionID, userID)
		if err != nil {
			return err
		}
		view, err = c.view(ctx, tx, session, p, now)
		return err
	})
	return view, err
}

// Reconnect marks a participant connected again and returns their view.
func (c *Coordinator) Reconnect(ctx context.Context, sessionID, participantID string) (models.View, error) {
	var view models.View
	err := c.exclusive(ctx, sessionID, func(tx *db.Tx, now time.Time) error {
		p, err := participants.Get(ctx, tx, participantID)
		if err != nil {
			return err
		}
		if p.SessionID != sessionID {
			return models.Newf(models.ErrNotFound, "participant not found")
		}
		if _, err := liveSession(ctx, tx, sessionID); err != nil {
			return err
		}

		changed, err := participants.MarkReconnected(ctx, tx, p.ID, now)
		if err != nil {
			return err
		}
		if changed {
			p, err = participants.Get(ctx, tx, participantID)
			if err != nil {
				return err
			}
			payload := map[string]any{"participant": p, "reason": "reconnected"}
			if err := c.emit(ctx, tx, sessionID, models.EventParticipantJoined, payload, now); err != nil {
				return err
			}
		}

		// Reload so the view carries the version that includes the event above
		session, err := loadSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		view, err = c.view(ctx, tx, session, p, now)
		return err
	})
	if err != nil {
		return models.View{}, err
	}
	slog.Info("participant connected", "session_id", sessionID, "participant_id", participantID, "mode", view.Mode)
	return view, nil
}

// MarkDisconnected starts the participant's grace window. Until it runs out
// they still count toward quorum.
func (c *Coordinator) MarkDisconnected(ctx context.Context, sessionID, participantID string) error {
	return c.MarkDisconnectedIf(ctx, sessionID, participantID, nil)
}

// MarkDisconnectedIf is MarkDisconnected guarded by gone, which is checked
// while the session is locked. A nil gone always disconnects.
func (c *Coordinator) MarkDisconnectedIf(ctx context.Context, sessionID, participantID string, gone func() bool) error {
	return c.exclusive(ctx, sessionID, func(tx *db.Tx, now time.Time) error {
		if gone != nil && !gone() {
			return nil
		}
		session, err := loadSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if session.Archived() {
			return nil
		}
		changed, err := participants.MarkDisconnected(ctx, tx, participantID, now)
		if err != nil || !changed {
			return err
		}

		payload := map[string]any{
			"participant_id": participantID,
			"reason":         "disconnected",
			"grace_seconds":  int(c.policy.Grace / time.Second),
		}
		if err := c.addTally(ctx, tx, session, payload, now); err != nil {
			return err
		}
		return c.emit(ctx, tx, sessionID, models.EventParticipantLeft, payload, now)
	})
}

// PendingLateVotes returns the IDs of stories whose results are still hidden
// from the participant.
func (c *Coordinator) PendingLateVotes(ctx context.Context, participantID string) ([]string, error) {
	list, err := votes.PendingLateVotes(ctx, c.db, participantID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(list))
	for i, lv := range list {
		ids[i] = lv.StoryID
	}
	return ids, nil
}

// view loads the session snapshot for p and reconciles it. The story shown
// becomes the participant's last seen story.
func (c *Coordinator) view(ctx context.Context, q db.Querier, session models.Session, p models.Participant, now time.Time) (models.View, error) {
	snap := reconnect.Snapshot{Session: session, Scale: c.scale}

	if session.CurrentStoryID != nil {
		current, err := stories.Get(ctx, q, *session.CurrentStoryID)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return models.View{}, err
		}
		if err == nil {
			snap.Current = &current
			if snap.MyPoints, err = votes.Own(ctx, q, current.ID, p.ID); err != nil {
				return models.View{}, err
			}
			switch current.Status {
			case models.StoryVoting:
				if snap.Tally, _, err = c.tally(ctx, q, session.ID, current.ID, now); err != nil {
					return models.View{}, err
				}
			case models.StoryCompleted:
				if snap.Result, err = loadSnapshot(ctx, q, current.ID); err != nil {
					return models.View{}, err
				}
			}
		}
	}

	next, err := stories.NextPending(ctx, q, session.ID)
	if err != nil {
		return models.View{}, err
	}
	snap.Next = next

	pending, err := votes.PendingLateVotes(ctx, q, p.ID)
	if err != nil {
		return models.View{}, err
	}
	if len(pending) > 0 {
		story, err := stories.Get(ctx, q, pending[0].StoryID)
		if err != nil {
			return models.View{}, err
		}
		snap.LateVote = &story
	}

	view, err := reconnect.Reconcile(p, snap)
	if err != nil {
		return models.View{}, err
	}

	var shown *string
	if view.Mode != models.ViewLateVote && view.Story != nil {
		shown = &view.Story.ID
	}
	if err := participants.Touch(ctx, q, p.ID, shown, now); err != nil {
		return models.View{}, err
	}
	return view, nil
}
