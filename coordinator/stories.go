// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/danielhkuo/censeo/db"
	"github.com/danielhkuo/censeo/models"
	"github.com/danielhkuo/censeo/stories"
	"github.com/danielhkuo/censeo/votes"
)

func (c *Coordinator) validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", models.Newf(models.ErrValidation, "story title is required")
	}
	if limit := c.limits.StoryTitleMaxLength; utf8.RuneCountInString(title) > limit {
		return "", models.Newf(models.ErrValidation, "story title cannot exceed %d characters", limit).
			WithDetails("max_length", limit)
	}
	return title, nil
}

// AddStory appends a pending story to the session's queue.
func (c *Coordinator) AddStory(ctx context.Context, sessionID, userID, title, description string) (models.Story, error) {
	title, err := c.validateTitle(title)
	if err != nil {
		return models.Story{}, err
	}
	description = strings.TrimSpace(description)

	var story models.Story
	err = c.exclusive(ctx, sessionID, func(tx *db.Tx, now time.Time) error {
		session, err := liveSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if _, err := c.facilitator(ctx, tx, session, userID, "add stories"); err != nil {
			return err
		}
		if session.Status == models.SessionCompleted {
			return models.Newf(models.ErrInvalidTransition, "cannot add stories to a completed session")
		}

		count, err := stories.Count(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if limit := c.limits.MaxStoriesPerMeeting; count >= limit {
			return models.Newf(models.ErrLimitExceeded, "a session can hold at most %d stories", limit).
				WithDetails("limit", limit, "count", count)
		}

		story, err = stories.Append(ctx, tx, sessionID, title, description, now)
		if err != nil {
			return err
		}
		return c.emit(ctx, tx, sessionID, models.EventStoryAdded, map[string]any{"story": story}, now)
	})
	if err != nil {
		return models.Story{}, err
	}
	return story, nil
}

// GetStory returns a story to a participant of its session.
func (c *Coordinator) GetStory(ctx context.Context, storyID, userID string) (models.Story, error) {
	story, err := stories.Get(ctx, c.db, storyID)
	if err != nil {
		return models.Story{}, err
	}
	if _, err := liveSession(ctx, c.db, story.SessionID); err != nil {
		return models.Story{}, err
	}
	p, err := c.member(ctx, c.db, story.SessionID, userID)
	if err != nil {
		return models.Story{}, err
	}
	one := []models.Story{story}
	if err := sealPending(ctx, c.db, p.ID, one); err != nil {
		return models.Story{}, err
	}
	return one[0], nil
}

// ListStories returns the queue in order.
func (c *Coordinator) ListStories(ctx context.Context, sessionID, userID string) ([]models.Story, error) {
	if _, err := liveSession(ctx, c.db, sessionID); err != nil {
		return nil, err
	}
	p, err := c.member(ctx, c.db, sessionID, userID)
	if err != nil {
		return nil, err
	}
	queue, err := stories.List(ctx, c.db, sessionID)
	if err != nil {
		return nil, err
	}
	if err := sealPending(ctx, c.db, p.ID, queue); err != nil {
		return nil, err
	}
	return queue, nil
}

// sealPending hides the outcome of every story in list the participant still
// owes a late vote on.
func sealPending(ctx context.Context, q db.Querier, participantID string, list []models.Story) error {
	pending, err := votes.PendingLateVotes(ctx, q, participantID)
	if err != nil || len(pending) == 0 {
		return err
	}
	owed := make(map[string]bool, len(pending))
	for _, lv := range pending {
		owed[lv.StoryID] = true
	}
	for i := range list {
		if owed[list[i].ID] {
			list[i] = list[i].Sealed()
		}
	}
	return nil
}

// NextStory returns the next pending story, or nil when the queue is done.
func (c *Coordinator) NextStory(ctx context.Context, sessionID, userID string) (*models.Story, error) {
	if _, err := liveSession(ctx, c.db, sessionID); err != nil {
		return nil, err
	}
	if _, err := c.member(ctx, c.db, sessionID, userID); err != nil {
		return nil, err
	}
	return stories.NextPending(ctx, c.db, sessionID)
}

// editable loads a story for a facilitator edit. Only pending stories can
// change.
func (c *Coordinator) editable(ctx context.Context, q db.Querier, storyID, userID, action string) (models.Story, error) {
	story, err := stories.Get(ctx, q, storyID)
	if err != nil {
		return models.Story{}, err
	}
	session, err := liveSession(ctx, q, story.SessionID)
	if err != nil {
		return models.Story{}, err
	}
	if _, err := c.facilitator(ctx, q, session, userID, action); err != nil {
		return models.Story{}, err
	}
	switch story.Status {
	case models.StoryCompleted:
		return models.Story{}, models.Newf(models.ErrImmutableRecord, "story has been revealed and cannot change").
			WithDetails("story_id", story.ID)
	case models.StoryVoting:
		return models.Story{}, models.Newf(models.ErrInvalidTransition, "story is being voted on").
			WithDetails("story_id", story.ID)
	}
	return story, nil
}

// UpdateStory edits a pending story. Nil fields are left unchanged.
func (c *Coordinator) UpdateStory(ctx context.Context, storyID, userID string, title, description *string) (models.Story, error) {
	sessionID, err := c.sessionOfStory(ctx, storyID)
	if err != nil {
		return models.Story{}, err
	}

	var story models.Story
	err = c.exclusive(ctx, sessionID, func(tx *db.Tx, now time.Time) error {
		story, err = c.editable(ctx, tx, storyID, userID, "edit stories")
		if err != nil {
			return err
		}
		if title != nil {
			if story.Title, err = c.validateTitle(*title); err != nil {
				return err
			}
		}
		if description != nil {
			story.Description = strings.TrimSpace(*description)
		}
		if err := stories.Update(ctx, tx, story.ID, story.Title, story.Description, now); err != nil {
			return err
		}
		story, err = stories.Get(ctx, tx, story.ID)
		if err != nil {
			return err
		}
		return c.emit(ctx, tx, sessionID, models.EventStoryUpdated, map[string]any{"story": story}, now)
	})
	if err != nil {
		return models.Story{}, err
	}
	return story, nil
}

// DeleteStory removes a pending story from the queue.
func (c *Coordinator) DeleteStory(ctx context.Context, storyID, userID string) error {
	sessionID, err := c.sessionOfStory(ctx, storyID)
	if err != nil {
		return err
	}
	return c.exclusive(ctx, sessionID, func(tx *db.Tx, now time.Time) error {
		story, err := c.editable(ctx, tx, storyID, userID, "delete stories")
		if err != nil {
			return err
		}
		if err := stories.Delete(ctx, tx, story.ID); err != nil {
			return err
		}
		return c.emit(ctx, tx, sessionID, models.EventStoryDeleted, map[string]any{"story_id": story.ID}, now)
	})
}

// MoveStory places a story at a 1-based position in the queue. Any story
// can be moved; only the order changes.
func (c *Coordinator) MoveStory(ctx context.Context, storyID, userID string, position int) ([]models.Story, error) {
	sessionID, err := c.sessionOfStory(ctx, storyID)
	if err != nil {
		return nil, err
	}

	var queue []models.Story
	err = c.exclusive(ctx, sessionID, func(tx *db.Tx, now time.Time) error {
		session, err := liveSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		p, err := c.facilitator(ctx, tx, session, userID, "reorder stories")
		if err != nil {
			return err
		}
		queue, err = stories.Move(ctx, tx, sessionID, storyID, position, now)
		if err != nil {
			return err
		}
		if err := sealPending(ctx, tx, p.ID, queue); err != nil {
			return err
		}
		order := make([]string, len(queue))
		for i, s := range queue {
			order[i] = s.ID
		}
		return c.emit(ctx, tx, sessionID, models.EventStoriesReordered, map[string]any{"order": order}, now)
	})
	if err != nil {
		return nil, err
	}
	return queue, nil
}

// StartVoting opens a pending story for votes. Only one story per session
// can be voting, and only while the session is active.
func (c *Coordinator) StartVoting(ctx context.Context, storyID, userID string) (models.Story, error) {
	sessionID, err := c.sessionOfStory(ctx, storyID)
	if err != nil {
		return models.Story{}, err
	}

	var story models.Story
	err = c.exclusive(ctx, sessionID, func(tx *db.Tx, now time.Time) error {
		story, err = stories.Get(ctx, tx, storyID)
		if err != nil {
			return err
		}
		session, err := liveSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if _, err := c.facilitator(ctx, tx, session, userID, "start voting"); err != nil {
			return err
		}
		if session.Status != models.SessionActive {
			return models.Newf(models.ErrInvalidTransition, "session is %s", session.Status).
				WithDetails("session_status", session.Status)
		}
		if !story.Status.CanStartVoting() {
			return models.Newf(models.ErrInvalidTransition, "cannot start voting on a %s story", story.Status).
				WithDetails("status", story.Status)
		}
		voting, err := stories.Voting(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if voting != nil {
			return models.Newf(models.ErrInvalidTransition, "another story is already being voted on").
				WithDetails("voting_story_id", voting.ID)
		}

		if err := votes.ClearStory(ctx, tx, story.ID); err != nil {
			return err
		}
		if err := stories.StartVoting(ctx, tx, story.ID, now); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE sessions SET current_story_id = ?, updated_at = ? WHERE id = ?`,
			story.ID, db.Millis(now), sessionID)
		if err != nil {
			return fmt.Errorf("set current story: %w", err)
		}

		story, err = stories.Get(ctx, tx, story.ID)
		if err != nil {
			return err
		}
		t, _, err := c.tally(ctx, tx, sessionID, story.ID, now)
		if err != nil {
			return err
		}
		payload := map[string]any{"story": story, "votes_count": t.VotesCount, "expected": t.Expected}
		return c.emit(ctx, tx, sessionID, models.EventVotingStarted, payload, now)
	})
	if err != nil {
		return models.Story{}, err
	}

	slog.Info("voting started", "session_id", sessionID, "story_id", storyID)
	return story, nil
}

// SetStoryStatus drives a story through its lifecycle by target status.
// Stories never move backwards.
func (c *Coordinator) SetStoryStatus(ctx context.Context, storyID, userID, raw string) (models.Story, error) {
	status, err := models.ParseStoryStatus(raw)
	if err != nil {
		return models.Story{}, err
	}

	switch status {
	case models.StoryVoting:
		return c.StartVoting(ctx, storyID, userID)
	case models.StoryCompleted:
		if _, err := c.RevealVotes(ctx, storyID, userID, false); err != nil {
			return models.Story{}, err
		}
		return stories.Get(ctx, c.db, storyID)
	}

	story, err := stories.Get(ctx, c.db, storyID)
	if err != nil {
		return models.Story{}, err
	}
	session, err := liveSession(ctx, c.db, story.SessionID)
	if err != nil {
		return models.Story{}, err
	}
	if _, err := c.facilitator(ctx, c.db, session, userID, "change story status"); err != nil {
		return models.Story{}, err
	}
	if story.Status != models.StoryPending {
		return models.Story{}, models.Newf(models.ErrInvalidTransition, "a %s story cannot go back to pending", story.Status).
			WithDetails("status", story.Status)
	}
	return story, nil
}
