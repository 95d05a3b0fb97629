// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/danielhkuo/censeo/db"
	"github.com/danielhkuo/censeo/models"
	"github.com/danielhkuo/censeo/participants"
	"github.com/danielhkuo/censeo/stories"
	"github.com/danielhkuo/censeo/votes"
)

// CastVote records or replaces the caller's vote. Other participants only
// learn that a vote happened and the new counts.
func (c *Coordinator) CastVote(ctx context.Context, storyID, userID, raw string) (models.VoteAck, error) {
	sessionID, err := c.sessionOfStory(ctx, storyID)
	if err != nil {
		return models.VoteAck{}, err
	}

	var ack models.VoteAck
	err = c.shared(ctx, sessionID, func(tx *db.Tx, now time.Time) error {
		story, err := stories.Get(ctx, tx, storyID)
		if err != nil {
			return err
		}
		session, err := liveSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		p, err := c.member(ctx, tx, sessionID, userID)
		if err != nil {
			return err
		}
		if p.State == models.StateExcluded {
			return models.Newf(models.ErrPermission, "excluded participants cannot vote")
		}
		if p.Left {
			return models.Newf(models.ErrPermission, "rejoin the session to vote")
		}
		if !story.Status.AcceptsVotes() {
			return models.Newf(models.ErrInvalidTransition, "story is not open for voting").
				WithDetails("status", story.Status)
		}
		if session.Status != models.SessionActive {
			return models.Newf(models.ErrInvalidTransition, "session is %s", session.Status).
				WithDetails("session_status", session.Status)
		}
		points, err := c.scale.Parse(raw)
		if err != nil {
			return err
		}

		vote, changed, err := votes.Upsert(ctx, tx, story, p.ID, points, now)
		if err != nil {
			return err
		}
		if err := participants.Touch(ctx, tx, p.ID, &story.ID, now); err != nil {
			return err
		}
		t, _, err := c.tally(ctx, tx, sessionID, story.ID, now)
		if err != nil {
			return err
		}

		eventType := models.EventVoteSubmitted
		if changed {
			eventType = models.EventVoteChanged
		}
		payload := map[string]any{
			"story_id":       story.ID,
			"participant_id": p.ID,
			"votes_count":    t.VotesCount,
			"expected":       t.Expected,
		}
		if err := c.emit(ctx, tx, sessionID, eventType, payload, now); err != nil {
			return err
		}

		ack = models.VoteAck{
			ID:         vote.ID,
			StoryID:    story.ID,
			Points:     vote.Points,
			CreatedAt:  vote.CastAt,
			VotesCount: t.VotesCount,
			Expected:   t.Expected,
			Changed:    changed,
		}
		return nil
	})
	if err != nil {
		return models.VoteAck{}, err
	}
	return ack, nil
}

// RevealVotes completes a voting story and publishes every vote. Without
// force every quorum member must have voted. Revealing a completed story
// returns the stored result unchanged.
func (c *Coordinator) RevealVotes(ctx context.Context, storyID, userID string, force bool) (models.RevealResult, error) {
	sessionID, err := c.sessionOfStory(ctx, storyID)
	if err != nil {
		return models.RevealResult{}, err
	}

	var result models.RevealResult
	revealed := false
	err = c.exclusive(ctx, sessionID, func(tx *db.Tx, now time.Time) error {
		story, err := stories.Get(ctx, tx, storyID)
		if err != nil {
			return err
		}
		session, err := liveSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if _, err := c.facilitator(ctx, tx, session, userID, "reveal votes"); err != nil {
			return err
		}

		if story.Status == models.StoryCompleted {
			stored, err := loadSnapshot(ctx, tx, story.ID)
			if err != nil {
				return err
			}
			if stored == nil {
				return fmt.Errorf("completed story %s has no result snapshot", story.ID)
			}
			result = *stored
			return nil
		}
		if !story.Status.CanReveal() {
			return models.Newf(models.ErrInvalidTransition, "story has not been put to a vote").
				WithDetails("status", story.Status)
		}
		if session.Status != models.SessionActive {
			return models.Newf(models.ErrInvalidTransition, "session is %s", session.Status).
				WithDetails("session_status", session.Status)
		}

		t, missing, err := c.tally(ctx, tx, sessionID, story.ID, now)
		if err != nil {
			return err
		}
		if !force && !t.QuorumMet {
			return models.Newf(models.ErrIncompleteVoting, "%d of %d required votes cast", t.Expected-len(missing), t.Expected).
				WithDetails("votes_count", t.VotesCount, "expected", t.Expected, "missing", missing)
		}

		if err := stories.Complete(ctx, tx, story.ID, now); err != nil {
			return err
		}
		if err := votes.MarkRevealed(ctx, tx, story.ID); err != nil {
			return err
		}
		story.Status = models.StoryCompleted

		list, err := votes.Breakdown(ctx, tx, story)
		if err != nil {
			return err
		}
		result = Summarize(story.ID, list, c.scale, force, now)
		if err := stories.SetFinalPoints(ctx, tx, story.ID, result.FinalPoints); err != nil {
			return err
		}
		if err := saveSnapshot(ctx, tx, result, now); err != nil {
			return err
		}
		if err := c.offerLateVotes(ctx, tx, sessionID, story.ID, list, now); err != nil {
			return err
		}

		revealed = true
		payload := map[string]any{"story_id": story.ID, "result": result}
		return c.emit(ctx, tx, sessionID, models.EventVotingEnded, payload, now)
	})
	if err != nil {
		return models.RevealResult{}, err
	}

	if revealed {
		slog.Info("story revealed", "session_id", sessionID, "story_id", storyID,
			"votes", len(result.Votes), "consensus", result.Consensus, "forced", force)
	}
	return result, nil
}

// offerLateVotes gives every disconnected participant who missed the vote a
// chance to cast one after the reveal.
func (c *Coordinator) offerLateVotes(ctx context.Context, q db.Querier, sessionID, storyID string, list []models.RevealedVote, now time.Time) error {
	voted := make(map[string]bool, len(list))
	for _, v := range list {
		voted[v.ParticipantID] = true
	}
	all, err := participants.List(ctx, q, sessionID)
	if err != nil {
		return err
	}

	var ids []string
	for _, p := range all {
		if p.State == models.StateDisconnected && !p.Left && !voted[p.ID] {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return votes.OfferLateVotes(ctx, q, storyID, ids, now)
}

// Votes returns what the caller may see of a story's votes: counts and their
// own vote while voting, everything once revealed.
func (c *Coordinator) Votes(ctx context.Context, storyID, userID string) (models.VotesView, error) {
	story, err := stories.Get(ctx, c.db, storyID)
	if err != nil {
		return models.VotesView{}, err
	}
	if _, err := liveSession(ctx, c.db, story.SessionID); err != nil {
		return models.VotesView{}, err
	}
	p, err := c.member(ctx, c.db, story.SessionID, userID)
	if err != nil {
		return models.VotesView{}, err
	}

	if story.Status == models.StoryCompleted {
		lv, err := votes.LateVote(ctx, c.db, story.ID, p.ID)
		if err != nil {
			return models.VotesView{}, err
		}
		if lv != nil && lv.Status == models.LateVotePending {
			return models.VotesView{}, models.Newf(models.ErrConfidentiality, "cast or skip your late vote to see the results").
				WithDetails("story_id", story.ID, "late_vote_pending", true)
		}

		list, err := votes.Breakdown(ctx, c.db, story)
		if err != nil {
			return models.VotesView{}, err
		}
		result, err := loadSnapshot(ctx, c.db, story.ID)
		if err != nil {
			return models.VotesView{}, err
		}
		return models.VotesView{
			StoryID:    story.ID,
			Revealed:   true,
			VotesCount: len(list),
			Votes:      list,
			Result:     result,
		}, nil
	}

	count, err := votes.Count(ctx, c.db, story.ID)
	if err != nil {
		return models.VotesView{}, err
	}
	own, err := votes.Own(ctx, c.db, story.ID, p.ID)
	if err != nil {
		return models.VotesView{}, err
	}
	view := models.VotesView{
		StoryID:    story.ID,
		VotesCount: count,
		MyPoints:   own,
		Votes:      []models.RevealedVote{},
	}
	if story.Status == models.StoryVoting {
		t, _, err := c.tally(ctx, c.db, story.SessionID, story.ID, c.now())
		if err != nil {
			return models.VotesView{}, err
		}
		view.TotalParticipants = &t.Expected
	}
	return view, nil
}

// ResolveLateVote casts or skips the caller's late vote on a revealed story
// and returns the story's result, which they may now see. The result itself
// does not change.
func (c *Coordinator) ResolveLateVote(ctx context.Context, storyID, userID, raw string, skip bool) (models.RevealResult, error) {
	var points *models.Points
	if !skip {
		if strings.TrimSpace(raw) == "" {
			return models.RevealResult{}, models.Newf(models.ErrValidation, "points or skip is required")
		}
		p, err := c.scale.Parse(raw)
		if err != nil {
			return models.RevealResult{}, err
		}
		points = &p
	}

	sessionID, err := c.sessionOfStory(ctx, storyID)
	if err != nil {
		return models.RevealResult{}, err
	}

	var result models.RevealResult
	err = c.exclusive(ctx, sessionID, func(tx *db.Tx, now time.Time) error {
		if _, err := liveSession(ctx, tx, sessionID); err != nil {
			return err
		}
		p, err := c.member(ctx, tx, sessionID, userID)
		if err != nil {
			return err
		}
		lv, err := votes.ResolveLateVote(ctx, tx, storyID, p.ID, points, now)
		if err != nil {
			return err
		}
		stored, err := loadSnapshot(ctx, tx, storyID)
		if err != nil {
			return err
		}
		if stored == nil {
			return fmt.Errorf("story %s has a late vote but no result snapshot", storyID)
		}
		result = *stored

		payload := map[string]any{"story_id": storyID, "participant_id": p.ID, "status": lv.Status}
		return c.emit(ctx, tx, sessionID, models.EventLateVoteResolved, payload, now)
	})
	if err != nil {
		return models.RevealResult{}, err
	}
	return result, nil
}
