// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package reconnect

import (
	"github.com/danielhkuo/censeo/models"
)

// Snapshot is the session state a participant's view is derived from.
// The caller loads it; Reconcile does no I/O.
type Snapshot struct {
	Session models.Session
	// Current is the story most recently put to a vote.
	Current *models.Story
	Next    *models.Story
	// LateVote is a completed story the participant may still vote on.
	// Its results stay hidden from them until they vote or skip.
	LateVote *models.Story
	MyPoints *models.Points
	Tally    models.Tally
	// Result is the stored reveal of Current when it is completed.
	Result *models.RevealResult
	Scale  models.Scale
}

// Reconcile decides what a (re)connecting participant should see. An
// unfinished vote on the current story always wins over results.
func Reconcile(p models.Participant, snap Snapshot) (models.View, error) {
	if snap.Session.Archived() {
		return models.View{}, models.Newf(models.ErrSessionGone, "session has ended").
			WithDetails("session_id", snap.Session.ID)
	}
	if p.SessionID != snap.Session.ID {
		return models.View{}, models.Newf(models.ErrValidation, "participant does not belong to this session")
	}

	view := models.View{
		Mode:        models.ViewIdle,
		SessionID:   snap.Session.ID,
		Session:     snap.Session,
		Participant: p,
		Story:       snap.Current,
		NextStory:   snap.Next,
		Scale:       snap.Scale,
	}
	if snap.Current != nil && p.LastStoryID != nil && *p.LastStoryID != snap.Current.ID {
		view.CaughtUp = true
	}

	excluded := p.State == models.StateExcluded

	if snap.Current != nil && snap.Current.Status == models.StoryVoting {
		view.VotesCount = snap.Tally.VotesCount
		view.Expected = snap.Tally.Expected
		switch {
		case excluded:
			view.Mode = models.ViewObserve
		case snap.MyPoints == nil:
			view.Mode = models.ViewVote
		default:
			view.Mode = models.ViewWaiting
			view.MyPoints = snap.MyPoints
		}
		return view, nil
	}

	if snap.LateVote != nil && !excluded {
		view.Mode = models.ViewLateVote
		sealed := snap.LateVote.Sealed()
		view.Story = &sealed
		return view, nil
	}

	if snap.Current != nil && snap.Current.Status == models.StoryCompleted && snap.Result != nil {
		view.Mode = models.ViewResults
		view.Result = snap.Result
		view.MyPoints = snap.MyPoints
		return view, nil
	}

	view.Story = nil
	return view, nil
}
