// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
)

// ParseSessionStatus rejects anything outside the closed set.
func ParseSessionStatus(s string) (SessionStatus, error) {
	switch st := SessionStatus(s); st {
	case SessionActive, SessionPaused, SessionCompleted:
		return st, nil
	}
	return "", Newf(ErrValidation, "invalid status %q, valid options: active, paused, completed", s)
}

// StoryStatus is the lifecycle state of a story: pending -> voting -> completed.
type StoryStatus string

const (
	StoryPending   StoryStatus = "pending"
	StoryVoting    StoryStatus = "voting"
	StoryCompleted StoryStatus = "completed"
)

func ParseStoryStatus(s string) (StoryStatus, error) {
	switch st := StoryStatus(s); st {
	case StoryPending, StoryVoting, StoryCompleted:
		return st, nil
	}
	return "", Newf(ErrValidation, "invalid status %q, valid options: pending, voting, completed", s)
}

func (s StoryStatus) CanStartVoting() bool { return s == StoryPending }
func (s StoryStatus) AcceptsVotes() bool   { return s == StoryVoting }
func (s StoryStatus) CanReveal() bool      { return s == StoryVoting }
func (s StoryStatus) Editable() bool       { return s == StoryPending }

// Role of a participant within a session.
type Role string

const (
	RoleFacilitator Role = "facilitator"
	RoleMember      Role = "member"
)

// ConnectionState of a participant.
type ConnectionState string

const (
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateExcluded     ConnectionState = "excluded"
)

// LateVoteStatus tracks a vote offered to a participant who missed a reveal.
type LateVoteStatus string

const (
	LateVotePending LateVoteStatus = "pending"
	LateVoteCast    LateVoteStatus = "cast"
	LateVoteSkipped LateVoteStatus = "skipped"
)

// ViewMode tells a client what to render for a participant.
type ViewMode string

const (
	ViewIdle     ViewMode = "idle"
	ViewVote     ViewMode = "vote"
	ViewWaiting  ViewMode = "waiting"
	ViewObserve  ViewMode = "observe"
	ViewLateVote ViewMode = "late_vote"
	ViewResults  ViewMode = "results"
)

// Event types pushed over the real-time channel
const (
	EventVotingStarted        = "voting_session_started"
	EventParticipantJoined    = "participant_joined"
	EventParticipantLeft      = "participant_left"
	EventVoteSubmitted        = "vote_submitted"
	EventVoteChanged          = "vote_changed"
	EventVotingEnded          = "voting_session_ended"
	EventStoryAdded           = "story_added"
	EventStoryUpdated         = "story_updated"
	EventStoryDeleted         = "story_deleted"
	EventStoriesReordered     = "stories_reordered"
	EventParticipantExcluded  = "participant_excluded"
	EventParticipantTimedOut  = "participant_timed_out"
	EventSessionStatusChanged = "session_status_changed"
	EventSessionArchived      = "session_archived"
	EventLateVoteResolved     = "late_vote_resolved"

	// Sent only to a single connection, never stored
	EventSessionState = "session_state"
)

// Default limits
const (
	DefaultMaxStoriesPerMeeting = 50
	DefaultMaxTeamMembers       = 15
	DefaultMaxMeetingsPerDay    = 5
	DefaultDisconnectionTimeout = 60
	DefaultSessionNameMaxLength = 200
	DefaultStoryTitleMaxLength  = 500
	DefaultPointScale           = "1,2,3,5,8,13,21,?"
)
