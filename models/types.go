package models

import "time"

// Domain types

type User struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

type Session struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	FacilitatorID  string        `json:"facilitator_id"`
	Status         SessionStatus `json:"status"`
	CurrentStoryID *string       `json:"current_story_id,omitempty"`
	Version        int64         `json:"version"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	ArchivedAt     *time.Time    `json:"archived_at,omitempty"`
}

// Archived reports whether the session was ended or expired by retention.
func (s Session) Archived() bool {
	return s.ArchivedAt != nil
}

type Story struct {
	ID              string      `json:"id"`
	SessionID       string      `json:"session_id"`
	Title           string      `json:"title"`
	Description     string      `json:"description"`
	Order           int         `json:"story_order"`
	Status          StoryStatus `json:"status"`
	FinalPoints     *Points     `json:"final_points,omitempty"`
	VotingStartedAt *time.Time  `json:"voting_started_at,omitempty"`
	RevealedAt      *time.Time  `json:"revealed_at,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Sealed returns a copy without the reveal outcome.
func (s Story) Sealed() Story {
	s.FinalPoints = nil
	s.RevealedAt = nil
	return s
}

type Participant struct {
	ID             string          `json:"id"`
	SessionID      string          `json:"session_id"`
	UserID         string          `json:"user_id"`
	DisplayName    string          `json:"display_name"`
	Role           Role            `json:"role"`
	State          ConnectionState `json:"state"`
	Left           bool            `json:"left"`
	DisconnectedAt *time.Time      `json:"disconnected_at,omitempty"`
	GraceExpiredAt *time.Time      `json:"grace_expired_at,omitempty"`
	LastStoryID    *string         `json:"last_story_id,omitempty"`
	LastSeen       time.Time       `json:"last_seen"`
	JoinedAt       time.Time       `json:"joined_at"`
}

func (p Participant) IsFacilitator() bool {
	return p.Role == RoleFacilitator
}

type Vote struct {
	ID            string    `json:"id"`
	StoryID       string    `json:"story_id"`
	ParticipantID string    `json:"participant_id"`
	Points        Points    `json:"points"`
	CastAt        time.Time `json:"created_at"`
	Revealed      bool      `json:"revealed"`
}

type LateVote struct {
	StoryID       string         `json:"story_id"`
	ParticipantID string         `json:"participant_id"`
	Status        LateVoteStatus `json:"status"`
	Points        *Points        `json:"points,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	ResolvedAt    *time.Time     `json:"resolved_at,omitempty"`
}

// Tally is the only view of votes available while a story is voting.
type Tally struct {
	StoryID    string `json:"story_id"`
	VotesCount int    `json:"votes_count"`
	Expected   int    `json:"expected"`
	QuorumMet  bool   `json:"quorum_met"`
}

// Reveal types

type RevealedVote struct {
	ParticipantID string `json:"participant_id"`
	User          string `json:"user"`
	Points        Points `json:"points"`
}

type RevealResult struct {
	StoryID      string         `json:"story_id"`
	Votes        []RevealedVote `json:"votes"`
	Average      *float64       `json:"average"`
	Median       *float64       `json:"median"`
	Distribution map[Points]int `json:"distribution"`
	Consensus    bool           `json:"consensus"`
	FinalPoints  *Points        `json:"final_points,omitempty"`
	Forced       bool           `json:"forced"`
	RevealedAt   time.Time      `json:"revealed_at"`
	InputsHash   string         `json:"inputs_hash"` // Hash of (participant, points) pairs for verification
}

type ResultSnapshot struct {
	ID         string       `json:"id"`
	StoryID    string       `json:"story_id"`
	ComputedAt time.Time    `json:"computed_at"`
	Result     RevealResult `json:"result"`
}

// Request types

type CreateUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type CreateSessionRequest struct {
	Name          string `json:"name"`
	FacilitatorID string `json:"facilitator_id"`
}

type JoinSessionRequest struct {
	UserID string `json:"user_id"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type AddStoryRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type UpdateStoryRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

type MoveStoryRequest struct {
	Position int `json:"position"`
}

type CastVoteRequest struct {
	UserID string `json:"user_id"`
	Points string `json:"points"`
}

type RevealRequest struct {
	Force bool `json:"force"`
}

type LateVoteRequest struct {
	Points string `json:"points"`
	Skip   bool   `json:"skip"`
}

// Response types

type CreateUserResponse struct {
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	UserToken string `json:"user_token"`
}

type AuthStatusResponse struct {
	Authenticated bool `json:"authenticated"`
	User          User `json:"user"`
}

type CreateSessionResponse struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	FacilitatorID string        `json:"facilitator_id"`
	Status        SessionStatus `json:"status"`
}

type SessionDetail struct {
	Session      Session       `json:"session"`
	Participants []Participant `json:"participants"`
	Stories      []Story       `json:"stories"`
}

type ListSessionsResponse struct {
	Sessions []Session `json:"sessions"`
	Count    int       `json:"count"`
}

type JoinSessionResponse struct {
	Success     bool        `json:"success"`
	Session     Session     `json:"session"`
	Participant Participant `json:"participant"`
	Ticket      string      `json:"ticket"`
	View        View        `json:"view"`
}

type ParticipantSummary struct {
	Participant
	LastSeenAgo string `json:"last_seen_ago"`
	InQuorum    bool   `json:"in_quorum"`
}

type ListParticipantsResponse struct {
	SessionID    string               `json:"session_id"`
	SessionName  string               `json:"session_name"`
	Participants []ParticipantSummary `json:"participants"`
	Count        int                  `json:"count"`
}

type ListStoriesResponse struct {
	Stories []Story `json:"stories"`
	Count   int     `json:"count"`
}

type StoryStatusResponse struct {
	ID     string      `json:"id"`
	Status StoryStatus `json:"status"`
}

// VoteAck is returned to the voter only; other participants see counts.
type VoteAck struct {
	ID         string    `json:"id"`
	StoryID    string    `json:"story_id"`
	Points     Points    `json:"points"`
	CreatedAt  time.Time `json:"created_at"`
	VotesCount int       `json:"votes_count"`
	Expected   int       `json:"expected"`
	Changed    bool      `json:"changed"`
}

type VotesView struct {
	StoryID           string         `json:"story_id"`
	Revealed          bool           `json:"revealed"`
	VotesCount        int            `json:"votes_count"`
	TotalParticipants *int           `json:"total_participants,omitempty"`
	MyPoints          *Points        `json:"my_points,omitempty"`
	Votes             []RevealedVote `json:"votes"`
	Result            *RevealResult  `json:"result,omitempty"`
}

type RevealResponse struct {
	Revealed bool           `json:"revealed"`
	Votes    []RevealedVote `json:"votes"`
	Result   RevealResult   `json:"result"`
}

// View is what a single participant is allowed to see of the session right now.
type View struct {
	Mode        ViewMode      `json:"mode"`
	SessionID   string        `json:"session_id"`
	Session     Session       `json:"session"`
	Participant Participant   `json:"participant"`
	Story       *Story        `json:"story,omitempty"`
	NextStory   *Story        `json:"next_story,omitempty"`
	VotesCount  int           `json:"votes_count"`
	Expected    int           `json:"expected"`
	MyPoints    *Points       `json:"my_points,omitempty"`
	Result      *RevealResult `json:"result,omitempty"`
	CaughtUp    bool          `json:"caught_up"`
	Scale       []Points      `json:"scale"`
}

// Error response

type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}
