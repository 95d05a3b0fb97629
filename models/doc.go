// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package models defines request, response, and domain types for the API.

# Request Types

Types for parsing incoming JSON:

  - CreateUserRequest: name, email
  - CreateSessionRequest: name, facilitator_id
  - JoinSessionRequest: user_id
  - AddStoryRequest / UpdateStoryRequest / MoveStoryRequest
  - CastVoteRequest: user_id, points
  - RevealRequest: force
  - LateVoteRequest: points or skip

# Response Types

  - CreateUserResponse: user_id, user_token
  - JoinSessionResponse: session, participant, ticket, view
  - VoteAck: counts plus the voter's own points
  - VotesView: count-only before reveal, breakdown after
  - RevealResponse: votes and summary statistics
  - ErrorResponse: error, code, message, details

# Domain Types

  - Session, Story, Participant, Vote, LateVote
  - RevealResult / ResultSnapshot: immutable outcome of a reveal
  - View: what one participant may see right now

# Closed Value Sets

Statuses, roles and connection states are string types with a fixed set of
constants. Client supplied strings go through ParseSessionStatus,
ParseStoryStatus and Scale.Parse before reaching the rest of the code:

	StoryPending -> StoryVoting -> StoryCompleted

# Errors

Error carries a code from a closed set. The sentinels (ErrValidation,
ErrPermission, ErrInvalidTransition, ...) are kinds and match with errors.Is:

	if errors.Is(err, models.ErrIncompleteVoting) { ... }
*/
package models
