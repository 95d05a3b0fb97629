// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package handlers contains HTTP request handlers for the Censeo API.

# Handler Types

Handlers are thin: they decode the request, call the coordinator and encode
the result. Errors go through middleware.WriteError, which maps error kinds
to status codes.

  - UserHandler: mock login returning a user token, and GET /users/me
  - SessionHandler: session lifecycle, membership and views
  - StoryHandler: the story queue and story status
  - VotingHandler: votes, reveal and late votes
  - StreamHandler: the WebSocket event stream

	sessionHandler := handlers.NewSessionHandler(coord, cfg)

# Identity

Every route except POST /users and the stream runs behind
middleware.WithUser, so handlers read the caller with middleware.UserID.
A body user_id that differs from the caller is rejected.

# Voting Flow

	PUT  /stories/{id}/status  {"status":"voting"}  -> voting_session_started
	POST /stories/{id}/votes   {"points":"5"}       -> counts only
	POST /stories/{id}/reveal  {"force":false}      -> votes and summary

Before the reveal nobody, the facilitator included, can read vote values.
Participants who were disconnected through a reveal see the story again in
late_vote mode and answer with POST /stories/{id}/late-vote.

# Stream

GET /sessions/{id}/ws?ticket=...&since=N upgrades to a WebSocket. The ticket
comes from the join response. The first frame is session_state carrying the
caller's View; events after since are replayed, then live events follow in
sequence order. A client that falls behind is closed with code 4000 and
should reconnect with the last seq it saw.
*/
package handlers
