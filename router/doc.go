// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package router defines HTTP routes for the Censeo API.

# Route Registration

NewRouter wires every handler onto an http.ServeMux and wraps it in CORS:

	handler := router.NewRouter(database, cfg, hub, events, coord)

# Endpoints

Unauthenticated:

	GET  /health
	GET  /
	POST /users

Identity (X-User-ID and X-User-Token required):

	GET  /users/me

Sessions (X-User-ID and X-User-Token required):

	POST   /sessions
	GET    /sessions
	GET    /sessions/{id}
	PUT    /sessions/{id}/status
	DELETE /sessions/{id}
	POST   /sessions/{id}/join
	POST   /sessions/{id}/leave
	GET    /sessions/{id}/participants
	POST   /sessions/{id}/participants/{pid}/exclude
	GET    /sessions/{id}/view

Stories:

	POST   /sessions/{id}/stories
	GET    /sessions/{id}/stories
	GET    /sessions/{id}/stories/next
	GET    /stories/{id}
	PATCH  /stories/{id}
	DELETE /stories/{id}
	PUT    /stories/{id}/order
	PUT    /stories/{id}/status

Voting:

	POST /stories/{id}/votes
	GET  /stories/{id}/votes
	POST /stories/{id}/reveal
	POST /stories/{id}/late-vote

Real-time (ticket in the query string):

	GET /sessions/{id}/ws
*/
package router
