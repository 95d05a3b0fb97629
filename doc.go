// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package main provides the entry point for the Censeo API server.

Censeo runs planning poker sessions: a facilitator queues stories, the team
votes blind on a point scale and nobody sees a value until the reveal.

# Starting the Server

	USER_TOKEN_SALT=... TICKET_SECRET=... go run .

SQLite is the default store. For PostgreSQL:

	go run . -t postgres -d "postgres://..."

# Configuration

Required settings:

  - USER_TOKEN_SALT (--token-salt): Secret for user token HMAC
  - TICKET_SECRET (--ticket-secret): Secret for WebSocket tickets

Optional settings:

  - PORT (-p): Server port (default: 3318)
  - DATABASE_TYPE (-t): sqlite or postgres (default: sqlite)
  - DATABASE_URL (-d): Connection string (default: file:censeo.db)
  - MAX_STORIES_PER_MEETING, MAX_TEAM_MEMBERS, MAX_MEETINGS_PER_TEAM_PER_DAY
  - DISCONNECTION_TIMEOUT_SECONDS: Grace window before a dropped participant leaves quorum
  - POINT_SCALE: Comma separated card values (default: 1,2,3,5,8,13,21,?)
  - FACILITATOR_IN_QUORUM, SWEEP_INTERVAL, SESSION_RETENTION, TICKET_TTL
  - CORS_ALLOWED_ORIGINS

A .env file in the working directory is loaded first.

# Architecture

  - coordinator: Every state change, serialized per session
  - users, participants, stories, votes: Storage for each entity
  - reconnect: Decides what a returning participant sees
  - broadcast: Event outbox, dispatcher and fan-out hub
  - handlers: HTTP and WebSocket handlers
  - router: Route definitions using Go 1.22+ routing
  - middleware: Identity, CORS, logging, JSON helpers
  - models: Domain, request and response types, error kinds
  - auth: User tokens and stream tickets
  - db: Connection, dialect rebinding and schema
  - cliparse: Configuration parsing

The HTTP server, the event dispatcher and the sweeper run side by side and
stop together on SIGINT or SIGTERM.
*/
package main
