// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package cliparse handles command-line argument parsing and configuration.

# Configuration

ParseFlags returns a Config struct with all settings:

	cfg, err := cliparse.ParseFlags(os.Args[1:])

A .env file in the working directory is loaded first if present.

# Config Fields

  - Port: Server listen port (default: 3318)
  - DatabaseType: sqlite (default) or postgres
  - DatabaseURL: connection string (default for sqlite: file:censeo.db)
  - UserTokenSalt: Secret for user token HMAC (required)
  - TicketSecret: Secret for WebSocket ticket signing (required)
  - Limits: operator limits, see below

# CLI Flags

	-p, --port           Server port
	-d, --database-url   Database URL
	-t, --database-type  sqlite or postgres
	--token-salt         User token salt
	--ticket-secret      Ticket signing secret

# Environment Variables

Flags fall back to environment variables:

	PORT            → -p
	DATABASE_URL    → -d
	DATABASE_TYPE   → -t
	USER_TOKEN_SALT → --token-salt
	TICKET_SECRET   → --ticket-secret

CLI flags take precedence over environment variables.

# Limits

Limits are environment only:

	MAX_STORIES_PER_MEETING=50
	MAX_TEAM_MEMBERS=15
	MAX_MEETINGS_PER_TEAM_PER_DAY=5
	DISCONNECTION_TIMEOUT_SECONDS=60
	SESSION_NAME_MAX_LENGTH=200
	STORY_TITLE_MAX_LENGTH=500
	POINT_SCALE=1,2,3,5,8,13,21,?
	FACILITATOR_IN_QUORUM=true
	SWEEP_INTERVAL=10s
	SESSION_RETENTION=720h
	TICKET_TTL=12h
	CORS_ALLOWED_ORIGINS=*
*/
package cliparse
