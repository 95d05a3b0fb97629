// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"context"
	"fmt"
)

// CreateSchema creates all tables needed for the application.
// Safe to call multiple times - uses IF NOT EXISTS.
func CreateSchema(ctx context.Context, db *DB) error {
	_, err := db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

const schema = `
-- Users
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    email TEXT NOT NULL UNIQUE,
    created_at BIGINT NOT NULL,
    last_active BIGINT NOT NULL
);

-- Sessions
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    facilitator_id TEXT NOT NULL REFERENCES users(id),
    status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'paused', 'completed')),
    current_story_id TEXT,
    version BIGINT NOT NULL DEFAULT 0,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL,
    archived_at BIGINT
);

CREATE INDEX IF NOT EXISTS idx_sessions_facilitator ON sessions(facilitator_id, created_at);

-- Participants
CREATE TABLE IF NOT EXISTS participants (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    user_id TEXT NOT NULL REFERENCES users(id),
    display_name TEXT NOT NULL,
    role TEXT NOT NULL CHECK (role IN ('facilitator', 'member')),
    state TEXT NOT NULL DEFAULT 'connected' CHECK (state IN ('connected', 'disconnected', 'excluded')),
    has_left BOOLEAN NOT NULL DEFAULT FALSE,
    disconnected_at BIGINT,
    grace_expired_at BIGINT,
    last_story_id TEXT,
    last_seen BIGINT NOT NULL,
    joined_at BIGINT NOT NULL,
    UNIQUE (session_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_participants_user ON participants(user_id);

-- Stories
CREATE TABLE IF NOT EXISTS stories (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    story_order INTEGER NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'voting', 'completed')),
    final_points TEXT,
    voting_started_at BIGINT,
    revealed_at BIGINT,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL,
    UNIQUE (session_id, story_order)
);

CREATE INDEX IF NOT EXISTS idx_stories_status ON stories(session_id, status);

-- Votes
CREATE TABLE IF NOT EXISTS votes (
    id TEXT PRIMARY KEY,
    story_id TEXT NOT NULL REFERENCES stories(id) ON DELETE CASCADE,
    participant_id TEXT NOT NULL REFERENCES participants(id) ON DELETE CASCADE,
    points TEXT NOT NULL,
    cast_at BIGINT NOT NULL,
    revealed BOOLEAN NOT NULL DEFAULT FALSE,
    UNIQUE (story_id, participant_id)
);

-- Late votes offered to participants who missed a reveal
CREATE TABLE IF NOT EXISTS late_votes (
    story_id TEXT NOT NULL REFERENCES stories(id) ON DELETE CASCADE,
    participant_id TEXT NOT NULL REFERENCES participants(id) ON DELETE CASCADE,
    status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'cast', 'skipped')),
    points TEXT,
    created_at BIGINT NOT NULL,
    resolved_at BIGINT,
    PRIMARY KEY (story_id, participant_id)
);

-- Result Snapshots
CREATE TABLE IF NOT EXISTS result_snapshot (
    id TEXT PRIMARY KEY,
    story_id TEXT NOT NULL UNIQUE REFERENCES stories(id) ON DELETE CASCADE,
    computed_at BIGINT NOT NULL,
    inputs_hash TEXT NOT NULL,
    payload TEXT NOT NULL
);

-- Event outbox
CREATE TABLE IF NOT EXISTS events (
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    seq BIGINT NOT NULL,
    type TEXT NOT NULL,
    payload TEXT NOT NULL,
    created_at BIGINT NOT NULL,
    dispatched_at BIGINT,
    PRIMARY KEY (session_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_events_pending ON events(session_id, seq) WHERE dispatched_at IS NULL;
`
