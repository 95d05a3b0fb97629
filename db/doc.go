// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package db handles connections and schema creation.

# Connections

Open accepts "sqlite" (modernc.org/sqlite, the default) or "postgres"
(github.com/lib/pq):

	conn, err := db.Open("sqlite", "file:censeo.db")

Queries are written with ? placeholders. DB and Tx rebind them to $1, $2...
when talking to Postgres, so the same SQL runs on both.

	err := conn.InTx(ctx, func(tx *db.Tx) error { ... })

SQLite connections are limited to one, so code inside InTx must only use the
Tx it was given.

# Schema Creation

	if err := db.CreateSchema(ctx, conn); err != nil {
		log.Fatal(err)
	}

Safe to call multiple times - uses IF NOT EXISTS for all tables and indexes.

# Tables

  - users: people who can facilitate or join
  - sessions: pointing sessions, with a version used as the event sequence
  - participants: one row per (session, user), never deleted
  - stories: ordered queue per session
  - votes: one vote per (story, participant)
  - late_votes: votes offered after a missed reveal
  - result_snapshot: immutable reveal results
  - events: transactional outbox for the real-time channel

# Relationships

	sessions 1──* participants
	sessions 1──* stories
	stories 1──* votes
	stories 1──1 result_snapshot
	sessions 1──* events

Timestamps are unix milliseconds in BIGINT columns.
*/
package db
