// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package coordinator implements the session and voting state machines.

Every transition takes the session lock, runs in a single transaction and
records its events in the outbox before committing. Vote casting shares the
lock with other votes; everything else holds it exclusively, so a reveal never
interleaves with a vote on the same session.

# Stories

	pending -> voting -> completed

At most one story per session is voting. A completed story and its votes are
immutable. Revealing it again returns the stored result.

# Quorum and reveal

RevealVotes refuses with IncompleteVoting until every quorum member has voted,
unless force is set. Participants who were disconnected at the reveal are
offered a late vote and cannot see the result until they cast or skip it.

# Sweeper

RunSweeper reports expired grace windows as participant_timed_out events and
archives completed sessions after the retention period.
*/
package coordinator
