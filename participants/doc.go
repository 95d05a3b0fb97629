// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package participants tracks who belongs to a session and whether they are
expected to vote.

A participant is connected, disconnected or excluded. Leaving a session is
recorded separately from the connection state, so a participant who leaves
and later rejoins keeps the same record:

	p, changed, err := participants.Join(ctx, tx, sessionID, user, models.RoleMember, now)

# Quorum

QuorumPolicy decides who must vote before a story can be revealed without
force. A disconnected participant stays required until their grace window
runs out; nothing has to happen at the moment it expires:

	policy := participants.QuorumPolicy{Grace: time.Minute, FacilitatorVotes: true}
	required := policy.Quorum(list, time.Now())

Excluded participants and those who left are never required.
*/
package participants
