// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package reconnect computes what a participant sees when they connect or
// reconnect to a session.
//
// The decision is a pure function of the participant record and a
// [Snapshot] of the session, so it can be tested without a database:
//
//	current story voting, participant excluded    -> observe
//	current story voting, no vote yet             -> vote
//	current story voting, already voted           -> waiting
//	missed a reveal while disconnected            -> late_vote
//	current story completed                       -> results
//	otherwise                                     -> idle
//
// A participant who missed a reveal is offered a late vote on that story
// and is never shown its results until they vote or skip. CaughtUp is set
// when the session moved to a different story since the participant was
// last shown one.
package reconnect
