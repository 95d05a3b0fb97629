// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package votes stores blind votes and late votes.

Votes are hidden until their story is completed. Breakdown is the only way to
read vote values and returns a Confidentiality error before then. Count,
Voters and Own expose what is safe to show while voting is open.

A late vote is offered to a participant who was disconnected when a story was
revealed. It is kept apart from the votes themselves so a revealed result
never changes.
*/
package votes
