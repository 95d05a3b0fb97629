// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package participants

import (
	"time"

	"github.com/danielhkuo/censeo/models"
)

// QuorumPolicy decides who must vote before a reveal.
type QuorumPolicy struct {
	// Grace is how long a disconnected participant is still waited for.
	Grace time.Duration
	// FacilitatorVotes puts the facilitator in quorum.
	FacilitatorVotes bool
}

// Required reports whether p must vote before a non-forced reveal.
func (qp QuorumPolicy) Required(p models.Participant, now time.Time) bool {
	if p.State == models.StateExcluded || p.Left {
		return false
	}
	if p.IsFacilitator() && !qp.FacilitatorVotes {
		return false
	}
	switch p.State {
	case models.StateConnected:
		return true
	case models.StateDisconnected:
		return p.DisconnectedAt != nil && now.Sub(*p.DisconnectedAt) < qp.Grace
	}
	return false
}

// Quorum filters the participants that are required to vote.
func (qp QuorumPolicy) Quorum(list []models.Participant, now time.Time) []models.Participant {
	var required []models.Participant
	for _, p := range list {
		if qp.Required(p, now) {
			required = append(required, p)
		}
	}
	return required
}
