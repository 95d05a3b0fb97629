// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"

	"github.com/danielhkuo/censeo/coordinator"
	"github.com/danielhkuo/censeo/middleware"
	"github.com/danielhkuo/censeo/models"
)

type VotingHandler struct {
	coord *coordinator.Coordinator
}

func NewVotingHandler(coord *coordinator.Coordinator) *VotingHandler {
	return &VotingHandler{coord: coord}
}

// CastVote handles POST /stories/{id}/votes
// Submitting again replaces the caller's vote
func (h *VotingHandler) CastVote(w http.ResponseWriter, r *http.Request) {
	var req models.CastVoteRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}
	userID, err := sameUser(r, req.UserID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	ack, err := h.coord.CastVote(r.Context(), r.PathValue("id"), userID, req.Points)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, ack)
}

// GetVotes handles GET /stories/{id}/votes
// Before the reveal only counts and the caller's own vote are returned
func (h *VotingHandler) GetVotes(w http.ResponseWriter, r *http.Request) {
	view, err := h.coord.Votes(r.Context(), r.PathValue("id"), middleware.UserID(r))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, view)
}

// Reveal handles POST /stories/{id}/reveal (facilitator only)
func (h *VotingHandler) Reveal(w http.ResponseWriter, r *http.Request) {
	var req models.RevealRequest
	if r.ContentLength != 0 {
		if err := middleware.ParseJSONBody(r, &req); err != nil {
			middleware.WriteError(w, err)
			return
		}
	}

	result, err := h.coord.RevealVotes(r.Context(), r.PathValue("id"), middleware.UserID(r), req.Force)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, models.RevealResponse{
		Revealed: true,
		Votes:    result.Votes,
		Result:   result,
	})
}

// LateVote handles POST /stories/{id}/late-vote
// Casting or skipping unlocks the story's results for the caller
func (h *VotingHandler) LateVote(w http.ResponseWriter, r *http.Request) {
	var req models.LateVoteRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	result, err := h.coord.ResolveLateVote(r.Context(), r.PathValue("id"), middleware.UserID(r), req.Points, req.Skip)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, models.RevealResponse{
		Revealed: true,
		Votes:    result.Votes,
		Result:   result,
	})
}
