// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"
	"time"

	"github.com/danielhkuo/censeo/auth"
	"github.com/danielhkuo/censeo/cliparse"
	"github.com/danielhkuo/censeo/coordinator"
	"github.com/danielhkuo/censeo/middleware"
	"github.com/danielhkuo/censeo/models"
)

type SessionHandler struct {
	coord *coordinator.Coordinator
	cfg   cliparse.Config
}

func NewSessionHandler(coord *coordinator.Coordinator, cfg cliparse.Config) *SessionHandler {
	return &SessionHandler{coord: coord, cfg: cfg}
}

// CreateSession handles POST /sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSessionRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}
	userID, err := sameUser(r, req.FacilitatorID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	session, err := h.coord.CreateSession(r.Context(), req.Name, userID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	middleware.JSONResponse(w, http.StatusCreated, models.CreateSessionResponse{
		ID:            session.ID,
		Name:          session.Name,
		FacilitatorID: session.FacilitatorID,
		Status:        session.Status,
	})
}

// ListSessions handles GET /sessions
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := h.coord.ListSessions(r.Context(), middleware.UserID(r))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, models.ListSessionsResponse{Sessions: list, Count: len(list)})
}

// GetSession handles GET /sessions/{id}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	detail, err := h.coord.GetSession(r.Context(), r.PathValue("id"), middleware.UserID(r))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, detail)
}

// JoinSession handles POST /sessions/{id}/join
// Returns the participant, a ticket for the WebSocket stream and the
// participant's current view
func (h *SessionHandler) JoinSession(w http.ResponseWriter, r *http.Request) {
	var req models.JoinSessionRequest
	if r.ContentLength != 0 {
		if err := middleware.ParseJSONBody(r, &req); err != nil {
			middleware.WriteError(w, err)
			return
		}
	}
	userID, err := sameUser(r, req.UserID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	sessionID := r.PathValue("id")
	p, session, err := h.coord.Join(r.Context(), sessionID, userID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	ticket, err := auth.IssueTicket(userID, sessionID, p.ID, h.cfg.TicketSecret, h.cfg.Limits.TicketTTL, time.Now())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	view, err := h.coord.View(r.Context(), sessionID, userID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.JoinSessionResponse{
		Success:     true,
		Session:     session,
		Participant: p,
		Ticket:      ticket,
		View:        view,
	})
}

// LeaveSession handles POST /sessions/{id}/leave
func (h *SessionHandler) LeaveSession(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.Leave(r.Context(), r.PathValue("id"), middleware.UserID(r)); err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, map[string]bool{"success": true})
}

// UpdateStatus handles PUT /sessions/{id}/status (facilitator only)
func (h *SessionHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateStatusRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	session, err := h.coord.UpdateSessionStatus(r.Context(), r.PathValue("id"), middleware.UserID(r), req.Status)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, session)
}

// ArchiveSession handles DELETE /sessions/{id} (facilitator only)
func (h *SessionHandler) ArchiveSession(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.ArchiveSession(r.Context(), r.PathValue("id"), middleware.UserID(r)); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListParticipants handles GET /sessions/{id}/participants
func (h *SessionHandler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	resp, err := h.coord.ListParticipants(r.Context(), r.PathValue("id"), middleware.UserID(r))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, resp)
}

// ExcludeParticipant handles POST /sessions/{id}/participants/{pid}/exclude (facilitator only)
func (h *SessionHandler) ExcludeParticipant(w http.ResponseWriter, r *http.Request) {
	p, err := h.coord.ExcludeParticipant(r.Context(), r.PathValue("id"), r.PathValue("pid"), middleware.UserID(r))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, p)
}

// GetView handles GET /sessions/{id}/view
func (h *SessionHandler) GetView(w http.ResponseWriter, r *http.Request) {
	view, err := h.coord.View(r.Context(), r.PathValue("id"), middleware.UserID(r))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, view)
}
