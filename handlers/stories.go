// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"

	"github.com/danielhkuo/censeo/coordinator"
	"github.com/danielhkuo/censeo/middleware"
	"github.com/danielhkuo/censeo/models"
)

type StoryHandler struct {
	coord *coordinator.Coordinator
}

func NewStoryHandler(coord *coordinator.Coordinator) *StoryHandler {
	return &StoryHandler{coord: coord}
}

// AddStory handles POST /sessions/{id}/stories (facilitator only)
func (h *StoryHandler) AddStory(w http.ResponseWriter, r *http.Request) {
	var req models.AddStoryRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	story, err := h.coord.AddStory(r.Context(), r.PathValue("id"), middleware.UserID(r), req.Title, req.Description)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusCreated, story)
}

// ListStories handles GET /sessions/{id}/stories
func (h *StoryHandler) ListStories(w http.ResponseWriter, r *http.Request) {
	list, err := h.coord.ListStories(r.Context(), r.PathValue("id"), middleware.UserID(r))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, models.ListStoriesResponse{Stories: list, Count: len(list)})
}

// NextStory handles GET /sessions/{id}/stories/next
// 204 when the queue has no pending story
func (h *StoryHandler) NextStory(w http.ResponseWriter, r *http.Request) {
	story, err := h.coord.NextStory(r.Context(), r.PathValue("id"), middleware.UserID(r))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if story == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, story)
}

// GetStory handles GET /stories/{id}
func (h *StoryHandler) GetStory(w http.ResponseWriter, r *http.Request) {
	story, err := h.coord.GetStory(r.Context(), r.PathValue("id"), middleware.UserID(r))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, story)
}

// UpdateStory handles PATCH /stories/{id} (facilitator only, pending stories)
func (h *StoryHandler) UpdateStory(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateStoryRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	story, err := h.coord.UpdateStory(r.Context(), r.PathValue("id"), middleware.UserID(r), req.Title, req.Description)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, story)
}

// DeleteStory handles DELETE /stories/{id} (facilitator only, pending stories)
func (h *StoryHandler) DeleteStory(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.DeleteStory(r.Context(), r.PathValue("id"), middleware.UserID(r)); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MoveStory handles PUT /stories/{id}/order
// Returns the reordered queue
func (h *StoryHandler) MoveStory(w http.ResponseWriter, r *http.Request) {
	var req models.MoveStoryRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	list, err := h.coord.MoveStory(r.Context(), r.PathValue("id"), middleware.UserID(r), req.Position)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, models.ListStoriesResponse{Stories: list, Count: len(list)})
}

// UpdateStatus handles PUT /stories/{id}/status
// voting starts the vote, completed reveals it
func (h *StoryHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateStatusRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	story, err := h.coord.SetStoryStatus(r.Context(), r.PathValue("id"), middleware.UserID(r), req.Status)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, models.StoryStatusResponse{ID: story.ID, Status: story.Status})
}
