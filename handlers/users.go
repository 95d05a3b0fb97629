// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/danielhkuo/censeo/auth"
	"github.com/danielhkuo/censeo/cliparse"
	"github.com/danielhkuo/censeo/db"
	"github.com/danielhkuo/censeo/middleware"
	"github.com/danielhkuo/censeo/models"
	"github.com/danielhkuo/censeo/users"
)

type UserHandler struct {
	db  *db.DB
	cfg cliparse.Config
}

func NewUserHandler(database *db.DB, cfg cliparse.Config) *UserHandler {
	return &UserHandler{db: database, cfg: cfg}
}

// Register handles POST /users
// Finds or creates the user by email and returns their user token
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.CreateUserRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	user, created, err := users.Register(r.Context(), h.db, req.Name, req.Email, time.Now())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	slog.Info("user registered", "user_id", user.ID, "new", created)

	middleware.JSONResponse(w, http.StatusOK, models.CreateUserResponse{
		UserID:    user.ID,
		Name:      user.Name,
		Email:     user.Email,
		UserToken: auth.GenerateUserToken(user.ID, h.cfg.UserTokenSalt),
	})
}

// Me handles GET /users/me
// Confirms the user token and returns who it belongs to
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := users.Get(r.Context(), h.db, middleware.UserID(r))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, models.AuthStatusResponse{Authenticated: true, User: user})
}

// sameUser rejects a user ID in the body that is not the authenticated
// caller. An empty body ID means the caller.
func sameUser(r *http.Request, bodyID string) (string, error) {
	userID := middleware.UserID(r)
	if bodyID != "" && bodyID != userID {
		return "", models.Newf(models.ErrPermission, "user_id does not match the authenticated user")
	}
	return userID, nil
}
