// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package router

import (
	"net/http"

	"github.com/danielhkuo/censeo/broadcast"
	"github.com/danielhkuo/censeo/cliparse"
	"github.com/danielhkuo/censeo/coordinator"
	"github.com/danielhkuo/censeo/db"
	"github.com/danielhkuo/censeo/handlers"
	"github.com/danielhkuo/censeo/middleware"
)

func NewRouter(database *db.DB, cfg cliparse.Config, hub *broadcast.Hub, events *broadcast.EventStore, coord *coordinator.Coordinator) http.Handler {
	mux := http.NewServeMux()

	// Initialize handlers
	userHandler := handlers.NewUserHandler(database, cfg)
	sessionHandler := handlers.NewSessionHandler(coord, cfg)
	storyHandler := handlers.NewStoryHandler(coord)
	votingHandler := handlers.NewVotingHandler(coord)
	streamHandler := handlers.NewStreamHandler(coord, hub, events, cfg)

	// Authenticated routes
	auth := func(h http.HandlerFunc) http.HandlerFunc {
		return middleware.WithLogging(middleware.WithUser(cfg.UserTokenSalt, h))
	}

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Identity
	mux.HandleFunc("POST /users", middleware.WithLogging(userHandler.Register))
	mux.HandleFunc("GET /users/me", auth(userHandler.Me))

	// Sessions
	mux.HandleFunc("POST /sessions", auth(sessionHandler.CreateSession))
	mux.HandleFunc("GET /sessions", auth(sessionHandler.ListSessions))
	mux.HandleFunc("GET /sessions/{id}", auth(sessionHandler.GetSession))
	mux.HandleFunc("PUT /sessions/{id}/status", auth(sessionHandler.UpdateStatus))
	mux.HandleFunc("DELETE /sessions/{id}", auth(sessionHandler.ArchiveSession))
	mux.HandleFunc("POST /sessions/{id}/join", auth(sessionHandler.JoinSession))
	mux.HandleFunc("POST /sessions/{id}/leave", auth(sessionHandler.LeaveSession))
	mux.HandleFunc("GET /sessions/{id}/participants", auth(sessionHandler.ListParticipants))
	mux.HandleFunc("POST /sessions/{id}/participants/{pid}/exclude", auth(sessionHandler.ExcludeParticipant))
	mux.HandleFunc("GET /sessions/{id}/view", auth(sessionHandler.GetView))

	// Stories
	mux.HandleFunc("POST /sessions/{id}/stories", auth(storyHandler.AddStory))
	mux.HandleFunc("GET /sessions/{id}/stories", auth(storyHandler.ListStories))
	mux.HandleFunc("GET /sessions/{id}/stories/next", auth(storyHandler.NextStory))
	mux.HandleFunc("GET /stories/{id}", auth(storyHandler.GetStory))
	mux.HandleFunc("PATCH /stories/{id}", auth(storyHandler.UpdateStory))
	mux.HandleFunc("DELETE /stories/{id}", auth(storyHandler.DeleteStory))
	mux.HandleFunc("PUT /stories/{id}/order", auth(storyHandler.MoveStory))
	mux.HandleFunc("PUT /stories/{id}/status", auth(storyHandler.UpdateStatus))

	// Voting
	mux.HandleFunc("POST /stories/{id}/votes", auth(votingHandler.CastVote))
	mux.HandleFunc("GET /stories/{id}/votes", auth(votingHandler.GetVotes))
	mux.HandleFunc("POST /stories/{id}/reveal", auth(votingHandler.Reveal))
	mux.HandleFunc("POST /stories/{id}/late-vote", auth(votingHandler.LateVote))

	// Real-time stream, authenticated by ticket
	mux.HandleFunc("GET /sessions/{id}/ws", middleware.WithLogging(streamHandler.Stream))

	// Root endpoint
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("censeo API v1"))
	})

	return middleware.CORS(cfg.Limits.CORSAllowedOrigins)(mux)
}
