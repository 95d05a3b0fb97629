// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package middleware provides HTTP middleware and helper functions.

# Request Logging

Wrap handlers with request logging:

	mux.HandleFunc("GET /health", middleware.WithLogging(handler))

Logs request start (method, path, remote) and completion (status, duration_ms).

# Identity

WithUser checks the X-User-ID and X-User-Token headers and makes the caller
available to the handler:

	mux.HandleFunc("GET /sessions", middleware.WithLogging(middleware.WithUser(salt, h.ListSessions)))

	userID := middleware.UserID(r)

# CORS

	handler := middleware.CORS(cfg.Limits.CORSAllowedOrigins)(mux)

# JSON Helpers

	middleware.JSONResponse(w, http.StatusOK, data)
	middleware.WriteError(w, err)

WriteError maps models.Error kinds to status codes and writes
{error, code, message, details}. Any other error becomes a 500 with a generic
message and is logged.
*/
package middleware
