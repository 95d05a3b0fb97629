// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package middleware

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/rs/cors"

	"github.com/danielhkuo/censeo/auth"
	"github.com/danielhkuo/censeo/models"
)

// Identity headers sent with every authenticated request
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserToken = "X-User-Token"
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack lets WebSocket upgrades through the logging wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// WithLogging wraps a handler with request logging
func WithLogging(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		slog.Info("request started",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", GetClientIP(r),
		)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)

		slog.Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

type userKey struct{}

// WithUser rejects requests whose identity headers do not carry a valid
// user token and stores the user ID for UserID.
func WithUser(salt string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
		token := strings.TrimSpace(r.Header.Get(HeaderUserToken))
		if userID == "" || token == "" {
			WriteError(w, models.Newf(models.ErrPermission, "%s and %s headers are required", HeaderUserID, HeaderUserToken))
			return
		}
		if err := auth.ValidateUserToken(userID, token, salt); err != nil {
			WriteError(w, models.Newf(models.ErrPermission, "invalid user token"))
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey{}, userID)))
	}
}

// UserID returns the caller authenticated by WithUser.
func UserID(r *http.Request) string {
	id, _ := r.Context().Value(userKey{}).(string)
	return id
}

// JSONResponse writes a JSON response
func JSONResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	err := json.NewEncoder(w).Encode(data)
	if err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// ErrorResponse writes a JSON error response
func ErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	JSONResponse(w, statusCode, models.ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	})
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation),
		errors.Is(err, models.ErrInvalidValue),
		errors.Is(err, models.ErrInvalidTransition):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrPermission):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrConfidentiality):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrIncompleteVoting),
		errors.Is(err, models.ErrImmutableRecord),
		errors.Is(err, models.ErrLimitExceeded):
		return http.StatusConflict
	case errors.Is(err, models.ErrSessionGone):
		return http.StatusGone
	}
	return http.StatusInternalServerError
}

// WriteError writes err as a JSON error body. Errors that are not a
// models.Error are logged and reported without their message.
func WriteError(w http.ResponseWriter, err error) {
	var merr *models.Error
	if !errors.As(err, &merr) {
		slog.Error("internal error", "error", err)
		ErrorResponse(w, http.StatusInternalServerError, "internal server error")
		return
	}
	status := StatusFor(merr)
	JSONResponse(w, status, models.ErrorResponse{
		Error:   http.StatusText(status),
		Code:    merr.Code,
		Message: merr.Message,
		Details: merr.Details,
	})
}

// ParseJSONBody parses the request body into the given struct
func ParseJSONBody(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return models.Newf(models.ErrValidation, "invalid JSON body: %v", err)
	}
	return nil
}

// CORS allows browser clients from the given origins. Credentials are only
// allowed when the origins are listed explicitly.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", HeaderUserID, HeaderUserToken},
		AllowCredentials: !slices.Contains(origins, "*"),
	})
	return c.Handler
}

// GetClientIP extracts the client IP address
// Checks X-Forwarded-For, X-Real-IP, then falls back to RemoteAddr
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
