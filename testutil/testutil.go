// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/danielhkuo/censeo/auth"
	"github.com/danielhkuo/censeo/cliparse"
	"github.com/danielhkuo/censeo/db"
	"github.com/danielhkuo/censeo/models"
)

// SetupTestDB opens a private in-memory SQLite database with the full schema.
// The database is closed when the test ends.
func SetupTestDB(t *testing.T) *db.DB {
	t.Helper()

	database, err := db.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := db.CreateSchema(context.Background(), database); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	return database
}

// GetTestConfig returns a standard test configuration
func GetTestConfig() cliparse.Config {
	return cliparse.Config{
		Port:          3318,
		DatabaseURL:   ":memory:",
		DatabaseType:  "sqlite",
		UserTokenSalt: "test-token-salt",
		TicketSecret:  "test-ticket-secret",
		Limits:        cliparse.DefaultLimits(),
	}
}

// CreateTestUser inserts a user and returns it
func CreateTestUser(t *testing.T, d *db.DB, name string) models.User {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Millisecond)
	user := models.User{
		ID:         uuid.NewString(),
		Name:       name,
		Email:      name + "-" + uuid.NewString()[:8] + "@example.com",
		CreatedAt:  now,
		LastActive: now,
	}
	_, err := d.ExecContext(context.Background(), `
		INSERT INTO users (id, name, email, created_at, last_active)
		VALUES (?, ?, ?, ?, ?)
	`, user.ID, user.Name, user.Email, db.Millis(now), db.Millis(now))
	if err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}

	return user
}

// CreateTestSession creates an active session with the facilitator already
// joined as a participant
func CreateTestSession(t *testing.T, d *db.DB, facilitator models.User, name string) (models.Session, models.Participant) {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Millisecond)
	session := models.Session{
		ID:            uuid.NewString(),
		Name:          name,
		FacilitatorID: facilitator.ID,
		Status:        models.SessionActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err := d.ExecContext(context.Background(), `
		INSERT INTO sessions (id, name, facilitator_id, status, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
	`, session.ID, session.Name, session.FacilitatorID, session.Status, db.Millis(now), db.Millis(now))
	if err != nil {
		t.Fatalf("Failed to create test session: %v", err)
	}

	p := AddTestParticipant(t, d, session.ID, facilitator, models.RoleFacilitator)
	return session, p
}

// AddTestParticipant joins a user to a session as a connected participant
func AddTestParticipant(t *testing.T, d *db.DB, sessionID string, user models.User, role models.Role) models.Participant {
	t.Helper()

	// Keep join order stable for tests that depend on it
	time.Sleep(2 * time.Millisecond)
	now := time.Now().UTC().Truncate(time.Millisecond)
	p := models.Participant{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		UserID:      user.ID,
		DisplayName: user.Name,
		Role:        role,
		State:       models.StateConnected,
		LastSeen:    now,
		JoinedAt:    now,
	}
	_, err := d.ExecContext(context.Background(), `
		INSERT INTO participants (id, session_id, user_id, display_name, role, state, has_left, last_seen, joined_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.SessionID, p.UserID, p.DisplayName, p.Role, p.State, false, db.Millis(now), db.Millis(now))
	if err != nil {
		t.Fatalf("Failed to add test participant: %v", err)
	}

	return p
}

// AddTestStory appends a story with the given status
func AddTestStory(t *testing.T, d *db.DB, sessionID, title string, order int, status models.StoryStatus) models.Story {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Millisecond)
	story := models.Story{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Title:     title,
		Order:     order,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := d.ExecContext(context.Background(), `
		INSERT INTO stories (id, session_id, title, description, story_order, status, created_at, updated_at)
		VALUES (?, ?, ?, '', ?, ?, ?, ?)
	`, story.ID, story.SessionID, story.Title, story.Order, story.Status, db.Millis(now), db.Millis(now))
	if err != nil {
		t.Fatalf("Failed to add test story: %v", err)
	}

	return story
}

// AuthHeaders returns the identity headers for a user
func AuthHeaders(cfg cliparse.Config, user models.User) map[string]string {
	return map[string]string{
		"X-User-ID":    user.ID,
		"X-User-Token": auth.GenerateUserToken(user.ID, cfg.UserTokenSalt),
	}
}

// MakeRequest creates an HTTP test request
func MakeRequest(method, path string, body interface{}, headers map[string]string) *http.Request {
	var req *http.Request
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(jsonBody))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return req
}

// AssertStatus checks that the response has the expected status code
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Errorf("Expected status %d, got %d. Body: %s", expected, w.Code, w.Body.String())
	}
}

// AssertJSON decodes the response body into the provided struct
func AssertJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode JSON response: %v", err)
	}
}
