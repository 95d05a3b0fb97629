// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danielhkuo/censeo/cliparse"
	"github.com/danielhkuo/censeo/coordinator"
	"github.com/danielhkuo/censeo/db"
	"github.com/danielhkuo/censeo/middleware"
	"github.com/danielhkuo/censeo/models"
	"github.com/danielhkuo/censeo/testutil"
)

type testEnv struct {
	db       *db.DB
	cfg      cliparse.Config
	coord    *coordinator.Coordinator
	users    *UserHandler
	sessions *SessionHandler
	stories  *StoryHandler
	voting   *VotingHandler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	d := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	coord := coordinator.New(d, cfg.Limits)
	coord.SetClock(tickingClock(time.Now()))
	return &testEnv{
		db:       d,
		cfg:      cfg,
		coord:    coord,
		users:    NewUserHandler(d, cfg),
		sessions: NewSessionHandler(coord, cfg),
		stories:  NewStoryHandler(coord),
		voting:   NewVotingHandler(coord),
	}
}

// tickingClock advances a millisecond per read so join order never ties.
func tickingClock(start time.Time) func() time.Time {
	var ticks atomic.Int64
	return func() time.Time {
		return start.Add(time.Duration(ticks.Add(1)) * time.Millisecond)
	}
}

// call runs h behind the identity middleware as user. A nil user sends no
// identity headers. params are path value pairs.
func (e *testEnv) call(h http.HandlerFunc, method, path string, body any, user *models.User, params ...string) *httptest.ResponseRecorder {
	var headers map[string]string
	if user != nil {
		headers = testutil.AuthHeaders(e.cfg, *user)
	}
	req := testutil.MakeRequest(method, path, body, headers)
	for i := 0; i+1 < len(params); i += 2 {
		req.SetPathValue(params[i], params[i+1])
	}
	w := httptest.NewRecorder()
	middleware.WithUser(e.cfg.UserTokenSalt, h)(w, req)
	return w
}

// team is a session run by alice with bob and carol joined.
type team struct {
	session models.Session
	alice   models.User
	bob     models.User
	carol   models.User
	bobP    models.Participant
	carolP  models.Participant
}

func (e *testEnv) newTeam(t *testing.T) team {
	t.Helper()
	ctx := context.Background()

	tm := team{
		alice: testutil.CreateTestUser(t, e.db, "Alice"),
		bob:   testutil.CreateTestUser(t, e.db, "Bob"),
		carol: testutil.CreateTestUser(t, e.db, "Carol"),
	}
	var err error
	if tm.session, err = e.coord.CreateSession(ctx, "Sprint 12", tm.alice.ID); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if tm.bobP, _, err = e.coord.Join(ctx, tm.session.ID, tm.bob.ID); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if tm.carolP, _, err = e.coord.Join(ctx, tm.session.ID, tm.carol.ID); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	return tm
}

func (e *testEnv) addStory(t *testing.T, tm team, title string, voting bool) models.Story {
	t.Helper()
	ctx := context.Background()
	story, err := e.coord.AddStory(ctx, tm.session.ID, tm.alice.ID, title, "")
	if err != nil {
		t.Fatalf("AddStory failed: %v", err)
	}
	if voting {
		if story, err = e.coord.StartVoting(ctx, story.ID, tm.alice.ID); err != nil {
			t.Fatalf("StartVoting failed: %v", err)
		}
	}
	return story
}

func assertCode(t *testing.T, w *httptest.ResponseRecorder, code string) {
	t.Helper()
	var resp models.ErrorResponse
	testutil.AssertJSON(t, w, &resp)
	if resp.Code != code {
		t.Errorf("Expected error code %s, got %s (%s)", code, resp.Code, resp.Message)
	}
}
