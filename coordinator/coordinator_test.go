// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package coordinator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danielhkuo/censeo/broadcast"
	"github.com/danielhkuo/censeo/cliparse"
	"github.com/danielhkuo/censeo/db"
	"github.com/danielhkuo/censeo/models"
	"github.com/danielhkuo/censeo/participants"
	"github.com/danielhkuo/censeo/testutil"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Every reading moves a little so join order stays deterministic
	f.t = f.t.Add(time.Millisecond)
	return f.t
}

func (f *fakeClock) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

type fixture struct {
	c       *Coordinator
	db      *db.DB
	clock   *fakeClock
	session models.Session
	alice   models.User // facilitator
	bob     models.User
	carol   models.User
	bobP    models.Participant
	carolP  models.Participant
}

func newCoordinator(t *testing.T, limits cliparse.Limits) (*Coordinator, *db.DB, *fakeClock) {
	t.Helper()
	d := testutil.SetupTestDB(t)
	c := New(d, limits)
	clock := &fakeClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	c.SetClock(clock.now)
	return c, d, clock
}

// newFixture creates a session run by alice with bob and carol joined.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	c, d, clock := newCoordinator(t, cliparse.DefaultLimits())
	ctx := context.Background()

	f := &fixture{c: c, db: d, clock: clock}
	f.alice = testutil.CreateTestUser(t, d, "alice")
	f.bob = testutil.CreateTestUser(t, d, "bob")
	f.carol = testutil.CreateTestUser(t, d, "carol")

	var err error
	f.session, err = c.CreateSession(ctx, "Sprint 12", f.alice.ID)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if f.bobP, _, err = c.Join(ctx, f.session.ID, f.bob.ID); err != nil {
		t.Fatalf("Join(bob) failed: %v", err)
	}
	if f.carolP, _, err = c.Join(ctx, f.session.ID, f.carol.ID); err != nil {
		t.Fatalf("Join(carol) failed: %v", err)
	}
	return f
}

func (f *fixture) votingStory(t *testing.T, title string) models.Story {
	t.Helper()
	ctx := context.Background()
	story, err := f.c.AddStory(ctx, f.session.ID, f.alice.ID, title, "")
	if err != nil {
		t.Fatalf("AddStory failed: %v", err)
	}
	if _, err := f.c.StartVoting(ctx, story.ID, f.alice.ID); err != nil {
		t.Fatalf("StartVoting failed: %v", err)
	}
	return story
}

func (f *fixture) vote(t *testing.T, storyID string, user models.User, points string) models.VoteAck {
	t.Helper()
	ack, err := f.c.CastVote(context.Background(), storyID, user.ID, points)
	if err != nil {
		t.Fatalf("CastVote(%s, %s) failed: %v", user.Name, points, err)
	}
	return ack
}

func assertKind(t *testing.T, err, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("Expected %v, got %v", kind, err)
	}
}

func TestFibonacciScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	story := f.votingStory(t, "Login page")

	f.vote(t, story.ID, f.bob, "5")
	f.vote(t, story.ID, f.carol, "8")

	_, err := f.c.RevealVotes(ctx, story.ID, f.alice.ID, false)
	assertKind(t, err, models.ErrIncompleteVoting)

	var merr *models.Error
	if errors.As(err, &merr) {
		missing, _ := merr.Details["missing"].([]string)
		if len(missing) != 1 {
			t.Errorf("Expected the facilitator to be the only missing vote, got %v", missing)
		}
	}

	f.vote(t, story.ID, f.alice, "5")

	result, err := f.c.RevealVotes(ctx, story.ID, f.alice.ID, false)
	if err != nil {
		t.Fatalf("RevealVotes failed: %v", err)
	}

	want := []struct {
		user   string
		points models.Points
	}{{"alice", "5"}, {"bob", "5"}, {"carol", "8"}}
	if len(result.Votes) != len(want) {
		t.Fatalf("Expected %d votes, got %+v", len(want), result.Votes)
	}
	for i, w := range want {
		if result.Votes[i].User != w.user || result.Votes[i].Points != w.points {
			t.Errorf("vote %d: expected %s=%s, got %s=%s", i, w.user, w.points, result.Votes[i].User, result.Votes[i].Points)
		}
	}
	if result.Average == nil || *result.Average != 6 {
		t.Errorf("Expected average 6, got %v", result.Average)
	}
	if result.Consensus {
		t.Error("Expected no consensus")
	}
	if result.FinalPoints == nil || *result.FinalPoints != "8" {
		t.Errorf("Expected final points 8, got %v", result.FinalPoints)
	}

	stored, _ := f.c.GetStory(ctx, story.ID, f.bob.ID)
	if stored.Status != models.StoryCompleted {
		t.Errorf("Expected completed story, got %s", stored.Status)
	}
}

func TestRevealIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	story := f.votingStory(t, "Login page")

	for _, u := range []models.User{f.alice, f.bob, f.carol} {
		f.vote(t, story.ID, u, "3")
	}

	first, err := f.c.RevealVotes(ctx, story.ID, f.alice.ID, false)
	if err != nil {
		t.Fatalf("RevealVotes failed: %v", err)
	}
	if !first.Consensus || first.FinalPoints == nil || *first.FinalPoints != "3" {
		t.Errorf("Expected consensus on 3, got %+v", first)
	}

	events, _ := broadcast.NewEventStore(f.db).Since(ctx, f.session.ID, 0, 1000)
	before := len(events)

	second, err := f.c.RevealVotes(ctx, story.ID, f.alice.ID, false)
	if err != nil {
		t.Fatalf("second RevealVotes failed: %v", err)
	}
	if second.InputsHash != first.InputsHash || *second.Average != *first.Average ||
		len(second.Votes) != len(first.Votes) || !second.RevealedAt.Equal(first.RevealedAt) {
		t.Errorf("Expected identical results, got %+v and %+v", first, second)
	}

	events, _ = broadcast.NewEventStore(f.db).Since(ctx, f.session.ID, 0, 1000)
	if len(events) != before {
		t.Errorf("Expected no new events on a repeated reveal, got %d more", len(events)-before)
	}
}

func TestGraceTimeoutReveal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	story := f.votingStory(t, "Login page")

	f.vote(t, story.ID, f.alice, "5")
	f.vote(t, story.ID, f.carol, "8")
	if err := f.c.MarkDisconnected(ctx, f.session.ID, f.bobP.ID); err != nil {
		t.Fatalf("MarkDisconnected failed: %v", err)
	}

	// Within the grace window bob is still waited for
	_, err := f.c.RevealVotes(ctx, story.ID, f.alice.ID, false)
	assertKind(t, err, models.ErrIncompleteVoting)

	f.clock.advance(61 * time.Second)

	result, err := f.c.RevealVotes(ctx, story.ID, f.alice.ID, false)
	if err != nil {
		t.Fatalf("RevealVotes after grace failed: %v", err)
	}
	if len(result.Votes) != 2 {
		t.Errorf("Expected 2 votes, got %d", len(result.Votes))
	}

	// Bob is timed out of quorum, not removed from the session
	list, err := f.c.ListParticipants(ctx, f.session.ID, f.alice.ID)
	if err != nil {
		t.Fatalf("ListParticipants failed: %v", err)
	}
	if list.Count != 3 {
		t.Errorf("Expected 3 participants, got %d", list.Count)
	}
	for _, p := range list.Participants {
		if p.ID == f.bobP.ID && p.InQuorum {
			t.Error("Expected bob out of quorum")
		}
	}
}

func TestMarkDisconnectedIf(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	store := broadcast.NewEventStore(f.db)
	before, _ := store.Since(ctx, f.session.ID, 0, 1000)

	err := f.c.MarkDisconnectedIf(ctx, f.session.ID, f.bobP.ID, func() bool { return false })
	if err != nil {
		t.Fatalf("MarkDisconnectedIf failed: %v", err)
	}
	p, _ := participants.Get(ctx, f.db, f.bobP.ID)
	if p.State != models.StateConnected {
		t.Errorf("Expected bob still connected, got %s", p.State)
	}
	after, _ := store.Since(ctx, f.session.ID, 0, 1000)
	if len(after) != len(before) {
		t.Errorf("Expected no event when the guard refuses, got %d more", len(after)-len(before))
	}

	err = f.c.MarkDisconnectedIf(ctx, f.session.ID, f.bobP.ID, func() bool { return true })
	if err != nil {
		t.Fatalf("MarkDisconnectedIf failed: %v", err)
	}
	p, _ = participants.Get(ctx, f.db, f.bobP.ID)
	if p.State != models.StateDisconnected {
		t.Errorf("Expected bob disconnected, got %s", p.State)
	}
}

func TestLateVoteAfterMissedReveal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	story := f.votingStory(t, "Login page")

	f.vote(t, story.ID, f.alice, "5")
	f.vote(t, story.ID, f.carol, "8")
	f.c.MarkDisconnected(ctx, f.session.ID, f.bobP.ID)

	revealed, err := f.c.RevealVotes(ctx, story.ID, f.alice.ID, true)
	if err != nil {
		t.Fatalf("forced RevealVotes failed: %v", err)
	}
	if !revealed.Forced {
		t.Error("Expected forced flag on the result")
	}

	view, err := f.c.Reconnect(ctx, f.session.ID, f.bobP.ID)
	if err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}
	if view.Mode != models.ViewLateVote || view.Result != nil {
		t.Fatalf("Expected late vote without results, got mode=%s result=%v", view.Mode, view.Result)
	}
	if view.Story == nil || view.Story.ID != story.ID {
		t.Errorf("Expected late vote on %s, got %+v", story.ID, view.Story)
	}

	_, err = f.c.Votes(ctx, story.ID, f.bob.ID)
	assertKind(t, err, models.ErrConfidentiality)

	_, err = f.c.ResolveLateVote(ctx, story.ID, f.bob.ID, "4", false)
	assertKind(t, err, models.ErrInvalidValue)

	result, err := f.c.ResolveLateVote(ctx, story.ID, f.bob.ID, "13", false)
	if err != nil {
		t.Fatalf("ResolveLateVote failed: %v", err)
	}
	if result.InputsHash != revealed.InputsHash || len(result.Votes) != 2 {
		t.Errorf("Expected the original result to stand, got %+v", result)
	}

	view, err = f.c.View(ctx, f.session.ID, f.bob.ID)
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	if view.Mode != models.ViewResults || view.Result == nil {
		t.Errorf("Expected results after the late vote, got mode=%s", view.Mode)
	}

	_, err = f.c.ResolveLateVote(ctx, story.ID, f.bob.ID, "", true)
	assertKind(t, err, models.ErrInvalidTransition)
}

func TestLateVoterCannotSeeOutcome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	story := f.votingStory(t, "Login page")

	f.vote(t, story.ID, f.alice, "8")
	f.vote(t, story.ID, f.carol, "8")
	f.c.MarkDisconnected(ctx, f.session.ID, f.bobP.ID)
	if _, err := f.c.RevealVotes(ctx, story.ID, f.alice.ID, true); err != nil {
		t.Fatalf("forced RevealVotes failed: %v", err)
	}

	sealed := func(where string, s models.Story) {
		t.Helper()
		if s.FinalPoints != nil || s.RevealedAt != nil {
			t.Errorf("%s: expected outcome hidden from bob, got final_points=%v revealed_at=%v", where, s.FinalPoints, s.RevealedAt)
		}
	}

	seen, err := f.c.GetStory(ctx, story.ID, f.alice.ID)
	if err != nil {
		t.Fatalf("GetStory(alice) failed: %v", err)
	}
	if seen.FinalPoints == nil || *seen.FinalPoints != "8" || seen.RevealedAt == nil {
		t.Fatalf("Expected alice to see the outcome, got %+v", seen)
	}

	view, err := f.c.Reconnect(ctx, f.session.ID, f.bobP.ID)
	if err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}
	if view.Mode != models.ViewLateVote || view.Story == nil {
		t.Fatalf("Expected a late vote view, got %s", view.Mode)
	}
	sealed("view", *view.Story)

	got, err := f.c.GetStory(ctx, story.ID, f.bob.ID)
	if err != nil {
		t.Fatalf("GetStory failed: %v", err)
	}
	sealed("GetStory", got)

	queue, err := f.c.ListStories(ctx, f.session.ID, f.bob.ID)
	if err != nil {
		t.Fatalf("ListStories failed: %v", err)
	}
	sealed("ListStories", queue[0])

	detail, err := f.c.GetSession(ctx, f.session.ID, f.bob.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	sealed("GetSession", detail.Stories[0])

	if _, err := f.c.ResolveLateVote(ctx, story.ID, f.bob.ID, "5", false); err != nil {
		t.Fatalf("ResolveLateVote failed: %v", err)
	}
	got, err = f.c.GetStory(ctx, story.ID, f.bob.ID)
	if err != nil {
		t.Fatalf("GetStory after late vote failed: %v", err)
	}
	if got.FinalPoints == nil || *got.FinalPoints != "8" {
		t.Errorf("Expected the outcome once the late vote is in, got %+v", got.FinalPoints)
	}
}

func TestAtMostOneVotingStory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.votingStory(t, "First")

	second, err := f.c.AddStory(ctx, f.session.ID, f.alice.ID, "Second", "")
	if err != nil {
		t.Fatalf("AddStory failed: %v", err)
	}
	_, err = f.c.StartVoting(ctx, second.ID, f.alice.ID)
	assertKind(t, err, models.ErrInvalidTransition)

	var voting int
	f.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stories WHERE session_id = ? AND status = ?`,
		f.session.ID, models.StoryVoting).Scan(&voting)
	if voting != 1 {
		t.Errorf("Expected exactly one voting story, got %d", voting)
	}
}

func TestVotesStayHiddenUntilReveal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	story := f.votingStory(t, "Login page")

	f.vote(t, story.ID, f.bob, "5")
	f.vote(t, story.ID, f.carol, "8")

	view, err := f.c.Votes(ctx, story.ID, f.bob.ID)
	if err != nil {
		t.Fatalf("Votes failed: %v", err)
	}
	if view.Revealed || len(view.Votes) != 0 {
		t.Errorf("Expected no vote values before reveal, got %+v", view.Votes)
	}
	if view.VotesCount != 2 || view.TotalParticipants == nil || *view.TotalParticipants != 3 {
		t.Errorf("Expected 2 of 3, got %d of %v", view.VotesCount, view.TotalParticipants)
	}
	if view.MyPoints == nil || *view.MyPoints != "5" {
		t.Errorf("Expected own vote 5, got %v", view.MyPoints)
	}

	// Nothing in the event log carries a vote value
	events, _ := broadcast.NewEventStore(f.db).Since(ctx, f.session.ID, 0, 1000)
	for _, ev := range events {
		if ev.Type == models.EventVoteSubmitted && strings.Contains(string(ev.Payload), "points") {
			t.Errorf("vote event leaks points: %s", ev.Payload)
		}
	}
}

func TestRevoteKeepsOneVote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	story := f.votingStory(t, "Login page")

	first := f.vote(t, story.ID, f.bob, "3")
	second := f.vote(t, story.ID, f.bob, "5")

	if first.Changed || !second.Changed {
		t.Errorf("Expected changed=false then true, got %v then %v", first.Changed, second.Changed)
	}
	if first.ID != second.ID || second.VotesCount != 1 {
		t.Errorf("Expected one stored vote, got id %s/%s count %d", first.ID, second.ID, second.VotesCount)
	}

	view, _ := f.c.Votes(ctx, story.ID, f.bob.ID)
	if view.MyPoints == nil || *view.MyPoints != "5" {
		t.Errorf("Expected latest value 5, got %v", view.MyPoints)
	}

	events, _ := broadcast.NewEventStore(f.db).Since(ctx, f.session.ID, 0, 1000)
	last := events[len(events)-1]
	if last.Type != models.EventVoteChanged {
		t.Errorf("Expected vote_changed event, got %s", last.Type)
	}
}

func TestExcludedLeaveQuorum(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	story := f.votingStory(t, "Login page")

	f.vote(t, story.ID, f.alice, "5")
	f.vote(t, story.ID, f.carol, "8")

	_, err := f.c.ExcludeParticipant(ctx, f.session.ID, f.bobP.ID, f.carol.ID)
	assertKind(t, err, models.ErrPermission)

	excluded, err := f.c.ExcludeParticipant(ctx, f.session.ID, f.bobP.ID, f.alice.ID)
	if err != nil {
		t.Fatalf("ExcludeParticipant failed: %v", err)
	}
	if excluded.State != models.StateExcluded {
		t.Errorf("Expected excluded state, got %s", excluded.State)
	}

	_, err = f.c.CastVote(ctx, story.ID, f.bob.ID, "5")
	assertKind(t, err, models.ErrPermission)

	if _, err := f.c.RevealVotes(ctx, story.ID, f.alice.ID, false); err != nil {
		t.Errorf("Expected reveal without the excluded participant, got %v", err)
	}

	// Reconnecting does not bring an excluded participant back
	view, err := f.c.Reconnect(ctx, f.session.ID, f.bobP.ID)
	if err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}
	if view.Participant.State != models.StateExcluded {
		t.Errorf("Expected bob to stay excluded, got %s", view.Participant.State)
	}

	facilitator, _ := f.c.GetSession(ctx, f.session.ID, f.alice.ID)
	for _, p := range facilitator.Participants {
		if p.IsFacilitator() {
			_, err := f.c.ExcludeParticipant(ctx, f.session.ID, p.ID, f.alice.ID)
			assertKind(t, err, models.ErrValidation)
		}
	}
}

func TestExcludedVotesStillCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	story := f.votingStory(t, "Login page")

	f.vote(t, story.ID, f.bob, "2")
	f.c.ExcludeParticipant(ctx, f.session.ID, f.bobP.ID, f.alice.ID)
	f.vote(t, story.ID, f.alice, "2")
	f.vote(t, story.ID, f.carol, "2")

	result, err := f.c.RevealVotes(ctx, story.ID, f.alice.ID, false)
	if err != nil {
		t.Fatalf("RevealVotes failed: %v", err)
	}
	if len(result.Votes) != 3 {
		t.Errorf("Expected the excluded vote to be kept, got %d votes", len(result.Votes))
	}
}

func TestStoryLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		if _, err := f.c.AddStory(ctx, f.session.ID, f.alice.ID, "Story", ""); err != nil {
			t.Fatalf("AddStory %d failed: %v", i+1, err)
		}
	}
	_, err := f.c.AddStory(ctx, f.session.ID, f.alice.ID, "Story 51", "")
	assertKind(t, err, models.ErrLimitExceeded)
}

func TestCastVoteValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending, _ := f.c.AddStory(ctx, f.session.ID, f.alice.ID, "Pending", "")
	voting := f.votingStory(t, "Voting")
	outsider := testutil.CreateTestUser(t, f.db, "mallory")

	tests := []struct {
		name    string
		storyID string
		user    models.User
		points  string
		want    error
	}{
		{"pending story", pending.ID, f.bob, "5", models.ErrInvalidTransition},
		{"off scale", voting.ID, f.bob, "4", models.ErrInvalidValue},
		{"empty value", voting.ID, f.bob, "", models.ErrInvalidValue},
		{"not a participant", voting.ID, outsider, "5", models.ErrPermission},
		{"unknown story", "missing", f.bob, "5", models.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.c.CastVote(ctx, tt.storyID, tt.user.ID, tt.points)
			assertKind(t, err, tt.want)
		})
	}

	// "?" is on the scale
	f.vote(t, voting.ID, f.bob, "?")
}

func TestFacilitatorOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	story := f.votingStory(t, "Login page")

	_, err := f.c.AddStory(ctx, f.session.ID, f.bob.ID, "Sneaky", "")
	assertKind(t, err, models.ErrPermission)

	_, err = f.c.RevealVotes(ctx, story.ID, f.bob.ID, true)
	assertKind(t, err, models.ErrPermission)

	_, err = f.c.UpdateSessionStatus(ctx, f.session.ID, f.bob.ID, "paused")
	assertKind(t, err, models.ErrPermission)

	err = f.c.ArchiveSession(ctx, f.session.ID, f.carol.ID)
	assertKind(t, err, models.ErrPermission)
}

func TestPausedSessionBlocksVoting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	story, _ := f.c.AddStory(ctx, f.session.ID, f.alice.ID, "Login page", "")

	_, err := f.c.UpdateSessionStatus(ctx, f.session.ID, f.alice.ID, "frozen")
	assertKind(t, err, models.ErrValidation)

	session, err := f.c.UpdateSessionStatus(ctx, f.session.ID, f.alice.ID, "paused")
	if err != nil {
		t.Fatalf("UpdateSessionStatus failed: %v", err)
	}
	if session.Status != models.SessionPaused {
		t.Errorf("Expected paused, got %s", session.Status)
	}

	_, err = f.c.StartVoting(ctx, story.ID, f.alice.ID)
	assertKind(t, err, models.ErrInvalidTransition)

	if _, err := f.c.UpdateSessionStatus(ctx, f.session.ID, f.alice.ID, "active"); err != nil {
		t.Fatalf("UpdateSessionStatus failed: %v", err)
	}
	if _, err := f.c.StartVoting(ctx, story.ID, f.alice.ID); err != nil {
		t.Errorf("Expected voting to start after resuming, got %v", err)
	}

	_, err = f.c.UpdateSessionStatus(ctx, f.session.ID, f.alice.ID, "completed")
	assertKind(t, err, models.ErrInvalidTransition)
}

func TestSetStoryStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	story, _ := f.c.AddStory(ctx, f.session.ID, f.alice.ID, "Login page", "")

	got, err := f.c.SetStoryStatus(ctx, story.ID, f.alice.ID, "pending")
	if err != nil || got.Status != models.StoryPending {
		t.Fatalf("pending no-op = %v, %v", got.Status, err)
	}

	got, err = f.c.SetStoryStatus(ctx, story.ID, f.alice.ID, "voting")
	if err != nil || got.Status != models.StoryVoting {
		t.Fatalf("voting = %v, %v", got.Status, err)
	}

	_, err = f.c.SetStoryStatus(ctx, story.ID, f.alice.ID, "completed")
	assertKind(t, err, models.ErrIncompleteVoting)

	for _, u := range []models.User{f.alice, f.bob, f.carol} {
		f.vote(t, story.ID, u, "1")
	}
	got, err = f.c.SetStoryStatus(ctx, story.ID, f.alice.ID, "completed")
	if err != nil || got.Status != models.StoryCompleted {
		t.Fatalf("completed = %v, %v", got.Status, err)
	}

	_, err = f.c.SetStoryStatus(ctx, story.ID, f.alice.ID, "pending")
	assertKind(t, err, models.ErrInvalidTransition)

	_, err = f.c.SetStoryStatus(ctx, story.ID, f.alice.ID, "done")
	assertKind(t, err, models.ErrValidation)
}

func TestStoryEdits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, _ := f.c.AddStory(ctx, f.session.ID, f.alice.ID, "A", "")
	b, _ := f.c.AddStory(ctx, f.session.ID, f.alice.ID, "B", "")

	title := "  A, renamed  "
	updated, err := f.c.UpdateStory(ctx, a.ID, f.alice.ID, &title, nil)
	if err != nil {
		t.Fatalf("UpdateStory failed: %v", err)
	}
	if updated.Title != "A, renamed" {
		t.Errorf("Expected trimmed title, got %q", updated.Title)
	}

	queue, err := f.c.MoveStory(ctx, b.ID, f.alice.ID, 1)
	if err != nil {
		t.Fatalf("MoveStory failed: %v", err)
	}
	if queue[0].ID != b.ID {
		t.Errorf("Expected B first, got %s", queue[0].Title)
	}
	next, _ := f.c.NextStory(ctx, f.session.ID, f.bob.ID)
	if next == nil || next.ID != b.ID {
		t.Errorf("Expected B to be next, got %+v", next)
	}

	if _, err := f.c.StartVoting(ctx, b.ID, f.alice.ID); err != nil {
		t.Fatalf("StartVoting failed: %v", err)
	}
	_, err = f.c.UpdateStory(ctx, b.ID, f.alice.ID, &title, nil)
	assertKind(t, err, models.ErrInvalidTransition)

	if _, err := f.c.RevealVotes(ctx, b.ID, f.alice.ID, true); err != nil {
		t.Fatalf("RevealVotes failed: %v", err)
	}
	err = f.c.DeleteStory(ctx, b.ID, f.alice.ID)
	assertKind(t, err, models.ErrImmutableRecord)

	if err := f.c.DeleteStory(ctx, a.ID, f.alice.ID); err != nil {
		t.Errorf("DeleteStory failed: %v", err)
	}
	queue, _ = f.c.ListStories(ctx, f.session.ID, f.bob.ID)
	if len(queue) != 1 {
		t.Errorf("Expected 1 story left, got %d", len(queue))
	}
}

func TestJoinAndLeave(t *testing.T) {
	limits := cliparse.DefaultLimits()
	limits.MaxTeamMembers = 2
	c, d, _ := newCoordinator(t, limits)
	ctx := context.Background()

	alice := testutil.CreateTestUser(t, d, "alice")
	bob := testutil.CreateTestUser(t, d, "bob")
	carol := testutil.CreateTestUser(t, d, "carol")
	session, err := c.CreateSession(ctx, "Sprint", alice.ID)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	first, _, err := c.Join(ctx, session.ID, bob.ID)
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	again, _, err := c.Join(ctx, session.ID, bob.ID)
	if err != nil || again.ID != first.ID {
		t.Fatalf("Expected idempotent join, got %v, %v", again.ID, err)
	}

	_, _, err = c.Join(ctx, session.ID, carol.ID)
	assertKind(t, err, models.ErrLimitExceeded)

	err = c.Leave(ctx, session.ID, alice.ID)
	assertKind(t, err, models.ErrValidation)

	if err := c.Leave(ctx, session.ID, bob.ID); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	if _, _, err := c.Join(ctx, session.ID, carol.ID); err != nil {
		t.Errorf("Expected a free seat after bob left, got %v", err)
	}

	_, _, err = c.Join(ctx, "missing", carol.ID)
	assertKind(t, err, models.ErrNotFound)
}

func TestCreateSessionLimits(t *testing.T) {
	c, d, _ := newCoordinator(t, cliparse.DefaultLimits())
	ctx := context.Background()
	alice := testutil.CreateTestUser(t, d, "alice")

	_, err := c.CreateSession(ctx, "   ", alice.ID)
	assertKind(t, err, models.ErrValidation)

	_, err = c.CreateSession(ctx, strings.Repeat("x", 201), alice.ID)
	assertKind(t, err, models.ErrValidation)

	_, err = c.CreateSession(ctx, "Sprint", "missing")
	assertKind(t, err, models.ErrNotFound)

	for i := 0; i < 5; i++ {
		if _, err := c.CreateSession(ctx, "Sprint", alice.ID); err != nil {
			t.Fatalf("CreateSession %d failed: %v", i+1, err)
		}
	}
	_, err = c.CreateSession(ctx, "Sprint 6", alice.ID)
	assertKind(t, err, models.ErrLimitExceeded)

	list, err := c.ListSessions(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(list) != 5 {
		t.Errorf("Expected 5 sessions, got %d", len(list))
	}
}

func TestArchivedSessionIsGone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.c.ArchiveSession(ctx, f.session.ID, f.alice.ID); err != nil {
		t.Fatalf("ArchiveSession failed: %v", err)
	}

	_, err := f.c.View(ctx, f.session.ID, f.bob.ID)
	assertKind(t, err, models.ErrSessionGone)

	_, err = f.c.Reconnect(ctx, f.session.ID, f.bobP.ID)
	assertKind(t, err, models.ErrSessionGone)

	_, err = f.c.AddStory(ctx, f.session.ID, f.alice.ID, "Late", "")
	assertKind(t, err, models.ErrSessionGone)

	list, _ := f.c.ListSessions(ctx, f.bob.ID)
	if len(list) != 0 {
		t.Errorf("Expected archived session to drop out of the list, got %d", len(list))
	}
}

func TestViewModes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	view, err := f.c.View(ctx, f.session.ID, f.bob.ID)
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	if view.Mode != models.ViewIdle {
		t.Errorf("Expected idle, got %s", view.Mode)
	}

	story := f.votingStory(t, "Login page")
	view, _ = f.c.View(ctx, f.session.ID, f.bob.ID)
	if view.Mode != models.ViewVote || view.Expected != 3 {
		t.Errorf("Expected vote mode with 3 expected, got %s/%d", view.Mode, view.Expected)
	}

	f.vote(t, story.ID, f.bob, "8")
	view, _ = f.c.View(ctx, f.session.ID, f.bob.ID)
	if view.Mode != models.ViewWaiting || view.MyPoints == nil || *view.MyPoints != "8" {
		t.Errorf("Expected waiting with own vote, got %s/%v", view.Mode, view.MyPoints)
	}

	f.c.RevealVotes(ctx, story.ID, f.alice.ID, true)
	view, _ = f.c.View(ctx, f.session.ID, f.carol.ID)
	if view.Mode != models.ViewResults || view.Result == nil {
		t.Errorf("Expected results, got %s", view.Mode)
	}

	// The next story moves everyone on; carol last saw the first story
	f.votingStory(t, "Logout")
	view, _ = f.c.View(ctx, f.session.ID, f.carol.ID)
	if view.Mode != models.ViewVote || !view.CaughtUp {
		t.Errorf("Expected caught up vote view, got %s caught_up=%v", view.Mode, view.CaughtUp)
	}
}

func TestSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.votingStory(t, "Login page")

	f.c.MarkDisconnected(ctx, f.session.ID, f.bobP.ID)

	stats, err := f.c.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if stats.TimedOut != 0 {
		t.Errorf("Expected nobody timed out within grace, got %d", stats.TimedOut)
	}

	f.clock.advance(time.Minute + time.Second)
	stats, _ = f.c.Sweep(ctx)
	if stats.TimedOut != 1 {
		t.Errorf("Expected 1 timeout, got %d", stats.TimedOut)
	}
	stats, _ = f.c.Sweep(ctx)
	if stats.TimedOut != 0 {
		t.Errorf("Expected a timeout to be reported once, got %d", stats.TimedOut)
	}

	events, _ := broadcast.NewEventStore(f.db).Since(ctx, f.session.ID, 0, 1000)
	last := events[len(events)-1]
	if last.Type != models.EventParticipantTimedOut || !strings.Contains(string(last.Payload), `"expected":2`) {
		t.Errorf("Expected participant_timed_out with 2 expected, got %s %s", last.Type, last.Payload)
	}
}

func TestSweepSkipsReconnected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.votingStory(t, "Login page")
	f.c.MarkDisconnected(ctx, f.session.ID, f.bobP.ID)
	f.clock.advance(time.Minute + time.Second)

	// Park a commit while it still holds the session lock
	var hold atomic.Bool
	held := make(chan struct{})
	unblock := make(chan struct{})
	f.c.OnCommit(func() {
		if hold.CompareAndSwap(true, false) {
			close(held)
			<-unblock
		}
	})
	hold.Store(true)
	parked := make(chan error, 1)
	go func() {
		_, err := f.c.Reconnect(ctx, f.session.ID, f.carolP.ID)
		parked <- err
	}()
	<-held

	type sweepResult struct {
		stats SweepStats
		err   error
	}
	swept := make(chan sweepResult, 1)
	go func() {
		stats, err := f.c.Sweep(ctx)
		swept <- sweepResult{stats, err}
	}()

	// Once the sweep waits on the lock it has already listed bob
	deadline := time.Now().Add(5 * time.Second)
	for waiters(f.c, f.session.ID) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("sweep never reached the session lock")
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := participants.MarkReconnected(ctx, f.db, f.bobP.ID, f.clock.now()); err != nil {
		t.Fatalf("MarkReconnected failed: %v", err)
	}

	close(unblock)
	if err := <-parked; err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}
	res := <-swept
	if res.err != nil {
		t.Fatalf("Sweep failed: %v", res.err)
	}
	if res.stats.TimedOut != 0 {
		t.Errorf("Expected no timeout for a reconnected participant, got %d", res.stats.TimedOut)
	}

	events, _ := broadcast.NewEventStore(f.db).Since(ctx, f.session.ID, 0, 1000)
	for _, ev := range events {
		if ev.Type == models.EventParticipantTimedOut {
			t.Errorf("Unexpected participant_timed_out: %s", ev.Payload)
		}
	}
	p, _ := participants.Get(ctx, f.db, f.bobP.ID)
	if p.State != models.StateConnected || p.GraceExpiredAt != nil {
		t.Errorf("Expected bob connected without grace expiry, got %s %v", p.State, p.GraceExpiredAt)
	}
}

// waiters counts holders and waiters on a session's lock.
func waiters(c *Coordinator, sessionID string) int {
	c.locks.mu.Lock()
	defer c.locks.mu.Unlock()
	if lock, ok := c.locks.locks[sessionID]; ok {
		return lock.refs
	}
	return 0
}

func TestSweepArchivesCompletedSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.c.UpdateSessionStatus(ctx, f.session.ID, f.alice.ID, "completed"); err != nil {
		t.Fatalf("UpdateSessionStatus failed: %v", err)
	}

	f.clock.advance(721 * time.Hour)
	stats, err := f.c.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if stats.Archived != 1 {
		t.Errorf("Expected 1 archived session, got %d", stats.Archived)
	}

	_, err = f.c.GetSession(ctx, f.session.ID, f.alice.ID)
	assertKind(t, err, models.ErrSessionGone)
}

func TestConcurrentVotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	story := f.votingStory(t, "Login page")

	var wg sync.WaitGroup
	errs := make(chan error, 30)
	for i := 0; i < 10; i++ {
		for _, u := range []models.User{f.alice, f.bob, f.carol} {
			wg.Add(1)
			go func(u models.User) {
				defer wg.Done()
				if _, err := f.c.CastVote(ctx, story.ID, u.ID, "5"); err != nil {
					errs <- err
				}
			}(u)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("CastVote failed: %v", err)
	}

	view, _ := f.c.Votes(ctx, story.ID, f.alice.ID)
	if view.VotesCount != 3 {
		t.Errorf("Expected 3 votes, got %d", view.VotesCount)
	}

	// Versions are a gapless sequence
	events, _ := broadcast.NewEventStore(f.db).Since(ctx, f.session.ID, 0, 1000)
	for i, ev := range events {
		if ev.Seq != int64(i+1) {
			t.Fatalf("Expected seq %d, got %d", i+1, ev.Seq)
		}
	}
}

func TestSessionLocksAreReleased(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		session, err := f.c.CreateSession(ctx, "Parallel", f.alice.ID)
		if err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
		for _, u := range []models.User{f.bob, f.carol} {
			wg.Add(1)
			go func(sessionID string, u models.User) {
				defer wg.Done()
				p, _, err := f.c.Join(ctx, sessionID, u.ID)
				if err != nil {
					t.Errorf("Join failed: %v", err)
					return
				}
				if err := f.c.MarkDisconnected(ctx, sessionID, p.ID); err != nil {
					t.Errorf("MarkDisconnected failed: %v", err)
				}
				if _, err := f.c.Reconnect(ctx, sessionID, p.ID); err != nil {
					t.Errorf("Reconnect failed: %v", err)
				}
			}(session.ID, u)
		}
	}
	wg.Wait()

	f.c.locks.mu.Lock()
	n := len(f.c.locks.locks)
	f.c.locks.mu.Unlock()
	if n != 0 {
		t.Errorf("Expected no session locks left once idle, got %d", n)
	}
}
