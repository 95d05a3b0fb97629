// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/danielhkuo/censeo/broadcast"
	"github.com/danielhkuo/censeo/cliparse"
	"github.com/danielhkuo/censeo/db"
	"github.com/danielhkuo/censeo/models"
	"github.com/danielhkuo/censeo/participants"
	"github.com/danielhkuo/censeo/stories"
	"github.com/danielhkuo/censeo/votes"
)

// Coordinator owns every session and story transition. Each mutation runs
// in one transaction together with the events it produces.
type Coordinator struct {
	db     *db.DB
	limits cliparse.Limits
	scale  models.Scale
	policy participants.QuorumPolicy
	now    func() time.Time
	locks  sessionLocks
	notify func()
}

func New(database *db.DB, limits cliparse.Limits) *Coordinator {
	scale := limits.Scale
	if len(scale) == 0 {
		scale = models.DefaultScale()
	}
	return &Coordinator{
		db:     database,
		limits: limits,
		scale:  scale,
		policy: participants.QuorumPolicy{
			Grace:            limits.GracePeriod(),
			FacilitatorVotes: limits.FacilitatorInQuorum,
		},
		now:   time.Now,
		locks: sessionLocks{locks: make(map[string]*sessionLock)},
	}
}

// SetClock replaces the time source.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// OnCommit registers fn to run after each committed transaction.
func (c *Coordinator) OnCommit(fn func()) {
	c.notify = fn
}

func (c *Coordinator) Scale() models.Scale {
	return c.scale
}

// sessionLocks hands out one RWMutex per session. An entry lives only while
// someone holds or waits on it.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	sync.RWMutex
	refs int
}

func (l *sessionLocks) acquire(sessionID string) *sessionLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[sessionID]
	if !ok {
		lock = &sessionLock{}
		l.locks[sessionID] = lock
	}
	lock.refs++
	return lock
}

func (l *sessionLocks) release(sessionID string, lock *sessionLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, sessionID)
	}
}

type txFunc func(tx *db.Tx, now time.Time) error

// exclusive serializes fn against every other transition of the session.
func (c *Coordinator) exclusive(ctx context.Context, sessionID string, fn txFunc) error {
	lock := c.locks.acquire(sessionID)
	defer c.locks.release(sessionID, lock)
	lock.Lock()
	defer lock.Unlock()
	return c.commit(ctx, fn)
}

// shared lets fn run alongside other shared transitions but never during an
// exclusive one.
func (c *Coordinator) shared(ctx context.Context, sessionID string, fn txFunc) error {
	lock := c.locks.acquire(sessionID)
	defer c.locks.release(sessionID, lock)
	lock.RLock()
	defer lock.RUnlock()
	return c.commit(ctx, fn)
}

func (c *Coordinator) commit(ctx context.Context, fn txFunc) error {
	now := c.now()
	if err := c.db.InTx(ctx, func(tx *db.Tx) error { return fn(tx, now) }); err != nil {
		return err
	}
	if c.notify != nil {
		c.notify()
	}
	return nil
}

func (c *Coordinator) emit(ctx context.Context, q db.Querier, sessionID, eventType string, payload any, now time.Time) error {
	ev, err := broadcast.Append(ctx, q, sessionID, eventType, payload, now)
	if err != nil {
		return err
	}
	slog.Debug("event recorded", "session_id", sessionID, "seq", ev.Seq, "type", eventType)
	return nil
}

func (c *Coordinator) sessionOfStory(ctx context.Context, storyID string) (string, error) {
	story, err := stories.Get(ctx, c.db, storyID)
	if err != nil {
		return "", err
	}
	return story.SessionID, nil
}

// facilitator checks that userID runs the session.
func (c *Coordinator) facilitator(ctx context.Context, q db.Querier, session models.Session, userID, action string) (models.Participant, error) {
	if session.FacilitatorID != userID {
		return models.Participant{}, models.Newf(models.ErrPermission, "only the facilitator can %s", action)
	}
	return participants.GetByUser(ctx, q, session.ID, userID)
}

// member returns the caller's participant record.
func (c *Coordinator) member(ctx context.Context, q db.Querier, sessionID, userID string) (models.Participant, error) {
	p, err := participants.GetByUser(ctx, q, sessionID, userID)
	if errors.Is(err, models.ErrNotFound) {
		return models.Participant{}, models.Newf(models.ErrPermission, "not a participant in this session")
	}
	return p, err
}

// tally counts votes against the current quorum. missing lists quorum
// members who have not voted.
func (c *Coordinator) tally(ctx context.Context, q db.Querier, sessionID, storyID string, now time.Time) (models.Tally, []string, error) {
	list, err := participants.List(ctx, q, sessionID)
	if err != nil {
		return models.Tally{}, nil, err
	}
	voters, err := votes.Voters(ctx, q, storyID)
	if err != nil {
		return models.Tally{}, nil, err
	}

	missing := []string{}
	required := c.policy.Quorum(list, now)
	for _, p := range required {
		if !voters[p.ID] {
			missing = append(missing, p.ID)
		}
	}
	return models.Tally{
		StoryID:    storyID,
		VotesCount: len(voters),
		Expected:   len(required),
		QuorumMet:  len(missing) == 0,
	}, missing, nil
}
