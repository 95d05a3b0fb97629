// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/danielhkuo/censeo/db"
	"github.com/danielhkuo/censeo/models"
	"github.com/danielhkuo/censeo/participants"
)

// SweepStats reports what one sweep did.
type SweepStats struct {
	TimedOut int
	Archived int
}

// Sweep reports participants whose grace window ran out and archives
// completed sessions past retention. Quorum never waits for the sweep; it
// only makes the timeouts visible to clients.
func (c *Coordinator) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	now := c.now()

	cutoff := now.Add(-c.policy.Grace)
	expired, err := participants.ExpiredGrace(ctx, c.db, cutoff)
	if err != nil {
		return stats, err
	}
	for _, p := range expired {
		timedOut := false
		err := c.exclusive(ctx, p.SessionID, func(tx *db.Tx, now time.Time) error {
			session, err := loadSession(ctx, tx, p.SessionID)
			if err != nil {
				return err
			}
			// The participant may have reconnected since the listing
			changed, err := participants.MarkGraceExpired(ctx, tx, p.ID, cutoff, now)
			if err != nil || !changed || session.Archived() {
				return err
			}
			timedOut = true
			payload := map[string]any{"participant_id": p.ID}
			if err := c.addTally(ctx, tx, session, payload, now); err != nil {
				return err
			}
			return c.emit(ctx, tx, session.ID, models.EventParticipantTimedOut, payload, now)
		})
		if err != nil {
			slog.Error("grace timeout failed", "session_id", p.SessionID, "participant_id", p.ID, "error", err)
			continue
		}
		if timedOut {
			stats.TimedOut++
		}
	}

	stale, err := c.staleSessions(ctx, now.Add(-c.limits.SessionRetention))
	if err != nil {
		return stats, err
	}
	for _, id := range stale {
		err := c.exclusive(ctx, id, func(tx *db.Tx, now time.Time) error {
			return c.archive(ctx, tx, id, "retention", now)
		})
		if err != nil {
			slog.Error("session archive failed", "session_id", id, "error", err)
			continue
		}
		stats.Archived++
	}

	return stats, nil
}

func (c *Coordinator) staleSessions(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id FROM sessions
		WHERE status = ? AND archived_at IS NULL AND updated_at < ?
	`, models.SessionCompleted, db.Millis(cutoff))
	if err != nil {
		return nil, fmt.Errorf("query stale sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RunSweeper sweeps on every tick until ctx is cancelled.
func (c *Coordinator) RunSweeper(ctx context.Context) error {
	ticker := time.NewTicker(c.limits.SweepInterval)
	defer ticker.Stop()

	slog.Info("sweeper started", "interval", c.limits.SweepInterval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("sweeper stopped")
			return nil
		case <-ticker.C:
			stats, err := c.Sweep(ctx)
			if err != nil {
				slog.Error("sweep failed", "error", err)
				continue
			}
			if stats.TimedOut > 0 || stats.Archived > 0 {
				slog.Info("sweep finished", "timed_out", stats.TimedOut, "archived", stats.Archived)
			}
		}
	}
}
