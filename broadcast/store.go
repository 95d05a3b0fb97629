// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/danielhkuo/censeo/db"
)

// Append numbers and stores an event in the outbox. It must run in the
// same transaction as the change it describes; the sequence number comes
// from the session's version counter.
func Append(ctx context.Context, q db.Querier, sessionID, eventType string, payload any, now time.Time) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	var seq int64
	err = q.QueryRowContext(ctx,
		`UPDATE sessions SET version = version + 1 WHERE id = ? RETURNING version`, sessionID).Scan(&seq)
	if err != nil {
		return Event{}, fmt.Errorf("bump session version: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO events (session_id, seq, type, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, sessionID, seq, eventType, string(data), db.Millis(now))
	if err != nil {
		return Event{}, fmt.Errorf("insert event: %w", err)
	}

	return Event{
		SessionID: sessionID,
		Seq:       seq,
		Type:      eventType,
		Payload:   data,
		CreatedAt: db.FromMillis(db.Millis(now)),
	}, nil
}

// EventStore reads the outbox.
type EventStore struct {
	db *db.DB
}

func NewEventStore(database *db.DB) *EventStore {
	return &EventStore{db: database}
}

// Pending returns undelivered events, each session's in sequence order.
func (s *EventStore) Pending(ctx context.Context, limit int) ([]Event, error) {
	return s.query(ctx, `
		SELECT session_id, seq, type, payload, created_at FROM events
		WHERE dispatched_at IS NULL
		ORDER BY session_id, seq
		LIMIT ?
	`, limit)
}

// Since returns a session's events after seq, delivered or not.
func (s *EventStore) Since(ctx context.Context, sessionID string, seq int64, limit int) ([]Event, error) {
	return s.query(ctx, `
		SELECT session_id, seq, type, payload, created_at FROM events
		WHERE session_id = ? AND seq > ?
		ORDER BY seq
		LIMIT ?
	`, sessionID, seq, limit)
}

func (s *EventStore) MarkDispatched(ctx context.Context, ev Event, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE events SET dispatched_at = ? WHERE session_id = ? AND seq = ?`, db.Millis(now), ev.SessionID, ev.Seq)
	if err != nil {
		return fmt.Errorf("mark event dispatched: %w", err)
	}
	return nil
}

func (s *EventStore) query(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var list []Event
	for rows.Next() {
		var ev Event
		var payload string
		var createdAt int64
		if err := rows.Scan(&ev.SessionID, &ev.Seq, &ev.Type, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Payload = json.RawMessage(payload)
		ev.CreatedAt = db.FromMillis(createdAt)
		list = append(list, ev)
	}
	return list, rows.Err()
}
