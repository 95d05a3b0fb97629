// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package broadcast

import (
	"context"
	"log/slog"
	"sync"
)

// Publisher delivers an event to whoever is listening on its session.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Subscription receives the events of one session. C is closed when the
// subscription ends, either by Unsubscribe or because the subscriber fell
// too far behind.
type Subscription struct {
	SessionID string
	C         <-chan Event

	ch     chan Event
	lagged bool
}

// Lagged reports whether the hub dropped this subscriber for not keeping up.
// Only meaningful after C is closed.
func (s *Subscription) Lagged() bool {
	return s.lagged
}

// Hub fans events out to live subscribers, grouped by session.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a new listener on a session.
func (h *Hub) Subscribe(sessionID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, h.buffer)
	sub := &Subscription{SessionID: sessionID, C: ch, ch: ch}
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[*Subscription]struct{})
	}
	h.subs[sessionID][sub] = struct{}{}
	return sub
}

// Unsubscribe removes a listener and closes its channel. Safe to call twice.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(sub)
}

func (h *Hub) remove(sub *Subscription) {
	set := h.subs[sub.SessionID]
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	close(sub.ch)
	if len(set) == 0 {
		delete(h.subs, sub.SessionID)
	}
}

// Publish never blocks. A subscriber whose buffer is full is dropped so it
// can reconnect and replay from its last sequence number.
func (h *Hub) Publish(ctx context.Context, ev Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs[ev.SessionID] {
		select {
		case sub.ch <- ev:
		default:
			slog.Warn("dropping slow subscriber", "session_id", ev.SessionID, "seq", ev.Seq)
			sub.lagged = true
			h.remove(sub)
		}
	}
	return nil
}

// Subscribers returns the number of live listeners on a session.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}
