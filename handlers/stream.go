// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/danielhkuo/censeo/auth"
	"github.com/danielhkuo/censeo/broadcast"
	"github.com/danielhkuo/censeo/cliparse"
	"github.com/danielhkuo/censeo/coordinator"
	"github.com/danielhkuo/censeo/middleware"
	"github.com/danielhkuo/censeo/models"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 15 * time.Second
	replayLimit  = 1000

	// Close code sent to a client that fell too far behind
	closeLagged = 4000
)

// StreamMessage is one frame on the WebSocket stream.
type StreamMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
	Data      any    `json:"data"`
}

type StreamHandler struct {
	coord    *coordinator.Coordinator
	hub      *broadcast.Hub
	events   *broadcast.EventStore
	cfg      cliparse.Config
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]int // open connections per participant
}

func NewStreamHandler(coord *coordinator.Coordinator, hub *broadcast.Hub, events *broadcast.EventStore, cfg cliparse.Config) *StreamHandler {
	h := &StreamHandler{
		coord:  coord,
		hub:    hub,
		events: events,
		cfg:    cfg,
		conns:  make(map[string]int),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *StreamHandler) checkOrigin(r *http.Request) bool {
	origins := h.cfg.Limits.CORSAllowedOrigins
	origin := r.Header.Get("Origin")
	return origin == "" || len(origins) == 0 || slices.Contains(origins, "*") || slices.Contains(origins, origin)
}

// Stream handles GET /sessions/{id}/ws?ticket=...&since=N
// Sends session_state first, then any events after since, then live events
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	claims, err := auth.ParseTicket(r.URL.Query().Get("ticket"), h.cfg.TicketSecret)
	if err != nil || claims.SessionID != sessionID {
		middleware.WriteError(w, models.Newf(models.ErrPermission, "invalid or expired ticket"))
		return
	}

	since := int64(-1)
	if s := r.URL.Query().Get("since"); s != "" {
		since, err = strconv.ParseInt(s, 10, 64)
		if err != nil || since < 0 {
			middleware.WriteError(w, models.Newf(models.ErrValidation, "since must be a non-negative sequence number"))
			return
		}
	}

	// Subscribe before reading state so nothing committed after it is missed
	sub := h.hub.Subscribe(sessionID)
	defer h.hub.Unsubscribe(sub)

	pid := claims.ParticipantID
	h.acquire(pid)
	defer h.release(sessionID, pid)

	view, err := h.coord.Reconnect(r.Context(), sessionID, pid)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	pending, err := h.coord.PendingLateVotes(r.Context(), pid)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		slog.Warn("websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	defer conn.Close()

	c := &streamConn{
		conn:      conn,
		sessionID: sessionID,
		pid:       pid,
		hidden:    make(map[string]bool, len(pending)),
		lastSeq:   view.Session.Version,
	}
	for _, id := range pending {
		c.hidden[id] = true
	}

	if err := c.write(StreamMessage{Type: models.EventSessionState, SessionID: sessionID, Seq: view.Session.Version, Data: view}); err != nil {
		return
	}

	if since >= 0 && since < view.Session.Version {
		replay, err := h.events.Since(r.Context(), sessionID, since, replayLimit)
		if err != nil {
			slog.Error("failed to load replay", "session_id", sessionID, "error", err)
			return
		}
		for _, ev := range replay {
			if err := c.send(ev, true); err != nil {
				return
			}
		}
	}

	done := make(chan struct{})
	go readLoop(conn, done)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				if sub.Lagged() {
					c.close(closeLagged, "lagged, reconnect with since")
				}
				return
			}
			if err := c.send(ev, false); err != nil {
				return
			}
			if ev.Type == models.EventSessionArchived {
				c.close(websocket.CloseNormalClosure, "session ended")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (h *StreamHandler) acquire(pid string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[pid]++
}

// release drops one connection. When the participant's last connection goes
// away they are marked disconnected and their grace window starts.
func (h *StreamHandler) release(sessionID, pid string) {
	h.mu.Lock()
	h.conns[pid]--
	last := h.conns[pid] <= 0
	if last {
		delete(h.conns, pid)
	}
	h.mu.Unlock()

	if !last {
		return
	}
	// The request context is already cancelled here. A stream that opened in
	// the meantime keeps the participant connected.
	gone := func() bool { return h.Connections(pid) == 0 }
	if err := h.coord.MarkDisconnectedIf(context.Background(), sessionID, pid, gone); err != nil {
		slog.Error("failed to mark participant disconnected", "session_id", sessionID, "participant_id", pid, "error", err)
	}
}

// Connections reports how many streams the participant has open.
func (h *StreamHandler) Connections(pid string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[pid]
}

func readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// Clients only send control frames
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

type streamConn struct {
	conn      *websocket.Conn
	sessionID string
	pid       string
	hidden    map[string]bool // stories with a pending late vote
	lastSeq   int64
}

func (c *streamConn) write(msg StreamMessage) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

// send forwards ev unless the client already has it. Results of a story the
// participant still owes a late vote on are withheld.
func (c *streamConn) send(ev broadcast.Event, replay bool) error {
	if !replay && ev.Seq <= c.lastSeq {
		return nil
	}
	if ev.Seq > c.lastSeq {
		c.lastSeq = ev.Seq
	}

	var payload map[string]any
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return err
	}
	storyID, _ := payload["story_id"].(string)

	switch ev.Type {
	case models.EventVotingEnded:
		if c.hidden[storyID] {
			payload = map[string]any{"story_id": storyID, "late_vote_pending": true}
		}
	case models.EventLateVoteResolved:
		if payload["participant_id"] == c.pid {
			delete(c.hidden, storyID)
		}
	}

	return c.write(StreamMessage{Type: ev.Type, SessionID: ev.SessionID, Seq: ev.Seq, Data: payload})
}

func (c *streamConn) close(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
