// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package broadcast

import (
	"context"
	"testing"
)

func TestHubFansOutPerSession(t *testing.T) {
	hub := NewHub(4)
	ctx := context.Background()

	a1 := hub.Subscribe("a")
	a2 := hub.Subscribe("a")
	b := hub.Subscribe("b")
	defer hub.Unsubscribe(a1)
	defer hub.Unsubscribe(a2)
	defer hub.Unsubscribe(b)

	hub.Publish(ctx, Event{SessionID: "a", Seq: 1, Type: "vote_submitted"})

	for _, sub := range []*Subscription{a1, a2} {
		select {
		case ev := <-sub.C:
			if ev.Seq != 1 {
				t.Errorf("Expected seq 1, got %d", ev.Seq)
			}
		default:
			t.Error("Expected event on session a subscriber")
		}
	}

	select {
	case ev := <-b.C:
		t.Errorf("Session b should not receive session a events, got %+v", ev)
	default:
	}
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := NewHub(1)
	ctx := context.Background()

	sub := hub.Subscribe("a")
	hub.Publish(ctx, Event{SessionID: "a", Seq: 1})
	hub.Publish(ctx, Event{SessionID: "a", Seq: 2})

	if n := hub.Subscribers("a"); n != 0 {
		t.Errorf("Expected slow subscriber to be removed, got %d", n)
	}

	<-sub.C
	if _, ok := <-sub.C; ok {
		t.Error("Expected channel to be closed")
	}
	if !sub.Lagged() {
		t.Error("Expected subscription to be marked lagged")
	}

	// Unsubscribing after the hub dropped it is harmless
	hub.Unsubscribe(sub)
}
