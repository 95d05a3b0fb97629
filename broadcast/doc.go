// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package broadcast delivers session events to connected clients.

Events are written to an outbox table inside the same transaction as the
change that caused them. Append numbers them per session from the session's
version counter, so clients can detect gaps and replay with Since.

The Dispatcher drains undelivered events in order and hands them to the Hub,
which fans them out to subscribers of the session. A subscriber that cannot
keep up is dropped and must reconnect:

	hub := broadcast.NewHub(64)
	disp := broadcast.NewDispatcher(broadcast.NewEventStore(database), hub)
	go disp.Run(ctx)

	sub := hub.Subscribe(sessionID)
	defer hub.Unsubscribe(sub)
	for ev := range sub.C {
		...
	}
*/
package broadcast
