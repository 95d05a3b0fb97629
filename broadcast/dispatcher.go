// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package broadcast

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultBatchSize    = 200
	defaultPollInterval = time.Second
	defaultMaxTries     = 5
)

// Dispatcher drains the outbox into a Publisher. Delivery is at least once
// and in sequence order per session: when an event fails after retries,
// the rest of that session's events wait for the next pass.
type Dispatcher struct {
	store    *EventStore
	pub      Publisher
	wake     chan struct{}
	interval time.Duration
	batch    int
	maxTries uint
	backOff  func() backoff.BackOff
	now      func() time.Time
}

func NewDispatcher(store *EventStore, pub Publisher) *Dispatcher {
	return &Dispatcher{
		store:    store,
		pub:      pub,
		wake:     make(chan struct{}, 1),
		interval: defaultPollInterval,
		batch:    defaultBatchSize,
		maxTries: defaultMaxTries,
		backOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
		now: time.Now,
	}
}

// Wake asks for a dispatch pass without waiting for the poll interval.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run dispatches until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	slog.Info("event dispatcher started", "interval", d.interval)
	for {
		if _, err := d.DispatchPending(ctx); err != nil && ctx.Err() == nil {
			slog.Error("dispatch failed", "error", err)
		}

		select {
		case <-ctx.Done():
			slog.Info("event dispatcher stopped")
			return nil
		case <-d.wake:
		case <-ticker.C:
		}
	}
}

// DispatchPending delivers outstanding events and returns how many were sent.
func (d *Dispatcher) DispatchPending(ctx context.Context) (int, error) {
	sent := 0
	for {
		events, err := d.store.Pending(ctx, d.batch)
		if err != nil {
			return sent, err
		}
		if len(events) == 0 {
			return sent, nil
		}

		held := make(map[string]bool)
		progressed := false
		for _, ev := range events {
			if held[ev.SessionID] {
				continue
			}
			if err := d.deliver(ctx, ev); err != nil {
				if ctx.Err() != nil {
					return sent, ctx.Err()
				}
				slog.Error("event delivery failed, holding session",
					"session_id", ev.SessionID, "seq", ev.Seq, "type", ev.Type, "error", err)
				held[ev.SessionID] = true
				continue
			}
			if err := d.store.MarkDispatched(ctx, ev, d.now()); err != nil {
				return sent, err
			}
			sent++
			progressed = true
		}

		if !progressed || len(held) > 0 || len(events) < d.batch {
			return sent, nil
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, d.pub.Publish(ctx, ev)
	},
		backoff.WithBackOff(d.backOff()),
		backoff.WithMaxTries(d.maxTries),
	)
	return err
}
