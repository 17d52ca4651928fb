/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"sync"
	"time"

	"github.com/friendsincode/stagehand/internal/telemetry"
)

// Kind enumerates notification categories.
type Kind string

const (
	KindStreamUpdated         Kind = "stream.updated"
	KindTrackPoolUpdated      Kind = "music.track_pool_updated"
	KindStreamStateUpdated    Kind = "music.stream_state_updated"
	KindUpNextUpdated         Kind = "music.upnext_updated"
	KindConnectionState       Kind = "room.connection_state"
	KindSceneChanged          Kind = "room.scene"
	KindStreamStatus          Kind = "room.stream_status"
	KindVolumeChanged         Kind = "room.volume"
	KindPanelSettings         Kind = "room.panel_settings"
	KindScheduleRefreshed     Kind = "schedule.refreshed"
	KindConfirmationRequested Kind = "feed.confirmation_requested"
	KindConfirmationResolved  Kind = "feed.confirmation_resolved"
	KindOperatorAction        Kind = "operator.action"
)

// Notification is one published change. Target is the room name or stream
// key the change belongs to; it is empty for process-wide changes.
type Notification struct {
	Kind    Kind      `json:"kind"`
	Target  string    `json:"target,omitempty"`
	At      time.Time `json:"at"`
	Payload Payload   `json:"payload"`
}

// Filter selects notifications for a subscriber. Empty fields match everything.
type Filter struct {
	Kinds  []Kind
	Target string
}

// Matches reports whether n passes the filter.
func (f Filter) Matches(n Notification) bool {
	if f.Target != "" && f.Target != n.Target {
		return false
	}
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if k == n.Kind {
			return true
		}
	}
	return false
}

const defaultBuffer = 32

// Subscription is a live registration on a Bus.
type Subscription struct {
	C <-chan Notification

	ch     chan Notification
	filter Filter
	bus    *Bus
	once   sync.Once
}

// Close unregisters the subscription and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s)
	})
}

// Bus implements a simple in-process pubsub. Publishing never blocks: a
// subscriber whose buffer is full misses the notification.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	now    func() time.Time
	closed bool
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[*Subscription]struct{}),
		now:  time.Now,
	}
}

// Subscribe registers a subscriber with the default buffer size.
func (b *Bus) Subscribe(filter Filter) *Subscription {
	return b.SubscribeBuffered(filter, defaultBuffer)
}

// SubscribeBuffered registers a subscriber with an explicit buffer size.
func (b *Bus) SubscribeBuffered(filter Filter, size int) *Subscription {
	if size < 1 {
		size = 1
	}
	ch := make(chan Notification, size)
	sub := &Subscription{C: ch, ch: ch, filter: filter, bus: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Publish stamps and delivers payload to every matching subscriber.
func (b *Bus) Publish(target string, payload Payload) {
	n := Notification{
		Kind:    payload.Kind(),
		Target:  target,
		At:      b.now(),
		Payload: payload,
	}
	b.deliver(n)
}

func (b *Bus) deliver(n Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if !sub.filter.Matches(n) {
			continue
		}
		select {
		case sub.ch <- n:
		default:
			telemetry.NotificationsDropped.WithLabelValues(string(n.Kind)).Inc()
		}
	}
}

// Close closes every subscription. Later subscriptions start closed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
}
