/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// ScheduleEvent is one programme slot. Its ID doubles as the stream key the
// panelists publish to.
type ScheduleEvent struct {
	ID          string    `json:"id"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	Title       string    `json:"title"`
	Panelists   string    `json:"panelists"`
	Description string    `json:"description"`
	IsZoom      bool      `json:"isZoom"`
}

// Schedule is an immutable snapshot of the published programme, keyed by room.
// A refresh replaces the whole value; holders of an older snapshot keep it intact.
type Schedule struct {
	Rooms     map[string][]ScheduleEvent `json:"rooms"`
	FetchedAt time.Time                  `json:"fetchedAt"`
}

// Room returns a copy of the events for room.
func (s *Schedule) Room(room string) []ScheduleEvent {
	if s == nil {
		return nil
	}
	events := s.Rooms[room]
	out := make([]ScheduleEvent, len(events))
	copy(out, events)
	return out
}

// Current returns the event running in room at t, if any.
func (s *Schedule) Current(room string, t time.Time) (ScheduleEvent, bool) {
	if s == nil {
		return ScheduleEvent{}, false
	}
	for _, ev := range s.Rooms[room] {
		if !t.Before(ev.StartTime) && t.Before(ev.EndTime) {
			return ev, true
		}
	}
	return ScheduleEvent{}, false
}

// ScheduleEntry joins a schedule event with the liveness of its stream.
type ScheduleEntry struct {
	ScheduleEvent
	Stream   *Stream `json:"stream,omitempty"`
	RTMPLink string  `json:"rtmpLink,omitempty"`
}
