/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package music

import (
	"context"
	"encoding/json"

	"github.com/friendsincode/stagehand/internal/events"
	"github.com/friendsincode/stagehand/internal/models"
	"github.com/friendsincode/stagehand/internal/telemetry"
)

// message is the union of every push event the service sends.
type message struct {
	Event  string        `json:"event"`
	Stream string        `json:"stream"`
	Key    string        `json:"key"`
	Value  string        `json:"value"`
	UpNext []string      `json:"upNext"`
	Track  *models.Track `json:"track"`
}

// HandleMessage applies one push event. Messages are handled to completion
// one at a time; a currentTrack update may block on the initial pool fetch.
func (c *Controller) HandleMessage(ctx context.Context, data []byte) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		telemetry.PushMessagesTotal.WithLabelValues("music", "malformed").Inc()
		c.logger.Warn().Err(err).Msg("undecodable music event")
		return
	}

	switch msg.Event {
	case "poolTrackAdded":
		c.handleTrackAdded(msg)
	case "update":
		c.handleUpdate(ctx, msg)
	case "updateUpNext":
		c.handleUpNext(msg)
	case "skip":
		// Nothing to update: the new track arrives as a currentTrack update.
		telemetry.PushMessagesTotal.WithLabelValues("music", "ignored").Inc()
		c.logger.Debug().Str("stream", msg.Stream).Msg("skip event")
	default:
		telemetry.PushMessagesTotal.WithLabelValues("music", "unknown").Inc()
		c.logger.Debug().Str("event", msg.Event).Msg("unknown music event")
	}
}

func (c *Controller) handleTrackAdded(msg message) {
	if msg.Track == nil || msg.Track.TrackID == "" {
		telemetry.PushMessagesTotal.WithLabelValues("music", "malformed").Inc()
		return
	}
	track := *msg.Track

	c.mu.Lock()
	c.pool[track.TrackID] = track
	c.mu.Unlock()

	telemetry.PushMessagesTotal.WithLabelValues("music", "applied").Inc()
	c.bus.Publish("", events.TrackPoolUpdated{Track: track})
}

func (c *Controller) handleUpdate(ctx context.Context, msg message) {
	var track *models.Track
	switch msg.Key {
	case "autoplay", "playing":
	case "currentTrack":
		t, err := c.Track(ctx, msg.Value)
		if err != nil {
			telemetry.PushMessagesTotal.WithLabelValues("music", "dropped").Inc()
			c.logger.Debug().Err(err).Str("stream", msg.Stream).Msg("current track not resolvable")
			return
		}
		track = &t
	default:
		telemetry.PushMessagesTotal.WithLabelValues("music", "ignored").Inc()
		c.logger.Debug().Str("key", msg.Key).Msg("unknown state key")
		return
	}

	c.mu.Lock()
	raw := c.states[msg.Stream]
	switch msg.Key {
	case "autoplay":
		raw.Autoplay = msg.Value
	case "playing":
		raw.Playing = msg.Value
	case "currentTrack":
		raw.CurrentTrack = track
	}
	c.states[msg.Stream] = raw
	state := raw.Normalize()
	c.mu.Unlock()

	telemetry.PushMessagesTotal.WithLabelValues("music", "applied").Inc()
	c.bus.Publish(msg.Stream, events.StreamStateUpdated{Stream: msg.Stream, Field: msg.Key, State: state})
}

func (c *Controller) handleUpNext(msg message) {
	queue := append([]string(nil), msg.UpNext...)

	c.mu.Lock()
	c.upNext[msg.Stream] = queue
	c.mu.Unlock()

	telemetry.PushMessagesTotal.WithLabelValues("music", "applied").Inc()
	c.bus.Publish(msg.Stream, events.UpNextUpdated{Stream: msg.Stream, UpNext: append([]string(nil), queue...)})
}
