/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package console

import (
	"context"
	"strconv"

	"github.com/friendsincode/stagehand/internal/models"
	"github.com/friendsincode/stagehand/internal/music"
)

// Music returns the music controller, nil when not configured.
func (c *Console) Music() *music.Controller {
	return c.music
}

// Tracks returns the pool filtered and sorted for display.
func (c *Console) Tracks(ctx context.Context, filter string) ([]models.Track, error) {
	if c.music == nil {
		return nil, ErrMusicDisabled
	}
	tracks, err := c.music.TrackList(ctx)
	if err != nil {
		return nil, err
	}
	return models.SelectTracks(tracks, filter), nil
}

// MusicView returns the playback state and queue of a stream.
func (c *Console) MusicView(ctx context.Context, stream string) (MusicView, error) {
	if c.music == nil {
		return MusicView{}, ErrMusicDisabled
	}
	state, err := c.music.StreamState(ctx, stream)
	if err != nil {
		return MusicView{}, err
	}
	queue, err := c.music.UpNext(ctx, stream)
	if err != nil {
		return MusicView{}, err
	}
	return MusicView{State: state, UpNext: models.UpNextEntries(queue)}, nil
}

// PlayMusic starts playback on stream.
func (c *Console) PlayMusic(ctx context.Context, stream string) error {
	return c.musicCommand(stream, models.AuditActionMusicPlay, "", nil, func(m *music.Controller) error {
		return m.Play(ctx, stream)
	})
}

// StopMusic stops playback on stream.
func (c *Console) StopMusic(ctx context.Context, stream string) error {
	return c.musicCommand(stream, models.AuditActionMusicStop, "", nil, func(m *music.Controller) error {
		return m.Stop(ctx, stream)
	})
}

// SkipMusic skips the current track on stream.
func (c *Console) SkipMusic(ctx context.Context, stream string) error {
	return c.musicCommand(stream, models.AuditActionMusicSkip, "", nil, func(m *music.Controller) error {
		return m.Skip(ctx, stream)
	})
}

// SetAutoplay toggles autoplay on stream.
func (c *Console) SetAutoplay(ctx context.Context, stream string, enabled bool) error {
	details := map[string]any{"enabled": enabled}
	return c.musicCommand(stream, models.AuditActionMusicAutoplay, "", details, func(m *music.Controller) error {
		return m.SetAutoplay(ctx, stream, enabled)
	})
}

// Enqueue appends a track to stream's queue.
func (c *Console) Enqueue(ctx context.Context, stream, trackID string) error {
	return c.musicCommand(stream, models.AuditActionMusicEnqueue, trackID, nil, func(m *music.Controller) error {
		return m.AddToUpNext(ctx, stream, trackID)
	})
}

// Dequeue removes the queue slot at index from stream.
func (c *Console) Dequeue(ctx context.Context, stream string, index int) error {
	return c.musicCommand(stream, models.AuditActionMusicRemoveQueue, strconv.Itoa(index), nil, func(m *music.Controller) error {
		return m.RemoveUpNext(ctx, stream, index)
	})
}

func (c *Console) musicCommand(stream string, action models.AuditAction, resource string, details map[string]any, fn func(*music.Controller) error) error {
	if c.music == nil {
		return ErrMusicDisabled
	}
	if resource == "" {
		resource = stream
	}
	err := fn(c.music)
	publishAction(c.bus, stream, action, resource, err, details)
	if err != nil {
		c.logger.Warn().Err(err).Str("stream", stream).Str("action", string(action)).Msg("music command failed")
	}
	return err
}
