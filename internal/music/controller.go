/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package music is the client for the background music control service.
package music

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/friendsincode/stagehand/internal/events"
	"github.com/friendsincode/stagehand/internal/models"
	"github.com/friendsincode/stagehand/internal/sse"
)

// ErrUnknownTrack is returned when a track id is not in the pool.
var ErrUnknownTrack = errors.New("music: unknown track")

// Options configure a Controller.
type Options struct {
	BaseURL        string
	Password       string
	Streams        []string
	ReconnectDelay time.Duration
	RequestTimeout time.Duration

	// Client is used for REST calls.
	Client *http.Client

	// StreamClient is used for the push channel and must not time out.
	StreamClient *http.Client
}

// Controller caches pool, queue and playback state for every music stream
// and forwards operator commands. Commands are fire-and-forget: their effect
// shows up through push events, not in the cache directly.
type Controller struct {
	opts   Options
	bus    *events.Bus
	logger zerolog.Logger
	group  singleflight.Group

	mu         sync.Mutex
	pool       models.TrackMap
	poolLoaded bool
	states     map[string]models.RawStreamState
	upNext     map[string][]string

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewController creates an unstarted controller.
func NewController(opts Options, bus *events.Bus, logger zerolog.Logger) *Controller {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.StreamClient == nil {
		opts.StreamClient = &http.Client{}
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 10 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	return &Controller{
		opts:   opts,
		bus:    bus,
		logger: logger.With().Str("component", "music").Logger(),
		pool:   make(models.TrackMap),
		states: make(map[string]models.RawStreamState),
		upNext: make(map[string][]string),
		cancel: func() {},
	}
}

// Streams returns the music streams this controller subscribes to.
func (c *Controller) Streams() []string {
	return append([]string(nil), c.opts.Streams...)
}

// Start opens the push channel in the background.
func (c *Controller) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	stream := sse.NewStream(c.eventsURL(), c.opts.StreamClient, c.opts.ReconnectDelay, "music", c.logger)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_ = stream.Run(runCtx, func(ev sse.Event) {
			if ev.IsMessage() {
				c.HandleMessage(runCtx, []byte(ev.Data))
			}
		})
	}()
}

// Close stops the push channel. Safe to call more than once.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		cancel := c.cancel
		c.mu.Unlock()
		cancel()
		c.wg.Wait()
	})
}

func (c *Controller) eventsURL() string {
	channels := []string{"events"}
	for _, s := range c.opts.Streams {
		channels = append(channels, "events-"+url.QueryEscape(s))
	}
	return c.opts.BaseURL + "/api/events?password=" + url.QueryEscape(c.opts.Password) +
		"&channels=" + strings.Join(channels, ",")
}

// TrackList returns the track pool, fetching it once. Concurrent first calls
// share one request, and tracks pushed while it was in flight are kept.
func (c *Controller) TrackList(ctx context.Context) (models.TrackMap, error) {
	c.mu.Lock()
	if c.poolLoaded {
		out := c.copyPool()
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	_, err, _ := c.group.Do("tracks", func() (any, error) {
		var body struct {
			Tracks models.TrackMap `json:"tracks"`
		}
		if err := c.getJSON(ctx, "/api/tracks", &body); err != nil {
			return nil, err
		}
		c.mu.Lock()
		for id, t := range body.Tracks {
			c.pool[id] = t
		}
		c.poolLoaded = true
		c.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copyPool(), nil
}

func (c *Controller) copyPool() models.TrackMap {
	out := make(models.TrackMap, len(c.pool))
	for id, t := range c.pool {
		out[id] = t
	}
	return out
}

// Track resolves one track id against the pool.
func (c *Controller) Track(ctx context.Context, id string) (models.Track, error) {
	tracks, err := c.TrackList(ctx)
	if err != nil {
		return models.Track{}, err
	}
	t, ok := tracks[id]
	if !ok {
		return models.Track{}, fmt.Errorf("%w: %s", ErrUnknownTrack, id)
	}
	return t, nil
}

// UpNext returns the raw queue of a stream, empty placeholders included.
func (c *Controller) UpNext(ctx context.Context, stream string) ([]string, error) {
	c.mu.Lock()
	if q, ok := c.upNext[stream]; ok {
		out := append([]string(nil), q...)
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	_, err, _ := c.group.Do("upnext:"+stream, func() (any, error) {
		var body struct {
			UpNext []string `json:"upNext"`
		}
		if err := c.getJSON(ctx, c.streamPath(stream, "upnext"), &body); err != nil {
			return nil, err
		}
		c.mu.Lock()
		if _, ok := c.upNext[stream]; !ok {
			c.upNext[stream] = body.UpNext
		}
		c.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.upNext[stream]...), nil
}

// StreamState returns the normalized playback state of a stream.
func (c *Controller) StreamState(ctx context.Context, stream string) (models.StreamState, error) {
	c.mu.Lock()
	if raw, ok := c.states[stream]; ok {
		c.mu.Unlock()
		return raw.Normalize(), nil
	}
	c.mu.Unlock()

	_, err, _ := c.group.Do("state:"+stream, func() (any, error) {
		var body struct {
			State models.RawStreamState `json:"state"`
		}
		if err := c.getJSON(ctx, c.streamPath(stream, "state"), &body); err != nil {
			return nil, err
		}
		c.mu.Lock()
		// A push that landed meanwhile is newer than this reply.
		if _, ok := c.states[stream]; !ok {
			c.states[stream] = body.State
		}
		c.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		return models.StreamState{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[stream].Normalize(), nil
}

// AddToUpNext appends a track to a stream's queue.
func (c *Controller) AddToUpNext(ctx context.Context, stream, trackID string) error {
	form := url.Values{"trackId": {trackID}}
	return c.send(ctx, http.MethodPut, c.streamPath(stream, "upnext"), nil, form)
}

// RemoveUpNext removes the queue slot at index. Indexes are positions in the
// raw queue as last seen, not track ids.
func (c *Controller) RemoveUpNext(ctx context.Context, stream string, index int) error {
	q := url.Values{"index": {strconv.Itoa(index)}}
	return c.send(ctx, http.MethodDelete, c.streamPath(stream, "upnext"), q, nil)
}

// Play starts playback.
func (c *Controller) Play(ctx context.Context, stream string) error {
	return c.patchState(ctx, stream, map[string]string{"playing": "true"})
}

// Stop stops playback.
func (c *Controller) Stop(ctx context.Context, stream string) error {
	return c.patchState(ctx, stream, map[string]string{"playing": "false"})
}

// Skip advances to the next track.
func (c *Controller) Skip(ctx context.Context, stream string) error {
	return c.patchState(ctx, stream, map[string]string{"skip": "true"})
}

// SetAutoplay toggles automatic queue refill.
func (c *Controller) SetAutoplay(ctx context.Context, stream string, enabled bool) error {
	return c.patchState(ctx, stream, map[string]string{"autoplay": strconv.FormatBool(enabled)})
}

// patchState merges string fields into the server state in one request.
func (c *Controller) patchState(ctx context.Context, stream string, fields map[string]string) error {
	form := make(url.Values, len(fields))
	for k, v := range fields {
		form.Set(k, v)
	}
	return c.send(ctx, http.MethodPatch, c.streamPath(stream, "state"), nil, form)
}

func (c *Controller) streamPath(stream, leaf string) string {
	return "/api/streams/" + url.PathEscape(stream) + "/" + leaf
}

func (c *Controller) endpoint(path string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	query.Set("password", c.opts.Password)
	return c.opts.BaseURL + path + "?" + query.Encode()
}

func (c *Controller) getJSON(ctx context.Context, path string, v any) error {
	// Shared flights must not die with whichever caller started them.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path, nil), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.opts.Client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Controller) send(ctx context.Context, method, path string, query, form url.Values) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.opts.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	return nil
}
