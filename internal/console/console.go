/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package console is the composition root: it owns the shared backend
// clients and one RoomController per room.
package console

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/stagehand/internal/config"
	"github.com/friendsincode/stagehand/internal/events"
	"github.com/friendsincode/stagehand/internal/liveness"
	"github.com/friendsincode/stagehand/internal/models"
	"github.com/friendsincode/stagehand/internal/music"
	"github.com/friendsincode/stagehand/internal/registry"
	"github.com/friendsincode/stagehand/internal/room"
	"github.com/friendsincode/stagehand/internal/schedule"
)

var (
	// ErrUnknownRoom is returned for room names not on the roster.
	ErrUnknownRoom = errors.New("console: unknown room")

	// ErrMusicDisabled is returned by music commands when no music service
	// is configured.
	ErrMusicDisabled = errors.New("console: music control not configured")
)

// Options configure a Console.
type Options struct {
	RoomSettings

	TrackerURL  string
	MusicURL    string
	ScheduleURL string

	// Rooms is the static roster. When empty the roster is read from the
	// stream tracker.
	Rooms []config.Room

	ScheduleRefresh time.Duration
	StreamStore     liveness.SnapshotStore
	ScheduleStore   schedule.SnapshotStore

	// Client is used for REST calls to the backends.
	Client *http.Client
}

// OptionsFromConfig maps process configuration onto console options.
func OptionsFromConfig(cfg *config.Config, rooms []config.Room) Options {
	return Options{
		RoomSettings: RoomSettings{
			Password:            cfg.Password,
			RTMPBase:            cfg.RTMPIngestBase,
			ReconnectDelay:      cfg.ReconnectDelay,
			RequestTimeout:      cfg.RequestTimeout,
			VolumeDebounce:      cfg.VolumeDebounce,
			PanelFitInterval:    cfg.PanelFitInterval,
			ConfirmationTimeout: cfg.ConfirmationTimeout,
			NotStreamingMessage: cfg.NotStreamingMessage,
			Names: room.Names{
				PanelScene:       cfg.PanelScene,
				TechScene:        cfg.TechScene,
				PanelSource:      cfg.PanelSource,
				FeedSource:       cfg.FeedSource,
				WatermarkSource:  cfg.WatermarkSource,
				CompressorFilter: cfg.CompressorFilter,
				GainFilter:       cfg.GainFilter,
				TitleMusicSource: cfg.TitleMusicSource,
				StandbyFile:      cfg.StandbyFile,
			},
		},
		TrackerURL:      cfg.StreamTrackerURL,
		MusicURL:        cfg.MusicControlURL,
		ScheduleURL:     cfg.ScheduleURL,
		Rooms:           rooms,
		ScheduleRefresh: cfg.ScheduleRefresh,
	}
}

// Console owns every room and the backend clients they share.
type Console struct {
	opts   Options
	bus    *events.Bus
	logger zerolog.Logger

	trackers *registry.Registry[*liveness.Tracker]
	musics   *registry.Registry[*music.Controller]

	tracker  *liveness.Tracker
	music    *music.Controller
	schedule *schedule.Client
	releases []func()

	mu    sync.RWMutex
	rooms map[string]*RoomController
	order []string

	closeOnce sync.Once
}

// New creates an unstarted console.
func New(opts Options, bus *events.Bus, logger zerolog.Logger) *Console {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	c := &Console{
		opts:   opts,
		bus:    bus,
		logger: logger.With().Str("component", "console").Logger(),
		rooms:  make(map[string]*RoomController),
	}
	c.trackers = registry.New(c.newTracker, func(t *liveness.Tracker) { t.Close() })
	c.musics = registry.New(c.newMusic, func(m *music.Controller) { m.Close() })
	return c
}

func (c *Console) newTracker(_ context.Context, key registry.Key) (*liveness.Tracker, error) {
	t := liveness.NewTracker(liveness.Options{
		BaseURL:        key.Server,
		Password:       key.Password,
		ReconnectDelay: c.opts.ReconnectDelay,
		Store:          c.opts.StreamStore,
		Client:         c.opts.Client,
	}, c.bus, c.logger)
	go func() {
		if err := t.Start(context.Background()); err != nil {
			c.logger.Debug().Err(err).Msg("tracker start aborted")
		}
	}()
	return t, nil
}

func (c *Console) newMusic(ctx context.Context, key registry.Key) (*music.Controller, error) {
	c.mu.RLock()
	streams := append([]string(nil), c.order...)
	c.mu.RUnlock()

	m := music.NewController(music.Options{
		BaseURL:        key.Server,
		Password:       key.Password,
		Streams:        streams,
		ReconnectDelay: c.opts.ReconnectDelay,
		RequestTimeout: c.opts.RequestTimeout,
		Client:         c.opts.Client,
	}, c.bus, c.logger)
	m.Start(context.WithoutCancel(ctx))
	return m, nil
}

// Start acquires the shared clients, resolves the roster and connects every
// room. It blocks only while the roster is fetched from the tracker.
func (c *Console) Start(ctx context.Context) error {
	tracker, release, err := c.trackers.Acquire(ctx, registry.Key{Server: c.opts.TrackerURL, Password: c.opts.Password})
	if err != nil {
		return fmt.Errorf("stream tracker: %w", err)
	}
	c.tracker = tracker
	c.releases = append(c.releases, release)

	rooms, err := c.roster(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	for _, r := range rooms {
		c.order = append(c.order, r.Name)
	}
	c.mu.Unlock()

	if c.opts.MusicURL != "" {
		m, release, err := c.musics.Acquire(ctx, registry.Key{Server: c.opts.MusicURL, Password: c.opts.Password})
		if err != nil {
			return fmt.Errorf("music control: %w", err)
		}
		c.music = m
		c.releases = append(c.releases, release)
	}

	if c.opts.ScheduleURL != "" {
		c.schedule = schedule.NewClient(schedule.Options{
			URL:     c.opts.ScheduleURL,
			Refresh: c.opts.ScheduleRefresh,
			Store:   c.opts.ScheduleStore,
			Client:  c.opts.Client,
		}, c.bus, c.logger)
		go func() {
			if _, err := c.schedule.Get(context.WithoutCancel(ctx)); err != nil {
				c.logger.Warn().Err(err).Msg("initial schedule fetch failed")
			}
		}()
	}

	deps := RoomDeps{Bus: c.bus, Tracker: c.tracker, Music: c.music, Schedule: c.schedule}
	c.mu.Lock()
	for _, r := range rooms {
		rc := NewRoomController(r, c.opts.RoomSettings, deps, c.logger)
		c.rooms[r.Name] = rc
		rc.Start(context.WithoutCancel(ctx))
	}
	c.mu.Unlock()

	c.logger.Info().Int("rooms", len(rooms)).Bool("music", c.music != nil).Bool("schedule", c.schedule != nil).Msg("console started")
	return nil
}

// roster returns the configured rooms or fetches them from the tracker,
// retrying on the reconnect delay until ctx ends.
func (c *Console) roster(ctx context.Context) ([]config.Room, error) {
	if len(c.opts.Rooms) > 0 {
		return c.opts.Rooms, nil
	}
	delay := c.opts.ReconnectDelay
	if delay <= 0 {
		delay = 10 * time.Second
	}
	for {
		outputs, err := c.tracker.FetchOutputs(ctx)
		if err == nil {
			return RoomsFromOutputs(outputs), nil
		}
		c.logger.Warn().Err(err).Dur("retry_in", delay).Msg("room roster fetch failed")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("room roster: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// RoomsFromOutputs converts the tracker roster into room definitions.
func RoomsFromOutputs(outputs []models.Output) []config.Room {
	rooms := make([]config.Room, 0, len(outputs))
	for _, o := range outputs {
		rooms = append(rooms, config.Room{
			Name:       o.Name,
			Endpoint:   o.Endpoint,
			StreamKey:  o.Key,
			TechStream: o.TechStream,
		})
	}
	return rooms
}

// Close stops every room and releases the shared clients.
func (c *Console) Close() {
	c.closeOnce.Do(func() {
		c.mu.RLock()
		rooms := make([]*RoomController, 0, len(c.rooms))
		for _, rc := range c.rooms {
			rooms = append(rooms, rc)
		}
		c.mu.RUnlock()

		var wg sync.WaitGroup
		for _, rc := range rooms {
			wg.Add(1)
			go func(rc *RoomController) {
				defer wg.Done()
				rc.Stop()
			}(rc)
		}
		wg.Wait()

		if c.schedule != nil {
			c.schedule.Close()
		}
		for _, release := range c.releases {
			release()
		}
		c.musics.Close()
		c.trackers.Close()
		c.logger.Info().Msg("console stopped")
	})
}

// Rooms returns the room controllers in roster order.
func (c *Console) Rooms() []*RoomController {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*RoomController, 0, len(c.order))
	for _, name := range c.order {
		if rc, ok := c.rooms[name]; ok {
			out = append(out, rc)
		}
	}
	return out
}

// Room looks a room up by name.
func (c *Console) Room(name string) (*RoomController, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rc, ok := c.rooms[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRoom, name)
	}
	return rc, nil
}

// Views returns every room view in roster order.
func (c *Console) Views(ctx context.Context) []RoomView {
	rooms := c.Rooms()
	views := make([]RoomView, 0, len(rooms))
	for _, rc := range rooms {
		views = append(views, rc.View(ctx))
	}
	return views
}

// Tracker returns the shared liveness tracker.
func (c *Console) Tracker() *liveness.Tracker {
	return c.tracker
}

// Schedule returns the schedule client, nil when not configured.
func (c *Console) Schedule() *schedule.Client {
	return c.schedule
}

// Streams returns the liveness mapping sorted by key.
func (c *Console) Streams() ([]models.Stream, error) {
	if c.tracker == nil {
		return nil, liveness.ErrNotReady
	}
	m, err := c.tracker.Streams()
	if err != nil {
		return nil, err
	}
	out := make([]models.Stream, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
