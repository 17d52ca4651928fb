/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package schedule fetches and caches the published event schedule.
package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/friendsincode/stagehand/internal/events"
	"github.com/friendsincode/stagehand/internal/models"
	"github.com/friendsincode/stagehand/internal/telemetry"
)

// ErrUnavailable is returned when no schedule has ever been loaded.
var ErrUnavailable = errors.New("schedule: unavailable")

// SnapshotStore keeps the last good schedule across restarts.
type SnapshotStore interface {
	SaveSchedule(ctx context.Context, s *models.Schedule) error
	LoadSchedule(ctx context.Context) (*models.Schedule, error)
}

// Options configure a Client.
type Options struct {
	URL     string
	Refresh time.Duration
	Store   SnapshotStore
	Client  *http.Client
}

// Client memoizes the schedule and replaces it wholesale on a fixed interval.
// Readers get an immutable *models.Schedule; a refresh swaps the pointer.
type Client struct {
	opts   Options
	bus    *events.Bus
	logger zerolog.Logger
	group  singleflight.Group

	current atomic.Pointer[models.Schedule]
	armOnce sync.Once

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewClient creates a client. Nothing is fetched until the first Get.
func NewClient(opts Options, bus *events.Bus, logger zerolog.Logger) *Client {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Refresh <= 0 {
		opts.Refresh = time.Minute
	}
	return &Client{
		opts:   opts,
		bus:    bus,
		logger: logger.With().Str("component", "schedule").Logger(),
		stopCh: make(chan struct{}),
	}
}

// Get returns the current schedule. The first successful call arms the
// refresh loop; a failed first call may be retried.
func (c *Client) Get(ctx context.Context) (*models.Schedule, error) {
	if s := c.current.Load(); s != nil {
		return s, nil
	}

	v, err, _ := c.group.Do("schedule", func() (any, error) {
		if s := c.current.Load(); s != nil {
			return s, nil
		}
		s, err := c.fetch(ctx)
		if err != nil {
			telemetry.ScheduleRefreshesTotal.WithLabelValues("error").Inc()
			if stored := c.loadStored(ctx); stored != nil {
				c.current.Store(stored)
				c.arm()
				return stored, nil
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		c.replace(ctx, s)
		c.arm()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Schedule), nil
}

// Current returns the loaded schedule without fetching. It is nil before the
// first successful Get.
func (c *Client) Current() *models.Schedule {
	return c.current.Load()
}

// Close stops the refresh loop. Safe to call more than once.
func (c *Client) Close() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
}

func (c *Client) arm() {
	c.armOnce.Do(func() {
		c.wg.Add(1)
		go c.refreshLoop()
	})
}

func (c *Client) refreshLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.Refresh)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.Refresh(context.Background())
		}
	}
}

// Refresh fetches the schedule once. On failure the previous schedule stays.
func (c *Client) Refresh(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Refresh)
	defer cancel()

	s, err := c.fetch(ctx)
	if err != nil {
		telemetry.ScheduleRefreshesTotal.WithLabelValues("error").Inc()
		c.logger.Warn().Err(err).Msg("schedule refresh failed, keeping previous")
		return
	}
	c.replace(ctx, s)
}

func (c *Client) replace(ctx context.Context, s *models.Schedule) {
	c.current.Store(s)
	telemetry.ScheduleRefreshesTotal.WithLabelValues("ok").Inc()

	n := 0
	for _, evs := range s.Rooms {
		n += len(evs)
	}
	c.logger.Debug().Int("rooms", len(s.Rooms)).Int("events", n).Msg("schedule loaded")
	c.bus.Publish("", events.ScheduleRefreshed{Rooms: len(s.Rooms), Events: n})

	if c.opts.Store != nil {
		if err := c.opts.Store.SaveSchedule(ctx, s); err != nil {
			c.logger.Debug().Err(err).Msg("schedule not cached")
		}
	}
}

func (c *Client) loadStored(ctx context.Context) *models.Schedule {
	if c.opts.Store == nil {
		return nil
	}
	s, err := c.opts.Store.LoadSchedule(ctx)
	if err != nil || s == nil {
		return nil
	}
	c.logger.Warn().Time("fetched_at", s.FetchedAt).Msg("serving cached schedule")
	return s
}

type wireEvent struct {
	ID          string `json:"id"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	Title       string `json:"title"`
	Panelists   string `json:"panelists"`
	Description string `json:"description"`
	IsZoom      bool   `json:"isZoom"`
}

type wireSchedule struct {
	Rooms map[string][]wireEvent `json:"rooms"`
}

func (c *Client) fetch(ctx context.Context) (*models.Schedule, error) {
	if c.opts.URL == "" {
		return nil, errors.New("no schedule URL configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.opts.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get schedule: unexpected status %d", resp.StatusCode)
	}

	var wire wireSchedule
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}
	return convert(wire, time.Now())
}

func convert(wire wireSchedule, now time.Time) (*models.Schedule, error) {
	s := &models.Schedule{
		Rooms:     make(map[string][]models.ScheduleEvent, len(wire.Rooms)),
		FetchedAt: now,
	}
	for room, evs := range wire.Rooms {
		out := make([]models.ScheduleEvent, 0, len(evs))
		for _, ev := range evs {
			start, err := parseTime(ev.StartTime)
			if err != nil {
				return nil, fmt.Errorf("event %s start: %w", ev.ID, err)
			}
			end, err := parseTime(ev.EndTime)
			if err != nil {
				return nil, fmt.Errorf("event %s end: %w", ev.ID, err)
			}
			out = append(out, models.ScheduleEvent{
				ID:          ev.ID,
				StartTime:   start,
				EndTime:     end,
				Title:       ev.Title,
				Panelists:   ev.Panelists,
				Description: ev.Description,
				IsZoom:      ev.IsZoom,
			})
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
		s.Rooms[room] = out
	}
	return s, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

// parseTime accepts ISO 8601 with or without a zone; zoneless values are UTC.
func parseTime(v string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", v)
}

// Entries joins the events of one room with the stream mapping. An event's id
// is the key its panelists stream to.
func Entries(s *models.Schedule, room string, streams map[string]models.Stream, rtmpBase string) []models.ScheduleEntry {
	evs := s.Room(room)
	out := make([]models.ScheduleEntry, 0, len(evs))
	for _, ev := range evs {
		entry := models.ScheduleEntry{ScheduleEvent: ev}
		if st, ok := streams[ev.ID]; ok {
			st := st
			entry.Stream = &st
			entry.RTMPLink = rtmpBase + st.Key
		}
		out = append(out, entry)
	}
	return out
}
