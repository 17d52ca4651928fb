/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package liveness tracks which incoming streams are currently live.
package liveness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/stagehand/internal/events"
	"github.com/friendsincode/stagehand/internal/models"
	"github.com/friendsincode/stagehand/internal/sse"
	"github.com/friendsincode/stagehand/internal/telemetry"
)

// ErrNotReady is returned before the initial snapshot has loaded.
var ErrNotReady = errors.New("liveness: snapshot not loaded")

// SnapshotStore keeps the last good mapping across restarts.
type SnapshotStore interface {
	SaveStreams(ctx context.Context, streams map[string]models.Stream) error
	LoadStreams(ctx context.Context) (map[string]models.Stream, error)
}

// Options configure a Tracker.
type Options struct {
	BaseURL        string
	Password       string
	ReconnectDelay time.Duration
	Store          SnapshotStore

	// Client is used for snapshot and roster requests.
	Client *http.Client

	// StreamClient is used for the push channel and must not time out.
	StreamClient *http.Client
}

// Tracker holds the stream mapping: a snapshot followed by push updates.
type Tracker struct {
	opts   Options
	bus    *events.Bus
	logger zerolog.Logger

	mu      sync.RWMutex
	ready   bool
	stale   bool
	streams map[string]models.Stream

	runCtx    context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewTracker creates an unstarted tracker.
func NewTracker(opts Options, bus *events.Bus, logger zerolog.Logger) *Tracker {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.StreamClient == nil {
		opts.StreamClient = &http.Client{}
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 10 * time.Second
	}
	runCtx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		opts:    opts,
		bus:     bus,
		logger:  logger.With().Str("component", "liveness").Logger(),
		streams: make(map[string]models.Stream),
		runCtx:  runCtx,
		cancel:  cancel,
	}
}

func (t *Tracker) endpoint(path string) string {
	return t.opts.BaseURL + path + "?password=" + url.QueryEscape(t.opts.Password)
}

// Start loads the initial snapshot, retrying on the reconnect delay, then
// opens the push channel in the background. It returns once the mapping is
// ready or ctx is done.
func (t *Tracker) Start(ctx context.Context) error {
	runCtx := t.runCtx
	for {
		err := t.loadSnapshot(ctx)
		if err == nil {
			break
		}
		t.logger.Warn().Err(err).Dur("retry_in", t.opts.ReconnectDelay).Msg("stream snapshot failed")
		if t.loadStored(ctx) {
			break
		}

		timer := time.NewTimer(t.opts.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-runCtx.Done():
			timer.Stop()
			return runCtx.Err()
		case <-timer.C:
		}
	}

	stream := sse.NewStream(t.endpoint("/api/stream_updates"), t.opts.StreamClient, t.opts.ReconnectDelay, "liveness", t.logger)
	stream.OnConnect = func(ctx context.Context, reconnect bool) {
		t.mu.RLock()
		stale := t.stale
		t.mu.RUnlock()
		if reconnect || stale {
			t.resync(ctx)
		}
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		_ = stream.Run(runCtx, func(ev sse.Event) {
			if ev.IsMessage() {
				t.HandleMessage(ev.Data)
			}
		})
	}()
	return nil
}

// Close stops the push channel. Safe to call more than once.
func (t *Tracker) Close() {
	t.closeOnce.Do(func() {
		t.cancel()
		t.wg.Wait()
	})
}

// Ready reports whether the mapping has loaded.
func (t *Tracker) Ready() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ready
}

// Mapping returns a copy of the stream mapping. ok is false until the
// initial snapshot completes, which tells "not ready" apart from "empty".
func (t *Tracker) Mapping() (map[string]models.Stream, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.ready {
		return nil, false
	}
	out := make(map[string]models.Stream, len(t.streams))
	for k, v := range t.streams {
		out[k] = v
	}
	return out, true
}

// Streams is Mapping with ErrNotReady in place of the ok flag.
func (t *Tracker) Streams() (map[string]models.Stream, error) {
	m, ok := t.Mapping()
	if !ok {
		return nil, ErrNotReady
	}
	return m, nil
}

// Get returns one stream.
func (t *Tracker) Get(key string) (models.Stream, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.streams[key]
	return s, ok && t.ready
}

// HandleMessage applies one "<alive>|<key>" push message. Unknown keys are
// ignored.
func (t *Tracker) HandleMessage(data string) {
	parts := strings.Split(data, "|")
	if len(parts) < 2 {
		telemetry.PushMessagesTotal.WithLabelValues("liveness", "malformed").Inc()
		t.logger.Debug().Str("data", data).Msg("malformed liveness message")
		return
	}
	alive, key := parseAlive(parts[0]), parts[1]

	t.mu.Lock()
	s, ok := t.streams[key]
	if !ok {
		t.mu.Unlock()
		telemetry.PushMessagesTotal.WithLabelValues("liveness", "unknown").Inc()
		return
	}
	s.Live = alive
	t.streams[key] = s
	t.mu.Unlock()

	telemetry.PushMessagesTotal.WithLabelValues("liveness", "applied").Inc()
	t.logger.Debug().Str("stream", key).Bool("live", alive).Msg("stream updated")
	t.bus.Publish(key, events.StreamUpdated{Stream: s})
}

// parseAlive treats any non-zero number as live; anything unparseable is not.
func parseAlive(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) {
		return false
	}
	return f != 0
}

type snapshot struct {
	Streams map[string]models.Stream `json:"streams"`
}

func (t *Tracker) fetchSnapshot(ctx context.Context) (map[string]models.Stream, error) {
	var snap snapshot
	if err := t.getJSON(ctx, "/api/streams", &snap); err != nil {
		return nil, err
	}
	if snap.Streams == nil {
		snap.Streams = map[string]models.Stream{}
	}
	for id, s := range snap.Streams {
		if s.Key == "" {
			s.Key = id
			snap.Streams[id] = s
		}
	}
	return snap.Streams, nil
}

func (t *Tracker) loadSnapshot(ctx context.Context) error {
	streams, err := t.fetchSnapshot(ctx)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.streams = streams
	t.ready = true
	t.stale = false
	t.mu.Unlock()

	t.logger.Info().Int("streams", len(streams)).Msg("stream snapshot loaded")
	t.save(ctx, streams)
	return nil
}

func (t *Tracker) loadStored(ctx context.Context) bool {
	if t.opts.Store == nil {
		return false
	}
	streams, err := t.opts.Store.LoadStreams(ctx)
	if err != nil || streams == nil {
		return false
	}
	t.mu.Lock()
	t.streams = streams
	t.ready = true
	t.stale = true
	t.mu.Unlock()
	t.logger.Warn().Int("streams", len(streams)).Msg("serving cached stream snapshot")
	return true
}

func (t *Tracker) save(ctx context.Context, streams map[string]models.Stream) {
	if t.opts.Store == nil {
		return
	}
	if err := t.opts.Store.SaveStreams(ctx, streams); err != nil {
		t.logger.Debug().Err(err).Msg("snapshot not cached")
	}
}

// resync refetches the snapshot after the push channel was down and emits
// a notification for every stream whose liveness changed meanwhile. The
// fresh snapshot is merged in; streams it no longer lists are kept.
func (t *Tracker) resync(ctx context.Context) {
	fresh, err := t.fetchSnapshot(ctx)
	if err != nil {
		t.logger.Warn().Err(err).Msg("stream resync failed")
		return
	}

	t.mu.Lock()
	if t.streams == nil {
		t.streams = make(map[string]models.Stream, len(fresh))
	}
	var changed []models.Stream
	for key, s := range fresh {
		old, ok := t.streams[key]
		if !ok || old.Live != s.Live {
			changed = append(changed, s)
		}
		t.streams[key] = s
	}
	merged := make(map[string]models.Stream, len(t.streams))
	for key, s := range t.streams {
		merged[key] = s
	}
	t.ready = true
	t.stale = false
	t.mu.Unlock()

	t.save(ctx, merged)
	for _, s := range changed {
		t.bus.Publish(s.Key, events.StreamUpdated{Stream: s})
	}
	t.logger.Debug().Int("changed", len(changed)).Msg("stream mapping resynced")
}

type roster struct {
	Outputs []models.Output `json:"outputs"`
}

// FetchOutputs reads the room roster from the tracker.
func (t *Tracker) FetchOutputs(ctx context.Context) ([]models.Output, error) {
	var r roster
	if err := t.getJSON(ctx, "/api/outputs", &r); err != nil {
		return nil, err
	}
	return r.Outputs, nil
}

func (t *Tracker) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint(path), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := t.opts.Client.Do(req)
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
