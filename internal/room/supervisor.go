/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package room owns the control socket of one OBS instance per room.
package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/friendsincode/stagehand/internal/events"
	"github.com/friendsincode/stagehand/internal/models"
	"github.com/friendsincode/stagehand/internal/obs"
	"github.com/friendsincode/stagehand/internal/telemetry"
)

// ErrDisconnected is returned for commands issued while the socket is down.
var ErrDisconnected = errors.New("room: not connected")

// Conn is the control socket a Supervisor drives.
type Conn interface {
	obs.Sender
	On(eventType string, fn func(obs.Event)) func()
	OnClose(fn func(error)) func()
	Close() error
}

// DialFunc opens a control socket.
type DialFunc func(ctx context.Context, address, password string, logger zerolog.Logger) (Conn, error)

// DialOBS dials a real obs-websocket server.
func DialOBS(ctx context.Context, address, password string, logger zerolog.Logger) (Conn, error) {
	c, err := obs.Dial(ctx, address, password, logger)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Names are the scene, source and filter names a room's OBS profile uses.
type Names struct {
	PanelScene       string
	TechScene        string
	PanelSource      string
	FeedSource       string
	WatermarkSource  string
	CompressorFilter string
	GainFilter       string
	TitleMusicSource string
	StandbyFile      string
}

// Options configure a Supervisor.
type Options struct {
	Room           string
	Endpoint       string
	Password       string
	ReconnectDelay time.Duration
	RequestTimeout time.Duration
	VolumeDebounce time.Duration
	RebootDelay    time.Duration
	Names          Names
	Dial           DialFunc

	// PanelFitInterval enables the panel auto-fit loop when positive.
	PanelFitInterval time.Duration

	// GainPollInterval refreshes the extra gain setting when positive.
	GainPollInterval time.Duration
}

// Supervisor keeps one control socket connected for as long as it runs.
// State moves Disconnected -> Connecting -> Connected and back, retrying
// after a constant delay forever.
type Supervisor struct {
	opts   Options
	bus    *events.Bus
	logger zerolog.Logger

	// after is swapped in tests to control the retry clock.
	after func(time.Duration) <-chan time.Time

	mu       sync.RWMutex
	state    models.ConnectionState
	conn     Conn
	status   models.StreamStatus
	volumes  map[string]float64
	panel    models.PanelSettings
	attempts int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSupervisor creates a supervisor in the Disconnected state.
func NewSupervisor(opts Options, bus *events.Bus, logger zerolog.Logger) *Supervisor {
	if opts.Dial == nil {
		opts.Dial = DialOBS
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 10 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.VolumeDebounce <= 0 {
		opts.VolumeDebounce = 500 * time.Millisecond
	}
	if opts.RebootDelay <= 0 {
		opts.RebootDelay = time.Second
	}
	return &Supervisor{
		opts:    opts,
		bus:     bus,
		logger:  logger.With().Str("component", "room").Str("room", opts.Room).Logger(),
		after:   time.After,
		state:   models.ConnectionState{Phase: models.PhaseDisconnected},
		volumes: make(map[string]float64),
		stopCh:  make(chan struct{}),
	}
}

// Room returns the room name.
func (s *Supervisor) Room() string {
	return s.opts.Room
}

// Names returns the configured OBS names.
func (s *Supervisor) Names() Names {
	return s.opts.Names
}

// Start runs the connection loop in the background.
func (s *Supervisor) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop tears the socket down and waits for the loop to exit.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

// State returns a copy of the current connection state.
func (s *Supervisor) State() models.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	st.Scenes = append([]string(nil), s.state.Scenes...)
	return st
}

// Attempts returns how many connects have been tried.
func (s *Supervisor) Attempts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attempts
}

// StreamStatus returns the latest stream statistics.
func (s *Supervisor) StreamStatus() models.StreamStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// PanelSettings returns the last known panel toggles.
func (s *Supervisor) PanelSettings() models.PanelSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.panel
}

// TransitionSafe reports whether changing the feed would not cut what viewers
// see: the program scene is known and is not the panel scene.
func (s *Supervisor) TransitionSafe() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.Phase != models.PhaseConnected || s.state.CurrentScene == "" {
		return false
	}
	return s.state.CurrentScene != s.opts.Names.PanelScene
}

// Send issues a request on the live socket.
func (s *Supervisor) Send(ctx context.Context, requestType string, args map[string]any) (obs.Response, error) {
	conn := s.currentConn()
	if conn == nil {
		return obs.Response{}, ErrDisconnected
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()
	return conn.Send(ctx, requestType, args)
}

func (s *Supervisor) currentConn() Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.Phase != models.PhaseConnected {
		return nil
	}
	return s.conn
}

func (s *Supervisor) run(ctx context.Context) {
	defer s.wg.Done()
	policy := backoff.NewConstantBackOff(s.opts.ReconnectDelay)

	for {
		if s.stopping(ctx) {
			return
		}

		sess, err := s.connect(ctx)
		if err != nil {
			telemetry.RoomConnectAttempts.WithLabelValues(s.opts.Room, "failure").Inc()
			s.logger.Warn().Err(err).Str("endpoint", s.opts.Endpoint).Msg("connection failed")
			s.setState(models.ConnectionState{Phase: models.PhaseDisconnected})
		} else {
			telemetry.RoomConnectAttempts.WithLabelValues(s.opts.Room, "success").Inc()
			select {
			case reason := <-sess.closed:
				s.logger.Warn().Err(reason).Msg("connection closed, retrying")
				sess.teardown()
				s.setState(models.ConnectionState{Phase: models.PhaseDisconnected})
			case <-ctx.Done():
				sess.teardown()
				s.setState(models.ConnectionState{Phase: models.PhaseDisconnected})
				return
			case <-s.stopCh:
				sess.teardown()
				s.setState(models.ConnectionState{Phase: models.PhaseDisconnected})
				return
			}
		}

		select {
		case <-s.after(policy.NextBackOff()):
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}
}

func (s *Supervisor) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// session is one established socket plus everything hung off it.
type session struct {
	sup      *Supervisor
	conn     Conn
	closed   chan error
	offClose func()
	offs     []func()
	volume   *debouncer
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	once     sync.Once
}

// teardown unregisters the close handler before closing the socket so the
// self-inflicted close does not look like a drop.
func (sess *session) teardown() {
	sess.once.Do(func() {
		sess.offClose()
		for _, off := range sess.offs {
			off()
		}
		sess.volume.Stop()
		sess.cancel()
		_ = sess.conn.Close()
		sess.wg.Wait()

		sess.sup.mu.Lock()
		if sess.sup.conn == sess.conn {
			sess.sup.conn = nil
		}
		sess.sup.mu.Unlock()
	})
}

func (s *Supervisor) connect(ctx context.Context) (*session, error) {
	s.mu.Lock()
	s.attempts++
	s.mu.Unlock()
	s.setState(models.ConnectionState{Phase: models.PhaseConnecting})

	dialCtx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	conn, err := s.opts.Dial(dialCtx, s.opts.Endpoint, s.opts.Password, s.logger)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(ctx)
	sess := &session{
		sup:    s,
		conn:   conn,
		closed: make(chan error, 1),
		cancel: sessCancel,
	}
	sess.offClose = conn.OnClose(func(err error) {
		select {
		case sess.closed <- err:
		default:
		}
	})
	sess.volume = newDebouncer(s.opts.VolumeDebounce, s.volumeSettled)
	sess.offs = s.subscribe(sess)

	list, err := obs.GetSceneList(dialCtx, conn)
	if err != nil {
		sess.teardown()
		return nil, fmt.Errorf("scene list: %w", err)
	}
	current := list.CurrentScene
	if current == "" {
		current, err = obs.GetCurrentScene(dialCtx, conn)
		if err != nil {
			sess.teardown()
			return nil, fmt.Errorf("current scene: %w", err)
		}
	}
	streaming, err := obs.GetStreamingStatus(dialCtx, conn)
	if err != nil {
		s.logger.Debug().Err(err).Msg("streaming status unavailable")
	}

	s.mu.Lock()
	s.conn = conn
	s.status = models.StreamStatus{Streaming: streaming}
	s.volumes = make(map[string]float64)
	s.mu.Unlock()

	s.setState(models.ConnectionState{
		Phase:        models.PhaseConnected,
		CurrentScene: current,
		Scenes:       list.Names(),
		Streaming:    streaming,
	})
	s.logger.Info().Str("scene", current).Int("scenes", len(list.Scenes)).Msg("connected")

	if s.opts.Names.PanelSource != "" {
		sess.wg.Add(1)
		go func() {
			defer sess.wg.Done()
			if err := s.RefreshPanelSettings(sessCtx); err != nil {
				s.logger.Debug().Err(err).Msg("panel settings unavailable")
			}
		}()
	}
	if s.opts.PanelFitInterval > 0 {
		sess.wg.Add(1)
		go func() {
			defer sess.wg.Done()
			s.panelFitLoop(sessCtx, s.opts.PanelFitInterval)
		}()
	}
	if s.opts.GainPollInterval > 0 {
		sess.wg.Add(1)
		go func() {
			defer sess.wg.Done()
			s.gainPollLoop(sessCtx, s.opts.GainPollInterval)
		}()
	}

	return sess, nil
}

func (s *Supervisor) subscribe(sess *session) []func() {
	conn := sess.conn
	return []func(){
		conn.On(obs.EventSwitchScenes, func(ev obs.Event) {
			var body obs.SwitchScenesEvent
			if err := ev.Decode(&body); err != nil {
				return
			}
			s.updateState(func(st *models.ConnectionState) { st.CurrentScene = body.SceneName })
			s.bus.Publish(s.opts.Room, events.SceneChanged{Room: s.opts.Room, Scene: body.SceneName})
		}),
		conn.On(obs.EventScenesChanged, func(obs.Event) {
			// Requests cannot be issued from the reader goroutine.
			go s.refreshScenes(conn)
		}),
		conn.On(obs.EventStreamStatus, func(ev obs.Event) {
			var body obs.StreamStatusEvent
			if err := ev.Decode(&body); err != nil {
				return
			}
			status := models.StreamStatus{
				Streaming:        body.Streaming,
				FPS:              body.FPS,
				KbitsPerSec:      body.KbitsPerSec,
				CPUUsage:         body.CPUUsage,
				TotalStreamTime:  body.TotalStreamTime,
				NumTotalFrames:   body.NumTotalFrames,
				NumDroppedFrames: body.NumDroppedFrames,
			}
			s.mu.Lock()
			s.status = status
			s.mu.Unlock()
			s.setStreaming(body.Streaming)
			s.bus.Publish(s.opts.Room, events.StreamStatusUpdated{Room: s.opts.Room, Status: status})
		}),
		conn.On(obs.EventStreamStarted, func(obs.Event) {
			s.setStreaming(true)
		}),
		conn.On(obs.EventStreamStopped, func(obs.Event) {
			s.mu.Lock()
			s.status = models.StreamStatus{}
			s.mu.Unlock()
			s.setStreaming(false)
			s.bus.Publish(s.opts.Room, events.StreamStatusUpdated{Room: s.opts.Room})
		}),
		conn.On(obs.EventSourceVolumeChanged, func(ev obs.Event) {
			var body obs.SourceVolumeChangedEvent
			if err := ev.Decode(&body); err != nil {
				return
			}
			sess.volume.Trigger(body.SourceName, body.Volume)
		}),
		conn.On(obs.EventSourceFilterVisibilityChanged, func(ev obs.Event) {
			var body obs.SourceFilterVisibilityChangedEvent
			if err := ev.Decode(&body); err != nil {
				return
			}
			if body.SourceName != s.opts.Names.PanelSource || body.FilterName != s.opts.Names.CompressorFilter {
				return
			}
			s.updatePanel(func(p *models.PanelSettings) { p.Compressor = body.FilterEnabled })
		}),
		conn.On(obs.EventSceneItemVisibilityChanged, func(ev obs.Event) {
			var body obs.SceneItemVisibilityChangedEvent
			if err := ev.Decode(&body); err != nil {
				return
			}
			if body.SceneName != s.opts.Names.PanelScene || body.ItemName != s.opts.Names.WatermarkSource {
				return
			}
			s.updatePanel(func(p *models.PanelSettings) { p.Watermark = body.ItemVisible })
		}),
	}
}

func (s *Supervisor) refreshScenes(conn Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.RequestTimeout)
	defer cancel()
	list, err := obs.GetSceneList(ctx, conn)
	if err != nil {
		s.logger.Warn().Err(err).Msg("scene list refresh failed")
		return
	}
	s.updateState(func(st *models.ConnectionState) {
		st.Scenes = list.Names()
		if list.CurrentScene != "" {
			st.CurrentScene = list.CurrentScene
		}
	})
}

func (s *Supervisor) volumeSettled(source string, volume float64) {
	s.mu.Lock()
	s.volumes[source] = volume
	s.mu.Unlock()
	s.bus.Publish(s.opts.Room, events.VolumeChanged{Room: s.opts.Room, Source: source, Volume: volume})
}

func (s *Supervisor) setStreaming(streaming bool) {
	s.mu.RLock()
	same := s.state.Streaming == streaming
	s.mu.RUnlock()
	if same {
		return
	}
	s.updateState(func(st *models.ConnectionState) { st.Streaming = streaming })
}

func (s *Supervisor) updatePanel(fn func(*models.PanelSettings)) {
	s.mu.Lock()
	fn(&s.panel)
	settings := s.panel
	s.mu.Unlock()
	s.bus.Publish(s.opts.Room, events.PanelSettingsChanged{Room: s.opts.Room, Settings: settings})
}

// updateState mutates a connected state and publishes it. It is a no-op
// once the socket has dropped.
func (s *Supervisor) updateState(fn func(*models.ConnectionState)) {
	s.mu.Lock()
	if s.state.Phase != models.PhaseConnected {
		s.mu.Unlock()
		return
	}
	fn(&s.state)
	st := s.state
	st.Scenes = append([]string(nil), s.state.Scenes...)
	s.mu.Unlock()
	s.bus.Publish(s.opts.Room, events.ConnectionStateChanged{Room: s.opts.Room, State: st})
}

func (s *Supervisor) setState(st models.ConnectionState) {
	s.mu.Lock()
	prev := s.state.Phase
	s.state = st
	s.mu.Unlock()

	telemetry.RoomConnectionState.WithLabelValues(s.opts.Room).Set(phaseValue(st.Phase))
	if prev == st.Phase && st.Phase != models.PhaseConnected {
		return
	}
	st.Scenes = append([]string(nil), st.Scenes...)
	s.bus.Publish(s.opts.Room, events.ConnectionStateChanged{Room: s.opts.Room, State: st})
}

func phaseValue(p models.ConnectionPhase) float64 {
	switch p {
	case models.PhaseConnecting:
		return 1
	case models.PhaseConnected:
		return 2
	default:
		return 0
	}
}
