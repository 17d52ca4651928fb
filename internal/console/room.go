/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package console

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/stagehand/internal/config"
	"github.com/friendsincode/stagehand/internal/events"
	"github.com/friendsincode/stagehand/internal/feedswitch"
	"github.com/friendsincode/stagehand/internal/liveness"
	"github.com/friendsincode/stagehand/internal/models"
	"github.com/friendsincode/stagehand/internal/music"
	"github.com/friendsincode/stagehand/internal/room"
	"github.com/friendsincode/stagehand/internal/schedule"
	"github.com/friendsincode/stagehand/internal/telemetry"
)

// ErrUnknownSource is returned for reboots of sources a room does not manage.
var ErrUnknownSource = errors.New("console: unknown source")

// RoomView is everything the console shows for one room.
type RoomView struct {
	Name       string                 `json:"name"`
	Endpoint   string                 `json:"endpoint"`
	StreamKey  string                 `json:"streamKey,omitempty"`
	Connection models.ConnectionState `json:"connection"`
	Safe       bool                   `json:"transitionSafe"`
	Status     models.StreamStatus    `json:"streamStatus"`
	Panel      models.PanelSettings   `json:"panelSettings"`

	TechStream string `json:"techStream,omitempty"`
	TechLive   bool   `json:"techLive"`

	Secondary *models.ConnectionState `json:"secondary,omitempty"`

	Schedule     []models.ScheduleEntry `json:"schedule,omitempty"`
	CurrentEvent *models.ScheduleEvent  `json:"currentEvent,omitempty"`

	PendingSwitch *feedswitch.Confirmation `json:"pendingSwitch,omitempty"`

	Music *MusicView `json:"music,omitempty"`
}

// MusicView is the background music state of a room's stream.
type MusicView struct {
	State  models.StreamState   `json:"state"`
	UpNext []models.UpNextEntry `json:"upNext"`
}

// RoomController wires the supervisors, the shared tracker, the music
// controller and the feed-switch policy of one room.
type RoomController struct {
	room      config.Room
	primary   *room.Supervisor
	secondary *room.Supervisor
	policy    *feedswitch.Policy

	tracker  *liveness.Tracker
	music    *music.Controller
	schedule *schedule.Client
	rtmpBase string

	bus    *events.Bus
	logger zerolog.Logger
}

// RoomDeps are the shared collaborators a RoomController borrows. Music and
// Schedule may be nil.
type RoomDeps struct {
	Bus      *events.Bus
	Tracker  *liveness.Tracker
	Music    *music.Controller
	Schedule *schedule.Client
}

// RoomSettings carry the per-process tuning applied to every room.
type RoomSettings struct {
	Password            string
	RTMPBase            string
	ReconnectDelay      time.Duration
	RequestTimeout      time.Duration
	VolumeDebounce      time.Duration
	PanelFitInterval    time.Duration
	ConfirmationTimeout time.Duration
	NotStreamingMessage string
	Names               room.Names
	Dial                room.DialFunc
}

// NewRoomController builds an unstarted controller for r.
func NewRoomController(r config.Room, settings RoomSettings, deps RoomDeps, logger zerolog.Logger) *RoomController {
	primary := room.NewSupervisor(room.Options{
		Room:             r.Name,
		Endpoint:         r.Endpoint,
		Password:         settings.Password,
		ReconnectDelay:   settings.ReconnectDelay,
		RequestTimeout:   settings.RequestTimeout,
		VolumeDebounce:   settings.VolumeDebounce,
		Names:            settings.Names,
		Dial:             settings.Dial,
		PanelFitInterval: settings.PanelFitInterval,
		GainPollInterval: settings.PanelFitInterval,
	}, deps.Bus, logger)

	var secondary *room.Supervisor
	var encoder feedswitch.Encoder
	if r.SecondaryEndpoint != "" {
		secondary = room.NewSupervisor(room.Options{
			Room:           r.Name + "/secondary",
			Endpoint:       r.SecondaryEndpoint,
			Password:       settings.Password,
			ReconnectDelay: settings.ReconnectDelay,
			RequestTimeout: settings.RequestTimeout,
			VolumeDebounce: settings.VolumeDebounce,
			Dial:           settings.Dial,
		}, deps.Bus, logger)
		encoder = secondary
	}

	policy := feedswitch.NewPolicy(feedswitch.Options{
		Room:                r.Name,
		FeedSource:          settings.Names.FeedSource,
		RTMPBase:            settings.RTMPBase,
		NotStreamingMessage: settings.NotStreamingMessage,
		ConfirmationTimeout: settings.ConfirmationTimeout,
	}, primary, encoder, deps.Bus, logger)

	return &RoomController{
		room:      r,
		primary:   primary,
		secondary: secondary,
		policy:    policy,
		tracker:   deps.Tracker,
		music:     deps.Music,
		schedule:  deps.Schedule,
		rtmpBase:  settings.RTMPBase,
		bus:       deps.Bus,
		logger:    logger.With().Str("component", "console").Str("room", r.Name).Logger(),
	}
}

// Name returns the room name.
func (rc *RoomController) Name() string {
	return rc.room.Name
}

// Config returns the room definition.
func (rc *RoomController) Config() config.Room {
	return rc.room
}

// Supervisor returns the primary OBS supervisor.
func (rc *RoomController) Supervisor() *room.Supervisor {
	return rc.primary
}

// Start connects the room's sockets.
func (rc *RoomController) Start(ctx context.Context) {
	rc.primary.Start(ctx)
	if rc.secondary != nil {
		rc.secondary.Start(ctx)
	}
}

// Stop disconnects the room's sockets.
func (rc *RoomController) Stop() {
	rc.primary.Stop()
	if rc.secondary != nil {
		rc.secondary.Stop()
	}
}

// View assembles the room view. Parts whose backend is unavailable are left
// empty rather than failing the whole view.
func (rc *RoomController) View(ctx context.Context) RoomView {
	v := RoomView{
		Name:       rc.room.Name,
		Endpoint:   rc.room.Endpoint,
		StreamKey:  rc.room.StreamKey,
		Connection: rc.primary.State(),
		Safe:       rc.primary.TransitionSafe(),
		Status:     rc.primary.StreamStatus(),
		Panel:      rc.primary.PanelSettings(),
		TechStream: rc.room.TechStream,
	}
	if rc.secondary != nil {
		st := rc.secondary.State()
		v.Secondary = &st
	}
	if c, ok := rc.policy.Pending(); ok {
		v.PendingSwitch = &c
	}

	streams, ready := rc.tracker.Mapping()
	if ready && rc.room.TechStream != "" {
		v.TechLive = streams[rc.room.TechStream].Live
	}

	if rc.schedule != nil {
		if s := rc.schedule.Current(); s != nil {
			v.Schedule = schedule.Entries(s, rc.room.Name, streams, rc.rtmpBase)
			if ev, ok := s.Current(rc.room.Name, time.Now()); ok {
				v.CurrentEvent = &ev
			}
		}
	}

	if rc.music != nil {
		if mv, err := rc.musicView(ctx); err == nil {
			v.Music = mv
		} else {
			rc.logger.Debug().Err(err).Msg("music state unavailable")
		}
	}
	return v
}

func (rc *RoomController) musicView(ctx context.Context) (*MusicView, error) {
	state, err := rc.music.StreamState(ctx, rc.room.Name)
	if err != nil {
		return nil, err
	}
	queue, err := rc.music.UpNext(ctx, rc.room.Name)
	if err != nil {
		return nil, err
	}
	return &MusicView{State: state, UpNext: models.UpNextEntries(queue)}, nil
}

// SetScene switches the program scene.
func (rc *RoomController) SetScene(ctx context.Context, scene string) error {
	err := rc.primary.SetScene(ctx, scene)
	rc.audit(models.AuditActionSceneSet, scene, err, nil)
	return err
}

// SwitchFeed requests a feed switch through the room's policy.
func (rc *RoomController) SwitchFeed(ctx context.Context, target models.FeedTarget) (feedswitch.Outcome, error) {
	ctx, span := telemetry.StartRoomSpan(ctx, "feed.switch", rc.room.Name,
		telemetry.AttrFeedKey.String(target.StreamKey),
		telemetry.AttrFeedFile.String(target.LocalFile),
		telemetry.AttrFeedZoom.Bool(target.Secondary),
	)
	outcome, err := rc.policy.RequestSwitch(ctx, target)
	telemetry.EndSpan(span, string(outcome), err)
	return outcome, err
}

// SwitchToEvent switches the feed to the stream of a scheduled event. Zoom
// events go through the secondary encoder.
func (rc *RoomController) SwitchToEvent(ctx context.Context, eventID string) (feedswitch.Outcome, error) {
	if rc.schedule == nil {
		return feedswitch.OutcomeRejected, schedule.ErrUnavailable
	}
	s, err := rc.schedule.Get(ctx)
	if err != nil {
		return feedswitch.OutcomeRejected, err
	}
	for _, ev := range s.Room(rc.room.Name) {
		if ev.ID != eventID {
			continue
		}
		target := models.FeedTarget{StreamKey: ev.ID, Secondary: ev.IsZoom}
		if st, ok := rc.tracker.Get(ev.ID); ok {
			target.StreamKey = st.Key
			if st.Prerec != "" && !st.Live {
				target = models.FeedTarget{LocalFile: st.Prerec}
			}
		}
		return rc.SwitchFeed(ctx, target)
	}
	return feedswitch.OutcomeRejected, fmt.Errorf("%w: no event %s in %s", feedswitch.ErrInvalidTarget, eventID, rc.room.Name)
}

// ResolveSwitch answers the pending feed switch confirmation.
func (rc *RoomController) ResolveSwitch(id string, confirm bool) error {
	return rc.policy.Resolve(id, confirm)
}

// PendingSwitch returns the feed switch awaiting confirmation, if any.
func (rc *RoomController) PendingSwitch() (feedswitch.Confirmation, bool) {
	return rc.policy.Pending()
}

// Volume returns a source's linear volume.
func (rc *RoomController) Volume(ctx context.Context, source string) (float64, error) {
	return rc.primary.Volume(ctx, source)
}

// SetVolume sets a source's linear volume.
func (rc *RoomController) SetVolume(ctx context.Context, source string, volume float64) error {
	err := rc.primary.SetVolume(ctx, source, volume)
	rc.audit(models.AuditActionVolumeSet, source, err, map[string]any{"volume": volume})
	return err
}

// StartStreaming starts the room's outgoing stream.
func (rc *RoomController) StartStreaming(ctx context.Context) error {
	err := rc.primary.StartStreaming(ctx)
	rc.audit(models.AuditActionStreamingStart, rc.room.StreamKey, err, nil)
	return err
}

// StopStreaming stops the room's outgoing stream.
func (rc *RoomController) StopStreaming(ctx context.Context) error {
	err := rc.primary.StopStreaming(ctx)
	rc.audit(models.AuditActionStreamingStop, rc.room.StreamKey, err, nil)
	return err
}

// RebootSource restarts the panel or feed source. which is "panel" or "tech".
func (rc *RoomController) RebootSource(ctx context.Context, which string) error {
	names := rc.primary.Names()
	var source string
	switch which {
	case "panel":
		source = names.PanelSource
	case "tech", "feed":
		source = names.FeedSource
	default:
		return fmt.Errorf("%w: %s", ErrUnknownSource, which)
	}
	err := rc.primary.RebootSource(ctx, source)
	rc.audit(models.AuditActionSourceReboot, source, err, nil)
	return err
}

// ResetTitleMusic restarts the title music source.
func (rc *RoomController) ResetTitleMusic(ctx context.Context) error {
	err := rc.primary.ResetTitleMusic(ctx)
	rc.audit(models.AuditActionSourceReboot, rc.primary.Names().TitleMusicSource, err, nil)
	return err
}

// PanelSettings returns the panel toggles, refreshed from OBS.
func (rc *RoomController) PanelSettings(ctx context.Context) (models.PanelSettings, error) {
	if err := rc.primary.RefreshPanelSettings(ctx); err != nil {
		return models.PanelSettings{}, err
	}
	return rc.primary.PanelSettings(), nil
}

// ApplyPanelSettings writes the panel toggles that differ from OBS.
func (rc *RoomController) ApplyPanelSettings(ctx context.Context, want models.PanelSettings) error {
	err := rc.primary.ApplyPanelSettings(ctx, want)
	rc.audit(models.AuditActionPanelSettings, rc.room.Name, err, map[string]any{
		"watermark":  want.Watermark,
		"compressor": want.Compressor,
		"extra_gain": want.ExtraGain,
	})
	return err
}

// Preview returns a png data URI of the incoming feed.
func (rc *RoomController) Preview(ctx context.Context) (string, bool) {
	return rc.primary.Preview(ctx)
}

func (rc *RoomController) audit(action models.AuditAction, resource string, err error, details map[string]any) {
	publishAction(rc.bus, rc.room.Name, action, resource, err, details)
	if err != nil {
		rc.logger.Warn().Err(err).Str("action", string(action)).Str("resource", resource).Msg("operator action failed")
	}
}

func publishAction(bus *events.Bus, target string, action models.AuditAction, resource string, err error, details map[string]any) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if details == nil {
			details = map[string]any{}
		}
		details["error"] = err.Error()
	}
	bus.Publish(target, events.OperatorAction{
		Room:     target,
		Action:   action,
		Resource: resource,
		Outcome:  outcome,
		Details:  details,
	})
}
