/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"encoding/json"
	"fmt"

	"github.com/friendsincode/stagehand/internal/models"
)

// Payload is the typed body of a notification. Payloads are values; a
// consumer can keep one without it changing underneath it.
type Payload interface {
	Kind() Kind
}

// StreamUpdated reports a liveness change for one stream key.
type StreamUpdated struct {
	Stream models.Stream `json:"stream"`
}

// TrackPoolUpdated reports a track added to (or replaced in) the pool.
type TrackPoolUpdated struct {
	Track models.Track `json:"track"`
}

// StreamStateUpdated reports a music playback state change. Field names the
// key that was pushed.
type StreamStateUpdated struct {
	Stream string             `json:"stream"`
	Field  string             `json:"field"`
	State  models.StreamState `json:"state"`
}

// UpNextUpdated carries a stream's complete up-next queue.
type UpNextUpdated struct {
	Stream string   `json:"stream"`
	UpNext []string `json:"upNext"`
}

// ConnectionStateChanged reports a room's control-socket transition.
type ConnectionStateChanged struct {
	Room  string                 `json:"room"`
	State models.ConnectionState `json:"state"`
}

// SceneChanged reports the program scene of a room changing.
type SceneChanged struct {
	Room  string `json:"room"`
	Scene string `json:"scene"`
}

// StreamStatusUpdated carries outgoing-stream statistics for a room.
type StreamStatusUpdated struct {
	Room   string              `json:"room"`
	Status models.StreamStatus `json:"status"`
}

// VolumeChanged reports a settled source volume as a linear multiplier.
type VolumeChanged struct {
	Room   string  `json:"room"`
	Source string  `json:"source"`
	Volume float64 `json:"volume"`
}

// PanelSettingsChanged carries a room's panel toggles after a change.
type PanelSettingsChanged struct {
	Room     string               `json:"room"`
	Settings models.PanelSettings `json:"settings"`
}

// ScheduleRefreshed reports a successful schedule fetch.
type ScheduleRefreshed struct {
	Rooms  int `json:"rooms"`
	Events int `json:"events"`
}

// ConfirmationRequested asks the operator to approve a feed switch that
// would replace what a room is showing.
type ConfirmationRequested struct {
	Room   string            `json:"room"`
	ID     string            `json:"id"`
	Target models.FeedTarget `json:"target"`
	Reason string            `json:"reason,omitempty"`
}

// ConfirmationResolved closes a ConfirmationRequested.
type ConfirmationResolved struct {
	Room    string `json:"room"`
	ID      string `json:"id"`
	Outcome string `json:"outcome"`
}

// OperatorAction records a command an operator issued, for auditing.
type OperatorAction struct {
	Room     string             `json:"room,omitempty"`
	Action   models.AuditAction `json:"action"`
	Resource string             `json:"resource,omitempty"`
	Outcome  string             `json:"outcome"`
	Details  map[string]any     `json:"details,omitempty"`
}

func (StreamUpdated) Kind() Kind          { return KindStreamUpdated }
func (TrackPoolUpdated) Kind() Kind       { return KindTrackPoolUpdated }
func (StreamStateUpdated) Kind() Kind     { return KindStreamStateUpdated }
func (UpNextUpdated) Kind() Kind          { return KindUpNextUpdated }
func (ConnectionStateChanged) Kind() Kind { return KindConnectionState }
func (SceneChanged) Kind() Kind           { return KindSceneChanged }
func (StreamStatusUpdated) Kind() Kind    { return KindStreamStatus }
func (VolumeChanged) Kind() Kind          { return KindVolumeChanged }
func (PanelSettingsChanged) Kind() Kind   { return KindPanelSettings }
func (ScheduleRefreshed) Kind() Kind      { return KindScheduleRefreshed }
func (ConfirmationRequested) Kind() Kind  { return KindConfirmationRequested }
func (ConfirmationResolved) Kind() Kind   { return KindConfirmationResolved }
func (OperatorAction) Kind() Kind         { return KindOperatorAction }

func newPayload(k Kind) (Payload, error) {
	switch k {
	case KindStreamUpdated:
		return &StreamUpdated{}, nil
	case KindTrackPoolUpdated:
		return &TrackPoolUpdated{}, nil
	case KindStreamStateUpdated:
		return &StreamStateUpdated{}, nil
	case KindUpNextUpdated:
		return &UpNextUpdated{}, nil
	case KindConnectionState:
		return &ConnectionStateChanged{}, nil
	case KindSceneChanged:
		return &SceneChanged{}, nil
	case KindStreamStatus:
		return &StreamStatusUpdated{}, nil
	case KindVolumeChanged:
		return &VolumeChanged{}, nil
	case KindPanelSettings:
		return &PanelSettingsChanged{}, nil
	case KindScheduleRefreshed:
		return &ScheduleRefreshed{}, nil
	case KindConfirmationRequested:
		return &ConfirmationRequested{}, nil
	case KindConfirmationResolved:
		return &ConfirmationResolved{}, nil
	case KindOperatorAction:
		return &OperatorAction{}, nil
	}
	return nil, fmt.Errorf("unknown notification kind %q", k)
}

// deref turns the pointer produced by newPayload back into a value payload.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *StreamUpdated:
		return *v
	case *TrackPoolUpdated:
		return *v
	case *StreamStateUpdated:
		return *v
	case *UpNextUpdated:
		return *v
	case *ConnectionStateChanged:
		return *v
	case *SceneChanged:
		return *v
	case *StreamStatusUpdated:
		return *v
	case *VolumeChanged:
		return *v
	case *PanelSettingsChanged:
		return *v
	case *ScheduleRefreshed:
		return *v
	case *ConfirmationRequested:
		return *v
	case *ConfirmationResolved:
		return *v
	case *OperatorAction:
		return *v
	}
	return p
}

// UnmarshalJSON decodes the payload into its concrete type based on Kind.
func (n *Notification) UnmarshalJSON(data []byte) error {
	var wire struct {
		Kind    Kind            `json:"kind"`
		Target  string          `json:"target"`
		At      json.RawMessage `json:"at"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	p, err := newPayload(wire.Kind)
	if err != nil {
		return err
	}
	if len(wire.Payload) > 0 {
		if err := json.Unmarshal(wire.Payload, p); err != nil {
			return fmt.Errorf("decode %s payload: %w", wire.Kind, err)
		}
	}
	n.Kind = wire.Kind
	n.Target = wire.Target
	n.Payload = deref(p)
	if len(wire.At) > 0 {
		if err := json.Unmarshal(wire.At, &n.At); err != nil {
			return fmt.Errorf("decode timestamp: %w", err)
		}
	}
	return nil
}
