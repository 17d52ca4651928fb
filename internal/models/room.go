/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

// ConnectionPhase enumerates the supervisor states.
type ConnectionPhase string

const (
	PhaseDisconnected ConnectionPhase = "disconnected"
	PhaseConnecting   ConnectionPhase = "connecting"
	PhaseConnected    ConnectionPhase = "connected"
)

// ConnectionState is a room's control-socket state. Scene fields are only
// meaningful while Phase is PhaseConnected.
type ConnectionState struct {
	Phase        ConnectionPhase `json:"phase"`
	CurrentScene string          `json:"currentScene,omitempty"`
	Scenes       []string        `json:"scenes,omitempty"`
	Streaming    bool            `json:"streaming"`
}

// Connected reports whether the state is PhaseConnected.
func (s ConnectionState) Connected() bool {
	return s.Phase == PhaseConnected
}

// StreamStatus is the latest outgoing-stream statistics pushed by OBS.
type StreamStatus struct {
	Streaming        bool    `json:"streaming"`
	FPS              float64 `json:"fps"`
	KbitsPerSec      int     `json:"kbitsPerSec"`
	CPUUsage         float64 `json:"cpuUsage"`
	TotalStreamTime  int     `json:"totalStreamTime"`
	NumTotalFrames   int     `json:"numTotalFrames"`
	NumDroppedFrames int     `json:"numDroppedFrames"`
}

// DroppedPercent is the share of dropped frames, 0 when nothing was sent.
func (s StreamStatus) DroppedPercent() float64 {
	if s.NumTotalFrames <= 0 {
		return 0
	}
	return float64(s.NumDroppedFrames) / float64(s.NumTotalFrames) * 100
}

// PanelSettings mirrors the panel-scene toggles operators can flip.
type PanelSettings struct {
	Watermark  bool    `json:"watermark"`
	Compressor bool    `json:"compressor"`
	ExtraGain  float64 `json:"extraGain"`
}

// FeedTarget is a request to point a room's primary feed somewhere new.
type FeedTarget struct {
	// StreamKey selects an RTMP ingest stream. Ignored when LocalFile is set.
	StreamKey string `json:"streamKey,omitempty"`
	URL       string `json:"url,omitempty"`
	LocalFile string `json:"localFile,omitempty"`
	// Secondary is set for Zoom-sourced panels relayed through the secondary encoder.
	Secondary bool `json:"secondary,omitempty"`
}
