/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package obs

// Server-pushed event types the console listens for.
const (
	EventSwitchScenes                  = "SwitchScenes"
	EventScenesChanged                 = "ScenesChanged"
	EventStreamStatus                  = "StreamStatus"
	EventStreamStarted                 = "StreamStarted"
	EventStreamStopped                 = "StreamStopped"
	EventSourceVolumeChanged           = "SourceVolumeChanged"
	EventSourceFilterVisibilityChanged = "SourceFilterVisibilityChanged"
	EventSceneItemVisibilityChanged    = "SceneItemVisibilityChanged"
)

// SwitchScenesEvent is the body of SwitchScenes.
type SwitchScenesEvent struct {
	SceneName string `json:"scene-name"`
}

// StreamStatusEvent is the body of StreamStatus, sent every two seconds
// while streaming.
type StreamStatusEvent struct {
	Streaming        bool    `json:"streaming"`
	KbitsPerSec      int     `json:"kbits-per-sec"`
	FPS              float64 `json:"fps"`
	CPUUsage         float64 `json:"cpu-usage"`
	TotalStreamTime  int     `json:"total-stream-time"`
	NumTotalFrames   int     `json:"num-total-frames"`
	NumDroppedFrames int     `json:"num-dropped-frames"`
}

// SourceVolumeChangedEvent is the body of SourceVolumeChanged.
type SourceVolumeChangedEvent struct {
	SourceName string  `json:"sourceName"`
	Volume     float64 `json:"volume"`
}

// SourceFilterVisibilityChangedEvent is the body of SourceFilterVisibilityChanged.
type SourceFilterVisibilityChangedEvent struct {
	SourceName    string `json:"sourceName"`
	FilterName    string `json:"filterName"`
	FilterEnabled bool   `json:"filterEnabled"`
}

// SceneItemVisibilityChangedEvent is the body of SceneItemVisibilityChanged.
type SceneItemVisibilityChangedEvent struct {
	SceneName   string `json:"scene-name"`
	ItemName    string `json:"item-name"`
	ItemVisible bool   `json:"item-visible"`
}
