/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package obs

import (
	"context"
	"fmt"
)

// Benign error messages returned by the server.
const (
	MsgStreamingNotActive = "streaming not active"
	MsgStreamingActive    = "streaming already active"
)

// Scene is one entry of GetSceneList.
type Scene struct {
	Name string `json:"name"`
}

// SceneList is the GetSceneList reply.
type SceneList struct {
	CurrentScene string  `json:"current-scene"`
	Scenes       []Scene `json:"scenes"`
}

// Names returns the scene names in server order.
func (l SceneList) Names() []string {
	out := make([]string, len(l.Scenes))
	for i, s := range l.Scenes {
		out[i] = s.Name
	}
	return out
}

// GetSceneList returns the current scene and all scenes.
func GetSceneList(ctx context.Context, s Sender) (SceneList, error) {
	var out SceneList
	resp, err := s.Send(ctx, "GetSceneList", nil)
	if err != nil {
		return out, err
	}
	if err := resp.Decode(&out); err != nil {
		return out, fmt.Errorf("decode scene list: %w", err)
	}
	return out, nil
}

// GetCurrentScene returns the program scene name.
func GetCurrentScene(ctx context.Context, s Sender) (string, error) {
	resp, err := s.Send(ctx, "GetCurrentScene", nil)
	if err != nil {
		return "", err
	}
	var out Scene
	if err := resp.Decode(&out); err != nil {
		return "", fmt.Errorf("decode current scene: %w", err)
	}
	return out.Name, nil
}

// SetCurrentScene switches the program scene.
func SetCurrentScene(ctx context.Context, s Sender, scene string) error {
	_, err := s.Send(ctx, "SetCurrentScene", map[string]any{"scene-name": scene})
	return err
}

// SourceSettings is an untyped source settings object.
type SourceSettings map[string]any

// Clone returns a shallow copy.
func (s SourceSettings) Clone() SourceSettings {
	out := make(SourceSettings, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// String returns a string setting or "".
func (s SourceSettings) String(key string) string {
	v, _ := s[key].(string)
	return v
}

// GetSourceSettings reads a source's settings.
func GetSourceSettings(ctx context.Context, s Sender, source string) (SourceSettings, error) {
	resp, err := s.Send(ctx, "GetSourceSettings", map[string]any{"sourceName": source})
	if err != nil {
		return nil, err
	}
	var out struct {
		SourceSettings SourceSettings `json:"sourceSettings"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode source settings: %w", err)
	}
	if out.SourceSettings == nil {
		out.SourceSettings = SourceSettings{}
	}
	return out.SourceSettings, nil
}

// SetSourceSettings merges settings into a source.
func SetSourceSettings(ctx context.Context, s Sender, source string, settings SourceSettings) error {
	_, err := s.Send(ctx, "SetSourceSettings", map[string]any{
		"sourceName":     source,
		"sourceSettings": map[string]any(settings),
	})
	return err
}

// GetVolume returns the linear volume multiplier of a source.
func GetVolume(ctx context.Context, s Sender, source string) (float64, error) {
	resp, err := s.Send(ctx, "GetVolume", map[string]any{"source": source})
	if err != nil {
		return 0, err
	}
	var out struct {
		Volume float64 `json:"volume"`
	}
	if err := resp.Decode(&out); err != nil {
		return 0, fmt.Errorf("decode volume: %w", err)
	}
	return out.Volume, nil
}

// SetVolume sets the linear volume multiplier of a source.
func SetVolume(ctx context.Context, s Sender, source string, volume float64) error {
	_, err := s.Send(ctx, "SetVolume", map[string]any{"source": source, "volume": volume})
	return err
}

// StreamDestination overrides the stream server and key for StartStreaming.
type StreamDestination struct {
	Server string
	Key    string
}

// StartStreaming starts the output. A nil destination uses the saved one.
func StartStreaming(ctx context.Context, s Sender, dest *StreamDestination) error {
	var args map[string]any
	if dest != nil {
		args = map[string]any{
			"stream": map[string]any{
				"type": "rtmp_custom",
				"settings": map[string]any{
					"server": dest.Server,
					"key":    dest.Key,
				},
			},
		}
	}
	_, err := s.Send(ctx, "StartStreaming", args)
	return err
}

// StopStreaming stops the output.
func StopStreaming(ctx context.Context, s Sender) error {
	_, err := s.Send(ctx, "StopStreaming", nil)
	return err
}

// GetStreamingStatus reports whether the output is live.
func GetStreamingStatus(ctx context.Context, s Sender) (bool, error) {
	resp, err := s.Send(ctx, "GetStreamingStatus", nil)
	if err != nil {
		return false, err
	}
	var out struct {
		Streaming bool `json:"streaming"`
	}
	if err := resp.Decode(&out); err != nil {
		return false, fmt.Errorf("decode streaming status: %w", err)
	}
	return out.Streaming, nil
}

// TakeSourceScreenshot returns a data URI of the source rendered at width.
func TakeSourceScreenshot(ctx context.Context, s Sender, source, format string, width int) (string, error) {
	resp, err := s.Send(ctx, "TakeSourceScreenshot", map[string]any{
		"sourceName":         source,
		"embedPictureFormat": format,
		"width":              width,
	})
	if err != nil {
		return "", err
	}
	var out struct {
		Img string `json:"img"`
	}
	if err := resp.Decode(&out); err != nil {
		return "", fmt.Errorf("decode screenshot: %w", err)
	}
	return out.Img, nil
}

// FilterInfo is the GetSourceFilterInfo reply.
type FilterInfo struct {
	Name     string         `json:"name"`
	Type     string         `json:"type"`
	Enabled  bool           `json:"enabled"`
	Settings map[string]any `json:"settings"`
}

// GetSourceFilterInfo reads one filter on a source.
func GetSourceFilterInfo(ctx context.Context, s Sender, source, filter string) (FilterInfo, error) {
	var out FilterInfo
	resp, err := s.Send(ctx, "GetSourceFilterInfo", map[string]any{
		"sourceName": source,
		"filterName": filter,
	})
	if err != nil {
		return out, err
	}
	if err := resp.Decode(&out); err != nil {
		return out, fmt.Errorf("decode filter info: %w", err)
	}
	return out, nil
}

// SetSourceFilterVisibility enables or disables a filter.
func SetSourceFilterVisibility(ctx context.Context, s Sender, source, filter string, enabled bool) error {
	_, err := s.Send(ctx, "SetSourceFilterVisibility", map[string]any{
		"sourceName":    source,
		"filterName":    filter,
		"filterEnabled": enabled,
	})
	return err
}

// SetSourceFilterSettings merges settings into a filter.
func SetSourceFilterSettings(ctx context.Context, s Sender, source, filter string, settings map[string]any) error {
	_, err := s.Send(ctx, "SetSourceFilterSettings", map[string]any{
		"sourceName":     source,
		"filterName":     filter,
		"filterSettings": settings,
	})
	return err
}

// Vec2 is an x/y pair.
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// SceneItem is the subset of GetSceneItemProperties the console uses.
type SceneItem struct {
	Name         string  `json:"name"`
	Visible      bool    `json:"visible"`
	Width        float64 `json:"width"`
	Height       float64 `json:"height"`
	SourceWidth  float64 `json:"sourceWidth"`
	SourceHeight float64 `json:"sourceHeight"`
	Position     Vec2    `json:"position"`
	Scale        Vec2    `json:"scale"`
}

// GetSceneItemProperties reads an item of a scene.
func GetSceneItemProperties(ctx context.Context, s Sender, scene, item string) (SceneItem, error) {
	var out SceneItem
	resp, err := s.Send(ctx, "GetSceneItemProperties", map[string]any{
		"scene-name": scene,
		"item":       item,
	})
	if err != nil {
		return out, err
	}
	if err := resp.Decode(&out); err != nil {
		return out, fmt.Errorf("decode scene item: %w", err)
	}
	return out, nil
}

// SceneItemUpdate carries the properties to change. Nil fields are left alone.
type SceneItemUpdate struct {
	Visible  *bool
	Position *Vec2
	Scale    *Vec2
}

// SetSceneItemProperties updates an item of a scene.
func SetSceneItemProperties(ctx context.Context, s Sender, scene, item string, u SceneItemUpdate) error {
	args := map[string]any{
		"scene-name": scene,
		"item":       item,
		"position":   map[string]any{},
		"scale":      map[string]any{},
		"bounds":     map[string]any{},
		"crop":       map[string]any{},
	}
	if u.Visible != nil {
		args["visible"] = *u.Visible
	}
	if u.Position != nil {
		args["position"] = *u.Position
	}
	if u.Scale != nil {
		args["scale"] = *u.Scale
	}
	_, err := s.Send(ctx, "SetSceneItemProperties", args)
	return err
}
