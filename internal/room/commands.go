/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package room

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/friendsincode/stagehand/internal/models"
	"github.com/friendsincode/stagehand/internal/obs"
)

// Canvas size the panel source is fitted to.
const (
	canvasWidth  = 1920
	canvasHeight = 1080
)

// Preview screenshot parameters.
const (
	previewFormat = "png"
	previewWidth  = 350
)

// SetScene switches the program scene. The cached scene follows the
// SwitchScenes event, not this call.
func (s *Supervisor) SetScene(ctx context.Context, scene string) error {
	return obs.SetCurrentScene(ctx, s, scene)
}

// Volume returns the linear volume of source, from cache when a settled
// change has been seen.
func (s *Supervisor) Volume(ctx context.Context, source string) (float64, error) {
	s.mu.RLock()
	v, ok := s.volumes[source]
	s.mu.RUnlock()
	if ok {
		return v, nil
	}

	v, err := obs.GetVolume(ctx, s, source)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.volumes[source] = v
	s.mu.Unlock()
	return v, nil
}

// SetVolume sets a linear volume and caches it.
func (s *Supervisor) SetVolume(ctx context.Context, source string, volume float64) error {
	if volume < 0 {
		volume = 0
	}
	if err := obs.SetVolume(ctx, s, source, volume); err != nil {
		return err
	}
	s.mu.Lock()
	s.volumes[source] = volume
	s.mu.Unlock()
	return nil
}

// FaderToVolume maps a 0..1 fader position onto the cubic volume curve.
func FaderToVolume(fader float64) float64 {
	fader = math.Max(0, math.Min(1, fader))
	return fader * fader * fader
}

// VolumeToFader is the inverse of FaderToVolume.
func VolumeToFader(volume float64) float64 {
	return math.Cbrt(math.Max(0, volume))
}

// VolumeDB converts a linear volume to decibels; silence is -Inf.
func VolumeDB(volume float64) float64 {
	if volume <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(volume)
}

// StartStreaming starts the room's output with its saved settings.
func (s *Supervisor) StartStreaming(ctx context.Context) error {
	return obs.StartStreaming(ctx, s, nil)
}

// StartStreamingTo starts the output towards server/key.
func (s *Supervisor) StartStreamingTo(ctx context.Context, server, key string) error {
	return obs.StartStreaming(ctx, s, &obs.StreamDestination{Server: server, Key: key})
}

// StopStreaming stops the room's output.
func (s *Supervisor) StopStreaming(ctx context.Context) error {
	return obs.StopStreaming(ctx, s)
}

// SourceSettings reads a source's settings.
func (s *Supervisor) SourceSettings(ctx context.Context, source string) (obs.SourceSettings, error) {
	return obs.GetSourceSettings(ctx, s, source)
}

// SetSourceSettings writes a source's settings.
func (s *Supervisor) SetSourceSettings(ctx context.Context, source string, settings obs.SourceSettings) error {
	return obs.SetSourceSettings(ctx, s, source, settings)
}

// Preview returns a png data URI of the feed source. ok is false when the
// source cannot be captured.
func (s *Supervisor) Preview(ctx context.Context) (img string, ok bool) {
	img, err := obs.TakeSourceScreenshot(ctx, s, s.opts.Names.FeedSource, previewFormat, previewWidth)
	if err != nil || img == "" {
		s.logger.Debug().Err(err).Msg("preview unavailable")
		return "", false
	}
	return img, true
}

// RebootSource points source at the standby image, waits, then restores
// its saved settings with the local file switched off. This restarts a
// media source whose audio or video has wedged.
func (s *Supervisor) RebootSource(ctx context.Context, source string) error {
	saved, err := obs.GetSourceSettings(ctx, s, source)
	if err != nil {
		return fmt.Errorf("read %s settings: %w", source, err)
	}

	standby := obs.SourceSettings{
		"is_local_file":       true,
		"local_file":          s.opts.Names.StandbyFile,
		"close_when_inactive": true,
	}
	if err := obs.SetSourceSettings(ctx, s, source, standby); err != nil {
		return fmt.Errorf("switch %s to standby: %w", source, err)
	}

	timer := time.NewTimer(s.opts.RebootDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	// Another reboot may have raced us; force the local file off either way.
	restored := saved.Clone()
	restored["is_local_file"] = false
	if err := obs.SetSourceSettings(ctx, s, source, restored); err != nil {
		return fmt.Errorf("restore %s: %w", source, err)
	}
	s.logger.Info().Str("source", source).Msg("source rebooted")
	return nil
}

// ResetTitleMusic re-applies the title music source's own settings, which
// restarts playback.
func (s *Supervisor) ResetTitleMusic(ctx context.Context) error {
	source := s.opts.Names.TitleMusicSource
	settings, err := obs.GetSourceSettings(ctx, s, source)
	if err != nil {
		return fmt.Errorf("read %s settings: %w", source, err)
	}
	return obs.SetSourceSettings(ctx, s, source, settings)
}

// RefreshPanelSettings reads watermark, compressor and gain from OBS.
func (s *Supervisor) RefreshPanelSettings(ctx context.Context) error {
	n := s.opts.Names

	item, err := obs.GetSceneItemProperties(ctx, s, n.PanelScene, n.WatermarkSource)
	if err != nil {
		return fmt.Errorf("watermark: %w", err)
	}
	compressor, err := obs.GetSourceFilterInfo(ctx, s, n.PanelSource, n.CompressorFilter)
	if err != nil {
		return fmt.Errorf("compressor: %w", err)
	}
	gain, err := s.readGain(ctx)
	if err != nil {
		return err
	}

	s.updatePanel(func(p *models.PanelSettings) {
		p.Watermark = item.Visible
		p.Compressor = compressor.Enabled
		p.ExtraGain = gain
	})
	return nil
}

func (s *Supervisor) readGain(ctx context.Context) (float64, error) {
	n := s.opts.Names
	info, err := obs.GetSourceFilterInfo(ctx, s, n.PanelSource, n.GainFilter)
	if err != nil {
		return 0, fmt.Errorf("gain: %w", err)
	}
	db, _ := info.Settings["db"].(float64)
	return db, nil
}

// SetWatermark shows or hides the watermark on the panel scene.
func (s *Supervisor) SetWatermark(ctx context.Context, visible bool) error {
	n := s.opts.Names
	return obs.SetSceneItemProperties(ctx, s, n.PanelScene, n.WatermarkSource, obs.SceneItemUpdate{Visible: &visible})
}

// SetCompressor toggles the panel audio compressor filter.
func (s *Supervisor) SetCompressor(ctx context.Context, enabled bool) error {
	n := s.opts.Names
	return obs.SetSourceFilterVisibility(ctx, s, n.PanelSource, n.CompressorFilter, enabled)
}

// SetExtraGain sets the panel gain filter in dB. OBS sends no event for
// filter settings, so the cache is updated here.
func (s *Supervisor) SetExtraGain(ctx context.Context, db float64) error {
	n := s.opts.Names
	if err := obs.SetSourceFilterSettings(ctx, s, n.PanelSource, n.GainFilter, map[string]any{"db": db}); err != nil {
		return err
	}
	s.updatePanel(func(p *models.PanelSettings) { p.ExtraGain = db })
	return nil
}

// ApplyPanelSettings pushes every toggle that differs from the cache.
func (s *Supervisor) ApplyPanelSettings(ctx context.Context, want models.PanelSettings) error {
	have := s.PanelSettings()
	if want.Watermark != have.Watermark {
		if err := s.SetWatermark(ctx, want.Watermark); err != nil {
			return err
		}
	}
	if want.Compressor != have.Compressor {
		if err := s.SetCompressor(ctx, want.Compressor); err != nil {
			return err
		}
	}
	if want.ExtraGain != have.ExtraGain {
		if err := s.SetExtraGain(ctx, want.ExtraGain); err != nil {
			return err
		}
	}
	return nil
}

// FitPanel rescales the panel source to fill the canvas when its size is
// known and it does not already. It reports whether it changed anything.
func (s *Supervisor) FitPanel(ctx context.Context) (bool, error) {
	n := s.opts.Names
	item, err := obs.GetSceneItemProperties(ctx, s, n.PanelScene, n.PanelSource)
	if err != nil {
		return false, err
	}
	scale, ok := fitScale(item)
	if !ok {
		return false, nil
	}
	s.logger.Debug().Float64("scale", scale).Msg("resizing panel source")
	err = obs.SetSceneItemProperties(ctx, s, n.PanelScene, n.PanelSource, obs.SceneItemUpdate{
		Position: &obs.Vec2{},
		Scale:    &obs.Vec2{X: scale, Y: scale},
	})
	return err == nil, err
}

func fitScale(item obs.SceneItem) (float64, bool) {
	if item.Width == canvasWidth && item.Height == canvasHeight {
		return 0, false
	}
	if item.SourceWidth <= 0 || item.SourceHeight <= 0 {
		return 0, false
	}
	return math.Min(canvasWidth/item.SourceWidth, canvasHeight/item.SourceHeight), true
}

func (s *Supervisor) panelFitLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.FitPanel(ctx); err != nil && ctx.Err() == nil {
				s.logger.Debug().Err(err).Msg("panel fit failed")
			}
		}
	}
}

func (s *Supervisor) gainPollLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			db, err := s.readGain(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Debug().Err(err).Msg("gain poll failed")
				}
				continue
			}
			if s.PanelSettings().ExtraGain != db {
				s.updatePanel(func(p *models.PanelSettings) { p.ExtraGain = db })
			}
		}
	}
}
