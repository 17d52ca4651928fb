/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/stagehand/internal/feedswitch"
	"github.com/friendsincode/stagehand/internal/models"
)

type sceneRequest struct {
	Scene string `json:"scene"`
}

type feedRequest struct {
	models.FeedTarget
	EventID string `json:"eventId,omitempty"`
}

type confirmRequest struct {
	ID      string `json:"id"`
	Confirm bool   `json:"confirm"`
}

type volumeRequest struct {
	Volume *float64 `json:"volume"`
}

func (a *API) handleRoomsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"rooms": a.console.Views(r.Context())})
}

func (a *API) handleRoomGet(w http.ResponseWriter, r *http.Request) {
	rc, ok := a.roomFromRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rc.View(r.Context()))
}

func (a *API) handleSetScene(w http.ResponseWriter, r *http.Request) {
	rc, ok := a.roomFromRequest(w, r)
	if !ok {
		return
	}
	var req sceneRequest
	if err := decodeJSON(r, &req); err != nil || req.Scene == "" {
		writeError(w, http.StatusBadRequest, "scene_required")
		return
	}
	if err := rc.SetScene(r.Context(), req.Scene); err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"scene": req.Scene})
}

// handleSwitchFeed blocks until the switch is applied, declined, expired or
// rejected. Declined and expired switches are not errors.
func (a *API) handleSwitchFeed(w http.ResponseWriter, r *http.Request) {
	rc, ok := a.roomFromRequest(w, r)
	if !ok {
		return
	}
	var req feedRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	var (
		outcome feedswitch.Outcome
		err     error
	)
	if req.EventID != "" {
		outcome, err = rc.SwitchToEvent(r.Context(), req.EventID)
	} else {
		outcome, err = rc.SwitchFeed(r.Context(), req.FeedTarget)
	}
	if err != nil {
		if errors.Is(err, feedswitch.ErrConfirmationPending) {
			pending, _ := rc.PendingSwitch()
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":   "confirmation_pending",
				"outcome": outcome,
				"pending": pending,
			})
			return
		}
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcome": outcome})
}

func (a *API) handlePendingSwitch(w http.ResponseWriter, r *http.Request) {
	rc, ok := a.roomFromRequest(w, r)
	if !ok {
		return
	}
	pending, found := rc.PendingSwitch()
	if !found {
		writeError(w, http.StatusNotFound, "no_pending_confirmation")
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (a *API) handleConfirmSwitch(w http.ResponseWriter, r *http.Request) {
	rc, ok := a.roomFromRequest(w, r)
	if !ok {
		return
	}
	var req confirmRequest
	if err := decodeJSON(r, &req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "id_required")
		return
	}
	if err := rc.ResolveSwitch(req.ID, req.Confirm); err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": req.ID, "confirm": req.Confirm})
}

func (a *API) handleVolumeGet(w http.ResponseWriter, r *http.Request) {
	rc, ok := a.roomFromRequest(w, r)
	if !ok {
		return
	}
	source := chi.URLParam(r, "source")
	v, err := rc.Volume(r.Context(), source)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": source, "volume": v})
}

func (a *API) handleVolumeSet(w http.ResponseWriter, r *http.Request) {
	rc, ok := a.roomFromRequest(w, r)
	if !ok {
		return
	}
	var req volumeRequest
	if err := decodeJSON(r, &req); err != nil || req.Volume == nil || *req.Volume < 0 {
		writeError(w, http.StatusBadRequest, "volume_required")
		return
	}
	source := chi.URLParam(r, "source")
	if err := rc.SetVolume(r.Context(), source, *req.Volume); err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": source, "volume": *req.Volume})
}

func (a *API) handleStreamingStart(w http.ResponseWriter, r *http.Request) {
	rc, ok := a.roomFromRequest(w, r)
	if !ok {
		return
	}
	if err := rc.StartStreaming(r.Context()); err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"streaming": true})
}

func (a *API) handleStreamingStop(w http.ResponseWriter, r *http.Request) {
	rc, ok := a.roomFromRequest(w, r)
	if !ok {
		return
	}
	if err := rc.StopStreaming(r.Context()); err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"streaming": false})
}

func (a *API) handleReboot(w http.ResponseWriter, r *http.Request) {
	rc, ok := a.roomFromRequest(w, r)
	if !ok {
		return
	}
	if err := rc.RebootSource(r.Context(), chi.URLParam(r, "source")); err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (a *API) handleTitleMusicReset(w http.ResponseWriter, r *http.Request) {
	rc, ok := a.roomFromRequest(w, r)
	if !ok {
		return
	}
	if err := rc.ResetTitleMusic(r.Context()); err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (a *API) handlePanelSettingsGet(w http.ResponseWriter, r *http.Request) {
	rc, ok := a.roomFromRequest(w, r)
	if !ok {
		return
	}
	settings, err := rc.PanelSettings(r.Context())
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (a *API) handlePanelSettingsSet(w http.ResponseWriter, r *http.Request) {
	rc, ok := a.roomFromRequest(w, r)
	if !ok {
		return
	}
	var want models.PanelSettings
	if err := decodeJSON(r, &want); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := rc.ApplyPanelSettings(r.Context(), want); err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, want)
}

// handlePreview serves the incoming feed screenshot as png.
func (a *API) handlePreview(w http.ResponseWriter, r *http.Request) {
	rc, ok := a.roomFromRequest(w, r)
	if !ok {
		return
	}
	uri, found := rc.Preview(r.Context())
	if !found {
		writeError(w, http.StatusNotFound, "preview_unavailable")
		return
	}
	_, data, cut := strings.Cut(uri, ";base64,")
	if !cut {
		writeError(w, http.StatusBadGateway, "preview_malformed")
		return
	}
	img, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		writeError(w, http.StatusBadGateway, "preview_malformed")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(img)
}
