/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

type autoplayRequest struct {
	Enabled bool `json:"enabled"`
}

type enqueueRequest struct {
	TrackID string `json:"trackId"`
}

func (a *API) handleTracks(w http.ResponseWriter, r *http.Request) {
	tracks, err := a.console.Tracks(r.Context(), r.URL.Query().Get("filter"))
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tracks": tracks, "count": len(tracks)})
}

func (a *API) handleMusicGet(w http.ResponseWriter, r *http.Request) {
	view, err := a.console.MusicView(r.Context(), chi.URLParam(r, "stream"))
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleMusicPlay(w http.ResponseWriter, r *http.Request) {
	a.musicResult(w, a.console.PlayMusic(r.Context(), chi.URLParam(r, "stream")))
}

func (a *API) handleMusicStop(w http.ResponseWriter, r *http.Request) {
	a.musicResult(w, a.console.StopMusic(r.Context(), chi.URLParam(r, "stream")))
}

func (a *API) handleMusicSkip(w http.ResponseWriter, r *http.Request) {
	a.musicResult(w, a.console.SkipMusic(r.Context(), chi.URLParam(r, "stream")))
}

func (a *API) handleMusicAutoplay(w http.ResponseWriter, r *http.Request) {
	var req autoplayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	a.musicResult(w, a.console.SetAutoplay(r.Context(), chi.URLParam(r, "stream"), req.Enabled))
}

func (a *API) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := decodeJSON(r, &req); err != nil || req.TrackID == "" {
		writeError(w, http.StatusBadRequest, "track_id_required")
		return
	}
	a.musicResult(w, a.console.Enqueue(r.Context(), chi.URLParam(r, "stream"), req.TrackID))
}

func (a *API) handleDequeue(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "invalid_index")
		return
	}
	a.musicResult(w, a.console.Dequeue(r.Context(), chi.URLParam(r, "stream"), index))
}

func (a *API) musicResult(w http.ResponseWriter, err error) {
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
