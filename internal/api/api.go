/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the console over HTTP and a notification websocket.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/stagehand/internal/audit"
	"github.com/friendsincode/stagehand/internal/console"
	"github.com/friendsincode/stagehand/internal/events"
	"github.com/friendsincode/stagehand/internal/feedswitch"
	"github.com/friendsincode/stagehand/internal/liveness"
	"github.com/friendsincode/stagehand/internal/logbuffer"
	"github.com/friendsincode/stagehand/internal/models"
	"github.com/friendsincode/stagehand/internal/music"
	"github.com/friendsincode/stagehand/internal/room"
	"github.com/friendsincode/stagehand/internal/schedule"
)

// PasswordHeader carries the shared console password.
const PasswordHeader = "X-Console-Password"

// API exposes HTTP handlers.
type API struct {
	console   *console.Console
	bus       *events.Bus
	auditSvc  *audit.Service
	logBuffer *logbuffer.Buffer
	password  string
	logger    zerolog.Logger
}

// New creates the API router wrapper. auditSvc and logBuf may be nil.
func New(c *console.Console, bus *events.Bus, auditSvc *audit.Service, logBuf *logbuffer.Buffer, password string, logger zerolog.Logger) *API {
	return &API{
		console:   c,
		bus:       bus,
		auditSvc:  auditSvc,
		logBuffer: logBuf,
		password:  password,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes registers the console API on r.
func (a *API) Routes(r chi.Router) {
	r.Get("/healthz", a.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(a.authMiddleware)

		r.Route("/rooms", func(r chi.Router) {
			r.Get("/", a.handleRoomsList)
			r.Route("/{room}", func(r chi.Router) {
				r.Get("/", a.handleRoomGet)
				r.Post("/scene", a.handleSetScene)
				r.Post("/feed", a.handleSwitchFeed)
				r.Get("/feed/pending", a.handlePendingSwitch)
				r.Post("/feed/confirm", a.handleConfirmSwitch)
				r.Get("/volume/{source}", a.handleVolumeGet)
				r.Post("/volume/{source}", a.handleVolumeSet)
				r.Post("/streaming/start", a.handleStreamingStart)
				r.Post("/streaming/stop", a.handleStreamingStop)
				r.Post("/reboot/{source}", a.handleReboot)
				r.Post("/title-music/reset", a.handleTitleMusicReset)
				r.Get("/panel-settings", a.handlePanelSettingsGet)
				r.Post("/panel-settings", a.handlePanelSettingsSet)
				r.Get("/preview", a.handlePreview)
			})
		})

		r.Get("/schedule", a.handleSchedule)
		r.Get("/streams", a.handleStreams)

		r.Route("/music", func(r chi.Router) {
			r.Get("/tracks", a.handleTracks)
			r.Route("/{stream}", func(r chi.Router) {
				r.Get("/", a.handleMusicGet)
				r.Post("/play", a.handleMusicPlay)
				r.Post("/stop", a.handleMusicStop)
				r.Post("/skip", a.handleMusicSkip)
				r.Post("/autoplay", a.handleMusicAutoplay)
				r.Put("/upnext", a.handleEnqueue)
				r.Delete("/upnext/{index}", a.handleDequeue)
			})
		})

		r.Get("/events", a.handleEvents)

		r.Route("/logs", func(r chi.Router) {
			r.Get("/", a.handleLogs)
			r.Get("/stats", a.handleLogStats)
		})
		r.Get("/audit", a.handleAuditList)
	})
}

// authMiddleware accepts the shared password from the query string or header.
func (a *API) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(PasswordHeader)
		if got == "" {
			got = r.URL.Query().Get("password")
		}
		if a.password == "" || subtle.ConstantTimeCompare([]byte(got), []byte(a.password)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "ok"}
	if t := a.console.Tracker(); t != nil {
		status["tracker_ready"] = t.Ready()
	}
	rooms := make(map[string]string)
	for _, rc := range a.console.Rooms() {
		rooms[rc.Name()] = string(rc.Supervisor().State().Phase)
	}
	status["rooms"] = rooms
	writeJSON(w, http.StatusOK, status)
}

func (a *API) handleSchedule(w http.ResponseWriter, r *http.Request) {
	c := a.console.Schedule()
	if c == nil {
		writeError(w, http.StatusServiceUnavailable, "schedule_not_configured")
		return
	}
	s, err := c.Get(r.Context())
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) handleStreams(w http.ResponseWriter, r *http.Request) {
	streams, err := a.console.Streams()
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"streams": streams})
}

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeError(w, http.StatusServiceUnavailable, "log_buffer_unavailable")
		return
	}

	params := logbuffer.QueryParams{
		Level:      r.URL.Query().Get("level"),
		Component:  r.URL.Query().Get("component"),
		Room:       r.URL.Query().Get("room"),
		Search:     r.URL.Query().Get("search"),
		Descending: true, // Default to newest first
		Limit:      500,
	}
	if since := r.URL.Query().Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			params.Since = t
		}
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			params.Limit = n
		}
	}
	if r.URL.Query().Get("order") == "asc" {
		params.Descending = false
	}

	entries := a.logBuffer.Query(params)
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
		"rooms":   a.logBuffer.Rooms(),
	})
}

func (a *API) handleLogStats(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeError(w, http.StatusServiceUnavailable, "log_buffer_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, a.logBuffer.Stats())
}

func (a *API) handleAuditList(w http.ResponseWriter, r *http.Request) {
	if a.auditSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "audit_unavailable")
		return
	}

	q := r.URL.Query()
	filters := audit.QueryFilters{
		Room:   q.Get("room"),
		Action: models.AuditAction(q.Get("action")),
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since")
			return
		}
		filters.StartTime = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_until")
			return
		}
		filters.EndTime = &t
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filters.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filters.Offset = n
		}
	}

	logs, total, err := a.auditSvc.Query(r.Context(), filters)
	if err != nil {
		a.logger.Error().Err(err).Msg("audit query failed")
		writeError(w, http.StatusInternalServerError, "audit_query_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": logs,
		"total":   total,
	})
}

// roomFromRequest resolves {room} or writes a 404.
func (a *API) roomFromRequest(w http.ResponseWriter, r *http.Request) (*console.RoomController, bool) {
	rc, err := a.console.Room(chi.URLParam(r, "room"))
	if err != nil {
		a.writeErr(w, err)
		return nil, false
	}
	return rc, true
}

// writeErr maps domain errors to HTTP status codes.
func (a *API) writeErr(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Warn().Err(err).Str("code", code).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": code, "detail": err.Error()})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, console.ErrUnknownRoom):
		return http.StatusNotFound, "unknown_room"
	case errors.Is(err, feedswitch.ErrNoPendingConfirmation):
		return http.StatusNotFound, "no_pending_confirmation"
	case errors.Is(err, feedswitch.ErrConfirmationPending):
		return http.StatusConflict, "confirmation_pending"
	case errors.Is(err, feedswitch.ErrInvalidTarget), errors.Is(err, feedswitch.ErrNoSecondary):
		return http.StatusBadRequest, "invalid_target"
	case errors.Is(err, console.ErrUnknownSource):
		return http.StatusBadRequest, "unknown_source"
	case errors.Is(err, music.ErrUnknownTrack):
		return http.StatusNotFound, "unknown_track"
	case errors.Is(err, console.ErrMusicDisabled):
		return http.StatusServiceUnavailable, "music_not_configured"
	case errors.Is(err, room.ErrDisconnected):
		return http.StatusServiceUnavailable, "room_disconnected"
	case errors.Is(err, liveness.ErrNotReady):
		return http.StatusServiceUnavailable, "liveness_not_ready"
	case errors.Is(err, schedule.ErrUnavailable):
		return http.StatusServiceUnavailable, "schedule_unavailable"
	default:
		return http.StatusBadGateway, "backend_error"
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return dec.Decode(v)
}

func parseKinds(raw string) []events.Kind {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]events.Kind, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, events.Kind(part))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
