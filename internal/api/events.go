/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"net/http"
	"time"

	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/friendsincode/stagehand/internal/events"
	"github.com/friendsincode/stagehand/internal/telemetry"
)

const (
	eventsPingInterval = 15 * time.Second
	eventsWriteTimeout = 5 * time.Second
)

// handleEvents streams notifications over a websocket. The kind query
// parameter is a comma separated list of kinds; target restricts to one
// room or stream key.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	filter := events.Filter{
		Kinds:  parseKinds(r.URL.Query().Get("kind")),
		Target: r.URL.Query().Get("target"),
	}
	sub := a.bus.Subscribe(filter)
	defer sub.Close()

	// The browser never sends anything; CloseRead services pongs and close
	// frames and cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(eventsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "")
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, eventsWriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				a.logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		case n, ok := <-sub.C:
			if !ok {
				conn.Close(ws.StatusGoingAway, "shutting down")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, eventsWriteTimeout)
			err := wsjson.Write(wctx, conn, n)
			cancel()
			if err != nil {
				a.logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}
