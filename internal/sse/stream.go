/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package sse consumes server-sent event streams and keeps them open.
package sse

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/friendsincode/stagehand/internal/telemetry"
)

// Event is one dispatched server-sent event.
type Event struct {
	ID   string
	Type string
	Data string
}

// IsMessage reports whether the event uses the default "message" type.
func (e Event) IsMessage() bool {
	return e.Type == "" || e.Type == "message"
}

// Read parses an event stream from r and calls fn for every complete event.
// It returns when r is exhausted or fails.
func Read(r io.Reader, fn func(Event)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		ev      Event
		data    strings.Builder
		hasData bool
	)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if hasData {
				ev.Data = strings.TrimSuffix(data.String(), "\n")
				fn(ev)
			}
			ev = Event{ID: ev.ID}
			data.Reset()
			hasData = false
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			data.WriteString(value)
			data.WriteByte('\n')
			hasData = true
		case "event":
			ev.Type = value
		case "id":
			ev.ID = value
		}
	}
	return scanner.Err()
}

// Stream holds one logical subscription to an event-stream URL. Run keeps it
// connected, waiting a constant delay between attempts.
type Stream struct {
	url    string
	client *http.Client
	delay  time.Duration
	source string
	logger zerolog.Logger

	// OnConnect runs after every successful connect, before events are read.
	// reconnect is false only for the first connection.
	OnConnect func(ctx context.Context, reconnect bool)
}

// NewStream creates a subscription. source labels log lines and metrics.
func NewStream(url string, client *http.Client, delay time.Duration, source string, logger zerolog.Logger) *Stream {
	if client == nil {
		client = http.DefaultClient
	}
	return &Stream{
		url:    url,
		client: client,
		delay:  delay,
		source: source,
		logger: logger.With().Str("component", "sse").Str("source", source).Logger(),
	}
}

// Run connects and dispatches events to fn until ctx is cancelled. Connection
// failures and stream ends are retried forever.
func (s *Stream) Run(ctx context.Context, fn func(Event)) error {
	policy := backoff.NewConstantBackOff(s.delay)
	connected := false

	for {
		err := s.once(ctx, func() {
			if connected {
				telemetry.PushReconnects.WithLabelValues(s.source).Inc()
			}
			if s.OnConnect != nil {
				s.OnConnect(ctx, connected)
			}
			connected = true
		}, fn)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.logger.Warn().Err(err).Dur("retry_in", s.delay).Msg("event stream failed")
		} else {
			s.logger.Info().Dur("retry_in", s.delay).Msg("event stream ended")
		}

		timer := time.NewTimer(policy.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Stream) once(ctx context.Context, onOpen func(), fn func(Event)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	s.logger.Debug().Msg("event stream connected")
	onOpen()

	err = Read(resp.Body, fn)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
