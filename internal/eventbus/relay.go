/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus relays console notifications to external brokers so
// dashboards and bots can follow the console without a websocket.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/stagehand/internal/events"
)

// Publisher is a broker connection that accepts raw messages on a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Close() error
}

// Envelope is the wire form of a relayed notification.
type Envelope struct {
	Notification events.Notification `json:"notification"`
	NodeID       string              `json:"node_id"`
	MessageID    string              `json:"message_id"`
}

func marshalEnvelope(n events.Notification, nodeID string) ([]byte, error) {
	return json.Marshal(Envelope{
		Notification: n,
		NodeID:       nodeID,
		MessageID:    uuid.NewString(),
	})
}

// UnmarshalEnvelope parses a relayed message.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return &env, nil
}

// NodeID identifies this process in relayed envelopes.
func NodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "stagehand"
	}
	return host + "-" + uuid.NewString()[:8]
}

// Relay forwards every notification on a bus to a Publisher.
type Relay struct {
	pub    Publisher
	prefix string
	nodeID string
	filter events.Filter
	logger zerolog.Logger
}

// NewRelay creates a relay publishing to prefix + kind.
func NewRelay(pub Publisher, prefix, nodeID string, filter events.Filter, logger zerolog.Logger) *Relay {
	return &Relay{
		pub:    pub,
		prefix: prefix,
		nodeID: nodeID,
		filter: filter,
		logger: logger.With().Str("component", "eventbus").Logger(),
	}
}

// Subject returns the subject a notification kind is published on.
func (r *Relay) Subject(k events.Kind) string {
	return r.prefix + string(k)
}

// Run relays until ctx is done or the bus closes, then closes the publisher.
func (r *Relay) Run(ctx context.Context, bus *events.Bus) {
	sub := bus.SubscribeBuffered(r.filter, 256)
	defer sub.Close()
	defer func() {
		if err := r.pub.Close(); err != nil {
			r.logger.Debug().Err(err).Msg("close publisher")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-sub.C:
			if !ok {
				return
			}
			r.forward(ctx, n)
		}
	}
}

func (r *Relay) forward(ctx context.Context, n events.Notification) {
	data, err := marshalEnvelope(n, r.nodeID)
	if err != nil {
		r.logger.Error().Err(err).Str("kind", string(n.Kind)).Msg("failed to marshal notification")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := r.pub.Publish(ctx, r.Subject(n.Kind), data); err != nil {
		r.logger.Debug().Err(err).Str("kind", string(n.Kind)).Msg("relay publish failed")
	}
}
