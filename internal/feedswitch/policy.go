/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package feedswitch guards changes to a room's primary video feed.
package feedswitch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/stagehand/internal/events"
	"github.com/friendsincode/stagehand/internal/models"
	"github.com/friendsincode/stagehand/internal/obs"
	"github.com/friendsincode/stagehand/internal/telemetry"
)

var (
	// ErrConfirmationPending is returned when a switch needs confirmation
	// while another one is still waiting for it.
	ErrConfirmationPending = errors.New("feedswitch: another switch is awaiting confirmation")

	// ErrNoPendingConfirmation is returned by Resolve when id is not pending.
	ErrNoPendingConfirmation = errors.New("feedswitch: no such pending confirmation")

	ErrInvalidTarget = errors.New("feedswitch: target needs a stream key, url or local file")
	ErrNoSecondary   = errors.New("feedswitch: room has no secondary encoder")
)

// Outcome is how a switch request ended.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeDeclined Outcome = "declined"
	OutcomeExpired  Outcome = "expired"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "failed"
)

// Feed is the primary OBS whose feed source gets repointed.
type Feed interface {
	TransitionSafe() bool
	SourceSettings(ctx context.Context, source string) (obs.SourceSettings, error)
	SetSourceSettings(ctx context.Context, source string, settings obs.SourceSettings) error
}

// Encoder is the secondary OBS relaying Zoom panels into the ingest.
type Encoder interface {
	StopStreaming(ctx context.Context) error
	StartStreamingTo(ctx context.Context, server, key string) error
}

// Options configure a Policy.
type Options struct {
	Room                string
	FeedSource          string
	RTMPBase            string
	NotStreamingMessage string
	ConfirmationTimeout time.Duration
}

// Confirmation is a switch waiting for an operator decision.
type Confirmation struct {
	ID          string            `json:"id"`
	Room        string            `json:"room"`
	Target      models.FeedTarget `json:"target"`
	Reason      string            `json:"reason"`
	RequestedAt time.Time         `json:"requestedAt"`
}

type pending struct {
	Confirmation
	decide chan bool
}

// Policy applies feed switches for one room. Switching while the panel scene
// is on air needs an explicit confirmation, and only one confirmation can be
// outstanding at a time.
type Policy struct {
	opts      Options
	primary   Feed
	secondary Encoder
	bus       *events.Bus
	logger    zerolog.Logger

	mu      sync.Mutex
	pending *pending
}

// NewPolicy creates a policy. secondary may be nil for rooms without a
// Zoom relay.
func NewPolicy(opts Options, primary Feed, secondary Encoder, bus *events.Bus, logger zerolog.Logger) *Policy {
	if opts.ConfirmationTimeout <= 0 {
		opts.ConfirmationTimeout = 2 * time.Minute
	}
	if opts.NotStreamingMessage == "" {
		opts.NotStreamingMessage = obs.MsgStreamingNotActive
	}
	return &Policy{
		opts:      opts,
		primary:   primary,
		secondary: secondary,
		bus:       bus,
		logger:    logger.With().Str("component", "feedswitch").Str("room", opts.Room).Logger(),
	}
}

// RequestSwitch points the room's feed at target. When the switch would
// interrupt the panel on air it blocks until an operator resolves the
// confirmation, ctx ends, or the confirmation times out.
func (p *Policy) RequestSwitch(ctx context.Context, target models.FeedTarget) (Outcome, error) {
	if target.StreamKey == "" && target.URL == "" && target.LocalFile == "" {
		return OutcomeRejected, ErrInvalidTarget
	}
	// The secondary encoder is restarted with StreamKey and the primary is
	// pointed at that same key, so nothing else may be set.
	if target.Secondary && (target.StreamKey == "" || target.URL != "" || target.LocalFile != "") {
		return OutcomeRejected, ErrInvalidTarget
	}
	if target.Secondary && p.secondary == nil {
		return OutcomeRejected, ErrNoSecondary
	}

	if !p.primary.TransitionSafe() {
		outcome, err := p.awaitConfirmation(ctx, target)
		if err != nil || outcome != OutcomeApplied {
			p.record(target, outcome, err)
			return outcome, err
		}
	}

	if err := runPipeline(ctx, p.steps(target)); err != nil {
		p.logger.Error().Err(err).Interface("target", target).Msg("feed switch failed")
		p.record(target, OutcomeFailed, err)
		return OutcomeFailed, err
	}
	p.logger.Info().Interface("target", target).Msg("feed switched")
	p.record(target, OutcomeApplied, nil)
	return OutcomeApplied, nil
}

// awaitConfirmation claims the pending slot and waits for a decision. It
// returns OutcomeApplied when the operator confirmed.
func (p *Policy) awaitConfirmation(ctx context.Context, target models.FeedTarget) (Outcome, error) {
	p.mu.Lock()
	if p.pending != nil {
		p.mu.Unlock()
		return OutcomeRejected, ErrConfirmationPending
	}
	pend := &pending{
		Confirmation: Confirmation{
			ID:          uuid.NewString(),
			Room:        p.opts.Room,
			Target:      target,
			Reason:      "panel scene is on air",
			RequestedAt: time.Now(),
		},
		decide: make(chan bool, 1),
	}
	p.pending = pend
	p.mu.Unlock()

	p.bus.Publish(p.opts.Room, events.ConfirmationRequested{
		Room:   p.opts.Room,
		ID:     pend.ID,
		Target: target,
		Reason: pend.Reason,
	})

	timer := time.NewTimer(p.opts.ConfirmationTimeout)
	defer timer.Stop()

	var outcome Outcome
	select {
	case ok := <-pend.decide:
		outcome = decision(ok)
	case <-timer.C:
		outcome = p.expire(pend)
	case <-ctx.Done():
		outcome = p.expire(pend)
	}

	p.bus.Publish(p.opts.Room, events.ConfirmationResolved{Room: p.opts.Room, ID: pend.ID, Outcome: string(outcome)})
	return outcome, nil
}

// expire clears pend from the slot. When Resolve already claimed it, the
// operator's answer stands.
func (p *Policy) expire(pend *pending) Outcome {
	p.mu.Lock()
	if p.pending == pend {
		p.pending = nil
		p.mu.Unlock()
		return OutcomeExpired
	}
	p.mu.Unlock()
	return decision(<-pend.decide)
}

func decision(confirm bool) Outcome {
	if confirm {
		return OutcomeApplied
	}
	return OutcomeDeclined
}

// Resolve answers the pending confirmation id.
func (p *Policy) Resolve(id string, confirm bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil || p.pending.ID != id {
		return fmt.Errorf("%w: %s", ErrNoPendingConfirmation, id)
	}
	p.pending.decide <- confirm
	p.pending = nil
	return nil
}

// Pending returns the confirmation currently awaiting a decision.
func (p *Policy) Pending() (Confirmation, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil {
		return Confirmation{}, false
	}
	return p.pending.Confirmation, true
}

func (p *Policy) record(target models.FeedTarget, outcome Outcome, err error) {
	telemetry.FeedSwitchesTotal.WithLabelValues(p.opts.Room, string(outcome)).Inc()

	action := models.AuditActionFeedSwitch
	if outcome == OutcomeDeclined || outcome == OutcomeExpired {
		action = models.AuditActionFeedDeclined
	}
	details := map[string]any{"secondary": target.Secondary}
	if target.LocalFile != "" {
		details["local_file"] = target.LocalFile
	}
	if err != nil {
		details["error"] = err.Error()
	}
	resource := target.StreamKey
	if resource == "" {
		resource = target.URL
	}
	if resource == "" {
		resource = target.LocalFile
	}
	p.bus.Publish(p.opts.Room, events.OperatorAction{
		Room:     p.opts.Room,
		Action:   action,
		Resource: resource,
		Outcome:  string(outcome),
		Details:  details,
	})
}
