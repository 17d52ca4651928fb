/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package feedswitch

import (
	"context"
	"fmt"
	"strings"

	"github.com/friendsincode/stagehand/internal/models"
	"github.com/friendsincode/stagehand/internal/obs"
)

// step is one remote call of a switch. Steps run in order and the first
// failure stops the pipeline.
type step struct {
	name string
	run  func(ctx context.Context) error
}

func runPipeline(ctx context.Context, steps []step) error {
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		if err := s.run(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// steps builds the apply sequence for target. The secondary encoder is
// restarted before the primary source is touched.
func (p *Policy) steps(target models.FeedTarget) []step {
	var steps []step
	if target.Secondary {
		steps = append(steps,
			step{name: "stop secondary", run: p.stopSecondary},
			step{name: "start secondary", run: func(ctx context.Context) error {
				return p.secondary.StartStreamingTo(ctx, p.ingestServer(), target.StreamKey)
			}},
		)
	}
	steps = append(steps, step{name: "repoint feed", run: func(ctx context.Context) error {
		return p.repoint(ctx, target)
	}})
	return steps
}

// stopSecondary stops the secondary encoder. An encoder that is already
// idle is fine.
func (p *Policy) stopSecondary(ctx context.Context) error {
	err := p.secondary.StopStreaming(ctx)
	if err != nil && obs.IsRequestError(err, p.opts.NotStreamingMessage) {
		p.logger.Debug().Msg("secondary encoder was not streaming")
		return nil
	}
	return err
}

func (p *Policy) repoint(ctx context.Context, target models.FeedTarget) error {
	current, err := p.primary.SourceSettings(ctx, p.opts.FeedSource)
	if err != nil {
		return err
	}
	settings := current.Clone()
	if target.LocalFile != "" {
		settings["is_local_file"] = true
		settings["local_file"] = target.LocalFile
	} else {
		settings["is_local_file"] = false
		settings["input"] = p.inputURL(target)
	}
	return p.primary.SetSourceSettings(ctx, p.opts.FeedSource, settings)
}

func (p *Policy) inputURL(target models.FeedTarget) string {
	if target.URL != "" {
		return target.URL
	}
	return p.opts.RTMPBase + target.StreamKey
}

// ingestServer is the RTMP base without its trailing slash, which is what
// the encoder's stream settings expect next to a separate key.
func (p *Policy) ingestServer() string {
	return strings.TrimSuffix(p.opts.RTMPBase, "/")
}
