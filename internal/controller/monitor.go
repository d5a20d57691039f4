/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package controller

import (
	"context"
	"errors"
	"time"

	"github.com/friendsincode/nocturne/internal/coordinator"
	"github.com/friendsincode/nocturne/internal/crossfade"
	"github.com/friendsincode/nocturne/internal/events"
	"github.com/friendsincode/nocturne/internal/fade"
	"github.com/friendsincode/nocturne/internal/playlist"
)

// monitorLoop starts the hand-off to the next track once the active track
// has no more than a crossfade's worth of audio left.
func (c *Controller) monitorLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := c.clock.Ticker(c.opts.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkAdvance(ctx)
		}
	}
}

func (c *Controller) checkAdvance(ctx context.Context) {
	if c.autoPending.Load() || c.isFinished() {
		return
	}
	snap := c.coord.Snapshot()
	active := snap.ActiveState()
	if snap.Mode != coordinator.ModePlaying || snap.Crossfading || active.Track == nil || active.Track.Duration <= 0 {
		return
	}
	if c.orch.State() != crossfade.StateIdle {
		return
	}

	// With nothing to follow, the last track plays out before the session ends.
	var lead time.Duration
	if next, ok := c.seq.PeekNext(); ok {
		lead = fade.EffectiveDuration(c.opts.CrossfadeDuration, next.Duration, c.opts.AutoAdaptRatio)
	}
	if active.Track.Duration-active.Position > lead {
		return
	}

	key := active.Track.Key()
	c.autoPending.Store(true)
	go func() {
		defer c.autoPending.Store(false)
		err := c.submit(ctx, "auto_advance", func(ctx context.Context) error {
			s := c.coord.Snapshot()
			cur := s.ActiveState()
			if s.Mode != coordinator.ModePlaying || s.Crossfading || cur.Track == nil || cur.Track.Key() != key {
				return nil
			}
			return c.skip(ctx, playlist.Forward, true)
		})
		if err != nil && !errors.Is(err, ErrStopped) && !errors.Is(err, context.Canceled) {
			c.logger.Error().Err(err).Str("track", key).Msg("auto-advance failed")
			c.bus.Publish(events.EventError, events.Payload{"op": "auto_advance", "error": err.Error()})
		}
	}()
}
