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
	"github.com/friendsincode/nocturne/internal/playlist"
)

// ErrNoSession indicates the store holds no session for a playlist.
var ErrNoSession = errors.New("no saved session")

// SessionSnapshot is what survives a restart: where in the playlist the
// listener was and how far into the track.
type SessionSnapshot struct {
	Name            string
	TrackIndex      int
	TrackID         string
	Position        time.Duration
	CompletedCycles int
	RepeatMode      playlist.RepeatMode
	RepeatCount     int
	Finished        bool
	UpdatedAt       time.Time
}

// SessionStore persists session snapshots keyed by playlist name.
type SessionStore interface {
	Save(ctx context.Context, snap SessionSnapshot) error
	Load(ctx context.Context, name string) (SessionSnapshot, error)
}

// Snapshot captures the current session for persistence.
func (c *Controller) Snapshot() SessionSnapshot {
	pl := c.seq.Snapshot()
	snap := SessionSnapshot{
		Name:            c.opts.PlaylistName,
		TrackIndex:      pl.CurrentIndex,
		CompletedCycles: pl.CompletedCycles,
		RepeatMode:      pl.RepeatMode,
		RepeatCount:     pl.RepeatCount,
		Finished:        c.isFinished(),
		UpdatedAt:       c.clock.Now(),
	}
	if t, ok := c.seq.Current(); ok {
		snap.TrackID = t.Key()
	}

	// Mid-crossfade the playlist already points at the incoming track, which
	// is only just starting; keep the position at zero for it.
	active := c.coord.Snapshot().ActiveState()
	if active.Track != nil && active.Track.Key() == snap.TrackID {
		snap.Position = active.Position
	}
	return snap
}

func (c *Controller) persist(ctx context.Context) {
	if c.opts.Store == nil {
		return
	}
	snap := c.Snapshot()
	if err := c.opts.Store.Save(ctx, snap); err != nil {
		c.logger.Warn().Err(err).Msg("failed to save session")
		return
	}
	c.logger.Debug().
		Str("track", snap.TrackID).
		Dur("position", snap.Position).
		Msg("session saved")
}

func (c *Controller) persistLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := c.clock.Ticker(c.opts.PersistInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.coord.Snapshot().Mode != coordinator.ModeStopped {
				c.persist(ctx)
			}
		}
	}
}
