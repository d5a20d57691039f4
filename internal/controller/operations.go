/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/friendsincode/nocturne/internal/audio"
	"github.com/friendsincode/nocturne/internal/coordinator"
	"github.com/friendsincode/nocturne/internal/crossfade"
	"github.com/friendsincode/nocturne/internal/events"
	"github.com/friendsincode/nocturne/internal/fade"
	"github.com/friendsincode/nocturne/internal/overlay"
	"github.com/friendsincode/nocturne/internal/playlist"
	"github.com/friendsincode/nocturne/internal/telemetry"
)

// Play starts the current track. It resumes when paused and does nothing
// when already playing.
func (c *Controller) Play(ctx context.Context) error {
	return c.submit(ctx, "play", c.play)
}

// Next crossfades to the next playable track.
func (c *Controller) Next(ctx context.Context) error {
	return c.submit(ctx, "next", func(ctx context.Context) error {
		return c.skip(ctx, playlist.Forward, false)
	})
}

// Previous crossfades to the previous playable track.
func (c *Controller) Previous(ctx context.Context) error {
	return c.submit(ctx, "previous", func(ctx context.Context) error {
		return c.skip(ctx, playlist.Backward, false)
	})
}

// Jump crossfades to the track at index. A track that fails to load is
// reported, not skipped.
func (c *Controller) Jump(ctx context.Context, index int) error {
	return c.submit(ctx, "jump", func(ctx context.Context) error {
		return c.jump(ctx, index)
	})
}

// Pause freezes playback, including a crossfade in flight.
func (c *Controller) Pause(ctx context.Context) error {
	return c.submit(ctx, "pause", c.pause)
}

// Resume continues paused playback.
func (c *Controller) Resume(ctx context.Context) error {
	return c.submit(ctx, "resume", c.resume)
}

// Stop cancels any crossfade, clears every channel and saves the session.
func (c *Controller) Stop(ctx context.Context) error {
	return c.submit(ctx, "stop", func(ctx context.Context) error {
		return c.stop(ctx, 0)
	})
}

// SetRepeat changes the repeat mode. count 0 repeats without limit.
func (c *Controller) SetRepeat(ctx context.Context, mode playlist.RepeatMode, count int) error {
	if count < 0 {
		return fmt.Errorf("repeat count %d must not be negative", count)
	}
	return c.submit(ctx, "set_repeat", func(context.Context) error {
		c.seq.SetRepeat(mode, count)
		c.logger.Info().Str("mode", mode.String()).Int("count", count).Msg("repeat changed")
		return nil
	})
}

// StartOverlay loops track on the overlay layer at gain.
func (c *Controller) StartOverlay(ctx context.Context, track playlist.Track, gain float64) error {
	return c.submit(ctx, "overlay_start", func(ctx context.Context) error {
		lctx, cancel := context.WithTimeout(ctx, c.opts.LoadTimeout)
		defer cancel()
		err := c.overlay.Start(lctx, track, gain, c.opts.OverlayFade)
		if err != nil && audio.KindOf(err) != "" {
			telemetry.TrackLoadFailures.WithLabelValues(string(audio.KindOf(err))).Inc()
		}
		return err
	})
}

// StopOverlay fades the overlay out.
func (c *Controller) StopOverlay(ctx context.Context) error {
	return c.submit(ctx, "overlay_stop", func(context.Context) error {
		return c.overlay.Stop(c.opts.OverlayFade)
	})
}

// SetOverlayGain changes the overlay level.
func (c *Controller) SetOverlayGain(ctx context.Context, gain float64) error {
	return c.submit(ctx, "overlay_gain", func(context.Context) error {
		return c.overlay.SetGain(gain, overlayGainRamp)
	})
}

// Interrupt routes output interruptions (another app taking the device,
// a call) through the same path as a manual pause. Only a pause caused by
// an interruption is undone when it ends.
func (c *Controller) Interrupt(ctx context.Context, began bool) error {
	return c.submit(ctx, "interrupt", func(ctx context.Context) error {
		c.mu.Lock()
		interrupted := c.interrupted
		c.mu.Unlock()

		if began {
			if c.orch.Paused() || c.coord.Snapshot().Mode != coordinator.ModePlaying {
				return nil
			}
			if err := c.pause(ctx); err != nil {
				return err
			}
			c.mu.Lock()
			c.interrupted = true
			c.mu.Unlock()
			return nil
		}

		if !interrupted {
			return nil
		}
		c.mu.Lock()
		c.interrupted = false
		c.mu.Unlock()
		if !c.orch.Paused() {
			return nil
		}
		return c.resume(ctx)
	})
}

// Restore positions the playlist from a saved session and starts playing
// at the saved offset.
func (c *Controller) Restore(ctx context.Context, snap SessionSnapshot) error {
	return c.submit(ctx, "restore", func(ctx context.Context) error {
		return c.restore(ctx, snap)
	})
}

// Reload swaps in an edited track list. The playlist stays on the current
// track when it survives the edit; the audible track is never interrupted.
func (c *Controller) Reload(ctx context.Context, tracks []playlist.Track) error {
	return c.submit(ctx, "reload", func(context.Context) error {
		before, _ := c.seq.Current()
		c.seq.Replace(tracks)
		after, ok := c.seq.Current()

		c.logger.Info().
			Int("tracks", len(tracks)).
			Int("index", c.seq.CurrentIndex()).
			Bool("kept_current", ok && after.Key() == before.Key()).
			Msg("playlist reloaded")
		c.bus.Publish(events.EventPlaylistReloaded, events.Payload{
			"tracks": len(tracks),
			"index":  c.seq.CurrentIndex(),
		})
		return nil
	})
}

func (c *Controller) play(ctx context.Context) error {
	snap := c.coord.Snapshot()
	switch snap.Mode {
	case coordinator.ModePlaying:
		return nil
	case coordinator.ModePaused:
		return c.resume(ctx)
	}
	if c.seq.Len() == 0 {
		return playlist.ErrEmptyPlaylist
	}

	if err := c.orch.Reset(); err != nil {
		return fmt.Errorf("reset backend: %w", err)
	}
	c.setFinished(false)

	track, _ := c.seq.Current()
	if err := c.validate(ctx)(track); err != nil {
		c.recordSkip(playlist.SkippedTrack{Index: c.seq.CurrentIndex(), Track: track, Err: err})
		res := c.seq.SkipWithRetry(playlist.Forward, c.validate(ctx), c.opts.MaxSkipAttempts-1)
		c.recordSkips(res)
		if !res.Found() {
			return fmt.Errorf("%w: %d attempts", ErrNoValidTracksInPlaylist, res.Attempts+1)
		}
		track = res.Track
	}

	if err := c.coord.SwitchNow(); err != nil {
		return fmt.Errorf("start playback: %w", err)
	}
	c.logger.Info().Str("track", track.String()).Int("index", c.seq.CurrentIndex()).Msg("playback started")
	c.publishState("playing")
	c.publishTrackChanged(track, "play")
	return nil
}

// skip moves the playlist in dir and crossfades to the landing track. A
// crossfade still in flight is rolled back first.
func (c *Controller) skip(ctx context.Context, dir playlist.Direction, auto bool) error {
	if c.coord.Snapshot().Mode == coordinator.ModeStopped {
		return ErrNotPlaying
	}
	if c.seq.Len() == 0 {
		return playlist.ErrEmptyPlaylist
	}

	paused := c.orch.Paused()
	interrupted, err := c.orch.Rollback()
	if err != nil {
		return fmt.Errorf("roll back crossfade: %w", err)
	}
	if interrupted != nil {
		c.logger.Info().
			Str("session_id", interrupted.ID).
			Str("to", interrupted.To.Key()).
			Float64("progress", interrupted.Progress).
			Msg("crossfade interrupted by skip")
	}

	if interrupted != nil && dir == playlist.Backward {
		// Stepping back over a rolled back crossfade lands on its outgoing
		// track, which the rollback already restored.
		if prev, ok := c.seq.PeekPrevious(); ok && prev.Key() == interrupted.From.Key() {
			if _, _, ok := c.seq.CommitPrevious(); ok {
				c.logger.Info().Str("track", prev.Key()).Msg("previous during crossfade, keeping outgoing track")
				c.publishTrackChanged(prev, "switch")
				return nil
			}
		}
	}

	res := c.seq.SkipWithRetry(dir, c.validate(ctx), c.opts.MaxSkipAttempts)
	c.recordSkips(res)

	switch res.Outcome {
	case playlist.SkipFound:
		return c.transition(ctx, res.Track, res.Step, paused, auto)

	case playlist.SkipEndReached:
		if auto {
			return c.finish(ctx, "end_of_playlist")
		}
		c.reinstate(ctx, interrupted, paused)
		return ErrEndOfPlaylist

	default:
		if c.seq.RepeatMode() == playlist.RepeatOff {
			c.logger.Error().Int("attempts", res.Attempts).Msg("no playable track ahead, finishing session")
			return c.finish(ctx, "no_valid_tracks")
		}
		c.reinstate(ctx, interrupted, paused)
		return fmt.Errorf("%w: %d attempts", ErrNoValidTracksInPlaylist, res.Attempts)
	}
}

func (c *Controller) jump(ctx context.Context, index int) error {
	if c.coord.Snapshot().Mode == coordinator.ModeStopped {
		if _, _, err := c.seq.Jump(index); err != nil {
			return err
		}
		return c.play(ctx)
	}

	paused := c.orch.Paused()
	interrupted, err := c.orch.Rollback()
	if err != nil {
		return fmt.Errorf("roll back crossfade: %w", err)
	}

	track, step, err := c.seq.Jump(index)
	if err != nil {
		c.reinstate(ctx, interrupted, paused)
		return err
	}
	if err := c.validate(ctx)(track); err != nil {
		c.seq.Rollback(step)
		c.reinstate(ctx, interrupted, paused)
		return fmt.Errorf("%w: %w", crossfade.ErrFileLoadFailed, err)
	}
	return c.transition(ctx, track, step, paused, false)
}

// transition moves audio to track, already loaded on the inactive channel.
// The playlist step is rolled back if the hand-off cannot start.
func (c *Controller) transition(ctx context.Context, track playlist.Track, step playlist.Step, paused, auto bool) error {
	snap := c.coord.Snapshot()
	incoming := snap.InactiveState()
	active := snap.ActiveState()

	var trackDuration time.Duration
	if incoming.Track != nil {
		trackDuration = incoming.Track.Duration
	}
	duration := fade.EffectiveDuration(c.opts.CrossfadeDuration, trackDuration, c.opts.AutoAdaptRatio)
	if auto && active.Track != nil && active.Track.Duration > 0 {
		if remaining := active.Track.Duration - active.Position; remaining < duration {
			duration = max(remaining, 0)
		}
	}

	if duration <= 0 || !active.Loaded() {
		if err := c.coord.SwitchNow(); err != nil {
			c.seq.Rollback(step)
			return fmt.Errorf("switch track: %w", err)
		}
		if paused {
			if err := c.coord.SetMode(coordinator.ModePaused); err != nil {
				return err
			}
		}
		c.publishTrackChanged(track, reason(auto, "switch"))
		return nil
	}

	if err := c.orch.Begin(ctx, track, duration, c.opts.Curve); err != nil {
		c.seq.Rollback(step)
		return err
	}
	if paused {
		// The backend is still paused; freeze the new fade at its start.
		if err := c.orch.Pause(); err != nil {
			return fmt.Errorf("keep paused: %w", err)
		}
	}
	return nil
}

// reinstate restarts an interrupted crossfade whose replacement could not
// start, so the audible target matches the playlist position again.
func (c *Controller) reinstate(ctx context.Context, sess *crossfade.Session, paused bool) {
	if sess == nil {
		return
	}
	track := sess.To
	lctx, cancel := context.WithTimeout(ctx, c.opts.LoadTimeout)
	defer cancel()

	var err error
	if remaining := sess.Remaining(); remaining > 0 {
		err = c.orch.Begin(lctx, track, remaining, sess.Curve)
		if err == nil && paused {
			err = c.orch.Pause()
		}
	} else {
		err = c.coord.Activate(lctx, track)
	}
	if err != nil {
		c.logger.Error().Err(err).Str("track", track.Key()).Msg("failed to reinstate interrupted crossfade")
		return
	}
	c.logger.Info().Str("track", track.Key()).Msg("interrupted crossfade reinstated")
}

func (c *Controller) pause(context.Context) error {
	if c.coord.Snapshot().Mode == coordinator.ModeStopped {
		return ErrNotPlaying
	}
	if err := c.orch.Pause(); err != nil {
		return err
	}
	c.publishState("paused")
	return nil
}

func (c *Controller) resume(context.Context) error {
	if err := c.orch.Resume(); err != nil {
		return err
	}
	c.mu.Lock()
	c.interrupted = false
	c.mu.Unlock()
	c.publishState("playing")
	return nil
}

// stop silences everything. The overlay fades over overlayFade.
func (c *Controller) stop(ctx context.Context, overlayFade time.Duration) error {
	c.orch.Cancel()
	if err := c.overlay.Stop(overlayFade); err != nil {
		c.logger.Warn().Err(err).Msg("failed to stop overlay")
	}
	if err := c.coord.Stop(); err != nil {
		return fmt.Errorf("stop channels: %w", err)
	}
	if err := c.orch.Reset(); err != nil {
		return fmt.Errorf("reset backend: %w", err)
	}
	c.mu.Lock()
	c.interrupted = false
	c.mu.Unlock()

	c.persist(ctx)
	c.publishState("stopped")
	c.logger.Info().Msg("playback stopped")
	return nil
}

// finish ends the session after the playlist ran out.
func (c *Controller) finish(ctx context.Context, why string) error {
	c.setFinished(true)
	if err := c.stop(ctx, c.opts.OverlayFade); err != nil {
		return err
	}
	st := c.seq.Snapshot()
	c.bus.Publish(events.EventSessionFinished, events.Payload{
		"reason":           why,
		"completed_cycles": st.CompletedCycles,
		"index":            st.CurrentIndex,
	})
	c.logger.Info().Str("reason", why).Int("completed_cycles", st.CompletedCycles).Msg("session finished")
	return nil
}

func (c *Controller) restore(ctx context.Context, snap SessionSnapshot) error {
	if snap.Finished {
		return c.play(ctx)
	}

	c.seq.SetRepeat(snap.RepeatMode, snap.RepeatCount)
	index := snap.TrackIndex
	if tracks := c.seq.Tracks(); index < 0 || index >= len(tracks) || tracks[index].Key() != snap.TrackID {
		// The playlist changed since the save; follow the track if it survived.
		index = -1
		for i, t := range tracks {
			if t.Key() == snap.TrackID {
				index = i
				break
			}
		}
	}
	if index >= 0 {
		if err := c.seq.Restore(index, snap.CompletedCycles); err != nil {
			return err
		}
	} else {
		c.logger.Warn().Str("track", snap.TrackID).Msg("saved track no longer in playlist, starting from current position")
	}

	if err := c.play(ctx); err != nil {
		return err
	}

	active := c.coord.Snapshot().ActiveState()
	if snap.Position > 0 && active.Track != nil && active.Track.Key() == snap.TrackID &&
		(active.Track.Duration == 0 || snap.Position < active.Track.Duration) {
		if err := c.coord.SeekActive(snap.Position); err != nil {
			return fmt.Errorf("seek to saved position: %w", err)
		}
	}
	c.logger.Info().
		Str("track", snap.TrackID).
		Int("index", c.seq.CurrentIndex()).
		Dur("position", snap.Position).
		Msg("session restored")
	return nil
}

// validate returns the SkipWithRetry check: the track must load onto the
// inactive channel within the load timeout.
func (c *Controller) validate(ctx context.Context) func(playlist.Track) error {
	return func(t playlist.Track) error {
		lctx, cancel := context.WithTimeout(ctx, c.opts.LoadTimeout)
		defer cancel()
		_, err := c.coord.LoadOnInactive(lctx, t)
		if err != nil {
			kind := audio.KindOf(err)
			if kind == "" {
				kind = "other"
			}
			telemetry.TrackLoadFailures.WithLabelValues(string(kind)).Inc()
		}
		return err
	}
}

func (c *Controller) recordSkips(res playlist.SkipResult) {
	for _, s := range res.Skipped {
		c.recordSkip(s)
	}
}

func (c *Controller) recordSkip(s playlist.SkippedTrack) {
	telemetry.SkippedTracks.Inc()
	c.bus.Publish(events.EventTrackSkipped, events.Payload{
		"track": s.Track.Key(),
		"index": s.Index,
		"kind":  string(audio.KindOf(s.Err)),
		"error": s.Err.Error(),
	})
}

func (c *Controller) onCrossfadeComplete(sess crossfade.Session) {
	c.logger.Info().
		Str("session_id", sess.ID).
		Str("track", sess.To.String()).
		Msg("now playing")
	c.publishTrackChanged(sess.To, "crossfade")
}

func reason(auto bool, manual string) string {
	if auto {
		return "auto_advance"
	}
	return manual
}

// Status is a point-in-time view of the whole player.
type Status struct {
	Mode            coordinator.Mode
	Track           *playlist.Track
	Index           int
	Position        time.Duration
	Crossfade       crossfade.Status
	Overlay         overlay.Status
	RepeatMode      playlist.RepeatMode
	RepeatCount     int
	CompletedCycles int
	Tracks          int
	QueueDepth      int
	Finished        bool
}

// Status reads every component without going through the queue.
func (c *Controller) Status() Status {
	snap := c.coord.Snapshot()
	pl := c.seq.Snapshot()

	st := Status{
		Mode:            snap.Mode,
		Index:           pl.CurrentIndex,
		Crossfade:       c.orch.Status(),
		Overlay:         c.overlay.Status(),
		RepeatMode:      pl.RepeatMode,
		RepeatCount:     pl.RepeatCount,
		CompletedCycles: pl.CompletedCycles,
		Tracks:          len(pl.Tracks),
		QueueDepth:      len(c.ops),
		Finished:        c.isFinished(),
	}
	if active := snap.ActiveState(); active.Track != nil {
		t := *active.Track
		st.Track = &t
		st.Position = active.Position
	}
	return st
}
