/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package crossfade

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/nocturne/internal/audio"
	"github.com/friendsincode/nocturne/internal/coordinator"
	"github.com/friendsincode/nocturne/internal/events"
	"github.com/friendsincode/nocturne/internal/fade"
	"github.com/friendsincode/nocturne/internal/playlist"
	"github.com/friendsincode/nocturne/internal/telemetry"
)

// Options tunes an Orchestrator.
type Options struct {
	Clock  clock.Clock
	Bus    *events.Bus
	Policy ResumePolicy

	// QuickFinishDuration and QuickFinishThreshold apply to ResumeQuickFinish.
	QuickFinishDuration  time.Duration
	QuickFinishThreshold float64

	// RollbackDuration is the length of the linear un-fade. Zero reverts at once.
	RollbackDuration time.Duration

	// OnComplete runs after a crossfade commits, outside the orchestrator lock.
	OnComplete func(Session)
}

// Orchestrator drives timed fades between the active and inactive channels.
type Orchestrator struct {
	coord   *coordinator.Coordinator
	backend audio.Backend
	clock   clock.Clock
	bus     *events.Bus
	logger  zerolog.Logger
	opts    Options

	mu      sync.Mutex
	state   State
	session *Session
	paused  *PausedSession
	// held is set when the backend is paused without a crossfade to freeze.
	held bool

	// Current fade segment: progress runs from segFrom to 1 over segDur
	// starting at segStart. Resume opens a new segment.
	segStart time.Time
	segFrom  float64
	segDur   time.Duration

	// gen invalidates tick loops from earlier segments.
	gen        uint64
	manualTick bool
	// unfading is set while Rollback ramps the gains with the lock released.
	unfading bool
}

// New creates an idle orchestrator.
func New(coord *coordinator.Coordinator, backend audio.Backend, opts Options, logger zerolog.Logger) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Policy == "" {
		opts.Policy = ResumeContinue
	}
	if opts.QuickFinishDuration <= 0 {
		opts.QuickFinishDuration = time.Second
	}
	if opts.QuickFinishThreshold <= 0 {
		opts.QuickFinishThreshold = 0.5
	}

	telemetry.SetOrchestratorState(string(StateIdle))
	return &Orchestrator{
		coord:   coord,
		backend: backend,
		clock:   opts.Clock,
		bus:     opts.Bus,
		logger:  logger.With().Str("component", "crossfade").Logger(),
		opts:    opts,
		state:   StateIdle,
	}
}

// Begin loads to onto the inactive channel, unless it is already there, and
// starts fading it in over duration. A load failure leaves the orchestrator
// idle and the coordinator untouched; the caller owns any playlist rollback.
func (o *Orchestrator) Begin(ctx context.Context, to playlist.Track, duration time.Duration, curve fade.Curve) error {
	if !curve.Valid() {
		curve = fade.CurveEqualPower
	}

	o.mu.Lock()
	if !isValidTransition(o.state, StatePreparing) {
		err := transitionError(o.state, StatePreparing)
		o.mu.Unlock()
		return err
	}
	o.setStateLocked(StatePreparing)
	o.mu.Unlock()

	if !o.coord.InactiveHolds(to) {
		if _, err := o.coord.LoadOnInactive(ctx, to); err != nil {
			o.mu.Lock()
			o.setStateLocked(StateIdle)
			o.mu.Unlock()
			return loadError(err)
		}
	}

	snap := o.coord.Snapshot()
	ref, err := o.coord.BeginCrossfade()
	if err != nil {
		_ = o.coord.ForceIdle()
		o.mu.Lock()
		o.finishLocked(OutcomeFailed)
		o.mu.Unlock()
		return fmt.Errorf("begin crossfade: %w", err)
	}

	sess := &Session{
		ID:                       uuid.NewString(),
		TotalDuration:            duration,
		Curve:                    curve,
		SnapshotActivePosition:   snap.ActiveState().Position,
		SnapshotInactivePosition: snap.InactiveState().Position,
		StartClockReference:      ref,
		StartedAt:                o.clock.Now(),
	}
	if t := snap.ActiveState().Track; t != nil {
		sess.From = *t
	}
	if t := snap.InactiveState().Track; t != nil {
		sess.To = *t
	}

	o.mu.Lock()
	o.session = sess
	o.setStateLocked(StateFading)
	gen := o.startSegmentLocked(0, duration)
	o.mu.Unlock()

	telemetry.CrossfadeDuration.Observe(duration.Seconds())
	o.logger.Info().
		Str("session_id", sess.ID).
		Str("from", sess.From.Key()).
		Str("to", sess.To.Key()).
		Dur("duration", duration).
		Str("curve", string(curve)).
		Msg("crossfade started")

	o.tick(gen)
	return nil
}

func loadError(err error) error {
	if audio.KindOf(err) == audio.KindTimeout {
		return fmt.Errorf("%w: %w: %w", ErrFileLoadFailed, ErrCrossfadeTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrFileLoadFailed, err)
}

// startSegmentLocked opens a fade segment and starts its tick loop.
func (o *Orchestrator) startSegmentLocked(from float64, duration time.Duration) uint64 {
	o.gen++
	o.segStart = o.clock.Now()
	o.segFrom = from
	o.segDur = duration

	gen := o.gen
	if !o.manualTick && duration > 0 {
		go o.loop(gen, fade.TickInterval(o.session.TotalDuration))
	}
	return gen
}

func (o *Orchestrator) loop(gen uint64, interval time.Duration) {
	ticker := o.clock.Ticker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if o.tick(gen) {
			return
		}
	}
}

func (o *Orchestrator) progressLocked(now time.Time) float64 {
	if o.segDur <= 0 {
		return 1
	}
	p := o.segFrom + (1-o.segFrom)*float64(now.Sub(o.segStart))/float64(o.segDur)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// tick advances the fade of generation gen. It reports whether the loop
// for that generation should stop.
func (o *Orchestrator) tick(gen uint64) bool {
	o.mu.Lock()
	if gen != o.gen || o.state != StateFading {
		o.mu.Unlock()
		return true
	}

	p := o.progressLocked(o.clock.Now())
	o.session.Progress = p
	out, in := fade.Gains(o.session.Curve, p)
	if err := o.coord.ApplyGains(out, in); err != nil {
		o.logger.Warn().Err(err).Float64("progress", p).Msg("failed to apply crossfade gains")
	}

	sess := *o.session
	o.bus.Publish(events.EventCrossfadeProgress, events.Payload{
		"session_id":    sess.ID,
		"phase":         string(StateFading),
		"progress":      p,
		"current_track": sess.From.Key(),
		"next_track":    sess.To.Key(),
		"active_gain":   out,
		"inactive_gain": in,
	})

	if p < 1 {
		o.mu.Unlock()
		return false
	}

	err := o.completeLocked()
	o.mu.Unlock()

	if err == nil && o.opts.OnComplete != nil {
		o.opts.OnComplete(sess)
	}
	return true
}

func (o *Orchestrator) completeLocked() error {
	o.setStateLocked(StateSwitching)
	if err := o.coord.CommitSwap(); err != nil {
		o.logger.Error().Err(err).Msg("commit swap failed, forcing idle")
		_ = o.coord.ForceIdle()
		o.finishLocked(OutcomeFailed)
		return err
	}
	o.setStateLocked(StateCleanup)

	o.logger.Info().
		Str("session_id", o.session.ID).
		Str("track", o.session.To.Key()).
		Dur("elapsed", o.clock.Since(o.session.StartedAt)).
		Msg("crossfade completed")
	o.finishLocked(OutcomeCompleted)
	return nil
}

// finishLocked discards the session and returns to idle.
func (o *Orchestrator) finishLocked(outcome Outcome) {
	o.gen++
	o.session = nil
	o.paused = nil
	o.setStateLocked(StateIdle)
	telemetry.CrossfadesTotal.WithLabelValues(string(outcome)).Inc()
}

func (o *Orchestrator) setStateLocked(next State) {
	if o.state == next {
		return
	}
	prev := o.state
	if !isValidTransition(prev, next) {
		o.logger.Error().Str("from", string(prev)).Str("to", string(next)).Msg("unexpected state transition")
	}
	o.state = next
	telemetry.SetOrchestratorState(string(next))

	o.logger.Debug().Str("from", string(prev)).Str("to", string(next)).Msg("state transition")
	o.bus.Publish(events.EventCrossfadePhase, events.Payload{
		"from":  string(prev),
		"phase": string(next),
	})
}

// Pause freezes a running crossfade at its current progress and gains, or
// pauses the backend when no crossfade is running.
func (o *Orchestrator) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case StateFading:
		if o.unfading {
			return transitionError(o.state, StatePaused)
		}
		now := o.clock.Now()
		p := o.progressLocked(now)
		o.session.Progress = p
		out, in := fade.Gains(o.session.Curve, p)
		if err := o.coord.ApplyGains(out, in); err != nil {
			return err
		}
		if err := o.backend.Pause(); err != nil {
			return fmt.Errorf("pause backend: %w", err)
		}
		o.gen++

		snap := o.coord.Snapshot()
		o.paused = &PausedSession{
			Session:          *o.session,
			ActiveGain:       out,
			InactiveGain:     in,
			ActivePosition:   snap.ActiveState().Position,
			InactivePosition: snap.InactiveState().Position,
			PausedAt:         now,
		}
		o.session = nil
		o.held = false
		o.setStateLocked(StatePaused)
		o.setModeLocked(coordinator.ModePaused)

		o.logger.Info().
			Str("session_id", o.paused.ID).
			Float64("progress", p).
			Msg("crossfade paused")
		return nil

	case StateIdle:
		if o.held {
			return transitionError(StatePaused, StatePaused)
		}
		if err := o.backend.Pause(); err != nil {
			return fmt.Errorf("pause backend: %w", err)
		}
		o.held = true
		o.setModeLocked(coordinator.ModePaused)
		return nil

	default:
		return transitionError(o.state, StatePaused)
	}
}

// Resume continues a paused crossfade from its saved progress, or resumes the
// backend when playback was paused outside a crossfade.
func (o *Orchestrator) Resume() error {
	o.mu.Lock()

	switch {
	case o.state == StatePaused:
		ps := o.paused
		o.paused = nil
		sess := ps.Session
		o.session = &sess

		remaining := sess.Remaining()
		if o.opts.Policy == ResumeQuickFinish && sess.Progress >= o.opts.QuickFinishThreshold &&
			o.opts.QuickFinishDuration < remaining {
			remaining = o.opts.QuickFinishDuration
		}

		if err := o.backend.Resume(); err != nil {
			o.paused = ps
			o.session = nil
			o.mu.Unlock()
			return fmt.Errorf("resume backend: %w", err)
		}
		o.setModeLocked(coordinator.ModePlaying)
		o.setStateLocked(StateFading)
		gen := o.startSegmentLocked(sess.Progress, remaining)
		o.mu.Unlock()

		o.logger.Info().
			Str("session_id", sess.ID).
			Float64("progress", sess.Progress).
			Dur("remaining", remaining).
			Str("policy", string(o.opts.Policy)).
			Msg("crossfade resumed")
		o.tick(gen)
		return nil

	case o.state == StateIdle && o.held:
		defer o.mu.Unlock()
		if err := o.backend.Resume(); err != nil {
			return fmt.Errorf("resume backend: %w", err)
		}
		o.held = false
		o.setModeLocked(coordinator.ModePlaying)
		return nil

	default:
		err := transitionError(o.state, StateFading)
		o.mu.Unlock()
		return err
	}
}

// Rollback abandons a running or paused crossfade: the incoming channel is
// faded out quickly and cleared and the outgoing track returns to full gain
// at its pre-crossfade position. It returns the abandoned session, or nil
// when nothing was in flight.
func (o *Orchestrator) Rollback() (*Session, error) {
	o.mu.Lock()

	var sess Session
	switch {
	case o.state == StateIdle:
		o.mu.Unlock()
		return nil, nil
	case o.state == StateFading && !o.unfading:
		o.session.Progress = o.progressLocked(o.clock.Now())
		sess = *o.session
		o.gen++
		gen := o.gen
		o.unfading = true
		o.mu.Unlock()

		o.unfade(gen)

		o.mu.Lock()
		o.unfading = false
		if o.gen != gen {
			// Cancelled while ramping; the coordinator is already idle.
			o.mu.Unlock()
			return &sess, nil
		}
	case o.state == StatePaused:
		sess = o.paused.Session
		// The backend stays paused; the session's pause now belongs to idle.
		o.held = true
	default:
		err := transitionError(o.state, StateIdle)
		o.mu.Unlock()
		return nil, err
	}
	defer o.mu.Unlock()

	if err := o.coord.RevertSwap(sess.SnapshotActivePosition); err != nil {
		o.logger.Error().Err(err).Msg("revert swap failed, forcing idle")
		_ = o.coord.ForceIdle()
		o.finishLocked(OutcomeFailed)
		return &sess, err
	}
	o.finishLocked(OutcomeRolledBack)

	o.logger.Info().
		Str("session_id", sess.ID).
		Float64("progress", sess.Progress).
		Dur("restored_position", sess.SnapshotActivePosition).
		Msg("crossfade rolled back")
	return &sess, nil
}

// unfade ramps the gains linearly from their current values back to (1, 0)
// over RollbackDuration. It runs without the orchestrator lock.
func (o *Orchestrator) unfade(gen uint64) {
	d := o.opts.RollbackDuration
	if d <= 0 {
		return
	}
	interval := fade.TickInterval(d)
	steps := int(d / interval)
	if steps < 1 {
		steps = 1
	}

	active, inactive := o.coord.Gains()
	for k := 1; k <= steps; k++ {
		o.clock.Sleep(interval)
		o.mu.Lock()
		stale := o.gen != gen
		o.mu.Unlock()
		if stale {
			return
		}
		f := float64(k) / float64(steps)
		if err := o.coord.ApplyGains(active+(1-active)*f, inactive*(1-f)); err != nil {
			o.logger.Warn().Err(err).Msg("un-fade step failed")
			return
		}
	}
}

// Cancel drops any crossfade and forces the coordinator into its safe idle
// configuration. The backend pause state is left alone.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelLocked()
}

func (o *Orchestrator) cancelLocked() {
	if o.state == StateIdle {
		return
	}
	o.gen++
	if err := o.coord.ForceIdle(); err != nil {
		o.logger.Error().Err(err).Msg("force idle failed")
	}
	o.finishLocked(OutcomeCancelled)
}

// Reset cancels any crossfade and makes sure the backend is rendering again,
// ready for the next session.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.cancelLocked()
	o.held = false
	return o.backend.Resume()
}

// Status returns a copy of the orchestrator state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := Status{State: o.state}
	if o.session != nil {
		sess := *o.session
		if o.state == StateFading && !o.unfading {
			sess.Progress = o.progressLocked(o.clock.Now())
		}
		st.Session = &sess
	}
	if o.paused != nil {
		ps := *o.paused
		st.Paused = &ps
	}
	return st
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Paused reports whether playback is paused, with or without a crossfade.
func (o *Orchestrator) Paused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state == StatePaused || o.held
}

func (o *Orchestrator) setModeLocked(mode coordinator.Mode) {
	if o.coord.Snapshot().Mode == coordinator.ModeStopped {
		return
	}
	if err := o.coord.SetMode(mode); err != nil {
		o.logger.Warn().Err(err).Str("mode", mode.String()).Msg("failed to record playback mode")
	}
}
