/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package overlay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/friendsincode/nocturne/internal/audio"
	"github.com/friendsincode/nocturne/internal/events"
	"github.com/friendsincode/nocturne/internal/fade"
	"github.com/friendsincode/nocturne/internal/playlist"
	"github.com/friendsincode/nocturne/internal/telemetry"
)

var (
	ErrNotActive      = errors.New("overlay not active")
	ErrGainOutOfRange = errors.New("overlay gain out of range")
)

// Status describes the overlay layer.
type Status struct {
	Active bool
	Track  *playlist.Track
	Gain   float64
	Target float64
}

type ramp struct {
	from, to float64
	start    time.Time
	duration time.Duration
	unload   bool
}

// Layer plays one looping bed on the overlay channel, independent of the
// crossfade pair.
type Layer struct {
	backend audio.Backend
	clock   clock.Clock
	bus     *events.Bus
	logger  zerolog.Logger

	mu     sync.Mutex
	track  *playlist.Track
	gain   float64
	target float64
	ramp   *ramp

	gen        uint64
	manualTick bool
}

// NewLayer creates an idle overlay layer.
func NewLayer(backend audio.Backend, clk clock.Clock, bus *events.Bus, logger zerolog.Logger) *Layer {
	if clk == nil {
		clk = clock.New()
	}
	return &Layer{
		backend: backend,
		clock:   clk,
		bus:     bus,
		logger:  logger.With().Str("component", "overlay").Logger(),
	}
}

// Start loads track on the overlay channel, loops it, and fades it in to
// gain. A running overlay is replaced; if the load fails it keeps playing.
func (l *Layer) Start(ctx context.Context, track playlist.Track, gain float64, fadeIn time.Duration) error {
	if gain < 0 || gain > 1 {
		return fmt.Errorf("%w: %.3f", ErrGainOutOfRange, gain)
	}

	handle, err := l.backend.LoadFile(ctx, audio.ChannelOverlay, track.Path)
	if err != nil {
		return err
	}
	if track.Duration == 0 {
		track.Duration = handle.Duration
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	initial := gain
	if fadeIn > 0 {
		initial = 0
	}
	if err := l.backend.SetLoop(audio.ChannelOverlay, true); err != nil {
		return err
	}
	if err := l.backend.SetChannelGain(audio.ChannelOverlay, initial); err != nil {
		return err
	}
	if err := l.backend.ScheduleStart(audio.ChannelOverlay, l.backend.Clock()); err != nil {
		return err
	}

	l.track = &track
	l.gain = initial
	l.target = gain
	l.ramp = nil
	l.gen++
	if fadeIn > 0 {
		l.startRampLocked(gain, fadeIn, false)
	}

	telemetry.OverlayActive.Set(1)
	l.publishLocked("started")
	l.logger.Info().
		Str("track", track.Key()).
		Float64("gain", gain).
		Dur("fade_in", fadeIn).
		Msg("overlay started")
	return nil
}

// SetGain moves the overlay gain to gain over the given duration.
func (l *Layer) SetGain(gain float64, over time.Duration) error {
	if gain < 0 || gain > 1 {
		return fmt.Errorf("%w: %.3f", ErrGainOutOfRange, gain)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.track == nil {
		return ErrNotActive
	}

	l.target = gain
	if over <= 0 {
		l.gen++
		l.ramp = nil
		l.gain = gain
		if err := l.backend.SetChannelGain(audio.ChannelOverlay, gain); err != nil {
			return err
		}
		l.publishLocked("gain")
		return nil
	}
	l.startRampLocked(gain, over, false)
	return nil
}

// Stop fades the overlay out and releases it. Stopping an idle layer is a no-op.
func (l *Layer) Stop(fadeOut time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.track == nil {
		return nil
	}

	l.target = 0
	if fadeOut > 0 {
		l.startRampLocked(0, fadeOut, true)
		return nil
	}
	l.gen++
	return l.unloadLocked()
}

// Status returns the overlay state.
func (l *Layer) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := Status{Active: l.track != nil, Gain: l.gain, Target: l.target}
	if l.track != nil {
		t := *l.track
		st.Track = &t
	}
	return st
}

func (l *Layer) startRampLocked(to float64, d time.Duration, unload bool) {
	l.gen++
	l.ramp = &ramp{
		from:     l.gain,
		to:       to,
		start:    l.clock.Now(),
		duration: d,
		unload:   unload,
	}
	if !l.manualTick {
		go l.loop(l.gen, fade.TickInterval(d))
	}
}

func (l *Layer) loop(gen uint64, interval time.Duration) {
	ticker := l.clock.Ticker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if l.step(gen) {
			return
		}
	}
}

// step advances the ramp of generation gen and reports whether it finished.
func (l *Layer) step(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.gen || l.ramp == nil {
		return true
	}

	r := l.ramp
	f := float64(l.clock.Since(r.start)) / float64(r.duration)
	if f > 1 {
		f = 1
	}
	g := r.from + (r.to-r.from)*f
	if err := l.backend.SetChannelGain(audio.ChannelOverlay, g); err != nil {
		l.logger.Warn().Err(err).Msg("failed to apply overlay gain")
	}
	l.gain = g
	if f < 1 {
		return false
	}

	l.ramp = nil
	if r.unload {
		if err := l.unloadLocked(); err != nil {
			l.logger.Warn().Err(err).Msg("failed to release overlay")
		}
		return true
	}
	l.publishLocked("gain")
	return true
}

func (l *Layer) unloadLocked() error {
	l.ramp = nil
	l.track = nil
	l.gain = 0
	telemetry.OverlayActive.Set(0)
	l.publishLocked("stopped")
	l.logger.Info().Msg("overlay stopped")
	return l.backend.Unload(audio.ChannelOverlay)
}

func (l *Layer) publishLocked(state string) {
	payload := events.Payload{
		"state":  state,
		"gain":   l.gain,
		"target": l.target,
	}
	if l.track != nil {
		payload["track"] = l.track.Key()
	}
	l.bus.Publish(events.EventOverlayState, payload)
}
