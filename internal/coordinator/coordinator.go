/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/nocturne/internal/audio"
	"github.com/friendsincode/nocturne/internal/playlist"
	"github.com/friendsincode/nocturne/internal/telemetry"
)

var (
	// ErrInconsistentState reports a broken dual-channel invariant.
	ErrInconsistentState = errors.New("inconsistent channel state")
	ErrGainOutOfRange    = errors.New("gain out of range")
	ErrInactiveEmpty     = errors.New("inactive channel has no track")
	ErrActiveEmpty       = errors.New("active channel has no track")
	ErrCrossfading       = errors.New("crossfade in progress")
	ErrNotCrossfading    = errors.New("no crossfade in progress")
)

// Mode is the host-visible playback mode.
type Mode int

const (
	ModeStopped Mode = iota
	ModePlaying
	ModePaused
)

func (m Mode) String() string {
	switch m {
	case ModePlaying:
		return "playing"
	case ModePaused:
		return "paused"
	default:
		return "stopped"
	}
}

// ChannelState is what one output channel holds.
type ChannelState struct {
	Track    *playlist.Track
	Gain     float64
	Position time.Duration
}

// Loaded reports whether the channel holds a track.
func (c ChannelState) Loaded() bool {
	return c.Track != nil
}

// Snapshot is a value copy of the coordinator state.
type Snapshot struct {
	Channels    [2]ChannelState
	Active      audio.Channel
	Crossfading bool
	Mode        Mode
}

// ActiveState returns the state of the active channel.
func (s Snapshot) ActiveState() ChannelState {
	return s.Channels[s.Active]
}

// InactiveState returns the state of the inactive channel.
func (s Snapshot) InactiveState() ChannelState {
	return s.Channels[s.Active.Other()]
}

// Inactive returns the inactive channel label.
func (s Snapshot) Inactive() audio.Channel {
	return s.Active.Other()
}

// Consistent checks the dual-channel invariants.
func (s Snapshot) Consistent() error {
	if s.Active != audio.ChannelA && s.Active != audio.ChannelB {
		return fmt.Errorf("%w: active channel %s", ErrInconsistentState, s.Active)
	}
	if s.Mode == ModePlaying && !s.ActiveState().Loaded() {
		return fmt.Errorf("%w: playing with empty active channel", ErrInconsistentState)
	}
	if s.Crossfading && !s.InactiveState().Loaded() {
		return fmt.Errorf("%w: crossfading with empty inactive channel", ErrInconsistentState)
	}
	for i, c := range s.Channels {
		if c.Gain < 0 || c.Gain > 1 {
			return fmt.Errorf("%w: channel %s gain %.3f", ErrInconsistentState, audio.Channel(i), c.Gain)
		}
	}
	return nil
}

// Coordinator owns which channel is active, what each channel holds, and the
// gains applied to them. Every mutation is checked against the invariants.
type Coordinator struct {
	backend audio.Backend
	logger  zerolog.Logger
	strict  bool

	mu       sync.Mutex
	state    Snapshot
	lastGood Snapshot
}

// New creates a coordinator with channel A active and both channels empty.
// In strict mode an invariant violation panics; otherwise the coordinator
// logs it and restores the last consistent snapshot.
func New(backend audio.Backend, strict bool, logger zerolog.Logger) *Coordinator {
	c := &Coordinator{
		backend: backend,
		logger:  logger.With().Str("component", "coordinator").Logger(),
		strict:  strict,
	}
	c.state.Active = audio.ChannelA
	c.state.Channels[audio.ChannelA].Gain = 1
	c.lastGood = c.state
	return c
}

// Snapshot returns the current state with positions read from the backend.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.state.Channels {
		ch := &c.state.Channels[i]
		if !ch.Loaded() {
			continue
		}
		if pos, err := c.backend.Position(audio.Channel(i)); err == nil {
			ch.Position = pos
		}
	}
	return c.state
}

// ActivePosition reads the backend position of the active channel.
func (c *Coordinator) ActivePosition() time.Duration {
	c.mu.Lock()
	active := c.state.Active
	c.mu.Unlock()

	pos, _ := c.backend.Position(active)
	return pos
}

// InactiveHolds reports whether the inactive channel already holds track.
func (c *Coordinator) InactiveHolds(track playlist.Track) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	in := c.state.InactiveState()
	return in.Loaded() && in.Track.Key() == track.Key()
}

// LoadOnInactive decodes track onto the inactive channel. A failure leaves
// every piece of state untouched.
func (c *Coordinator) LoadOnInactive(ctx context.Context, track playlist.Track) (audio.DecodedHandle, error) {
	c.mu.Lock()
	if c.state.Crossfading {
		c.mu.Unlock()
		return audio.DecodedHandle{}, ErrCrossfading
	}
	inactive := c.state.Inactive()
	c.mu.Unlock()

	handle, err := c.backend.LoadFile(ctx, inactive, track.Path)
	if err != nil {
		return audio.DecodedHandle{}, err
	}

	err = c.mutate("load_on_inactive", func(s *Snapshot) error {
		if s.Inactive() != inactive {
			return fmt.Errorf("%w: active channel changed during load", ErrInconsistentState)
		}
		if track.Duration == 0 {
			track.Duration = handle.Duration
		}
		if track.Format == (audio.Format{}) {
			track.Format = handle.Format
		}
		s.Channels[inactive] = ChannelState{Track: &track}
		return c.backend.SetChannelGain(inactive, 0)
	})
	if err != nil {
		return audio.DecodedHandle{}, err
	}

	c.logger.Debug().
		Str("channel", inactive.String()).
		Str("track", track.Key()).
		Dur("duration", handle.Duration).
		Msg("track loaded on inactive channel")
	return handle, nil
}

// BeginCrossfade starts the inactive channel silently and marks the pair as
// crossfading. It returns the render clock reference the channel starts at.
func (c *Coordinator) BeginCrossfade() (audio.ClockReference, error) {
	var ref audio.ClockReference
	err := c.mutate("begin_crossfade", func(s *Snapshot) error {
		if s.Crossfading {
			return ErrCrossfading
		}
		if !s.InactiveState().Loaded() {
			return ErrInactiveEmpty
		}
		if !s.ActiveState().Loaded() {
			return ErrActiveEmpty
		}

		inactive := s.Inactive()
		if err := c.backend.SetChannelGain(s.Active, 1); err != nil {
			return err
		}
		if err := c.backend.SetChannelGain(inactive, 0); err != nil {
			return err
		}
		ref = c.backend.Clock()
		if err := c.backend.ScheduleStart(inactive, ref); err != nil {
			return err
		}

		s.Channels[s.Active].Gain = 1
		s.Channels[inactive].Gain = 0
		s.Crossfading = true
		return nil
	})
	return ref, err
}

// ApplyGains writes the active and inactive channel gains.
func (c *Coordinator) ApplyGains(active, inactive float64) error {
	if active < 0 || active > 1 || inactive < 0 || inactive > 1 {
		return fmt.Errorf("%w: %.4f/%.4f", ErrGainOutOfRange, active, inactive)
	}
	return c.mutate("apply_gains", func(s *Snapshot) error {
		if err := c.backend.SetChannelGain(s.Active, active); err != nil {
			return err
		}
		if err := c.backend.SetChannelGain(s.Inactive(), inactive); err != nil {
			return err
		}
		s.Channels[s.Active].Gain = active
		s.Channels[s.Inactive()].Gain = inactive
		return nil
	})
}

// Gains returns the active and inactive channel gains.
func (c *Coordinator) Gains() (active, inactive float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.ActiveState().Gain, c.state.InactiveState().Gain
}

// CommitSwap exchanges the active and inactive labels once a crossfade has
// completed and releases the outgoing channel.
func (c *Coordinator) CommitSwap() error {
	return c.mutate("commit_swap", func(s *Snapshot) error {
		if !s.Crossfading {
			return ErrNotCrossfading
		}
		outgoing := s.Active
		s.Active = outgoing.Other()
		s.Crossfading = false

		s.Channels[outgoing] = ChannelState{}
		s.Channels[s.Active].Gain = 1
		if err := c.backend.SetChannelGain(s.Active, 1); err != nil {
			return err
		}
		return c.backend.Unload(outgoing)
	})
}

// RevertSwap abandons a crossfade: the inactive channel is cleared and the
// active channel returns to full gain at position.
func (c *Coordinator) RevertSwap(position time.Duration) error {
	return c.mutate("revert_swap", func(s *Snapshot) error {
		if !s.Crossfading {
			return ErrNotCrossfading
		}
		inactive := s.Inactive()
		if err := c.backend.Unload(inactive); err != nil {
			return err
		}
		if err := c.backend.SetChannelGain(s.Active, 1); err != nil {
			return err
		}
		if err := c.backend.Seek(s.Active, position); err != nil {
			return err
		}
		s.Channels[inactive] = ChannelState{}
		s.Channels[s.Active].Gain = 1
		s.Channels[s.Active].Position = position
		s.Crossfading = false
		return nil
	})
}

// SwitchNow makes the loaded inactive channel active without a fade. It
// serves the first track of a session and zero-length crossfades.
func (c *Coordinator) SwitchNow() error {
	return c.mutate("switch_now", func(s *Snapshot) error {
		if s.Crossfading {
			return ErrCrossfading
		}
		if !s.InactiveState().Loaded() {
			return ErrInactiveEmpty
		}
		outgoing := s.Active
		incoming := outgoing.Other()

		if err := c.backend.SetChannelGain(incoming, 1); err != nil {
			return err
		}
		if err := c.backend.ScheduleStart(incoming, c.backend.Clock()); err != nil {
			return err
		}
		if s.Channels[outgoing].Loaded() {
			if err := c.backend.Unload(outgoing); err != nil {
				return err
			}
		}

		s.Channels[outgoing] = ChannelState{}
		s.Channels[incoming].Gain = 1
		s.Active = incoming
		s.Mode = ModePlaying
		return nil
	})
}

// SeekActive moves the active channel to position outside a crossfade.
func (c *Coordinator) SeekActive(position time.Duration) error {
	return c.mutate("seek_active", func(s *Snapshot) error {
		if s.Crossfading {
			return ErrCrossfading
		}
		if !s.ActiveState().Loaded() {
			return ErrActiveEmpty
		}
		if err := c.backend.Seek(s.Active, position); err != nil {
			return err
		}
		s.Channels[s.Active].Position = position
		return nil
	})
}

// Activate loads track and switches to it immediately.
func (c *Coordinator) Activate(ctx context.Context, track playlist.Track) error {
	if _, err := c.LoadOnInactive(ctx, track); err != nil {
		return err
	}
	return c.SwitchNow()
}

// ForceIdle drops any crossfade and leaves the active channel at full gain
// with the inactive channel cleared.
func (c *Coordinator) ForceIdle() error {
	return c.mutate("force_idle", func(s *Snapshot) error {
		inactive := s.Inactive()
		if s.Channels[inactive].Loaded() {
			if err := c.backend.Unload(inactive); err != nil {
				return err
			}
		}
		s.Channels[inactive] = ChannelState{}
		s.Crossfading = false
		if s.Channels[s.Active].Loaded() {
			s.Channels[s.Active].Gain = 1
			return c.backend.SetChannelGain(s.Active, 1)
		}
		return nil
	})
}

// Stop clears both channels.
func (c *Coordinator) Stop() error {
	return c.mutate("stop", func(s *Snapshot) error {
		for i := range s.Channels {
			if s.Channels[i].Loaded() {
				if err := c.backend.Unload(audio.Channel(i)); err != nil {
					return err
				}
			}
			s.Channels[i] = ChannelState{}
		}
		s.Channels[s.Active].Gain = 1
		s.Crossfading = false
		s.Mode = ModeStopped
		return c.backend.SetChannelGain(s.Active, 1)
	})
}

// SetMode records the playback mode.
func (c *Coordinator) SetMode(mode Mode) error {
	return c.mutate("set_mode", func(s *Snapshot) error {
		s.Mode = mode
		return nil
	})
}

// mutate applies fn to a working copy and installs it only when fn succeeds.
// The result is then checked against the invariants.
func (c *Coordinator) mutate(op string, fn func(*Snapshot) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.state
	if err := fn(&next); err != nil {
		return err
	}
	c.state = next
	return c.checkLocked(op)
}

func (c *Coordinator) checkLocked(op string) error {
	err := c.state.Consistent()
	if err == nil {
		c.lastGood = c.state
		return nil
	}

	telemetry.InvariantViolations.Inc()
	if c.strict {
		panic(fmt.Sprintf("coordinator %s: %v", op, err))
	}

	c.logger.Error().
		Err(err).
		Str("operation", op).
		Msg("invariant violated, restoring last consistent state")
	c.state = c.lastGood
	c.reapplyLocked()
	return err
}

// reapplyLocked pushes the restored gains back to the backend.
func (c *Coordinator) reapplyLocked() {
	for i, ch := range c.state.Channels {
		if err := c.backend.SetChannelGain(audio.Channel(i), ch.Gain); err != nil {
			c.logger.Warn().Err(err).Str("channel", audio.Channel(i).String()).Msg("failed to restore gain")
		}
	}
}
