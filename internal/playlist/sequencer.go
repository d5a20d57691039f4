/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playlist owns track order, the current position and repeat semantics.
package playlist

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

var (
	// ErrIndexOutOfRange indicates an index argument outside the playlist.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrEmptyPlaylist indicates an operation that needs at least one track.
	ErrEmptyPlaylist = errors.New("playlist is empty")
)

// Step records a committed move so it can be rolled back.
type Step struct {
	Direction  Direction
	PriorIndex int
	Index      int
	// Cycles counts repeat cycles the move completed.
	Cycles int
}

// Cycled reports whether the step completed a repeat cycle.
func (st Step) Cycled() bool {
	return st.Cycles > 0
}

// State is a point-in-time copy of the sequencer.
type State struct {
	Tracks          []Track
	CurrentIndex    int
	RepeatMode      RepeatMode
	RepeatCount     int // 0 means unlimited
	CompletedCycles int
}

// Sequencer owns the playlist position. Mutations are expected to be serialized by
// the caller; the lock only makes snapshot reads from observers safe.
type Sequencer struct {
	logger zerolog.Logger

	mu          sync.RWMutex
	tracks      []Track
	current     int
	repeat      RepeatMode
	repeatCount int
	cycles      int
}

// NewSequencer creates an empty sequencer.
func NewSequencer(logger zerolog.Logger) *Sequencer {
	return &Sequencer{
		logger:  logger.With().Str("component", "playlist").Logger(),
		current: -1,
	}
}

// Load replaces the playlist and positions it at start. Cycle count resets.
func (s *Sequencer) Load(tracks []Track, start int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(tracks) > 0 && (start < 0 || start >= len(tracks)) {
		return fmt.Errorf("%w: start %d (len %d)", ErrIndexOutOfRange, start, len(tracks))
	}

	s.tracks = append([]Track(nil), tracks...)
	s.cycles = 0
	s.current = -1
	if len(s.tracks) > 0 {
		s.current = start
	}

	s.logger.Debug().Int("tracks", len(s.tracks)).Int("start", start).Msg("playlist loaded")
	return nil
}

// Clear removes all tracks.
func (s *Sequencer) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = nil
	s.current = -1
	s.cycles = 0
}

// Replace swaps in a new track list while keeping the current position on the
// same logical track when it survives the edit.
func (s *Sequencer) Replace(tracks []Track) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var currentKey string
	if s.current >= 0 && s.current < len(s.tracks) {
		currentKey = s.tracks[s.current].Key()
	}

	s.tracks = append([]Track(nil), tracks...)

	switch {
	case len(s.tracks) == 0:
		s.current = -1
		return
	case currentKey != "":
		for i, t := range s.tracks {
			if t.Key() == currentKey {
				s.current = i
				return
			}
		}
	}

	if s.current < 0 {
		s.current = 0
	}
	if s.current >= len(s.tracks) {
		s.current = len(s.tracks) - 1
	}
}

// Add appends tracks. An empty playlist becomes positioned at the first new track.
func (s *Sequencer) Add(tracks ...Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, tracks...)
	if s.current < 0 && len(s.tracks) > 0 {
		s.current = 0
	}
}

// Insert places tracks before index at; at == Len() appends.
func (s *Sequencer) Insert(at int, tracks ...Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if at < 0 || at > len(s.tracks) {
		return fmt.Errorf("%w: insert at %d (len %d)", ErrIndexOutOfRange, at, len(s.tracks))
	}

	merged := make([]Track, 0, len(s.tracks)+len(tracks))
	merged = append(merged, s.tracks[:at]...)
	merged = append(merged, tracks...)
	merged = append(merged, s.tracks[at:]...)
	s.tracks = merged

	switch {
	case s.current < 0 && len(s.tracks) > 0:
		s.current = 0
	case at <= s.current:
		s.current += len(tracks)
	}
	return nil
}

// Remove deletes the track at index. Removing the current track leaves the
// position on the track that followed it.
func (s *Sequencer) Remove(index int) (Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.tracks) {
		return Track{}, fmt.Errorf("%w: remove %d (len %d)", ErrIndexOutOfRange, index, len(s.tracks))
	}

	removed := s.tracks[index]
	s.tracks = append(s.tracks[:index:index], s.tracks[index+1:]...)

	switch {
	case len(s.tracks) == 0:
		s.current = -1
	case index < s.current:
		s.current--
	case s.current >= len(s.tracks):
		s.current = len(s.tracks) - 1
	}
	return removed, nil
}

// Move relocates the track at from to position to; the current position follows its track.
func (s *Sequencer) Move(from, to int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.tracks)
	if from < 0 || from >= n || to < 0 || to >= n {
		return fmt.Errorf("%w: move %d -> %d (len %d)", ErrIndexOutOfRange, from, to, n)
	}
	if from == to {
		return nil
	}

	t := s.tracks[from]
	if from < to {
		copy(s.tracks[from:to], s.tracks[from+1:to+1])
	} else {
		copy(s.tracks[to+1:from+1], s.tracks[to:from])
	}
	s.tracks[to] = t

	switch {
	case s.current == from:
		s.current = to
	case from < s.current && to >= s.current:
		s.current--
	case from > s.current && to <= s.current:
		s.current++
	}
	return nil
}

// Jump commits a move to index and returns the step for rollback.
func (s *Sequencer) Jump(index int) (Track, Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.tracks) {
		return Track{}, Step{}, fmt.Errorf("%w: jump %d (len %d)", ErrIndexOutOfRange, index, len(s.tracks))
	}

	step := Step{Direction: Forward, PriorIndex: s.current, Index: index}
	s.current = index
	return s.tracks[index], step, nil
}

// SetRepeat changes the repeat mode. count <= 0 means unlimited.
// Completed cycles reset when the mode changes.
func (s *Sequencer) SetRepeat(mode RepeatMode, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if count < 0 {
		count = 0
	}
	if mode != s.repeat {
		s.cycles = 0
	}
	s.repeat = mode
	s.repeatCount = count
}

// RepeatMode returns the current repeat mode.
func (s *Sequencer) RepeatMode() RepeatMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repeat
}

// Current returns the track at the current position.
func (s *Sequencer) Current() (Track, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current < 0 || s.current >= len(s.tracks) {
		return Track{}, false
	}
	return s.tracks[s.current], true
}

// CurrentIndex returns the current position, -1 when empty.
func (s *Sequencer) CurrentIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// CompletedCycles returns how many repeat cycles have completed.
func (s *Sequencer) CompletedCycles() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cycles
}

// Len returns the number of tracks.
func (s *Sequencer) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tracks)
}

// Tracks returns a copy of the track list.
func (s *Sequencer) Tracks() []Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Track(nil), s.tracks...)
}

// Snapshot returns a copy of the whole playlist state.
func (s *Sequencer) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State{
		Tracks:          append([]Track(nil), s.tracks...),
		CurrentIndex:    s.current,
		RepeatMode:      s.repeat,
		RepeatCount:     s.repeatCount,
		CompletedCycles: s.cycles,
	}
}

// Restore positions the playlist from a persisted snapshot without touching tracks.
func (s *Sequencer) Restore(index, completedCycles int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.tracks) {
		return fmt.Errorf("%w: restore %d (len %d)", ErrIndexOutOfRange, index, len(s.tracks))
	}
	s.current = index
	s.cycles = completedCycles
	return nil
}

// PeekNext returns the track a CommitNext would land on without moving.
func (s *Sequencer) PeekNext() (Track, bool) {
	return s.peek(Forward)
}

// PeekPrevious returns the track a CommitPrevious would land on without moving.
func (s *Sequencer) PeekPrevious() (Track, bool) {
	return s.peek(Backward)
}

func (s *Sequencer) peek(dir Direction) (Track, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, cycled, ok := s.neighbour(dir)
	if !ok || (cycled && s.limitReached(s.cycles+1)) {
		return Track{}, false
	}
	return s.tracks[idx], true
}

// CommitNext moves forward. ok is false at the end of a non-repeating playlist or
// once the repeat limit is reached; the step is still returned so the cycle
// increment can be rolled back.
func (s *Sequencer) CommitNext() (Track, Step, bool) {
	return s.Commit(Forward)
}

// CommitPrevious moves backward.
func (s *Sequencer) CommitPrevious() (Track, Step, bool) {
	return s.Commit(Backward)
}

// Commit moves one position in dir.
func (s *Sequencer) Commit(dir Direction) (Track, Step, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, cycled, ok := s.neighbour(dir)
	if !ok {
		return Track{}, Step{Direction: dir, PriorIndex: s.current, Index: s.current}, false
	}

	step := Step{Direction: dir, PriorIndex: s.current, Index: idx}
	if cycled && s.limitReached(s.cycles) {
		// Already exhausted: further commits at the end count nothing.
		step.Index = s.current
		return Track{}, step, false
	}
	if cycled {
		step.Cycles = 1
		s.cycles++
		if s.limitReached(s.cycles) {
			step.Index = s.current
			s.logger.Info().Int("completed_cycles", s.cycles).Int("repeat_count", s.repeatCount).Msg("repeat limit reached")
			return Track{}, step, false
		}
	}

	s.current = idx
	return s.tracks[idx], step, true
}

// Rollback undoes a committed step. Steps must be rolled back newest first.
func (s *Sequencer) Rollback(step Step) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cycles -= step.Cycles
	if s.cycles < 0 {
		s.cycles = 0
	}

	switch {
	case len(s.tracks) == 0:
		s.current = -1
	case step.PriorIndex >= len(s.tracks):
		s.current = len(s.tracks) - 1
	default:
		s.current = step.PriorIndex
	}
}

// neighbour computes the index dir would move to. Must be called with the lock held.
func (s *Sequencer) neighbour(dir Direction) (idx int, cycled bool, ok bool) {
	n := len(s.tracks)
	if n == 0 || s.current < 0 {
		return 0, false, false
	}

	switch s.repeat {
	case RepeatSingleTrack:
		return s.current, dir == Forward, true

	case RepeatPlaylist:
		if dir == Forward {
			idx = (s.current + 1) % n
			return idx, idx == 0, true
		}
		return (s.current - 1 + n) % n, false, true

	default:
		if dir == Forward {
			if s.current+1 >= n {
				return 0, false, false
			}
			return s.current + 1, false, true
		}
		if s.current-1 < 0 {
			return 0, false, false
		}
		return s.current - 1, false, true
	}
}

func (s *Sequencer) limitReached(cycles int) bool {
	return s.repeatCount > 0 && cycles >= s.repeatCount
}
