/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package crossfade

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/friendsincode/nocturne/internal/audio"
	"github.com/friendsincode/nocturne/internal/fade"
	"github.com/friendsincode/nocturne/internal/playlist"
)

var (
	// ErrInvalidStateTransition indicates a request the current state cannot serve.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrFileLoadFailed wraps a load failure while preparing a crossfade.
	ErrFileLoadFailed = errors.New("file load failed")
	// ErrCrossfadeTimeout marks a preparation load that ran out of time.
	ErrCrossfadeTimeout = errors.New("crossfade timeout")
)

// State is the orchestrator state.
type State string

const (
	StateIdle      State = "idle"
	StatePreparing State = "preparing"
	StateFading    State = "fading"
	StatePaused    State = "paused"
	StateSwitching State = "switching"
	StateCleanup   State = "cleanup"
)

var validTransitions = map[State][]State{
	StateIdle:      {StatePreparing},
	StatePreparing: {StateFading, StateIdle},
	StateFading:    {StatePaused, StateSwitching, StateIdle},
	StatePaused:    {StateFading, StateIdle},
	StateSwitching: {StateCleanup, StateIdle},
	StateCleanup:   {StateIdle},
}

func isValidTransition(from, to State) bool {
	if to == StateIdle {
		return true
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func transitionError(from, to State) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, from, to)
}

// ResumePolicy selects how a paused crossfade finishes after resume.
type ResumePolicy string

const (
	// ResumeContinue finishes the remaining fade at the original pace.
	ResumeContinue ResumePolicy = "continue"
	// ResumeQuickFinish compresses the remainder when the fade was far along.
	ResumeQuickFinish ResumePolicy = "quick_finish"
)

// ParseResumePolicy parses a policy name. Empty selects ResumeContinue.
func ParseResumePolicy(s string) (ResumePolicy, error) {
	switch ResumePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", ResumeContinue:
		return ResumeContinue, nil
	case ResumeQuickFinish, "quick":
		return ResumeQuickFinish, nil
	default:
		return "", fmt.Errorf("unknown resume policy %q", s)
	}
}

// Session describes a crossfade in flight. It is handed out by value.
type Session struct {
	ID                       string
	From                     playlist.Track
	To                       playlist.Track
	TotalDuration            time.Duration
	Curve                    fade.Curve
	Progress                 float64
	SnapshotActivePosition   time.Duration
	SnapshotInactivePosition time.Duration
	StartClockReference      audio.ClockReference
	StartedAt                time.Time
}

// Remaining is the fade time left at the original pace.
func (s Session) Remaining() time.Duration {
	return time.Duration(float64(s.TotalDuration) * (1 - s.Progress))
}

// PausedSession is a crossfade frozen by Pause.
type PausedSession struct {
	Session
	ActiveGain       float64
	InactiveGain     float64
	ActivePosition   time.Duration
	InactivePosition time.Duration
	PausedAt         time.Time
}

// Outcome is how a crossfade ended.
type Outcome string

const (
	OutcomeCompleted  Outcome = "completed"
	OutcomeRolledBack Outcome = "rolled_back"
	OutcomeCancelled  Outcome = "cancelled"
	OutcomeFailed     Outcome = "failed"
)

// Status is a point-in-time view of the orchestrator.
type Status struct {
	State   State
	Session *Session
	Paused  *PausedSession
}
