/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playlist

import (
	"fmt"
	"strings"
	"time"

	"github.com/friendsincode/nocturne/internal/audio"
)

// Track is an immutable reference to a playable file.
type Track struct {
	ID       string
	Path     string
	Title    string
	Duration time.Duration
	Format   audio.Format
}

// Key identifies the track for "same logical track" comparisons.
func (t Track) Key() string {
	if t.ID != "" {
		return t.ID
	}
	return t.Path
}

// String returns a short human-readable label.
func (t Track) String() string {
	if t.Title != "" {
		return t.Title
	}
	return t.Key()
}

// RepeatMode defines the repeat behavior.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatSingleTrack
	RepeatPlaylist
)

// String returns the repeat mode name.
func (m RepeatMode) String() string {
	switch m {
	case RepeatOff:
		return "off"
	case RepeatSingleTrack:
		return "single_track"
	case RepeatPlaylist:
		return "playlist"
	default:
		return "unknown"
	}
}

// ParseRepeatMode parses the names produced by String.
func ParseRepeatMode(s string) (RepeatMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off", "none":
		return RepeatOff, nil
	case "single_track", "single", "one", "track":
		return RepeatSingleTrack, nil
	case "playlist", "all":
		return RepeatPlaylist, nil
	default:
		return RepeatOff, fmt.Errorf("unknown repeat mode %q", s)
	}
}

// Direction selects which neighbour a skip moves to.
type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "previous"
	}
	return "next"
}
