/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"
)

// PlaybackSession stores where a named playlist session left off so a later
// run can resume it.
type PlaybackSession struct {
	ID              string `gorm:"type:varchar(36);primaryKey"`
	Name            string `gorm:"type:varchar(255);uniqueIndex"`
	TrackIndex      int
	TrackID         string `gorm:"type:varchar(512)"`
	PositionMS      int64
	CompletedCycles int
	RepeatMode      string `gorm:"type:varchar(16)"`
	RepeatCount     int
	Finished        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Position returns the saved playback position.
func (s PlaybackSession) Position() time.Duration {
	return time.Duration(s.PositionMS) * time.Millisecond
}

// PlayHistory records a track becoming the active track.
type PlayHistory struct {
	ID          string `gorm:"type:varchar(36);primaryKey"`
	SessionName string `gorm:"type:varchar(255);index"`
	TrackID     string `gorm:"type:varchar(512);index"`
	Title       string
	TrackIndex  int
	// Transition is how the track became active: play, switch, crossfade or auto_advance.
	Transition string    `gorm:"type:varchar(32)"`
	StartedAt  time.Time `gorm:"index"`
}
