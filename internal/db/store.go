/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/nocturne/internal/controller"
	"github.com/friendsincode/nocturne/internal/models"
	"github.com/friendsincode/nocturne/internal/playlist"
)

// SessionStore persists controller session snapshots, one row per playlist name.
type SessionStore struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewSessionStore creates a store on an already migrated database.
func NewSessionStore(db *gorm.DB, logger zerolog.Logger) *SessionStore {
	return &SessionStore{
		db:     db,
		logger: logger.With().Str("component", "session_store").Logger(),
	}
}

// Save upserts snap by name.
func (s *SessionStore) Save(ctx context.Context, snap controller.SessionSnapshot) error {
	if snap.Name == "" {
		return fmt.Errorf("save session: empty name")
	}

	row := models.PlaybackSession{
		ID:              uuid.NewString(),
		Name:            snap.Name,
		TrackIndex:      snap.TrackIndex,
		TrackID:         snap.TrackID,
		PositionMS:      snap.Position.Milliseconds(),
		CompletedCycles: snap.CompletedCycles,
		RepeatMode:      snap.RepeatMode.String(),
		RepeatCount:     snap.RepeatCount,
		Finished:        snap.Finished,
	}
	if !snap.UpdatedAt.IsZero() {
		row.UpdatedAt = snap.UpdatedAt.UTC()
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"track_index", "track_id", "position_ms", "completed_cycles",
			"repeat_mode", "repeat_count", "finished", "updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save session %s: %w", snap.Name, err)
	}

	UpdateConnectionMetrics(s.db)
	return nil
}

// Load returns the saved session for name, or controller.ErrNoSession.
func (s *SessionStore) Load(ctx context.Context, name string) (controller.SessionSnapshot, error) {
	var row models.PlaybackSession
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return controller.SessionSnapshot{}, fmt.Errorf("%w: %s", controller.ErrNoSession, name)
	}
	if err != nil {
		return controller.SessionSnapshot{}, fmt.Errorf("load session %s: %w", name, err)
	}

	mode, err := playlist.ParseRepeatMode(row.RepeatMode)
	if err != nil {
		s.logger.Warn().Err(err).Str("session", name).Msg("stored repeat mode invalid, using off")
		mode = playlist.RepeatOff
	}

	return controller.SessionSnapshot{
		Name:            row.Name,
		TrackIndex:      row.TrackIndex,
		TrackID:         row.TrackID,
		Position:        row.Position(),
		CompletedCycles: row.CompletedCycles,
		RepeatMode:      mode,
		RepeatCount:     row.RepeatCount,
		Finished:        row.Finished,
		UpdatedAt:       row.UpdatedAt,
	}, nil
}

// Delete forgets the session for name.
func (s *SessionStore) Delete(ctx context.Context, name string) error {
	return s.db.WithContext(ctx).Where("name = ?", name).Delete(&models.PlaybackSession{}).Error
}
