/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/nocturne/internal/events"
	"github.com/friendsincode/nocturne/internal/models"
)

// HistoryRecorder writes a PlayHistory row for every track.changed event.
type HistoryRecorder struct {
	db      *gorm.DB
	bus     *events.Bus
	session string
	logger  zerolog.Logger

	sub    events.Subscriber
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHistoryRecorder creates a recorder that tags rows with session.
func NewHistoryRecorder(db *gorm.DB, bus *events.Bus, session string, logger zerolog.Logger) *HistoryRecorder {
	return &HistoryRecorder{
		db:      db,
		bus:     bus,
		session: session,
		logger:  logger.With().Str("component", "play_history").Logger(),
	}
}

// Start begins recording.
func (r *HistoryRecorder) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.sub = r.bus.SubscribeBuffered(events.EventTrackChanged, 64)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case payload, ok := <-r.sub:
				if !ok {
					return
				}
				if err := r.record(ctx, payload); err != nil {
					r.logger.Warn().Err(err).Msg("failed to record play history")
				}
			}
		}
	}()
}

func (r *HistoryRecorder) record(ctx context.Context, payload events.Payload) error {
	row := models.PlayHistory{
		ID:          uuid.NewString(),
		SessionName: r.session,
		StartedAt:   time.Now().UTC(),
	}
	row.TrackID, _ = payload["track"].(string)
	row.Title, _ = payload["title"].(string)
	row.Transition, _ = payload["reason"].(string)
	if idx, ok := payload["index"].(int); ok {
		row.TrackIndex = idx
	}
	if at, ok := payload["at"].(time.Time); ok {
		row.StartedAt = at
	}

	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert play history: %w", err)
	}
	return nil
}

// Close stops recording.
func (r *HistoryRecorder) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	if r.sub != nil {
		r.bus.Unsubscribe(events.EventTrackChanged, r.sub)
		r.sub = nil
	}
}

// RecentHistory returns the latest limit rows for session, newest first.
func RecentHistory(ctx context.Context, db *gorm.DB, session string, limit int) ([]models.PlayHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.PlayHistory
	q := db.WithContext(ctx).Order("started_at DESC").Limit(limit)
	if session != "" {
		q = q.Where("session_name = ?", session)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query play history: %w", err)
	}
	return rows, nil
}
