/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/nocturne/internal/controller"
	"github.com/friendsincode/nocturne/internal/coordinator"
	"github.com/friendsincode/nocturne/internal/crossfade"
	"github.com/friendsincode/nocturne/internal/db"
	"github.com/friendsincode/nocturne/internal/logbuffer"
	"github.com/friendsincode/nocturne/internal/overlay"
	"github.com/friendsincode/nocturne/internal/playlist"
)

type trackResponse struct {
	ID         string `json:"id,omitempty"`
	Path       string `json:"path"`
	Title      string `json:"title,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

type crossfadeResponse struct {
	State      string         `json:"state"`
	ID         string         `json:"id,omitempty"`
	From       *trackResponse `json:"from,omitempty"`
	To         *trackResponse `json:"to,omitempty"`
	Progress   float64        `json:"progress"`
	DurationMS int64          `json:"duration_ms,omitempty"`
	Curve      string         `json:"curve,omitempty"`
	Paused     bool           `json:"paused"`
}

type overlayResponse struct {
	Active bool           `json:"active"`
	Track  *trackResponse `json:"track,omitempty"`
	Gain   float64        `json:"gain"`
	Target float64        `json:"target"`
}

type repeatResponse struct {
	Mode            string `json:"mode"`
	Count           int    `json:"count"`
	CompletedCycles int    `json:"completed_cycles"`
}

type statusResponse struct {
	State      string            `json:"state"`
	Track      *trackResponse    `json:"track,omitempty"`
	Index      int               `json:"index"`
	PositionMS int64             `json:"position_ms"`
	Tracks     int               `json:"tracks"`
	Crossfade  crossfadeResponse `json:"crossfade"`
	Overlay    overlayResponse   `json:"overlay"`
	Repeat     repeatResponse    `json:"repeat"`
	QueueDepth int               `json:"queue_depth"`
	Finished   bool              `json:"finished"`
}

func newTrackResponse(t *playlist.Track) *trackResponse {
	if t == nil {
		return nil
	}
	return &trackResponse{ID: t.ID, Path: t.Path, Title: t.Title, DurationMS: t.Duration.Milliseconds()}
}

func newStatusResponse(st controller.Status) statusResponse {
	return statusResponse{
		State:      st.Mode.String(),
		Track:      newTrackResponse(st.Track),
		Index:      st.Index,
		PositionMS: st.Position.Milliseconds(),
		Tracks:     st.Tracks,
		Crossfade:  newCrossfadeResponse(st.Crossfade),
		Overlay:    newOverlayResponse(st.Overlay),
		Repeat: repeatResponse{
			Mode:            st.RepeatMode.String(),
			Count:           st.RepeatCount,
			CompletedCycles: st.CompletedCycles,
		},
		QueueDepth: st.QueueDepth,
		Finished:   st.Finished,
	}
}

func newCrossfadeResponse(st crossfade.Status) crossfadeResponse {
	resp := crossfadeResponse{State: string(st.State)}
	sess := st.Session
	if st.Paused != nil {
		resp.Paused = true
		sess = &st.Paused.Session
	}
	if sess != nil {
		resp.ID = sess.ID
		resp.From = newTrackResponse(&sess.From)
		resp.To = newTrackResponse(&sess.To)
		resp.Progress = sess.Progress
		resp.DurationMS = sess.TotalDuration.Milliseconds()
		resp.Curve = string(sess.Curve)
	}
	return resp
}

func newOverlayResponse(st overlay.Status) overlayResponse {
	return overlayResponse{
		Active: st.Active,
		Track:  newTrackResponse(st.Track),
		Gain:   st.Gain,
		Target: st.Target,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.opts.Player.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"state":  st.Mode.String(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newStatusResponse(s.opts.Player.Status()))
}

// control adapts a no-argument player operation into a handler that answers
// with the resulting status.
func (s *Server) control(name string, fn func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r.Context()); err != nil {
			s.writeControlError(w, name, err)
			return
		}
		writeJSON(w, http.StatusOK, newStatusResponse(s.opts.Player.Status()))
	}
}

func (s *Server) handleJump(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_index")
		return
	}
	s.control("jump", func(ctx context.Context) error {
		return s.opts.Player.Jump(ctx, index)
	})(w, r)
}

type repeatRequest struct {
	Mode  string `json:"mode"`
	Count int    `json:"count"`
}

func (s *Server) handleRepeat(w http.ResponseWriter, r *http.Request) {
	var req repeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	mode, err := playlist.ParseRepeatMode(req.Mode)
	if err != nil || req.Count < 0 {
		writeError(w, http.StatusBadRequest, "invalid_repeat")
		return
	}
	s.control("repeat", func(ctx context.Context) error {
		return s.opts.Player.SetRepeat(ctx, mode, req.Count)
	})(w, r)
}

type gainRequest struct {
	Gain float64 `json:"gain"`
}

func (s *Server) handleOverlayGain(w http.ResponseWriter, r *http.Request) {
	var req gainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	s.control("overlay_gain", func(ctx context.Context) error {
		return s.opts.Player.SetOverlayGain(ctx, req.Gain)
	})(w, r)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := logbuffer.QueryParams{
		Level:     q.Get("level"),
		Component: q.Get("component"),
		SessionID: q.Get("session_id"),
		Search:    q.Get("search"),
		Newest:    q.Get("order") != "asc",
		Limit:     100,
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		params.Limit = v
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since")
			return
		}
		params.Since = since
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": s.opts.LogBuffer.Query(params),
		"stats":   s.opts.LogBuffer.Stats(),
	})
}

type historyResponse struct {
	TrackID    string    `json:"track_id"`
	Title      string    `json:"title,omitempty"`
	Index      int       `json:"index"`
	Transition string    `json:"transition"`
	StartedAt  time.Time `json:"started_at"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := db.RecentHistory(r.Context(), s.opts.DB, s.opts.Session, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("history query failed")
		writeError(w, http.StatusInternalServerError, "history_unavailable")
		return
	}

	out := make([]historyResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, historyResponse{
			TrackID:    row.TrackID,
			Title:      row.Title,
			Index:      row.TrackIndex,
			Transition: row.Transition,
			StartedAt:  row.StartedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// writeControlError maps playback errors onto HTTP status codes.
func (s *Server) writeControlError(w http.ResponseWriter, op string, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, controller.ErrQueueFull):
		status, code = http.StatusTooManyRequests, "queue_full"
	case errors.Is(err, controller.ErrStopped):
		status, code = http.StatusServiceUnavailable, "controller_stopped"
	case errors.Is(err, playlist.ErrIndexOutOfRange):
		status, code = http.StatusBadRequest, "index_out_of_range"
	case errors.Is(err, playlist.ErrEmptyPlaylist):
		status, code = http.StatusConflict, "empty_playlist"
	case errors.Is(err, controller.ErrEndOfPlaylist):
		status, code = http.StatusConflict, "end_of_playlist"
	case errors.Is(err, controller.ErrNoValidTracksInPlaylist):
		status, code = http.StatusConflict, "no_valid_tracks"
	case errors.Is(err, controller.ErrNotPlaying):
		status, code = http.StatusConflict, "not_playing"
	case errors.Is(err, crossfade.ErrFileLoadFailed):
		status, code = http.StatusUnprocessableEntity, "file_load_failed"
	case errors.Is(err, crossfade.ErrInvalidStateTransition), errors.Is(err, coordinator.ErrCrossfading):
		status, code = http.StatusConflict, "invalid_state"
	case errors.Is(err, overlay.ErrNotActive):
		status, code = http.StatusConflict, "overlay_not_active"
	case errors.Is(err, overlay.ErrGainOutOfRange):
		status, code = http.StatusBadRequest, "gain_out_of_range"
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "timeout"
	}

	event := s.logger.Warn()
	if status >= http.StatusInternalServerError {
		event = s.logger.Error()
	}
	event.Err(err).Str("op", op).Int("status", status).Msg("control request failed")
	writeJSON(w, status, map[string]string{"error": code, "detail": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
