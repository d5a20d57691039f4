/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server exposes the playback controller over HTTP: status, control
// requests, metrics and a websocket event stream.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/nocturne/internal/controller"
	"github.com/friendsincode/nocturne/internal/events"
	"github.com/friendsincode/nocturne/internal/logbuffer"
	"github.com/friendsincode/nocturne/internal/playlist"
	"github.com/friendsincode/nocturne/internal/telemetry"
)

// Player is the part of the controller the API drives.
type Player interface {
	Play(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	Jump(ctx context.Context, index int) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
	SetRepeat(ctx context.Context, mode playlist.RepeatMode, count int) error
	StopOverlay(ctx context.Context) error
	SetOverlayGain(ctx context.Context, gain float64) error
	Status() controller.Status
}

// Options wires a Server.
type Options struct {
	Addr   string
	Player Player
	Bus    *events.Bus
	// LogBuffer enables GET /api/v1/logs.
	LogBuffer *logbuffer.Buffer
	// DB enables GET /api/v1/history for Session.
	DB      *gorm.DB
	Session string
	// RequestTimeout bounds control requests; websocket streams are exempt.
	RequestTimeout time.Duration
}

// Server bundles the router and the HTTP listener.
type Server struct {
	opts       Options
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
}

// New builds the router. Call ListenAndServe to accept connections.
func New(opts Options, logger zerolog.Logger) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}

	s := &Server{
		opts:   opts,
		logger: logger.With().Str("component", "http").Logger(),
		router: chi.NewRouter(),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeadersMiddleware)
	s.router.Use(telemetry.TracingMiddleware)
	s.router.Use(telemetry.MetricsMiddleware)

	s.configureRoutes()

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("control API listening")
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("control API shutdown error")
		return err
	}
	s.logger.Info().Msg("control API stopped")
	return nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", telemetry.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/events", s.handleEvents)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.opts.RequestTimeout))

			r.Get("/status", s.handleStatus)
			r.Post("/play", s.control("play", s.opts.Player.Play))
			r.Post("/next", s.control("next", s.opts.Player.Next))
			r.Post("/previous", s.control("previous", s.opts.Player.Previous))
			r.Post("/pause", s.control("pause", s.opts.Player.Pause))
			r.Post("/resume", s.control("resume", s.opts.Player.Resume))
			r.Post("/stop", s.control("stop", s.opts.Player.Stop))
			r.Post("/jump/{index}", s.handleJump)
			r.Post("/repeat", s.handleRepeat)
			r.Post("/overlay/gain", s.handleOverlayGain)
			r.Delete("/overlay", s.control("stop_overlay", s.opts.Player.StopOverlay))

			if s.opts.LogBuffer != nil {
				r.Get("/logs", s.handleLogs)
			}
			if s.opts.DB != nil {
				r.Get("/history", s.handleHistory)
			}
		})
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		event := s.logger.Debug()
		if ww.Status() >= http.StatusInternalServerError {
			event = s.logger.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Cache-Control", "no-store")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}
