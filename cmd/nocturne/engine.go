/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/faiface/beep/speaker"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/nocturne/internal/audio"
	"github.com/friendsincode/nocturne/internal/config"
	"github.com/friendsincode/nocturne/internal/controller"
	"github.com/friendsincode/nocturne/internal/db"
	"github.com/friendsincode/nocturne/internal/eventbus"
	"github.com/friendsincode/nocturne/internal/events"
	"github.com/friendsincode/nocturne/internal/fade"
	"github.com/friendsincode/nocturne/internal/playlist"
	"github.com/friendsincode/nocturne/internal/telemetry"
	"github.com/friendsincode/nocturne/internal/version"
)

type engineOptions struct {
	playlistPath string
	dryRun       bool
	resume       bool
	noPersist    bool
	watch        bool
}

// engine owns everything a playback session needs, from the audio device
// to the event forwarders.
type engine struct {
	opts   engineOptions
	cfg    *config.Config
	logger zerolog.Logger

	file     *playlist.File
	name     string
	probe    playlist.ProbeFunc
	backend  audio.Backend
	bus      *events.Bus
	ctrl     *controller.Controller
	database *gorm.DB
	store    *db.SessionStore

	closers []func() error
}

func newEngine(ctx context.Context, cfg *config.Config, opts engineOptions, logger zerolog.Logger) (*engine, error) {
	file, err := playlist.LoadFile(opts.playlistPath)
	if err != nil {
		return nil, err
	}

	e := &engine{
		opts:   opts,
		cfg:    cfg,
		logger: logger,
		file:   file,
		name:   playlistName(file, opts.playlistPath),
		probe:  audio.Probe,
		bus:    events.NewBus(),
	}
	if err := e.init(ctx); err != nil {
		e.close()
		return nil, err
	}
	return e, nil
}

func (e *engine) init(ctx context.Context) error {
	tracer, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    "nocturne",
		ServiceVersion: version.Version,
		InstanceID:     e.cfg.InstanceID,
		OTLPEndpoint:   e.cfg.OTLPEndpoint,
		Enabled:        e.cfg.TracingEnabled,
		SampleRate:     e.cfg.TracingSampleRate,
	}, e.logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	e.onClose(func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tracer.Shutdown(shutdownCtx)
	})

	if err := e.initBackend(); err != nil {
		return err
	}
	if err := e.initStore(ctx); err != nil {
		return err
	}
	e.initForwarders(ctx)
	return e.initController()
}

func (e *engine) initBackend() error {
	if e.opts.dryRun {
		e.backend = audio.NewMemoryBackend(clock.New(),
			audio.WithSampleRate(e.cfg.SampleRate),
			audio.WithProbe(audio.Probe))
		e.logger.Info().Msg("dry run: rendering to the in-memory backend")
		e.onClose(e.backend.Close)
		return nil
	}

	beepBackend := audio.NewBeepBackend(e.cfg.SampleRate, e.logger)
	sr := beepBackend.SampleRate()
	if err := speaker.Init(sr, sr.N(e.cfg.BufferSize)); err != nil {
		return fmt.Errorf("init audio output: %w", err)
	}
	speaker.Play(beepBackend.Streamer())
	e.backend = beepBackend
	e.onClose(func() error {
		speaker.Clear()
		return beepBackend.Close()
	})
	e.logger.Info().Int("sample_rate", int(sr)).Dur("buffer", e.cfg.BufferSize).Msg("audio output ready")
	return nil
}

// initStore connects the session database. Without --resume a database
// failure only disables persistence.
func (e *engine) initStore(ctx context.Context) error {
	if e.opts.noPersist {
		return nil
	}

	database, err := db.Connect(e.cfg)
	if err == nil {
		err = db.Migrate(database)
		if err != nil {
			db.Close(database)
		}
	}
	if err != nil {
		if e.opts.resume {
			return fmt.Errorf("session store: %w", err)
		}
		e.logger.Warn().Err(err).Msg("session store unavailable, persistence disabled")
		return nil
	}

	e.database = database
	e.store = db.NewSessionStore(database, e.logger)
	e.onClose(func() error { return db.Close(database) })

	history := db.NewHistoryRecorder(database, e.bus, e.name, e.logger)
	history.Start(ctx)
	e.onClose(func() error {
		history.Close()
		return nil
	})
	return nil
}

func (e *engine) initForwarders(ctx context.Context) {
	opts := eventbus.DefaultOptions()
	opts.NodeID = e.cfg.InstanceID

	if e.cfg.RedisAddr != "" {
		rc := eventbus.DefaultRedisConfig()
		rc.Addr = e.cfg.RedisAddr
		rc.Password = e.cfg.RedisPassword
		rc.DB = e.cfg.RedisDB
		rc.Channel = e.cfg.EventsChannel
		pub, err := eventbus.NewRedisPublisher(ctx, rc, e.logger)
		if err != nil {
			e.logger.Warn().Err(err).Msg("redis event forwarding disabled")
		} else {
			e.startForwarder(ctx, pub, opts)
		}
	}

	if e.cfg.NATSURL != "" {
		nc := eventbus.DefaultNATSConfig()
		nc.URL = e.cfg.NATSURL
		nc.SubjectPrefix = e.cfg.EventsChannel
		pub, err := eventbus.NewNATSPublisher(nc, e.logger)
		if err != nil {
			e.logger.Warn().Err(err).Msg("nats event forwarding disabled")
		} else {
			e.startForwarder(ctx, pub, opts)
		}
	}
}

func (e *engine) startForwarder(ctx context.Context, pub eventbus.Publisher, opts eventbus.Options) {
	fwd := eventbus.NewForwarder(e.bus, pub, opts, e.logger)
	fwd.Start(ctx)
	e.onClose(fwd.Close)
}

func (e *engine) initController() error {
	tracks, failures := e.file.BuildTracks(e.probe)
	e.logProbeFailures(tracks, failures)

	seq := playlist.NewSequencer(e.logger)
	if err := seq.Load(tracks, 0); err != nil {
		return fmt.Errorf("load playlist %s: %w", e.name, err)
	}
	if e.file.Repeat.Mode != "" {
		seq.SetRepeat(e.file.RepeatMode(), e.file.Repeat.Count)
	} else {
		seq.SetRepeat(e.cfg.RepeatMode, e.cfg.RepeatCount)
	}

	opts := controller.OptionsFromConfig(e.cfg)
	opts.Bus = e.bus
	opts.PlaylistName = e.name
	if e.store != nil {
		opts.Store = e.store
	}
	if err := applyPlaylistOverrides(&opts, e.file); err != nil {
		return err
	}

	e.ctrl = controller.New(e.backend, seq, opts, e.logger)
	e.logger.Info().
		Str("playlist", e.name).
		Int("tracks", len(tracks)).
		Str("repeat", seq.RepeatMode().String()).
		Dur("crossfade", opts.CrossfadeDuration).
		Msg("playlist loaded")
	return nil
}

func (e *engine) logProbeFailures(tracks []playlist.Track, failures map[int]error) {
	for i, err := range failures {
		e.logger.Warn().
			Err(err).
			Int("index", i).
			Str("path", tracks[i].Path).
			Str("kind", string(audio.KindOf(err))).
			Msg("track failed probe, it will be skipped when reached")
	}
}

// start runs the controller and begins playback, resuming a saved session
// when asked to.
func (e *engine) start(ctx context.Context) error {
	if err := e.ctrl.Start(ctx); err != nil {
		return err
	}

	if err := e.startPlayback(ctx); err != nil {
		return err
	}

	if spec := e.file.Overlay; spec != nil && spec.Path != "" {
		gain := spec.Gain
		if gain <= 0 {
			gain = e.cfg.OverlayGain
		}
		track := playlist.Track{ID: "overlay", Path: e.file.Resolve(spec.Path), Title: "overlay"}
		if err := e.ctrl.StartOverlay(ctx, track, gain); err != nil {
			e.logger.Warn().Err(err).Str("path", track.Path).Msg("overlay failed to start")
		}
	}

	if e.opts.watch {
		go e.watch(ctx)
	}
	return nil
}

func (e *engine) startPlayback(ctx context.Context) error {
	if !e.opts.resume {
		return e.ctrl.Play(ctx)
	}
	if e.store == nil {
		return errors.New("--resume needs the session store")
	}

	snap, err := e.store.Load(ctx, e.name)
	switch {
	case errors.Is(err, controller.ErrNoSession):
		e.logger.Info().Str("playlist", e.name).Msg("no saved session, starting from the top")
		return e.ctrl.Play(ctx)
	case err != nil:
		return err
	case snap.Finished:
		e.logger.Info().Str("playlist", e.name).Msg("saved session had finished, starting from the top")
		return e.ctrl.Play(ctx)
	}

	e.logger.Info().
		Int("index", snap.TrackIndex).
		Str("track", snap.TrackID).
		Dur("position", snap.Position).
		Msg("resuming saved session")
	return e.ctrl.Restore(ctx, snap)
}

func (e *engine) watch(ctx context.Context) {
	err := playlist.Watch(ctx, e.opts.playlistPath, e.logger, func(f *playlist.File) {
		tracks, failures := f.BuildTracks(e.probe)
		e.logProbeFailures(tracks, failures)
		if err := e.ctrl.Reload(ctx, tracks); err != nil {
			e.logger.Warn().Err(err).Msg("playlist reload rejected")
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Error().Err(err).Msg("playlist watcher stopped")
	}
}

// close stops playback and releases resources in reverse order.
func (e *engine) close() {
	if e.ctrl != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.ctrl.Stop(ctx); err != nil && !errors.Is(err, controller.ErrStopped) {
			e.logger.Warn().Err(err).Msg("stop on shutdown failed")
		}
		cancel()
		e.ctrl.Close()
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.logger.Warn().Err(err).Msg("shutdown cleanup failed")
		}
	}
	e.closers = nil
}

func (e *engine) onClose(fn func() error) {
	e.closers = append(e.closers, fn)
}

func playlistName(f *playlist.File, path string) string {
	if f.Name != "" {
		return f.Name
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func applyPlaylistOverrides(opts *controller.Options, f *playlist.File) error {
	if d := f.CrossfadeDuration(); d > 0 {
		opts.CrossfadeDuration = d
	}
	if f.Crossfade.Curve != "" {
		curve, err := fade.ParseCurve(f.Crossfade.Curve)
		if err != nil {
			return fmt.Errorf("playlist crossfade curve: %w", err)
		}
		opts.Curve = curve
	}
	return nil
}
