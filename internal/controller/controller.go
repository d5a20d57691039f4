/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package controller serializes playback requests and sequences them across
// the playlist, the channel coordinator and the crossfade orchestrator.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/friendsincode/nocturne/internal/audio"
	"github.com/friendsincode/nocturne/internal/config"
	"github.com/friendsincode/nocturne/internal/coordinator"
	"github.com/friendsincode/nocturne/internal/crossfade"
	"github.com/friendsincode/nocturne/internal/events"
	"github.com/friendsincode/nocturne/internal/fade"
	"github.com/friendsincode/nocturne/internal/overlay"
	"github.com/friendsincode/nocturne/internal/playlist"
	"github.com/friendsincode/nocturne/internal/telemetry"
)

var (
	// ErrQueueFull indicates the control queue is at its depth limit.
	ErrQueueFull = errors.New("control queue full")

	// ErrStopped indicates the controller is not running.
	ErrStopped = errors.New("controller stopped")

	// ErrAlreadyRunning indicates Start was called twice.
	ErrAlreadyRunning = errors.New("controller already running")

	// ErrNoValidTracksInPlaylist indicates every attempted track failed to load.
	ErrNoValidTracksInPlaylist = errors.New("no valid tracks in playlist")

	// ErrEndOfPlaylist indicates a manual skip past the last track without repeat.
	ErrEndOfPlaylist = errors.New("end of playlist")

	// ErrNotPlaying indicates an operation that needs an active session.
	ErrNotPlaying = errors.New("nothing is playing")
)

const (
	defaultMonitorInterval = 250 * time.Millisecond
	overlayGainRamp        = 500 * time.Millisecond
)

// Options tunes a Controller.
type Options struct {
	Clock clock.Clock
	Bus   *events.Bus
	// Strict makes coordinator invariant violations panic.
	Strict bool

	CrossfadeDuration    time.Duration
	Curve                fade.Curve
	AutoAdaptRatio       float64
	ResumePolicy         crossfade.ResumePolicy
	QuickFinishDuration  time.Duration
	QuickFinishThreshold float64
	RollbackDuration     time.Duration

	LoadTimeout     time.Duration
	MaxSkipAttempts int
	QueueDepth      int

	OverlayFade time.Duration

	// MonitorInterval is how often the auto-advance monitor looks at the
	// active track.
	MonitorInterval time.Duration

	// Store, when set, receives a session snapshot every PersistInterval
	// and whenever playback stops.
	Store           SessionStore
	PersistInterval time.Duration
	PlaylistName    string
}

// OptionsFromConfig maps process configuration onto controller options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Strict:               cfg.Strict,
		CrossfadeDuration:    cfg.CrossfadeDuration,
		Curve:                cfg.CrossfadeCurve,
		AutoAdaptRatio:       cfg.AutoAdaptRatio,
		ResumePolicy:         cfg.ResumePolicy,
		QuickFinishDuration:  cfg.QuickFinishDuration,
		QuickFinishThreshold: cfg.QuickFinishThreshold,
		RollbackDuration:     cfg.RollbackFadeDuration,
		LoadTimeout:          cfg.LoadTimeout,
		MaxSkipAttempts:      cfg.MaxSkipAttempts,
		QueueDepth:           cfg.QueueDepth,
		OverlayFade:          cfg.OverlayFade,
		PersistInterval:      cfg.PersistInterval,
	}
}

type op struct {
	name   string
	ctx    context.Context
	fn     func(context.Context) error
	result chan error
}

// Controller is the entry point for every playback request. Mutating
// requests run one at a time, in arrival order, on a single worker.
type Controller struct {
	opts    Options
	clock   clock.Clock
	bus     *events.Bus
	logger  zerolog.Logger
	backend audio.Backend

	seq     *playlist.Sequencer
	coord   *coordinator.Coordinator
	orch    *crossfade.Orchestrator
	overlay *overlay.Layer

	ops chan *op

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	running     bool
	wg          sync.WaitGroup
	finished    bool
	interrupted bool

	autoPending atomic.Bool
}

// New wires a controller around backend and seq.
func New(backend audio.Backend, seq *playlist.Sequencer, opts Options, logger zerolog.Logger) *Controller {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 3
	}
	if opts.MaxSkipAttempts <= 0 {
		opts.MaxSkipAttempts = 3
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 5 * time.Second
	}
	if opts.AutoAdaptRatio <= 0 {
		opts.AutoAdaptRatio = fade.DefaultAutoAdaptRatio
	}
	if !opts.Curve.Valid() {
		opts.Curve = fade.CurveEqualPower
	}
	if opts.MonitorInterval <= 0 {
		opts.MonitorInterval = defaultMonitorInterval
	}

	c := &Controller{
		opts:    opts,
		clock:   opts.Clock,
		bus:     opts.Bus,
		logger:  logger.With().Str("component", "controller").Logger(),
		backend: backend,
		seq:     seq,
		ops:     make(chan *op, opts.QueueDepth),
	}
	c.coord = coordinator.New(backend, opts.Strict, logger)
	c.orch = crossfade.New(c.coord, backend, crossfade.Options{
		Clock:                opts.Clock,
		Bus:                  opts.Bus,
		Policy:               opts.ResumePolicy,
		QuickFinishDuration:  opts.QuickFinishDuration,
		QuickFinishThreshold: opts.QuickFinishThreshold,
		RollbackDuration:     opts.RollbackDuration,
		OnComplete:           c.onCrossfadeComplete,
	}, logger)
	c.overlay = overlay.NewLayer(backend, opts.Clock, opts.Bus, logger)
	return c
}

// Sequencer returns the playlist the controller drives.
func (c *Controller) Sequencer() *playlist.Sequencer {
	return c.seq
}

// Start runs the request worker, the auto-advance monitor and, when a store
// is configured, the session persister.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrAlreadyRunning
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.running = true

	c.wg.Add(2)
	go c.worker(c.ctx)
	go c.monitorLoop(c.ctx)
	if c.opts.Store != nil && c.opts.PersistInterval > 0 {
		c.wg.Add(1)
		go c.persistLoop(c.ctx)
	}

	c.logger.Info().
		Int("queue_depth", c.opts.QueueDepth).
		Dur("crossfade", c.opts.CrossfadeDuration).
		Str("curve", string(c.opts.Curve)).
		Msg("controller started")
	return nil
}

// Close stops the background loops. Queued requests fail with ErrStopped.
// Audio state is left as is; call Stop first to silence playback.
func (c *Controller) Close() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()
	c.orch.Cancel()
	c.logger.Info().Msg("controller stopped")
}

// submit queues fn and waits for its result. A full queue is rejected at
// once rather than blocking the caller.
func (c *Controller) submit(ctx context.Context, name string, fn func(context.Context) error) error {
	c.mu.Lock()
	running, done := c.running, c.ctx
	c.mu.Unlock()
	if !running {
		return ErrStopped
	}

	o := &op{name: name, ctx: ctx, fn: fn, result: make(chan error, 1)}
	select {
	case c.ops <- o:
	default:
		c.logger.Warn().Str("op", name).Msg("control queue full, rejecting request")
		return fmt.Errorf("%w: %s", ErrQueueFull, name)
	}
	telemetry.QueueDepth.Set(float64(len(c.ops)))

	select {
	case err := <-o.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-done.Done():
		return ErrStopped
	}
}

func (c *Controller) worker(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			c.drain()
			return
		case o := <-c.ops:
			telemetry.QueueDepth.Set(float64(len(c.ops)))
			c.run(o)
		}
	}
}

func (c *Controller) run(o *op) {
	if err := o.ctx.Err(); err != nil {
		o.result <- err
		return
	}

	ctx, span := telemetry.StartSpan(o.ctx, "controller."+o.name, nil)
	start := c.clock.Now()
	err := o.fn(ctx)
	telemetry.EndSpan(span, err)

	event := c.logger.Debug()
	if err != nil {
		event = c.logger.Warn().Err(err)
	}
	event.Str("op", o.name).Dur("took", c.clock.Since(start)).Msg("control request handled")
	o.result <- err
}

func (c *Controller) drain() {
	for {
		select {
		case o := <-c.ops:
			o.result <- ErrStopped
		default:
			telemetry.QueueDepth.Set(0)
			return
		}
	}
}

func (c *Controller) isFinished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}

func (c *Controller) setFinished(v bool) {
	c.mu.Lock()
	c.finished = v
	c.mu.Unlock()
}

func (c *Controller) publishState(state string) {
	c.bus.Publish(events.EventPlaybackState, events.Payload{"state": state})
}

func (c *Controller) publishTrackChanged(track playlist.Track, reason string) {
	c.bus.Publish(events.EventTrackChanged, events.Payload{
		"track":         track.Key(),
		"title":         track.Title,
		"index":         c.seq.CurrentIndex(),
		"current_track": track.Key(),
		"reason":        reason,
	})
}
