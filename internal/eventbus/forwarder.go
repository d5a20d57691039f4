/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus forwards in-process playback events to other processes
// over Redis pub/sub or NATS.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/nocturne/internal/events"
)

// Publisher delivers one encoded event to a remote transport.
type Publisher interface {
	Publish(ctx context.Context, eventType events.EventType, data []byte) error
	Close() error
}

// Options tunes a Forwarder.
type Options struct {
	// NodeID identifies this process in forwarded messages. Generated when empty.
	NodeID string
	// Exclude lists event types that stay local, typically crossfade.progress.
	Exclude []events.EventType

	PublishTimeout time.Duration
	BufferSize     int

	// Circuit breaker
	MaxFailures   int
	CheckInterval time.Duration

	Clock clock.Clock
}

// DefaultOptions returns forwarding defaults.
func DefaultOptions() Options {
	return Options{
		Exclude:        []events.EventType{events.EventCrossfadeProgress},
		PublishTimeout: 2 * time.Second,
		BufferSize:     256,
		MaxFailures:    5,
		CheckInterval:  30 * time.Second,
	}
}

// Message is the wire format of a forwarded event.
type Message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

// Decode parses a forwarded message.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal event message: %w", err)
	}
	return &msg, nil
}

// Forwarder copies every bus event to a Publisher. After MaxFailures
// consecutive publish errors it stops trying for CheckInterval.
type Forwarder struct {
	bus     *events.Bus
	pub     Publisher
	opts    Options
	clock   clock.Clock
	logger  zerolog.Logger
	exclude map[events.EventType]bool

	sub    events.Subscriber
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	failCount int
	openUntil time.Time
	forwarded int
	dropped   int
}

// NewForwarder creates a forwarder for bus. Call Start to begin.
func NewForwarder(bus *events.Bus, pub Publisher, opts Options, logger zerolog.Logger) *Forwarder {
	def := DefaultOptions()
	if opts.NodeID == "" {
		opts.NodeID = uuid.NewString()
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = def.PublishTimeout
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = def.BufferSize
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = def.MaxFailures
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = def.CheckInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	exclude := make(map[events.EventType]bool, len(opts.Exclude))
	for _, t := range opts.Exclude {
		exclude[t] = true
	}

	return &Forwarder{
		bus:     bus,
		pub:     pub,
		opts:    opts,
		clock:   opts.Clock,
		logger:  logger.With().Str("component", "eventbus").Str("node_id", opts.NodeID).Logger(),
		exclude: exclude,
	}
}

// NodeID returns the identifier stamped on forwarded messages.
func (f *Forwarder) NodeID() string {
	return f.opts.NodeID
}

// Start subscribes to the bus and forwards until ctx is cancelled or Close
// is called.
func (f *Forwarder) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	f.sub = f.bus.SubscribeBuffered(events.EventAny, f.opts.BufferSize)

	f.wg.Add(1)
	go f.run(ctx)
	f.logger.Info().Msg("event forwarding started")
}

func (f *Forwarder) run(ctx context.Context) {
	defer f.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-f.sub:
			if !ok {
				return
			}
			f.forward(ctx, payload)
		}
	}
}

func (f *Forwarder) forward(ctx context.Context, payload events.Payload) {
	eventType := payload.Type()
	if f.exclude[eventType] {
		return
	}
	if f.tripped() {
		f.mu.Lock()
		f.dropped++
		f.mu.Unlock()
		return
	}

	data, err := json.Marshal(Message{
		EventType: eventType,
		Payload:   payload,
		Timestamp: f.clock.Now().UTC(),
		NodeID:    f.opts.NodeID,
		MessageID: uuid.NewString(),
	})
	if err != nil {
		f.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to marshal event")
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, f.opts.PublishTimeout)
	defer cancel()
	if err := f.pub.Publish(pubCtx, eventType, data); err != nil {
		f.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("failed to forward event")
		f.handleFailure()
		return
	}

	f.mu.Lock()
	f.failCount = 0
	f.forwarded++
	f.mu.Unlock()
}

// tripped reports whether the breaker is open. Once CheckInterval has passed
// the next publish is allowed through as a probe.
func (f *Forwarder) tripped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openUntil.IsZero() {
		return false
	}
	if f.clock.Now().Before(f.openUntil) {
		return true
	}
	f.openUntil = time.Time{}
	f.failCount = f.opts.MaxFailures - 1
	f.logger.Info().Msg("retrying event forwarding")
	return false
}

func (f *Forwarder) handleFailure() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failCount++
	if f.failCount >= f.opts.MaxFailures && f.openUntil.IsZero() {
		f.openUntil = f.clock.Now().Add(f.opts.CheckInterval)
		f.logger.Warn().
			Int("fail_count", f.failCount).
			Dur("retry_in", f.opts.CheckInterval).
			Msg("forwarding failure threshold reached, pausing")
	}
}

// Stats reports forwarded and dropped counts.
func (f *Forwarder) Stats() (forwarded, dropped int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forwarded, f.dropped
}

// Close stops forwarding and closes the publisher.
func (f *Forwarder) Close() error {
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
	if f.sub != nil {
		f.bus.Unsubscribe(events.EventAny, f.sub)
		f.sub = nil
	}
	f.logger.Info().Msg("event forwarding stopped")
	return f.pub.Close()
}
