/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/nocturne/internal/events"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL   string
	Token string
	Name  string
	// SubjectPrefix is joined with the event type, e.g. nocturne.events.track.changed.
	SubjectPrefix string

	// Connection options
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "nocturne",
		SubjectPrefix: "nocturne.events",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSPublisher publishes each event type on its own subject.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger zerolog.Logger
}

// NewNATSPublisher connects to NATS.
func NewNATSPublisher(cfg NATSConfig, logger zerolog.Logger) (*NATSPublisher, error) {
	def := DefaultNATSConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = def.SubjectPrefix
	}
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = def.ReconnectWait
	}

	logger = logger.With().Str("component", "eventbus_nats").Logger()
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}

	logger.Info().Str("url", conn.ConnectedUrl()).Str("prefix", cfg.SubjectPrefix).Msg("nats event publisher connected")
	return &NATSPublisher{conn: conn, prefix: cfg.SubjectPrefix, logger: logger}, nil
}

// Subject returns the subject an event type is published on.
func Subject(prefix string, eventType events.EventType) string {
	return prefix + "." + string(eventType)
}

// Publish implements Publisher. NATS publishes are buffered by the client,
// so ctx only bounds the flush.
func (p *NATSPublisher) Publish(ctx context.Context, eventType events.EventType, data []byte) error {
	if err := p.conn.Publish(Subject(p.prefix, eventType), data); err != nil {
		return fmt.Errorf("nats publish %s: %w", eventType, err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
