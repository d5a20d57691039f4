/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"sync"
	"time"

	"github.com/friendsincode/nocturne/internal/telemetry"
)

// EventType enumerates event categories.
type EventType string

const (
	EventCrossfadePhase    EventType = "crossfade.phase"
	EventCrossfadeProgress EventType = "crossfade.progress"
	EventTrackChanged      EventType = "track.changed"
	EventTrackSkipped      EventType = "track.skipped"
	EventPlaybackState     EventType = "playback.state"
	EventOverlayState      EventType = "overlay.state"
	EventPlaylistReloaded  EventType = "playlist.reloaded"
	EventSessionFinished   EventType = "session.finished"
	EventError             EventType = "error"

	// EventAny subscribers receive every event.
	EventAny EventType = "*"
)

// DefaultBuffer is the subscriber channel capacity used by Subscribe.
const DefaultBuffer = 16

// Payload generic event payload. Published payloads always carry "type" and
// "at" keys.
type Payload map[string]any

// Type returns the event type stamped by Publish.
func (p Payload) Type() EventType {
	t, _ := p["type"].(EventType)
	return t
}

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus implements a simple in-process pubsub. Publishing never blocks: when a
// subscriber's buffer is full its oldest pending event is dropped.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
	now  func() time.Time
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber), now: time.Now}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	return b.SubscribeBuffered(eventType, DefaultBuffer)
}

// SubscribeBuffered registers a subscriber with a custom buffer size.
func (b *Bus) SubscribeBuffered(eventType EventType, size int) Subscriber {
	if size < 1 {
		size = 1
	}
	ch := make(Subscriber, size)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers of eventType and to EventAny subscribers.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	if b == nil {
		return
	}
	msg := make(Payload, len(payload)+2)
	for k, v := range payload {
		msg[k] = v
	}
	msg["type"] = eventType
	msg["at"] = b.now().UTC()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[eventType] {
		deliver(sub, msg)
	}
	if eventType != EventAny {
		for _, sub := range b.subs[EventAny] {
			deliver(sub, msg)
		}
	}
}

func deliver(sub Subscriber, msg Payload) {
	for {
		select {
		case sub <- msg:
			return
		default:
		}
		select {
		case old := <-sub:
			telemetry.EventsDropped.WithLabelValues(string(old.Type())).Inc()
		default:
		}
	}
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	b.subs[eventType] = subs
}
