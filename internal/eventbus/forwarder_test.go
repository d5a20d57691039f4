/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/friendsincode/nocturne/internal/events"
)

type fakePublisher struct {
	mu     sync.Mutex
	fail   bool
	calls  int
	msgs   []*Message
	closed bool
}

func (p *fakePublisher) Publish(_ context.Context, _ events.EventType, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.fail {
		return errors.New("transport down")
	}
	msg, err := Decode(data)
	if err != nil {
		return err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *fakePublisher) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePublisher) setFail(v bool) {
	p.mu.Lock()
	p.fail = v
	p.mu.Unlock()
}

func (p *fakePublisher) snapshot() (int, []*Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls, append([]*Message(nil), p.msgs...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestForwarder_ForwardsEnvelope(t *testing.T) {
	bus := events.NewBus()
	pub := &fakePublisher{}
	fwd := NewForwarder(bus, pub, Options{NodeID: "node-a", Exclude: []events.EventType{events.EventCrossfadeProgress}}, zerolog.Nop())
	fwd.Start(context.Background())

	bus.Publish(events.EventCrossfadeProgress, events.Payload{"progress": 0.5})
	bus.Publish(events.EventTrackChanged, events.Payload{"track": "b", "index": 1})

	waitFor(t, "forwarded event", func() bool {
		_, msgs := pub.snapshot()
		return len(msgs) == 1
	})

	_, msgs := pub.snapshot()
	msg := msgs[0]
	if msg.EventType != events.EventTrackChanged {
		t.Errorf("EventType = %s, want %s", msg.EventType, events.EventTrackChanged)
	}
	if msg.NodeID != "node-a" {
		t.Errorf("NodeID = %q, want node-a", msg.NodeID)
	}
	if msg.MessageID == "" {
		t.Error("expected message id")
	}
	if msg.Payload["track"] != "b" {
		t.Errorf("payload track = %v, want b", msg.Payload["track"])
	}

	if err := fwd.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !pub.closed {
		t.Error("publisher not closed")
	}
	if forwarded, _ := fwd.Stats(); forwarded != 1 {
		t.Errorf("forwarded = %d, want 1 (progress excluded)", forwarded)
	}
}

func TestForwarder_GeneratesNodeID(t *testing.T) {
	fwd := NewForwarder(events.NewBus(), &fakePublisher{}, Options{}, zerolog.Nop())
	if fwd.NodeID() == "" {
		t.Error("expected generated node id")
	}
}

func TestForwarder_CircuitBreaker(t *testing.T) {
	bus := events.NewBus()
	pub := &fakePublisher{fail: true}
	mock := clock.NewMock()
	fwd := NewForwarder(bus, pub, Options{
		NodeID:        "node-a",
		MaxFailures:   2,
		CheckInterval: 30 * time.Second,
		Clock:         mock,
	}, zerolog.Nop())
	fwd.Start(context.Background())
	defer fwd.Close()

	for i := 0; i < 2; i++ {
		bus.Publish(events.EventPlaybackState, events.Payload{"state": "playing"})
		want := i + 1
		waitFor(t, "failed publish", func() bool {
			calls, _ := pub.snapshot()
			return calls == want
		})
	}

	// Breaker is open: events are dropped without touching the transport.
	bus.Publish(events.EventPlaybackState, events.Payload{"state": "paused"})
	waitFor(t, "dropped event", func() bool {
		_, dropped := fwd.Stats()
		return dropped == 1
	})
	if calls, _ := pub.snapshot(); calls != 2 {
		t.Fatalf("calls = %d, want 2 while breaker is open", calls)
	}

	mock.Add(30 * time.Second)
	pub.setFail(false)
	bus.Publish(events.EventPlaybackState, events.Payload{"state": "playing"})
	waitFor(t, "probe publish", func() bool {
		forwarded, _ := fwd.Stats()
		return forwarded == 1
	})
}

func TestNewRedisPublisher_Unreachable(t *testing.T) {
	cfg := DefaultRedisConfig()
	cfg.Addr = "127.0.0.1:1"
	cfg.DialTimeout = 200 * time.Millisecond

	if _, err := NewRedisPublisher(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestNewNATSPublisher_Unreachable(t *testing.T) {
	cfg := DefaultNATSConfig()
	cfg.URL = "nats://127.0.0.1:1"
	cfg.Timeout = 200 * time.Millisecond

	if _, err := NewNATSPublisher(cfg, zerolog.Nop()); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestSubject(t *testing.T) {
	if got := Subject("nocturne.events", events.EventTrackChanged); got != "nocturne.events.track.changed" {
		t.Errorf("Subject() = %q", got)
	}
}
