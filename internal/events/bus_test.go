/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "testing"

func TestBus_PublishStampsType(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(EventTrackChanged)

	b.Publish(EventTrackChanged, Payload{"track": "a"})

	got := <-sub
	if got.Type() != EventTrackChanged || got["track"] != "a" {
		t.Errorf("payload = %v", got)
	}
	if _, ok := got["at"]; !ok {
		t.Error("payload missing timestamp")
	}
}

func TestBus_DropsOldestWhenFull(t *testing.T) {
	b := NewBus()
	sub := b.SubscribeBuffered(EventCrossfadeProgress, 2)

	for i := 0; i < 5; i++ {
		b.Publish(EventCrossfadeProgress, Payload{"n": i})
	}

	first, second := <-sub, <-sub
	if first["n"] != 3 || second["n"] != 4 {
		t.Errorf("kept %v and %v, want the two newest (3, 4)", first["n"], second["n"])
	}
}

func TestBus_AnySubscriberSeesEverything(t *testing.T) {
	b := NewBus()
	all := b.Subscribe(EventAny)
	only := b.Subscribe(EventError)

	b.Publish(EventTrackSkipped, Payload{})
	b.Publish(EventError, Payload{})

	if len(all) != 2 {
		t.Errorf("wildcard subscriber got %d events, want 2", len(all))
	}
	if len(only) != 1 {
		t.Errorf("typed subscriber got %d events, want 1", len(only))
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(EventPlaybackState)
	b.Unsubscribe(EventPlaybackState, sub)

	if _, ok := <-sub; ok {
		t.Error("channel still open after Unsubscribe")
	}
	b.Publish(EventPlaybackState, Payload{})
}

func TestBus_NilIsNoop(t *testing.T) {
	var b *Bus
	b.Publish(EventError, Payload{"error": "ignored"})
}
