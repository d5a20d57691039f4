/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package overlay

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/friendsincode/nocturne/internal/audio"
	"github.com/friendsincode/nocturne/internal/events"
	"github.com/friendsincode/nocturne/internal/playlist"
)

var rain = playlist.Track{ID: "rain", Path: "rain.wav"}

func newLayer(t *testing.T) (*Layer, *audio.MemoryBackend, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	backend := audio.NewMemoryBackend(clk, audio.WithSampleRate(1000))
	backend.AddFile("rain.wav", 30*time.Second)
	backend.FailFile("broken.wav", audio.KindCorruptFormat)

	l := NewLayer(backend, clk, events.NewBus(), zerolog.Nop())
	l.manualTick = true
	return l, backend, clk
}

func advance(l *Layer, clk *clock.Mock, d time.Duration) {
	clk.Add(d)
	l.mu.Lock()
	gen := l.gen
	l.mu.Unlock()
	l.step(gen)
}

func TestLayer_StartLoops(t *testing.T) {
	l, backend, clk := newLayer(t)

	if err := l.Start(context.Background(), rain, 0.3, 0); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	st := l.Status()
	if !st.Active || st.Track.ID != "rain" || st.Gain != 0.3 {
		t.Errorf("Status() = %+v", st)
	}
	if backend.Gain(audio.ChannelOverlay) != 0.3 {
		t.Errorf("backend gain = %v, want 0.3", backend.Gain(audio.ChannelOverlay))
	}

	clk.Add(45 * time.Second)
	if pos, _ := backend.Position(audio.ChannelOverlay); pos != 15*time.Second {
		t.Errorf("overlay position = %v, want 15s after wrapping", pos)
	}
}

func TestLayer_FadeInAndOut(t *testing.T) {
	l, backend, clk := newLayer(t)

	_ = l.Start(context.Background(), rain, 0.8, 2*time.Second)
	if g := backend.Gain(audio.ChannelOverlay); g != 0 {
		t.Fatalf("gain at fade start = %v, want 0", g)
	}

	advance(l, clk, time.Second)
	if g := l.Status().Gain; math.Abs(g-0.4) > 1e-9 {
		t.Errorf("gain halfway through fade-in = %v, want 0.4", g)
	}
	advance(l, clk, time.Second)
	if g := l.Status().Gain; math.Abs(g-0.8) > 1e-9 {
		t.Errorf("gain after fade-in = %v, want 0.8", g)
	}

	if err := l.Stop(time.Second); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !l.Status().Active {
		t.Error("overlay released before fade-out finished")
	}
	advance(l, clk, time.Second)
	if l.Status().Active || backend.Loaded(audio.ChannelOverlay) != "" {
		t.Error("overlay not released after fade-out")
	}
}

func TestLayer_SetGain(t *testing.T) {
	l, backend, _ := newLayer(t)

	if err := l.SetGain(0.5, 0); !errors.Is(err, ErrNotActive) {
		t.Errorf("SetGain() on idle = %v, want ErrNotActive", err)
	}

	_ = l.Start(context.Background(), rain, 0.3, 0)
	if err := l.SetGain(1.5, 0); !errors.Is(err, ErrGainOutOfRange) {
		t.Errorf("SetGain(1.5) = %v, want ErrGainOutOfRange", err)
	}
	if err := l.SetGain(0.6, 0); err != nil {
		t.Fatalf("SetGain() error = %v", err)
	}
	if backend.Gain(audio.ChannelOverlay) != 0.6 {
		t.Errorf("backend gain = %v, want 0.6", backend.Gain(audio.ChannelOverlay))
	}
}

func TestLayer_FailedStartKeepsCurrentBed(t *testing.T) {
	l, backend, _ := newLayer(t)
	_ = l.Start(context.Background(), rain, 0.3, 0)

	err := l.Start(context.Background(), playlist.Track{ID: "b", Path: "broken.wav"}, 0.3, 0)
	if audio.KindOf(err) != audio.KindCorruptFormat {
		t.Fatalf("Start(broken) error = %v", err)
	}
	if l.Status().Track.ID != "rain" || backend.Loaded(audio.ChannelOverlay) != "rain.wav" {
		t.Error("failed start replaced the running overlay")
	}
}

func TestLayer_StopIdleIsNoop(t *testing.T) {
	l, _, _ := newLayer(t)
	if err := l.Stop(time.Second); err != nil {
		t.Errorf("Stop() on idle = %v", err)
	}
}
