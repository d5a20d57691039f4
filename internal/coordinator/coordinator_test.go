/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/friendsincode/nocturne/internal/audio"
	"github.com/friendsincode/nocturne/internal/playlist"
)

var (
	trackA = playlist.Track{ID: "a", Path: "a.wav"}
	trackB = playlist.Track{ID: "b", Path: "b.wav"}
)

func setup(t *testing.T) (*Coordinator, *audio.MemoryBackend, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	backend := audio.NewMemoryBackend(clk, audio.WithSampleRate(1000))
	backend.AddFile("a.wav", time.Minute)
	backend.AddFile("b.wav", 2*time.Minute)
	backend.FailFile("bad.wav", audio.KindCorruptFormat)
	return New(backend, false, zerolog.Nop()), backend, clk
}

func mustConsistent(t *testing.T, c *Coordinator, after string) {
	t.Helper()
	if err := c.Snapshot().Consistent(); err != nil {
		t.Fatalf("after %s: %v", after, err)
	}
}

func TestCoordinator_ActivateFirstTrack(t *testing.T) {
	c, backend, clk := setup(t)

	if err := c.Activate(context.Background(), trackA); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	mustConsistent(t, c, "activate")

	snap := c.Snapshot()
	if snap.Mode != ModePlaying {
		t.Errorf("Mode = %s, want playing", snap.Mode)
	}
	if snap.ActiveState().Track.ID != "a" || snap.ActiveState().Gain != 1 {
		t.Errorf("active = %+v, want a at gain 1", snap.ActiveState())
	}
	if snap.ActiveState().Track.Duration != time.Minute {
		t.Errorf("duration not taken from decoded handle: %v", snap.ActiveState().Track.Duration)
	}
	if !backend.Playing(snap.Active) {
		t.Error("active channel is not playing on the backend")
	}

	clk.Add(5 * time.Second)
	if pos := c.ActivePosition(); pos != 5*time.Second {
		t.Errorf("ActivePosition() = %v, want 5s", pos)
	}
}

func TestCoordinator_FailedLoadLeavesStateUnchanged(t *testing.T) {
	c, _, _ := setup(t)
	ctx := context.Background()
	_ = c.Activate(ctx, trackA)
	before := c.Snapshot()

	_, err := c.LoadOnInactive(ctx, playlist.Track{ID: "x", Path: "bad.wav"})
	if audio.KindOf(err) != audio.KindCorruptFormat {
		t.Fatalf("LoadOnInactive() error = %v, want corrupt format", err)
	}

	after := c.Snapshot()
	if after != before {
		t.Errorf("state changed on failed load:\nbefore %+v\nafter  %+v", before, after)
	}
	mustConsistent(t, c, "failed load")
}

func TestCoordinator_CrossfadeAndCommit(t *testing.T) {
	c, backend, _ := setup(t)
	ctx := context.Background()
	_ = c.Activate(ctx, trackA)
	from := c.Snapshot().Active

	if _, err := c.LoadOnInactive(ctx, trackB); err != nil {
		t.Fatalf("LoadOnInactive() error = %v", err)
	}
	mustConsistent(t, c, "load")
	if !c.InactiveHolds(trackB) {
		t.Error("InactiveHolds(b) = false after load")
	}

	if _, err := c.BeginCrossfade(); err != nil {
		t.Fatalf("BeginCrossfade() error = %v", err)
	}
	mustConsistent(t, c, "begin")
	if !backend.Playing(from.Other()) {
		t.Error("incoming channel not started")
	}

	if err := c.ApplyGains(0.6, 0.4); err != nil {
		t.Fatalf("ApplyGains() error = %v", err)
	}
	mustConsistent(t, c, "apply gains")
	if backend.Gain(from) != 0.6 || backend.Gain(from.Other()) != 0.4 {
		t.Errorf("backend gains = %v/%v, want 0.6/0.4", backend.Gain(from), backend.Gain(from.Other()))
	}

	if err := c.CommitSwap(); err != nil {
		t.Fatalf("CommitSwap() error = %v", err)
	}
	mustConsistent(t, c, "commit")

	snap := c.Snapshot()
	if snap.Active != from.Other() || snap.Crossfading {
		t.Errorf("after commit active = %s crossfading = %v", snap.Active, snap.Crossfading)
	}
	if snap.ActiveState().Track.ID != "b" || snap.ActiveState().Gain != 1 {
		t.Errorf("active after commit = %+v, want b at gain 1", snap.ActiveState())
	}
	if snap.InactiveState().Loaded() || backend.Loaded(from) != "" {
		t.Error("outgoing channel not released")
	}
}

func TestCoordinator_ApplyGainsRejectsOutOfRange(t *testing.T) {
	c, _, _ := setup(t)
	ctx := context.Background()
	_ = c.Activate(ctx, trackA)
	_, _ = c.LoadOnInactive(ctx, trackB)
	_, _ = c.BeginCrossfade()
	_ = c.ApplyGains(0.7, 0.3)

	for _, g := range [][2]float64{{1.2, 0}, {0.5, -0.1}} {
		if err := c.ApplyGains(g[0], g[1]); !errors.Is(err, ErrGainOutOfRange) {
			t.Errorf("ApplyGains(%v) error = %v, want ErrGainOutOfRange", g, err)
		}
	}
	if a, i := c.Gains(); a != 0.7 || i != 0.3 {
		t.Errorf("gains = %v/%v, want unchanged 0.7/0.3", a, i)
	}
}

func TestCoordinator_RevertSwapRestoresSnapshot(t *testing.T) {
	c, backend, clk := setup(t)
	ctx := context.Background()
	_ = c.Activate(ctx, trackA)
	clk.Add(10 * time.Second)

	snapshot := c.ActivePosition()
	_, _ = c.LoadOnInactive(ctx, trackB)
	_, _ = c.BeginCrossfade()
	clk.Add(2 * time.Second)
	_ = c.ApplyGains(0.4, 0.6)

	if err := c.RevertSwap(snapshot); err != nil {
		t.Fatalf("RevertSwap() error = %v", err)
	}
	mustConsistent(t, c, "revert")

	snap := c.Snapshot()
	if snap.Crossfading || snap.InactiveState().Loaded() {
		t.Errorf("crossfade not cleared: %+v", snap)
	}
	if snap.ActiveState().Gain != 1 || snap.InactiveState().Gain != 0 {
		t.Errorf("gains = %v/%v, want 1/0", snap.ActiveState().Gain, snap.InactiveState().Gain)
	}
	if snap.ActiveState().Position != 10*time.Second {
		t.Errorf("active position = %v, want snapshot 10s", snap.ActiveState().Position)
	}
	if backend.Loaded(snap.Inactive()) != "" {
		t.Error("inactive channel still loaded on backend")
	}
}

func TestCoordinator_PreconditionErrors(t *testing.T) {
	c, _, _ := setup(t)

	if _, err := c.BeginCrossfade(); !errors.Is(err, ErrInactiveEmpty) {
		t.Errorf("BeginCrossfade() on empty = %v, want ErrInactiveEmpty", err)
	}
	if err := c.CommitSwap(); !errors.Is(err, ErrNotCrossfading) {
		t.Errorf("CommitSwap() while idle = %v, want ErrNotCrossfading", err)
	}
	if err := c.RevertSwap(0); !errors.Is(err, ErrNotCrossfading) {
		t.Errorf("RevertSwap() while idle = %v, want ErrNotCrossfading", err)
	}

	ctx := context.Background()
	_ = c.Activate(ctx, trackA)
	_, _ = c.LoadOnInactive(ctx, trackB)
	_, _ = c.BeginCrossfade()
	if _, err := c.LoadOnInactive(ctx, trackA); !errors.Is(err, ErrCrossfading) {
		t.Errorf("LoadOnInactive() during crossfade = %v, want ErrCrossfading", err)
	}
}

func TestCoordinator_ForceIdleAndStop(t *testing.T) {
	c, backend, _ := setup(t)
	ctx := context.Background()
	_ = c.Activate(ctx, trackA)
	_, _ = c.LoadOnInactive(ctx, trackB)
	_, _ = c.BeginCrossfade()
	_ = c.ApplyGains(0.2, 0.8)

	if err := c.ForceIdle(); err != nil {
		t.Fatalf("ForceIdle() error = %v", err)
	}
	snap := c.Snapshot()
	if snap.Crossfading || snap.InactiveState().Loaded() || snap.ActiveState().Gain != 1 {
		t.Errorf("ForceIdle() left %+v", snap)
	}
	mustConsistent(t, c, "force idle")

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	snap = c.Snapshot()
	if snap.Mode != ModeStopped || snap.ActiveState().Loaded() {
		t.Errorf("Stop() left %+v", snap)
	}
	if backend.Loaded(audio.ChannelA) != "" || backend.Loaded(audio.ChannelB) != "" {
		t.Error("Stop() did not unload the backend")
	}
}

func TestCoordinator_ViolationRestoresLastGood(t *testing.T) {
	c, _, _ := setup(t)

	err := c.SetMode(ModePlaying)
	if !errors.Is(err, ErrInconsistentState) {
		t.Fatalf("SetMode(playing) with empty channel = %v, want ErrInconsistentState", err)
	}
	if c.Snapshot().Mode != ModeStopped {
		t.Error("inconsistent state was not rolled back")
	}
}

func TestCoordinator_StrictModePanics(t *testing.T) {
	clk := clock.NewMock()
	c := New(audio.NewMemoryBackend(clk), true, zerolog.Nop())

	defer func() {
		if recover() == nil {
			t.Error("strict coordinator did not panic on violation")
		}
	}()
	_ = c.SetMode(ModePlaying)
}

func TestCoordinator_SeekActive(t *testing.T) {
	c, _, clk := setup(t)
	ctx := context.Background()

	if err := c.SeekActive(time.Second); !errors.Is(err, ErrActiveEmpty) {
		t.Errorf("SeekActive() on empty = %v, want ErrActiveEmpty", err)
	}

	_ = c.Activate(ctx, trackA)
	if err := c.SeekActive(20 * time.Second); err != nil {
		t.Fatalf("SeekActive() error = %v", err)
	}
	clk.Add(time.Second)
	if pos := c.ActivePosition(); pos != 21*time.Second {
		t.Errorf("ActivePosition() = %v, want 21s", pos)
	}

	_, _ = c.LoadOnInactive(ctx, trackB)
	_, _ = c.BeginCrossfade()
	if err := c.SeekActive(0); !errors.Is(err, ErrCrossfading) {
		t.Errorf("SeekActive() during crossfade = %v, want ErrCrossfading", err)
	}
}
