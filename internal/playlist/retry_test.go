/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playlist

import (
	"errors"
	"testing"
)

var errCorrupt = errors.New("corrupt format")

func validateExcept(bad ...string) func(Track) error {
	return func(t Track) error {
		for _, id := range bad {
			if t.ID == id {
				return errCorrupt
			}
		}
		return nil
	}
}

func TestSkipWithRetry_SkipsCorruptTrack(t *testing.T) {
	s := newLoaded(t, 0, "a", "b", "c")

	res := s.SkipWithRetry(Forward, validateExcept("b"), 3)

	if !res.Found() {
		t.Fatalf("Outcome = %s, want found", res.Outcome)
	}
	if res.Track.ID != "c" {
		t.Errorf("Track = %s, want c", res.Track.ID)
	}
	if s.CurrentIndex() != 2 {
		t.Errorf("CurrentIndex() = %d, want 2", s.CurrentIndex())
	}
	if len(res.Skipped) != 1 || res.Skipped[0].Track.ID != "b" {
		t.Fatalf("Skipped = %+v, want exactly b", res.Skipped)
	}
	if !errors.Is(res.Skipped[0].Err, errCorrupt) {
		t.Errorf("Skipped[0].Err = %v, want errCorrupt", res.Skipped[0].Err)
	}
	if res.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", res.Attempts)
	}
}

func TestSkipWithRetry_CollapsedStepRollsBackWholeSkip(t *testing.T) {
	s := newLoaded(t, 0, "a", "b", "c")

	res := s.SkipWithRetry(Forward, validateExcept("b"), 3)
	s.Rollback(res.Step)

	if s.CurrentIndex() != 0 {
		t.Errorf("CurrentIndex() after rollback = %d, want 0", s.CurrentIndex())
	}
}

func TestSkipWithRetry_AttemptsExhaustedRestoresPosition(t *testing.T) {
	s := newLoaded(t, 0, "a", "b", "c", "d", "e")
	s.SetRepeat(RepeatPlaylist, 0)

	res := s.SkipWithRetry(Forward, validateExcept("b", "c", "d"), 3)

	if res.Outcome != SkipAttemptsExhausted {
		t.Fatalf("Outcome = %s, want attempts_exhausted", res.Outcome)
	}
	if s.CurrentIndex() != 0 {
		t.Errorf("CurrentIndex() = %d, want 0 (last validated)", s.CurrentIndex())
	}
	if len(res.Skipped) != 3 {
		t.Errorf("len(Skipped) = %d, want 3", len(res.Skipped))
	}
}

func TestSkipWithRetry_FailedWrapRollsBackCycle(t *testing.T) {
	s := newLoaded(t, 1, "a", "b")
	s.SetRepeat(RepeatPlaylist, 0)

	res := s.SkipWithRetry(Forward, func(Track) error { return errCorrupt }, 2)

	if res.Outcome != SkipAttemptsExhausted {
		t.Fatalf("Outcome = %s, want attempts_exhausted", res.Outcome)
	}
	if s.CurrentIndex() != 1 || s.CompletedCycles() != 0 {
		t.Errorf("state = index %d cycles %d, want index 1 cycles 0", s.CurrentIndex(), s.CompletedCycles())
	}
}

func TestSkipWithRetry_EndOfPlaylist(t *testing.T) {
	s := newLoaded(t, 1, "a", "b", "c")

	res := s.SkipWithRetry(Forward, validateExcept("c"), 3)

	if res.Outcome != SkipEndReached {
		t.Fatalf("Outcome = %s, want end_reached", res.Outcome)
	}
	if s.CurrentIndex() != 1 {
		t.Errorf("CurrentIndex() = %d, want 1", s.CurrentIndex())
	}
	if len(res.Skipped) != 1 {
		t.Errorf("len(Skipped) = %d, want 1", len(res.Skipped))
	}
}

func TestSkipWithRetry_RepeatedEndKeepsCycleCount(t *testing.T) {
	s := newLoaded(t, 0, "a", "b")
	s.SetRepeat(RepeatPlaylist, 2)

	for i := 0; i < 3; i++ {
		if res := s.SkipWithRetry(Forward, validateExcept(), 3); !res.Found() {
			t.Fatalf("skip %d = %s, want found", i, res.Outcome)
		}
	}
	for i := 0; i < 3; i++ {
		res := s.SkipWithRetry(Forward, validateExcept(), 3)
		if res.Outcome != SkipEndReached {
			t.Fatalf("skip at end = %s, want end_reached", res.Outcome)
		}
		if s.CompletedCycles() != 2 || s.CurrentIndex() != 1 {
			t.Errorf("after end skip %d: cycles %d index %d, want 2 and 1", i, s.CompletedCycles(), s.CurrentIndex())
		}
	}
}

func TestSkipWithRetry_Backward(t *testing.T) {
	s := newLoaded(t, 2, "a", "b", "c")

	res := s.SkipWithRetry(Backward, validateExcept("b"), 3)

	if !res.Found() || res.Track.ID != "a" || s.CurrentIndex() != 0 {
		t.Errorf("got %s at %d (%s), want a at 0", res.Track.ID, s.CurrentIndex(), res.Outcome)
	}
}
