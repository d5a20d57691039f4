/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playlist

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/friendsincode/nocturne/internal/audio"
)

const samplePlaylist = `
name: night-rain
repeat:
  mode: playlist
  count: 3
crossfade:
  duration: 8s
  curve: equal_power
overlay:
  path: beds/rain.wav
  gain: 0.3
tracks:
  - id: intro
    path: intro.wav
    title: Settling In
  - path: /abs/body-scan.wav
`

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.yaml")
	if err := os.WriteFile(path, []byte(samplePlaylist), 0o644); err != nil {
		t.Fatalf("write playlist: %v", err)
	}

	f, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if f.Name != "night-rain" {
		t.Errorf("Name = %q, want night-rain", f.Name)
	}
	if f.RepeatMode() != RepeatPlaylist || f.Repeat.Count != 3 {
		t.Errorf("repeat = %s/%d, want playlist/3", f.RepeatMode(), f.Repeat.Count)
	}
	if f.CrossfadeDuration() != 8*time.Second {
		t.Errorf("CrossfadeDuration() = %v, want 8s", f.CrossfadeDuration())
	}
	if f.Overlay == nil || f.Resolve(f.Overlay.Path) != filepath.Join(dir, "beds/rain.wav") {
		t.Errorf("overlay not resolved against playlist dir: %+v", f.Overlay)
	}

	probeErr := errors.New("not found")
	tracks, failures := f.BuildTracks(func(path string) (audio.Format, time.Duration, error) {
		if path == "/abs/body-scan.wav" {
			return audio.Format{}, 0, probeErr
		}
		return audio.Format{SampleRate: 44100, Channels: 2, BitDepth: 16}, 3 * time.Minute, nil
	})

	if len(tracks) != 2 {
		t.Fatalf("len(tracks) = %d, want 2", len(tracks))
	}
	if tracks[0].ID != "intro" || tracks[0].Path != filepath.Join(dir, "intro.wav") {
		t.Errorf("tracks[0] = %+v", tracks[0])
	}
	if tracks[0].Duration != 3*time.Minute || tracks[0].Format.SampleRate != 44100 {
		t.Errorf("tracks[0] probe data missing: %+v", tracks[0])
	}
	if tracks[1].ID == "" || tracks[1].Path != "/abs/body-scan.wav" {
		t.Errorf("tracks[1] = %+v", tracks[1])
	}
	if !errors.Is(failures[1], probeErr) {
		t.Errorf("failures[1] = %v, want probe error", failures[1])
	}
}

func TestParseFile_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"bad repeat", "repeat:\n  mode: sometimes\n"},
		{"bad duration", "crossfade:\n  duration: soon\n"},
		{"missing path", "tracks:\n  - title: nothing\n"},
		{"not yaml", "tracks: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseFile([]byte(tt.doc)); err == nil {
				t.Error("ParseFile() expected error")
			}
		})
	}
}
