/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playlist

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/friendsincode/nocturne/internal/audio"
)

// File is the on-disk YAML description of a session playlist.
type File struct {
	Name      string        `yaml:"name"`
	Repeat    RepeatSpec    `yaml:"repeat"`
	Crossfade CrossfadeSpec `yaml:"crossfade"`
	Overlay   *OverlaySpec  `yaml:"overlay,omitempty"`
	Tracks    []TrackSpec   `yaml:"tracks"`

	dir string
}

// RepeatSpec configures repeat behavior.
type RepeatSpec struct {
	Mode  string `yaml:"mode"`
	Count int    `yaml:"count"`
}

// CrossfadeSpec overrides the process crossfade settings for this playlist.
type CrossfadeSpec struct {
	Duration string `yaml:"duration"`
	Curve    string `yaml:"curve"`
}

// OverlaySpec describes the looping overlay bed.
type OverlaySpec struct {
	Path string  `yaml:"path"`
	Gain float64 `yaml:"gain"`
}

// TrackSpec is one playlist entry.
type TrackSpec struct {
	ID    string `yaml:"id"`
	Path  string `yaml:"path"`
	Title string `yaml:"title"`
}

// ProbeFunc reads the format and duration of an audio file.
type ProbeFunc func(path string) (audio.Format, time.Duration, error)

// LoadFile reads and validates a YAML playlist.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read playlist: %w", err)
	}

	f, err := ParseFile(data)
	if err != nil {
		return nil, fmt.Errorf("parse playlist %s: %w", path, err)
	}
	f.dir = filepath.Dir(path)
	return f, nil
}

// ParseFile decodes a YAML playlist document.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	if _, err := ParseRepeatMode(f.Repeat.Mode); err != nil {
		return nil, err
	}
	if f.Crossfade.Duration != "" {
		if _, err := time.ParseDuration(f.Crossfade.Duration); err != nil {
			return nil, fmt.Errorf("crossfade duration: %w", err)
		}
	}
	for i, t := range f.Tracks {
		if t.Path == "" {
			return nil, fmt.Errorf("track %d has no path", i)
		}
	}
	return &f, nil
}

// RepeatMode returns the parsed repeat mode.
func (f *File) RepeatMode() RepeatMode {
	mode, _ := ParseRepeatMode(f.Repeat.Mode)
	return mode
}

// CrossfadeDuration returns the playlist override, or 0 when unset.
func (f *File) CrossfadeDuration() time.Duration {
	d, _ := time.ParseDuration(f.Crossfade.Duration)
	return d
}

// Resolve turns a relative path into one anchored at the playlist's directory.
func (f *File) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || f.dir == "" {
		return path
	}
	return filepath.Join(f.dir, path)
}

// BuildTracks resolves every entry into a Track. Probe failures do not drop the
// entry: the track keeps a zero duration and playback-time validation skips it.
// The returned map holds the probe error per track index.
func (f *File) BuildTracks(probe ProbeFunc) ([]Track, map[int]error) {
	tracks := make([]Track, 0, len(f.Tracks))
	var failures map[int]error

	for i, spec := range f.Tracks {
		t := Track{
			ID:    spec.ID,
			Path:  f.Resolve(spec.Path),
			Title: spec.Title,
		}
		if t.ID == "" {
			t.ID = fmt.Sprintf("%03d-%s", i, filepath.Base(spec.Path))
		}

		if probe != nil {
			format, duration, err := probe(t.Path)
			if err != nil {
				if failures == nil {
					failures = make(map[int]error)
				}
				failures[i] = err
			} else {
				t.Format = format
				t.Duration = duration
			}
		}
		tracks = append(tracks, t)
	}
	return tracks, failures
}
