/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playlist

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const watchDebounce = 250 * time.Millisecond

// Watch reloads the playlist file whenever it changes on disk and hands the
// parsed result to onChange. It blocks until ctx is cancelled.
//
// The parent directory is watched rather than the file because editors usually
// replace files through a rename.
func Watch(ctx context.Context, path string, logger zerolog.Logger, onChange func(*File)) error {
	logger = logger.With().Str("component", "playlist_watch").Str("path", path).Logger()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve playlist path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	logger.Info().Msg("watching playlist for changes")

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(watchDebounce)
			pending = timer.C

		case <-pending:
			pending = nil
			f, err := LoadFile(abs)
			if err != nil {
				logger.Error().Err(err).Msg("playlist reload failed, keeping previous version")
				continue
			}
			logger.Info().Int("tracks", len(f.Tracks)).Msg("playlist reloaded")
			onChange(f)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("playlist watcher error")
		}
	}
}
