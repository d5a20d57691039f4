/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/friendsincode/nocturne/internal/audio"
	"github.com/friendsincode/nocturne/internal/fade"
	"github.com/friendsincode/nocturne/internal/playlist"
)

var validateCmd = &cobra.Command{
	Use:   "validate <playlist.yaml>",
	Short: "Check that every track in a playlist can be played",
	Long: `Parse the playlist and probe every track. Prints one line per track and
the crossfade each hand-off would get. Exits non-zero when any track fails.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	f, err := playlist.LoadFile(args[0])
	if err != nil {
		return err
	}
	return validatePlaylist(cmd.OutOrStdout(), f, audio.Probe)
}

type validationError struct {
	failed, total int
}

func (e *validationError) Error() string {
	return fmt.Sprintf("%d of %d tracks failed validation", e.failed, e.total)
}

// validatePlaylist prints a report for f and returns a *validationError when
// any track fails to probe.
func validatePlaylist(out io.Writer, f *playlist.File, probe playlist.ProbeFunc) error {
	tracks, failures := f.BuildTracks(probe)

	crossfade := cfg.CrossfadeDuration
	if d := f.CrossfadeDuration(); d > 0 {
		crossfade = d
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tID\tDURATION\tFORMAT\tCROSSFADE IN\tSTATUS")
	for i, t := range tracks {
		if err, failed := failures[i]; failed {
			fmt.Fprintf(tw, "%d\t%s\t-\t-\t-\t%s: %v\n", i, t.Key(), audio.KindOf(err), err)
			continue
		}
		format := fmt.Sprintf("%d Hz %dch %d-bit", t.Format.SampleRate, t.Format.Channels, t.Format.BitDepth)
		effective := fade.EffectiveDuration(crossfade, t.Duration, cfg.AutoAdaptRatio)
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\tok\n", i, t.Key(), formatClock(t.Duration), format, effective)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(failures) > 0 {
		return &validationError{failed: len(failures), total: len(tracks)}
	}
	fmt.Fprintf(out, "%d tracks ok\n", len(tracks))
	return nil
}
