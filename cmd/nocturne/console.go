/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/friendsincode/nocturne/internal/controller"
	"github.com/friendsincode/nocturne/internal/playlist"
	"github.com/friendsincode/nocturne/internal/server"
)

// player is what the console drives.
type player interface {
	server.Player
	StartOverlay(ctx context.Context, track playlist.Track, gain float64) error
}

var errQuit = errors.New("quit")

const consoleHelp = `commands:
  play | next | prev | pause | resume | stop
  jump <index>               switch to a playlist position (0-based)
  repeat <off|single|playlist> [count]
  overlay <path> [gain]      start the overlay bed
  overlay gain <0..1>        change the overlay level
  overlay off                fade the overlay out
  status                     show what is playing
  quit`

func newCompleter() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("play"),
		readline.PcItem("next"),
		readline.PcItem("prev"),
		readline.PcItem("pause"),
		readline.PcItem("resume"),
		readline.PcItem("stop"),
		readline.PcItem("jump"),
		readline.PcItem("repeat",
			readline.PcItem("off"),
			readline.PcItem("single"),
			readline.PcItem("playlist"),
		),
		readline.PcItem("overlay",
			readline.PcItem("gain"),
			readline.PcItem("off"),
		),
		readline.PcItem("status"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)
}

// runConsole reads commands until quit, EOF or ctx ends.
func runConsole(ctx context.Context, p player) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "nocturne> ",
		AutoComplete:    newCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("open console: %w", err)
	}
	defer rl.Close()

	go func() {
		<-ctx.Done()
		rl.Close()
	}()

	out := rl.Stdout()
	fmt.Fprintln(out, "type help for commands")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if err := execCommand(ctx, p, line, out); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

// execCommand runs one console line against p.
func execCommand(ctx context.Context, p player, line string, out io.Writer) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	args := fields[1:]

	var err error
	switch strings.ToLower(fields[0]) {
	case "play":
		err = p.Play(ctx)
	case "next", "n":
		err = p.Next(ctx)
	case "prev", "previous", "p":
		err = p.Previous(ctx)
	case "pause":
		err = p.Pause(ctx)
	case "resume":
		err = p.Resume(ctx)
	case "stop":
		err = p.Stop(ctx)
	case "jump", "j":
		if len(args) != 1 {
			return errors.New("usage: jump <index>")
		}
		index, convErr := strconv.Atoi(args[0])
		if convErr != nil {
			return fmt.Errorf("invalid index %q", args[0])
		}
		err = p.Jump(ctx, index)
	case "repeat":
		err = repeatCommand(ctx, p, args)
	case "overlay":
		err = overlayCommand(ctx, p, args)
	case "status", "s":
		fmt.Fprintln(out, formatStatus(p.Status()))
		return nil
	case "help", "?":
		fmt.Fprintln(out, consoleHelp)
		return nil
	case "quit", "exit", "q":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q (try help)", fields[0])
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(out, formatStatus(p.Status()))
	return nil
}

func repeatCommand(ctx context.Context, p player, args []string) error {
	if len(args) == 0 || len(args) > 2 {
		return errors.New("usage: repeat <off|single|playlist> [count]")
	}
	mode, err := playlist.ParseRepeatMode(args[0])
	if err != nil {
		return err
	}
	count := 0
	if len(args) == 2 {
		if count, err = strconv.Atoi(args[1]); err != nil || count < 0 {
			return fmt.Errorf("invalid repeat count %q", args[1])
		}
	}
	return p.SetRepeat(ctx, mode, count)
}

func overlayCommand(ctx context.Context, p player, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: overlay <path> [gain] | overlay gain <g> | overlay off")
	}
	switch args[0] {
	case "off":
		return p.StopOverlay(ctx)
	case "gain":
		if len(args) != 2 {
			return errors.New("usage: overlay gain <0..1>")
		}
		gain, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid gain %q", args[1])
		}
		return p.SetOverlayGain(ctx, gain)
	}

	gain := cfgOverlayGain()
	if len(args) > 1 {
		g, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid gain %q", args[1])
		}
		gain = g
	}
	return p.StartOverlay(ctx, playlist.Track{ID: "overlay", Path: args[0], Title: "overlay"}, gain)
}

func cfgOverlayGain() float64 {
	if cfg != nil {
		return cfg.OverlayGain
	}
	return 0.3
}

func formatStatus(st controller.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", st.Mode)
	if st.Track != nil {
		title := st.Track.Title
		if title == "" {
			title = st.Track.Key()
		}
		fmt.Fprintf(&b, " %d/%d %s %s", st.Index+1, st.Tracks, title, formatClock(st.Position))
		if st.Track.Duration > 0 {
			fmt.Fprintf(&b, " / %s", formatClock(st.Track.Duration))
		}
	}
	if sess := st.Crossfade.Session; sess != nil {
		fmt.Fprintf(&b, " | crossfade to %s %.0f%%", sess.To.Key(), sess.Progress*100)
	} else if paused := st.Crossfade.Paused; paused != nil {
		fmt.Fprintf(&b, " | crossfade to %s paused at %.0f%%", paused.To.Key(), paused.Progress*100)
	}
	if st.Overlay.Active {
		fmt.Fprintf(&b, " | overlay %.2f", st.Overlay.Gain)
	}
	fmt.Fprintf(&b, " | repeat %s", st.RepeatMode)
	if st.Finished {
		b.WriteString(" | finished")
	}
	return b.String()
}

func formatClock(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
