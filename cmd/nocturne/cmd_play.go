/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/friendsincode/nocturne/internal/events"
	"github.com/friendsincode/nocturne/internal/server"
)

var (
	playDryRun    bool
	playResume    bool
	playNoPersist bool
	playNoWatch   bool
	playNoConsole bool
	playAPI       bool
)

var playCmd = &cobra.Command{
	Use:   "play <playlist.yaml>",
	Short: "Play a playlist with an interactive console",
	Long: `Play a playlist with gapless crossfades. An interactive console accepts
next, prev, pause, resume, jump, repeat and overlay commands. Playback ends
when the playlist finishes, on quit, or on SIGINT/SIGTERM.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

var serveCmd = &cobra.Command{
	Use:   "serve <playlist.yaml>",
	Short: "Play a playlist controlled over HTTP",
	Long:  "Play a playlist headless and expose the control API, metrics and the websocket event stream.",
	Args:  cobra.ExactArgs(1),
	RunE:  runServe,
}

func init() {
	for _, c := range []*cobra.Command{playCmd, serveCmd} {
		c.Flags().BoolVar(&playDryRun, "dry-run", false, "render to an in-memory backend instead of the audio device")
		c.Flags().BoolVar(&playResume, "resume", false, "resume the saved session for this playlist")
		c.Flags().BoolVar(&playNoPersist, "no-persist", false, "do not save or load sessions")
		c.Flags().BoolVar(&playNoWatch, "no-watch", false, "do not reload the playlist when the file changes")
	}
	playCmd.Flags().BoolVar(&playNoConsole, "no-console", false, "run without the interactive console")
	playCmd.Flags().BoolVar(&playAPI, "api", false, "also serve the control API")
}

func runPlay(cmd *cobra.Command, args []string) error {
	return run(args[0], !playNoConsole, playAPI, true)
}

func runServe(cmd *cobra.Command, args []string) error {
	return run(args[0], false, true, false)
}

// run plays playlistPath until a signal, a console quit or, with
// exitOnFinish, the end of the playlist.
func run(playlistPath string, console, api, exitOnFinish bool) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if api && cfg.HTTPAddr() == "" {
		return errors.New("control API disabled: set NOCTURNE_HTTP_PORT")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := newEngine(ctx, cfg, engineOptions{
		playlistPath: playlistPath,
		dryRun:       playDryRun,
		resume:       playResume,
		noPersist:    playNoPersist,
		watch:        !playNoWatch,
	}, logger)
	if err != nil {
		return err
	}
	defer e.close()

	var finished events.Subscriber
	if exitOnFinish {
		finished = e.bus.Subscribe(events.EventSessionFinished)
		defer e.bus.Unsubscribe(events.EventSessionFinished, finished)
	}

	if err := e.start(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 2)

	if api {
		srv := server.New(server.Options{
			Addr:      cfg.HTTPAddr(),
			Player:    e.ctrl,
			Bus:       e.bus,
			LogBuffer: logBuf,
			DB:        e.database,
			Session:   e.name,
		}, logger)
		go func() { errCh <- srv.ListenAndServe(ctx) }()
	}
	if console {
		go func() { errCh <- runConsole(ctx, e.ctrl) }()
	}

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down gracefully...")
	case payload := <-finished:
		logger.Info().Interface("reason", payload["reason"]).Msg("playlist finished")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("stopping after error")
			return err
		}
	}
	return nil
}
