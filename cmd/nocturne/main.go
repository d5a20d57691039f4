/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/nocturne/internal/config"
	"github.com/friendsincode/nocturne/internal/logbuffer"
	"github.com/friendsincode/nocturne/internal/logging"
	"github.com/friendsincode/nocturne/internal/version"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
	logBuf *logbuffer.Buffer
)

var rootCmd = &cobra.Command{
	Use:           "nocturne",
	Short:         "Nocturne - gapless crossfading playlist player",
	Long:          "Nocturne plays long-form playlists with gapless, gain-continuous crossfades between tracks and an optional ambient overlay.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.String())
	},
}

func init() {
	rootCmd.AddCommand(playCmd, serveCmd, validateCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration and sets up logging (called by commands that need it).
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logBuf = logbuffer.New(2000)
	logger = logging.SetupWithWriter(logging.Options{
		Environment: cfg.Environment,
		File:        cfg.LogFile,
		MaxSizeMB:   cfg.LogMaxSizeMB,
		MaxBackups:  cfg.LogMaxBackups,
	}, logbuffer.NewWriter(logBuf, nil))
	return nil
}
