/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the log sinks.
type Options struct {
	Environment string
	// File enables a size-rotated JSON log next to the console output.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Setup configures zerolog for the process.
func Setup(environment string) zerolog.Logger {
	return SetupWithWriter(Options{Environment: environment}, nil)
}

// SetupWithWriter configures zerolog with an additional writer (e.g., for log buffer).
func SetupWithWriter(opts Options, additionalWriter io.Writer) zerolog.Logger {
	return build(opts, zerolog.ConsoleWriter{Out: os.Stderr}, additionalWriter)
}

func build(opts Options, console io.Writer, additionalWriter io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.InfoLevel
	if opts.Environment == "development" {
		level = zerolog.DebugLevel
	}

	writers := []io.Writer{console}
	if opts.File != "" {
		writers = append(writers, RotatingFile(opts))
	}
	if additionalWriter != nil {
		writers = append(writers, additionalWriter)
	}

	var writer io.Writer = console
	if len(writers) > 1 {
		writer = zerolog.MultiLevelWriter(writers...)
	}

	logger := zerolog.New(writer).With().Timestamp().Logger().Level(level)
	log.Logger = logger
	return logger
}

// RotatingFile returns the lumberjack sink described by opts.
func RotatingFile(opts Options) *lumberjack.Logger {
	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 50
	}
	maxAge := opts.MaxAgeDays
	if maxAge <= 0 {
		maxAge = 14
	}
	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    maxSize,
		MaxBackups: opts.MaxBackups,
		MaxAge:     maxAge,
		Compress:   true,
	}
}
