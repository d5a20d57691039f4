/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audio

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"
)

// Channel addresses one of the backend's playback voices.
type Channel int

const (
	ChannelA Channel = iota
	ChannelB
	ChannelOverlay
)

// String returns the channel label.
func (c Channel) String() string {
	switch c {
	case ChannelA:
		return "A"
	case ChannelB:
		return "B"
	case ChannelOverlay:
		return "overlay"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// Other returns the opposite crossfade channel. The overlay has no peer.
func (c Channel) Other() Channel {
	switch c {
	case ChannelA:
		return ChannelB
	case ChannelB:
		return ChannelA
	default:
		return c
	}
}

func (c Channel) valid() bool {
	return c >= ChannelA && c <= ChannelOverlay
}

// Format describes the decoded PCM layout of a file.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// DecodedHandle describes a file that is loaded and ready to start.
type DecodedHandle struct {
	Path     string
	Format   Format
	Duration time.Duration
}

// ClockReference is a position on the backend's render clock, counted in
// output frames since the backend started. It does not advance while paused.
type ClockReference int64

// ErrorKind classifies load failures.
type ErrorKind string

const (
	KindNotFound      ErrorKind = "not_found"
	KindCorruptFormat ErrorKind = "corrupt_format"
	KindTimeout       ErrorKind = "timeout"
)

// DecodeError is returned by LoadFile and Probe.
type DecodeError struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ErrUnknownChannel is returned when a call names a channel the backend does not have.
var ErrUnknownChannel = errors.New("unknown channel")

// ErrNotLoaded is returned when a call needs a loaded channel.
var ErrNotLoaded = errors.New("channel not loaded")

// Classify wraps err in a DecodeError, inferring the kind from the cause.
// Errors that are already DecodeErrors are returned unchanged.
func Classify(path string, err error) error {
	if err == nil {
		return nil
	}
	var de *DecodeError
	if errors.As(err, &de) {
		return err
	}

	kind := KindCorruptFormat
	switch {
	case errors.Is(err, fs.ErrNotExist):
		kind = KindNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		kind = KindTimeout
	}
	return &DecodeError{Kind: kind, Path: path, Err: err}
}

// KindOf returns the DecodeError kind of err, or "" when err is not a load failure.
func KindOf(err error) ErrorKind {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// Backend is the playback engine the orchestration layer drives. Loading is
// allowed to block; every other call must return promptly and never wait on
// the render thread.
type Backend interface {
	// LoadFile decodes path into ch without starting it. On failure the
	// channel keeps whatever it held before.
	LoadFile(ctx context.Context, ch Channel, path string) (DecodedHandle, error)
	// Unload stops ch and releases its file.
	Unload(ch Channel) error
	// SetChannelGain sets the linear gain of ch, clamped to [0, 1].
	SetChannelGain(ch Channel, gain float64) error
	// Position reports the playback position within the file loaded on ch.
	Position(ch Channel) (time.Duration, error)
	// Seek moves ch to pos. The change is applied on the next render cycle.
	Seek(ch Channel, pos time.Duration) error
	// SetLoop makes ch restart from zero when it reaches the end.
	SetLoop(ch Channel, loop bool) error
	// Clock returns the current render clock.
	Clock() ClockReference
	// ScheduleStart starts ch when the render clock reaches at. A reference
	// in the past starts it on the next render cycle.
	ScheduleStart(ch Channel, at ClockReference) error
	// Pause halts rendering for every channel and freezes the clock.
	Pause() error
	// Resume restarts rendering.
	Resume() error
	// Close releases every channel.
	Close() error
}
