/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audio

import (
	"context"
	"math"
	"os"
	"sync/atomic"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
	"github.com/rs/zerolog"
)

// resampleQuality matches the quality beep recommends for music playback.
const resampleQuality = 4

// retireDelay is how long a replaced source stays open so a render cycle
// that already picked it up can finish with it.
const retireDelay = 250 * time.Millisecond

// BeepBackend renders the crossfade pair and the overlay into a single beep
// stream. Control calls only store atomics; the render thread picks them up
// on its next cycle, so nothing here ever takes the speaker lock.
type BeepBackend struct {
	rate   beep.SampleRate
	logger zerolog.Logger

	voices [3]voice
	frames atomic.Int64
	paused atomic.Bool
	closed atomic.Bool
}

type voice struct {
	src        atomic.Pointer[source]
	gain       atomic.Uint64
	loop       atomic.Bool
	startFrame atomic.Int64
	seekTo     atomic.Int64
	pos        atomic.Int64

	// buf is only touched by the render thread.
	buf [][2]float64
}

type source struct {
	file     *os.File
	streamer beep.StreamSeekCloser
	out      beep.Streamer
	format   beep.Format
	handle   DecodedHandle
}

func (s *source) close() {
	_ = s.streamer.Close()
	_ = s.file.Close()
}

// NewBeepBackend creates a backend rendering at rate. Feed Streamer() to
// speaker.Play, or pull it directly when rendering offline.
func NewBeepBackend(rate int, logger zerolog.Logger) *BeepBackend {
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	b := &BeepBackend{
		rate:   beep.SampleRate(rate),
		logger: logger.With().Str("component", "audio").Logger(),
	}
	for i := range b.voices {
		b.voices[i].gain.Store(math.Float64bits(1))
		b.voices[i].startFrame.Store(-1)
		b.voices[i].seekTo.Store(-1)
	}
	return b
}

// SampleRate returns the output rate.
func (b *BeepBackend) SampleRate() beep.SampleRate {
	return b.rate
}

// Streamer returns the mixed output stream.
func (b *BeepBackend) Streamer() beep.Streamer {
	return b
}

func (b *BeepBackend) LoadFile(ctx context.Context, ch Channel, path string) (DecodedHandle, error) {
	if !ch.valid() {
		return DecodedHandle{}, ErrUnknownChannel
	}

	type result struct {
		src *source
		err error
	}
	done := make(chan result, 1)
	go func() {
		src, err := b.decode(path)
		done <- result{src, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		go func() {
			if late := <-done; late.src != nil {
				late.src.close()
			}
		}()
		return DecodedHandle{}, &DecodeError{Kind: KindTimeout, Path: path, Err: ctx.Err()}
	}
	if res.err != nil {
		return DecodedHandle{}, res.err
	}

	v := &b.voices[ch]
	v.startFrame.Store(-1)
	v.seekTo.Store(-1)
	v.pos.Store(0)
	b.retire(v.src.Swap(res.src))

	b.logger.Debug().
		Str("channel", ch.String()).
		Str("path", path).
		Dur("duration", res.src.handle.Duration).
		Msg("file loaded")
	return res.src.handle, nil
}

func (b *BeepBackend) decode(path string) (*source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Classify(path, err)
	}

	streamer, format, err := wav.Decode(f)
	if err != nil {
		_ = f.Close()
		return nil, &DecodeError{Kind: KindCorruptFormat, Path: path, Err: err}
	}

	src := &source{
		file:     f,
		streamer: streamer,
		out:      streamer,
		format:   format,
		handle: DecodedHandle{
			Path: path,
			Format: Format{
				SampleRate: int(format.SampleRate),
				Channels:   format.NumChannels,
				BitDepth:   format.Precision * 8,
			},
			Duration: format.SampleRate.D(streamer.Len()),
		},
	}
	if format.SampleRate != b.rate {
		src.out = beep.Resample(resampleQuality, format.SampleRate, b.rate, streamer)
	}
	return src, nil
}

func (b *BeepBackend) retire(src *source) {
	if src == nil {
		return
	}
	time.AfterFunc(retireDelay, src.close)
}

func (b *BeepBackend) Unload(ch Channel) error {
	if !ch.valid() {
		return ErrUnknownChannel
	}
	v := &b.voices[ch]
	v.startFrame.Store(-1)
	v.seekTo.Store(-1)
	v.pos.Store(0)
	b.retire(v.src.Swap(nil))
	return nil
}

func (b *BeepBackend) SetChannelGain(ch Channel, gain float64) error {
	if !ch.valid() {
		return ErrUnknownChannel
	}
	b.voices[ch].gain.Store(math.Float64bits(clampGain(gain)))
	return nil
}

func (b *BeepBackend) Position(ch Channel) (time.Duration, error) {
	if !ch.valid() {
		return 0, ErrUnknownChannel
	}
	v := &b.voices[ch]
	if v.src.Load() == nil {
		return 0, ErrNotLoaded
	}
	return b.rate.D(int(v.pos.Load())), nil
}

func (b *BeepBackend) Seek(ch Channel, pos time.Duration) error {
	if !ch.valid() {
		return ErrUnknownChannel
	}
	v := &b.voices[ch]
	src := v.src.Load()
	if src == nil {
		return ErrNotLoaded
	}
	if pos < 0 {
		pos = 0
	}
	if pos > src.handle.Duration {
		pos = src.handle.Duration
	}
	frames := int64(b.rate.N(pos))
	v.pos.Store(frames)
	v.seekTo.Store(frames)
	return nil
}

func (b *BeepBackend) SetLoop(ch Channel, loop bool) error {
	if !ch.valid() {
		return ErrUnknownChannel
	}
	b.voices[ch].loop.Store(loop)
	return nil
}

func (b *BeepBackend) Clock() ClockReference {
	return ClockReference(b.frames.Load())
}

func (b *BeepBackend) ScheduleStart(ch Channel, at ClockReference) error {
	if !ch.valid() {
		return ErrUnknownChannel
	}
	v := &b.voices[ch]
	if v.src.Load() == nil {
		return ErrNotLoaded
	}
	v.startFrame.Store(int64(at))
	return nil
}

func (b *BeepBackend) Pause() error {
	b.paused.Store(true)
	return nil
}

func (b *BeepBackend) Resume() error {
	b.paused.Store(false)
	return nil
}

func (b *BeepBackend) Close() error {
	b.closed.Store(true)
	for ch := range b.voices {
		_ = b.Unload(Channel(ch))
	}
	return nil
}

// Stream implements beep.Streamer. It is called from the render thread only.
func (b *BeepBackend) Stream(samples [][2]float64) (int, bool) {
	for i := range samples {
		samples[i] = [2]float64{}
	}
	if b.closed.Load() {
		return 0, false
	}
	if b.paused.Load() {
		return len(samples), true
	}

	now := b.frames.Load()
	for i := range b.voices {
		b.voices[i].mix(samples, now, b.rate)
	}
	b.frames.Add(int64(len(samples)))
	return len(samples), true
}

// Err implements beep.Streamer.
func (b *BeepBackend) Err() error {
	return nil
}

func (v *voice) mix(samples [][2]float64, now int64, rate beep.SampleRate) {
	src := v.src.Load()
	if src == nil {
		return
	}

	if target := v.seekTo.Swap(-1); target >= 0 {
		srcFrame := int(float64(target) * float64(src.format.SampleRate) / float64(rate))
		if srcFrame > src.streamer.Len() {
			srcFrame = src.streamer.Len()
		}
		_ = src.streamer.Seek(srcFrame)
		v.pos.Store(target)
	}

	start := v.startFrame.Load()
	if start < 0 {
		return
	}
	offset := start - now
	if offset >= int64(len(samples)) {
		return
	}
	if offset < 0 {
		offset = 0
	}

	want := len(samples) - int(offset)
	if cap(v.buf) < want {
		v.buf = make([][2]float64, want)
	}
	buf := v.buf[:want]

	filled, wrapAt := 0, -1
	for filled < want {
		n, ok := src.out.Stream(buf[filled:])
		filled += n
		if ok && n > 0 {
			continue
		}
		if !v.loop.Load() {
			break
		}
		if err := src.streamer.Seek(0); err != nil || src.streamer.Len() == 0 {
			break
		}
		wrapAt = filled
	}

	gain := math.Float64frombits(v.gain.Load())
	out := samples[offset:]
	for i := 0; i < filled; i++ {
		out[i][0] += buf[i][0] * gain
		out[i][1] += buf[i][1] * gain
	}
	if wrapAt >= 0 {
		v.pos.Store(int64(filled - wrapAt))
		return
	}
	v.pos.Add(int64(filled))
}
