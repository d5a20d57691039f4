/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultSampleRate is the render rate used when none is configured.
const DefaultSampleRate = 48000

var (
	errSimulatedMissing = errors.New("file does not exist")
	errSimulatedCorrupt = errors.New("unsupported or damaged audio data")
)

// MemoryBackend simulates playback against a clock without producing sound.
// It backs the dry-run mode and the orchestration tests: registered files
// never touch the disk and failures can be injected per path.
type MemoryBackend struct {
	clock      clock.Clock
	sampleRate int
	probe      func(string) (Format, time.Duration, error)

	mu       sync.Mutex
	channels [3]memChannel
	files    map[string]time.Duration
	failures map[string]ErrorKind
	hangs    map[string]bool
	loads    map[string]int

	// Render clock bookkeeping: frames rendered before the last resume plus
	// the wall time of that resume.
	renderedFrames int64
	resumedAt      time.Time
	paused         bool
}

type memChannel struct {
	handle     *DecodedHandle
	gain       float64
	loop       bool
	scheduled  bool
	startFrame int64
	offset     time.Duration
}

// MemoryOption configures a MemoryBackend.
type MemoryOption func(*MemoryBackend)

// WithSampleRate sets the simulated render rate.
func WithSampleRate(rate int) MemoryOption {
	return func(m *MemoryBackend) {
		if rate > 0 {
			m.sampleRate = rate
		}
	}
}

// WithProbe resolves unregistered paths through probe, typically Probe, so a
// dry run can validate a real playlist.
func WithProbe(probe func(string) (Format, time.Duration, error)) MemoryOption {
	return func(m *MemoryBackend) {
		m.probe = probe
	}
}

// NewMemoryBackend creates a simulated backend driven by clk.
func NewMemoryBackend(clk clock.Clock, opts ...MemoryOption) *MemoryBackend {
	if clk == nil {
		clk = clock.New()
	}
	m := &MemoryBackend{
		clock:      clk,
		sampleRate: DefaultSampleRate,
		files:      make(map[string]time.Duration),
		failures:   make(map[string]ErrorKind),
		hangs:      make(map[string]bool),
		loads:      make(map[string]int),
		resumedAt:  clk.Now(),
	}
	for i := range m.channels {
		m.channels[i].gain = 1
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddFile registers a loadable file of the given duration.
func (m *MemoryBackend) AddFile(path string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = duration
	delete(m.failures, path)
}

// FailFile makes every load of path fail with kind. KindTimeout makes the
// load block until its context ends.
func (m *MemoryBackend) FailFile(path string, kind ErrorKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if kind == KindTimeout {
		m.hangs[path] = true
		return
	}
	m.failures[path] = kind
}

// LoadCount reports how many times path was loaded successfully.
func (m *MemoryBackend) LoadCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads[path]
}

// Gain reports the current gain of ch.
func (m *MemoryBackend) Gain(ch Channel) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !ch.valid() {
		return 0
	}
	return m.channels[ch].gain
}

// Loaded reports the path loaded on ch, or "".
func (m *MemoryBackend) Loaded(ch Channel) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !ch.valid() || m.channels[ch].handle == nil {
		return ""
	}
	return m.channels[ch].handle.Path
}

// Playing reports whether ch is loaded and its scheduled start has passed.
func (m *MemoryBackend) Playing(ch Channel) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !ch.valid() {
		return false
	}
	c := &m.channels[ch]
	return c.handle != nil && c.scheduled && m.framesLocked() >= c.startFrame
}

func (m *MemoryBackend) LoadFile(ctx context.Context, ch Channel, path string) (DecodedHandle, error) {
	if !ch.valid() {
		return DecodedHandle{}, ErrUnknownChannel
	}

	m.mu.Lock()
	hang := m.hangs[path]
	kind, failing := m.failures[path]
	duration, known := m.files[path]
	probe := m.probe
	m.mu.Unlock()

	if hang {
		<-ctx.Done()
		return DecodedHandle{}, &DecodeError{Kind: KindTimeout, Path: path, Err: ctx.Err()}
	}
	if err := ctx.Err(); err != nil {
		return DecodedHandle{}, &DecodeError{Kind: KindTimeout, Path: path, Err: err}
	}

	handle := DecodedHandle{
		Path:     path,
		Format:   Format{SampleRate: m.sampleRate, Channels: 2, BitDepth: 16},
		Duration: duration,
	}
	switch {
	case failing && kind == KindNotFound:
		return DecodedHandle{}, &DecodeError{Kind: kind, Path: path, Err: errSimulatedMissing}
	case failing:
		return DecodedHandle{}, &DecodeError{Kind: kind, Path: path, Err: errSimulatedCorrupt}
	case !known && probe != nil:
		format, d, err := probe(path)
		if err != nil {
			return DecodedHandle{}, Classify(path, err)
		}
		handle.Format = format
		handle.Duration = d
	case !known:
		return DecodedHandle{}, &DecodeError{Kind: KindNotFound, Path: path, Err: errSimulatedMissing}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	c := &m.channels[ch]
	c.handle = &handle
	c.scheduled = false
	c.startFrame = 0
	c.offset = 0
	m.loads[path]++
	return handle, nil
}

func (m *MemoryBackend) Unload(ch Channel) error {
	if !ch.valid() {
		return ErrUnknownChannel
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	gain := m.channels[ch].gain
	m.channels[ch] = memChannel{gain: gain}
	return nil
}

func (m *MemoryBackend) SetChannelGain(ch Channel, gain float64) error {
	if !ch.valid() {
		return ErrUnknownChannel
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch].gain = clampGain(gain)
	return nil
}

func (m *MemoryBackend) Position(ch Channel) (time.Duration, error) {
	if !ch.valid() {
		return 0, ErrUnknownChannel
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &m.channels[ch]
	if c.handle == nil {
		return 0, ErrNotLoaded
	}
	return m.positionLocked(c), nil
}

func (m *MemoryBackend) Seek(ch Channel, pos time.Duration) error {
	if !ch.valid() {
		return ErrUnknownChannel
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &m.channels[ch]
	if c.handle == nil {
		return ErrNotLoaded
	}
	if pos < 0 {
		pos = 0
	}
	if c.handle.Duration > 0 && pos > c.handle.Duration {
		pos = c.handle.Duration
	}
	now := m.framesLocked()
	if c.scheduled && c.startFrame < now {
		c.startFrame = now
	}
	c.offset = pos
	return nil
}

func (m *MemoryBackend) SetLoop(ch Channel, loop bool) error {
	if !ch.valid() {
		return ErrUnknownChannel
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch].loop = loop
	return nil
}

func (m *MemoryBackend) Clock() ClockReference {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ClockReference(m.framesLocked())
}

func (m *MemoryBackend) ScheduleStart(ch Channel, at ClockReference) error {
	if !ch.valid() {
		return ErrUnknownChannel
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &m.channels[ch]
	if c.handle == nil {
		return ErrNotLoaded
	}
	start := int64(at)
	if now := m.framesLocked(); start < now {
		start = now
	}
	c.scheduled = true
	c.startFrame = start
	return nil
}

func (m *MemoryBackend) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paused {
		return nil
	}
	m.renderedFrames = m.framesLocked()
	m.paused = true
	return nil
}

func (m *MemoryBackend) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.paused {
		return nil
	}
	m.resumedAt = m.clock.Now()
	m.paused = false
	return nil
}

// Paused reports whether rendering is halted.
func (m *MemoryBackend) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.channels {
		m.channels[i] = memChannel{gain: 1}
	}
	return nil
}

// String summarizes the channel states for dry-run output.
func (m *MemoryBackend) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := ""
	for i := range m.channels {
		c := &m.channels[i]
		path := "-"
		if c.handle != nil {
			path = c.handle.Path
		}
		out += fmt.Sprintf("%s[%s gain=%.2f pos=%s] ", Channel(i), path, c.gain, m.positionLocked(c).Truncate(time.Millisecond))
	}
	return out
}

func (m *MemoryBackend) framesLocked() int64 {
	if m.paused {
		return m.renderedFrames
	}
	elapsed := m.clock.Since(m.resumedAt)
	return m.renderedFrames + int64(elapsed.Seconds()*float64(m.sampleRate))
}

func (m *MemoryBackend) positionLocked(c *memChannel) time.Duration {
	if c.handle == nil {
		return 0
	}
	pos := c.offset
	if c.scheduled {
		if played := m.framesLocked() - c.startFrame; played > 0 {
			pos += time.Duration(played) * time.Second / time.Duration(m.sampleRate)
		}
	}
	d := c.handle.Duration
	switch {
	case d <= 0:
		return pos
	case c.loop:
		return pos % d
	case pos > d:
		return d
	}
	return pos
}

func clampGain(g float64) float64 {
	if g < 0 {
		return 0
	}
	if g > 1 {
		return 1
	}
	return g
}
