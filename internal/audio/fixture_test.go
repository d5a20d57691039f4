/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audio

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// writeWAV writes a 16-bit stereo file holding a constant sample value.
func writeWAV(t *testing.T, dir, name string, rate int, length time.Duration, value int) string {
	t.Helper()

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	defer f.Close()

	frames := int(length.Seconds() * float64(rate))
	data := make([]int, frames*2)
	for i := range data {
		data[i] = value
	}

	enc := wav.NewEncoder(f, rate, 16, 2, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 2, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode %s: %v", name, err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder %s: %v", name, err)
	}
	return path
}

func writeGarbage(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("definitely not a RIFF header"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}
