/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audio

import (
	"errors"
	"os"
	"time"

	"github.com/go-audio/wav"
)

var errInvalidWAV = errors.New("not a valid WAV file")

// Probe reads the header of a WAV file and reports its format and duration
// without decoding the sample data.
func Probe(path string) (Format, time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return Format{}, 0, Classify(path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Format{}, 0, &DecodeError{Kind: KindCorruptFormat, Path: path, Err: errInvalidWAV}
	}

	duration, err := dec.Duration()
	if err != nil {
		return Format{}, 0, &DecodeError{Kind: KindCorruptFormat, Path: path, Err: err}
	}

	format := Format{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	return format, duration, nil
}
