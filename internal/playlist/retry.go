/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playlist

// SkipOutcome explains how a SkipWithRetry call ended.
type SkipOutcome int

const (
	// SkipFound means a track validated and the position now points at it.
	SkipFound SkipOutcome = iota
	// SkipEndReached means the playlist ran out (repeat off or repeat limit).
	SkipEndReached
	// SkipAttemptsExhausted means every attempted track failed validation.
	SkipAttemptsExhausted
)

func (o SkipOutcome) String() string {
	switch o {
	case SkipFound:
		return "found"
	case SkipEndReached:
		return "end_reached"
	case SkipAttemptsExhausted:
		return "attempts_exhausted"
	default:
		return "unknown"
	}
}

// SkippedTrack is a track passed over because it failed validation.
type SkippedTrack struct {
	Index int
	Track Track
	Err   error
}

// SkipResult reports a SkipWithRetry run.
type SkipResult struct {
	Outcome  SkipOutcome
	Track    Track
	Step     Step
	Skipped  []SkippedTrack
	Attempts int
}

// Found reports whether a playable track was selected.
func (r SkipResult) Found() bool {
	return r.Outcome == SkipFound
}

// SkipWithRetry commits in dir and validates the landing track, continuing past
// tracks that fail validation. When no valid track is found within maxAttempts
// (or the playlist ends), every failed step is rolled back so the position is
// never left on an unplayable track.
//
// validate runs without the sequencer lock held; it may perform I/O.
func (s *Sequencer) SkipWithRetry(dir Direction, validate func(Track) error, maxAttempts int) SkipResult {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var (
		result SkipResult
		failed []Step
	)

	for result.Attempts < maxAttempts {
		track, step, ok := s.Commit(dir)
		if !ok {
			// The exhausting step carries no index change; its cycle increment stays.
			s.rollbackAll(failed)
			result.Outcome = SkipEndReached
			return result
		}

		result.Attempts++
		err := validate(track)
		if err == nil {
			result.Outcome = SkipFound
			result.Track = track
			result.Step = collapse(failed, step)
			return result
		}

		s.logger.Warn().
			Err(err).
			Str("track", track.String()).
			Int("index", step.Index).
			Int("attempt", result.Attempts).
			Msg("track failed validation, skipping")

		result.Skipped = append(result.Skipped, SkippedTrack{Index: step.Index, Track: track, Err: err})
		failed = append(failed, step)
	}

	s.rollbackAll(failed)
	result.Outcome = SkipAttemptsExhausted
	return result
}

func (s *Sequencer) rollbackAll(steps []Step) {
	for i := len(steps) - 1; i >= 0; i-- {
		s.Rollback(steps[i])
	}
}

// collapse folds the failed steps and the final one into a single step whose
// rollback restores the position from before the whole skip.
func collapse(failed []Step, last Step) Step {
	if len(failed) == 0 {
		return last
	}
	out := last
	out.PriorIndex = failed[0].PriorIndex
	for _, st := range failed {
		out.Cycles += st.Cycles
	}
	return out
}
