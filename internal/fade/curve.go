/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package fade maps crossfade progress to channel gains.
package fade

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Curve names a fade shape.
type Curve string

const (
	CurveLinear      Curve = "linear"
	CurveEqualPower  Curve = "equal_power"
	CurveLogarithmic Curve = "logarithmic" // fast start, slow end
	CurveExponential Curve = "exponential"
	CurveSCurve      Curve = "s_curve" // smoothstep, slow at both extremes
)

// DefaultAutoAdaptRatio caps a crossfade at this share of the incoming track's duration.
const DefaultAutoAdaptRatio = 0.4

const (
	minTickInterval = 10 * time.Millisecond // 100 Hz
	maxTickInterval = 50 * time.Millisecond // 20 Hz
	ticksPerFade    = 200
)

// Curves lists every supported curve.
func Curves() []Curve {
	return []Curve{CurveLinear, CurveEqualPower, CurveLogarithmic, CurveExponential, CurveSCurve}
}

// ParseCurve accepts the canonical names plus a few common spellings.
func ParseCurve(s string) (Curve, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "equal_power", "equalpower", "equal-power", "sin":
		return CurveEqualPower, nil
	case "linear", "lin":
		return CurveLinear, nil
	case "logarithmic", "log":
		return CurveLogarithmic, nil
	case "exponential", "exp":
		return CurveExponential, nil
	case "s_curve", "scurve", "s-curve", "smoothstep":
		return CurveSCurve, nil
	default:
		return "", fmt.Errorf("unknown fade curve %q", s)
	}
}

// Valid reports whether c is a supported curve.
func (c Curve) Valid() bool {
	for _, known := range Curves() {
		if c == known {
			return true
		}
	}
	return false
}

// Gains returns the outgoing and incoming channel gains at progress x.
// x is clamped to [0,1]. For every curve out(0)=1, out(1)=0, in(0)=0, in(1)=1.
func Gains(c Curve, x float64) (out, in float64) {
	x = clamp01(x)

	if c == CurveEqualPower {
		// sin²+cos²=1 keeps the summed power constant across the overlap.
		return clamp01(math.Cos(x * math.Pi / 2)), clamp01(math.Sin(x * math.Pi / 2))
	}

	return clamp01(shape(c, 1-x)), clamp01(shape(c, x))
}

// shape is the fade-in shape y(x) of a symmetric curve; the fade-out side uses y(1-x).
func shape(c Curve, x float64) float64 {
	switch c {
	case CurveLogarithmic:
		// log10 spans [-2, 0] over [0.01, 1]; shifted and halved into [0, 1].
		return (math.Log10(0.99*x+0.01) + 2) / 2
	case CurveExponential:
		return x * x
	case CurveSCurve:
		return x * x * (3 - 2*x)
	default:
		return x
	}
}

// EffectiveDuration applies the auto-adapt rule: min(configured, trackDuration*ratio).
// An unknown track duration leaves the configured value untouched.
func EffectiveDuration(configured, trackDuration time.Duration, ratio float64) time.Duration {
	if configured <= 0 {
		return 0
	}
	if trackDuration <= 0 {
		return configured
	}
	if ratio <= 0 {
		ratio = DefaultAutoAdaptRatio
	}
	limit := time.Duration(float64(trackDuration) * ratio)
	if limit < configured {
		return limit
	}
	return configured
}

// TickInterval picks the progress tick period for a fade of duration d:
// short fades tick at 100 Hz, long fades at 20 Hz.
func TickInterval(d time.Duration) time.Duration {
	interval := d / ticksPerFade
	if interval < minTickInterval {
		return minTickInterval
	}
	if interval > maxTickInterval {
		return maxTickInterval
	}
	return interval
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
