/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package fade

import (
	"math"
	"testing"
	"time"
)

const epsilon = 1e-9

func TestGains_Endpoints(t *testing.T) {
	for _, c := range Curves() {
		t.Run(string(c), func(t *testing.T) {
			out0, in0 := Gains(c, 0)
			out1, in1 := Gains(c, 1)

			if math.Abs(out0-1) > epsilon {
				t.Errorf("out(0) = %v, want 1", out0)
			}
			if math.Abs(in0) > epsilon {
				t.Errorf("in(0) = %v, want 0", in0)
			}
			if math.Abs(out1) > epsilon {
				t.Errorf("out(1) = %v, want 0", out1)
			}
			if math.Abs(in1-1) > epsilon {
				t.Errorf("in(1) = %v, want 1", in1)
			}
		})
	}
}

func TestGains_EqualPowerKeepsConstantPower(t *testing.T) {
	for i := 0; i <= 1000; i++ {
		x := float64(i) / 1000
		out, in := Gains(CurveEqualPower, x)
		if sum := out*out + in*in; math.Abs(sum-1) > epsilon {
			t.Fatalf("out²+in² at x=%v = %v, want 1", x, sum)
		}
	}
}

func TestGains_StayInUnitRangeAndMonotonic(t *testing.T) {
	for _, c := range Curves() {
		prevOut, prevIn := 1.0, 0.0
		for i := 0; i <= 200; i++ {
			out, in := Gains(c, float64(i)/200)
			if out < 0 || out > 1 || in < 0 || in > 1 {
				t.Fatalf("%s: gains out of range at step %d: (%v, %v)", c, i, out, in)
			}
			if out > prevOut+epsilon || in < prevIn-epsilon {
				t.Fatalf("%s: gains not monotonic at step %d", c, i)
			}
			prevOut, prevIn = out, in
		}
	}
}

func TestGains_ClampsProgress(t *testing.T) {
	out, in := Gains(CurveLinear, -0.5)
	if out != 1 || in != 0 {
		t.Errorf("Gains(-0.5) = (%v, %v), want (1, 0)", out, in)
	}
	out, in = Gains(CurveLinear, 1.5)
	if out != 0 || in != 1 {
		t.Errorf("Gains(1.5) = (%v, %v), want (0, 1)", out, in)
	}
}

func TestGains_CurveShapes(t *testing.T) {
	tests := []struct {
		curve  Curve
		x      float64
		wantIn float64
	}{
		{CurveLinear, 0.25, 0.25},
		{CurveExponential, 0.5, 0.25},
		{CurveSCurve, 0.5, 0.5},
		{CurveSCurve, 0.25, 0.15625},
		{CurveEqualPower, 0.5, math.Sin(math.Pi / 4)},
	}

	for _, tt := range tests {
		_, in := Gains(tt.curve, tt.x)
		if math.Abs(in-tt.wantIn) > 1e-6 {
			t.Errorf("%s in(%v) = %v, want %v", tt.curve, tt.x, in, tt.wantIn)
		}
	}

	// Logarithmic rises faster than linear early on.
	_, logIn := Gains(CurveLogarithmic, 0.1)
	if logIn <= 0.1 {
		t.Errorf("logarithmic in(0.1) = %v, want > 0.1", logIn)
	}
}

func TestParseCurve(t *testing.T) {
	tests := []struct {
		in      string
		want    Curve
		wantErr bool
	}{
		{"linear", CurveLinear, false},
		{"EqualPower", CurveEqualPower, false},
		{"", CurveEqualPower, false},
		{"log", CurveLogarithmic, false},
		{"exp", CurveExponential, false},
		{"smoothstep", CurveSCurve, false},
		{"bogus", "", true},
	}

	for _, tt := range tests {
		got, err := ParseCurve(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCurve(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseCurve(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEffectiveDuration(t *testing.T) {
	tests := []struct {
		name       string
		configured time.Duration
		track      time.Duration
		want       time.Duration
	}{
		{"long track keeps configured", 5 * time.Second, 5 * time.Minute, 5 * time.Second},
		{"short track caps at 40%", 10 * time.Second, 10 * time.Second, 4 * time.Second},
		{"exact boundary", 4 * time.Second, 10 * time.Second, 4 * time.Second},
		{"unknown duration", 6 * time.Second, 0, 6 * time.Second},
		{"disabled", 0, time.Minute, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EffectiveDuration(tt.configured, tt.track, DefaultAutoAdaptRatio)
			if got != tt.want {
				t.Errorf("EffectiveDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTickInterval(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want time.Duration
	}{
		{500 * time.Millisecond, 10 * time.Millisecond},
		{4 * time.Second, 20 * time.Millisecond},
		{30 * time.Second, 50 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := TickInterval(tt.d); got != tt.want {
			t.Errorf("TickInterval(%v) = %v, want %v", tt.d, got, tt.want)
		}
	}
}
