/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"os"
	"testing"
	"time"

	"github.com/friendsincode/nocturne/internal/crossfade"
	"github.com/friendsincode/nocturne/internal/fade"
	"github.com/friendsincode/nocturne/internal/playlist"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.CrossfadeDuration != 8*time.Second || cfg.CrossfadeCurve != fade.CurveEqualPower {
		t.Errorf("crossfade = %v/%s, want 8s/equal_power", cfg.CrossfadeDuration, cfg.CrossfadeCurve)
	}
	if cfg.AutoAdaptRatio != 0.4 || cfg.MaxSkipAttempts != 3 || cfg.QueueDepth != 3 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.ResumePolicy != crossfade.ResumeContinue {
		t.Errorf("ResumePolicy = %s, want continue", cfg.ResumePolicy)
	}
	if cfg.RollbackFadeDuration != 300*time.Millisecond {
		t.Errorf("RollbackFadeDuration = %v, want 300ms", cfg.RollbackFadeDuration)
	}
	if !cfg.Strict {
		t.Error("development environment should be strict")
	}
	if cfg.DBBackend != DatabaseSQLite {
		t.Errorf("DBBackend = %s, want sqlite", cfg.DBBackend)
	}
}

func TestLoadReadsEnvKeys(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("NOCTURNE_ENV", "production")
	t.Setenv("NOCTURNE_CROSSFADE_DURATION", "12s")
	t.Setenv("NOCTURNE_CROSSFADE_CURVE", "s_curve")
	t.Setenv("NOCTURNE_RESUME_POLICY", "quick_finish")
	t.Setenv("NOCTURNE_REPEAT_MODE", "playlist")
	t.Setenv("NOCTURNE_REPEAT_COUNT", "2")
	t.Setenv("NOCTURNE_LOAD_TIMEOUT", "3")
	t.Setenv("NOCTURNE_HTTP_PORT", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Strict {
		t.Error("production should not be strict by default")
	}
	if cfg.CrossfadeDuration != 12*time.Second || cfg.CrossfadeCurve != fade.CurveSCurve {
		t.Errorf("crossfade = %v/%s", cfg.CrossfadeDuration, cfg.CrossfadeCurve)
	}
	if cfg.ResumePolicy != crossfade.ResumeQuickFinish {
		t.Errorf("ResumePolicy = %s", cfg.ResumePolicy)
	}
	if cfg.RepeatMode != playlist.RepeatPlaylist || cfg.RepeatCount != 2 {
		t.Errorf("repeat = %s/%d", cfg.RepeatMode, cfg.RepeatCount)
	}
	if cfg.LoadTimeout != 3*time.Second {
		t.Errorf("LoadTimeout = %v, want bare integer read as seconds", cfg.LoadTimeout)
	}
	if cfg.HTTPAddr() != "" {
		t.Errorf("HTTPAddr() = %q, want disabled", cfg.HTTPAddr())
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(".env", []byte("NOCTURNE_OVERLAY_GAIN=0.15\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("NOCTURNE_OVERLAY_GAIN", "")
	os.Unsetenv("NOCTURNE_OVERLAY_GAIN")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.OverlayGain != 0.15 {
		t.Errorf("OverlayGain = %v, want 0.15 from .env", cfg.OverlayGain)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"curve", "NOCTURNE_CROSSFADE_CURVE", "wobbly"},
		{"policy", "NOCTURNE_RESUME_POLICY", "later"},
		{"repeat", "NOCTURNE_REPEAT_MODE", "sometimes"},
		{"ratio", "NOCTURNE_AUTO_ADAPT_RATIO", "1.5"},
		{"attempts", "NOCTURNE_MAX_SKIP_ATTEMPTS", "0"},
		{"db", "NOCTURNE_DB_BACKEND", "oracle"},
		{"overlay", "NOCTURNE_OVERLAY_GAIN", "2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load() with %s=%s expected error", tt.key, tt.value)
			}
		})
	}
}
