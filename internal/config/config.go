/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/friendsincode/nocturne/internal/crossfade"
	"github.com/friendsincode/nocturne/internal/fade"
	"github.com/friendsincode/nocturne/internal/playlist"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	// Strict makes coordinator invariant violations panic instead of being repaired.
	Strict bool

	// Crossfade behavior
	CrossfadeDuration    time.Duration
	CrossfadeCurve       fade.Curve
	AutoAdaptRatio       float64
	ResumePolicy         crossfade.ResumePolicy
	QuickFinishDuration  time.Duration
	QuickFinishThreshold float64
	RollbackFadeDuration time.Duration

	// Track loading and control queue
	LoadTimeout     time.Duration
	MaxSkipAttempts int
	QueueDepth      int

	// Default repeat settings; a playlist file may override them.
	RepeatMode  playlist.RepeatMode
	RepeatCount int

	// Audio output
	SampleRate  int
	BufferSize  time.Duration
	OverlayGain float64
	OverlayFade time.Duration

	// Session persistence
	DBBackend       DatabaseBackend
	DBDSN           string
	PersistInterval time.Duration

	// Event fan-out to other processes
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string
	EventsChannel string
	InstanceID    string

	// Control API; HTTPPort 0 disables it
	HTTPBind string
	HTTPPort int

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Rotating log file; empty logs to the console only
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
}

// Load reads an optional .env file and the environment, applies defaults, and
// validates the result. Variables already set win over the .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := getEnv("NOCTURNE_ENV", "development")
	cfg := &Config{
		Environment: env,
		Strict:      getEnvBool("NOCTURNE_STRICT", strings.EqualFold(env, "development")),

		CrossfadeDuration:    getEnvDuration("NOCTURNE_CROSSFADE_DURATION", 8*time.Second),
		AutoAdaptRatio:       getEnvFloat("NOCTURNE_AUTO_ADAPT_RATIO", fade.DefaultAutoAdaptRatio),
		QuickFinishDuration:  getEnvDuration("NOCTURNE_QUICK_FINISH_DURATION", time.Second),
		QuickFinishThreshold: getEnvFloat("NOCTURNE_QUICK_FINISH_THRESHOLD", 0.5),
		RollbackFadeDuration: getEnvDuration("NOCTURNE_ROLLBACK_FADE_DURATION", 300*time.Millisecond),

		LoadTimeout:     getEnvDuration("NOCTURNE_LOAD_TIMEOUT", 5*time.Second),
		MaxSkipAttempts: getEnvInt("NOCTURNE_MAX_SKIP_ATTEMPTS", 3),
		QueueDepth:      getEnvInt("NOCTURNE_QUEUE_DEPTH", 3),

		RepeatCount: getEnvInt("NOCTURNE_REPEAT_COUNT", 0),

		SampleRate:  getEnvInt("NOCTURNE_SAMPLE_RATE", 48000),
		BufferSize:  getEnvDuration("NOCTURNE_BUFFER_SIZE", 100*time.Millisecond),
		OverlayGain: getEnvFloat("NOCTURNE_OVERLAY_GAIN", 0.3),
		OverlayFade: getEnvDuration("NOCTURNE_OVERLAY_FADE", 2*time.Second),

		DBBackend:       DatabaseBackend(getEnv("NOCTURNE_DB_BACKEND", string(DatabaseSQLite))),
		DBDSN:           getEnv("NOCTURNE_DB_DSN", "nocturne.db"),
		PersistInterval: getEnvDuration("NOCTURNE_PERSIST_INTERVAL", 10*time.Second),

		RedisAddr:     getEnv("NOCTURNE_REDIS_ADDR", ""),
		RedisPassword: getEnv("NOCTURNE_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("NOCTURNE_REDIS_DB", 0),
		NATSURL:       getEnv("NOCTURNE_NATS_URL", ""),
		EventsChannel: getEnv("NOCTURNE_EVENTS_CHANNEL", "nocturne.events"),
		InstanceID:    getEnv("NOCTURNE_INSTANCE_ID", ""),

		HTTPBind: getEnv("NOCTURNE_HTTP_BIND", "127.0.0.1"),
		HTTPPort: getEnvInt("NOCTURNE_HTTP_PORT", 8686),

		TracingEnabled:    getEnvBool("NOCTURNE_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("NOCTURNE_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("NOCTURNE_TRACING_SAMPLE_RATE", 1.0),

		LogFile:       getEnv("NOCTURNE_LOG_FILE", ""),
		LogMaxSizeMB:  getEnvInt("NOCTURNE_LOG_MAX_SIZE_MB", 50),
		LogMaxBackups: getEnvInt("NOCTURNE_LOG_MAX_BACKUPS", 3),
	}

	var err error
	if cfg.CrossfadeCurve, err = fade.ParseCurve(getEnv("NOCTURNE_CROSSFADE_CURVE", string(fade.CurveEqualPower))); err != nil {
		return nil, err
	}
	if cfg.ResumePolicy, err = crossfade.ParseResumePolicy(getEnv("NOCTURNE_RESUME_POLICY", string(crossfade.ResumeContinue))); err != nil {
		return nil, err
	}
	if cfg.RepeatMode, err = playlist.ParseRepeatMode(getEnv("NOCTURNE_REPEAT_MODE", "off")); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and cross-field rules.
func (c *Config) Validate() error {
	switch c.DBBackend {
	case DatabasePostgres, DatabaseMySQL, DatabaseSQLite:
	default:
		return fmt.Errorf("unsupported database backend %q", c.DBBackend)
	}
	if c.DBBackend != DatabaseSQLite && c.DBDSN == "" {
		return fmt.Errorf("NOCTURNE_DB_DSN must be provided for %s", c.DBBackend)
	}
	if c.CrossfadeDuration < 0 {
		return fmt.Errorf("NOCTURNE_CROSSFADE_DURATION must not be negative")
	}
	if c.AutoAdaptRatio <= 0 || c.AutoAdaptRatio > 1 {
		return fmt.Errorf("NOCTURNE_AUTO_ADAPT_RATIO must be in (0, 1], got %v", c.AutoAdaptRatio)
	}
	if c.QuickFinishThreshold <= 0 || c.QuickFinishThreshold > 1 {
		return fmt.Errorf("NOCTURNE_QUICK_FINISH_THRESHOLD must be in (0, 1], got %v", c.QuickFinishThreshold)
	}
	if c.MaxSkipAttempts < 1 {
		return fmt.Errorf("NOCTURNE_MAX_SKIP_ATTEMPTS must be at least 1")
	}
	if c.QueueDepth < 1 {
		return fmt.Errorf("NOCTURNE_QUEUE_DEPTH must be at least 1")
	}
	if c.RepeatCount < 0 {
		return fmt.Errorf("NOCTURNE_REPEAT_COUNT must not be negative")
	}
	if c.SampleRate < 8000 {
		return fmt.Errorf("NOCTURNE_SAMPLE_RATE %d is too low", c.SampleRate)
	}
	if c.OverlayGain < 0 || c.OverlayGain > 1 {
		return fmt.Errorf("NOCTURNE_OVERLAY_GAIN must be in [0, 1], got %v", c.OverlayGain)
	}
	if c.LoadTimeout <= 0 {
		return fmt.Errorf("NOCTURNE_LOAD_TIMEOUT must be positive")
	}
	return nil
}

// HTTPAddr returns the control API listen address, or "" when disabled.
func (c *Config) HTTPAddr() string {
	if c.HTTPPort <= 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "true" || v == "1" || v == "yes" {
			return true
		}
		if v == "false" || v == "0" || v == "no" {
			return false
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}

// getEnvDuration accepts Go duration strings and bare integers as seconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}
