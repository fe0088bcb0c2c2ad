/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// EventBusBackend selects how events leave the process.
type EventBusBackend string

const (
	EventBusMemory EventBusBackend = "memory"
	EventBusRedis  EventBusBackend = "redis"
	EventBusNATS   EventBusBackend = "nats"
)

// Config covers process level configuration read from environment variables.
// Operator-tunable playout settings live in the settings table instead.
type Config struct {
	Environment string
	DBBackend   DatabaseBackend
	DBDSN       string

	// Filesystem layout shared with the encoder filter graph
	MediaRoot   string
	OverlayDir  string
	HLSDir      string
	EngineDir   string
	LogoPath    string
	FontBold    string
	FontRegular string

	FFmpegBin string
	YTDLPBin  string

	// Ops listener (health, metrics, live stats)
	OpsBind string

	// Event fan-out
	EventBus      EventBusBackend
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string
	InstanceID    string

	// Hot standby: only the Redis lease holder plays out
	LeaderElection bool
	LeaderKey      string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// S3 media (tracks whose path is s3://bucket/key)
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3UsePathStyle    bool
	MediaCacheDir     string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"GRIMNIR_TV_ENV", "TV_ENV"}, "development"),
		DBBackend:   DatabaseBackend(getEnvAny([]string{"GRIMNIR_TV_DB_BACKEND", "TV_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:       getEnvAny([]string{"GRIMNIR_TV_DB_DSN", "TV_DB_DSN"}, "./db/panel.sqlite"),

		MediaRoot:   getEnvAny([]string{"GRIMNIR_TV_MEDIA_ROOT", "MEDIA_ROOT"}, "./media"),
		OverlayDir:  getEnvAny([]string{"GRIMNIR_TV_OVERLAY_DIR", "TV_OVERLAY_DIR"}, "overlay"),
		HLSDir:      getEnvAny([]string{"GRIMNIR_TV_HLS_DIR", "TV_HLS_DIR"}, "public/hls"),
		EngineDir:   getEnvAny([]string{"GRIMNIR_TV_ENGINE_DIR", "TV_ENGINE_DIR"}, "engine"),
		LogoPath:    getEnvAny([]string{"GRIMNIR_TV_LOGO_PATH", "TV_LOGO_PATH"}, "logo.png"),
		FontBold:    getEnvAny([]string{"GRIMNIR_TV_FONT_BOLD"}, "/usr/share/fonts/truetype/dejavu/DejaVuSans-Bold.ttf"),
		FontRegular: getEnvAny([]string{"GRIMNIR_TV_FONT_REGULAR"}, "/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf"),

		FFmpegBin: getEnvAny([]string{"GRIMNIR_TV_FFMPEG_BIN", "FFMPEG_BIN"}, "ffmpeg"),
		YTDLPBin:  getEnvAny([]string{"GRIMNIR_TV_YTDLP_BIN", "YTDLP_BIN"}, "yt-dlp"),

		OpsBind: getEnvAny([]string{"GRIMNIR_TV_OPS_BIND", "TV_OPS_BIND"}, "127.0.0.1:9100"),

		EventBus:      EventBusBackend(getEnvAny([]string{"GRIMNIR_TV_EVENT_BUS", "TV_EVENT_BUS"}, string(EventBusMemory))),
		RedisAddr:     getEnvAny([]string{"GRIMNIR_TV_REDIS_ADDR", "REDIS_ADDR"}, "localhost:6379"),
		RedisPassword: getEnvAny([]string{"GRIMNIR_TV_REDIS_PASSWORD", "REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"GRIMNIR_TV_REDIS_DB", "REDIS_DB"}, 0),
		NATSURL:       getEnvAny([]string{"GRIMNIR_TV_NATS_URL", "NATS_URL"}, "nats://localhost:4222"),
		InstanceID:    getEnvAny([]string{"GRIMNIR_TV_INSTANCE_ID", "TV_INSTANCE_ID"}, ""),

		LeaderElection: getEnvBoolAny([]string{"GRIMNIR_TV_LEADER_ELECTION", "TV_LEADER_ELECTION"}, false),
		LeaderKey:      getEnvAny([]string{"GRIMNIR_TV_LEADER_KEY", "TV_LEADER_KEY"}, "grimnir:tv:leader"),

		TracingEnabled:    getEnvBoolAny([]string{"GRIMNIR_TV_TRACING_ENABLED", "TV_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"GRIMNIR_TV_OTLP_ENDPOINT", "TV_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"GRIMNIR_TV_TRACING_SAMPLE_RATE", "TV_TRACING_SAMPLE_RATE"}, 1.0),

		S3Region:          getEnvAny([]string{"GRIMNIR_TV_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Endpoint:        getEnvAny([]string{"GRIMNIR_TV_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3AccessKeyID:     getEnvAny([]string{"GRIMNIR_TV_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"GRIMNIR_TV_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"GRIMNIR_TV_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),
		MediaCacheDir:     getEnvAny([]string{"GRIMNIR_TV_MEDIA_CACHE_DIR", "TV_MEDIA_CACHE_DIR"}, "engine/cache"),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("GRIMNIR_TV_DB_DSN or TV_DB_DSN must be provided")
	}

	switch cfg.EventBus {
	case EventBusMemory, EventBusRedis, EventBusNATS:
	default:
		return nil, fmt.Errorf("unsupported event bus backend %q", cfg.EventBus)
	}

	if cfg.TracingSampleRate < 0 || cfg.TracingSampleRate > 1 {
		return nil, fmt.Errorf("tracing sample rate must be within [0,1], got %v", cfg.TracingSampleRate)
	}

	if strings.EqualFold(cfg.Environment, "production") && cfg.DBBackend == DatabaseSQLite && cfg.DBDSN == ":memory:" {
		return nil, fmt.Errorf("in-memory sqlite cannot be used in production")
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"PORT":           "the HTTP panel is not served by this process; use GRIMNIR_TV_OPS_BIND for the ops listener",
		"SESSION_SECRET": "authentication is not handled by the playout service",
		"ADMIN_PASSWORD": "authentication is not handled by the playout service",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
