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
	"time"
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
	HTTPBind    string
	HTTPPort    int

	// Password is the single shared credential used for every backend call and
	// for the console API itself.
	Password string

	// Backends
	StreamTrackerURL string // liveness snapshot/push + room roster
	MusicControlURL  string
	ScheduleURL      string
	RTMPIngestBase   string // e.g. rtmp://rtmp.example.org/live/
	RoomsFile        string // optional YAML roster, overrides /api/outputs

	// Timing
	ReconnectDelay      time.Duration
	ScheduleRefresh     time.Duration
	VolumeDebounce      time.Duration
	PanelFitInterval    time.Duration
	ConfirmationTimeout time.Duration
	RequestTimeout      time.Duration

	// OBS scene and source naming
	PanelScene          string
	TechScene           string
	PanelSource         string
	FeedSource          string
	WatermarkSource     string
	CompressorFilter    string
	GainFilter          string
	TitleMusicSource    string
	StandbyFile         string
	NotStreamingMessage string

	// Audit store
	DBBackend DatabaseBackend
	DBDSN     string

	// Redis snapshot cache and relay (optional)
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// NATS relay (optional)
	NATSURL string

	MetricsBind string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"STAGEHAND_ENV", "CONSOLE_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"STAGEHAND_HTTP_BIND", "CONSOLE_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"STAGEHAND_HTTP_PORT", "CONSOLE_HTTP_PORT"}, 8080),
		Password:    getEnvAny([]string{"STAGEHAND_PASSWORD", "CONSOLE_PASSWORD"}, ""),

		StreamTrackerURL: strings.TrimRight(getEnvAny([]string{"STAGEHAND_STREAM_TRACKER_URL", "STREAM_TRACKER"}, ""), "/"),
		MusicControlURL:  strings.TrimRight(getEnvAny([]string{"STAGEHAND_MUSIC_CONTROL_URL", "MUSIC_CONTROL"}, ""), "/"),
		ScheduleURL:      getEnvAny([]string{"STAGEHAND_SCHEDULE_URL", "SCHEDULE_URL"}, ""),
		RTMPIngestBase:   getEnvAny([]string{"STAGEHAND_RTMP_INGEST_BASE"}, "rtmp://localhost/live/"),
		RoomsFile:        getEnvAny([]string{"STAGEHAND_ROOMS_FILE"}, ""),

		ReconnectDelay:      getEnvDurationAny([]string{"STAGEHAND_RECONNECT_DELAY"}, 10*time.Second),
		ScheduleRefresh:     getEnvDurationAny([]string{"STAGEHAND_SCHEDULE_REFRESH"}, 60*time.Second),
		VolumeDebounce:      getEnvDurationAny([]string{"STAGEHAND_VOLUME_DEBOUNCE"}, 500*time.Millisecond),
		PanelFitInterval:    getEnvDurationAny([]string{"STAGEHAND_PANEL_FIT_INTERVAL"}, time.Second),
		ConfirmationTimeout: getEnvDurationAny([]string{"STAGEHAND_CONFIRMATION_TIMEOUT"}, 2*time.Minute),
		RequestTimeout:      getEnvDurationAny([]string{"STAGEHAND_REQUEST_TIMEOUT"}, 10*time.Second),

		PanelScene:          getEnvAny([]string{"STAGEHAND_PANEL_SCENE"}, "Panel"),
		TechScene:           getEnvAny([]string{"STAGEHAND_TECH_SCENE"}, "Technician"),
		PanelSource:         getEnvAny([]string{"STAGEHAND_PANEL_SOURCE"}, "Panel stream"),
		FeedSource:          getEnvAny([]string{"STAGEHAND_FEED_SOURCE"}, "RTMP stream"),
		WatermarkSource:     getEnvAny([]string{"STAGEHAND_WATERMARK_SOURCE"}, "Watermark"),
		CompressorFilter:    getEnvAny([]string{"STAGEHAND_COMPRESSOR_FILTER"}, "Compressor"),
		GainFilter:          getEnvAny([]string{"STAGEHAND_GAIN_FILTER"}, "Gain"),
		TitleMusicSource:    getEnvAny([]string{"STAGEHAND_TITLE_MUSIC_SOURCE"}, "Title music"),
		StandbyFile:         getEnvAny([]string{"STAGEHAND_STANDBY_FILE"}, "standby.png"),
		NotStreamingMessage: getEnvAny([]string{"STAGEHAND_NOT_STREAMING_MESSAGE"}, "streaming not active"),

		DBBackend: DatabaseBackend(getEnvAny([]string{"STAGEHAND_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:     getEnvAny([]string{"STAGEHAND_DB_DSN"}, "stagehand.db"),

		RedisEnabled:  getEnvBoolAny([]string{"STAGEHAND_REDIS_ENABLED"}, false),
		RedisAddr:     getEnvAny([]string{"STAGEHAND_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword: getEnvAny([]string{"STAGEHAND_REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"STAGEHAND_REDIS_DB"}, 0),

		NATSURL: getEnvAny([]string{"STAGEHAND_NATS_URL"}, ""),

		MetricsBind: getEnvAny([]string{"STAGEHAND_METRICS_BIND"}, "127.0.0.1:9000"),

		TracingEnabled:    getEnvBoolAny([]string{"STAGEHAND_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"STAGEHAND_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"STAGEHAND_TRACING_SAMPLE_RATE"}, 1.0),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.Password == "" {
		return nil, fmt.Errorf("STAGEHAND_PASSWORD or CONSOLE_PASSWORD must be provided")
	}

	if cfg.StreamTrackerURL == "" {
		return nil, fmt.Errorf("STAGEHAND_STREAM_TRACKER_URL must be provided")
	}

	if cfg.ReconnectDelay <= 0 {
		return nil, fmt.Errorf("reconnect delay must be positive, got %s", cfg.ReconnectDelay)
	}

	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"CONSOLE_ENV":      "use STAGEHAND_ENV",
		"CONSOLE_PASSWORD": "use STAGEHAND_PASSWORD",
		"STREAM_TRACKER":   "use STAGEHAND_STREAM_TRACKER_URL",
		"MUSIC_CONTROL":    "use STAGEHAND_MUSIC_CONTROL_URL",
		"SCHEDULE_URL":     "use STAGEHAND_SCHEDULE_URL",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// MusicEnabled reports whether a music control backend is configured.
func (c *Config) MusicEnabled() bool {
	return c != nil && c.MusicControlURL != ""
}

// ScheduleEnabled reports whether a schedule feed is configured.
func (c *Config) ScheduleEnabled() bool {
	return c != nil && c.ScheduleURL != ""
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

// getEnvDurationAny accepts Go duration strings ("10s") or a bare number of milliseconds.
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		v := strings.TrimSpace(os.Getenv(k))
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}
