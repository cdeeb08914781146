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

// Event broker selection for cross-instance event fan-out.
type EventBroker string

const (
	BrokerNone  EventBroker = "none"
	BrokerNATS  EventBroker = "nats"
	BrokerRedis EventBroker = "redis"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	StaticDir   string // Built web player, served at / when present
	CORSOrigins []string

	// Notion
	NotionSecret    string
	NotionBaseURL   string
	NotionRateLimit float64 // requests per second
	Databases       Databases
	DatabasesFile   string

	// Catalog cache
	CacheTTL       time.Duration
	RedisEnabled   bool
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	APIRateLimit   int // requests per minute per IP, 0 disables
	PlayerIdleTTL  time.Duration
	PreloadWindow  int
	MaxPooledAudio int

	// Event fan-out
	EventBroker EventBroker
	NATSURL     string
	InstanceID  string

	// S3 audio mirror
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Prefix          string
	S3Endpoint        string // For S3-compatible services (MinIO, R2, ...)
	S3PublicBaseURL   string
	S3UsePathStyle    bool

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"PALM_ENV", "NODE_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"PALM_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"PALM_HTTP_PORT", "PORT"}, 3001),
		StaticDir:   getEnvAny([]string{"PALM_STATIC_DIR"}, "./dist"),
		CORSOrigins: splitList(getEnvAny([]string{"PALM_CORS_ORIGINS"}, "*")),

		NotionSecret:    getEnvAny([]string{"PALM_NOTION_SECRET", "GARAM_NOTION_SECRET"}, ""),
		NotionBaseURL:   getEnvAny([]string{"PALM_NOTION_BASE_URL"}, "https://api.notion.com/v1"),
		NotionRateLimit: getEnvFloatAny([]string{"PALM_NOTION_RATE_LIMIT"}, 3),
		DatabasesFile:   getEnvAny([]string{"PALM_DATABASES_FILE"}, ""),

		CacheTTL:       getEnvDurationAny([]string{"PALM_CACHE_TTL"}, 5*time.Minute),
		RedisEnabled:   getEnvBoolAny([]string{"PALM_REDIS_ENABLED"}, false),
		RedisAddr:      getEnvAny([]string{"PALM_REDIS_ADDR", "REDIS_ADDR"}, "localhost:6379"),
		RedisPassword:  getEnvAny([]string{"PALM_REDIS_PASSWORD", "REDIS_PASSWORD"}, ""),
		RedisDB:        getEnvIntAny([]string{"PALM_REDIS_DB"}, 0),
		APIRateLimit:   getEnvIntAny([]string{"PALM_API_RATE_LIMIT"}, 300),
		PlayerIdleTTL:  getEnvDurationAny([]string{"PALM_PLAYER_IDLE_TIMEOUT"}, 30*time.Minute),
		PreloadWindow:  getEnvIntAny([]string{"PALM_PRELOAD_WINDOW"}, 5),
		MaxPooledAudio: getEnvIntAny([]string{"PALM_MAX_POOLED_AUDIO"}, 32),

		EventBroker: EventBroker(strings.ToLower(getEnvAny([]string{"PALM_EVENT_BROKER"}, string(BrokerNone)))),
		NATSURL:     getEnvAny([]string{"PALM_NATS_URL", "NATS_URL"}, "nats://localhost:4222"),
		InstanceID:  getEnvAny([]string{"PALM_INSTANCE_ID"}, ""),

		S3AccessKeyID:     getEnvAny([]string{"PALM_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"PALM_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"PALM_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnvAny([]string{"PALM_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Prefix:          getEnvAny([]string{"PALM_S3_PREFIX"}, "audio"),
		S3Endpoint:        getEnvAny([]string{"PALM_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3PublicBaseURL:   getEnvAny([]string{"PALM_S3_PUBLIC_URL", "S3_PUBLIC_BASE_URL"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"PALM_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),

		TracingEnabled:    getEnvBoolAny([]string{"PALM_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"PALM_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"PALM_TRACING_SAMPLE_RATE"}, 1.0),
	}

	dbs, err := LoadDatabases(cfg.DatabasesFile)
	if err != nil {
		return nil, err
	}
	cfg.Databases = dbs

	if cfg.NotionSecret == "" {
		return nil, fmt.Errorf("PALM_NOTION_SECRET or GARAM_NOTION_SECRET must be provided")
	}
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		return nil, fmt.Errorf("invalid http port %d", cfg.HTTPPort)
	}
	if cfg.PreloadWindow < 1 {
		return nil, fmt.Errorf("PALM_PRELOAD_WINDOW must be at least 1, got %d", cfg.PreloadWindow)
	}
	if cfg.MaxPooledAudio < cfg.PreloadWindow*2 {
		return nil, fmt.Errorf("PALM_MAX_POOLED_AUDIO must hold at least two tracks per preloaded card")
	}
	if cfg.TracingSampleRate < 0 || cfg.TracingSampleRate > 1 {
		return nil, fmt.Errorf("PALM_TRACING_SAMPLE_RATE must be between 0 and 1")
	}
	switch cfg.EventBroker {
	case BrokerNone, BrokerNATS, BrokerRedis:
	default:
		return nil, fmt.Errorf("unsupported event broker %q", cfg.EventBroker)
	}

	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"GARAM_NOTION_SECRET": "use PALM_NOTION_SECRET",
		"DATABASE_ID":         "use PALM_DB_DIALOGUE",
		"PORT":                "use PALM_HTTP_PORT",
		"NODE_ENV":            "use PALM_ENV",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

// MirrorEnabled reports whether Notion audio should be copied to object storage.
func (c *Config) MirrorEnabled() bool {
	return c != nil && c.S3Bucket != ""
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
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

// getEnvDurationAny accepts Go durations ("90s") or bare seconds ("90").
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		v := strings.TrimSpace(os.Getenv(k))
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}
