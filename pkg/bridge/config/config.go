// Package config loads the bridge configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// Engine connection.
	EngineEndpoint         string
	EngineModel            string
	EngineAPIKey           string
	EngineBearerToken      string
	EngineHandshakeTimeout time.Duration
	EngineWriteTimeout     time.Duration

	// Knowledge search backend. All three must be set to enable the tool.
	SearchEndpoint string
	SearchIndex    string
	SearchAPIKey   string
	SearchTopN     int
	SearchTimeout  time.Duration
	ToolTimeout    time.Duration

	// Per-session outbound queue.
	OutboundQueueSize  int
	OutboundQueueWait  time.Duration
	ClientWriteTimeout time.Duration

	// Conversation log store. Empty disables persistence.
	ConvlogDatabaseURL string

	// In-memory session admission limits (per caller).
	LimitSessionsPerSecond float64
	LimitBurst             int
	LimitMaxConcurrent     int

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                   envOr("BRIDGE_ADDR", ":8080"),
		EngineEndpoint:         envOr("BRIDGE_ENGINE_ENDPOINT", ""),
		EngineModel:            envOr("BRIDGE_ENGINE_MODEL", "gpt-4o-realtime-preview"),
		EngineAPIKey:           envOr("BRIDGE_ENGINE_API_KEY", ""),
		EngineBearerToken:      envOr("BRIDGE_ENGINE_BEARER_TOKEN", ""),
		EngineHandshakeTimeout: envDurationOr("BRIDGE_ENGINE_HANDSHAKE_TIMEOUT", 10*time.Second),
		EngineWriteTimeout:     envDurationOr("BRIDGE_ENGINE_WRITE_TIMEOUT", 5*time.Second),
		SearchEndpoint:         envOr("BRIDGE_SEARCH_ENDPOINT", ""),
		SearchIndex:            envOr("BRIDGE_SEARCH_INDEX", ""),
		SearchAPIKey:           envOr("BRIDGE_SEARCH_API_KEY", ""),
		SearchTopN:             envIntOr("BRIDGE_SEARCH_TOP_N", 3),
		SearchTimeout:          envDurationOr("BRIDGE_SEARCH_TIMEOUT", 5*time.Second),
		ToolTimeout:            envDurationOr("BRIDGE_TOOL_TIMEOUT", 10*time.Second),
		OutboundQueueSize:      envIntOr("BRIDGE_OUTBOUND_QUEUE_SIZE", 256),
		OutboundQueueWait:      envDurationOr("BRIDGE_OUTBOUND_QUEUE_WAIT", 2*time.Second),
		ClientWriteTimeout:     envDurationOr("BRIDGE_CLIENT_WRITE_TIMEOUT", 5*time.Second),
		ConvlogDatabaseURL:     envOr("BRIDGE_CONVLOG_DATABASE_URL", ""),
		LimitSessionsPerSecond: envFloat64Or("BRIDGE_RATE_LIMIT_SESSIONS_PER_SECOND", 1.0),
		LimitBurst:             envIntOr("BRIDGE_RATE_LIMIT_BURST", 3),
		LimitMaxConcurrent:     envIntOr("BRIDGE_MAX_CONCURRENT_SESSIONS", 4),
		ReadHeaderTimeout:      envDurationOr("BRIDGE_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:    envDurationOr("BRIDGE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	if strings.TrimSpace(cfg.EngineEndpoint) == "" {
		return Config{}, fmt.Errorf("BRIDGE_ENGINE_ENDPOINT must be set")
	}
	if strings.TrimSpace(cfg.EngineModel) == "" {
		return Config{}, fmt.Errorf("BRIDGE_ENGINE_MODEL must not be empty")
	}
	if cfg.EngineAPIKey == "" && cfg.EngineBearerToken == "" {
		return Config{}, fmt.Errorf("BRIDGE_ENGINE_API_KEY or BRIDGE_ENGINE_BEARER_TOKEN must be set")
	}
	if cfg.EngineHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_ENGINE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.EngineWriteTimeout < 0 {
		return Config{}, fmt.Errorf("BRIDGE_ENGINE_WRITE_TIMEOUT must be >= 0")
	}
	if cfg.SearchTopN <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_SEARCH_TOP_N must be > 0")
	}
	if cfg.SearchTimeout <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_SEARCH_TIMEOUT must be > 0")
	}
	if cfg.ToolTimeout <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_TOOL_TIMEOUT must be > 0")
	}
	if cfg.OutboundQueueSize <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_OUTBOUND_QUEUE_SIZE must be > 0")
	}
	if cfg.OutboundQueueWait <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_OUTBOUND_QUEUE_WAIT must be > 0")
	}
	if cfg.ClientWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_CLIENT_WRITE_TIMEOUT must be > 0")
	}
	if cfg.LimitSessionsPerSecond < 0 {
		return Config{}, fmt.Errorf("BRIDGE_RATE_LIMIT_SESSIONS_PER_SECOND must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("BRIDGE_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.LimitMaxConcurrent < 0 {
		return Config{}, fmt.Errorf("BRIDGE_MAX_CONCURRENT_SESSIONS must be >= 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

// SearchEnabled reports whether the knowledge search backend is fully
// configured.
func (c Config) SearchEnabled() bool {
	return strings.TrimSpace(c.SearchEndpoint) != "" &&
		strings.TrimSpace(c.SearchIndex) != "" &&
		c.SearchAPIKey != ""
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
