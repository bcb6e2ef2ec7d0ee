package domain

import (
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// Config holds the complete FinSentinel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `koanf:"server"`

	// Core feed pipeline
	Scoring ScoringConfig `koanf:"scoring"`
	Feed    FeedConfig    `koanf:"feed"`

	// Component configurations
	Repository RepositoryConfig `koanf:"repository"`
	Cache      CacheConfig      `koanf:"cache"`
	EventBus   EventBusConfig   `koanf:"event_bus"`
	Auth       AuthConfig       `koanf:"auth"`
	RateLimit  RateLimitConfig  `koanf:"rate_limit"`

	Logging LoggingConfig `koanf:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`

	// TrustedProxies lists the peers (IPs or CIDRs) whose X-Forwarded-For
	// and X-Real-IP headers are believed. Empty trusts nobody.
	TrustedProxies []string `koanf:"trusted_proxies"`
}

// TrustedProxyPrefixes parses TrustedProxies. A bare IP becomes a
// single-address prefix.
func (c ServerConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, entry := range c.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// Payload formats understood by the scoring service.
const (
	PayloadFlat   = "flat"
	PayloadLegacy = "legacy"
)

// ScoringConfig points the client at the external scoring endpoint.
type ScoringConfig struct {
	BaseURL       string        `koanf:"base_url"`
	Path          string        `koanf:"path"`
	Timeout       time.Duration `koanf:"timeout"`
	PayloadFormat string        `koanf:"payload_format"` // flat, legacy
	ScoreScale    string        `koanf:"score_scale"`    // percent, unit, auto
	MaxBodyBytes  int64         `koanf:"max_body_bytes"`
}

// URL returns the full scoring endpoint.
func (c ScoringConfig) URL() string {
	return c.BaseURL + c.Path
}

// FeedConfig controls the automated transaction feed.
type FeedConfig struct {
	Interval      time.Duration `koanf:"interval"`
	HistorySize   int           `koanf:"history_size"`
	ProgressStep  int           `koanf:"progress_step"`
	DefaultSource string        `koanf:"default_source"`
}

// AuthConfig controls demo session storage.
type AuthConfig struct {
	SessionTTL time.Duration `koanf:"session_ttl"`
}

// RateLimitConfig bounds manual scoring per client IP.
type RateLimitConfig struct {
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
}

// DefaultConfig returns a single-process configuration:
// SQLite, in-memory store and channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Scoring: ScoringConfig{
			BaseURL:       "http://localhost:8000",
			Path:          "/detect_fraud",
			Timeout:       10 * time.Second,
			PayloadFormat: PayloadFlat,
			ScoreScale:    string(ScalePercent),
			MaxBodyBytes:  1 << 20,
		},
		Feed: FeedConfig{
			Interval:      12 * time.Second,
			HistorySize:   10,
			ProgressStep:  20,
			DefaultSource: string(SourcePlaid),
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./finsentinel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     24 * time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Auth: AuthConfig{
			SessionTTL: 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 5,
			Burst:             10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
