// Package config loads FinSentinel configuration from defaults, an optional
// YAML file and FINSENTINEL_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/opensource-finance/finsentinel/internal/domain"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "FINSENTINEL_"

	// EnvConfigPath names the YAML file to read.
	EnvConfigPath = "FINSENTINEL_CONFIG"

	// DefaultPath is read when FINSENTINEL_CONFIG is unset.
	DefaultPath = "finsentinel.yaml"
)

// Load reads configuration using the path from FINSENTINEL_CONFIG.
func Load() (*domain.Config, error) {
	path := os.Getenv(EnvConfigPath)
	if path == "" {
		path = DefaultPath
	}
	return LoadFile(path)
}

// LoadFile reads configuration from path. A missing file is not an error.
//
// Environment variables use a double underscore for nesting:
// FINSENTINEL_FEED__INTERVAL=5s sets feed.interval.
func LoadFile(path string) (*domain.Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(domain.DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg domain.Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps FINSENTINEL_SCORING__BASE_URL to scoring.base_url.
func envKey(s string) string {
	if s == EnvConfigPath {
		return ""
	}
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate rejects configurations the service cannot run with.
func Validate(cfg *domain.Config) error {
	var errs []error

	if cfg.Scoring.BaseURL == "" {
		errs = append(errs, errors.New("scoring.base_url is required"))
	}
	if cfg.Scoring.Timeout <= 0 {
		errs = append(errs, errors.New("scoring.timeout must be positive"))
	}
	switch cfg.Scoring.PayloadFormat {
	case domain.PayloadFlat, domain.PayloadLegacy:
	default:
		errs = append(errs, fmt.Errorf("scoring.payload_format %q must be %q or %q",
			cfg.Scoring.PayloadFormat, domain.PayloadFlat, domain.PayloadLegacy))
	}
	if _, ok := domain.ParseScoreScale(cfg.Scoring.ScoreScale); !ok {
		errs = append(errs, fmt.Errorf("scoring.score_scale %q must be %q, %q or %q",
			cfg.Scoring.ScoreScale, domain.ScalePercent, domain.ScaleUnit, domain.ScaleAuto))
	}

	if cfg.Feed.Interval <= 0 {
		errs = append(errs, errors.New("feed.interval must be positive"))
	}
	if cfg.Feed.HistorySize <= 0 {
		errs = append(errs, errors.New("feed.history_size must be positive"))
	}
	if cfg.Feed.ProgressStep <= 0 || cfg.Feed.ProgressStep > 100 {
		errs = append(errs, errors.New("feed.progress_step must be in (0,100]"))
	}
	if _, ok := domain.ParseSource(cfg.Feed.DefaultSource); !ok {
		errs = append(errs, fmt.Errorf("feed.default_source %q is not a known source", cfg.Feed.DefaultSource))
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", cfg.Server.Port))
	}
	if _, err := cfg.Server.TrustedProxyPrefixes(); err != nil {
		errs = append(errs, fmt.Errorf("server.trusted_proxies: %w", err))
	}
	if cfg.RateLimit.RequestsPerSecond <= 0 || cfg.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("rate_limit requires positive requests_per_second and burst"))
	}

	return errors.Join(errs...)
}
