// Package config loads service configuration from environment variables
// and an optional YAML profile file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"signalflow/internal/pattern"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Config holds all service configuration.
type Config struct {
	// Feed
	FeedURL        string        `default:"ws://localhost:9001/ws" validate:"required,url"`
	Contract       string        `default:"MGCZ5" validate:"required"`
	ReconnectDelay time.Duration `default:"5s" validate:"gt=0"`
	RetryDelay     time.Duration `default:"10s" validate:"gt=0"`
	BackfillLimit  int           `default:"720" validate:"gte=0,lte=10000"`

	// Aggregation
	CandleHistoryLimit int `default:"4320" validate:"gte=1,lte=10000"`

	// Infrastructure. Empty RedisAddr or SQLitePath disables that store.
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string `default:":9090" validate:"required"`
	LogLevel      string `default:"info" validate:"oneof=debug info warn warning error"`

	// Analysis
	AnalysisTimeframe string `default:"1m" validate:"required"`
	Indicators        []string
	ProfilesPath      string

	// Profiles are the built-in pattern profiles with ProfilesPath applied.
	Profiles pattern.Profiles `validate:"required"`
}

// Load reads the environment, applies defaults, merges the profile file
// and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		FeedURL:           getEnv("FEED_URL", ""),
		Contract:          getEnv("CONTRACT", ""),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		SQLitePath:        getEnv("SQLITE_PATH", ""),
		MetricsAddr:       getEnv("METRICS_ADDR", ""),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", "")),
		AnalysisTimeframe: getEnv("ANALYSIS_TIMEFRAME", ""),
		Indicators:        splitList(getEnv("INDICATORS", "")),
		ProfilesPath:      getEnv("PROFILES_PATH", ""),
		Profiles:          pattern.DefaultProfiles(),
	}

	var errs []error
	var err error
	if cfg.CandleHistoryLimit, err = envInt("CANDLE_HISTORY_LIMIT"); err != nil {
		errs = append(errs, err)
	}
	if cfg.BackfillLimit, err = envInt("BACKFILL_LIMIT"); err != nil {
		errs = append(errs, err)
	}
	if cfg.ReconnectDelay, err = envDuration("RECONNECT_DELAY"); err != nil {
		errs = append(errs, err)
	}
	if cfg.RetryDelay, err = envDuration("RETRY_DELAY"); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}

	if cfg.ProfilesPath != "" {
		if err := LoadProfiles(cfg.ProfilesPath, &cfg.Profiles); err != nil {
			return nil, err
		}
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// LoadProfiles overlays the YAML file at path onto p. Fields absent from
// the file keep their current values.
//
//	gc:
//	  doubleTopTolerance: 0.002
//	nq:
//	  volumeSpikeMultiplier: 1.8
func LoadProfiles(path string, p *pattern.Profiles) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read profiles %s: %w", path, err)
	}
	return ParseProfiles(data, p)
}

// ParseProfiles overlays YAML data onto p and validates the result.
func ParseProfiles(data []byte, p *pattern.Profiles) error {
	next := *p
	if err := yaml.Unmarshal(data, &next); err != nil {
		return fmt.Errorf("parse profiles: %w", err)
	}
	if err := validate.Struct(next); err != nil {
		return fmt.Errorf("invalid profiles: %w", err)
	}
	*p = next
	slog.Info("pattern profiles loaded", "component", "config")
	return nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

// envInt returns 0 when key is unset so defaults apply.
func envInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", key, v)
	}
	return n, nil
}

// envDuration accepts Go durations ("5s", "1m") or plain seconds ("5").
func envDuration(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a duration", key, v)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
