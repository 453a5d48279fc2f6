// Package config provides the service's layered configuration
// (defaults, optional YAML file, environment variables, functional
// options), plus the idle-window and camera-config-application helpers
// the Scheduler uses.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/carewatch/guardian/internal/model"
	"github.com/carewatch/guardian/internal/store"
)

// Config is the top-level process configuration.
type Config struct {
	HTTP       HTTPConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	Planner    ExternalServiceConfig
	Notify     ExternalServiceConfig
	Warehouse  ExternalServiceConfig
	Translate  ExternalServiceConfig
	Speech     ExternalServiceConfig
	Logging    LoggingConfig
	Tracing    TracingConfig
}

// HTTPConfig is the operational HTTP/WebSocket surface's bind config.
type HTTPConfig struct {
	Addr            string        `json:"addr" env:"GUARDIAN_HTTP_ADDR" default:":8080"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" env:"GUARDIAN_HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
}

// PostgresConfig is the pgx/sqlx Datastore's connection config.
type PostgresConfig struct {
	DSN string `json:"dsn" env:"GUARDIAN_POSTGRES_DSN"`
}

// RedisConfig is the router dedup fast-path's connection config.
type RedisConfig struct {
	URL string `json:"url" env:"GUARDIAN_REDIS_URL,REDIS_URL"`
}

// ExternalServiceConfig is the shared shape for the HTTP collaborators
// this core calls out to (planner VLM, SMS/voice gateway, analytics
// warehouse, translation, text-to-speech).
type ExternalServiceConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
}

// LoggingConfig controls internal/platform/logging.ProductionLogger.
type LoggingConfig struct {
	Level  string `json:"level" env:"GUARDIAN_LOG_LEVEL" default:"info"`
	Format string `json:"format" env:"GUARDIAN_LOG_FORMAT" default:"json"`
}

// TracingConfig controls the stdout span exporter wired by cmd/guardian.
// There is no collector endpoint in this deployment to target with
// otlptracegrpc/otlptracehttp, so stdouttrace is the only exporter wired.
type TracingConfig struct {
	Enabled     bool `json:"enabled" env:"GUARDIAN_TRACE_ENABLED" default:"false"`
	PrettyPrint bool `json:"pretty_print" env:"GUARDIAN_TRACE_PRETTY" default:"false"`
}

// fileOverlay mirrors Config's recognized fields for YAML unmarshaling.
// A plain *Config can't be unmarshaled directly: time.Duration has no
// sensible YAML scalar representation, so ShutdownTimeout is parsed as a
// duration string here instead.
type fileOverlay struct {
	HTTP struct {
		Addr            string `yaml:"addr"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	} `yaml:"http"`
	Postgres struct {
		DSN string `yaml:"dsn"`
	} `yaml:"postgres"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Planner   ExternalServiceConfig `yaml:"planner"`
	Notify    ExternalServiceConfig `yaml:"notify"`
	Warehouse ExternalServiceConfig `yaml:"warehouse"`
	Translate ExternalServiceConfig `yaml:"translate"`
	Speech    ExternalServiceConfig `yaml:"speech"`
	Logging   struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
	Tracing struct {
		Enabled     *bool `yaml:"enabled"`
		PrettyPrint *bool `yaml:"pretty_print"`
	} `yaml:"tracing"`
}

// applyFile merges the non-empty fields of a fileOverlay into cfg.
func (cfg *Config) applyFile(f fileOverlay) error {
	if f.HTTP.Addr != "" {
		cfg.HTTP.Addr = f.HTTP.Addr
	}
	if f.HTTP.ShutdownTimeout != "" {
		d, err := time.ParseDuration(f.HTTP.ShutdownTimeout)
		if err != nil {
			return fmt.Errorf("http.shutdown_timeout: %w", err)
		}
		cfg.HTTP.ShutdownTimeout = d
	}
	if f.Postgres.DSN != "" {
		cfg.Postgres.DSN = f.Postgres.DSN
	}
	if f.Redis.URL != "" {
		cfg.Redis.URL = f.Redis.URL
	}
	if f.Planner != (ExternalServiceConfig{}) {
		cfg.Planner = f.Planner
	}
	if f.Notify != (ExternalServiceConfig{}) {
		cfg.Notify = f.Notify
	}
	if f.Warehouse != (ExternalServiceConfig{}) {
		cfg.Warehouse = f.Warehouse
	}
	if f.Translate != (ExternalServiceConfig{}) {
		cfg.Translate = f.Translate
	}
	if f.Speech != (ExternalServiceConfig{}) {
		cfg.Speech = f.Speech
	}
	if f.Logging.Level != "" {
		cfg.Logging.Level = f.Logging.Level
	}
	if f.Logging.Format != "" {
		cfg.Logging.Format = f.Logging.Format
	}
	if f.Tracing.Enabled != nil {
		cfg.Tracing.Enabled = *f.Tracing.Enabled
	}
	if f.Tracing.PrettyPrint != nil {
		cfg.Tracing.PrettyPrint = *f.Tracing.PrettyPrint
	}
	return nil
}

// LoadFile reads a YAML config document at path and merges its
// recognized fields into cfg, as the file layer of the precedence
// order: defaults < file < environment < functional options. A
// missing file is not an error — the file layer is optional.
func (cfg *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg.applyFile(overlay)
}

// Option customizes a Config after defaults and environment variables
// have both been applied.
type Option func(*Config)

func WithHTTPAddr(addr string) Option { return func(c *Config) { c.HTTP.Addr = addr } }
func WithPostgresDSN(dsn string) Option { return func(c *Config) { c.Postgres.DSN = dsn } }
func WithRedisURL(url string) Option    { return func(c *Config) { c.Redis.URL = url } }
func WithLogging(level, format string) Option {
	return func(c *Config) { c.Logging.Level = level; c.Logging.Format = format }
}

// defaults returns the zero-option, zero-env baseline.
func defaults() *Config {
	return &Config{
		HTTP:     HTTPConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
	}
}

// New builds a Config from defaults, then the optional file overlay,
// then environment variables, then functional options (highest
// priority).
func New(opts ...Option) (*Config, error) {
	cfg := defaults()
	if path := os.Getenv("GUARDIAN_CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	if v := os.Getenv("GUARDIAN_HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("GUARDIAN_HTTP_SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("GUARDIAN_HTTP_SHUTDOWN_TIMEOUT: %w", err)
		}
		c.HTTP.ShutdownTimeout = d
	}
	if v := os.Getenv("GUARDIAN_POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("GUARDIAN_REDIS_URL"); v != "" {
		c.Redis.URL = v
	} else if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}

	setIfSet := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setIfSet(&c.Planner.BaseURL, "GUARDIAN_PLANNER_BASE_URL")
	setIfSet(&c.Planner.APIKey, "GUARDIAN_PLANNER_API_KEY")
	setIfSet(&c.Notify.BaseURL, "GUARDIAN_NOTIFY_BASE_URL")
	setIfSet(&c.Notify.APIKey, "GUARDIAN_NOTIFY_API_KEY")
	setIfSet(&c.Warehouse.BaseURL, "GUARDIAN_WAREHOUSE_BASE_URL")
	setIfSet(&c.Warehouse.APIKey, "GUARDIAN_WAREHOUSE_API_KEY")
	if v := os.Getenv("GUARDIAN_TRANSLATE_BASE_URL"); v != "" {
		c.Translate.BaseURL = v
	}
	if v := os.Getenv("GUARDIAN_TRANSLATE_API_KEY"); v != "" {
		c.Translate.APIKey = v
	}
	if v := os.Getenv("GUARDIAN_SPEECH_BASE_URL"); v != "" {
		c.Speech.BaseURL = v
	}
	if v := os.Getenv("GUARDIAN_SPEECH_API_KEY"); v != "" {
		c.Speech.APIKey = v
	}

	if v := os.Getenv("GUARDIAN_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("GUARDIAN_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("GUARDIAN_TRACE_ENABLED"); v != "" {
		c.Tracing.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("GUARDIAN_TRACE_PRETTY"); v != "" {
		c.Tracing.PrettyPrint = v == "true" || v == "1"
	}
	return nil
}

// IsIdle reports whether the camera qualifies as idle for config
// application: risk_score at or below the idle threshold and no ACTIVE
// incident on the camera.
func IsIdle(ctx context.Context, datastore store.Datastore, camera model.Camera) (bool, error) {
	if camera.RiskScore > idleRiskThreshold {
		return false, nil
	}
	_, err := datastore.ActiveIncidentByCamera(ctx, camera.ID)
	if err == nil {
		return false, nil
	}
	if errors.Is(err, model.ErrNotFound) {
		return true, nil
	}
	return false, err
}

const idleRiskThreshold = 0.3

// ApplyResult describes the outcome of ApplyPatch.
type ApplyResult struct {
	ID         string
	Applied    bool
	ConfigJSON string
}

// FilterRecognizedKeys drops every key of patch not in model.ConfigKeys;
// unrecognized keys are ignored rather than rejected.
func FilterRecognizedKeys(patch map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(patch))
	for k, v := range patch {
		if model.ConfigKeys[k] {
			out[k] = v
		}
	}
	return out
}

// ApplyPatch merges the recognized config keys in patch into
// camera.Config in place, returning whether anything changed. The
// caller is responsible for persisting camera and recording a
// ConfigUpdate (scheduler.applySuggestion does both).
func ApplyPatch(camera *model.Camera, patch map[string]interface{}) ApplyResult {
	if len(patch) == 0 {
		return ApplyResult{}
	}

	applied := false
	for k, v := range patch {
		f, ok := asFloat(v)
		if !ok {
			continue
		}
		switch k {
		case "motion_spike_threshold":
			camera.Config.MotionSpikeThreshold = f
		case "stillness_threshold":
			camera.Config.StillnessThreshold = f
		case "risk_threshold_low":
			camera.Config.RiskThresholdLow = f
		case "risk_threshold_high":
			camera.Config.RiskThresholdHigh = f
		case "escalation_delay_s":
			camera.Config.EscalationDelaySec = f
		case "check_interval_s":
			camera.Config.CheckIntervalSec = f
		default:
			continue
		}
		applied = true
	}
	if !applied {
		return ApplyResult{}
	}

	return ApplyResult{
		ID:         uuid.NewString(),
		Applied:    true,
		ConfigJSON: configJSON(camera.Config),
	}
}

func configJSON(cc model.CameraConfig) string {
	data, err := json.Marshal(cc)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
