// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/intake/model"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Backend       BackendConfig       `yaml:"backend"`
	AutoSave      AutoSaveConfig      `yaml:"autosave"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	Simulation    SimulationConfig    `yaml:"simulation"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes the reference backend's HTTP server.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	BasePath        string        `yaml:"base_path"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// BackendConfig describes how the wizard reaches its backend.
type BackendConfig struct {
	BaseURL        string               `yaml:"base_url"`
	Timeout        time.Duration        `yaml:"timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
}

// CircuitBreakerConfig describes the gateway circuit breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// RetryConfig describes gateway retries of safe (read-only) calls.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
}

// AutoSaveConfig describes the field auto-save pipeline.
type AutoSaveConfig struct {
	Enabled          bool          `yaml:"enabled"`
	DebounceInterval time.Duration `yaml:"debounce_interval"`
	RetryAttempts    int           `yaml:"retry_attempts"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	SavedDisplay     time.Duration `yaml:"saved_display"`
}

// Model returns the settings in the form the auto-save engine consumes.
func (c AutoSaveConfig) Model() model.AutoSaveConfig {
	return model.AutoSaveConfig{
		Enabled:          c.Enabled,
		DebounceInterval: c.DebounceInterval,
		RetryAttempts:    c.RetryAttempts,
	}
}

// CatalogConfig describes the category to template policy and where the
// reference backend reads its seed data. Templates found under TemplateDirs
// replace the seed's templates.
type CatalogConfig struct {
	Categories   map[string]string `yaml:"categories"`
	Fallback     string            `yaml:"fallback"`
	SeedFile     string            `yaml:"seed_file"`
	TemplateDirs []string          `yaml:"template_dirs"`
}

// SimulationConfig describes the failures and latency the reference backend
// injects into field saves.
type SimulationConfig struct {
	ErrorRate     float64       `yaml:"error_rate"`
	ErrorStatuses []int         `yaml:"error_statuses"`
	LatencyMin    time.Duration `yaml:"latency_min"`
	LatencyMax    time.Duration `yaml:"latency_max"`
	SpikeRate     float64       `yaml:"spike_rate"`
	SpikeDelay    time.Duration `yaml:"spike_delay"`
	Seed          int64         `yaml:"seed"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			BasePath:        "/api",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Backend: BackendConfig{
			BaseURL: "http://localhost:8080/api",
			Timeout: 10 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts:       2,
				BackoffInitial:    200 * time.Millisecond,
				BackoffMultiplier: 2,
				BackoffMax:        2 * time.Second,
			},
		},
		AutoSave: AutoSaveConfig{
			Enabled:          true,
			DebounceInterval: 2 * time.Second,
			RetryAttempts:    2,
			RetryBackoff:     time.Second,
			SavedDisplay:     3 * time.Second,
		},
		Catalog: CatalogConfig{
			Categories: map[string]string{
				"software": "software-request",
				"hardware": "hardware-request",
			},
		},
		Simulation: SimulationConfig{
			ErrorStatuses: []int{400, 400, 500, 500, 404, 502},
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates the result. An empty path skips the file and starts from
// Defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		errs = append(errs, "server.base_path must start with /")
	}
	if c.Backend.BaseURL == "" {
		errs = append(errs, "backend.base_url is required")
	} else if u, err := url.Parse(c.Backend.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "backend.base_url must be an absolute URL")
	}
	if c.AutoSave.DebounceInterval < 0 {
		errs = append(errs, "autosave.debounce_interval must not be negative")
	}
	if c.AutoSave.RetryAttempts < 0 {
		errs = append(errs, "autosave.retry_attempts must not be negative")
	}
	if len(c.Catalog.Categories) == 0 && c.Catalog.Fallback == "" {
		errs = append(errs, "catalog.categories or catalog.fallback is required")
	}
	if c.Simulation.ErrorRate < 0 || c.Simulation.ErrorRate > 1 {
		errs = append(errs, "simulation.error_rate must be between 0 and 1")
	}
	if c.Simulation.ErrorRate > 0 && len(c.Simulation.ErrorStatuses) == 0 {
		errs = append(errs, "simulation.error_statuses is required when error_rate is set")
	}
	if c.Simulation.LatencyMax < c.Simulation.LatencyMin {
		errs = append(errs, "simulation.latency_max must not be below latency_min")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads INTAKE_* environment variables and overrides config
// values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("INTAKE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("INTAKE_BACKEND_BASE_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("INTAKE_AUTOSAVE_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.AutoSave.Enabled = enabled
		}
	}
	if v := os.Getenv("INTAKE_SIMULATION_ERROR_RATE"); v != "" {
		if rate, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Simulation.ErrorRate = rate
		}
	}
	if v := os.Getenv("INTAKE_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("INTAKE_CATALOG_TEMPLATE_DIRS"); v != "" {
		cfg.Catalog.TemplateDirs = filepath.SplitList(v)
	}
}
