// Package config loads, validates, and hot-reloads the TOML configuration
// for the AI pipeline: providers, model rate tables, routing, rate limits,
// PII tuning, tracing, and the store location.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// configPtr holds the current config for thread-safe access.
var configPtr atomic.Pointer[Config]

// loadedConfigFile stores the path used by the last successful Load.
var loadedConfigFile atomic.Value

// Get returns the current Config. Safe for concurrent use. If no config
// has been loaded yet it returns the defaults.
func Get() *Config {
	if c := configPtr.Load(); c != nil {
		return c
	}
	d := DefaultConfig()
	configPtr.Store(d)
	return d
}

// set stores a new Config atomically.
func set(cfg *Config) {
	configPtr.Store(cfg)
}

// Config is the top-level configuration.
type Config struct {
	Server    ServerConfig              `mapstructure:"server"     toml:"server"`
	Providers map[string]ProviderConfig `mapstructure:"providers"  toml:"providers"`
	Models    map[string]ModelConfig    `mapstructure:"models"     toml:"models"`
	Routing   RoutingConfig             `mapstructure:"routing"    toml:"routing"`
	RateLimit RateLimitConfig           `mapstructure:"rate_limit" toml:"rate_limit"`
	PII       PIIConfig                 `mapstructure:"pii"        toml:"pii"`
	Tracing   TracingConfig             `mapstructure:"tracing"    toml:"tracing"`
	Store     StoreConfig               `mapstructure:"store"      toml:"store"`
}

// ServerConfig holds the serving surface settings.
type ServerConfig struct {
	BindAddress  string `mapstructure:"bind_address"  toml:"bind_address"`
	Port         int    `mapstructure:"port"          toml:"port"`
	LogLevel     string `mapstructure:"log_level"     toml:"log_level"`
	DataDir      string `mapstructure:"data_dir"      toml:"data_dir"`
	ReadTimeout  int    `mapstructure:"read_timeout"  toml:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout" toml:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"  toml:"idle_timeout"`
}

// ProviderConfig describes one upstream LLM provider.
type ProviderConfig struct {
	BaseURL string `mapstructure:"base_url" toml:"base_url"`
	KeyRef  string `mapstructure:"key_ref"  toml:"key_ref"`
}

// ModelConfig describes one routable model and its yen rates per 1K tokens.
type ModelConfig struct {
	Provider        string  `mapstructure:"provider"           toml:"provider"`
	InputCostPer1K  float64 `mapstructure:"input_cost_per_1k"  toml:"input_cost_per_1k"`
	OutputCostPer1K float64 `mapstructure:"output_cost_per_1k" toml:"output_cost_per_1k"`
}

// RoutingConfig holds usecase→model selection and the fallback chain.
type RoutingConfig struct {
	UsecaseModels    map[string]string `mapstructure:"usecase_models"     toml:"usecase_models"`
	DefaultModel     string            `mapstructure:"default_model"      toml:"default_model"`
	FallbackChain    []string          `mapstructure:"fallback_chain"     toml:"fallback_chain"`
	AttemptTimeout   time.Duration     `mapstructure:"attempt_timeout"    toml:"attempt_timeout"`
	TemplateCacheTTL time.Duration     `mapstructure:"template_cache_ttl" toml:"template_cache_ttl"`
}

// RateLimitConfig holds the sliding-window admission settings.
type RateLimitConfig struct {
	MaxRequests   int           `mapstructure:"max_requests"   toml:"max_requests"`
	Window        time.Duration `mapstructure:"window"         toml:"window"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" toml:"sweep_interval"`
	Retention     time.Duration `mapstructure:"retention"      toml:"retention"`
}

// PIIConfig tunes the masker. ExtraStopwords are merged additively into
// the curated base set.
type PIIConfig struct {
	Enabled        bool     `mapstructure:"enabled"         toml:"enabled"`
	ExtraStopwords []string `mapstructure:"extra_stopwords" toml:"extra_stopwords"`
}

// TracingConfig holds the OpenTelemetry exporter settings.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"      toml:"enabled"`
	Exporter    string  `mapstructure:"exporter"     toml:"exporter"`
	Endpoint    string  `mapstructure:"endpoint"     toml:"endpoint"`
	ServiceName string  `mapstructure:"service_name" toml:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"  toml:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"     toml:"insecure"`
}

// StoreConfig locates the SQLite template/usage store. Templates are
// never pruned; UsageRetentionDays only bounds the usage log.
type StoreConfig struct {
	Path               string `mapstructure:"path"                 toml:"path"`
	UsageRetentionDays int    `mapstructure:"usage_retention_days" toml:"usage_retention_days"`
}

// Load reads the config file at path (or searches the default locations
// when path is empty), merges it over the defaults, validates it, and
// stores it as the current config.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	cfg := DefaultConfig()
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}

	cfg.Server.DataDir = expandTilde(cfg.Server.DataDir)
	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(cfg.Server.DataDir, "haishin-ai.db")
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	set(cfg)
	loadedConfigFile.Store(path)
	return cfg, nil
}

// LoadedFile returns the path used by the last successful Load, or "".
func LoadedFile() string {
	if v, ok := loadedConfigFile.Load().(string); ok {
		return v
	}
	return ""
}

// ExportTOML writes the current config to path in TOML form.
func ExportTOML(path string) error {
	data, err := toml.Marshal(Get())
	if err != nil {
		return fmt.Errorf("config: encoding TOML: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}

// findConfigFile searches the home directory then the working directory
// for the default config file name.
func findConfigFile() string {
	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, DefaultConfigFilename)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if _, err := os.Stat(DefaultConfigFilename); err == nil {
		return DefaultConfigFilename
	}
	return ""
}

func expandTilde(p string) string {
	if !strings.HasPrefix(p, "~") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
