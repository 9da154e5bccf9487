package config

import "time"

// DefaultConfigFilename is the file looked up when no path is given.
const DefaultConfigFilename = ".haishin-ai.toml"

// DefaultConfig returns the built-in defaults. A file-based config is
// merged over these, so every field has a sane zero-configuration value.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:  "127.0.0.1",
			Port:         8787,
			LogLevel:     "info",
			DataDir:      "~/.haishin-ai",
			ReadTimeout:  30,
			WriteTimeout: 300,
			IdleTimeout:  120,
		},
		Providers: map[string]ProviderConfig{
			"anthropic": {
				BaseURL: "https://api.anthropic.com",
				KeyRef:  "keyring://anthropic",
			},
			"openai": {
				BaseURL: "https://api.openai.com",
				KeyRef:  "keyring://openai",
			},
		},
		Models: map[string]ModelConfig{
			"claude-sonnet-4-20250514": {
				Provider:        "anthropic",
				InputCostPer1K:  0.45,
				OutputCostPer1K: 2.25,
			},
			"claude-3-5-haiku-20241022": {
				Provider:        "anthropic",
				InputCostPer1K:  0.12,
				OutputCostPer1K: 0.6,
			},
			"gpt-4o-mini": {
				Provider:        "openai",
				InputCostPer1K:  0.023,
				OutputCostPer1K: 0.09,
			},
		},
		Routing: RoutingConfig{
			UsecaseModels: map[string]string{},
			DefaultModel:  "claude-sonnet-4-20250514",
			FallbackChain: []string{
				"claude-sonnet-4-20250514",
				"claude-3-5-haiku-20241022",
				"gpt-4o-mini",
			},
			AttemptTimeout:   60 * time.Second,
			TemplateCacheTTL: 30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			MaxRequests:   10,
			Window:        time.Minute,
			SweepInterval: 5 * time.Minute,
			Retention:     2 * time.Minute,
		},
		PII: PIIConfig{
			Enabled:        true,
			ExtraStopwords: nil,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    "stdout",
			Endpoint:    "localhost:4317",
			ServiceName: "haishin-ai",
			SampleRate:  1.0,
			Insecure:    true,
		},
		Store: StoreConfig{
			Path:               "",
			UsageRetentionDays: 90,
		},
	}
}
