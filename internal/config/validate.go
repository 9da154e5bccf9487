package config

import "fmt"

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true,
	"warn": true, "error": true,
}

var validExporters = map[string]bool{
	"stdout": true, "otlp-grpc": true, "otlp-http": true,
}

// validate checks cross-field consistency before a config is installed.
// Every model must name a configured provider, and every routing entry
// must name a configured model.
func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", cfg.Server.Port)
	}
	if !validLogLevels[cfg.Server.LogLevel] {
		return fmt.Errorf("config: unknown log level %q", cfg.Server.LogLevel)
	}

	for name, m := range cfg.Models {
		if m.Provider == "" {
			return fmt.Errorf("config: model %q has no provider", name)
		}
		if _, ok := cfg.Providers[m.Provider]; !ok {
			return fmt.Errorf("config: model %q references unknown provider %q", name, m.Provider)
		}
		if m.InputCostPer1K < 0 || m.OutputCostPer1K < 0 {
			return fmt.Errorf("config: model %q has a negative cost rate", name)
		}
	}

	if cfg.Routing.DefaultModel == "" {
		return fmt.Errorf("config: routing.default_model is required")
	}
	if _, ok := cfg.Models[cfg.Routing.DefaultModel]; !ok {
		return fmt.Errorf("config: default model %q is not defined", cfg.Routing.DefaultModel)
	}
	for usecase, model := range cfg.Routing.UsecaseModels {
		if _, ok := cfg.Models[model]; !ok {
			return fmt.Errorf("config: usecase %q routes to unknown model %q", usecase, model)
		}
	}
	seenChain := make(map[string]bool, len(cfg.Routing.FallbackChain))
	for _, model := range cfg.Routing.FallbackChain {
		if _, ok := cfg.Models[model]; !ok {
			return fmt.Errorf("config: fallback chain references unknown model %q", model)
		}
		if seenChain[model] {
			return fmt.Errorf("config: fallback chain lists model %q twice", model)
		}
		seenChain[model] = true
	}
	if cfg.Routing.AttemptTimeout <= 0 {
		return fmt.Errorf("config: routing.attempt_timeout must be positive")
	}

	if cfg.RateLimit.MaxRequests < 1 {
		return fmt.Errorf("config: rate_limit.max_requests must be at least 1")
	}
	if cfg.RateLimit.Window <= 0 {
		return fmt.Errorf("config: rate_limit.window must be positive")
	}

	if cfg.Tracing.Enabled {
		if !validExporters[cfg.Tracing.Exporter] {
			return fmt.Errorf("config: unknown tracing exporter %q", cfg.Tracing.Exporter)
		}
		if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
			return fmt.Errorf("config: tracing.sample_rate must be within [0, 1]")
		}
	}

	return nil
}
