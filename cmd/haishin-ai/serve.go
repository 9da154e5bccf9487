package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/watchout/haishin-puls-hub-sub001/internal/config"
	"github.com/watchout/haishin-puls-hub-sub001/internal/metrics"
	"github.com/watchout/haishin-puls-hub-sub001/internal/pipeline"
	"github.com/watchout/haishin-puls-hub-sub001/internal/provider"
	"github.com/watchout/haishin-puls-hub-sub001/internal/ratelimit"
	"github.com/watchout/haishin-puls-hub-sub001/internal/router"
	"github.com/watchout/haishin-puls-hub-sub001/internal/server"
	"github.com/watchout/haishin-puls-hub-sub001/internal/store"
	"github.com/watchout/haishin-puls-hub-sub001/internal/tracing"
	"github.com/watchout/haishin-puls-hub-sub001/internal/vault"
	"github.com/watchout/haishin-puls-hub-sub001/internal/version"
)

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	quiet := fs.Bool("quiet", false, "suppress console log output")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := runServe(cfg, !*quiet); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// runServe initialises all subsystems, starts the HTTP server, and
// blocks until a shutdown signal is received.
func runServe(cfg *config.Config, console bool) error {
	dataDir := cfg.Server.DataDir
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	zerolog.SetGlobalLevel(parseLogLevel(cfg.Server.LogLevel))

	writers := []io.Writer{}

	// Always log to file.
	logPath := filepath.Join(dataDir, "haishin-ai.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file %s: %w", logPath, err)
	}
	defer logFile.Close()
	writers = append(writers, logFile)

	if console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}

	multi := zerolog.MultiLevelWriter(writers...)
	log.Logger = zerolog.New(multi).With().Timestamp().Str("service", "haishin-ai").Logger()

	log.Info().
		Str("version", version.Version).
		Str("data_dir", dataDir).
		Msg("haishin-ai starting")

	// Tracing, when enabled.
	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(
			context.Background(),
			cfg.Tracing.ServiceName,
			version.Version,
			cfg.Tracing.Exporter,
			cfg.Tracing.Endpoint,
			cfg.Tracing.SampleRate,
			cfg.Tracing.Insecure,
		)
		if err != nil {
			return fmt.Errorf("initialising tracing: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				log.Error().Err(err).Msg("tracer shutdown error")
			}
		}()
		log.Info().Str("exporter", cfg.Tracing.Exporter).Msg("tracing enabled")
	}

	// Open store.
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	log.Info().Str("db_path", cfg.Store.Path).Msg("store opened")

	// Resolve API keys and build providers.
	v := vault.New()
	var providers []provider.Provider
	for name, pcfg := range cfg.Providers {
		apiKey, err := v.ResolveKeyRef(pcfg.KeyRef)
		if err != nil {
			log.Warn().Err(err).Str("provider", name).Msg("failed to resolve API key; provider will be unavailable")
			continue
		}
		switch name {
		case "anthropic":
			providers = append(providers, provider.NewAnthropic(pcfg.BaseURL, apiKey))
		case "openai":
			providers = append(providers, provider.NewOpenAI(pcfg.BaseURL, apiKey))
		default:
			log.Warn().Str("provider", name).Msg("unknown provider type; skipping")
		}
	}
	registry := provider.NewRegistry(providers...)

	collector := metrics.NewCollector()

	// Router over the configured model table.
	models := make(map[string]router.ModelDefinition, len(cfg.Models))
	for name, mcfg := range cfg.Models {
		models[name] = router.ModelDefinition{
			Provider:        mcfg.Provider,
			InputCostPer1K:  mcfg.InputCostPer1K,
			OutputCostPer1K: mcfg.OutputCostPer1K,
		}
	}
	rtr := router.New(registry, router.Config{
		Models:         models,
		UsecaseModels:  cfg.Routing.UsecaseModels,
		DefaultModel:   cfg.Routing.DefaultModel,
		FallbackChain:  cfg.Routing.FallbackChain,
		AttemptTimeout: cfg.Routing.AttemptTimeout,
		OnTimeout:      func(string) { collector.RecordTimeout() },
	})
	log.Info().
		Int("providers", len(providers)).
		Int("models", len(models)).
		Str("default_model", cfg.Routing.DefaultModel).
		Msg("router initialized")

	// Sliding-window limiter.
	limiter := ratelimit.New(
		cfg.RateLimit.MaxRequests,
		cfg.RateLimit.Window,
		cfg.RateLimit.SweepInterval,
		cfg.RateLimit.Retention,
	)
	limiter.StartSweeper()
	defer limiter.Stop()

	pipe := pipeline.New(pipeline.Options{
		Limiter:          limiter,
		Templates:        st,
		Router:           rtr,
		Sink:             st,
		Collector:        collector,
		PIIEnabled:       cfg.PII.Enabled,
		ExtraStopwords:   cfg.PII.ExtraStopwords,
		TemplateCacheTTL: cfg.Routing.TemplateCacheTTL,
	})

	handler := server.NewHandler(pipe, st, collector, version.Version)
	addr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port)
	srv := server.NewServer(
		handler,
		addr,
		time.Duration(cfg.Server.ReadTimeout)*time.Second,
		time.Duration(cfg.Server.WriteTimeout)*time.Second,
		time.Duration(cfg.Server.IdleTimeout)*time.Second,
		cfg.Tracing.Enabled,
	)

	// Config watcher for hot log-level changes.
	if file := config.LoadedFile(); file != "" {
		watcher, err := config.Watch(file, func(newCfg *config.Config) {
			log.Info().Msg("configuration reloaded")
			zerolog.SetGlobalLevel(parseLogLevel(newCfg.Server.LogLevel))
		})
		if err != nil {
			log.Warn().Err(err).Msg("failed to start config watcher; continuing without hot-reload")
		} else {
			defer watcher.Close()
			log.Info().Str("file", file).Msg("config watcher started")
		}
	}

	// Periodic usage-log pruning. Templates are never pruned.
	pruneCtx, pruneCancel := context.WithCancel(context.Background())
	defer pruneCancel()
	prunerDone := make(chan struct{})
	go func() {
		defer close(prunerDone)
		runPruner(pruneCtx, st, cfg.Store.UsageRetentionDays)
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("server starting")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("fatal server error")
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	pruneCancel()
	<-prunerDone

	log.Info().Msg("haishin-ai stopped")
	return nil
}

func runPruner(ctx context.Context, st *store.Store, retentionDays int) {
	if retentionDays <= 0 {
		return
	}

	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := st.PruneUsage(retentionDays)
			if err != nil {
				log.Error().Err(err).Msg("usage pruning failed")
			} else if n > 0 {
				log.Info().Int64("rows", n).Int("retention_days", retentionDays).Msg("pruned old usage records")
			}
		}
	}
}

// parseLogLevel converts a string log level to a zerolog.Level.
func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
