package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "haishin-ai.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

// ---- defaults ----

func TestDefaultConfigIsValid(t *testing.T) {
	if err := validate(DefaultConfig()); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}
}

func TestGetReturnsDefaultsBeforeLoad(t *testing.T) {
	configPtr.Store(nil)
	cfg := Get()
	if cfg.Server.Port != 8787 {
		t.Errorf("expected default port 8787, got %d", cfg.Server.Port)
	}
	if cfg.RateLimit.MaxRequests != 10 {
		t.Errorf("expected default max_requests 10, got %d", cfg.RateLimit.MaxRequests)
	}
}

// ---- file loading ----

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeTempConfig(t, `
[server]
port = 9999
log_level = "debug"

[rate_limit]
max_requests = 3
window = "30s"

[routing]
attempt_timeout = "15s"

[pii]
enabled = true
extra_stopwords = ["渋谷", "ホール"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port not merged: %d", cfg.Server.Port)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("log level not merged: %s", cfg.Server.LogLevel)
	}
	// Untouched sections keep their defaults.
	if cfg.Routing.DefaultModel != "claude-sonnet-4-20250514" {
		t.Errorf("default model lost in merge: %s", cfg.Routing.DefaultModel)
	}
	if cfg.RateLimit.MaxRequests != 3 {
		t.Errorf("max_requests not merged: %d", cfg.RateLimit.MaxRequests)
	}
	if cfg.RateLimit.Window != 30*time.Second {
		t.Errorf("duration string not decoded: %v", cfg.RateLimit.Window)
	}
	if cfg.Routing.AttemptTimeout != 15*time.Second {
		t.Errorf("attempt_timeout not decoded: %v", cfg.Routing.AttemptTimeout)
	}
	if len(cfg.PII.ExtraStopwords) != 2 || cfg.PII.ExtraStopwords[0] != "渋谷" {
		t.Errorf("extra stopwords not merged: %v", cfg.PII.ExtraStopwords)
	}
}

func TestLoadInstallsConfigForGet(t *testing.T) {
	path := writeTempConfig(t, `
[server]
port = 9123
`)
	if _, err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if Get().Server.Port != 9123 {
		t.Errorf("Get did not return loaded config, port=%d", Get().Server.Port)
	}
}

func TestLoadDerivesStorePathFromDataDir(t *testing.T) {
	path := writeTempConfig(t, `
[server]
data_dir = "/tmp/haishin-test"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := filepath.Join("/tmp/haishin-test", "haishin-ai.db")
	if cfg.Store.Path != want {
		t.Errorf("store path = %q, want %q", cfg.Store.Path, want)
	}
}

func TestLoadRejectsBadTOML(t *testing.T) {
	path := writeTempConfig(t, `[server`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed TOML")
	}
}

// ---- export ----

func TestExportTOMLRoundTrip(t *testing.T) {
	src := writeTempConfig(t, `
[server]
port = 9234
`)
	if _, err := Load(src); err != nil {
		t.Fatalf("Load: %v", err)
	}
	out := filepath.Join(t.TempDir(), "export.toml")
	if err := ExportTOML(out); err != nil {
		t.Fatalf("ExportTOML: %v", err)
	}
	cfg, err := Load(out)
	if err != nil {
		t.Fatalf("reloading exported config: %v", err)
	}
	if cfg.Server.Port != 9234 {
		t.Errorf("exported config lost port: %d", cfg.Server.Port)
	}
}
