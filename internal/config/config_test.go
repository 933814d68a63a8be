package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingDefaultFileUsesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("EDUTALK_API_URL", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIURL != DefaultAPIURL {
		t.Fatalf("expected default api url, got %q", cfg.APIURL)
	}
	if cfg.ConfirmDelay() != 500*time.Millisecond {
		t.Fatalf("unexpected confirm delay %v", cfg.ConfirmDelay())
	}
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config")
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte("api_url: http://localhost:8080\nws_url: ws://localhost:8080/ws\nconfirm_delay_ms: 10\nlog:\n  level: debug\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("EDUTALK_WS_URL", "ws://127.0.0.1:9000/ws")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIURL != "http://localhost:8080" {
		t.Fatalf("file value not applied: %q", cfg.APIURL)
	}
	if cfg.WSURL != "ws://127.0.0.1:9000/ws" {
		t.Fatalf("env override not applied: %q", cfg.WSURL)
	}
	if cfg.Log.Level != "debug" || cfg.ConfirmDelayMS != 10 {
		t.Fatalf("nested values not applied: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad api scheme", func(c *Config) { c.APIURL = "ftp://x" }},
		{"relative ws", func(c *Config) { c.WSURL = "/ws" }},
		{"unknown backend", func(c *Config) { c.SessionBackend = "memory" }},
		{"redis without addr", func(c *Config) { c.SessionBackend = "redis" }},
		{"negative delay", func(c *Config) { c.ConfirmDelayMS = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := Default()
	cfg.Redis.Addr = "localhost:6379"
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Redis.Addr != "localhost:6379" {
		t.Fatalf("redis addr lost: %+v", got.Redis)
	}
}
