// Atlaswire - Open Data Integration Framework for Live Geospatial Feeds
// Copyright 2026 The Atlaswire Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/atlaswire/atlaswire

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }},
		{"tls cert without key", func(c *Config) { c.Server.TLSCert = "/tls/cert.pem" }},
		{"empty origins", func(c *Config) { c.Server.AllowedOrigins = nil }},
		{"zero mailbox", func(c *Config) { c.Actors.DefaultMailbox = 0 }},
		{"zero grace", func(c *Config) { c.Actors.ShutdownGrace = 0 }},
		{"zero granularity", func(c *Config) { c.Actors.SchedulerGranularity = 0 }},
		{"unknown backend", func(c *Config) { c.Store.Backend = "etcd" }},
		{"snapshot without path", func(c *Config) { c.Store.Path = "" }},
		{"negative debounce", func(c *Config) { c.Store.Debounce = -time.Second }},
		{"zero upstream timeout", func(c *Config) { c.Proxy.UpstreamTimeout = 0 }},
		{"negative rate limit", func(c *Config) { c.Proxy.RateLimit = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestStoreBackendNoneNeedsNoPath(t *testing.T) {
	cfg := defaultConfig()
	cfg.Store.Backend = "none"
	cfg.Store.Path = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("backend none must not require a path: %v", err)
	}
}

func TestLoadLayering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9001
store:
  backend: none
  debounce: 100ms
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ATLASWIRE_SERVER__PORT", "9002")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Env overrides file
	if cfg.Server.Port != 9002 {
		t.Errorf("port = %d, want env override 9002", cfg.Server.Port)
	}
	// File overrides defaults
	if cfg.Store.Backend != "none" {
		t.Errorf("backend = %q, want none from file", cfg.Store.Backend)
	}
	if cfg.Store.Debounce != 100*time.Millisecond {
		t.Errorf("debounce = %s, want 100ms from file", cfg.Store.Debounce)
	}
	// Defaults survive where unset
	if cfg.Actors.DefaultMailbox != 256 {
		t.Errorf("default_mailbox = %d, want default 256", cfg.Actors.DefaultMailbox)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load("/nonexistent/atlaswire.yaml"); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct{ in, want string }{
		{"ATLASWIRE_SERVER__PORT", "server.port"},
		{"ATLASWIRE_ACTORS__DEFAULT_MAILBOX", "actors.default_mailbox"},
		{"ATLASWIRE_STORE__BACKEND", "store.backend"},
	}
	for _, tt := range tests {
		if got := envTransform(tt.in); got != tt.want {
			t.Errorf("envTransform(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
