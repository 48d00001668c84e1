// Atlaswire - Open Data Integration Framework for Live Geospatial Feeds
// Copyright 2026 The Atlaswire Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/atlaswire/atlaswire

// Package config loads and validates Atlaswire configuration.
//
// Configuration is resolved in three layers, later layers overriding
// earlier ones:
//
//  1. Built-in defaults
//  2. YAML config file (--config flag, ATLASWIRE_CONFIG env, or the default
//     search paths)
//  3. Environment variables with the ATLASWIRE_ prefix, using __ to nest
//     (ATLASWIRE_SERVER__PORT=9000 sets server.port)
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for an Atlaswire server process.
type Config struct {
	Server  ServerConfig              `koanf:"server"`
	Actors  ActorConfig               `koanf:"actors"`
	Store   StoreConfig               `koanf:"store"`
	Proxy   ProxyConfig               `koanf:"proxy"`
	Logging LoggingConfig             `koanf:"logging"`
	// Services carries per-service opaque options keyed by service name.
	// The framework does not interpret them; each service reads its own.
	Services map[string]map[string]any `koanf:"services"`
}

// ServerConfig configures the SPA server listener.
type ServerConfig struct {
	Host           string        `koanf:"host"`
	Port           int           `koanf:"port"`
	MetricsAddr    string        `koanf:"metrics_addr"`
	ReadTimeout    time.Duration `koanf:"read_timeout"`
	WriteTimeout   time.Duration `koanf:"write_timeout"`
	AllowedOrigins []string      `koanf:"allowed_origins"`
	TLSCert        string        `koanf:"tls_cert"`
	TLSKey         string        `koanf:"tls_key"`
}

// ActorConfig configures the actor runtime.
type ActorConfig struct {
	// DefaultMailbox is the bounded user-lane capacity used when a spawn
	// does not override it.
	DefaultMailbox int `koanf:"default_mailbox"`

	// ShutdownGrace is how long the system waits for actors to quiesce
	// after broadcasting terminate before force-dropping mailboxes.
	ShutdownGrace time.Duration `koanf:"shutdown_grace"`

	// SchedulerGranularity bounds how early the scheduler wakes to check
	// deadlines. Smaller values trade CPU for timer precision.
	SchedulerGranularity time.Duration `koanf:"scheduler_granularity"`
}

// StoreConfig configures shared-store persistence.
type StoreConfig struct {
	// Backend selects the persistence backend: "snapshot", "badger" or
	// "none".
	Backend string `koanf:"backend"`

	// Path is the snapshot file path or badger directory.
	Path string `koanf:"path"`

	// Debounce coalesces changes within the window into one flush.
	Debounce time.Duration `koanf:"debounce"`
}

// ProxyConfig configures upstream fetches for proxied routes.
type ProxyConfig struct {
	UpstreamTimeout time.Duration `koanf:"upstream_timeout"`

	// BreakerFailures is the consecutive-failure count that opens the
	// upstream circuit breaker.
	BreakerFailures uint32 `koanf:"breaker_failures"`

	// BreakerCooldown is how long an open breaker waits before probing.
	BreakerCooldown time.Duration `koanf:"breaker_cooldown"`

	// RateLimit is the per-client request limit on proxy routes, per minute.
	// Zero disables rate limiting.
	RateLimit int `koanf:"rate_limit"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values applied.
// These defaults are applied first, then overridden by file and env layers.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8420,
			MetricsAddr:    "127.0.0.1:9420",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		Actors: ActorConfig{
			DefaultMailbox:       256,
			ShutdownGrace:        10 * time.Second,
			SchedulerGranularity: 10 * time.Millisecond,
		},
		Store: StoreConfig{
			Backend:  "snapshot",
			Path:     "/data/atlaswire/store.bin",
			Debounce: 250 * time.Millisecond,
		},
		Proxy: ProxyConfig{
			UpstreamTimeout: 15 * time.Second,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
			RateLimit:       120,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Services: map[string]map[string]any{},
	}
}

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateActors(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	return c.validateProxy()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return fmt.Errorf("server.tls_cert and server.tls_key must be set together")
	}
	if len(c.Server.AllowedOrigins) == 0 {
		return fmt.Errorf("server.allowed_origins must not be empty")
	}
	return nil
}

func (c *Config) validateActors() error {
	if c.Actors.DefaultMailbox < 1 {
		return fmt.Errorf("actors.default_mailbox must be positive, got %d", c.Actors.DefaultMailbox)
	}
	if c.Actors.ShutdownGrace <= 0 {
		return fmt.Errorf("actors.shutdown_grace must be positive, got %s", c.Actors.ShutdownGrace)
	}
	if c.Actors.SchedulerGranularity <= 0 {
		return fmt.Errorf("actors.scheduler_granularity must be positive, got %s", c.Actors.SchedulerGranularity)
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case "snapshot", "badger":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for backend %q", c.Store.Backend)
		}
	case "none":
	default:
		return fmt.Errorf("store.backend must be snapshot, badger or none, got %q", c.Store.Backend)
	}
	if c.Store.Debounce < 0 {
		return fmt.Errorf("store.debounce must not be negative, got %s", c.Store.Debounce)
	}
	return nil
}

func (c *Config) validateProxy() error {
	if c.Proxy.UpstreamTimeout <= 0 {
		return fmt.Errorf("proxy.upstream_timeout must be positive, got %s", c.Proxy.UpstreamTimeout)
	}
	if c.Proxy.RateLimit < 0 {
		return fmt.Errorf("proxy.rate_limit must not be negative, got %d", c.Proxy.RateLimit)
	}
	return nil
}
