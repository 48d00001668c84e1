// Atlaswire - Open Data Integration Framework for Live Geospatial Feeds
// Copyright 2026 The Atlaswire Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/atlaswire/atlaswire

// Package main is the entry point for the Atlaswire server.
//
// Atlaswire serves live geospatial feeds (aircraft tracks, satellite fire
// hotspots) through a composed single-page application. The server boots
// in this order:
//
//  1. Configuration: defaults, YAML file, ATLASWIRE_* environment (koanf)
//  2. Logging: zerolog global logger
//  3. Actor system: registry, scheduler, shutdown cascade
//  4. Shared stores: per-feed stores with the configured persistence backend
//  5. Services: globe shell, tracks, hotspots, status
//  6. SPA server: composed routes, WebSocket endpoint
//  7. Supervisor tree: actor system runner + metrics listener (suture)
//
// Graceful shutdown runs on SIGINT/SIGTERM: terminate is broadcast to all
// actors, stores flush, and open sockets get a going-away close.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/atlaswire/atlaswire/internal/actor"
	"github.com/atlaswire/atlaswire/internal/config"
	"github.com/atlaswire/atlaswire/internal/logging"
	"github.com/atlaswire/atlaswire/internal/services"
	"github.com/atlaswire/atlaswire/internal/spa"
	"github.com/atlaswire/atlaswire/internal/store"
	"github.com/atlaswire/atlaswire/internal/supervisor"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to config file (overrides "+config.ConfigPathEnvVar+")")
		logLevel   = flag.String("log", "", "log level override (trace, debug, info, warn, error)")
		version    = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Println("atlaswire", Version)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})
	logging.Info().Str("version", Version).Msg("atlaswire starting")

	sys := actor.NewSystem("atlaswire", actor.Options{
		DefaultMailbox:       cfg.Actors.DefaultMailbox,
		ShutdownGrace:        cfg.Actors.ShutdownGrace,
		SchedulerGranularity: cfg.Actors.SchedulerGranularity,
	})

	trackBackend, err := newBackend[services.Track](cfg.Store, "tracks")
	if err != nil {
		return err
	}
	hotspotBackend, err := newBackend[[]services.Hotspot](cfg.Store, "hotspots")
	if err != nil {
		return err
	}

	trackStore, err := actor.Spawn(sys, "store-tracks", store.New[services.Track]("tracks", "track", trackBackend))
	if err != nil {
		return fmt.Errorf("spawn track store: %w", err)
	}
	hotspotStore, err := actor.Spawn(sys, "store-hotspots", store.New[[]services.Hotspot]("hotspots", "hotspots", hotspotBackend))
	if err != nil {
		return fmt.Errorf("spawn hotspot store: %w", err)
	}

	tracks := services.NewTracks(trackStore)
	hotspots := services.NewHotspots(hotspotStore, serviceOption(cfg, "hotspots", "tiles_upstream"))
	status := services.NewStatus(sys, trackStore, hotspotStore, statusInterval(cfg))

	comp, err := spa.Compose([]spa.Service{services.NewGlobe(), tracks, hotspots, status})
	if err != nil {
		return fmt.Errorf("compose services: %w", err)
	}

	server := spa.NewServer(comp, cfg.Server, cfg.Proxy)
	serverHandle, err := actor.Spawn(sys, "spa-server", func() actor.Receiver[spa.Msg] { return server })
	if err != nil {
		return fmt.Errorf("spawn spa server: %w", err)
	}
	if err := server.Start(serverHandle); err != nil {
		return err
	}
	tracks.AttachServer(serverHandle)
	hotspots.AttachServer(serverHandle)
	status.Start(serverHandle)

	tree := supervisor.NewTree(logging.NewSlogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Actors.ShutdownGrace,
	})
	tree.AddRuntimeService(supervisor.NewSystemService(sys))
	if cfg.Server.MetricsAddr != "" {
		tree.AddTelemetryService(supervisor.NewMetricsService(cfg.Server.MetricsAddr))
	}

	err = tree.Serve(context.Background())
	if err != nil && !errors.Is(err, suture.ErrTerminateSupervisorTree) {
		return err
	}
	logging.Info().Msg("atlaswire stopped")
	return nil
}

// newBackend builds the configured persistence backend for one named
// store. Snapshot stores share the configured path's directory, one file
// per store; badger stores get one database directory per store.
func newBackend[V any](cfg config.StoreConfig, name string) (store.Backend[V], error) {
	switch cfg.Backend {
	case "none":
		return store.NullBackend[V]{}, nil
	case "snapshot":
		path := filepath.Join(filepath.Dir(cfg.Path), name+".bin")
		return store.NewSnapshotBackend[V](path, cfg.Debounce), nil
	case "badger":
		dir := filepath.Join(filepath.Dir(cfg.Path), name+".badger")
		b, err := store.NewBadgerBackend[V](dir)
		if err != nil {
			return nil, fmt.Errorf("open badger backend %s: %w", dir, err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// serviceOption reads one string option from the per-service config map.
func serviceOption(cfg *config.Config, service, key string) string {
	opts, ok := cfg.Services[service]
	if !ok {
		return ""
	}
	v, ok := opts[key].(string)
	if !ok {
		return ""
	}
	return v
}

func statusInterval(cfg *config.Config) time.Duration {
	opts, ok := cfg.Services["status"]
	if !ok {
		return 0
	}
	switch v := opts["interval"].(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			logging.Warn().Str("interval", v).Msg("invalid status interval, using default")
			return 0
		}
		return d
	case int:
		return time.Duration(v) * time.Second
	}
	return 0
}
