// Atlaswire - Open Data Integration Framework for Live Geospatial Feeds
// Copyright 2026 The Atlaswire Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/atlaswire/atlaswire

// Package metrics provides Prometheus instrumentation for the actor runtime,
// the SPA server, and the shared store:
//   - Mailbox pressure and drops
//   - Actor lifecycle (restarts, panics)
//   - Scheduler coalescing
//   - WebSocket connections, broadcasts and frame drops
//   - Store flushes and proxy upstream outcomes
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Actor runtime metrics

	MailboxDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actor_mailbox_dropped_total",
			Help: "Total messages rejected by a full bounded mailbox on try-send",
		},
		[]string{"actor"},
	)

	ActorRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actor_restarts_total",
			Help: "Total actor restarts (explicit restart directive or panic policy)",
		},
		[]string{"actor"},
	)

	ActorPanics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actor_panics_total",
			Help: "Total panics captured in actor message handlers",
		},
		[]string{"actor"},
	)

	ActorsLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "actors_live",
			Help: "Current number of registered actors",
		},
	)

	// Scheduler metrics

	SchedulerCoalescedFires = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_coalesced_fires_total",
			Help: "Repeating-timer intervals collapsed into a single fire",
		},
	)

	SchedulerDroppedFires = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_dropped_fires_total",
			Help: "Scheduled messages dropped at fire time (receiver gone or mailbox full)",
		},
	)

	// WebSocket metrics

	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections",
			Help: "Current number of open WebSocket connections",
		},
	)

	WSBroadcasts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_broadcasts_total",
			Help: "Total broadcast frames fanned out, by owning service",
		},
		[]string{"service"},
	)

	WSFramesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_frames_dropped_total",
			Help: "Frames dropped because a connection send buffer was full",
		},
	)

	WSProtocolErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_protocol_errors_total",
			Help: "Malformed frames and unknown-service frames received",
		},
	)

	// Shared store metrics

	StoreFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_flushes_total",
			Help: "Total persistence flushes, by backend",
		},
		[]string{"backend"},
	)

	StoreItems = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "store_items",
			Help: "Current number of items held per store",
		},
		[]string{"store"},
	)

	// Proxy metrics

	ProxyUpstream = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_upstream_total",
			Help: "Upstream proxy fetches by service and outcome (ok, error, open)",
		},
		[]string{"service", "outcome"},
	)
)
