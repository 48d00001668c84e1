// Atlaswire - Open Data Integration Framework for Live Geospatial Feeds
// Copyright 2026 The Atlaswire Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/atlaswire/atlaswire

// Package spa implements the single-page-application server: an actor that
// aggregates an ordered list of services into one HTTP + WebSocket surface.
//
// Each service contributes routes (static assets, proxied upstreams), HTML
// head/body fragments, client-side modules and WebSocket handlers. The
// server composes them in dependency order, multiplexes per-connection
// state, and pushes live updates to every connection that has completed a
// service's init handshake.
package spa

import (
	"errors"

	"github.com/goccy/go-json"
)

// ErrNotReady is returned by InitConnection when a service has no data to
// initialize a connection with yet. The server retries on the service's
// next DataAvailable.
var ErrNotReady = errors.New("service not ready")

// SendFunc emits one frame to the connection being initialized. The frame
// is stamped with the initializing service's name.
type SendFunc func(msgType string, payload any) error

// Broadcast is a frame addressed to every connection initialized for the
// originating service.
type Broadcast struct {
	Name    string
	Payload any
}

// Service is a composable unit of the SPA server.
//
// Name must be unique within a server and a valid URI path component; it
// prefixes the service's WebSocket channel and asset/proxy routes. Deps
// lists names of services whose per-connection init must complete before
// this service's init runs.
type Service interface {
	Name() string
	Deps() []string

	// AddComponents declares the service's static assets, proxied
	// upstreams, HTML fragments and client modules on the builder.
	AddComponents(b *Builder) error

	// InitConnection emits the service's initial payloads for a new (or
	// late-initialized) connection. Returning nil acknowledges init
	// completion; ErrNotReady defers until data is available.
	InitConnection(conn *Conn, send SendFunc) error

	// HandleMessage processes one inbound frame addressed to this service.
	HandleMessage(conn *Conn, msgType string, payload json.RawMessage) error

	// DataAvailable maps an importer-side data kind to an optional
	// broadcast for initialized connections.
	DataAvailable(kind string) (*Broadcast, bool)
}
