// Atlaswire - Open Data Integration Framework for Live Geospatial Feeds
// Copyright 2026 The Atlaswire Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/atlaswire/atlaswire

package services

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/atlaswire/atlaswire/internal/actor"
	"github.com/atlaswire/atlaswire/internal/spa"
	"github.com/atlaswire/atlaswire/internal/store"
)

// StatusPayload is the periodic runtime status broadcast.
type StatusPayload struct {
	Actors        int   `json:"actors"`
	Tracks        int   `json:"tracks"`
	Hotspots      int   `json:"hotspots"`
	UptimeSeconds int64 `json:"uptime_seconds"`
}

// Status broadcasts runtime health on a repeating scheduler tick. Start
// schedules a DataAvailable tick straight at the SPA server; the payload
// is computed lazily when the tick is consumed.
type Status struct {
	sys       *actor.System
	tracks    *actor.Handle[store.Msg[Track]]
	hotspots  *actor.Handle[store.Msg[[]Hotspot]]
	interval  time.Duration
	startedAt time.Time
}

func NewStatus(sys *actor.System, tracks *actor.Handle[store.Msg[Track]], hotspots *actor.Handle[store.Msg[[]Hotspot]], interval time.Duration) *Status {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Status{sys: sys, tracks: tracks, hotspots: hotspots, interval: interval, startedAt: time.Now()}
}

func (*Status) Name() string   { return "status" }
func (*Status) Deps() []string { return []string{"globe"} }

// Start arms the repeating tick toward the server.
func (s *Status) Start(server *actor.Handle[spa.Msg]) actor.Token {
	return actor.ScheduleRepeating(s.sys.Scheduler(), server,
		spa.Msg(spa.DataAvailable{Service: "status", Kind: "tick"}),
		s.interval, s.interval)
}

const statusJS = `import {on} from "/asset/globe/globe.js";
on("status","status",(p)=>window.dispatchEvent(new CustomEvent("status:update",{detail:p})));`

func (s *Status) AddComponents(b *spa.Builder) error {
	b.Asset("status.js", []byte(statusJS), "text/javascript")
	b.Module(b.AssetURL("status.js"))
	b.BodyHTML(`<div id="status-badge"></div>`)
	return nil
}

func (s *Status) InitConnection(_ *spa.Conn, send spa.SendFunc) error {
	return send("status", s.payload())
}

func (s *Status) HandleMessage(*spa.Conn, string, json.RawMessage) error { return nil }

func (s *Status) DataAvailable(kind string) (*spa.Broadcast, bool) {
	if kind != "tick" {
		return nil, false
	}
	return &spa.Broadcast{Name: "status", Payload: s.payload()}, true
}

func (s *Status) payload() StatusPayload {
	p := StatusPayload{
		Actors:        s.sys.Count(),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if s.tracks != nil {
		if items, err := store.Snapshot(ctx, s.tracks); err == nil {
			p.Tracks = len(items)
		}
	}
	if s.hotspots != nil {
		if items, err := store.Snapshot(ctx, s.hotspots); err == nil {
			p.Hotspots = len(items)
		}
	}
	return p
}
