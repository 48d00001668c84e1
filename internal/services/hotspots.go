// Atlaswire - Open Data Integration Framework for Live Geospatial Feeds
// Copyright 2026 The Atlaswire Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/atlaswire/atlaswire

package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/atlaswire/atlaswire/internal/actor"
	"github.com/atlaswire/atlaswire/internal/spa"
	"github.com/atlaswire/atlaswire/internal/store"
)

// Hotspot is one satellite fire detection.
type Hotspot struct {
	Granule    string    `json:"granule"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	Brightness float64   `json:"brightness"`
	FRP        float64   `json:"frp"`
	Satellite  string    `json:"satellite,omitempty"`
	Acquired   time.Time `json:"acquired"`
}

// Hotspots projects satellite fire detections, grouped by acquisition
// granule, into the shared store under "hotspots.{granule}" and out to
// clients. Until the first granule lands, connection init defers.
type Hotspots struct {
	store         *actor.Handle[store.Msg[[]Hotspot]]
	server        *actor.Handle[spa.Msg]
	tilesUpstream string

	mu      sync.Mutex
	pending map[string][]Hotspot
}

// NewHotspots builds the service. tilesUpstream, when non-empty, is the
// imagery tile server proxied under /proxy/hotspots/tiles/.
func NewHotspots(storeH *actor.Handle[store.Msg[[]Hotspot]], tilesUpstream string) *Hotspots {
	return &Hotspots{store: storeH, tilesUpstream: tilesUpstream, pending: make(map[string][]Hotspot)}
}

// AttachServer wires the SPA server handle.
func (h *Hotspots) AttachServer(srv *actor.Handle[spa.Msg]) { h.server = srv }

func (*Hotspots) Name() string   { return "hotspots" }
func (*Hotspots) Deps() []string { return []string{"globe"} }

const hotspotsJS = `import {on} from "/asset/globe/globe.js";
on("hotspots","snapshot",(p)=>window.dispatchEvent(new CustomEvent("hotspots:snapshot",{detail:p})));
on("hotspots","hotspots",(p)=>window.dispatchEvent(new CustomEvent("hotspots:update",{detail:p})));`

func (h *Hotspots) AddComponents(b *spa.Builder) error {
	b.Asset("hotspots.js", []byte(hotspotsJS), "text/javascript")
	b.Module(b.AssetURL("hotspots.js"))
	if h.tilesUpstream != "" {
		b.Proxy("tiles", h.tilesUpstream)
	}
	return nil
}

// IngestAction is the importer-facing entry point: a batch of detections,
// possibly spanning granules. Safe for concurrent callers.
func (h *Hotspots) IngestAction() actor.Action[[]Hotspot] {
	return actor.Bind("hotspots", h.ingest)
}

func (h *Hotspots) ingest(batch []Hotspot) error {
	if len(batch) == 0 {
		return nil
	}
	byGranule := make(map[string][]Hotspot)
	for _, spot := range batch {
		if spot.Granule == "" {
			return fmt.Errorf("hotspot without granule")
		}
		byGranule[spot.Granule] = append(byGranule[spot.Granule], spot)
	}

	h.mu.Lock()
	for granule, spots := range byGranule {
		h.pending[granule] = append(h.pending[granule], spots...)
	}
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for granule, spots := range byGranule {
		if err := store.Put(ctx, h.store, "hotspots."+granule, spots, "hotspots"); err != nil {
			return fmt.Errorf("store granule %s: %w", granule, err)
		}
	}

	if h.server != nil {
		_ = h.server.TrySend(spa.DataAvailable{Service: "hotspots", Kind: "hotspots"})
	}
	return nil
}

// InitConnection sends the current granule set, deferring while the store
// is still empty.
func (h *Hotspots) InitConnection(_ *spa.Conn, send spa.SendFunc) error {
	snap, err := h.snapshotGranules()
	if err != nil {
		return err
	}
	if len(snap) == 0 {
		return spa.ErrNotReady
	}
	return send("snapshot", snap)
}

func (h *Hotspots) HandleMessage(_ *spa.Conn, msgType string, _ json.RawMessage) error {
	return fmt.Errorf("unknown hotspots message %q", msgType)
}

func (h *Hotspots) DataAvailable(kind string) (*spa.Broadcast, bool) {
	if kind != "hotspots" {
		return nil, false
	}
	h.mu.Lock()
	updates := h.pending
	h.pending = make(map[string][]Hotspot)
	h.mu.Unlock()
	if len(updates) == 0 {
		return nil, false
	}
	return &spa.Broadcast{Name: "hotspots", Payload: updates}, true
}

func (h *Hotspots) snapshotGranules() (map[string][]Hotspot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	items, err := store.Snapshot(ctx, h.store)
	if err != nil {
		return nil, fmt.Errorf("hotspots snapshot: %w", err)
	}
	out := make(map[string][]Hotspot, len(items))
	for key, item := range items {
		spots := item.Value
		if len(spots) == 0 {
			continue
		}
		sort.Slice(spots, func(i, j int) bool { return spots[i].Acquired.Before(spots[j].Acquired) })
		out[strings.TrimPrefix(key, "hotspots.")] = spots
	}
	return out, nil
}
