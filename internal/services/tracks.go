// Atlaswire - Open Data Integration Framework for Live Geospatial Feeds
// Copyright 2026 The Atlaswire Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/atlaswire/atlaswire

package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/atlaswire/atlaswire/internal/actor"
	"github.com/atlaswire/atlaswire/internal/spa"
	"github.com/atlaswire/atlaswire/internal/store"
)

// trackHistory caps the per-aircraft position ring.
const trackHistory = 30

const trackAreaAttr = "tracks.area"

// Position is one observed aircraft position.
type Position struct {
	Lat     float64   `json:"lat"`
	Lon     float64   `json:"lon"`
	AltFt   float64   `json:"alt_ft"`
	Heading float64   `json:"heading"`
	SpeedKt float64   `json:"speed_kt"`
	Time    time.Time `json:"time"`
}

// TrackUpdate is what importers feed in: one position report for one
// airframe.
type TrackUpdate struct {
	ICAO     string `json:"icao"`
	Callsign string `json:"callsign,omitempty"`
	Position
}

// Track is the projected state per airframe: its last positions, oldest
// first.
type Track struct {
	ICAO      string     `json:"icao"`
	Callsign  string     `json:"callsign,omitempty"`
	Positions []Position `json:"positions"`
}

// BoundingBox narrows a connection's track snapshot to an area.
type BoundingBox struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
}

func (b BoundingBox) contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// Tracks projects aircraft position reports into the shared store and out
// to clients. Importers push through IngestAction; rings are kept locally
// and mirrored into the store under "tracks.{icao}" so they survive
// restarts and are visible to snapshot readers.
type Tracks struct {
	store  *actor.Handle[store.Msg[Track]]
	server *actor.Handle[spa.Msg]

	mu      sync.Mutex
	rings   map[string]Track
	pending []TrackUpdate
}

func NewTracks(storeH *actor.Handle[store.Msg[Track]]) *Tracks {
	return &Tracks{store: storeH, rings: make(map[string]Track)}
}

// AttachServer wires the SPA server handle; must be called before the
// first ingest reaches clients.
func (t *Tracks) AttachServer(h *actor.Handle[spa.Msg]) { t.server = h }

func (*Tracks) Name() string   { return "tracks" }
func (*Tracks) Deps() []string { return []string{"globe"} }

const tracksJS = `import {on,send} from "/asset/globe/globe.js";
on("tracks","snapshot",(p)=>window.dispatchEvent(new CustomEvent("tracks:snapshot",{detail:p})));
on("tracks","track_update",(p)=>window.dispatchEvent(new CustomEvent("tracks:update",{detail:p})));
export function subscribeArea(box){send("tracks","subscribe_area",box);}`

func (t *Tracks) AddComponents(b *spa.Builder) error {
	b.Asset("tracks.js", []byte(tracksJS), "text/javascript")
	b.Module(b.AssetURL("tracks.js"))
	return nil
}

// IngestAction is the importer-facing entry point. Safe for concurrent
// callers.
func (t *Tracks) IngestAction() actor.Action[TrackUpdate] {
	return actor.Bind("tracks", t.ingest)
}

func (t *Tracks) ingest(u TrackUpdate) error {
	if u.ICAO == "" {
		return fmt.Errorf("track update without icao")
	}

	t.mu.Lock()
	tr := t.rings[u.ICAO]
	tr.ICAO = u.ICAO
	if u.Callsign != "" {
		tr.Callsign = u.Callsign
	}
	tr.Positions = append(tr.Positions, u.Position)
	if len(tr.Positions) > trackHistory {
		tr.Positions = tr.Positions[len(tr.Positions)-trackHistory:]
	}
	t.rings[u.ICAO] = tr
	t.pending = append(t.pending, u)
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := store.Put(ctx, t.store, "tracks."+u.ICAO, tr, "tracks"); err != nil {
		return fmt.Errorf("store track %s: %w", u.ICAO, err)
	}

	if t.server != nil {
		// Best effort: a full server mailbox only delays the broadcast, the
		// next ingest will trigger it again.
		_ = t.server.TrySend(spa.DataAvailable{Service: "tracks", Kind: "track"})
	}
	return nil
}

func (t *Tracks) InitConnection(c *spa.Conn, send spa.SendFunc) error {
	snap, err := t.snapshotTracks(connArea(c))
	if err != nil {
		return err
	}
	return send("snapshot", snap)
}

func (t *Tracks) HandleMessage(c *spa.Conn, msgType string, payload json.RawMessage) error {
	if msgType != "subscribe_area" {
		return fmt.Errorf("unknown tracks message %q", msgType)
	}
	var box BoundingBox
	if err := json.Unmarshal(payload, &box); err != nil {
		return fmt.Errorf("subscribe_area payload: %w", err)
	}
	if box.MinLat > box.MaxLat || box.MinLon > box.MaxLon {
		return fmt.Errorf("subscribe_area box is inverted")
	}
	c.SetAttr(trackAreaAttr, box)

	snap, err := t.snapshotTracks(&box)
	if err != nil {
		return err
	}
	if t.server != nil {
		return t.server.TrySend(spa.SendWsMsg{ConnID: c.ID(), Service: "tracks", Name: "snapshot", Payload: snap})
	}
	return nil
}

// DataAvailable drains pending updates into one broadcast. Area filtering
// happens client-side; the box only narrows snapshots.
func (t *Tracks) DataAvailable(kind string) (*spa.Broadcast, bool) {
	if kind != "track" {
		return nil, false
	}
	t.mu.Lock()
	updates := t.pending
	t.pending = nil
	t.mu.Unlock()
	if len(updates) == 0 {
		return nil, false
	}
	return &spa.Broadcast{Name: "track_update", Payload: updates}, true
}

func (t *Tracks) snapshotTracks(box *BoundingBox) ([]Track, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	items, err := store.Snapshot(ctx, t.store)
	if err != nil {
		return nil, fmt.Errorf("tracks snapshot: %w", err)
	}

	out := make([]Track, 0, len(items))
	for _, item := range items {
		tr := item.Value
		if box != nil && len(tr.Positions) > 0 {
			last := tr.Positions[len(tr.Positions)-1]
			if !box.contains(last.Lat, last.Lon) {
				continue
			}
		}
		out = append(out, tr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ICAO < out[j].ICAO })
	return out, nil
}

func connArea(c *spa.Conn) *BoundingBox {
	v, ok := c.Attr(trackAreaAttr)
	if !ok {
		return nil
	}
	box, ok := v.(BoundingBox)
	if !ok {
		return nil
	}
	return &box
}
