// Atlaswire - Open Data Integration Framework for Live Geospatial Feeds
// Copyright 2026 The Atlaswire Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/atlaswire/atlaswire

package services

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/atlaswire/atlaswire/internal/actor"
	"github.com/atlaswire/atlaswire/internal/config"
	"github.com/atlaswire/atlaswire/internal/logging"
	"github.com/atlaswire/atlaswire/internal/spa"
	"github.com/atlaswire/atlaswire/internal/store"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

type stack struct {
	sys      *actor.System
	server   *spa.Server
	handle   *actor.Handle[spa.Msg]
	tracks   *Tracks
	hotspots *Hotspots
	status   *Status
}

func startStack(t *testing.T) *stack {
	t.Helper()
	sys := actor.NewSystem("services-test-"+t.Name(), actor.Options{
		ShutdownGrace:        2 * time.Second,
		SchedulerGranularity: 5 * time.Millisecond,
	})

	trackStore, err := actor.Spawn(sys, "store-tracks", store.New[Track]("tracks", "track", nil))
	if err != nil {
		t.Fatal(err)
	}
	hotspotStore, err := actor.Spawn(sys, "store-hotspots", store.New[[]Hotspot]("hotspots", "hotspots", nil))
	if err != nil {
		t.Fatal(err)
	}

	st := &stack{
		sys:      sys,
		tracks:   NewTracks(trackStore),
		hotspots: NewHotspots(hotspotStore, ""),
		status:   NewStatus(sys, trackStore, hotspotStore, 50*time.Millisecond),
	}

	comp, err := spa.Compose([]spa.Service{NewGlobe(), st.tracks, st.hotspots, st.status})
	if err != nil {
		t.Fatal(err)
	}
	st.server = spa.NewServer(comp,
		config.ServerConfig{
			Host:           "127.0.0.1",
			Port:           0,
			ReadTimeout:    5 * time.Second,
			WriteTimeout:   5 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		config.ProxyConfig{UpstreamTimeout: time.Second, BreakerFailures: 3, BreakerCooldown: time.Minute})

	st.handle, err = actor.Spawn(sys, "spa-server", func() actor.Receiver[spa.Msg] { return st.server })
	if err != nil {
		t.Fatal(err)
	}
	if err := st.server.Start(st.handle); err != nil {
		t.Fatal(err)
	}
	st.tracks.AttachServer(st.handle)
	st.hotspots.AttachServer(st.handle)

	t.Cleanup(func() {
		sys.Shutdown()
		_ = sys.ProcessRequests(context.Background())
	})
	return st
}

func (st *stack) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws://" + st.server.Addr().String() + "/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// waitFrame reads frames until one matches service/type, failing after the
// deadline. Interleaved frames from other services are skipped.
func waitFrame(t *testing.T, ws *websocket.Conn, service, msgType string) spa.Frame {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		if err := ws.SetReadDeadline(deadline); err != nil {
			t.Fatal(err)
		}
		var f spa.Frame
		if err := ws.ReadJSON(&f); err != nil {
			t.Fatalf("waiting for %s/%s: %v", service, msgType, err)
		}
		if f.Service == service && f.Type == msgType {
			return f
		}
	}
}

func TestTracksIngestBroadcast(t *testing.T) {
	st := startStack(t)
	ws := st.dial(t)

	waitFrame(t, ws, "tracks", "init_complete")

	update := TrackUpdate{
		ICAO:     "ABC123",
		Callsign: "TEST01",
		Position: Position{Lat: 48.1, Lon: 11.5, AltFt: 35000, Time: time.Now().UTC()},
	}
	if err := st.tracks.IngestAction().Execute(update); err != nil {
		t.Fatal(err)
	}

	f := waitFrame(t, ws, "tracks", "track_update")
	var got []TrackUpdate
	if err := json.Unmarshal(f.Payload, &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ICAO != "ABC123" || got[0].Callsign != "TEST01" {
		t.Errorf("broadcast payload = %+v", got)
	}
}

func TestTracksSubscribeArea(t *testing.T) {
	st := startStack(t)

	in := TrackUpdate{ICAO: "INSIDE", Position: Position{Lat: 10, Lon: 10, Time: time.Now().UTC()}}
	out := TrackUpdate{ICAO: "OUTSIDE", Position: Position{Lat: 60, Lon: 60, Time: time.Now().UTC()}}
	for _, u := range []TrackUpdate{in, out} {
		if err := st.tracks.IngestAction().Execute(u); err != nil {
			t.Fatal(err)
		}
	}

	ws := st.dial(t)
	waitFrame(t, ws, "tracks", "init_complete")

	box := BoundingBox{MinLat: 0, MaxLat: 20, MinLon: 0, MaxLon: 20}
	raw, _ := json.Marshal(box)
	if err := ws.WriteJSON(spa.Frame{Service: "tracks", Type: "subscribe_area", Payload: raw}); err != nil {
		t.Fatal(err)
	}

	f := waitFrame(t, ws, "tracks", "snapshot")
	var snap []Track
	if err := json.Unmarshal(f.Payload, &snap); err != nil {
		t.Fatal(err)
	}
	if len(snap) != 1 || snap[0].ICAO != "INSIDE" {
		t.Errorf("narrowed snapshot = %+v, want only INSIDE", snap)
	}
}

func TestTrackRingCapped(t *testing.T) {
	st := startStack(t)

	for i := 0; i < trackHistory+5; i++ {
		u := TrackUpdate{ICAO: "RING01", Position: Position{Lat: float64(i), Lon: 0, Time: time.Now().UTC()}}
		if err := st.tracks.IngestAction().Execute(u); err != nil {
			t.Fatal(err)
		}
	}

	handle, ok := actor.LookupHandle[store.Msg[Track]](st.sys, "store-tracks")
	if !ok {
		t.Fatal("track store not registered")
	}
	items, err := store.Snapshot(context.Background(), handle)
	if err != nil {
		t.Fatal(err)
	}
	tr := items["tracks.RING01"].Value
	if len(tr.Positions) != trackHistory {
		t.Fatalf("ring length = %d, want %d", len(tr.Positions), trackHistory)
	}
	// Oldest entries fell off the front.
	if tr.Positions[0].Lat != 5 {
		t.Errorf("oldest retained position lat = %v, want 5", tr.Positions[0].Lat)
	}
}

func TestHotspotsDeferredUntilData(t *testing.T) {
	st := startStack(t)
	ws := st.dial(t)

	// Everything except hotspots initializes; hotspots has no data yet.
	waitFrame(t, ws, "status", "init_complete")

	batch := []Hotspot{
		{Granule: "G1", Lat: -8.4, Lon: 142.1, Brightness: 330, FRP: 12.5, Acquired: time.Now().UTC()},
		{Granule: "G1", Lat: -8.5, Lon: 142.2, Brightness: 341, FRP: 20.1, Acquired: time.Now().UTC()},
	}
	if err := st.hotspots.IngestAction().Execute(batch); err != nil {
		t.Fatal(err)
	}

	// Data arrival completes the deferred init: snapshot then ack.
	f := waitFrame(t, ws, "hotspots", "snapshot")
	var snap map[string][]Hotspot
	if err := json.Unmarshal(f.Payload, &snap); err != nil {
		t.Fatal(err)
	}
	if len(snap["G1"]) != 2 {
		t.Errorf("snapshot granule G1 = %d spots, want 2", len(snap["G1"]))
	}
	waitFrame(t, ws, "hotspots", "init_complete")

	// Now initialized: further batches broadcast.
	more := []Hotspot{{Granule: "G2", Lat: 1, Lon: 2, Acquired: time.Now().UTC()}}
	if err := st.hotspots.IngestAction().Execute(more); err != nil {
		t.Fatal(err)
	}
	f = waitFrame(t, ws, "hotspots", "hotspots")
	var update map[string][]Hotspot
	if err := json.Unmarshal(f.Payload, &update); err != nil {
		t.Fatal(err)
	}
	if len(update["G2"]) != 1 {
		t.Errorf("broadcast = %+v, want granule G2", update)
	}
}

func TestStatusTickBroadcast(t *testing.T) {
	st := startStack(t)
	token := st.status.Start(st.handle)
	defer st.sys.Scheduler().Cancel(token)

	ws := st.dial(t)
	waitFrame(t, ws, "status", "init_complete")

	f := waitFrame(t, ws, "status", "status")
	var payload StatusPayload
	if err := json.Unmarshal(f.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Actors < 3 {
		t.Errorf("status actors = %d, want at least stores + server", payload.Actors)
	}
}
