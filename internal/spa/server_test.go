// Atlaswire - Open Data Integration Framework for Live Geospatial Feeds
// Copyright 2026 The Atlaswire Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/atlaswire/atlaswire

package spa

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/atlaswire/atlaswire/internal/actor"
	"github.com/atlaswire/atlaswire/internal/config"
)

func startTestServer(t *testing.T, comp *Composition) (*Server, *actor.Handle[Msg]) {
	t.Helper()
	sys := actor.NewSystem("spa-test-"+t.Name(), actor.Options{ShutdownGrace: 2 * time.Second})
	srv := NewServer(comp,
		config.ServerConfig{
			Host:           "127.0.0.1",
			Port:           0,
			ReadTimeout:    5 * time.Second,
			WriteTimeout:   5 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		config.ProxyConfig{
			UpstreamTimeout: 2 * time.Second,
			BreakerFailures: 3,
			BreakerCooldown: time.Minute,
		})
	h, err := actor.Spawn(sys, "spa-server", func() actor.Receiver[Msg] { return srv })
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Start(h); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		sys.Shutdown()
		_ = sys.ProcessRequests(context.Background())
	})
	return srv, h
}

func dialWS(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	url := "ws://" + srv.Addr().String() + "/ws"
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

func readFrame(t *testing.T, ws *websocket.Conn) Frame {
	t.Helper()
	if err := ws.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	var f Frame
	if err := ws.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func writeFrame(t *testing.T, ws *websocket.Conn, f Frame) {
	t.Helper()
	if err := ws.WriteJSON(f); err != nil {
		t.Fatal(err)
	}
}

func TestIndexAndAssets(t *testing.T) {
	svc := &testService{name: "globe", components: func(b *Builder) error {
		b.Asset("app.js", []byte("export {}"), "text/javascript")
		b.Module(b.AssetURL("app.js"))
		b.BodyHTML(`<canvas id="globe"></canvas>`)
		return nil
	}}
	comp, err := Compose([]Service{svc})
	if err != nil {
		t.Fatal(err)
	}
	srv, _ := startTestServer(t, comp)
	base := "http://" + srv.Addr().String()

	resp, err := http.Get(base + "/")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET / = %d", resp.StatusCode)
	}
	if want := "/asset/globe/app.js"; !bytes.Contains(body, []byte(want)) {
		t.Errorf("index page missing module reference %q:\n%s", want, body)
	}

	resp, err = http.Get(base + "/asset/globe/app.js")
	if err != nil {
		t.Fatal(err)
	}
	body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "export {}" {
		t.Fatalf("asset = %d %q", resp.StatusCode, body)
	}
	etag := resp.Header.Get("ETag")
	if etag == "" {
		t.Fatal("asset served without ETag")
	}

	req, _ := http.NewRequest(http.MethodGet, base+"/asset/globe/app.js", nil)
	req.Header.Set("If-None-Match", etag)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotModified {
		t.Errorf("conditional asset = %d, want 304", resp.StatusCode)
	}

	for _, path := range []string{"/asset/globe/missing.js", "/asset/nope/app.js"} {
		resp, err = http.Get(base + path)
		if err != nil {
			t.Fatal(err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestWebSocketRoundTrip(t *testing.T) {
	echo := &testService{name: "echo"}
	echo.handleFn = func(c *Conn, msgType string, payload json.RawMessage) error {
		return c.server.TrySend(SendWsMsg{ConnID: c.ID(), Service: "echo", Name: msgType + "_reply", Payload: payload})
	}
	comp, err := Compose([]Service{echo})
	if err != nil {
		t.Fatal(err)
	}
	srv, _ := startTestServer(t, comp)

	ws := dialWS(t, srv)

	f := readFrame(t, ws)
	if f.Service != "echo" || f.Type != "init_complete" {
		t.Fatalf("first frame = %+v, want echo init_complete", f)
	}

	writeFrame(t, ws, Frame{Service: "echo", Type: "ping", Payload: json.RawMessage(`{"n":1}`)})
	f = readFrame(t, ws)
	if f.Service != "echo" || f.Type != "ping_reply" || string(f.Payload) != `{"n":1}` {
		t.Errorf("reply frame = %+v", f)
	}
}

func TestInitDependencyOrderAndBroadcastGating(t *testing.T) {
	var ready atomic.Bool
	base := &testService{name: "base", initFn: func(_ *Conn, send SendFunc) error {
		return send("snapshot", map[string]int{"items": 2})
	}}
	late := &testService{name: "late", deps: []string{"base"}}
	late.initFn = func(_ *Conn, send SendFunc) error {
		if !ready.Load() {
			return ErrNotReady
		}
		return send("snapshot", map[string]int{"items": 7})
	}
	late.dataFn = func(kind string) (*Broadcast, bool) {
		return &Broadcast{Name: "update", Payload: map[string]string{"kind": kind}}, true
	}

	comp, err := Compose([]Service{late, base})
	if err != nil {
		t.Fatal(err)
	}
	srv, h := startTestServer(t, comp)
	ws := dialWS(t, srv)

	// base initializes; late defers on ErrNotReady.
	if f := readFrame(t, ws); f.Service != "base" || f.Type != "snapshot" {
		t.Fatalf("frame = %+v, want base snapshot", f)
	}
	if f := readFrame(t, ws); f.Service != "base" || f.Type != "init_complete" {
		t.Fatalf("frame = %+v, want base init_complete", f)
	}

	// A broadcast for the uninitialized service must be suppressed; the
	// probe to the initialized one arrives first.
	if err := h.TrySend(BroadcastWsMsg{Service: "late", Name: "update", Payload: "hidden"}); err != nil {
		t.Fatal(err)
	}
	if err := h.TrySend(BroadcastWsMsg{Service: "base", Name: "probe", Payload: "visible"}); err != nil {
		t.Fatal(err)
	}
	if f := readFrame(t, ws); f.Service != "base" || f.Type != "probe" {
		t.Fatalf("frame = %+v, want base probe (late broadcast must be gated)", f)
	}

	// Data arriving at the deferred service re-runs its init.
	ready.Store(true)
	if err := h.TrySend(DataAvailable{Service: "late", Kind: "tracks"}); err != nil {
		t.Fatal(err)
	}
	if f := readFrame(t, ws); f.Service != "late" || f.Type != "snapshot" {
		t.Fatalf("frame = %+v, want late snapshot", f)
	}
	if f := readFrame(t, ws); f.Service != "late" || f.Type != "init_complete" {
		t.Fatalf("frame = %+v, want late init_complete", f)
	}

	// Now initialized: broadcasts flow.
	if err := h.TrySend(DataAvailable{Service: "late", Kind: "tracks"}); err != nil {
		t.Fatal(err)
	}
	if f := readFrame(t, ws); f.Service != "late" || f.Type != "update" {
		t.Fatalf("frame = %+v, want late update", f)
	}
}

func TestMalformedFrameClosesConnection(t *testing.T) {
	comp, err := Compose([]Service{&testService{name: "a"}})
	if err != nil {
		t.Fatal(err)
	}
	srv, _ := startTestServer(t, comp)
	ws := dialWS(t, srv)

	if f := readFrame(t, ws); f.Type != "init_complete" {
		t.Fatalf("frame = %+v", f)
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}

	if err := ws.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	_, _, err = ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseUnsupportedData) {
		t.Errorf("read after malformed frame = %v, want close 1003", err)
	}
}

func TestUnknownServiceFrameIgnored(t *testing.T) {
	echo := &testService{name: "echo"}
	echo.handleFn = func(c *Conn, msgType string, payload json.RawMessage) error {
		return c.server.TrySend(SendWsMsg{ConnID: c.ID(), Service: "echo", Name: "pong", Payload: nil})
	}
	comp, err := Compose([]Service{echo})
	if err != nil {
		t.Fatal(err)
	}
	srv, _ := startTestServer(t, comp)
	ws := dialWS(t, srv)

	if f := readFrame(t, ws); f.Type != "init_complete" {
		t.Fatalf("frame = %+v", f)
	}

	// Well-formed frame for a nonexistent service: logged and dropped, the
	// connection stays usable.
	writeFrame(t, ws, Frame{Service: "ghost", Type: "anything"})
	writeFrame(t, ws, Frame{Service: "echo", Type: "ping"})
	if f := readFrame(t, ws); f.Service != "echo" || f.Type != "pong" {
		t.Errorf("frame = %+v, want echo pong", f)
	}
}

func TestProxyRewriteAndBreaker(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/hello" {
			w.Header().Set("Content-Type", "text/plain")
			fmt.Fprintf(w, "hello q=%s", r.URL.Query().Get("x"))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	svc := &testService{name: "hotspots", components: func(b *Builder) error {
		b.Proxy("tiles", upstream.URL)
		return nil
	}}
	comp, err := Compose([]Service{svc})
	if err != nil {
		t.Fatal(err)
	}
	srv, _ := startTestServer(t, comp)
	base := "http://" + srv.Addr().String()

	resp, err := http.Get(base + "/proxy/hotspots/tiles/hello?x=1")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "hello q=1" {
		t.Fatalf("proxied = %d %q", resp.StatusCode, body)
	}

	if resp, err := http.Get(base + "/proxy/hotspots/nomatch/x"); err == nil {
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("unmatched prefix = %d, want 404", resp.StatusCode)
		}
	}

	// Three consecutive upstream 5xx failures open the breaker; the next
	// request is rejected without reaching the upstream.
	for i := 0; i < 3; i++ {
		resp, err := http.Get(base + "/proxy/hotspots/tiles/boom")
		if err != nil {
			t.Fatal(err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusBadGateway {
			t.Fatalf("failing upstream = %d, want 502", resp.StatusCode)
		}
	}
	before := hits.Load()
	resp, err = http.Get(base + "/proxy/hotspots/tiles/boom")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("open breaker = %d, want 502", resp.StatusCode)
	}
	if hits.Load() != before {
		t.Errorf("open breaker still reached upstream (%d -> %d hits)", before, hits.Load())
	}
}
