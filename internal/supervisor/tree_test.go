// Atlaswire - Open Data Integration Framework for Live Geospatial Feeds
// Copyright 2026 The Atlaswire Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/atlaswire/atlaswire

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/atlaswire/atlaswire/internal/actor"
	"github.com/atlaswire/atlaswire/internal/logging"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

func TestSystemShutdownTerminatesTree(t *testing.T) {
	sys := actor.NewSystem("supervisor-test", actor.Options{ShutdownGrace: time.Second})
	tree := NewTree(logging.NewSlogger(), TreeConfig{})
	tree.AddRuntimeService(NewSystemService(sys))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	sys.Shutdown()

	select {
	case err := <-errCh:
		if !errors.Is(err, suture.ErrTerminateSupervisorTree) {
			t.Errorf("tree exit = %v, want ErrTerminateSupervisorTree", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not terminate after system shutdown")
	}
}

func TestMetricsServiceServesScrapeEndpoint(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	tree := NewTree(logging.NewSlogger(), TreeConfig{})
	tree.AddTelemetryService(NewMetricsService(addr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = tree.ServeBackground(ctx)

	var resp *http.Response
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err = http.Get(fmt.Sprintf("http://%s/metrics", addr))
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("metrics endpoint unreachable: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /metrics = %d", resp.StatusCode)
	}

	resp2, err := http.Get(fmt.Sprintf("http://%s/healthz", addr))
	if err != nil {
		t.Fatal(err)
	}
	_ = resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("GET /healthz = %d", resp2.StatusCode)
	}
}
