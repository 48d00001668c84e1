// Atlaswire - Open Data Integration Framework for Live Geospatial Feeds
// Copyright 2026 The Atlaswire Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/atlaswire/atlaswire

package spa

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/sony/gobreaker/v2"

	"github.com/atlaswire/atlaswire/internal/config"
	"github.com/atlaswire/atlaswire/internal/logging"
	"github.com/atlaswire/atlaswire/internal/metrics"
)

// hop-by-hop headers are stripped in both directions.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

type proxyResponse struct {
	status int
	header http.Header
	body   []byte
}

// upstreamProxy fetches proxied routes from their upstream base URLs. Each
// service gets its own circuit breaker so one failing upstream cannot take
// the others' routes down with it.
type upstreamProxy struct {
	cfg    config.ProxyConfig
	client *http.Client

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[proxyResponse]
}

func newUpstreamProxy(cfg config.ProxyConfig) *upstreamProxy {
	return &upstreamProxy{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.UpstreamTimeout},
		breakers: make(map[string]*gobreaker.CircuitBreaker[proxyResponse]),
	}
}

func (p *upstreamProxy) breaker(service string) *gobreaker.CircuitBreaker[proxyResponse] {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cb, ok := p.breakers[service]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[proxyResponse](gobreaker.Settings{
		Name:    "proxy-" + service,
		Timeout: p.cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= p.cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("proxy breaker state changed")
		},
	})
	p.breakers[service] = cb
	return cb
}

// serve rewrites the matched prefix to the upstream base, passes the path
// remainder and query through unchanged, and relays the upstream response.
// Upstream failures and an open breaker both surface as 502.
func (p *upstreamProxy) serve(w http.ResponseWriter, r *http.Request, service string, rule ProxyRule, rest string) {
	target := rule.Upstream
	if rest != "" {
		target += "/" + rest
	}
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	resp, err := p.breaker(service).Execute(func() (proxyResponse, error) {
		return p.fetch(r, target)
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			outcome = "open"
		}
		metrics.ProxyUpstream.WithLabelValues(service, outcome).Inc()
		logging.Warn().Err(err).Str("service", service).Str("upstream", target).Msg("proxy upstream failed")
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}

	metrics.ProxyUpstream.WithLabelValues(service, "ok").Inc()
	header := w.Header()
	for k, vs := range resp.header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	w.WriteHeader(resp.status)
	_, _ = w.Write(resp.body)
}

func (p *upstreamProxy) fetch(r *http.Request, target string) (proxyResponse, error) {
	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, nil)
	if err != nil {
		return proxyResponse{}, fmt.Errorf("build upstream request: %w", err)
	}
	copyHeaders(req.Header, r.Header)

	resp, err := p.client.Do(req)
	if err != nil {
		return proxyResponse{}, fmt.Errorf("upstream fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return proxyResponse{}, fmt.Errorf("upstream body: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		// 5xx counts against the breaker; 4xx is the client's problem.
		return proxyResponse{}, fmt.Errorf("upstream status %d", resp.StatusCode)
	}

	out := proxyResponse{status: resp.StatusCode, header: make(http.Header), body: body}
	copyHeaders(out.header, resp.Header)
	return out, nil
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
	dst.Del("Host")
}
