// Atlaswire - Open Data Integration Framework for Live Geospatial Feeds
// Copyright 2026 The Atlaswire Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/atlaswire/atlaswire

package spa

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/atlaswire/atlaswire/internal/actor"
	"github.com/atlaswire/atlaswire/internal/config"
	"github.com/atlaswire/atlaswire/internal/logging"
	"github.com/atlaswire/atlaswire/internal/metrics"
)

// Msg is the server actor's message set.
type Msg interface{ spaMsg() }

// SendWsMsg pushes one frame to a single connection.
type SendWsMsg struct {
	ConnID  uuid.UUID
	Service string
	Name    string
	Payload any
}

// BroadcastWsMsg pushes one frame to every connection that completed the
// owning service's init handshake.
type BroadcastWsMsg struct {
	Service string
	Name    string
	Payload any
}

// DataAvailable tells the server that new data of some kind reached a
// service. The service may map it to a broadcast, and connections whose
// init was deferred on that service get another init attempt.
type DataAvailable struct {
	Service string
	Kind    string
}

type connOpened struct{ conn *Conn }
type connClosed struct{ id uuid.UUID }
type inboundFrame struct {
	conn  *Conn
	frame Frame
}

func (SendWsMsg) spaMsg()      {}
func (BroadcastWsMsg) spaMsg() {}
func (DataAvailable) spaMsg()  {}
func (connOpened) spaMsg()     {}
func (connClosed) spaMsg()     {}
func (inboundFrame) spaMsg()   {}

// Server is the SPA server actor. It owns the connection table, drives the
// per-connection init chain in dependency order, and fans broadcasts out
// to initialized connections. The HTTP side (router, listener, pumps) only
// ever talks to the actor through its handle.
type Server struct {
	comp     *Composition
	srvCfg   config.ServerConfig
	proxyCfg config.ProxyConfig

	handle *actor.Handle[Msg]
	conns  map[uuid.UUID]*Conn

	httpSrv  *http.Server
	ln       net.Listener
	stopping atomic.Bool

	upgrader websocket.Upgrader
	proxy    *upstreamProxy

	// unknownSvc throttles logging for frames addressed to services that
	// do not exist; a misbehaving client must not flood the log.
	unknownSvc *rate.Limiter
}

// NewServer builds the server actor state around a finished composition.
func NewServer(comp *Composition, srvCfg config.ServerConfig, proxyCfg config.ProxyConfig) *Server {
	s := &Server{
		comp:       comp,
		srvCfg:     srvCfg,
		proxyCfg:   proxyCfg,
		conns:      make(map[uuid.UUID]*Conn),
		proxy:      newUpstreamProxy(proxyCfg),
		unknownSvc: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.originAllowed,
	}
	return s
}

// Start binds the listener and begins serving HTTP. The handle must be the
// one returned by spawning this server; it is what the pumps and route
// handlers use to reach the actor. Port 0 binds an ephemeral port,
// retrievable through Addr.
func (s *Server) Start(h *actor.Handle[Msg]) error {
	s.handle = h

	addr := fmt.Sprintf("%s:%d", s.srvCfg.Host, s.srvCfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("spa listen %s: %w", addr, err)
	}
	s.ln = ln

	s.httpSrv = &http.Server{
		Handler:      s.router(),
		ReadTimeout:  s.srvCfg.ReadTimeout,
		WriteTimeout: s.srvCfg.WriteTimeout,
	}

	go func() {
		var serveErr error
		if s.srvCfg.TLSCert != "" {
			serveErr = s.httpSrv.ServeTLS(ln, s.srvCfg.TLSCert, s.srvCfg.TLSKey)
		} else {
			serveErr = s.httpSrv.Serve(ln)
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logging.Error().Err(serveErr).Msg("spa http server stopped")
		}
	}()

	logging.Info().Str("addr", ln.Addr().String()).Int("services", len(s.comp.Services())).Msg("spa server listening")
	return nil
}

// Addr returns the bound listener address, nil before Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// OnStop drains the HTTP side: new requests get 503, open sockets get a
// going-away close, then the listener shuts down.
func (s *Server) OnStop() {
	s.stopping.Store(true)
	for _, c := range s.conns {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			logging.Warn().Err(err).Msg("spa http shutdown incomplete")
		}
	}
}

// Receive is the actor loop body. All connection-table and init-state
// mutation happens here, single-threaded.
func (s *Server) Receive(_ context.Context, msg Msg) actor.Directive {
	switch m := msg.(type) {
	case connOpened:
		s.conns[m.conn.id] = m.conn
		metrics.WSConnections.Inc()
		logging.Debug().Str("conn", m.conn.id.String()).Str("principal", m.conn.principal).Msg("connection opened")
		s.runInits(m.conn)

	case connClosed:
		if c, ok := s.conns[m.id]; ok {
			delete(s.conns, m.id)
			metrics.WSConnections.Dec()
			c.closeWith(websocket.CloseNormalClosure, "")
			logging.Debug().Str("conn", m.id.String()).Msg("connection closed")
		}

	case inboundFrame:
		s.handleInbound(m.conn, m.frame)

	case SendWsMsg:
		if c, ok := s.conns[m.ConnID]; ok {
			s.push(c, m.Service, m.Name, m.Payload)
		}

	case BroadcastWsMsg:
		s.broadcast(m.Service, m.Name, m.Payload)

	case DataAvailable:
		s.dataAvailable(m)
	}
	return actor.Continue()
}

func (s *Server) handleInbound(c *Conn, f Frame) {
	if _, ok := s.conns[c.id]; !ok {
		// Frame raced a disconnect; drop it.
		return
	}
	svc, ok := s.comp.Lookup(f.Service)
	if !ok {
		metrics.WSProtocolErrors.Inc()
		if s.unknownSvc.Allow() {
			logging.Debug().Str("conn", c.id.String()).Str("service", f.Service).Msg("frame for unknown service")
		}
		return
	}
	if err := svc.HandleMessage(c, f.Type, f.Payload); err != nil {
		logging.Warn().Err(err).
			Str("conn", c.id.String()).
			Str("service", f.Service).
			Str("type", f.Type).
			Msg("service message handler failed")
	}
}

// runInits walks services in dependency order and initializes every one
// whose deps are satisfied on this connection. ErrNotReady defers the
// service (and transitively its dependents) until its next DataAvailable.
func (s *Server) runInits(c *Conn) {
	for _, svc := range s.comp.Services() {
		name := svc.Name()
		if c.initialized[name] || !s.depsInitialized(c, svc) {
			continue
		}

		send := func(msgType string, payload any) error {
			f, err := marshalFrame(name, msgType, payload)
			if err != nil {
				return fmt.Errorf("service %s init payload: %w", name, err)
			}
			c.enqueue(f)
			return nil
		}

		err := svc.InitConnection(c, send)
		switch {
		case err == nil:
			c.initialized[name] = true
			s.push(c, name, "init_complete", nil)
		case errors.Is(err, ErrNotReady):
			logging.Debug().Str("conn", c.id.String()).Str("service", name).Msg("init deferred, service not ready")
		default:
			logging.Error().Err(err).Str("conn", c.id.String()).Str("service", name).Msg("connection init failed")
			c.closeWith(websocket.CloseInternalServerErr, "init failed")
			return
		}
	}
}

func (s *Server) depsInitialized(c *Conn, svc Service) bool {
	for _, dep := range svc.Deps() {
		if !c.initialized[dep] {
			return false
		}
	}
	return true
}

func (s *Server) dataAvailable(m DataAvailable) {
	svc, ok := s.comp.Lookup(m.Service)
	if !ok {
		logging.Warn().Str("service", m.Service).Msg("data available for unknown service")
		return
	}

	if b, ok := svc.DataAvailable(m.Kind); ok && b != nil {
		s.broadcast(m.Service, b.Name, b.Payload)
	}

	// Connections whose init deferred on this service get another pass.
	for _, c := range s.conns {
		if !c.initialized[m.Service] {
			s.runInits(c)
		}
	}
}

func (s *Server) broadcast(service, name string, payload any) {
	f, err := marshalFrame(service, name, payload)
	if err != nil {
		logging.Error().Err(err).Str("service", service).Str("type", name).Msg("broadcast payload not serializable")
		return
	}
	metrics.WSBroadcasts.WithLabelValues(service).Inc()
	for _, c := range s.conns {
		if c.initialized[service] {
			c.enqueue(f)
		}
	}
}

func (s *Server) push(c *Conn, service, name string, payload any) {
	f, err := marshalFrame(service, name, payload)
	if err != nil {
		logging.Error().Err(err).Str("service", service).Str("type", name).Msg("frame payload not serializable")
		return
	}
	c.enqueue(f)
}

// router assembles the HTTP surface: the synthesized index page, the
// per-service asset and proxy namespaces, and the WebSocket endpoint.
func (s *Server) router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.shutdownGuard)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.srvCfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/", s.handleIndex)
	r.Get("/asset/{service}/*", s.handleAsset)

	r.Group(func(r chi.Router) {
		if s.proxyCfg.RateLimit > 0 {
			r.Use(httprate.LimitByIP(s.proxyCfg.RateLimit, time.Minute))
		}
		r.HandleFunc("/proxy/{service}/*", s.handleProxy)
	})

	r.Get("/ws", s.handleWS)

	return r
}

// shutdownGuard rejects requests once teardown has begun.
func (s *Server) shutdownGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.stopping.Load() {
			http.Error(w, "server shutting down", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	body := s.comp.HTML()
	etag := etagFor(body)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("ETag", etag)
	_, _ = w.Write(body)
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	path := chi.URLParam(r, "*")
	entry, ok := s.comp.Asset(service, path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if r.Header.Get("If-None-Match") == entry.ETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", entry.ContentType)
	w.Header().Set("ETag", entry.ETag)
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(entry.Body)
}

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	path := chi.URLParam(r, "*")
	if _, ok := s.comp.Lookup(service); !ok {
		http.NotFound(w, r)
		return
	}
	rule, rest, ok := s.comp.Proxy(service, path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.proxy.serve(w, r, service, rule, rest)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	principal, _, _ := r.BasicAuth()
	c := newConn(sock, principal, s.handle)

	if err := s.handle.Send(r.Context(), connOpened{conn: c}); err != nil {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		return
	}
	c.start()
}

func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.srvCfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
