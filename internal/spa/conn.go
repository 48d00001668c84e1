// Atlaswire - Open Data Integration Framework for Live Geospatial Feeds
// Copyright 2026 The Atlaswire Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/atlaswire/atlaswire

package spa

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/atlaswire/atlaswire/internal/actor"
	"github.com/atlaswire/atlaswire/internal/logging"
	"github.com/atlaswire/atlaswire/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024 // 512 KB
	sendBuffer     = 256
)

// Frame is the WebSocket wire format. Every message carries the owning
// service name, a message kind, and an opaque JSON payload.
type Frame struct {
	Service string          `json:"service"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Conn is the per-socket state of one SPA client connection, alive from
// upgrade to disconnect.
//
// The initialized set is owned by the server actor and only touched from
// its goroutine. Everything services need to stash per-connection goes
// through the attrs map, which is safe from any goroutine.
type Conn struct {
	id        uuid.UUID
	principal string
	sock      *websocket.Conn
	server    *actor.Handle[Msg]

	send      chan Frame
	done      chan struct{}
	closeOnce sync.Once

	// initialized grows monotonically until disconnect; server actor only.
	initialized map[string]bool

	attrs sync.Map
}

func newConn(sock *websocket.Conn, principal string, server *actor.Handle[Msg]) *Conn {
	return &Conn{
		id:          uuid.New(),
		principal:   principal,
		sock:        sock,
		server:      server,
		send:        make(chan Frame, sendBuffer),
		done:        make(chan struct{}),
		initialized: make(map[string]bool),
	}
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() uuid.UUID { return c.id }

// Principal returns the opaque authenticated principal, empty when
// unauthenticated.
func (c *Conn) Principal() string { return c.principal }

// SetAttr stores per-connection service state under key.
func (c *Conn) SetAttr(key string, value any) { c.attrs.Store(key, value) }

// Attr retrieves per-connection service state.
func (c *Conn) Attr(key string) (any, bool) { return c.attrs.Load(key) }

// Initialized reports whether the named service completed init for this
// connection. Server actor goroutine only.
func (c *Conn) Initialized(service string) bool { return c.initialized[service] }

// enqueue hands a frame to the write pump without blocking. Overflow
// drops the frame; importers overwhelming a slow client must not stall
// the server actor.
func (c *Conn) enqueue(f Frame) bool {
	select {
	case c.send <- f:
		return true
	case <-c.done:
		return false
	default:
		metrics.WSFramesDropped.Inc()
		logging.Debug().Str("conn", c.id.String()).Str("service", f.Service).Msg("send buffer full, frame dropped")
		return false
	}
}

// closeWith sends a close frame and tears the socket down. Idempotent.
func (c *Conn) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(writeWait)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.sock.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = c.sock.Close()
	})
}

// start launches the read and write pumps.
func (c *Conn) start() {
	go c.writePump()
	go c.readPump()
}

// readPump parses inbound frames and forwards them to the server actor.
// Malformed JSON closes the connection with 1003; routing of well-formed
// frames is the server's job.
func (c *Conn) readPump() {
	defer func() {
		_ = c.server.TrySend(connClosed{id: c.id})
		c.closeWith(websocket.CloseNormalClosure, "")
	}()

	c.sock.SetReadLimit(maxMessageSize)
	if err := c.sock.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logging.Debug().Err(err).Str("conn", c.id.String()).Msg("websocket read ended")
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			metrics.WSProtocolErrors.Inc()
			logging.Debug().Err(err).Str("conn", c.id.String()).Msg("malformed frame, closing")
			c.closeWith(websocket.CloseUnsupportedData, "malformed frame")
			return
		}

		if err := c.server.Send(context.Background(), inboundFrame{conn: c, frame: frame}); err != nil {
			// Server actor gone: shutdown in progress.
			return
		}
	}
}

// writePump drains the send buffer onto the socket and keeps the
// connection alive with pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeWith(websocket.CloseNormalClosure, "")
	}()

	for {
		select {
		case <-c.done:
			return

		case frame := <-c.send:
			if err := c.sock.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if err := c.sock.WriteJSON(frame); err != nil {
				logging.Debug().Err(err).Str("conn", c.id.String()).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			if err := c.sock.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// marshalFrame builds an outbound frame, encoding the payload once.
func marshalFrame(service, msgType string, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Service: service, Type: msgType, Payload: raw}, nil
}
