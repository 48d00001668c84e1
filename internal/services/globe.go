// Atlaswire - Open Data Integration Framework for Live Geospatial Feeds
// Copyright 2026 The Atlaswire Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/atlaswire/atlaswire

// Package services holds the built-in SPA services: the globe client
// shell, the aircraft track projection, the satellite fire-hotspot
// projection and the runtime status feed. External importers push data in
// through the actions each service exposes; the services project it into
// shared stores and out to connected clients.
package services

import (
	"github.com/goccy/go-json"

	"github.com/atlaswire/atlaswire/internal/spa"
)

const globeCSS = `html,body{margin:0;height:100%;background:#04070d;color:#cfd8e3;font:14px/1.4 system-ui,sans-serif}
#globe{position:fixed;inset:0}
#overlay{position:fixed;top:12px;left:12px;z-index:10}`

const globeJS = `const ws=new WebSocket((location.protocol==="https:"?"wss://":"ws://")+location.host+"/ws");
const handlers=new Map();
export function on(service,type,fn){handlers.set(service+"/"+type,fn);}
ws.addEventListener("message",(ev)=>{
  const f=JSON.parse(ev.data);
  const h=handlers.get(f.service+"/"+f.type);
  if(h)h(f.payload);
});
export function send(service,type,payload){ws.send(JSON.stringify({service,type,payload}));}`

// Globe is the base client shell every other visual service renders into.
// It has no server-side state and no dependencies.
type Globe struct{}

func NewGlobe() *Globe { return &Globe{} }

func (*Globe) Name() string   { return "globe" }
func (*Globe) Deps() []string { return nil }

func (*Globe) AddComponents(b *spa.Builder) error {
	b.Asset("globe.css", []byte(globeCSS), "text/css")
	b.Asset("globe.js", []byte(globeJS), "text/javascript")
	b.HeadHTML(`<link rel="stylesheet" href="` + b.AssetURL("globe.css") + `"/>`)
	b.BodyHTML(`<div id="globe"></div><div id="overlay"></div>`)
	b.Module(b.AssetURL("globe.js"))
	return nil
}

func (*Globe) InitConnection(*spa.Conn, spa.SendFunc) error { return nil }

func (*Globe) HandleMessage(*spa.Conn, string, json.RawMessage) error { return nil }

func (*Globe) DataAvailable(string) (*spa.Broadcast, bool) { return nil, false }
