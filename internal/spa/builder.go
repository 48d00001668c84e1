// Atlaswire - Open Data Integration Framework for Live Geospatial Feeds
// Copyright 2026 The Atlaswire Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/atlaswire/atlaswire

package spa

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// BuiltAsset is one static asset declared by a service.
type BuiltAsset struct {
	Path        string // public path below /asset/{service}/
	Body        []byte
	ContentType string
}

// ProxyRule maps a public path prefix below /proxy/{service}/ to an
// upstream base URL. The matched prefix is swapped for the upstream base;
// the remainder of the path and the query string pass through unchanged.
type ProxyRule struct {
	Prefix   string
	Upstream string
}

// Builder collects one service's component declarations during
// composition. Services call its methods from AddComponents; errors are
// deferred and surfaced by Compose.
type Builder struct {
	service string
	assets  []BuiltAsset
	proxies []ProxyRule
	head    []string
	body    []string
	modules []string
	err     error
}

func newBuilder(service string) *Builder {
	return &Builder{service: service}
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Asset registers a static asset under /asset/{service}/{path}.
func (b *Builder) Asset(path string, body []byte, contentType string) {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		b.fail(fmt.Errorf("service %s: empty asset path", b.service))
		return
	}
	b.assets = append(b.assets, BuiltAsset{Path: path, Body: body, ContentType: contentType})
}

// Proxy registers an upstream proxied under /proxy/{service}/{prefix}/.
func (b *Builder) Proxy(prefix, upstream string) {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" || upstream == "" {
		b.fail(fmt.Errorf("service %s: proxy needs prefix and upstream", b.service))
		return
	}
	b.proxies = append(b.proxies, ProxyRule{Prefix: prefix, Upstream: strings.TrimSuffix(upstream, "/")})
}

// HeadHTML appends a fragment to the synthesized page's <head>.
func (b *Builder) HeadHTML(fragment string) {
	b.head = append(b.head, fragment)
}

// BodyHTML appends a fragment to the synthesized page's <body>.
func (b *Builder) BodyHTML(fragment string) {
	b.body = append(b.body, fragment)
}

// Module registers a client-side module by its public URL. Modules are
// referenced from the synthesized page in dependency order, deduplicated
// by path preserving first occurrence.
func (b *Builder) Module(path string) {
	if path == "" {
		b.fail(fmt.Errorf("service %s: empty module path", b.service))
		return
	}
	b.modules = append(b.modules, path)
}

// AssetURL returns the public URL of one of this service's assets.
func (b *Builder) AssetURL(path string) string {
	return "/asset/" + b.service + "/" + strings.TrimPrefix(path, "/")
}

// etagFor computes the strong ETag served for a static asset.
func etagFor(body []byte) string {
	h := fnv.New64a()
	_, _ = h.Write(body)
	return fmt.Sprintf(`"%x"`, h.Sum64())
}
